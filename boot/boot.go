// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package boot assembles the kernel singletons (scheduler, VFS, driver
// registry, metrics) and runs the per-core scheduler loops, per spec
// §4.1's "Initial bootstrap": core 0 performs process/device/FS/
// scheduler init, then every core enters run_scheduler(). §9 further
// asks that driver registration be an explicit step invoked from here
// rather than a static initializer.
package boot

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jacobsa/timeutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tinyos/tinyos3/bios"
	"github.com/tinyos/tinyos3/devfs"
	"github.com/tinyos/tinyos3/memfs"
	"github.com/tinyos/tinyos3/metrics"
	"github.com/tinyos/tinyos3/proc"
	"github.com/tinyos/tinyos3/sched"
	"github.com/tinyos/tinyos3/vfs"
)

// Config bundles every boot-time parameter SPEC_FULL.md's config layer
// (viper-bound cobra/pflag flags) resolves before calling Run.
type Config struct {
	NumCores     int
	Quantum      time.Duration
	MaxOpenFiles int64
	DevfsDevices []string // device names pre-published into devfs at boot
}

// Kernel holds every singleton boot constructs: the scheduler, the
// root VFS, the driver registry, and the metrics collectors, plus the
// root PCB every spawned thread's process ultimately descends from.
type Kernel struct {
	Config Config
	Log    *logrus.Entry

	Scheduler *sched.Scheduler
	VFS       *vfs.VFS
	Registry  *vfs.Registry
	Devfs     *devfs.Driver
	Metrics   *metrics.Collectors
	Root      *proc.PCB

	vm bios.VM
}

// New performs the init half of §4.1's bootstrap: registers drivers
// (the explicit step §9 asks for in place of static REGISTER_FSYS),
// mounts the root filesystem, constructs the scheduler and metrics,
// and builds the root process. It does not start any core; call Run
// for that.
func New(cfg Config, log *logrus.Entry, reg prometheus.Registerer) (*Kernel, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	registry := vfs.NewRegistry()
	registry.Register(memfs.NewDriver())
	devDriver := devfs.NewDriver()
	registry.Register(devDriver)
	log.Debug("drivers registered: memfs, devfs")

	rootVFS, err := vfs.New(registry, "memfs", "", nil, cfg.MaxOpenFiles)
	if err != nil {
		return nil, errors.Wrap(err, "mount root filesystem")
	}

	collectors := metrics.New(reg)
	rootVFS.SetRecorder(collectors)
	collectors.WatchMounts(reg, rootVFS.Table)

	clock := timeutil.RealClock()
	vm := bios.NewSimVM(cfg.NumCores, clock)
	scheduler := sched.New(vm, clock, sched.Config{NumCores: cfg.NumCores, Quantum: cfg.Quantum}, log, collectors)

	rootHandle, err := rootVFS.RootHandle()
	if err != nil {
		return nil, errors.Wrap(err, "pin root handle")
	}
	rootPCB := proc.New(0, rootVFS, rootHandle, rootHandle, scheduler)

	devMount, err := mountDevfs(rootVFS, rootHandle)
	if err != nil {
		return nil, errors.Wrap(err, "mount devfs")
	}
	devState := devMount.State()
	for _, name := range cfg.DevfsDevices {
		if _, err := devDriver.Publish(devState, name); err != nil {
			return nil, errors.Wrapf(err, "publish device %q", name)
		}
	}
	log.WithField("devices", cfg.DevfsDevices).Debug("devfs populated")

	return &Kernel{
		Config:    cfg,
		Log:       log,
		Scheduler: scheduler,
		VFS:       rootVFS,
		Registry:  registry,
		Devfs:     devDriver,
		Metrics:   collectors,
		Root:      rootPCB,
		vm:        vm,
	}, nil
}

// mountDevfs creates /dev under root and mounts devfs on it, returning
// the resulting Mount so boot can reach the driver's opaque state to
// pre-publish configured device names.
func mountDevfs(v *vfs.VFS, root *vfs.Handle) (*vfs.Mount, error) {
	if err := v.Mkdir(root, root, "/dev"); err != nil {
		return nil, err
	}
	mountPoint, err := v.Chdir(root, root, "/dev")
	if err != nil {
		return nil, err
	}
	return v.Mount("devfs", "", nil, mountPoint)
}

// Run starts every core's idle thread. Each core's Scheduler.Run call
// only returns once that core's idle loop observes NumActive() reach
// zero (spec §4.1's idle-thread exit) and has no way to be interrupted
// early, so Run itself returns once ctx is canceled without waiting
// for the per-core goroutines to unwind — the caller's process exit is
// expected to reclaim them. Grounded on the teacher's single
// connection-serving goroutine in server.go, generalized from one
// goroutine to one errgroup-supervised goroutine per core.
func (k *Kernel) Run(ctx context.Context) error {
	var g errgroup.Group

	for core := 0; core < k.Config.NumCores; core++ {
		core := core
		g.Go(func() error {
			k.Log.WithField("core", core).Debug("core entering run_scheduler")
			k.Scheduler.Run(core)
			k.Log.WithField("core", core).Debug("core idle thread torn down")
			return nil
		})
	}

	<-ctx.Done()
	return ctx.Err()
}

// Shutdown unmounts every non-root filesystem, aggregating any
// failures via go-multierror rather than stopping at the first one
// (spec §9's "recursive unmount purge" extended across every mount,
// not just one subtree). The root filesystem itself is left mounted:
// tearing it down requires unpinning the root PCB's own root/cwd
// handles first, which is the process subsystem's job and out of
// scope per §1.
func (k *Kernel) Shutdown() error {
	var result *multierror.Error
	// Walk lists parents before their submounts; unmounting in reverse
	// order takes every submount down before the mount it sits on. The
	// first entry is the root mount itself, which is skipped.
	var mounts []*vfs.Mount
	k.VFS.Table.Walk(func(m *vfs.Mount) { mounts = append(mounts, m) })
	for i := len(mounts) - 1; i > 0; i-- {
		if err := k.VFS.Umount(mounts[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
