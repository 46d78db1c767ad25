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

// Package metrics exposes scheduler and VFS counters as Prometheus
// collectors (SPEC_FULL.md §A "Metrics"), the way
// GoogleCloudPlatform-gcsfuse instruments its mount daemon: context
// switches, ready-queue depth, handle-cache pin hit/miss, and mount
// count.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinyos/tinyos3/sched"
	"github.com/tinyos/tinyos3/vfs"
)

// Collectors implements both sched.Recorder and vfs.Recorder over one
// set of Prometheus metrics, registered under a single namespace.
type Collectors struct {
	contextSwitches *prometheus.CounterVec
	wakeups         *prometheus.CounterVec
	readyDepth      prometheus.Gauge
	threadsSpawned  prometheus.Counter
	threadsExited   prometheus.Counter
	pinHits         prometheus.Counter
	pinMisses       prometheus.Counter
}

// New registers every collector with reg (pass prometheus.DefaultRegisterer
// unless the caller wants an isolated registry, e.g. in a test).
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		contextSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "sched",
			Name:      "context_switches_total",
			Help:      "Context switches, labeled by preemption cause.",
		}, []string{"cause"}),
		wakeups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "sched",
			Name:      "wakeups_total",
			Help:      "Thread wakeups, labeled by wake cause.",
		}, []string{"cause"}),
		readyDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tinyos",
			Subsystem: "sched",
			Name:      "ready_queue_depth",
			Help:      "Number of threads currently on the ready queue.",
		}),
		threadsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "sched",
			Name:      "threads_spawned_total",
			Help:      "Threads spawned since boot.",
		}),
		threadsExited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "sched",
			Name:      "threads_exited_total",
			Help:      "Threads exited since boot.",
		}),
		pinHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "vfs",
			Name:      "handle_cache_pin_hits_total",
			Help:      "pin() calls resolved from the handle cache without consulting the driver.",
		}),
		pinMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tinyos",
			Subsystem: "vfs",
			Name:      "handle_cache_pin_misses_total",
			Help:      "pin() calls that had to allocate a fresh handle and call the driver's Pin.",
		}),
	}
}

// WatchMounts registers a gauge that polls table.Count() on every
// scrape, avoiding the need for vfs to push mount/unmount events
// through a recorder.
func (c *Collectors) WatchMounts(reg prometheus.Registerer, table *vfs.MountTable) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tinyos",
		Subsystem: "vfs",
		Name:      "mounts",
		Help:      "Number of currently active mounts.",
	}, func() float64 { return float64(table.Count()) })
}

func (c *Collectors) ContextSwitch(cause sched.Cause) {
	c.contextSwitches.WithLabelValues(cause.String()).Inc()
}

func (c *Collectors) Wakeup(cause sched.Cause) {
	c.wakeups.WithLabelValues(cause.String()).Inc()
}

func (c *Collectors) ReadyDepth(n int) { c.readyDepth.Set(float64(n)) }

func (c *Collectors) ThreadSpawned() { c.threadsSpawned.Inc() }
func (c *Collectors) ThreadExited()  { c.threadsExited.Inc() }

func (c *Collectors) PinHit()  { c.pinHits.Inc() }
func (c *Collectors) PinMiss() { c.pinMisses.Inc() }
