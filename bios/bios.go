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

// Package bios is the thin, simulated stand-in for the BIOS virtual
// machine the scheduler core is specified against: per-core interrupt
// masking, a one-shot timer that raises ALARM, inter-core interrupts
// (ICI), halt/restart of cores, and the context-switching primitives
// threads use to hand control to one another.
//
// There is no real hardware underneath. Each simulated "context" is a
// goroutine parked on a channel; InitContext starts it, SwapContext
// hands control to it and blocks the caller until control is handed
// back. This preserves the synchronous, single-active-thread-per-core
// semantics the scheduler depends on without requiring raw stack
// manipulation, which Go does not expose.
package bios

import (
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
)

// Kind enumerates the interrupt sources the scheduler installs
// handlers for.
type Kind int

const (
	KindICI Kind = iota
	KindAlarm
	KindSerialRxReady
	KindSerialTxReady
)

// Context is an opaque saved execution context for one thread. The
// core treats it as a primitive; callers never inspect its fields.
type Context struct {
	resume chan struct{}
}

// NewContext allocates a context that has not yet been started.
func NewContext() *Context {
	return &Context{resume: make(chan struct{})}
}

// EntryFunc is the function a context runs once scheduled for the
// first time.
type EntryFunc func()

// Core is the per-core surface the scheduler drives. Implementations
// must be safe for the scheduler's single calling goroutine per core;
// cross-core calls (ICI, RestartOneCore) go through VM.
type Core interface {
	ID() int

	// DisableInterrupts masks this core's interrupts and returns the
	// previous mask state. EnableInterrupts unmasks them, synchronously
	// delivering any interrupt that arrived while masked.
	DisableInterrupts() (prev bool)
	EnableInterrupts()

	// SetTimer arms a one-shot timer; expiry raises ALARM. CancelTimer
	// disarms it and returns the remaining duration (zero if it had
	// already fired or was never armed).
	SetTimer(d time.Duration)
	CancelTimer() time.Duration

	// Halt parks the calling goroutine until this core is restarted via
	// ICI, RestartOneCore, or RestartAllCores.
	Halt()

	// SetInterruptHandler installs the handler invoked when an
	// interrupt of the given kind is delivered to this core.
	SetInterruptHandler(kind Kind, handler func())
}

// InitContext prepares ctx to run entry the first time it is scheduled
// via SwapContext. Context switching has no per-core state of its own
// in the spec (it is a BIOS-wide primitive), so unlike the rest of the
// Core surface it is not a Core method.
func InitContext(ctx *Context, entry EntryFunc) {
	go func() {
		<-ctx.resume
		entry()
	}()
}

// SwapContext hands control to newCtx and blocks the calling goroutine
// until control is handed back to oldCtx by some future SwapContext
// call. oldCtx must be the context of the goroutine calling SwapContext.
func SwapContext(oldCtx, newCtx *Context) {
	newCtx.resume <- struct{}{}
	<-oldCtx.resume
}

// VM is the whole simulated machine: a fixed set of cores sharing a
// monotonic clock.
type VM interface {
	Clock() time.Time
	NumCores() int
	Core(id int) Core
	ICI(core int)
	RestartOneCore(core int)
	RestartAllCores()
}

// NewSimVM constructs a VM with n simulated cores.
func NewSimVM(n int, clock timeutil.Clock) VM {
	v := &simVM{clock: clock, cores: make([]*simCore, n)}
	for i := range v.cores {
		v.cores[i] = newSimCore(i, v)
	}
	return v
}

type simVM struct {
	clock timeutil.Clock
	cores []*simCore
}

func (v *simVM) Clock() time.Time  { return v.clock.Now() }
func (v *simVM) NumCores() int     { return len(v.cores) }
func (v *simVM) Core(id int) Core  { return v.cores[id] }

func (v *simVM) ICI(core int) {
	v.cores[core].deliver(KindICI)
}

func (v *simVM) RestartOneCore(core int) {
	v.cores[core].restart()
}

func (v *simVM) RestartAllCores() {
	for _, c := range v.cores {
		c.restart()
	}
}

type simCore struct {
	id int
	vm *simVM

	mu       sync.Mutex
	disabled bool
	pending  map[Kind]bool
	handlers map[Kind]func()

	timer   *time.Timer
	timerAt time.Time
	timerOn bool

	haltCh chan struct{}
}

func newSimCore(id int, vm *simVM) *simCore {
	return &simCore{
		id:       id,
		vm:       vm,
		pending:  make(map[Kind]bool),
		handlers: make(map[Kind]func()),
		haltCh:   make(chan struct{}, 1),
	}
}

func (c *simCore) ID() int { return c.id }

func (c *simCore) DisableInterrupts() (prev bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.disabled
	c.disabled = true
	return
}

func (c *simCore) EnableInterrupts() {
	c.mu.Lock()
	c.disabled = false
	var fire []func()
	for k, p := range c.pending {
		if p {
			delete(c.pending, k)
			if h := c.handlers[k]; h != nil {
				fire = append(fire, h)
			}
		}
	}
	c.mu.Unlock()

	for _, h := range fire {
		h()
	}
}

func (c *simCore) SetInterruptHandler(kind Kind, handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = handler
}

func (c *simCore) deliver(kind Kind) {
	c.mu.Lock()
	disabled := c.disabled
	if disabled {
		c.pending[kind] = true
		c.mu.Unlock()
		return
	}
	handler := c.handlers[kind]
	c.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (c *simCore) SetTimer(d time.Duration) {
	c.CancelTimer()

	c.mu.Lock()
	c.timerAt = time.Now().Add(d)
	c.timerOn = true
	c.timer = time.AfterFunc(d, func() { c.deliver(KindAlarm) })
	c.mu.Unlock()
}

func (c *simCore) CancelTimer() (remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.timerOn {
		return 0
	}
	c.timerOn = false
	if c.timer != nil {
		c.timer.Stop()
	}
	remaining = c.timerAt.Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (c *simCore) Halt() {
	<-c.haltCh
}

func (c *simCore) restart() {
	select {
	case c.haltCh <- struct{}{}:
	default:
	}
}
