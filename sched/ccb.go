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

package sched

import "sync/atomic"

// CCB is the per-core control block (spec §3.1).
type CCB struct {
	id int

	current *TCB
	prev    *TCB
	idle    *TCB

	preemptionEnabled bool

	// halted records whether this core's idle thread is currently
	// parked in bios.Core.Halt, so wakeup can target a core that is
	// actually asleep (spec §4.1 "signal one halted core to restart").
	halted atomic.Bool

	// preemptRequested is set by the ALARM handler and cleared by the
	// next Checkpoint call on this core. See scheduler.go's Checkpoint
	// doc comment for why this simulation's preemption is cooperative.
	preemptRequested atomic.Bool
}

// ID returns the core id.
func (c *CCB) ID() int { return c.id }

// Current returns the thread currently running on this core.
func (c *CCB) Current() *TCB { return c.current }

// PreemptionEnabled reports the core's preemption flag. Only
// Scheduler.SetPreemption may change it, and only with CPU interrupts
// disabled (spec §3.1 invariant).
func (c *CCB) PreemptionEnabled() bool { return c.preemptionEnabled }
