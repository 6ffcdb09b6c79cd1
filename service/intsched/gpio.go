//    Copyright 2026 The Periferia Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package intsched

import "sync/atomic"

// GPIOSubscription delivers pin edge events onto the loop.
//
// Bursts of edges arriving before the loop runs collapse into a single
// callback invocation; the callback is expected to read the current pin
// state itself.
type GPIOSubscription struct {
	sched   *Scheduler
	state   recState
	pending int32
	cb      func()
	disable func()
}

// GPIOInit registers a pin edge subscription. cb runs on the loop for each
// coalesced burst of edges. disable, if not nil, is called from Stop to
// shut the underlying event source before the subscription is torn down.
func (s *Scheduler) GPIOInit(cb func(), disable func()) *GPIOSubscription {
	g := &GPIOSubscription{
		sched:   s,
		cb:      cb,
		disable: disable,
	}
	g.state.ref() // owner reference, dropped by Stop
	return g
}

// Trigger records an edge. Safe to call from any goroutine. Edges raised
// while a delivery is already queued coalesce into it.
func (g *GPIOSubscription) Trigger() {
	if !atomic.CompareAndSwapInt32(&g.pending, 0, 1) {
		recordsCoalescedTotal.WithLabelValues("gpio").Inc()
		return
	}
	if !g.state.ref() {
		atomic.StoreInt32(&g.pending, 0)
		recordsDroppedTotal.WithLabelValues("gpio").Inc()
		return
	}
	recordsQueuedTotal.WithLabelValues("gpio").Inc()
	g.sched.loop.Wakeup(g)
}

// Dispatch implements mainloop.Message. It runs on the loop goroutine.
func (g *GPIOSubscription) Dispatch() {
	atomic.StoreInt32(&g.pending, 0)
	if !g.state.deleted() {
		g.cb()
	}
	g.state.unref()
}

// Stop disables the event source and drops the owner reference. Events
// already queued are discarded without running the callback.
func (g *GPIOSubscription) Stop() {
	if g.disable != nil {
		g.disable()
	}
	g.state.markDeleted()
	g.state.unref()
}
