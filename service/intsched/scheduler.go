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

// Package intsched transports events raised in driver callback context
// (the Go equivalent of ISR context) onto the main loop, where the
// registered user callback runs.
//
// Every subscription carries a refcount and a deleted flag packed into one
// atomic word. A subscription is released only when it is both deleted and
// unreferenced, so an event already queued to the loop can never outlive
// its subscription state.
package intsched

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/service/mainloop"
)

// Scheduler queues interrupt records to a main loop.
type Scheduler struct {
	loop *mainloop.Loop
	log  zerolog.Logger
}

// New creates a Scheduler bound to the given loop.
func New(loop *mainloop.Loop, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		loop: loop,
		log:  log.With().Str("component", "intsched").Logger(),
	}
}

const (
	deletedBit  = 1 << 15
	refcountMax = deletedBit - 1
)

// recState packs a 15-bit refcount and a deleted bit, capping concurrent
// in-flight deliveries per subscription at 32767.
type recState struct {
	v uint32
}

// ref takes a reference. It fails when the subscription is deleted or the
// refcount is saturated; the caller must then drop the event.
func (s *recState) ref() bool {
	for {
		old := atomic.LoadUint32(&s.v)
		if old&deletedBit != 0 || old&refcountMax == refcountMax {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.v, old, old+1) {
			return true
		}
	}
}

// unref drops a reference and reports whether the subscription is now
// released (deleted with no references left).
func (s *recState) unref() bool {
	for {
		old := atomic.LoadUint32(&s.v)
		if old&refcountMax == 0 {
			panic("intsched: unref with refcount 0")
		}
		if atomic.CompareAndSwapUint32(&s.v, old, old-1) {
			released := old&deletedBit != 0 && old&refcountMax == 1
			if released {
				recordsReleasedTotal.Inc()
			}
			return released
		}
	}
}

// markDeleted sets the deleted bit and reports whether the subscription is
// already unreferenced (and therefore released right away).
func (s *recState) markDeleted() bool {
	for {
		old := atomic.LoadUint32(&s.v)
		if atomic.CompareAndSwapUint32(&s.v, old, old|deletedBit) {
			released := old&refcountMax == 0
			if released {
				recordsReleasedTotal.Inc()
			}
			return released
		}
	}
}

func (s *recState) deleted() bool {
	return atomic.LoadUint32(&s.v)&deletedBit != 0
}
