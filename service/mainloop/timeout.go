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

package mainloop

import (
	"time"
)

// Timeout is a callback scheduled to run at or after a monotonic deadline.
// Returning true from the callback re-arms it one interval later, returning
// false removes it.
type Timeout struct {
	deadline time.Time
	interval time.Duration
	cb       func() bool
	removeMe bool
}

// TimeoutAdd schedules cb to run after interval. Timeouts with identical
// deadlines fire in insertion order.
func (l *Loop) TimeoutAdd(interval time.Duration, cb func() bool) *Timeout {
	if cb == nil {
		return nil
	}
	t := &Timeout{
		deadline: time.Now().Add(interval),
		interval: interval,
		cb:       cb,
	}

	l.mu.Lock()
	l.timeoutInsertSortedLocked(t)
	l.mu.Unlock()

	timeoutsActive.Inc()
	l.wake()
	return t
}

// TimeoutDel removes the given timeout. Safe to call from inside the
// timeout's own callback. Returns false when the timeout was already
// removed.
func (l *Loop) TimeoutDel(t *Timeout) bool {
	if t == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.removeMe {
		return false
	}
	t.removeMe = true
	l.timeoutPendingDel++
	timeoutsActive.Dec()
	if !l.timeoutProcessing {
		l.timeoutCleanupLocked()
	}
	return true
}

// timeoutInsertSortedLocked inserts after all entries with an equal or
// earlier deadline, keeping insertion order for equal deadlines.
func (l *Loop) timeoutInsertSortedLocked(t *Timeout) {
	i := len(l.timeouts)
	for i > 0 && l.timeouts[i-1].deadline.After(t.deadline) {
		i--
	}
	l.timeouts = append(l.timeouts, nil)
	copy(l.timeouts[i+1:], l.timeouts[i:])
	l.timeouts[i] = t
}

// timeoutCleanupLocked reclaims timeouts marked for removal.
func (l *Loop) timeoutCleanupLocked() {
	if l.timeoutPendingDel == 0 {
		return
	}
	kept := l.timeouts[:0]
	for _, t := range l.timeouts {
		if t.removeMe {
			l.timeoutPendingDel--
			continue
		}
		kept = append(kept, t)
	}
	l.timeouts = kept
}

// processTimeouts fires every live timeout whose deadline has passed, in
// non-decreasing deadline order. The set is stolen for the walk so that
// timeouts added by a callback are considered no earlier than the next
// iteration.
func (l *Loop) processTimeouts() {
	l.mu.Lock()
	process := l.timeouts
	l.timeouts = nil
	l.timeoutProcessing = true
	l.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(process); {
		t := process[i]
		if !l.runCheck() {
			break
		}
		l.mu.Lock()
		gone := t.removeMe
		deadline := t.deadline
		l.mu.Unlock()
		if gone {
			i++
			continue
		}
		if deadline.After(now) {
			break
		}

		timeoutsFiredTotal.Inc()
		if !t.cb() {
			l.mu.Lock()
			if !t.removeMe {
				t.removeMe = true
				l.timeoutPendingDel++
				timeoutsActive.Dec()
			}
			l.mu.Unlock()
			i++
			continue
		}

		l.mu.Lock()
		if t.removeMe {
			// Deleted from inside its own callback.
			l.mu.Unlock()
			i++
			continue
		}
		t.deadline = now.Add(t.interval)
		l.mu.Unlock()
		// Keep the walk sorted: move the re-armed entry past every later
		// entry that now expires before it.
		j := i
		for j+1 < len(process) && process[j+1].deadline.Before(t.deadline) {
			process[j] = process[j+1]
			j++
		}
		process[j] = t
		if j == i {
			i++
		}
	}

	l.mu.Lock()
	// Merge the walked set back with anything added during dispatch.
	for _, t := range process {
		l.timeoutInsertSortedLocked(t)
	}
	l.timeoutCleanupLocked()
	l.timeoutProcessing = false
	l.mu.Unlock()
}
