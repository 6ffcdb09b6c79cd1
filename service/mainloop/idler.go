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

type idlerStatus uint8

const (
	idlerReady idlerStatus = iota
	// idlerReadyOnNextIteration marks idlers added during an idler pass;
	// they become ready when the pass completes.
	idlerReadyOnNextIteration
	idlerDeleted
)

// Idler is a callback that runs once per loop iteration when no timeout or
// fd source needs dispatching. Returning true keeps it for the next
// iteration, returning false removes it.
type Idler struct {
	status idlerStatus
	cb     func() bool
}

// IdleAdd registers cb to run on the next idle pass.
func (l *Loop) IdleAdd(cb func() bool) *Idler {
	if cb == nil {
		return nil
	}
	idler := &Idler{cb: cb}

	l.mu.Lock()
	if l.idlerProcessing {
		idler.status = idlerReadyOnNextIteration
	}
	l.idlers = append(l.idlers, idler)
	l.mu.Unlock()

	idlersActive.Inc()
	l.wake()
	return idler
}

// IdleDel removes the given idler. Safe to call from inside the idler's own
// callback. Returns false when the idler was already removed.
func (l *Loop) IdleDel(idler *Idler) bool {
	if idler == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if idler.status == idlerDeleted {
		return false
	}
	idler.status = idlerDeleted
	l.idlerPendingDel++
	idlersActive.Dec()
	if !l.idlerProcessing {
		l.idlerCleanupLocked()
	}
	return true
}

func (l *Loop) idlerCleanupLocked() {
	if l.idlerPendingDel == 0 {
		return
	}
	kept := l.idlers[:0]
	for _, idler := range l.idlers {
		if idler.status == idlerDeleted {
			l.idlerPendingDel--
			continue
		}
		kept = append(kept, idler)
	}
	l.idlers = kept
}

// processIdlers invokes every ready idler exactly once.
func (l *Loop) processIdlers() {
	l.mu.Lock()
	process := l.idlers
	l.idlers = nil
	l.idlerProcessing = true
	l.mu.Unlock()

	for _, idler := range process {
		if !l.runCheck() {
			break
		}
		l.mu.Lock()
		ready := idler.status == idlerReady
		l.mu.Unlock()
		if !ready {
			continue
		}
		idlersRunTotal.Inc()
		if !idler.cb() {
			l.mu.Lock()
			if idler.status != idlerDeleted {
				idler.status = idlerDeleted
				l.idlerPendingDel++
				idlersActive.Dec()
			}
			l.mu.Unlock()
		}
	}

	l.mu.Lock()
	// Re-queue the walked set ahead of idlers added during the pass, then
	// promote deferred ones so they run next iteration.
	l.idlers = append(process, l.idlers...)
	for _, idler := range l.idlers {
		if idler.status == idlerReadyOnNextIteration {
			idler.status = idlerReady
		}
	}
	l.idlerCleanupLocked()
	l.idlerProcessing = false
	l.mu.Unlock()
}
