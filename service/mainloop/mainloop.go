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

// Package mainloop provides a single-goroutine cooperative dispatcher for
// three source kinds: timeouts, idlers and file-descriptor watches, plus a
// wakeup channel that is safe to use from any goroutine.
//
// All user callbacks run on the goroutine that called Run. Sources may be
// added and deleted from any goroutine, including from inside their own
// callback; reclamation of a source deleted during dispatch is deferred
// until the dispatch walk completes.
package mainloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Message is delivered by Wakeup from any goroutine and dispatched on the
// loop goroutine.
type Message interface {
	// Dispatch is invoked on the loop goroutine.
	Dispatch()
}

// Loop is a cooperative main loop.
type Loop struct {
	log zerolog.Logger

	mu      sync.Mutex
	running int32 // atomic
	code    int

	timeouts          []*Timeout
	timeoutProcessing bool
	timeoutPendingDel int

	idlers          []*Idler
	idlerProcessing bool
	idlerPendingDel int

	watches         []*FdWatch
	watchPendingDel int

	msgs []Message

	wakeRead  int
	wakeWrite int
	closed    bool
}

// New creates a Loop.
func New(log zerolog.Logger) (*Loop, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, maskAny(err)
	}
	return &Loop{
		log:       log.With().Str("component", "mainloop").Logger(),
		wakeRead:  p[0],
		wakeWrite: p[1],
	}, nil
}

// Run dispatches sources until Quit is called, then returns the exit code
// passed to QuitWithCode (0 for a plain Quit).
func (l *Loop) Run() int {
	atomic.StoreInt32(&l.running, 1)
	for l.runCheck() {
		l.iterate()
	}
	l.mu.Lock()
	code := l.code
	l.mu.Unlock()
	return code
}

// Quit terminates Run at the next safe point.
func (l *Loop) Quit() {
	l.QuitWithCode(0)
}

// QuitWithCode terminates Run at the next safe point, making it return the
// given code.
func (l *Loop) QuitWithCode(code int) {
	l.mu.Lock()
	l.code = code
	l.mu.Unlock()
	atomic.StoreInt32(&l.running, 0)
	l.wake()
}

// Close releases the wakeup channel. The loop must not be running.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	unix.Close(l.wakeRead)
	unix.Close(l.wakeWrite)
	return nil
}

// Wakeup queues msg for dispatch on the loop goroutine. Safe to call from
// any goroutine, including callback-context goroutines of device drivers.
func (l *Loop) Wakeup(msg Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) runCheck() bool {
	return atomic.LoadInt32(&l.running) != 0
}

// wake nudges the readiness wait. A full pipe already guarantees a pending
// wakeup, so EAGAIN is ignored.
func (l *Loop) wake() {
	l.mu.Lock()
	closed := l.closed
	fd := l.wakeWrite
	l.mu.Unlock()
	if closed {
		return
	}
	var b [1]byte
	unix.Write(fd, b[:])
}

// One loop iteration: expired timeouts first, then fd readiness and wakeup
// messages, then a single idler pass.
func (l *Loop) iterate() {
	iterationsTotal.Inc()
	l.processTimeouts()
	l.processFds(l.waitBudget())
	l.processIdlers()
}

// waitBudget returns the poll timeout in milliseconds: 0 when an idler is
// ready to run, the delay until the earliest timeout otherwise, -1 (block)
// when there is nothing scheduled.
func (l *Loop) waitBudget() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, idler := range l.idlers {
		if idler.status != idlerDeleted {
			return 0
		}
	}
	for _, t := range l.timeouts {
		if t.removeMe {
			continue
		}
		d := time.Until(t.deadline)
		if d < 0 {
			return 0
		}
		// Round up so we do not spin before the deadline.
		ms := (d + time.Millisecond - 1) / time.Millisecond
		return int(ms)
	}
	return -1
}

func (l *Loop) drainMessages() {
	for {
		l.mu.Lock()
		msgs := l.msgs
		l.msgs = nil
		l.mu.Unlock()
		if len(msgs) == 0 {
			return
		}
		for i, m := range msgs {
			if !l.runCheck() {
				// Keep undispatched messages for the next Run.
				l.mu.Lock()
				l.msgs = append(msgs[i:], l.msgs...)
				l.mu.Unlock()
				return
			}
			messagesTotal.Inc()
			m.Dispatch()
		}
	}
}
