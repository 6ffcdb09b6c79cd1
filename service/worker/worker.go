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

// Package worker runs a blocking iterate function on its own goroutine and
// marshals completion and progress back onto a main loop.
//
// Setup, Iterate and Cleanup run on the worker goroutine; Finished and
// Feedback run on the loop goroutine. Exactly one Finished is delivered per
// successfully created Thread, whether it ran to completion, was cancelled,
// or Setup returned false.
package worker

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
)

// Config enumerates the callbacks of a worker thread. Iterate is required,
// everything else is optional.
type Config struct {
	// Log for thread lifecycle events.
	Log zerolog.Logger
	// Setup runs once on the worker goroutine before the first Iterate.
	// Returning false skips Iterate and Cleanup; Finished is still delivered.
	Setup func() bool
	// Iterate runs repeatedly on the worker goroutine until it returns
	// false or the thread is cancelled.
	Iterate func() bool
	// Cleanup runs on the worker goroutine after the last Iterate, provided
	// Setup succeeded.
	Cleanup func()
	// Cancel runs on the goroutine that called Thread.Cancel.
	Cancel func()
	// Finished runs on the loop goroutine after the worker goroutine exited.
	Finished func()
	// Feedback runs on the loop goroutine when the worker signalled
	// progress. Consecutive signals before the loop runs coalesce.
	Feedback func()
}

// Thread is a handle to a running worker.
type Thread struct {
	loop   *mainloop.Loop
	config Config

	mu        sync.Mutex
	idler     *mainloop.Idler
	cancel    int32 // atomic
	done      chan struct{}
	finishRan bool
}

// New validates the config, starts the worker goroutine and returns its
// handle. The handle remains valid until Finished returns.
func New(loop *mainloop.Loop, config Config) (*Thread, error) {
	if loop == nil || config.Iterate == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "worker requires a loop and an iterate callback")
	}
	t := &Thread{
		loop:   loop,
		config: config,
		done:   make(chan struct{}),
	}
	threadsStartedTotal.Inc()
	go t.run()
	return t, nil
}

// CancelCheck reports whether Cancel was called. Iterate implementations
// doing their own chunking may poll it to return early.
func (t *Thread) CancelCheck() bool {
	return atomic.LoadInt32(&t.cancel) != 0
}

func (t *Thread) run() {
	ok := true
	if t.config.Setup != nil {
		ok = t.config.Setup()
	}
	if ok {
		for !t.CancelCheck() {
			if !t.config.Iterate() {
				break
			}
		}
		if t.config.Cleanup != nil {
			t.config.Cleanup()
		}
	}

	t.mu.Lock()
	if t.idler != nil {
		// A coalesced feedback that never ran; finish supersedes it.
		t.loop.IdleDel(t.idler)
	}
	t.idler = t.loop.IdleAdd(t.finishedDispatch)
	t.mu.Unlock()
	close(t.done)
}

// finishedDispatch joins the worker goroutine and delivers Finished.
// It runs either as a loop idler or inline from Cancel; the finishRan flag
// keeps the delivery single.
func (t *Thread) finishedDispatch() bool {
	<-t.done

	t.mu.Lock()
	t.idler = nil
	already := t.finishRan
	t.finishRan = true
	t.mu.Unlock()
	if already {
		return false
	}

	t.config.Log.Debug().Msg("worker thread finished")
	threadsFinishedTotal.Inc()
	if t.config.Finished != nil {
		t.config.Finished()
	}
	return false
}

// Cancel requests the worker to stop and blocks until it exited its current
// iteration, then delivers Finished inline. Must not be called from the
// worker's own callbacks.
func (t *Thread) Cancel() {
	if !atomic.CompareAndSwapInt32(&t.cancel, 0, 1) {
		t.config.Log.Warn().Msg("worker thread already cancelled")
		return
	}

	if t.config.Cancel != nil {
		t.config.Cancel()
	}

	<-t.done

	t.mu.Lock()
	idler := t.idler
	t.mu.Unlock()
	t.loop.IdleDel(idler)
	t.finishedDispatch()
}

func (t *Thread) feedbackDispatch() bool {
	t.mu.Lock()
	t.idler = nil
	t.mu.Unlock()

	t.config.Feedback()
	return false
}

// Feedback schedules the Feedback callback on the loop goroutine. Intended
// to be called from Iterate; multiple calls before the loop runs result in
// a single delivery.
func (t *Thread) Feedback() {
	if t.config.Feedback == nil {
		t.config.Log.Warn().Msg("feedback signalled without a feedback callback")
		return
	}
	if t.CancelCheck() {
		return
	}
	t.mu.Lock()
	if t.idler == nil {
		t.idler = t.loop.IdleAdd(t.feedbackDispatch)
	}
	t.mu.Unlock()
}
