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

// Package aio reads analog inputs asynchronously. A read runs on a worker
// thread so the blocking sysfs access never stalls the main loop; the
// result is delivered through a callback on the loop goroutine.
package aio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
	"github.com/periferia-io/periferia/service/worker"
)

// Reader is the back-end capability behind an AIO handle.
type Reader interface {
	// ReadRaw returns the current raw sample.
	ReadRaw() (uint32, error)
	Close() error
}

// Config holds the settings of an AIO handle.
type Config struct {
	// Device is the IIO device index.
	Device int
	// Pin is the voltage channel index.
	Pin int
	// Precision is the sample width in bits; readings are masked to it.
	// Must be at least 1.
	Precision uint
}

// Dependencies holds the external objects an AIO handle uses.
type Dependencies struct {
	Log  zerolog.Logger
	Loop *mainloop.Loop
	// Backend overrides the sysfs IIO reader. Used by tests.
	Backend Reader
}

// ReadCallback receives the completion of a GetValue. status is the masked
// sample when non-negative, a negated errno otherwise.
type ReadCallback func(a *AIO, status int32)

// Pending identifies one in-flight read, usable with PendingCancel.
type Pending struct {
	thread *worker.Thread
}

// AIO is an analog input handle. At most one read is in flight at a time.
type AIO struct {
	Config
	Dependencies

	mask uint32

	mu      sync.Mutex
	pending *Pending
	value   int32
	cb      ReadCallback
	closed  bool
}

// Open validates the config and opens the backing channel.
func Open(config Config, deps Dependencies) (*AIO, error) {
	if config.Precision == 0 {
		return nil, errors.Wrapf(model.InvalidArgumentError, "aio %d,%d: precision must be at least 1", config.Device, config.Pin)
	}
	if deps.Loop == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "aio requires a loop")
	}
	deps.Log = deps.Log.With().
		Str("component", "aio").
		Int("device", config.Device).
		Int("pin", config.Pin).
		Logger()
	if deps.Backend == nil {
		backend, err := newSysfsReader(config.Device, config.Pin)
		if err != nil {
			return nil, maskAny(err)
		}
		deps.Backend = backend
	}
	return &AIO{
		Config:       config,
		Dependencies: deps,
		mask:         (1 << config.Precision) - 1,
	}, nil
}

// Busy reports whether a read is in flight.
func (a *AIO) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// GetValue starts an asynchronous read. cb runs once on the loop goroutine
// with the masked sample, or with a negated errno on failure. Returns
// BusyError while a previous read is still in flight.
func (a *AIO) GetValue(cb ReadCallback) (*Pending, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.Wrap(model.InvalidArgumentError, "aio handle is closed")
	}
	if a.pending != nil {
		return nil, errors.Wrapf(model.BusyError, "aio %d,%d: read in flight", a.Device, a.Pin)
	}

	a.value = 0
	a.cb = cb
	pending := &Pending{}
	thread, err := worker.New(a.Loop, worker.Config{
		Log:      a.Log,
		Iterate:  a.readIterate,
		Finished: a.readFinished,
	})
	if err != nil {
		return nil, maskAny(err)
	}
	pending.thread = thread
	a.pending = pending
	return pending, nil
}

// readIterate runs on the worker goroutine and performs the blocking read.
func (a *AIO) readIterate() bool {
	raw, err := a.Backend.ReadRaw()
	a.mu.Lock()
	if err != nil {
		a.Log.Warn().Err(err).Msg("could not read value")
		a.value = -int32(unix.EIO)
	} else {
		a.value = int32(raw & a.mask)
	}
	a.mu.Unlock()
	return false
}

// readFinished runs on the loop goroutine and dispatches the result.
func (a *AIO) readFinished() {
	a.mu.Lock()
	a.pending = nil
	cb := a.cb
	a.cb = nil
	value := a.value
	a.mu.Unlock()

	if cb != nil {
		cb(a, value)
	}
}

// PendingCancel aborts the given read. A no-op when the read already
// completed. After it returns, the read's callback will not fire.
func (a *AIO) PendingCancel(pending *Pending) {
	a.mu.Lock()
	if pending == nil || a.pending != pending {
		a.mu.Unlock()
		a.Log.Warn().Msg("invalid pending read handle")
		return
	}
	// Suppress the callback before joining the worker; its finish path may
	// already be queued.
	a.pending = nil
	a.cb = nil
	thread := pending.thread
	a.mu.Unlock()

	thread.Cancel()
}

// Close cancels any in-flight read and releases the backing channel. Must
// not be called from the handle's own callback.
func (a *AIO) Close() error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.cb = nil
	closed := a.closed
	a.closed = true
	a.mu.Unlock()
	if closed {
		return nil
	}
	if pending != nil {
		pending.thread.Cancel()
	}
	return a.Backend.Close()
}
