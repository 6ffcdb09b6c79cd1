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

// Package i2c accesses I2C buses asynchronously. Every transfer runs on a
// worker thread and completes through a callback on the loop goroutine; a
// handle carries at most one transfer at a time.
package i2c

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
	"github.com/periferia-io/periferia/service/worker"
)

// Speed enumerates bus clock rates. The Linux adapter fixes the rate at
// kernel level; the value is kept for API parity with RTOS back-ends.
type Speed uint8

const (
	Speed10KBitS Speed = iota
	Speed100KBitS
	Speed400KBitS
	Speed1MBitS
	Speed3M4BitS
)

// Backend is the capability behind an I2C handle. All methods block and
// are called from a worker goroutine only.
type Backend interface {
	// SetAddress selects the slave device for subsequent transfers.
	SetAddress(addr uint8) error
	// WriteQuick sends an SMBus quick command carrying only the rw bit.
	WriteQuick(value bool) error
	// Read fills data with plain reads.
	Read(data []byte) (int, error)
	// Write sends data with plain writes.
	Write(data []byte) (int, error)
	// ReadRegister reads len(data) bytes from reg. Transfers over 32 bytes
	// need plain-I2C support.
	ReadRegister(reg uint8, data []byte) (int, error)
	// WriteRegister writes len(data) bytes to reg.
	WriteRegister(reg uint8, data []byte) (int, error)
	// SupportsPlain reports whether the adapter speaks plain-I2C commands
	// rather than only SMBus ones.
	SupportsPlain() bool
	Close() error
}

// Config holds the settings of an I2C handle.
type Config struct {
	// Bus is the adapter index (/dev/i2c-<bus>).
	Bus   uint8
	Speed Speed
}

// Dependencies holds the external objects an I2C handle uses.
type Dependencies struct {
	Log  zerolog.Logger
	Loop *mainloop.Loop
	// Backend overrides the /dev/i2c-* adapter. Used by tests.
	Backend Backend
}

// TransferCallback receives completion of a plain read or write. status is
// the byte count when non-negative, a negated errno otherwise.
type TransferCallback func(i *I2C, data []byte, status int)

// RegisterCallback receives completion of a register read or write.
type RegisterCallback func(i *I2C, reg uint8, data []byte, status int)

// QuickCallback receives completion of a WriteQuick.
type QuickCallback func(i *I2C, status int)

// Pending identifies one in-flight transfer, usable with PendingCancel.
type Pending struct {
	thread *worker.Thread
}

// I2C is a bus handle bound to one slave address at a time.
type I2C struct {
	Config
	Dependencies

	mu      sync.Mutex
	addr    uint8
	pending *Pending
	closed  bool

	async struct {
		status   int
		reg      uint8
		data     []byte
		count    int
		times    int
		done     int
		dispatch func()
	}
}

// Open opens the bus adapter.
func Open(config Config, deps Dependencies) (*I2C, error) {
	if deps.Loop == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "i2c requires a loop")
	}
	deps.Log = deps.Log.With().
		Str("component", "i2c").
		Uint8("bus", config.Bus).
		Logger()
	if deps.Backend == nil {
		backend, err := newDevBus(config.Bus)
		if err != nil {
			return nil, maskAny(err)
		}
		deps.Backend = backend
	}
	return &I2C{
		Config:       config,
		Dependencies: deps,
	}, nil
}

// Busy reports whether a transfer is in flight.
func (i *I2C) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending != nil
}

// SetSlaveAddress selects the device subsequent transfers talk to.
// Refused with BusyError while a transfer is in flight.
func (i *I2C) SetSlaveAddress(addr uint8) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending != nil {
		return errors.Wrapf(model.BusyError, "i2c bus %d: transfer in flight", i.Bus)
	}
	i.addr = addr
	return nil
}

// SlaveAddress returns the currently selected device address.
func (i *I2C) SlaveAddress() uint8 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.addr
}

// submit starts a worker around iterate, guarded by the busy check.
// Callers hold no lock.
func (i *I2C) submit(iterate func() bool, dispatch func()) (*Pending, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.Wrap(model.InvalidArgumentError, "i2c handle is closed")
	}
	if i.pending != nil {
		return nil, errors.Wrapf(model.BusyError, "i2c bus %d: transfer in flight", i.Bus)
	}
	i.async.status = -int(unix.EIO)
	i.async.done = 0
	i.async.dispatch = dispatch
	pending := &Pending{}
	thread, err := worker.New(i.Loop, worker.Config{
		Log: i.Log,
		Setup: func() bool {
			if err := i.Backend.SetAddress(i.addr); err != nil {
				i.Log.Warn().Err(err).Msg("could not select slave address")
				i.setStatus(negErrno(err))
				return false
			}
			return true
		},
		Iterate:  iterate,
		Finished: i.transferFinished,
	})
	if err != nil {
		return nil, maskAny(err)
	}
	pending.thread = thread
	i.pending = pending
	return pending, nil
}

func (i *I2C) setStatus(status int) {
	i.mu.Lock()
	i.async.status = status
	i.mu.Unlock()
}

// transferFinished runs on the loop goroutine and dispatches the result.
func (i *I2C) transferFinished() {
	i.mu.Lock()
	i.pending = nil
	dispatch := i.async.dispatch
	i.async.dispatch = nil
	i.mu.Unlock()

	if dispatch != nil {
		dispatch()
	}
}

// WriteQuick sends the SMBus quick command. cb receives 0 on success.
func (i *I2C) WriteQuick(value bool, cb QuickCallback) (*Pending, error) {
	return i.submit(func() bool {
		status := 0
		if err := i.Backend.WriteQuick(value); err != nil {
			i.Log.Warn().Err(err).Msg("quick command failed")
			status = negErrno(err)
		}
		i.setStatus(status)
		return false
	}, func() {
		if cb != nil {
			cb(i, i.async.status)
		}
	})
}

// ReadData reads len(data) bytes from the selected device. cb receives the
// filled buffer and the byte count.
func (i *I2C) ReadData(data []byte, cb TransferCallback) (*Pending, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(model.InvalidArgumentError, "read needs a buffer")
	}
	return i.submit(func() bool {
		n, err := i.Backend.Read(data)
		if err != nil {
			i.Log.Warn().Err(err).Msg("read failed")
			i.setStatus(negErrno(err))
		} else {
			i.setStatus(n)
		}
		return false
	}, func() {
		if cb != nil {
			cb(i, data, i.async.status)
		}
	})
}

// WriteData writes data to the selected device.
func (i *I2C) WriteData(data []byte, cb TransferCallback) (*Pending, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(model.InvalidArgumentError, "write needs a buffer")
	}
	return i.submit(func() bool {
		n, err := i.Backend.Write(data)
		if err != nil {
			i.Log.Warn().Err(err).Msg("write failed")
			i.setStatus(negErrno(err))
		} else {
			i.setStatus(n)
		}
		return false
	}, func() {
		if cb != nil {
			cb(i, data, i.async.status)
		}
	})
}

// ReadRegister reads len(data) bytes from register reg.
func (i *I2C) ReadRegister(reg uint8, data []byte, cb RegisterCallback) (*Pending, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(model.InvalidArgumentError, "register read needs a buffer")
	}
	return i.submit(func() bool {
		n, err := i.Backend.ReadRegister(reg, data)
		if err != nil {
			i.Log.Warn().Err(err).Msg("register read failed")
			i.setStatus(negErrno(err))
		} else {
			i.setStatus(n)
		}
		return false
	}, func() {
		if cb != nil {
			cb(i, reg, data, i.async.status)
		}
	})
}

// WriteRegister writes data to register reg.
func (i *I2C) WriteRegister(reg uint8, data []byte, cb RegisterCallback) (*Pending, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(model.InvalidArgumentError, "register write needs a buffer")
	}
	return i.submit(func() bool {
		n, err := i.Backend.WriteRegister(reg, data)
		if err != nil {
			i.Log.Warn().Err(err).Msg("register write failed")
			i.setStatus(negErrno(err))
		} else {
			i.setStatus(n)
		}
		return false
	}, func() {
		if cb != nil {
			cb(i, reg, data, i.async.status)
		}
	})
}

// ReadRegisterMultiple reads the same register times times in a row, count
// bytes each, concatenating the runs into data (which must hold
// count*times bytes). One worker iteration performs one run, so a cancel
// takes effect between runs. cb receives count*times on success. Requires
// a plain-I2C adapter.
func (i *I2C) ReadRegisterMultiple(reg uint8, data []byte, count, times int, cb RegisterCallback) (*Pending, error) {
	if count <= 0 || times <= 0 || len(data) < count*times {
		return nil, errors.Wrap(model.InvalidArgumentError, "buffer smaller than count*times")
	}
	if !i.Backend.SupportsPlain() {
		return nil, errors.Wrapf(model.UnsupportedError, "i2c bus %d speaks only SMBus commands", i.Bus)
	}
	i.mu.Lock()
	i.async.reg = reg
	i.async.data = data
	i.async.count = count
	i.async.times = times
	i.mu.Unlock()
	return i.submit(func() bool {
		i.mu.Lock()
		done := i.async.done
		i.mu.Unlock()
		chunk := data[done*count : (done+1)*count]
		if _, err := i.Backend.ReadRegister(reg, chunk); err != nil {
			i.Log.Warn().Err(err).Int("run", done).Msg("multiple register read failed")
			i.setStatus(negErrno(err))
			return false
		}
		i.mu.Lock()
		i.async.done++
		done = i.async.done
		if done == i.async.times {
			i.async.status = count * times
		}
		i.mu.Unlock()
		return done < times
	}, func() {
		if cb != nil {
			cb(i, reg, data, i.async.status)
		}
	})
}

// PendingCancel aborts the given transfer. A no-op when the transfer
// already completed. After it returns, the transfer's callback will not
// fire.
func (i *I2C) PendingCancel(pending *Pending) {
	i.mu.Lock()
	if pending == nil || i.pending != pending {
		i.mu.Unlock()
		i.Log.Warn().Msg("invalid pending transfer handle")
		return
	}
	i.pending = nil
	i.async.dispatch = nil
	thread := pending.thread
	i.mu.Unlock()

	thread.Cancel()
}

// Close cancels any in-flight transfer and releases the adapter. Must not
// be called from the handle's own callback.
func (i *I2C) Close() error {
	i.mu.Lock()
	pending := i.pending
	i.pending = nil
	i.async.dispatch = nil
	closed := i.closed
	i.closed = true
	i.mu.Unlock()
	if closed {
		return nil
	}
	if pending != nil {
		pending.thread.Cancel()
	}
	return i.Backend.Close()
}

// negErrno turns a back-end error into a negative completion status.
func negErrno(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(unix.EIO)
}
