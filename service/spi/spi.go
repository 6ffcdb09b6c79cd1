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

// Package spi performs full-duplex SPI transfers asynchronously. A
// transfer runs on a worker thread and completes through a callback on
// the loop goroutine; a handle owns one chip select and carries at most
// one transfer at a time.
package spi

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
	"github.com/periferia-io/periferia/service/worker"
)

// Mode selects clock polarity and phase: modes 0 to 3 map to CPOL/CPHA.
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

// Backend is the capability behind an SPI handle. Transfer blocks and is
// called from a worker goroutine only.
type Backend interface {
	// Transfer clocks len(tx) words out while filling rx.
	Transfer(tx, rx []byte) error
	Close() error
}

// Config holds the settings of an SPI handle.
type Config struct {
	// Bus and ChipSelect give the device node (/dev/spidev<bus>.<cs>).
	Bus        uint
	ChipSelect uint
	Mode       Mode
	// Frequency is the maximum clock rate in Hz.
	Frequency uint32
	// BitsPerWord must lie in [4,32].
	BitsPerWord uint8
}

// Dependencies holds the external objects an SPI handle uses.
type Dependencies struct {
	Log  zerolog.Logger
	Loop *mainloop.Loop
	// Backend overrides the spidev back-end. Used by tests.
	Backend Backend
}

// TransferCallback receives completion of a Transfer. status is the word
// count when non-negative, a negated errno otherwise.
type TransferCallback func(s *SPI, tx, rx []byte, status int)

// Pending identifies one in-flight transfer, usable with PendingCancel.
type Pending struct {
	thread *worker.Thread
}

// SPI is a bus/chip-select handle.
type SPI struct {
	Config
	Dependencies

	mu      sync.Mutex
	pending *Pending
	status  int
	closed  bool
}

// Open validates the config and opens the device.
func Open(config Config, deps Dependencies) (*SPI, error) {
	if deps.Loop == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "spi requires a loop")
	}
	if config.Mode > Mode3 {
		return nil, errors.Wrapf(model.InvalidArgumentError, "spi mode %d out of range", config.Mode)
	}
	if config.BitsPerWord < 4 || config.BitsPerWord > 32 {
		return nil, errors.Wrapf(model.InvalidArgumentError, "spi bits per word %d outside [4,32]", config.BitsPerWord)
	}
	deps.Log = deps.Log.With().
		Str("component", "spi").
		Uint("bus", config.Bus).
		Uint("cs", config.ChipSelect).
		Logger()
	if deps.Backend == nil {
		backend, err := newSpidev(config)
		if err != nil {
			return nil, maskAny(err)
		}
		deps.Backend = backend
	}
	return &SPI{
		Config:       config,
		Dependencies: deps,
	}, nil
}

// Busy reports whether a transfer is in flight.
func (s *SPI) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Transfer starts a full-duplex transfer. tx and rx must have the same
// length; rx may alias tx. cb runs once on the loop goroutine with the
// word count, or a negated errno on failure. Returns BusyError while a
// previous transfer is in flight.
func (s *SPI) Transfer(tx, rx []byte, cb TransferCallback) (*Pending, error) {
	if len(tx) == 0 || len(tx) != len(rx) {
		return nil, errors.Wrap(model.InvalidArgumentError, "tx and rx must be equally sized and non-empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Wrap(model.InvalidArgumentError, "spi handle is closed")
	}
	if s.pending != nil {
		return nil, errors.Wrapf(model.BusyError, "spi %d.%d: transfer in flight", s.Bus, s.ChipSelect)
	}

	pending := &Pending{}
	thread, err := worker.New(s.Loop, worker.Config{
		Log: s.Log,
		Iterate: func() bool {
			status := len(tx)
			if err := s.Backend.Transfer(tx, rx); err != nil {
				s.Log.Warn().Err(err).Msg("transfer failed")
				status = negErrno(err)
			}
			s.mu.Lock()
			s.status = status
			s.mu.Unlock()
			return false
		},
		Finished: func() {
			s.mu.Lock()
			s.pending = nil
			status := s.status
			suppressed := pending.thread.CancelCheck()
			s.mu.Unlock()
			if cb != nil && !suppressed {
				cb(s, tx, rx, status)
			}
		},
	})
	if err != nil {
		return nil, maskAny(err)
	}
	pending.thread = thread
	s.pending = pending
	return pending, nil
}

// PendingCancel aborts the given transfer. A no-op when the transfer
// already completed. After it returns, the transfer's callback will not
// fire.
func (s *SPI) PendingCancel(pending *Pending) {
	s.mu.Lock()
	if pending == nil || s.pending != pending {
		s.mu.Unlock()
		s.Log.Warn().Msg("invalid pending transfer handle")
		return
	}
	s.pending = nil
	thread := pending.thread
	s.mu.Unlock()

	thread.Cancel()
}

// Close cancels any in-flight transfer and releases the device. Must not
// be called from the handle's own callback.
func (s *SPI) Close() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	closed := s.closed
	s.closed = true
	s.mu.Unlock()
	if closed {
		return nil
	}
	if pending != nil {
		pending.thread.Cancel()
	}
	return s.Backend.Close()
}

// negErrno turns a back-end error into a negative completion status.
func negErrno(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(unix.EIO)
}
