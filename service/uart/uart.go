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

// Package uart drives serial ports with a byte-delivery receive callback
// and a FIFO write queue. Fd-capable ports are serviced through loop fd
// watches; callback-driven ports are bridged onto the loop through the
// interrupt scheduler.
package uart

import (
	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/intsched"
	"github.com/periferia-io/periferia/service/mainloop"
)

// BaudRate enumerates the supported line speeds.
type BaudRate uint8

const (
	Baud9600 BaudRate = iota
	Baud19200
	Baud38400
	Baud57600
	Baud115200
)

// Parity enumerates parity-bit modes.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// StopBits enumerates stop-bit counts.
type StopBits uint8

const (
	StopBitsOne StopBits = iota
	StopBitsTwo
)

// RxCallback receives one byte at a time on the loop goroutine.
type RxCallback func(u *UART, b byte)

// WriteCallback receives completion of one queued write on the loop
// goroutine, exactly once per accepted write: the byte count on success, a
// negated errno on failure or cancellation.
type WriteCallback func(u *UART, data []byte, status int)

// Backend is the transport behind a UART handle. A concrete back-end also
// implements FdBackend or EventBackend.
type Backend interface {
	Close() error
}

// FdBackend is a port driven by fd readiness.
type FdBackend interface {
	Backend
	Fd() int
	// Read drains available bytes without blocking.
	Read(p []byte) (int, error)
	// Write sends as much as the port accepts without blocking; partial
	// writes are expected.
	Write(p []byte) (int, error)
}

// EventBackend is a port whose driver pushes events from its own callback
// context. Its events reach the loop through the interrupt scheduler.
type EventBackend interface {
	Backend
	// SetHandlers registers driver-context callbacks: rx per received
	// byte, txDone when a WriteByte drained.
	SetHandlers(rx func(b byte), txDone func())
	// WriteByte pushes one byte to the transmitter.
	WriteByte(b byte)
}

// Config holds the settings of a UART handle.
type Config struct {
	// PortName is the device name under /dev (e.g. "ttyUSB0").
	PortName string
	BaudRate BaudRate
	Parity   Parity
	// DataBits must lie in [5,8].
	DataBits uint8
	StopBits StopBits
	// FlowControl enables RTS/CTS and XON/XOFF.
	FlowControl bool
	// OnData receives each incoming byte. Optional; replaceable through
	// SetOnData.
	OnData RxCallback
}

// Dependencies holds the external objects a UART handle uses.
type Dependencies struct {
	Log  zerolog.Logger
	Loop *mainloop.Loop
	// Backend overrides the termios port. Used by tests and for ports
	// with callback-driven drivers.
	Backend Backend
}

type writeEntry struct {
	data    []byte
	written int
	cb      WriteCallback
}

// UART is a serial port handle.
type UART struct {
	Config
	Dependencies

	fdPort  FdBackend
	watch   *mainloop.FdWatch
	evPort  EventBackend
	sub     *intsched.UARTSubscription
	pending *queue.Queue // of *writeEntry
	rxBuf   []byte
	closed  bool
}

const rxBufferSize = 4096

// Open configures the port. When no Backend dependency is given the port
// is opened through termios under /dev.
func Open(config Config, deps Dependencies) (*UART, error) {
	if deps.Loop == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "uart requires a loop")
	}
	if config.DataBits < 5 || config.DataBits > 8 {
		return nil, errors.Wrapf(model.InvalidArgumentError, "uart data bits %d outside [5,8]", config.DataBits)
	}
	deps.Log = deps.Log.With().
		Str("component", "uart").
		Str("port", config.PortName).
		Logger()
	if deps.Backend == nil {
		if config.PortName == "" {
			return nil, errors.Wrap(model.InvalidArgumentError, "uart requires a port name")
		}
		backend, err := openTermiosPort(config)
		if err != nil {
			return nil, maskAny(err)
		}
		deps.Backend = backend
	}

	u := &UART{
		Config:       config,
		Dependencies: deps,
		pending:      queue.New(),
	}

	switch port := deps.Backend.(type) {
	case FdBackend:
		u.fdPort = port
		u.rxBuf = make([]byte, rxBufferSize)
		if config.OnData != nil {
			u.watch = u.Loop.FdAdd(port.Fd(), mainloop.FlagIn|mainloop.FlagsError|mainloop.FlagHup, u.onFdEvent)
		}
	case EventBackend:
		u.evPort = port
		sched := intsched.New(u.Loop, u.Log)
		u.sub = sched.UARTInit(u.onRxByte, u.onTxDone, u.rearmTx, nil)
		port.SetHandlers(u.sub.RxByte, u.sub.TxReady)
	default:
		deps.Backend.Close()
		return nil, errors.Wrap(model.InvalidArgumentError, "uart back-end implements neither fd nor event transport")
	}
	return u, nil
}

// SetOnData replaces the receive callback. A nil cb stops delivery.
func (u *UART) SetOnData(cb RxCallback) {
	u.OnData = cb
	if u.fdPort == nil {
		return
	}
	if cb != nil && u.watch == nil {
		u.watch = u.Loop.FdAdd(u.fdPort.Fd(), mainloop.FlagIn|mainloop.FlagsError|mainloop.FlagHup, u.onFdEvent)
	} else if cb == nil && u.watch != nil && u.pending.Length() == 0 {
		u.Loop.FdDel(u.watch)
		u.watch = nil
	}
}

// Write copies data onto the transmit queue. cb, if not nil, fires exactly
// once when the entry drained or failed. Queued entries transmit in
// submission order.
func (u *UART) Write(data []byte, cb WriteCallback) error {
	if u.closed {
		return errors.Wrap(model.InvalidArgumentError, "uart handle is closed")
	}
	if len(data) == 0 {
		return errors.Wrap(model.InvalidArgumentError, "write needs data")
	}
	entry := &writeEntry{
		data: append([]byte(nil), data...),
		cb:   cb,
	}
	u.pending.Add(entry)
	writesQueuedTotal.Inc()

	if u.fdPort != nil {
		if u.watch == nil {
			u.watch = u.Loop.FdAdd(u.fdPort.Fd(), mainloop.FlagOut|mainloop.FlagsError|mainloop.FlagHup, u.onFdEvent)
		} else {
			u.Loop.FdAddFlags(u.watch, mainloop.FlagOut)
		}
		return nil
	}

	// Event back-end: a 0 -> 1 queue transition starts the TX engine.
	if u.pending.Length() == 1 {
		u.evPort.WriteByte(entry.data[0])
	}
	return nil
}

// onFdEvent services both directions of an fd port on the loop goroutine.
func (u *UART) onFdEvent(fd int, active mainloop.Flags) bool {
	if active&(mainloop.FlagsError|mainloop.FlagHup) != 0 {
		u.Log.Warn().Msg("port descriptor failed, failing queued writes")
		u.failQueue(-int(unix.EIO))
		if u.watch != nil {
			u.Loop.FdDel(u.watch)
			u.watch = nil
		}
		return false
	}

	if active&mainloop.FlagIn != 0 && u.OnData != nil {
		n, err := u.fdPort.Read(u.rxBuf)
		if err != nil && !isTransient(err) {
			u.Log.Warn().Err(err).Msg("could not read from port")
		}
		for _, b := range u.rxBuf[:n] {
			if u.OnData == nil || u.closed {
				break
			}
			bytesReadTotal.Inc()
			u.OnData(u, b)
		}
	}

	if active&mainloop.FlagOut == 0 || u.pending.Length() == 0 {
		return true
	}

	entry := u.pending.Peek().(*writeEntry)
	n, err := u.fdPort.Write(entry.data[entry.written:])
	if err != nil {
		if isTransient(err) {
			return true
		}
		u.Log.Warn().Err(err).Msg("could not write to port")
		u.failQueue(negErrno(err))
		return true
	}
	entry.written += n
	bytesWrittenTotal.Add(float64(n))
	if entry.written < len(entry.data) {
		return true
	}

	u.pending.Remove()
	u.stopTxIfIdle()
	u.dispatchWrite(entry, len(entry.data))
	return true
}

// onRxByte delivers one received byte of an event port.
func (u *UART) onRxByte(b byte) {
	if u.OnData != nil && !u.closed {
		bytesReadTotal.Inc()
		u.OnData(u, b)
	}
}

// onTxDone advances the write queue of an event port by the one byte that
// just drained. Returning true re-arms the transmitter through rearmTx.
func (u *UART) onTxDone() bool {
	if u.pending.Length() == 0 {
		return false
	}
	entry := u.pending.Peek().(*writeEntry)
	entry.written++
	bytesWrittenTotal.Inc()
	if entry.written < len(entry.data) {
		return true
	}
	u.pending.Remove()
	u.dispatchWrite(entry, len(entry.data))
	return u.pending.Length() > 0
}

// rearmTx pushes the next undrained byte to the TX engine.
func (u *UART) rearmTx() {
	if u.pending.Length() == 0 {
		return
	}
	entry := u.pending.Peek().(*writeEntry)
	u.evPort.WriteByte(entry.data[entry.written])
}

// stopTxIfIdle drops OUT interest when the queue emptied, keeping the
// watch itself alive while RX delivery needs it.
func (u *UART) stopTxIfIdle() {
	if u.pending.Length() > 0 || u.watch == nil {
		return
	}
	if u.OnData != nil {
		u.Loop.FdRemoveFlags(u.watch, mainloop.FlagOut)
	} else {
		u.Loop.FdDel(u.watch)
		u.watch = nil
	}
}

func (u *UART) dispatchWrite(entry *writeEntry, status int) {
	writesCompletedTotal.Inc()
	if entry.cb != nil {
		cb := entry.cb
		entry.cb = nil
		cb(u, entry.data, status)
	}
}

// failQueue completes the head entry and everything behind it with status.
func (u *UART) failQueue(status int) {
	for u.pending.Length() > 0 {
		entry := u.pending.Remove().(*writeEntry)
		u.dispatchWrite(entry, status)
	}
	u.stopTxIfIdle()
}

// Close cancels queued writes with a negated ECANCELED status, stops
// delivery and releases the port. Must not be called from the handle's
// own callbacks.
func (u *UART) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.watch != nil {
		u.Loop.FdDel(u.watch)
		u.watch = nil
	}
	if u.sub != nil {
		u.sub.Stop()
		u.sub = nil
	}
	for u.pending.Length() > 0 {
		entry := u.pending.Remove().(*writeEntry)
		u.dispatchWrite(entry, -int(unix.ECANCELED))
	}
	return u.Backend.Close()
}

func isTransient(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EAGAIN || errno == unix.EINTR
	}
	return false
}

// negErrno turns a back-end error into a negative completion status.
func negErrno(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(unix.EIO)
}
