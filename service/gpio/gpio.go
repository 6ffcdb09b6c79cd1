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

// Package gpio drives digital pins. Input pins can report edges either
// through the back-end's interrupt file descriptor or, when the back-end
// has none, through a polling timer on the main loop.
package gpio

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
)

// Direction selects pin data direction.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// DriveMode selects the internal resistor configuration.
type DriveMode uint8

const (
	DriveNone DriveMode = iota
	DrivePullUp
	DrivePullDown
)

// Edge selects which transitions of an input pin raise events.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// EdgeCallback receives input pin transitions on the loop goroutine.
type EdgeCallback func(g *GPIO, value bool)

// Backend is the capability behind a GPIO handle.
type Backend interface {
	ReadRaw() (bool, error)
	WriteRaw(value bool) error
	// SetDrive configures the resistor mode; UnsupportedError when the
	// back-end cannot.
	SetDrive(mode DriveMode) error
	// SetEdge arms hardware edge reporting; UnsupportedError selects the
	// polling fallback.
	SetEdge(edge Edge) error
	// WatchFd returns the descriptor that reports edges as PRI readiness,
	// -1 when there is none.
	WatchFd() int
	Close() error
}

// InConfig configures an input pin.
type InConfig struct {
	// Trigger selects the transitions delivered to Cb.
	Trigger Edge
	Cb      EdgeCallback
	// PollTimeout is the polling interval used when the back-end cannot
	// report edges itself. Required in that case.
	PollTimeout time.Duration
}

// OutConfig configures an output pin.
type OutConfig struct {
	InitialValue bool
}

// Config holds the settings of a GPIO handle.
type Config struct {
	Pin       uint32
	Direction Direction
	// ActiveLow inverts values on both Read and Write.
	ActiveLow bool
	Drive     DriveMode
	In        InConfig
	Out       OutConfig
}

// Dependencies holds the external objects a GPIO handle uses.
type Dependencies struct {
	Log  zerolog.Logger
	Loop *mainloop.Loop
	// Backend overrides the sysfs back-end. Used by tests.
	Backend Backend
}

// GPIO is a digital pin handle.
type GPIO struct {
	Config
	Dependencies

	watch     *mainloop.FdWatch
	timer     *mainloop.Timeout
	lastValue bool
	onRaise   bool
	onFall    bool
	closed    bool
}

// Open configures the pin and, for inputs with a trigger, arms edge
// delivery.
func Open(config Config, deps Dependencies) (*GPIO, error) {
	if deps.Loop == nil {
		return nil, errors.Wrap(model.InvalidArgumentError, "gpio requires a loop")
	}
	deps.Log = deps.Log.With().
		Str("component", "gpio").
		Uint32("pin", config.Pin).
		Logger()
	if deps.Backend == nil {
		backend, err := newSysfsPin(config.Pin, config.Direction, config.Out.InitialValue != config.ActiveLow)
		if err != nil {
			return nil, maskAny(err)
		}
		deps.Backend = backend
	}
	g := &GPIO{
		Config:       config,
		Dependencies: deps,
	}

	if err := g.Backend.SetDrive(config.Drive); err != nil {
		g.Backend.Close()
		return nil, maskAny(err)
	}
	if config.Direction == DirectionOut {
		if err := g.Backend.WriteRaw(config.Out.InitialValue != config.ActiveLow); err != nil {
			g.Backend.Close()
			return nil, maskAny(err)
		}
		return g, nil
	}
	if err := g.armInput(); err != nil {
		g.Backend.Close()
		return nil, maskAny(err)
	}
	return g, nil
}

func (g *GPIO) armInput() error {
	trig := g.In.Trigger
	if trig == EdgeNone {
		return nil
	}
	if g.In.Cb == nil {
		return errors.Wrap(model.InvalidArgumentError, "input trigger needs a callback")
	}

	// Start from the current level so the first poll pass does not report a
	// phantom edge.
	if v, err := g.Read(); err == nil {
		g.lastValue = v
	}

	err := g.Backend.SetEdge(trig)
	if err == nil {
		if fd := g.Backend.WatchFd(); fd >= 0 {
			g.watch = g.Loop.FdAdd(fd, mainloop.FlagPri, g.onFdEvent)
			return nil
		}
		err = model.UnsupportedError
	}
	if !model.IsUnsupported(errors.Cause(err)) {
		return maskAny(err)
	}

	// Polling fallback.
	if g.In.PollTimeout <= 0 {
		return errors.Wrap(model.InvalidArgumentError, "edge reporting unsupported and no poll timeout given")
	}
	g.Log.Debug().Msg("falling back to timeout polling mode")
	g.onRaise = trig == EdgeBoth || trig == EdgeRising
	g.onFall = trig == EdgeBoth || trig == EdgeFalling
	g.timer = g.Loop.TimeoutAdd(g.In.PollTimeout, g.onPollTimeout)
	return nil
}

// onFdEvent runs on the loop goroutine when the back-end signals an edge.
// Sysfs value files keep ERR permanently asserted, so only PRI is
// meaningful here.
func (g *GPIO) onFdEvent(fd int, active mainloop.Flags) bool {
	if active&mainloop.FlagPri != 0 {
		v, err := g.Read()
		if err != nil {
			g.Log.Warn().Err(err).Msg("could not read value")
			return true
		}
		g.In.Cb(g, v)
	}
	return true
}

func (g *GPIO) onPollTimeout() bool {
	v, err := g.Read()
	if err != nil {
		g.Log.Warn().Err(err).Msg("could not read value")
		return true
	}
	if v != g.lastValue {
		g.lastValue = v
		if (v && g.onRaise) || (!v && g.onFall) {
			g.In.Cb(g, v)
		}
	}
	return true
}

// Read returns the pin level, inverted when ActiveLow is set.
func (g *GPIO) Read() (bool, error) {
	v, err := g.Backend.ReadRaw()
	if err != nil {
		return false, maskAny(err)
	}
	return v != g.ActiveLow, nil
}

// Write sets the pin level, inverted when ActiveLow is set.
func (g *GPIO) Write(value bool) error {
	return maskAny(g.Backend.WriteRaw(value != g.ActiveLow))
}

// Close disarms edge delivery and releases the pin. No callback fires
// after it returns.
func (g *GPIO) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if g.watch != nil {
		g.Loop.FdDel(g.watch)
		g.watch = nil
	}
	if g.timer != nil {
		g.Loop.TimeoutDel(g.timer)
		g.timer = nil
	}
	return g.Backend.Close()
}
