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

package service

import (
	"context"
	"sync"
	"time"

	aerr "github.com/ewoutp/go-aggregate-error"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/server"
	"github.com/periferia-io/periferia/service/aio"
	"github.com/periferia-io/periferia/service/bridge"
	"github.com/periferia-io/periferia/service/events"
	"github.com/periferia-io/periferia/service/gpio"
	"github.com/periferia-io/periferia/service/i2c"
	"github.com/periferia-io/periferia/service/mainloop"
	"github.com/periferia-io/periferia/service/spi"
	"github.com/periferia-io/periferia/service/uart"
)

const (
	// Polling interval used for watched inputs when the configuration
	// does not give one.
	defaultPollInterval = time.Millisecond * 100
	// Defaults for bus handles the configuration does not detail.
	defaultSpiFrequency  = 500000
	defaultSpiWordLength = 8
	defaultUartDataBits  = 8
)

type Service interface {
	// Run the daemon until the given context is cancelled.
	Run(ctx context.Context) error
	// Status returns the current daemon status.
	Status() server.Status
}

type Config struct {
	ProgramVersion string
	Configuration  model.LocalConfiguration
}

type Dependencies struct {
	Log    zerolog.Logger
	Bridge bridge.API
	Events events.Service
}

// openHandle is one opened peripheral.
type openHandle struct {
	id    string
	typ   model.PeripheralType
	busy  func() bool
	close func() error
}

type service struct {
	Config
	Dependencies

	mutex     sync.Mutex
	startedAt time.Time
	handles   []openHandle
}

// NewService creates a Service instance and returns it.
func NewService(conf Config, deps Dependencies) (Service, error) {
	deps.Log = deps.Log.With().Str("component", "service").Logger()
	if err := conf.Configuration.Validate(); err != nil {
		return nil, maskAny(err)
	}
	return &service{
		Config:       conf,
		Dependencies: deps,
		startedAt:    time.Now(),
	}, nil
}

// quitMsg asks the loop to stop from another goroutine.
type quitMsg struct {
	loop *mainloop.Loop
}

func (m quitMsg) Dispatch() {
	m.loop.Quit()
}

// Run opens all configured peripherals, runs the main loop until the given
// context is cancelled and closes the peripherals again.
func (s *service) Run(ctx context.Context) error {
	s.Bridge.BlinkGreenLED(time.Millisecond * 250)
	defer s.Bridge.SetGreenLED(false)

	loop, err := mainloop.New(s.Log)
	if err != nil {
		s.Bridge.SetRedLED(true)
		return maskAny(err)
	}
	defer loop.Close()

	if err := s.openPeripherals(loop); err != nil {
		s.closePeripherals()
		s.Bridge.SetRedLED(true)
		return maskAny(err)
	}
	s.Log.Info().Int("peripherals", len(s.Configuration.Peripherals)).Msg("Peripherals opened")
	s.Bridge.SetGreenLED(true)
	s.Bridge.SetRedLED(false)

	go func() {
		<-ctx.Done()
		loop.Wakeup(quitMsg{loop: loop})
	}()

	code := loop.Run()
	s.Log.Debug().Int("code", code).Msg("Main loop finished")

	if err := s.closePeripherals(); err != nil {
		s.Bridge.SetRedLED(true)
		return maskAny(err)
	}
	return nil
}

// openPeripherals opens a handle for every configured peripheral and wires
// its events to the event service.
func (s *service) openPeripherals(loop *mainloop.Loop) error {
	for _, p := range s.Configuration.Peripherals {
		h, err := s.openPeripheral(loop, p)
		if err != nil {
			return errors.Wrapf(err, "open peripheral '%s'", p.ID)
		}
		s.mutex.Lock()
		s.handles = append(s.handles, h)
		s.mutex.Unlock()
	}
	return nil
}

func (s *service) openPeripheral(loop *mainloop.Loop, p model.Peripheral) (openHandle, error) {
	neverBusy := func() bool { return false }
	switch p.Type {
	case model.PeripheralTypeAIO:
		h, err := aio.Open(aio.Config{
			Device:    p.Device,
			Pin:       p.Pin,
			Precision: p.Precision,
		}, aio.Dependencies{Log: s.Log, Loop: loop})
		if err != nil {
			return openHandle{}, maskAny(err)
		}
		closeHandle := h.Close
		if p.PollIntervalMs > 0 {
			timer := loop.TimeoutAdd(time.Duration(p.PollIntervalMs)*time.Millisecond, func() bool {
				s.sampleAIO(p.ID, h)
				return true
			})
			closeHandle = func() error {
				loop.TimeoutDel(timer)
				return h.Close()
			}
		}
		return openHandle{id: p.ID, typ: p.Type, busy: h.Busy, close: closeHandle}, nil

	case model.PeripheralTypeGPIO:
		h, err := gpio.Open(gpio.Config{
			Pin:       uint32(p.Pin),
			Direction: gpio.DirectionIn,
			In: gpio.InConfig{
				Trigger:     gpio.EdgeBoth,
				Cb:          s.gpioEdge(p.ID),
				PollTimeout: pollInterval(p),
			},
		}, gpio.Dependencies{Log: s.Log, Loop: loop})
		if err != nil {
			return openHandle{}, maskAny(err)
		}
		return openHandle{id: p.ID, typ: p.Type, busy: neverBusy, close: h.Close}, nil

	case model.PeripheralTypeI2C:
		h, err := i2c.Open(i2c.Config{
			Bus: uint8(p.Device),
		}, i2c.Dependencies{Log: s.Log, Loop: loop})
		if err != nil {
			return openHandle{}, maskAny(err)
		}
		if p.Address != 0 {
			if err := h.SetSlaveAddress(p.Address); err != nil {
				h.Close()
				return openHandle{}, maskAny(err)
			}
		}
		return openHandle{id: p.ID, typ: p.Type, busy: h.Busy, close: h.Close}, nil

	case model.PeripheralTypeSPI:
		h, err := spi.Open(spi.Config{
			Bus:         uint(p.Device),
			ChipSelect:  uint(p.Pin),
			Frequency:   defaultSpiFrequency,
			BitsPerWord: defaultSpiWordLength,
		}, spi.Dependencies{Log: s.Log, Loop: loop})
		if err != nil {
			return openHandle{}, maskAny(err)
		}
		return openHandle{id: p.ID, typ: p.Type, busy: h.Busy, close: h.Close}, nil

	case model.PeripheralTypeUART:
		h, err := uart.Open(uart.Config{
			PortName: p.PortName,
			BaudRate: uart.Baud115200,
			DataBits: defaultUartDataBits,
		}, uart.Dependencies{Log: s.Log, Loop: loop})
		if err != nil {
			return openHandle{}, maskAny(err)
		}
		return openHandle{id: p.ID, typ: p.Type, busy: neverBusy, close: h.Close}, nil
	}
	return openHandle{}, errors.Wrapf(model.InvalidArgumentError, "unknown peripheral type '%s'", p.Type)
}

// sampleAIO starts one read and publishes the result.
func (s *service) sampleAIO(id string, h *aio.AIO) {
	_, err := h.GetValue(func(a *aio.AIO, status int32) {
		s.Events.PublishTransfer(events.TransferEvent{
			PeripheralID: id,
			Type:         model.PeripheralTypeAIO,
			Operation:    "get_value",
			Status:       int(status),
			Time:         time.Now(),
		})
	})
	if err != nil && !model.IsBusy(err) {
		s.Log.Warn().Err(err).Str("id", id).Msg("Failed to start analog read")
	}
}

// gpioEdge builds the edge callback for a watched input.
func (s *service) gpioEdge(id string) gpio.EdgeCallback {
	return func(g *gpio.GPIO, value bool) {
		s.Events.PublishEdge(events.EdgeEvent{
			PeripheralID: id,
			Value:        value,
			Time:         time.Now(),
		})
	}
}

// closePeripherals closes all open handles, keeping going on failures.
func (s *service) closePeripherals() error {
	s.mutex.Lock()
	handles := s.handles
	s.handles = nil
	s.mutex.Unlock()

	var ae aerr.AggregateError
	for _, h := range handles {
		if err := h.close(); err != nil {
			s.Log.Warn().Err(err).Str("id", h.id).Msg("Failed to close peripheral")
			ae.Add(maskAny(err))
		}
	}
	return ae.AsError()
}

// Status returns the current daemon status.
func (s *service) Status() server.Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	peripherals := make([]server.PeripheralStatus, 0, len(s.handles))
	for _, h := range s.handles {
		peripherals = append(peripherals, server.PeripheralStatus{
			ID:   h.id,
			Type: h.typ,
			Busy: h.busy(),
		})
	}
	return server.Status{
		Version:     s.ProgramVersion,
		StartedAt:   s.startedAt,
		Peripherals: peripherals,
	}
}

func pollInterval(p model.Peripheral) time.Duration {
	if p.PollIntervalMs == 0 {
		return defaultPollInterval
	}
	return time.Duration(p.PollIntervalMs) * time.Millisecond
}
