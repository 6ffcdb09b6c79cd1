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

package model

import (
	"github.com/pkg/errors"
)

// PeripheralType identifies the kind of a configured peripheral.
type PeripheralType string

const (
	PeripheralTypeAIO  PeripheralType = "aio"
	PeripheralTypeGPIO PeripheralType = "gpio"
	PeripheralTypeI2C  PeripheralType = "i2c"
	PeripheralTypeSPI  PeripheralType = "spi"
	PeripheralTypeUART PeripheralType = "uart"
)

// Peripheral is the static configuration of a single peripheral handle
// opened by the daemon at startup.
type Peripheral struct {
	// Unique ID of this peripheral (used in telemetry topics and metrics labels).
	ID string `json:"id"`
	// Type of the peripheral.
	Type PeripheralType `json:"type"`
	// Device number or bus number (aio, i2c, spi).
	Device int `json:"device,omitempty"`
	// Pin or channel number (aio, gpio, spi chip-select).
	Pin int `json:"pin,omitempty"`
	// Precision in bits (aio only).
	Precision uint `json:"precision,omitempty"`
	// Address on the bus (i2c only).
	Address byte `json:"address,omitempty"`
	// Port name, e.g. "ttyS0" (uart only).
	PortName string `json:"port_name,omitempty"`
	// Poll interval in milliseconds for sampled inputs (aio, gpio without edge support).
	PollIntervalMs uint32 `json:"poll_interval_ms,omitempty"`
}

// LocalConfiguration is the configuration of all peripherals served by
// this daemon.
type LocalConfiguration struct {
	Peripherals []Peripheral `json:"peripherals"`
}

// Validate the configuration, returning an InvalidArgumentError when it
// does not make sense.
func (c LocalConfiguration) Validate() error {
	seen := make(map[string]struct{})
	for _, p := range c.Peripherals {
		if p.ID == "" {
			return errors.Wrap(InvalidArgumentError, "peripheral without ID")
		}
		if _, found := seen[p.ID]; found {
			return errors.Wrapf(InvalidArgumentError, "duplicate peripheral ID '%s'", p.ID)
		}
		seen[p.ID] = struct{}{}
		switch p.Type {
		case PeripheralTypeAIO:
			if p.Precision == 0 {
				return errors.Wrapf(InvalidArgumentError, "peripheral '%s': precision must be > 0", p.ID)
			}
		case PeripheralTypeGPIO, PeripheralTypeI2C, PeripheralTypeSPI:
			// No extra static constraints.
		case PeripheralTypeUART:
			if p.PortName == "" {
				return errors.Wrapf(InvalidArgumentError, "peripheral '%s': port name required", p.ID)
			}
		default:
			return errors.Wrapf(InvalidArgumentError, "peripheral '%s': unknown type '%s'", p.ID, p.Type)
		}
	}
	return nil
}
