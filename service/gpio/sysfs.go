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

package gpio

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/periferia-io/periferia/model"
)

const gpioBasePath = "/sys/class/gpio"

const exportStatRetries = 10

// sysfsPin drives a pin through the legacy Linux sysfs GPIO interface.
type sysfsPin struct {
	pin   uint32
	value *os.File
	// owned marks pins this process exported and must unexport on Close.
	owned bool
}

func newSysfsPin(pin uint32, dir Direction, initialValue bool) (*sysfsPin, error) {
	p := &sysfsPin{pin: pin}
	pinDir := fmt.Sprintf("%s/gpio%d", gpioBasePath, pin)
	if _, err := os.Stat(pinDir); err != nil {
		if err := p.export(false); err != nil {
			return nil, maskAny(err)
		}
		p.owned = true
	}

	if err := p.setDirection(dir, initialValue); err != nil {
		p.cleanup()
		return nil, maskAny(err)
	}

	flags := os.O_RDONLY
	if dir == DirectionOut {
		flags = os.O_WRONLY
	}
	f, err := os.OpenFile(pinDir+"/value", flags, 0)
	if err != nil {
		p.cleanup()
		return nil, errors.Wrapf(model.NotFoundError, "could not open value of gpio %d", pin)
	}
	p.value = f
	return p, nil
}

// export writes the pin number to export (or unexport) and waits for the
// pin directory to appear. Creation is usually instantaneous but can lag on
// slow systems.
func (p *sysfsPin) export(unexport bool) error {
	action := gpioBasePath + "/export"
	if unexport {
		action = gpioBasePath + "/unexport"
	}
	if err := os.WriteFile(action, []byte(fmt.Sprintf("%d", p.pin)), 0644); err != nil {
		return errors.Wrapf(model.IOError, "could not export gpio %d", p.pin)
	}
	if unexport {
		return nil
	}
	pinDir := fmt.Sprintf("%s/gpio%d", gpioBasePath, p.pin)
	for i := 0; i < exportStatRetries; i++ {
		if _, err := os.Stat(pinDir); err == nil {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return errors.Wrapf(model.IOError, "gpio %d did not appear after export", p.pin)
}

// setDirection writes the direction attribute when it exists. Pins without
// one are trusted to already match the requested mode.
func (p *sysfsPin) setDirection(dir Direction, initialValue bool) error {
	path := fmt.Sprintf("%s/gpio%d/direction", gpioBasePath, p.pin)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	val := "in"
	if dir == DirectionOut {
		// "high"/"low" atomically sets direction and initial level.
		val = "low"
		if initialValue {
			val = "high"
		}
	}
	if err := os.WriteFile(path, []byte(val), 0644); err != nil {
		return errors.Wrapf(model.IOError, "could not set direction of gpio %d to %s", p.pin, val)
	}
	return nil
}

func (p *sysfsPin) ReadRaw() (bool, error) {
	var buf [8]byte
	n, err := p.value.ReadAt(buf[:], 0)
	if n == 0 && err != nil {
		return false, errors.Wrapf(model.IOError, "could not read gpio %d", p.pin)
	}
	return strings.TrimSpace(string(buf[:n])) != "0", nil
}

func (p *sysfsPin) WriteRaw(value bool) error {
	b := []byte("0")
	if value {
		b = []byte("1")
	}
	if _, err := p.value.WriteAt(b, 0); err != nil {
		return errors.Wrapf(model.IOError, "could not write gpio %d", p.pin)
	}
	return nil
}

// SetDrive is not available through sysfs.
func (p *sysfsPin) SetDrive(mode DriveMode) error {
	if mode == DriveNone {
		return nil
	}
	return errors.Wrapf(model.UnsupportedError, "gpio %d: sysfs cannot configure pull resistors", p.pin)
}

// SetEdge arms kernel edge reporting when the pin has an edge attribute.
func (p *sysfsPin) SetEdge(edge Edge) error {
	var val string
	switch edge {
	case EdgeRising:
		val = "rising"
	case EdgeFalling:
		val = "falling"
	case EdgeBoth:
		val = "both"
	default:
		return errors.Wrapf(model.InvalidArgumentError, "gpio %d: bad edge mode %d", p.pin, edge)
	}
	path := fmt.Sprintf("%s/gpio%d/edge", gpioBasePath, p.pin)
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(model.UnsupportedError, "gpio %d has no edge support", p.pin)
	}
	if err := os.WriteFile(path, []byte(val), 0644); err != nil {
		return errors.Wrapf(model.UnsupportedError, "gpio %d: could not set edge mode %s", p.pin, val)
	}
	return nil
}

func (p *sysfsPin) WatchFd() int {
	return int(p.value.Fd())
}

func (p *sysfsPin) cleanup() {
	if p.value != nil {
		p.value.Close()
		p.value = nil
	}
	if p.owned {
		p.export(true)
		p.owned = false
	}
}

func (p *sysfsPin) Close() error {
	p.cleanup()
	return nil
}
