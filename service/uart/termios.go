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

package uart

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
)

var baudBits = map[BaudRate]uint32{
	Baud9600:   unix.B9600,
	Baud19200:  unix.B19200,
	Baud38400:  unix.B38400,
	Baud57600:  unix.B57600,
	Baud115200: unix.B115200,
}

var dataBits = map[uint8]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// termiosPort is a /dev tty configured through termios, non-blocking, fd
// driven.
type termiosPort struct {
	fd int
}

func openTermiosPort(config Config) (*termiosPort, error) {
	baud, ok := baudBits[config.BaudRate]
	if !ok {
		return nil, errors.Wrapf(model.InvalidArgumentError, "unsupported baud rate %d", config.BaudRate)
	}

	device := "/dev/" + config.PortName
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, errors.Wrapf(model.NotFoundError, "device %s does not exist", device)
		}
		return nil, errors.Wrapf(err, "unable to open device %s", device)
	}

	tio := unix.Termios{
		Cflag:  baud | dataBits[config.DataBits] | unix.CREAD | unix.CLOCAL,
		Ispeed: baud,
		Ospeed: baud,
	}
	switch config.Parity {
	case ParityEven:
		tio.Cflag |= unix.PARENB
		tio.Iflag |= unix.INPCK
	case ParityOdd:
		tio.Cflag |= unix.PARENB | unix.PARODD
		tio.Iflag |= unix.INPCK
	}
	if config.StopBits == StopBitsTwo {
		tio.Cflag |= unix.CSTOPB
	}
	if config.FlowControl {
		tio.Cflag |= unix.CRTSCTS
		tio.Iflag |= unix.IXON | unix.IXOFF | unix.IXANY
	}
	// Raw mode: one byte at a time, no read timer.
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &tio); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "unable to set port configuration")
	}
	// Discard anything buffered under the previous configuration.
	unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	return &termiosPort{fd: fd}, nil
}

func (p *termiosPort) Fd() int {
	return p.fd
}

func (p *termiosPort) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *termiosPort) Write(b []byte) (int, error) {
	n, err := unix.Write(p.fd, b)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *termiosPort) Close() error {
	return unix.Close(p.fd)
}
