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

package i2c

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
)

const (
	// From /usr/include/linux/i2c-dev.h:
	// ioctl signals
	I2C_SLAVE = 0x0703
	I2C_FUNCS = 0x0705
	I2C_RDWR  = 0x0707
	I2C_SMBUS = 0x0720
	// Read/write markers
	I2C_SMBUS_READ  = 1
	I2C_SMBUS_WRITE = 0

	// From /usr/include/linux/i2c.h:
	// Adapter functionality
	I2C_FUNC_I2C                   = 0x00000001
	I2C_FUNC_SMBUS_QUICK           = 0x00010000
	I2C_FUNC_SMBUS_READ_BYTE       = 0x00020000
	I2C_FUNC_SMBUS_WRITE_BYTE      = 0x00040000
	I2C_FUNC_SMBUS_READ_BYTE_DATA  = 0x00080000
	I2C_FUNC_SMBUS_WRITE_BYTE_DATA = 0x00100000
	// Transaction types
	I2C_SMBUS_QUICK          = 0
	I2C_SMBUS_BYTE           = 1
	I2C_SMBUS_BYTE_DATA      = 2
	I2C_SMBUS_WORD_DATA      = 3
	I2C_SMBUS_I2C_BLOCK_DATA = 8

	I2C_SMBUS_BLOCK_MAX = 32

	// Message flags
	I2C_M_RD = 0x0001
)

type i2cSmbusIoctlData struct {
	readWrite byte
	command   byte
	size      uint32
	data      uintptr
}

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrIoctlData struct {
	msgs  uintptr
	nmsgs uint32
}

// devBus talks to a Linux /dev/i2c-<bus> adapter, using SMBus ioctls for
// transfers up to 32 bytes and plain-I2C RDWR beyond that.
type devBus struct {
	file  *os.File
	addr  uint8
	funcs uint64 // adapter functionality mask
}

func newDevBus(bus uint8) (*devBus, error) {
	location := fmt.Sprintf("/dev/i2c-%d", bus)
	f, err := os.OpenFile(location, os.O_RDWR, os.ModeExclusive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(model.NotFoundError, "i2c adapter %s does not exist", location)
		}
		return nil, maskAny(err)
	}
	d := &devBus{file: f}
	if err := d.ioctl(I2C_FUNCS, uintptr(unsafe.Pointer(&d.funcs))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "querying functionality of %s failed", location)
	}
	return d, nil
}

func (d *devBus) ioctl(signal uintptr, payload uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), signal, payload)
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *devBus) SetAddress(addr uint8) error {
	if err := d.ioctl(I2C_SLAVE, uintptr(addr)); err != nil {
		return maskAny(err)
	}
	d.addr = addr
	return nil
}

func (d *devBus) SupportsPlain() bool {
	return d.funcs&I2C_FUNC_I2C != 0
}

func (d *devBus) smbusAccess(readWrite byte, command byte, size uint32, data uintptr) error {
	smbus := &i2cSmbusIoctlData{
		readWrite: readWrite,
		command:   command,
		size:      size,
		data:      data,
	}
	return d.ioctl(I2C_SMBUS, uintptr(unsafe.Pointer(smbus)))
}

func (d *devBus) WriteQuick(value bool) error {
	if d.funcs&I2C_FUNC_SMBUS_QUICK == 0 {
		return errors.Wrap(model.UnsupportedError, "adapter has no SMBus quick support")
	}
	rw := byte(I2C_SMBUS_WRITE)
	if value {
		rw = I2C_SMBUS_READ
	}
	return maskAny(d.smbusAccess(rw, 0, I2C_SMBUS_QUICK, 0))
}

// Read fills data one SMBus byte read at a time, matching adapters without
// plain-I2C support.
func (d *devBus) Read(data []byte) (int, error) {
	if d.funcs&I2C_FUNC_SMBUS_READ_BYTE == 0 {
		return 0, errors.Wrap(model.UnsupportedError, "adapter has no SMBus read byte support")
	}
	for i := range data {
		var b uint8
		if err := d.smbusAccess(I2C_SMBUS_READ, 0, I2C_SMBUS_BYTE, uintptr(unsafe.Pointer(&b))); err != nil {
			return i, maskAny(err)
		}
		data[i] = b
	}
	return len(data), nil
}

func (d *devBus) Write(data []byte) (int, error) {
	if d.funcs&I2C_FUNC_SMBUS_WRITE_BYTE == 0 {
		return 0, errors.Wrap(model.UnsupportedError, "adapter has no SMBus write byte support")
	}
	for i, b := range data {
		if err := d.smbusAccess(I2C_SMBUS_WRITE, b, I2C_SMBUS_BYTE, 0); err != nil {
			return i, maskAny(err)
		}
	}
	return len(data), nil
}

func (d *devBus) ReadRegister(reg uint8, data []byte) (int, error) {
	if len(data) > I2C_SMBUS_BLOCK_MAX {
		return d.plainReadRegister(reg, data)
	}
	// SMBus block reads prefix the payload with its length.
	var block [I2C_SMBUS_BLOCK_MAX + 1]byte
	block[0] = byte(len(data))
	size := uint32(I2C_SMBUS_I2C_BLOCK_DATA)
	if err := d.smbusAccess(I2C_SMBUS_READ, reg, size, uintptr(unsafe.Pointer(&block[0]))); err != nil {
		return 0, maskAny(err)
	}
	n := int(block[0])
	if n > len(data) {
		n = len(data)
	}
	copy(data, block[1:1+n])
	return len(data), nil
}

func (d *devBus) WriteRegister(reg uint8, data []byte) (int, error) {
	if len(data) > I2C_SMBUS_BLOCK_MAX {
		return d.plainWriteRegister(reg, data)
	}
	var block [I2C_SMBUS_BLOCK_MAX + 1]byte
	block[0] = byte(len(data))
	copy(block[1:], data)
	size := uint32(I2C_SMBUS_I2C_BLOCK_DATA)
	if err := d.smbusAccess(I2C_SMBUS_WRITE, reg, size, uintptr(unsafe.Pointer(&block[0]))); err != nil {
		return 0, maskAny(err)
	}
	return len(data), nil
}

// plainReadRegister issues a write/read message pair through the RDWR
// ioctl, required for transfers beyond the SMBus block limit.
func (d *devBus) plainReadRegister(reg uint8, data []byte) (int, error) {
	if !d.SupportsPlain() {
		return 0, errors.Wrap(model.UnsupportedError, "transfer over 32 bytes needs a plain-I2C adapter")
	}
	command := reg
	msgs := [2]i2cMsg{
		{
			addr: uint16(d.addr),
			len:  1,
			buf:  uintptr(unsafe.Pointer(&command)),
		},
		{
			addr:  uint16(d.addr),
			flags: I2C_M_RD,
			len:   uint16(len(data)),
			buf:   uintptr(unsafe.Pointer(&data[0])),
		},
	}
	payload := i2cRdwrIoctlData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: 2,
	}
	if err := d.ioctl(I2C_RDWR, uintptr(unsafe.Pointer(&payload))); err != nil {
		return 0, maskAny(err)
	}
	return len(data), nil
}

func (d *devBus) plainWriteRegister(reg uint8, data []byte) (int, error) {
	if !d.SupportsPlain() {
		return 0, errors.Wrap(model.UnsupportedError, "transfer over 32 bytes needs a plain-I2C adapter")
	}
	buf := make([]byte, len(data)+1)
	buf[0] = reg
	copy(buf[1:], data)
	msg := i2cMsg{
		addr: uint16(d.addr),
		len:  uint16(len(buf)),
		buf:  uintptr(unsafe.Pointer(&buf[0])),
	}
	payload := i2cRdwrIoctlData{
		msgs:  uintptr(unsafe.Pointer(&msg)),
		nmsgs: 1,
	}
	if err := d.ioctl(I2C_RDWR, uintptr(unsafe.Pointer(&payload))); err != nil {
		return 0, maskAny(err)
	}
	return len(data), nil
}

func (d *devBus) Close() error {
	return d.file.Close()
}
