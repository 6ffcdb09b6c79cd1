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

package spi

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
)

const (
	// From /usr/include/linux/spi/spidev.h:
	SPI_IOC_WR_MODE          = 0x40016b01
	SPI_IOC_WR_BITS_PER_WORD = 0x40016b03
	SPI_IOC_WR_MAX_SPEED_HZ  = 0x40046b04
	// SPI_IOC_MESSAGE(1): one spi_ioc_transfer of 32 bytes.
	SPI_IOC_MESSAGE_1 = 0x40206b00
)

type spiIocTransfer struct {
	txBuf       uint64
	rxBuf       uint64
	len         uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	pad         uint32
}

// spidevBus clocks transfers through a Linux /dev/spidevB.C node.
type spidevBus struct {
	file        *os.File
	bitsPerWord uint8
	speedHz     uint32
}

func newSpidev(config Config) (*spidevBus, error) {
	location := fmt.Sprintf("/dev/spidev%d.%d", config.Bus, config.ChipSelect)
	f, err := os.OpenFile(location, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(model.NotFoundError, "spi device %s does not exist", location)
		}
		return nil, maskAny(err)
	}
	b := &spidevBus{
		file:        f,
		bitsPerWord: config.BitsPerWord,
		speedHz:     config.Frequency,
	}

	mode := uint8(config.Mode)
	if err := b.ioctl(SPI_IOC_WR_MODE, uintptr(unsafe.Pointer(&mode))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not set mode of %s", location)
	}
	if err := b.ioctl(SPI_IOC_WR_MAX_SPEED_HZ, uintptr(unsafe.Pointer(&b.speedHz))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not set speed of %s", location)
	}
	if err := b.ioctl(SPI_IOC_WR_BITS_PER_WORD, uintptr(unsafe.Pointer(&b.bitsPerWord))); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "could not set word size of %s", location)
	}
	return b, nil
}

func (b *spidevBus) ioctl(signal uintptr, payload uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.file.Fd(), signal, payload)
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *spidevBus) Transfer(tx, rx []byte) error {
	tr := spiIocTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		len:         uint32(len(tx)),
		speedHz:     b.speedHz,
		bitsPerWord: b.bitsPerWord,
	}
	if err := b.ioctl(SPI_IOC_MESSAGE_1, uintptr(unsafe.Pointer(&tr))); err != nil {
		return maskAny(err)
	}
	return nil
}

func (b *spidevBus) Close() error {
	return b.file.Close()
}
