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

package aio

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/periferia-io/periferia/model"
)

const iioBasePath = "/sys/bus/iio/devices"

// sysfsReader samples a raw voltage channel of a Linux IIO device.
type sysfsReader struct {
	f *os.File
}

func newSysfsReader(device, pin int) (*sysfsReader, error) {
	path := fmt.Sprintf("%s/iio:device%d/in_voltage%d_raw", iioBasePath, device, pin)
	f, err := os.Open(path)
	if err != nil {
		devPath := fmt.Sprintf("%s/iio:device%d", iioBasePath, device)
		if _, statErr := os.Stat(devPath); statErr != nil {
			return nil, errors.Wrapf(model.NotFoundError, "aio device %d does not exist", device)
		}
		return nil, errors.Wrapf(model.NotFoundError, "could not open pin %d on aio device %d", pin, device)
	}
	return &sysfsReader{f: f}, nil
}

// ReadRaw reads the current sample. The attribute file stays open across
// reads and is rewound each time.
func (r *sysfsReader) ReadRaw() (uint32, error) {
	var buf [32]byte
	n, err := r.f.ReadAt(buf[:], 0)
	if n == 0 && err != nil {
		return 0, maskAny(err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(buf[:n])), 10, 32)
	if err != nil {
		return 0, errors.Wrap(model.IOError, "malformed sample")
	}
	return uint32(v), nil
}

func (r *sysfsReader) Close() error {
	return r.f.Close()
}
