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
	"strings"

	"go.bug.st/serial"
)

// Enumerate lists the serial port names present on the system, as accepted
// by Config.PortName.
func Enumerate() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, maskAny(err)
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, strings.TrimPrefix(p, "/dev/"))
	}
	return names, nil
}
