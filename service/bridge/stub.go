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

package bridge

import (
	"time"

	"github.com/rs/zerolog"
)

// NewStub creates a bridge that only logs led changes.
// It is used on hosts without status leds.
func NewStub(log zerolog.Logger) API {
	return &stubAPI{
		log: log.With().Str("component", "bridge").Logger(),
	}
}

type stubAPI struct {
	log zerolog.Logger
}

// Turn Green status led on/off
func (s *stubAPI) SetGreenLED(on bool) error {
	s.log.Debug().Bool("on", on).Msg("Green led")
	return nil
}

// Turn Red status led on/off
func (s *stubAPI) SetRedLED(on bool) error {
	s.log.Debug().Bool("on", on).Msg("Red led")
	return nil
}

// Blink Green status led with given duration between on/off
func (s *stubAPI) BlinkGreenLED(delay time.Duration) error {
	s.log.Debug().Dur("delay", delay).Msg("Blink green led")
	return nil
}

// Blink Red status led with given duration between on/off
func (s *stubAPI) BlinkRedLED(delay time.Duration) error {
	s.log.Debug().Dur("delay", delay).Msg("Blink red led")
	return nil
}

func (s *stubAPI) Close() error {
	return nil
}
