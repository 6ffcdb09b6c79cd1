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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/bridge"
	"github.com/periferia-io/periferia/service/events"
)

func newTestService(t *testing.T, conf model.LocalConfiguration) Service {
	t.Helper()
	svc, err := NewService(Config{
		ProgramVersion: "test",
		Configuration:  conf,
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: bridge.NewStub(zerolog.Nop()),
		Events: events.NewService(zerolog.Nop()),
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRejectsInvalidConfiguration(t *testing.T) {
	_, err := NewService(Config{
		Configuration: model.LocalConfiguration{
			Peripherals: []model.Peripheral{
				{ID: "a", Type: model.PeripheralTypeGPIO},
				{ID: "a", Type: model.PeripheralTypeGPIO},
			},
		},
	}, Dependencies{
		Log:    zerolog.Nop(),
		Bridge: bridge.NewStub(zerolog.Nop()),
		Events: events.NewService(zerolog.Nop()),
	})
	require.Error(t, err)
	assert.True(t, model.IsInvalidArgument(err))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	svc := newTestService(t, model.LocalConfiguration{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	// Give the loop time to start before stopping it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}

func TestStatusReportsVersion(t *testing.T) {
	svc := newTestService(t, model.LocalConfiguration{})
	status := svc.Status()
	assert.Equal(t, "test", status.Version)
	assert.Empty(t, status.Peripherals)
	assert.False(t, status.StartedAt.IsZero())
}

func TestRunFailsOnUnopenablePeripheral(t *testing.T) {
	svc := newTestService(t, model.LocalConfiguration{
		Peripherals: []model.Peripheral{
			// No IIO device with this index exists on a test host.
			{ID: "adc0", Type: model.PeripheralTypeAIO, Device: 250, Pin: 0, Precision: 12},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := svc.Run(ctx)
	require.Error(t, err)
}
