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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
)

// mockPin is a pin level settable from the test, with no edge support, so
// the handle falls back to the polling timer.
type mockPin struct {
	mu      sync.Mutex
	value   bool
	written []bool
}

func (m *mockPin) ReadRaw() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *mockPin) WriteRaw(value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	m.written = append(m.written, value)
	return nil
}

func (m *mockPin) set(value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
}

func (m *mockPin) SetDrive(mode DriveMode) error {
	if mode == DriveNone {
		return nil
	}
	return model.UnsupportedError
}

func (m *mockPin) SetEdge(edge Edge) error { return model.UnsupportedError }
func (m *mockPin) WatchFd() int            { return -1 }
func (m *mockPin) Close() error            { return nil }

func newTestLoop(t *testing.T) *mainloop.Loop {
	l, err := mainloop.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func runLoop(t *testing.T, l *mainloop.Loop) {
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate")
	}
}

func TestInputPollingReportsToggles(t *testing.T) {
	l := newTestLoop(t)
	pin := &mockPin{}

	var values []bool
	g, err := Open(Config{
		Direction: DirectionIn,
		In: InConfig{
			Trigger:     EdgeBoth,
			PollTimeout: 10 * time.Millisecond,
			Cb: func(g *GPIO, value bool) {
				values = append(values, value)
				if len(values) == 4 {
					l.Quit()
				}
			},
		},
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: pin})
	require.NoError(t, err)
	defer g.Close()

	// Toggle the pin slower than the poll interval so every transition is
	// observed.
	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(15 * time.Millisecond)
			pin.set(i%2 == 0)
		}
	}()

	runLoop(t, l)
	assert.Equal(t, []bool{true, false, true, false}, values)
}

func TestInputRisingOnly(t *testing.T) {
	l := newTestLoop(t)
	pin := &mockPin{}

	var values []bool
	_, err := Open(Config{
		Direction: DirectionIn,
		In: InConfig{
			Trigger:     EdgeRising,
			PollTimeout: 5 * time.Millisecond,
			Cb: func(g *GPIO, value bool) {
				values = append(values, value)
			},
		},
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: pin})
	require.NoError(t, err)

	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(12 * time.Millisecond)
			pin.set(i%2 == 0)
		}
	}()
	l.TimeoutAdd(70*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	runLoop(t, l)
	assert.Equal(t, []bool{true, true}, values)
}

func TestCloseSuppressesCallback(t *testing.T) {
	l := newTestLoop(t)
	pin := &mockPin{}

	count := 0
	var g *GPIO
	var err error
	g, err = Open(Config{
		Direction: DirectionIn,
		In: InConfig{
			Trigger:     EdgeBoth,
			PollTimeout: 5 * time.Millisecond,
			Cb: func(g *GPIO, value bool) {
				count++
				require.NoError(t, g.Close())
			},
		},
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: pin})
	require.NoError(t, err)

	go func() {
		for i := 0; i < 6; i++ {
			time.Sleep(10 * time.Millisecond)
			pin.set(i%2 == 0)
		}
	}()
	l.TimeoutAdd(80*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	runLoop(t, l)
	assert.Equal(t, 1, count)
	_ = g
}

func TestInputTriggerRequiresPollTimeout(t *testing.T) {
	l := newTestLoop(t)
	_, err := Open(Config{
		Direction: DirectionIn,
		In:        InConfig{Trigger: EdgeBoth, Cb: func(g *GPIO, value bool) {}},
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: &mockPin{}})
	assert.True(t, model.IsInvalidArgument(err))
}

func TestActiveLowInvertsReadWrite(t *testing.T) {
	l := newTestLoop(t)
	pin := &mockPin{}
	g, err := Open(Config{
		Direction: DirectionOut,
		ActiveLow: true,
		Out:       OutConfig{InitialValue: false},
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: pin})
	require.NoError(t, err)

	// Logical false lands as raw high on an active-low pin.
	assert.Equal(t, []bool{true}, pin.written)

	require.NoError(t, g.Write(true))
	assert.Equal(t, []bool{true, false}, pin.written)

	v, err := g.Read()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestPullUnsupported(t *testing.T) {
	l := newTestLoop(t)
	_, err := Open(Config{
		Direction: DirectionOut,
		Drive:     DrivePullUp,
	}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: &mockPin{}})
	assert.True(t, model.IsUnsupported(err))
}
