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
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
)

// mockBus serves register reads from a scripted run sequence.
type mockBus struct {
	mu       sync.Mutex
	plain    bool
	addr     uint8
	runs     [][]byte // consumed head-first by ReadRegister
	regs     map[uint8][]byte
	readErr  error
	written  map[uint8][]byte
	quickVal []bool
}

func (m *mockBus) SetAddress(addr uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addr = addr
	return nil
}

func (m *mockBus) WriteQuick(value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quickVal = append(m.quickVal, value)
	return nil
}

func (m *mockBus) Read(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range data {
		data[i] = byte(i)
	}
	return len(data), nil
}

func (m *mockBus) Write(data []byte) (int, error) {
	return len(data), nil
}

func (m *mockBus) ReadRegister(reg uint8, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	if len(m.runs) > 0 {
		n := copy(data, m.runs[0])
		m.runs = m.runs[1:]
		return n, nil
	}
	return copy(data, m.regs[reg]), nil
}

func (m *mockBus) WriteRegister(reg uint8, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.written == nil {
		m.written = make(map[uint8][]byte)
	}
	m.written[reg] = append([]byte(nil), data...)
	return len(data), nil
}

func (m *mockBus) SupportsPlain() bool { return m.plain }
func (m *mockBus) Close() error        { return nil }

func newTestHandle(t *testing.T, backend Backend) (*mainloop.Loop, *I2C) {
	l, err := mainloop.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	h, err := Open(Config{Bus: 1}, Dependencies{Log: zerolog.Nop(), Loop: l, Backend: backend})
	require.NoError(t, err)
	return l, h
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

func TestReadRegisterMultiple(t *testing.T) {
	bus := &mockBus{
		plain: true,
		runs: [][]byte{
			{0x00, 0x01, 0x02, 0x03},
			{0x10, 0x11, 0x12, 0x13},
			{0x20, 0x21, 0x22, 0x23},
		},
	}
	l, h := newTestHandle(t, bus)
	require.NoError(t, h.SetSlaveAddress(0x48))

	buf := make([]byte, 12)
	var gotStatus int
	dispatches := 0
	_, err := h.ReadRegisterMultiple(0x10, buf, 4, 3, func(i *I2C, reg uint8, data []byte, status int) {
		dispatches++
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Equal(t, 1, dispatches)
	assert.Equal(t, 12, gotStatus)
	assert.Equal(t, []byte{
		0x00, 0x01, 0x02, 0x03,
		0x10, 0x11, 0x12, 0x13,
		0x20, 0x21, 0x22, 0x23,
	}, buf)
}

func TestReadRegisterMultipleNeedsPlain(t *testing.T) {
	_, h := newTestHandle(t, &mockBus{plain: false})
	buf := make([]byte, 8)
	_, err := h.ReadRegisterMultiple(0x10, buf, 4, 2, nil)
	assert.True(t, model.IsUnsupported(err))
}

func TestBusyWhileTransferInFlight(t *testing.T) {
	release := make(chan struct{})
	bus := &blockingBus{mockBus: &mockBus{plain: true}, release: release}
	l, h := newTestHandle(t, bus)

	buf := make([]byte, 2)
	_, err := h.ReadRegister(0x01, buf, func(i *I2C, reg uint8, data []byte, status int) {
		l.Quit()
	})
	require.NoError(t, err)
	assert.True(t, h.Busy())

	_, err = h.ReadRegister(0x01, buf, nil)
	assert.True(t, model.IsBusy(err))
	assert.True(t, model.IsBusy(h.SetSlaveAddress(0x20)))

	close(release)
	runLoop(t, l)
	assert.False(t, h.Busy())
}

// blockingBus delays the first ReadRegister until released.
type blockingBus struct {
	*mockBus
	release chan struct{}
	once    sync.Once
}

func (b *blockingBus) ReadRegister(reg uint8, data []byte) (int, error) {
	b.once.Do(func() { <-b.release })
	return b.mockBus.ReadRegister(reg, data)
}

func TestWriteRegister(t *testing.T) {
	bus := &mockBus{plain: true}
	l, h := newTestHandle(t, bus)

	var gotStatus int
	_, err := h.WriteRegister(0x22, []byte{0xDE, 0xAD}, func(i *I2C, reg uint8, data []byte, status int) {
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Equal(t, 2, gotStatus)
	assert.Equal(t, []byte{0xDE, 0xAD}, bus.written[0x22])
}

func TestReadErrorDeliversNegativeStatus(t *testing.T) {
	bus := &mockBus{plain: true, readErr: unix.ENXIO}
	l, h := newTestHandle(t, bus)

	var gotStatus int
	buf := make([]byte, 4)
	_, err := h.ReadRegister(0x01, buf, func(i *I2C, reg uint8, data []byte, status int) {
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Equal(t, -int(unix.ENXIO), gotStatus)
}

func TestPendingCancelSuppressesCallback(t *testing.T) {
	release := make(chan struct{})
	bus := &blockingBus{mockBus: &mockBus{plain: true}, release: release}
	l, h := newTestHandle(t, bus)

	fired := false
	buf := make([]byte, 2)
	pending, err := h.ReadRegister(0x01, buf, func(i *I2C, reg uint8, data []byte, status int) {
		fired = true
	})
	require.NoError(t, err)

	close(release)
	h.PendingCancel(pending)
	assert.False(t, h.Busy())

	l.TimeoutAdd(20*time.Millisecond, func() bool {
		l.Quit()
		return false
	})
	runLoop(t, l)
	assert.False(t, fired)
}

func TestWriteQuick(t *testing.T) {
	bus := &mockBus{}
	l, h := newTestHandle(t, bus)

	var gotStatus = -1
	_, err := h.WriteQuick(true, func(i *I2C, status int) {
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Zero(t, gotStatus)
	assert.Equal(t, []bool{true}, bus.quickVal)
}
