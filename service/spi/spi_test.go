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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/periferia-io/periferia/model"
	"github.com/periferia-io/periferia/service/mainloop"
)

// mockSpi echoes tx into rx with every byte incremented.
type mockSpi struct {
	err     error
	release chan struct{}
}

func (m *mockSpi) Transfer(tx, rx []byte) error {
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return m.err
	}
	for i, b := range tx {
		rx[i] = b + 1
	}
	return nil
}

func (m *mockSpi) Close() error { return nil }

func newTestHandle(t *testing.T, backend Backend) (*mainloop.Loop, *SPI) {
	l, err := mainloop.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	h, err := Open(Config{Bus: 0, ChipSelect: 1, Mode: Mode0, Frequency: 1000000, BitsPerWord: 8},
		Dependencies{Log: zerolog.Nop(), Loop: l, Backend: backend})
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

func TestOpenValidatesConfig(t *testing.T) {
	l, err := mainloop.New(zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	_, err = Open(Config{Mode: 4, BitsPerWord: 8}, Dependencies{Loop: l, Backend: &mockSpi{}})
	assert.True(t, model.IsInvalidArgument(err))

	_, err = Open(Config{Mode: Mode0, BitsPerWord: 3}, Dependencies{Loop: l, Backend: &mockSpi{}})
	assert.True(t, model.IsInvalidArgument(err))

	_, err = Open(Config{Mode: Mode0, BitsPerWord: 33}, Dependencies{Loop: l, Backend: &mockSpi{}})
	assert.True(t, model.IsInvalidArgument(err))
}

func TestTransferFullDuplex(t *testing.T) {
	l, h := newTestHandle(t, &mockSpi{})

	tx := []byte{1, 2, 3}
	rx := make([]byte, 3)
	var gotStatus int
	_, err := h.Transfer(tx, rx, func(s *SPI, tx, rx []byte, status int) {
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Equal(t, 3, gotStatus)
	assert.Equal(t, []byte{2, 3, 4}, rx)
	assert.False(t, h.Busy())
}

func TestTransferSizeMismatch(t *testing.T) {
	_, h := newTestHandle(t, &mockSpi{})
	_, err := h.Transfer([]byte{1, 2}, make([]byte, 3), nil)
	assert.True(t, model.IsInvalidArgument(err))
}

func TestTransferBusy(t *testing.T) {
	release := make(chan struct{})
	l, h := newTestHandle(t, &mockSpi{release: release})

	tx := []byte{1}
	rx := make([]byte, 1)
	_, err := h.Transfer(tx, rx, func(s *SPI, tx, rx []byte, status int) {
		l.Quit()
	})
	require.NoError(t, err)
	assert.True(t, h.Busy())

	_, err = h.Transfer(tx, rx, nil)
	assert.True(t, model.IsBusy(err))

	close(release)
	runLoop(t, l)
}

func TestTransferErrorStatus(t *testing.T) {
	l, h := newTestHandle(t, &mockSpi{err: unix.EIO})

	var gotStatus int
	tx := []byte{1}
	rx := make([]byte, 1)
	_, err := h.Transfer(tx, rx, func(s *SPI, tx, rx []byte, status int) {
		gotStatus = status
		l.Quit()
	})
	require.NoError(t, err)

	runLoop(t, l)
	assert.Equal(t, -int(unix.EIO), gotStatus)
}

func TestPendingCancelSuppressesCallback(t *testing.T) {
	release := make(chan struct{})
	l, h := newTestHandle(t, &mockSpi{release: release})

	fired := false
	tx := []byte{1}
	rx := make([]byte, 1)
	pending, err := h.Transfer(tx, rx, func(s *SPI, tx, rx []byte, status int) {
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
