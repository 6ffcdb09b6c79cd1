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

package intsched

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periferia-io/periferia/service/mainloop"
)

func newTestScheduler(t *testing.T) (*mainloop.Loop, *Scheduler) {
	l, err := mainloop.New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, New(l, zerolog.Nop())
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

func TestGPIOTriggerCoalesces(t *testing.T) {
	l, s := newTestScheduler(t)

	count := 0
	sub := s.GPIOInit(func() {
		count++
		l.Quit()
	}, nil)

	// Five edges before the loop runs collapse into one callback.
	for i := 0; i < 5; i++ {
		sub.Trigger()
	}

	runLoop(t, l)
	assert.Equal(t, 1, count)
}

func TestGPIOStopDiscardsQueued(t *testing.T) {
	l, s := newTestScheduler(t)

	disabled := false
	count := 0
	sub := s.GPIOInit(func() { count++ }, func() { disabled = true })
	sub.Trigger()
	sub.Stop()
	assert.True(t, disabled)

	l.TimeoutAdd(20*time.Millisecond, func() bool {
		l.Quit()
		return false
	})
	runLoop(t, l)
	assert.Zero(t, count)
}

func TestUARTRxPreservesOrder(t *testing.T) {
	l, s := newTestScheduler(t)

	var got []byte
	var sub *UARTSubscription
	sub = s.UARTInit(func(b byte) {
		got = append(got, b)
		if len(got) == 5 {
			l.Quit()
		}
	}, nil, nil, nil)

	for b := byte(1); b <= 5; b++ {
		sub.RxByte(b)
	}

	runLoop(t, l)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestUARTRxDroppedAfterStop(t *testing.T) {
	l, s := newTestScheduler(t)

	count := 0
	sub := s.UARTInit(func(b byte) { count++ }, nil, nil, nil)
	sub.RxByte(1)
	sub.Stop()
	sub.RxByte(2)

	l.TimeoutAdd(20*time.Millisecond, func() bool {
		l.Quit()
		return false
	})
	runLoop(t, l)
	assert.Zero(t, count)
}

func TestUARTTxRearm(t *testing.T) {
	l, s := newTestScheduler(t)

	rearms := 0
	pendingWrites := 2
	var sub *UARTSubscription
	sub = s.UARTInit(nil, func() bool {
		pendingWrites--
		if pendingWrites == 0 {
			l.Quit()
			return false
		}
		return true
	}, func() {
		rearms++
		sub.TxReady()
	}, nil)

	sub.TxReady()
	runLoop(t, l)
	assert.Equal(t, 1, rearms)
	assert.Zero(t, pendingWrites)
}

func TestRecStateRefcount(t *testing.T) {
	var s recState
	require.True(t, s.ref())
	require.True(t, s.ref())
	assert.False(t, s.markDeleted()) // still referenced
	assert.False(t, s.ref())         // deleted refuses new references
	assert.False(t, s.unref())
	assert.True(t, s.unref()) // last reference releases
}
