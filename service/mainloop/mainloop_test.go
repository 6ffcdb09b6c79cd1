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

package mainloop

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	l, err := New(zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// runLoop runs the loop on another goroutine and returns a channel carrying
// the exit code.
func runLoop(l *Loop) <-chan int {
	codeCh := make(chan int, 1)
	go func() {
		codeCh <- l.Run()
	}()
	return codeCh
}

func waitCode(t *testing.T, codeCh <-chan int) int {
	select {
	case code := <-codeCh:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not terminate")
		return -1
	}
}

func TestTimeoutOrdering(t *testing.T) {
	l := newTestLoop(t)

	var mu sync.Mutex
	var fired []string
	add := func(name string, d time.Duration, last bool) {
		l.TimeoutAdd(d, func() bool {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
			if last {
				l.Quit()
			}
			return false
		})
	}
	add("late", 60*time.Millisecond, true)
	add("early", 10*time.Millisecond, false)
	add("mid", 30*time.Millisecond, false)

	waitCode(t, runLoop(l))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"early", "mid", "late"}, fired)
}

func TestTimeoutRepeats(t *testing.T) {
	l := newTestLoop(t)

	count := 0
	l.TimeoutAdd(5*time.Millisecond, func() bool {
		count++
		if count == 3 {
			l.Quit()
			return false
		}
		return true
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, 3, count)
}

func TestTimeoutDelInsideCallback(t *testing.T) {
	l := newTestLoop(t)

	count := 0
	var self *Timeout
	self = l.TimeoutAdd(5*time.Millisecond, func() bool {
		count++
		assert.True(t, l.TimeoutDel(self))
		assert.False(t, l.TimeoutDel(self))
		return true // removal must win over the re-arm request
	})
	l.TimeoutAdd(40*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, 1, count)
}

func TestTimeoutDelBeforeFire(t *testing.T) {
	l := newTestLoop(t)

	fired := false
	victim := l.TimeoutAdd(10*time.Millisecond, func() bool {
		fired = true
		return false
	})
	require.True(t, l.TimeoutDel(victim))
	l.TimeoutAdd(30*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))
	assert.False(t, fired)
}

func TestIdlerRunsUntilFalse(t *testing.T) {
	l := newTestLoop(t)

	count := 0
	l.IdleAdd(func() bool {
		count++
		if count == 4 {
			l.Quit()
			return false
		}
		return true
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, 4, count)
}

func TestIdlerAddedDuringPassRunsNextIteration(t *testing.T) {
	l := newTestLoop(t)

	var order []string
	l.IdleAdd(func() bool {
		order = append(order, "first")
		l.IdleAdd(func() bool {
			order = append(order, "second")
			l.Quit()
			return false
		})
		// Still running when the nested idler fires proves the nested one
		// waited for the next pass.
		order = append(order, "first-done")
		return false
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, []string{"first", "first-done", "second"}, order)
}

func TestIdleDelInsideCallback(t *testing.T) {
	l := newTestLoop(t)

	count := 0
	var self *Idler
	self = l.IdleAdd(func() bool {
		count++
		assert.True(t, l.IdleDel(self))
		return true
	})
	l.TimeoutAdd(20*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, 1, count)
}

func TestFdWatchDispatch(t *testing.T) {
	l := newTestLoop(t)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var got Flags
	l.FdAdd(p[0], FlagIn, func(fd int, active Flags) bool {
		got = active
		var buf [8]byte
		unix.Read(fd, buf[:])
		l.Quit()
		return false
	})

	_, err := unix.Write(p[1], []byte{0x42})
	require.NoError(t, err)

	waitCode(t, runLoop(l))
	assert.Equal(t, FlagIn, got&FlagIn)
}

func TestFdWatchUnarmedOnFalse(t *testing.T) {
	l := newTestLoop(t)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	count := 0
	l.FdAdd(p[0], FlagIn, func(fd int, active Flags) bool {
		count++
		// Leave the byte unread; a still armed watch would fire again.
		return false
	})
	_, err := unix.Write(p[1], []byte{1})
	require.NoError(t, err)
	l.TimeoutAdd(30*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))
	assert.Equal(t, 1, count)
}

type quitMsg struct {
	l    *Loop
	code int
}

func (m *quitMsg) Dispatch() {
	m.l.QuitWithCode(m.code)
}

func TestWakeupFromOtherGoroutine(t *testing.T) {
	l := newTestLoop(t)
	codeCh := runLoop(l)

	go l.Wakeup(&quitMsg{l: l, code: 7})

	assert.Equal(t, 7, waitCode(t, codeCh))
}

func TestQuitWithCode(t *testing.T) {
	l := newTestLoop(t)
	l.IdleAdd(func() bool {
		l.QuitWithCode(3)
		return false
	})
	assert.Equal(t, 3, waitCode(t, runLoop(l)))
}

func TestTimeoutAddFromOtherGoroutineWakesLoop(t *testing.T) {
	l := newTestLoop(t)
	codeCh := runLoop(l)

	// The loop is blocked with nothing scheduled; the add must nudge it.
	time.Sleep(10 * time.Millisecond)
	l.TimeoutAdd(time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, codeCh)
}

// brokenPipeWriteEnd returns the write end of a pipe whose read end is
// closed. Polling it reports ERR regardless of the requested events.
func brokenPipeWriteEnd(t *testing.T) int {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	unix.Close(p[0])
	t.Cleanup(func() { unix.Close(p[1]) })
	return p[1]
}

func TestFdWatchSurvivesUnrequestedError(t *testing.T) {
	l := newTestLoop(t)
	fd := brokenPipeWriteEnd(t)

	var mu sync.Mutex
	count := 0
	var got Flags
	l.FdAdd(fd, FlagIn, func(fd int, active Flags) bool {
		mu.Lock()
		defer mu.Unlock()
		count++
		got = active
		// The error was never subscribed; the watch must stay armed
		// until this callback asks for removal.
		return count < 3
	})
	l.TimeoutAdd(50*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
	assert.Equal(t, FlagErr, got&FlagErr)
	assert.Zero(t, got&FlagIn)
}

func TestFdWatchUnarmedOnSubscribedError(t *testing.T) {
	l := newTestLoop(t)
	fd := brokenPipeWriteEnd(t)

	var mu sync.Mutex
	count := 0
	l.FdAdd(fd, FlagIn|FlagErr, func(fd int, active Flags) bool {
		mu.Lock()
		defer mu.Unlock()
		count++
		return true
	})
	l.TimeoutAdd(50*time.Millisecond, func() bool {
		l.Quit()
		return false
	})

	waitCode(t, runLoop(l))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestFdDelWhileLoopRunning(t *testing.T) {
	l := newTestLoop(t)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	w := l.FdAdd(p[0], FlagIn, func(fd int, active Flags) bool {
		return true
	})
	codeCh := runLoop(l)

	// The loop is blocked in its readiness wait; the removal must both
	// complete and nudge the loop.
	time.Sleep(10 * time.Millisecond)
	assert.True(t, l.FdDel(w))
	assert.False(t, l.FdDel(w))

	l.TimeoutAdd(time.Millisecond, func() bool {
		l.Quit()
		return false
	})
	waitCode(t, codeCh)
}

func TestTimeoutDelFromOtherGoroutine(t *testing.T) {
	l := newTestLoop(t)

	var mu sync.Mutex
	count := 0
	timer := l.TimeoutAdd(2*time.Millisecond, func() bool {
		mu.Lock()
		count++
		mu.Unlock()
		return true
	})
	codeCh := runLoop(l)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	}, time.Second, time.Millisecond)
	assert.True(t, l.TimeoutDel(timer))

	mu.Lock()
	stopped := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	// One firing may already have been in flight during the removal.
	assert.LessOrEqual(t, count, stopped+1)
	mu.Unlock()

	l.Quit()
	waitCode(t, codeCh)
}
