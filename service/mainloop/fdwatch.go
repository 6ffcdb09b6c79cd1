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
	"golang.org/x/sys/unix"
)

// Flags describe fd readiness interest and delivery.
type Flags uint32

const (
	FlagIn Flags = 1 << iota
	FlagOut
	FlagPri
	FlagErr
	FlagHup
	FlagNval
)

// FlagsError groups the error conditions. Delivery of one of them unarms a
// watch only when the watch subscribed to it; sysfs attribute files keep
// POLLERR permanently asserted, so an unrequested error must not tear down
// the watch.
const FlagsError = FlagErr | FlagNval

var flagBits = []struct {
	flag Flags
	poll int16
}{
	{FlagIn, unix.POLLIN},
	{FlagOut, unix.POLLOUT},
	{FlagPri, unix.POLLPRI},
	{FlagErr, unix.POLLERR},
	{FlagHup, unix.POLLHUP},
	{FlagNval, unix.POLLNVAL},
}

func (f Flags) pollEvents() int16 {
	var ev int16
	for _, b := range flagBits {
		if f&b.flag != 0 {
			ev |= b.poll
		}
	}
	return ev
}

func flagsFromPoll(ev int16) Flags {
	var f Flags
	for _, b := range flagBits {
		if ev&b.poll != 0 {
			f |= b.flag
		}
	}
	return f
}

// FdWatch is a callback bound to readiness of a file descriptor.
type FdWatch struct {
	fd       int
	flags    Flags
	cb       func(fd int, active Flags) bool
	removeMe bool
}

// FdAdd registers cb to run whenever fd reports one of the interest flags.
// The callback receives the triggered flags, including error conditions it
// did not subscribe to; returning false unarms the watch, as does delivery
// of a subscribed ERR or NVAL.
func (l *Loop) FdAdd(fd int, flags Flags, cb func(fd int, active Flags) bool) *FdWatch {
	if cb == nil || fd < 0 {
		return nil
	}
	w := &FdWatch{
		fd:    fd,
		flags: flags,
		cb:    cb,
	}

	l.mu.Lock()
	l.watches = append(l.watches, w)
	l.mu.Unlock()

	fdWatchesActive.Inc()
	l.wake()
	return w
}

// FdDel removes the given watch. Safe to call from inside the watch's own
// callback. Returns false when the watch was already removed.
func (l *Loop) FdDel(w *FdWatch) bool {
	if w == nil {
		return false
	}
	l.mu.Lock()
	if w.removeMe {
		l.mu.Unlock()
		return false
	}
	w.removeMe = true
	l.watchPendingDel++
	l.mu.Unlock()

	fdWatchesActive.Dec()
	l.wake()
	return true
}

// FdSetFlags replaces the interest flags of the watch.
func (l *Loop) FdSetFlags(w *FdWatch, flags Flags) bool {
	if w == nil {
		return false
	}
	l.mu.Lock()
	if w.removeMe {
		l.mu.Unlock()
		return false
	}
	w.flags = flags
	l.mu.Unlock()

	l.wake()
	return true
}

// FdAddFlags adds interest flags to the watch.
func (l *Loop) FdAddFlags(w *FdWatch, flags Flags) bool {
	if w == nil {
		return false
	}
	l.mu.Lock()
	if w.removeMe {
		l.mu.Unlock()
		return false
	}
	w.flags |= flags
	l.mu.Unlock()

	l.wake()
	return true
}

// FdRemoveFlags removes interest flags from the watch.
func (l *Loop) FdRemoveFlags(w *FdWatch, flags Flags) bool {
	if w == nil {
		return false
	}
	l.mu.Lock()
	if w.removeMe {
		l.mu.Unlock()
		return false
	}
	w.flags &^= flags
	l.mu.Unlock()

	l.wake()
	return true
}

func (l *Loop) watchCleanupLocked() {
	if l.watchPendingDel == 0 {
		return
	}
	kept := l.watches[:0]
	for _, w := range l.watches {
		if w.removeMe {
			l.watchPendingDel--
			continue
		}
		kept = append(kept, w)
	}
	l.watches = kept
}

// processFds blocks on poll(2) for at most budget milliseconds (-1 blocks
// indefinitely), then dispatches wakeup messages and fd callbacks.
func (l *Loop) processFds(budget int) {
	l.mu.Lock()
	watches := make([]*FdWatch, 0, len(l.watches))
	pollFds := make([]unix.PollFd, 0, len(l.watches)+1)
	pollFds = append(pollFds, unix.PollFd{Fd: int32(l.wakeRead), Events: unix.POLLIN})
	for _, w := range l.watches {
		if w.removeMe {
			continue
		}
		watches = append(watches, w)
		pollFds = append(pollFds, unix.PollFd{Fd: int32(w.fd), Events: w.flags.pollEvents()})
	}
	l.mu.Unlock()

	n, err := unix.Poll(pollFds, budget)
	if err != nil && err != unix.EINTR {
		l.log.Error().Err(err).Msg("poll failed")
		return
	}

	// Wakeup pipe: drain the nudge bytes, then run queued messages.
	if pollFds[0].Revents != 0 {
		var buf [64]byte
		for {
			if _, err := unix.Read(l.wakeRead, buf[:]); err != nil {
				break
			}
		}
	}
	l.drainMessages()

	if n <= 0 {
		return
	}
	for i, w := range watches {
		if !l.runCheck() {
			break
		}
		active := flagsFromPoll(pollFds[i+1].Revents)
		if active == 0 {
			continue
		}
		l.mu.Lock()
		gone := w.removeMe
		interest := w.flags
		l.mu.Unlock()
		if gone {
			continue
		}
		fdDispatchTotal.Inc()
		keep := w.cb(w.fd, active)
		if !keep || active&interest&FlagsError != 0 {
			l.FdDel(w)
		}
	}

	l.mu.Lock()
	l.watchCleanupLocked()
	l.mu.Unlock()
}
