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

// UARTSubscription delivers received bytes and transmit-ready events onto
// the loop. Each received byte travels in its own record, so byte order is
// preserved; bytes arriving faster than the loop can drain them are dropped
// once the in-flight reference budget is exhausted.
type UARTSubscription struct {
	sched   *Scheduler
	state   recState
	rxCb    func(b byte)
	txCb    func() bool
	rearm   func()
	disable func()
}

// UARTInit registers a UART subscription. rx runs on the loop per received
// byte. tx runs on the loop when transmission completes; when it returns
// true, rearm is called to start the next transmission. disable, if not
// nil, is called from Stop to shut the underlying event source.
func (s *Scheduler) UARTInit(rx func(b byte), tx func() bool, rearm func(), disable func()) *UARTSubscription {
	u := &UARTSubscription{
		sched:   s,
		rxCb:    rx,
		txCb:    tx,
		rearm:   rearm,
		disable: disable,
	}
	u.state.ref() // owner reference, dropped by Stop
	return u
}

type uartRxRecord struct {
	sub *UARTSubscription
	b   byte
}

func (r *uartRxRecord) Dispatch() {
	if !r.sub.state.deleted() && r.sub.rxCb != nil {
		r.sub.rxCb(r.b)
	}
	r.sub.state.unref()
}

// RxByte queues a received byte for delivery. Safe to call from any
// goroutine. The byte is dropped when the subscription is stopped or the
// in-flight budget is exhausted.
func (u *UARTSubscription) RxByte(b byte) {
	if !u.state.ref() {
		recordsDroppedTotal.WithLabelValues("uart_rx").Inc()
		return
	}
	recordsQueuedTotal.WithLabelValues("uart_rx").Inc()
	u.sched.loop.Wakeup(&uartRxRecord{sub: u, b: b})
}

type uartTxRecord struct {
	sub *UARTSubscription
}

func (r *uartTxRecord) Dispatch() {
	u := r.sub
	if !u.state.deleted() && u.txCb != nil && u.txCb() && u.rearm != nil {
		u.rearm()
	}
	u.state.unref()
}

// TxReady queues a transmit-complete event. Safe to call from any
// goroutine.
func (u *UARTSubscription) TxReady() {
	if !u.state.ref() {
		recordsDroppedTotal.WithLabelValues("uart_tx").Inc()
		return
	}
	recordsQueuedTotal.WithLabelValues("uart_tx").Inc()
	u.sched.loop.Wakeup(&uartTxRecord{sub: u})
}

// Stop disables the event source and drops the owner reference. Records
// already queued are discarded without running their callbacks.
func (u *UARTSubscription) Stop() {
	if u.disable != nil {
		u.disable()
	}
	u.state.markDeleted()
	u.state.unref()
}
