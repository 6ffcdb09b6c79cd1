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

import "github.com/periferia-io/periferia/pkg/metrics"

const subSystem = "intsched"

var (
	recordsQueuedTotal    = metrics.MustRegisterCounterVec(subSystem, "records_queued_total", "Number of interrupt records queued to the loop", "kind")
	recordsCoalescedTotal = metrics.MustRegisterCounterVec(subSystem, "records_coalesced_total", "Number of events merged into an already queued record", "kind")
	recordsDroppedTotal   = metrics.MustRegisterCounterVec(subSystem, "records_dropped_total", "Number of events dropped because the subscription was stopped or saturated", "kind")
	recordsReleasedTotal  = metrics.MustRegisterCounter(subSystem, "subscriptions_released_total", "Number of subscriptions fully released")
)
