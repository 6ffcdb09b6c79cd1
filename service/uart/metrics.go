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

package uart

import "github.com/periferia-io/periferia/pkg/metrics"

const subSystem = "uart"

var (
	writesQueuedTotal    = metrics.MustRegisterCounter(subSystem, "writes_queued_total", "Number of writes accepted onto the queue")
	writesCompletedTotal = metrics.MustRegisterCounter(subSystem, "writes_completed_total", "Number of queued writes dispatched")
	bytesWrittenTotal    = metrics.MustRegisterCounter(subSystem, "bytes_written_total", "Number of bytes drained to ports")
	bytesReadTotal       = metrics.MustRegisterCounter(subSystem, "bytes_read_total", "Number of bytes delivered to receive callbacks")
)
