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

package telemetry

import "github.com/periferia-io/periferia/pkg/metrics"

const subSystem = "telemetry"

var (
	eventsPublishedTotal = metrics.MustRegisterCounter(subSystem, "events_published_total", "Number of events published to the broker")
	eventsDroppedTotal   = metrics.MustRegisterCounter(subSystem, "events_dropped_total", "Number of events dropped because the publish queue was full")
)
