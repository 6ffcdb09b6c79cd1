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
	"github.com/periferia-io/periferia/pkg/metrics"
)

const (
	subSystem = "mainloop"
)

var (
	// Number of loop iterations
	iterationsTotal = metrics.MustRegisterCounter(subSystem,
		"iterations_total",
		"Number of loop iterations")

	// Number of timeout callbacks fired
	timeoutsFiredTotal = metrics.MustRegisterCounter(subSystem,
		"timeouts_fired_total",
		"Number of timeout callbacks fired")

	// Number of live timeouts
	timeoutsActive = metrics.MustRegisterGauge(subSystem,
		"timeouts_active",
		"Number of live timeouts")

	// Number of idler callbacks run
	idlersRunTotal = metrics.MustRegisterCounter(subSystem,
		"idlers_run_total",
		"Number of idler callbacks run")

	// Number of live idlers
	idlersActive = metrics.MustRegisterGauge(subSystem,
		"idlers_active",
		"Number of live idlers")

	// Number of fd callbacks dispatched
	fdDispatchTotal = metrics.MustRegisterCounter(subSystem,
		"fd_dispatch_total",
		"Number of fd callbacks dispatched")

	// Number of live fd watches
	fdWatchesActive = metrics.MustRegisterGauge(subSystem,
		"fd_watches_active",
		"Number of live fd watches")

	// Number of wakeup messages dispatched
	messagesTotal = metrics.MustRegisterCounter(subSystem,
		"wakeup_messages_total",
		"Number of wakeup messages dispatched")
)
