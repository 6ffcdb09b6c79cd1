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

package worker

import (
	"github.com/periferia-io/periferia/pkg/metrics"
)

const (
	subSystem = "worker"
)

var (
	// Number of worker threads started
	threadsStartedTotal = metrics.MustRegisterCounter(subSystem,
		"threads_started_total",
		"Number of worker threads started")

	// Number of worker threads finished
	threadsFinishedTotal = metrics.MustRegisterCounter(subSystem,
		"threads_finished_total",
		"Number of worker threads finished")
)
