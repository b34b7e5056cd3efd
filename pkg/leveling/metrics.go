// Copyright 2024 The xen Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package leveling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pass counters, exported through the default prometheus registry for
// callers that serve it.
var (
	passesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_passes_started_total",
		Help: "Number of identification policy passes started.",
	})
	passesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_passes_completed_total",
		Help: "Number of identification policy passes that installed every leaf.",
	})
	leavesVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_leaves_visited_total",
		Help: "Number of identification leaves visited by policy passes.",
	})
	leavesInstalled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_leaves_installed_total",
		Help: "Number of identification leaves installed through control channels.",
	})
	leavesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_leaves_skipped_total",
		Help: "Number of identification leaves skipped because their policy value was zero.",
	})
	installFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_install_failures_total",
		Help: "Number of leaf installs rejected by control channels.",
	})
	overridesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leveling_overrides_applied_total",
		Help: "Number of administrator leaf overrides applied.",
	})
)
