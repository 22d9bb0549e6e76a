// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gfxr_replay_run_state",
		Help: "State of the most recently updated replay run.",
	})

	runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_replay_runs_started",
		Help: "Count of replay runs started.",
	})

	runFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_replay_run_failures",
		Help: "Count of replay runs that failed, by failure kind.",
	}, []string{"kind"})

	passesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_replay_passes_started",
		Help: "Count of replay passes started.",
	}, []string{"pass"})

	blocksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_replay_blocks_processed",
		Help: "Count of blocks processed by replay passes.",
	}, []string{"pass"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		runState,
		runsStarted,
		runFailures,
		passesStarted,
		blocksProcessed,
	)
}
