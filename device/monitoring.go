// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsReplayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_device_calls_replayed",
		Help: "Count of calls replayed against a live device.",
	},
		[]string{"function"})

	replayFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_device_replay_failures",
		Help: "Count of calls that failed to replay.",
	},
		[]string{"function"})

	framesReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_device_frames_replayed",
		Help: "Count of frames replayed against a live device.",
	})

	bindsPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_device_binds_placed",
		Help: "Count of replayed binds, by placement mode.",
	},
		[]string{"mode"})

	simAllocatedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gfxr_device_simulated_allocated_bytes",
		Help: "Bytes currently allocated on simulated devices.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Replayer
		callsReplayed,
		replayFailures,
		framesReplayed,
		bindsPlaced,

		// Simulated
		simAllocatedBytes,
	)
}
