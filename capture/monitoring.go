// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package capture

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	recorderRecordingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gfxr_capture_recording",
		Help: "Count of active recorders recording.",
	})

	recorderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_capture_errors",
		Help: "Count of recorder errors encountered.",
	}, []string{"type"})

	recorderCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_capture_calls",
		Help: "Count of recorded calls.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		recorderRecordingGauge,
		recorderErrors,
		recorderCalls,
	)
}
