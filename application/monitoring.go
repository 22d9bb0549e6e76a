// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package application

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	framesRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_application_frames",
		Help: "Count of frames processed by an application.",
	},
		[]string{"backend"})

	pauses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_application_pauses",
		Help: "Count of times a paced application paused.",
	})

	windowsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_application_windows_created",
		Help: "Count of windows created.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		framesRun,
		pauses,
		windowsCreated,
	)
}
