// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracefile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	blocksRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_tracefile_blocks_read",
		Help: "Count of trace blocks read, by kind.",
	}, []string{"kind"})

	blocksStoredBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gfxr_tracefile_read_bytes",
		Help: "Count of stored trace bytes read, including block headers.",
	})

	readerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_tracefile_reader_errors",
		Help: "Count of errors that stopped a trace reader, by error state.",
	}, []string{"state"})

	blocksWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gfxr_tracefile_blocks_written",
		Help: "Count of trace blocks written, by kind.",
	}, []string{"kind"})

	writersOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gfxr_tracefile_writers_open",
		Help: "Count of trace writers that have not been closed.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Reader
		blocksRead,
		blocksStoredBytes,
		readerErrors,

		// Writer
		blocksWritten,
		writersOpen,
	)
}
