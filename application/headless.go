// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package application

import (
	"context"
	"sync/atomic"

	"github.com/xooiamd/gfxreconstruct/support/logging"
)

// Headless is an Application that processes frames back to back, without
// displaying anything.
//
// Headless does not pause. If a pause frame is set, reaching it is logged and
// processing continues.
type Headless struct {
	// Logger, if not nil, is used to log frame progress.
	Logger logging.L

	pauseFrame uint64
	factory    offscreenFactory
}

var _ Application = (*Headless)(nil)

// SetPauseFrame implements Application.
func (a *Headless) SetPauseFrame(frame uint64) { atomic.StoreUint64(&a.pauseFrame, frame) }

// WindowFactory implements Application.
func (a *Headless) WindowFactory() WindowFactory { return &a.factory }

// Run implements Application.
func (a *Headless) Run(ctx context.Context, fp FrameProcessor) error {
	logger := logging.Must(a.Logger)

	for frame := uint64(1); ; frame++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if pf := atomic.LoadUint64(&a.pauseFrame); pf > 0 && pf == frame {
			logger.Infof("Reached pause frame %d; headless backend does not pause.", frame)
		}

		more, err := fp.ProcessNextFrame(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		framesRun.WithLabelValues("headless").Inc()
	}
}
