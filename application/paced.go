// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package application

import (
	"context"
	"sync"
	"time"

	"github.com/xooiamd/gfxreconstruct/support/logging"
)

// Paced is an Application that processes at most one frame per Interval.
//
// When it reaches its pause frame, Paced blocks before processing that frame
// until Resume is called or its Context is cancelled.
type Paced struct {
	// Interval is the minimum time between the start of consecutive frames. If
	// <= 0, frames are not throttled.
	Interval time.Duration

	// Logger, if not nil, is used to log pause and resume events.
	Logger logging.L

	mu         sync.Mutex
	pauseFrame uint64
	paused     bool
	resumeC    chan struct{}
	factory    offscreenFactory
}

var _ Application = (*Paced)(nil)

// SetPauseFrame implements Application.
func (a *Paced) SetPauseFrame(frame uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseFrame = frame
}

// WindowFactory implements Application.
func (a *Paced) WindowFactory() WindowFactory { return &a.factory }

// Paused returns true if Run is currently blocked at its pause frame.
func (a *Paced) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Resume releases a paused Run. If Run is not paused, Resume does nothing.
func (a *Paced) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resumeC != nil {
		close(a.resumeC)
		a.resumeC = nil
	}
}

// Run implements Application.
func (a *Paced) Run(ctx context.Context, fp FrameProcessor) error {
	logger := logging.Must(a.Logger)

	var ticker *time.Ticker
	if a.Interval > 0 {
		ticker = time.NewTicker(a.Interval)
		defer ticker.Stop()
	}

	for frame := uint64(1); ; frame++ {
		if err := a.maybePause(ctx, logger, frame); err != nil {
			return err
		}

		more, err := fp.ProcessNextFrame(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		framesRun.WithLabelValues("paced").Inc()

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (a *Paced) maybePause(ctx context.Context, logger logging.L, frame uint64) error {
	a.mu.Lock()
	if a.pauseFrame == 0 || a.pauseFrame != frame {
		a.mu.Unlock()
		return nil
	}
	resumeC := make(chan struct{})
	a.resumeC = resumeC
	a.paused = true
	a.mu.Unlock()

	logger.Infof("Paused before frame %d.", frame)
	pauses.Inc()

	defer func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.paused = false
		a.resumeC = nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resumeC:
		logger.Infof("Resumed at frame %d.", frame)
		return nil
	}
}
