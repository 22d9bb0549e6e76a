// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"fmt"
)

// Observer receives every call record dispatched by a Decoder it is
// registered with.
//
// OnCall is never called concurrently or re-entrantly. A non-nil error is an
// unrecoverable condition, and stops the pass.
type Observer interface {
	OnCall(*CallRecord) error
}

// FrameObserver is an Observer that also wants to hear about frame
// boundaries.
type FrameObserver interface {
	Observer

	// OnFrameBoundary is called when frame ends.
	OnFrameBoundary(frame uint64) error
}

// FatalErrorSource is implemented by Observers that can encounter
// unrecoverable errors outside of their OnCall return path, such as a live
// device failure discovered while presenting.
//
// The owner of the pipeline installs a handler. The Observer calls it
// synchronously, and the owner stops dispatch before the next block.
type FatalErrorSource interface {
	SetFatalErrorHandler(func(message string))
}

// ObserverFunc is an Observer implemented by a function.
type ObserverFunc func(*CallRecord) error

// OnCall implements Observer.
func (fn ObserverFunc) OnCall(cr *CallRecord) error { return fn(cr) }

// ObserverError is returned by dispatch when an Observer fails.
type ObserverError struct {
	// Observer is the Observer that failed.
	Observer Observer
	// Call is the index of the call being dispatched, or -1 for a frame
	// boundary.
	Call int64
	// Frame is the frame number at the time of the failure.
	Frame uint64

	Err error
}

func (e *ObserverError) Error() string {
	if e.Call < 0 {
		return fmt.Sprintf("observer %T failed at end of frame %d: %s", e.Observer, e.Frame, e.Err)
	}
	return fmt.Sprintf("observer %T failed on call %d (frame %d): %s", e.Observer, e.Call, e.Frame, e.Err)
}

// Unwrap returns the Observer's error.
func (e *ObserverError) Unwrap() error { return e.Err }
