// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"context"
	"fmt"

	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"
)

// ErrConfiguration is the cause of errors reporting an invalid combination of
// Options.
var ErrConfiguration = errors.New("invalid replay configuration")

// errAborted is the cause of errors when a run stops because an observer
// reported a fatal error out of band.
var errAborted = errors.New("replay aborted")

// Kind classifies a run failure.
type Kind int

const (
	// KindIO is a failure to open or read the trace file.
	KindIO Kind = iota
	// KindCorruptData is a malformed block or call.
	KindCorruptData
	// KindConfiguration is an invalid set of Options, or a device that cannot
	// hold the trace's memory layout.
	KindConfiguration
	// KindCodecUnsupported is a compressed block whose codec is not available.
	KindCodecUnsupported
	// KindObserverFatal is an unrecoverable failure reported by an observer.
	KindObserverFatal
	// KindCancelled is a run stopped by its Context.
	KindCancelled
)

var kindNames = []string{
	KindIO:               "IOError",
	KindCorruptData:      "CorruptData",
	KindConfiguration:    "ConfigurationError",
	KindCodecUnsupported: "CodecUnsupported",
	KindObserverFatal:    "ObserverFatal",
	KindCancelled:        "Cancelled",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a run failure.
type Error struct {
	Kind Kind
	// Pass is the pass that failed: 1 for the lookahead pass, 2 for the replay
	// pass, and 0 if no pass had started.
	Pass int
	// Frame is the frame being processed when the failure happened.
	Frame uint64

	Err error
}

func (e *Error) Error() string {
	if e.Pass == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s in pass %d at frame %d: %s", e.Kind, e.Pass, e.Frame, e.Err)
}

// Cause returns the underlying error, for use with errors.Cause.
func (e *Error) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, and true if err is an *Error.
func KindOf(err error) (Kind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return KindIO, false
}

// classify determines the Kind of an error raised while running a pass.
func classify(err error) Kind {
	switch cause := errors.Cause(err); cause {
	case context.Canceled, context.DeadlineExceeded:
		return KindCancelled
	case errAborted:
		return KindObserverFatal
	case ErrConfiguration:
		return KindConfiguration
	default:
		if _, ok := cause.(*decode.ObserverError); ok {
			return KindObserverFatal
		}
	}

	switch tracefile.ClassifyError(err) {
	case tracefile.ErrorCorruptData:
		return KindCorruptData
	case tracefile.ErrorCodecUnsupported:
		return KindCodecUnsupported
	default:
		return KindIO
	}
}
