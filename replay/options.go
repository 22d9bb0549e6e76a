// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"github.com/xooiamd/gfxreconstruct/device"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/support/bufferpool"
	"github.com/xooiamd/gfxreconstruct/support/logging"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Options configures a replay run.
type Options struct {
	// MultiPassPortability enables the lookahead pass. The trace is read once
	// to compute a portable memory layout, then read again to replay it.
	MultiPassPortability bool

	// Allocator is the single-pass memory translation mode. Any mode other than
	// device.AllocatorDefault cannot be combined with MultiPassPortability.
	Allocator device.Allocator

	// DeviceConstraints, if not nil, is the replay device's memory policy used
	// to compute the remap table. If nil, captured alignments and sizes are
	// kept.
	DeviceConstraints memory.DeviceConstraints

	// PauseFrame, if >0, is the frame before which the application pauses.
	PauseFrame uint64

	// BufferPool, if not nil, holds the trace reader's block buffers.
	BufferPool *bufferpool.Pool

	// RunID, if not nil, identifies the run. If nil, a new ID is generated.
	RunID xid.ID

	// Logger, if not nil, is used to log run progress.
	Logger logging.L
}

// Validate checks that o is a usable configuration. Errors have
// ErrConfiguration as their cause.
func (o *Options) Validate() error {
	if o.MultiPassPortability && o.Allocator != device.AllocatorDefault {
		return errors.Wrapf(ErrConfiguration,
			"multi-pass portability cannot be combined with the %q memory translation mode", o.Allocator)
	}
	if o.Allocator < device.AllocatorDefault || o.Allocator > device.AllocatorRebind {
		return errors.Wrapf(ErrConfiguration, "unknown memory translation mode %d", int(o.Allocator))
	}
	return nil
}
