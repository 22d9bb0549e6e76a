// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package decode turns API call blocks into typed call records and fans them
// out to registered observers.
//
// A call block payload is a little-endian uint32 function ID, followed by a
// uvarint argument count and that many tagged values. Each value starts with
// a one-byte Kind tag:
//
//	Null:   no data
//	Uint:   uvarint
//	Int:    zig-zag varint
//	Handle: uint64, little-endian
//	Float:  IEEE 754 float64, little-endian
//	Bytes, String: uvarint length, then data
//	Struct: uvarint type, uvarint field count, fields, then either a Struct
//	        value (the next extension) or Null
//	Array:  uvarint count, then values
package decode

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/xooiamd/gfxreconstruct/support/logging"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"
)

// ErrUnknownFunction is returned by Decode for a well-formed call to a
// function that is not known. Such calls are skipped, never dispatched.
var ErrUnknownFunction = errors.New("unknown function")

// IsUnknownFunction returns true if err means a call should be skipped.
func IsUnknownFunction(err error) bool { return errors.Cause(err) == ErrUnknownFunction }

// Registration is returned by AddObserver, and identifies one registration of
// an Observer.
type Registration struct {
	o Observer

	// removed is set when the registration is removed. A dispatch that is
	// already iterating over a snapshot containing it checks it before each
	// delivery.
	removed int32
}

func (e *Registration) isRemoved() bool { return atomic.LoadInt32(&e.removed) != 0 }

// Decoder decodes call blocks and dispatches the resulting records to its
// Observers, in registration order.
//
// Observers may be added and removed at any time, including from within an
// OnCall. A removed Observer never receives another record, and removal does
// not disturb delivery to the remaining Observers.
type Decoder struct {
	// Logger, if not nil, is used to log decoder events.
	Logger logging.L

	mu        sync.Mutex
	observers []*Registration
}

// AddObserver registers o. Registering the same Observer twice delivers each
// record to it twice.
//
// The returned Registration can be passed to Unregister.
func (d *Decoder) AddObserver(o Observer) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Copy on write, so snapshots held by active dispatches are unaffected.
	reg := &Registration{o: o}
	observers := make([]*Registration, len(d.observers), len(d.observers)+1)
	copy(observers, d.observers)
	d.observers = append(observers, reg)
	return reg
}

// Unregister removes reg. It returns false if reg was already removed, or was
// not returned by this Decoder.
func (d *Decoder) Unregister(reg *Registration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.observers {
		if e == reg {
			d.removeLocked(i)
			return true
		}
	}
	return false
}

// RemoveObserver unregisters the earliest registration of o. It returns false
// if o was not registered.
//
// Observers are compared by interface equality. An Observer whose dynamic type
// is not comparable, such as an ObserverFunc, is never matched; use Unregister
// to remove it.
func (d *Decoder) RemoveObserver(o Observer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.observers {
		if sameObserver(e.o, o) {
			d.removeLocked(i)
			return true
		}
	}
	return false
}

func (d *Decoder) removeLocked(i int) {
	atomic.StoreInt32(&d.observers[i].removed, 1)
	observers := make([]*Registration, 0, len(d.observers)-1)
	observers = append(observers, d.observers[:i]...)
	d.observers = append(observers, d.observers[i+1:]...)
}

func sameObserver(a, b Observer) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// NumObservers returns the number of registered Observers.
func (d *Decoder) NumObservers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

func (d *Decoder) snapshot() []*Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observers
}

// Decode decodes an API call block belonging to frame.
//
// Calls to unknown functions return an error whose cause is
// ErrUnknownFunction. Malformed calls return an error whose cause is
// tracefile.ErrCorruptData.
func (d *Decoder) Decode(b *tracefile.Block, frame uint64) (*CallRecord, error) {
	if b.Kind != tracefile.BlockAPICall {
		return nil, errors.Errorf("block %d is a %s block, not an API call", b.Index, b.Kind)
	}

	id, args, err := parseCall(b.Payload)
	if err != nil {
		return nil, errors.Wrapf(tracefile.ErrCorruptData, "call block %d: %s", b.Index, err)
	}

	fn := LookupFunction(id)
	if fn == nil {
		return nil, errors.Wrapf(ErrUnknownFunction, "call block %d: function 0x%x", b.Index, uint32(id))
	}
	if err := fn.check(args); err != nil {
		return nil, errors.Wrapf(tracefile.ErrCorruptData, "call block %d: %s", b.Index, err)
	}

	callsDecoded.WithLabelValues(fn.Name).Inc()
	return &CallRecord{
		Index:       b.Index,
		FunctionID:  id,
		FrameNumber: frame,
		Args:        args,
		fn:          fn,
	}, nil
}

// Dispatch delivers cr to every registered Observer, in registration order.
//
// Dispatch stops at the first Observer error, and returns it as an
// *ObserverError.
func (d *Decoder) Dispatch(cr *CallRecord) error {
	dispatches.Inc()
	for _, e := range d.snapshot() {
		if e.isRemoved() {
			continue
		}
		if err := e.o.OnCall(cr); err != nil {
			observerErrors.Inc()
			return &ObserverError{Observer: e.o, Call: cr.Index, Frame: cr.FrameNumber, Err: err}
		}
	}
	return nil
}

// DispatchFrameBoundary tells every registered FrameObserver that frame has
// ended.
func (d *Decoder) DispatchFrameBoundary(frame uint64) error {
	for _, e := range d.snapshot() {
		if e.isRemoved() {
			continue
		}
		fo, ok := e.o.(FrameObserver)
		if !ok {
			continue
		}
		if err := fo.OnFrameBoundary(frame); err != nil {
			observerErrors.Inc()
			return &ObserverError{Observer: e.o, Call: -1, Frame: frame, Err: err}
		}
	}
	return nil
}

// HandleBlock processes one block read at frame.
//
// API calls are decoded and dispatched; calls to unknown functions are
// skipped. Frame markers are dispatched as frame boundaries. Metadata blocks
// are ignored.
func (d *Decoder) HandleBlock(b *tracefile.Block, frame uint64) error {
	switch b.Kind {
	case tracefile.BlockAPICall:
		cr, err := d.Decode(b, frame)
		switch {
		case err == nil:
			return d.Dispatch(cr)
		case IsUnknownFunction(err):
			unknownCallsSkipped.Inc()
			logging.Must(d.Logger).Debugf("Skipping unknown call: %s", err)
			return nil
		default:
			return err
		}

	case tracefile.BlockFrameMarker:
		ended, err := b.FrameMarker()
		if err != nil {
			return err
		}
		return d.DispatchFrameBoundary(ended)

	default:
		return nil
	}
}
