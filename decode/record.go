// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"github.com/pkg/errors"
)

// CallRecord is the decoded form of one captured API call.
//
// A CallRecord is owned by the Decoder for the duration of a dispatch.
// Observers must not modify it, and must copy any Bytes they wish to retain
// past their OnCall return.
type CallRecord struct {
	// Index is the position of the call's block within the trace file. It is
	// stable across passes over the same file.
	Index int64
	// FunctionID identifies the called function.
	FunctionID FunctionID
	// FrameNumber is the frame that the call belongs to.
	FrameNumber uint64

	// Args holds the call's positional arguments.
	Args []Value

	fn *Function
}

// Function returns the description of the called function.
func (cr *CallRecord) Function() *Function { return cr.fn }

// Arg returns the i'th argument, or a null Value if there is none.
func (cr *CallRecord) Arg(i int) Value {
	if i < 0 || i >= len(cr.Args) {
		return Value{}
	}
	return cr.Args[i]
}

// Handle returns the i'th argument as a Handle.
func (cr *CallRecord) Handle(i int) (Handle, error) {
	h, ok := cr.Arg(i).Handle()
	if !ok {
		return NullHandle, cr.argError(i, KindHandle)
	}
	return h, nil
}

// Uint returns the i'th argument as an unsigned integer.
func (cr *CallRecord) Uint(i int) (uint64, error) {
	v := cr.Arg(i)
	if v.Kind != KindUint {
		return 0, cr.argError(i, KindUint)
	}
	return v.Uint, nil
}

// Struct returns the i'th argument as a structure. A null argument returns a
// nil structure.
func (cr *CallRecord) Struct(i int) (*Struct, error) {
	switch v := cr.Arg(i); v.Kind {
	case KindStruct:
		return v.Struct, nil
	case KindNull:
		return nil, nil
	default:
		return nil, cr.argError(i, KindStruct)
	}
}

func (cr *CallRecord) argError(i int, want Kind) error {
	return errors.Errorf("call %d (%s): argument #%d is %s, not %s",
		cr.Index, cr.FunctionID, i, cr.Arg(i).Kind, want)
}
