// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"encoding/binary"
	"math"

	"github.com/xooiamd/gfxreconstruct/support/byteslicereader"

	"github.com/pkg/errors"
)

// maxNestingDepth bounds how deeply structures and arrays may nest.
const maxNestingDepth = 32

// EncodeCall encodes a call to id with args as an API call block payload.
//
// If id is a known function, args are checked against its parameters.
func EncodeCall(id FunctionID, args ...Value) ([]byte, error) {
	if fn := LookupFunction(id); fn != nil {
		if err := fn.check(args); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 4, 64)
	binary.LittleEndian.PutUint32(buf, uint32(id))
	buf = binary.AppendUvarint(buf, uint64(len(args)))
	for i, a := range args {
		var err error
		if buf, err = appendValue(buf, a, 0); err != nil {
			return nil, errors.Wrapf(err, "encoding argument #%d", i)
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v Value, depth int) ([]byte, error) {
	if depth > maxNestingDepth {
		return nil, errors.New("value nesting too deep")
	}

	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindUint:
		buf = binary.AppendUvarint(buf, v.Uint)
	case KindInt:
		buf = binary.AppendVarint(buf, v.Int)
	case KindHandle:
		buf = binary.LittleEndian.AppendUint64(buf, v.Uint)
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case KindBytes, KindString:
		buf = binary.AppendUvarint(buf, uint64(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	case KindStruct:
		if v.Struct == nil {
			return nil, errors.New("struct value has no Struct")
		}
		return appendStruct(buf, v.Struct, depth)
	case KindArray:
		buf = binary.AppendUvarint(buf, uint64(len(v.Array)))
		for _, e := range v.Array {
			var err error
			if buf, err = appendValue(buf, e, depth+1); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("unknown value kind %s", v.Kind)
	}
	return buf, nil
}

// appendStruct appends s (after its tag) and its extension chain.
func appendStruct(buf []byte, s *Struct, depth int) ([]byte, error) {
	buf = binary.AppendUvarint(buf, uint64(s.Type))
	buf = binary.AppendUvarint(buf, uint64(len(s.Fields)))
	for _, f := range s.Fields {
		var err error
		if buf, err = appendValue(buf, f, depth+1); err != nil {
			return nil, err
		}
	}
	if s.Next == nil {
		return append(buf, byte(KindNull)), nil
	}
	return appendValue(buf, StructValue(s.Next), depth+1)
}

// parseCall parses an API call payload into its function ID and arguments.
func parseCall(payload []byte) (FunctionID, []Value, error) {
	r := byteslicereader.R{Buffer: payload}
	id, err := r.Uint32()
	if err != nil {
		return 0, nil, errors.Wrap(err, "reading function ID")
	}

	args, err := parseValues(&r, 0)
	if err != nil {
		return FunctionID(id), nil, errors.Wrapf(err, "parsing %s arguments", FunctionID(id))
	}
	if r.Remaining() > 0 {
		return FunctionID(id), nil, errors.Errorf("%d trailing bytes after %s arguments",
			r.Remaining(), FunctionID(id))
	}
	return FunctionID(id), args, nil
}

// parseValues parses a count-prefixed sequence of values.
func parseValues(r *byteslicereader.R, depth int) ([]Value, error) {
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	// Every value is at least one byte.
	if count > uint64(r.Remaining()) {
		return nil, errors.Errorf("value count %d exceeds remaining %d bytes", count, r.Remaining())
	}

	vs := make([]Value, count)
	for i := range vs {
		if vs[i], err = parseValue(r, depth); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func parseValue(r *byteslicereader.R, depth int) (v Value, err error) {
	if depth > maxNestingDepth {
		return v, errors.New("value nesting too deep")
	}

	tag, err := r.ReadByte()
	if err != nil {
		return v, byteslicereader.ErrShortBuffer
	}

	v.Kind = Kind(tag)
	switch v.Kind {
	case KindNull:
	case KindUint:
		v.Uint, err = r.Uvarint()
	case KindInt:
		v.Int, err = r.Varint()
	case KindHandle:
		v.Uint, err = r.Uint64()
	case KindFloat:
		v.Float, err = r.Float64()
	case KindBytes, KindString:
		v.Bytes, err = r.LengthPrefixed()
	case KindStruct:
		v.Struct, err = parseStruct(r, depth)
	case KindArray:
		v.Array, err = parseValues(r, depth+1)
	default:
		err = errors.Errorf("unknown value tag %d", tag)
	}
	return
}

func parseStruct(r *byteslicereader.R, depth int) (*Struct, error) {
	st, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if st > math.MaxUint32 {
		return nil, errors.Errorf("struct type %d out of range", st)
	}

	s := Struct{Type: StructType(st)}
	if s.Fields, err = parseValues(r, depth+1); err != nil {
		return nil, errors.Wrapf(err, "parsing %s fields", s.Type)
	}

	next, err := parseValue(r, depth+1)
	switch {
	case err != nil:
		return nil, errors.Wrapf(err, "parsing %s extension", s.Type)
	case next.Kind == KindStruct:
		s.Next = next.Struct
	case next.Kind != KindNull:
		return nil, errors.Errorf("%s extension is a %s, not a struct", s.Type, next.Kind)
	}
	return &s, nil
}
