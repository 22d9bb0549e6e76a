// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package byteslicereader offers R, a slice-backed reader with zero-copy and
// fixed-width decoding helpers.
//
// Call payloads are fully buffered before they are decoded, so argument
// decoding reads straight out of the payload slice. The zero-copy operation,
// Next, returns slices of R's underlying Buffer. Holding such a slice means
// the Buffer must persist as long as the reference is valid.
//
// R allows for APIs that may want to be zero-copy conditionally by exposing
// an AlwaysCopy flag. If set, R's zero-copy operations will return copies of
// the underlying Buffer, decoupling them from their base state.
package byteslicereader

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when a fixed-width or length-prefixed read runs
// past the end of the Buffer.
var ErrShortBuffer = errors.New("short buffer")

// R is an io.Reader-inspired reader over a byte slice.
//
// R can be copied, creating a snapshot of its current state.
type R struct {
	// Buffer is the backing buffer for this reader.
	Buffer []byte

	// AlwaysCopy, if true, causes zero-copy methods to return copies of their
	// backing data instead of direct references.
	AlwaysCopy bool

	// pos is the R's position within Buffer.
	pos int
}

var _ interface {
	io.Reader
	io.ByteReader
} = (*R)(nil)

func (r *R) remainingSlice() []byte {
	if r.pos >= len(r.Buffer) {
		return nil
	}
	return r.Buffer[r.pos:]
}

// Remaining returns the number of bytes remaining in the reader, from the
// current position.
func (r *R) Remaining() int { return len(r.remainingSlice()) }

// Offset returns the current position within Buffer.
func (r *R) Offset() int { return r.pos }

// Read implements io.Reader.
//
// Note that using Read causes data to be copied.
func (r *R) Read(b []byte) (amt int, err error) {
	amt = copy(b, r.remainingSlice())
	r.pos += amt
	if r.pos >= len(r.Buffer) {
		err = io.EOF
	}
	return
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (b byte, err error) {
	if r.pos >= len(r.Buffer) {
		return 0, io.EOF
	}

	b, r.pos = r.Buffer[r.pos], r.pos+1
	return
}

// Next returns the next n bytes in r, advancing r.
//
// Next is a zero-copy equivalent to Read, and returns a slice of the underlying
// Buffer unless AlwaysCopy is true.
//
// If there are fewer than n bytes in r, Next will return as many bytes as it
// can and io.EOF as an error. Next will never return an error if all requested
// bytes are returned.
func (r *R) Next(n int) (v []byte, err error) {
	v = r.remainingSlice()
	if n < len(v) {
		v = v[:n]
	} else if n > len(v) {
		err = io.EOF
	}

	if r.AlwaysCopy {
		v = append([]byte(nil), v...)
	}

	r.pos += len(v)
	return
}

// Exact is like Next, but fails with ErrShortBuffer unless exactly n bytes
// are available.
func (r *R) Exact(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", n, r.Remaining())
	}
	v, _ := r.Next(n)
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (r *R) Uint32() (uint32, error) {
	v, err := r.Exact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v), nil
}

// Uint64 reads a little-endian uint64.
func (r *R) Uint64() (uint64, error) {
	v, err := r.Exact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v), nil
}

// Float64 reads a little-endian IEEE 754 float64.
func (r *R) Float64() (float64, error) {
	v, err := r.Uint64()
	return math.Float64frombits(v), err
}

// Uvarint reads an unsigned varint.
func (r *R) Uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrShortBuffer
	}
	return v, err
}

// Varint reads a zig-zag signed varint.
func (r *R) Varint() (int64, error) {
	v, err := binary.ReadVarint(r)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = ErrShortBuffer
	}
	return v, err
}

// LengthPrefixed reads a uvarint length followed by that many bytes.
func (r *R) LengthPrefixed() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, errors.Wrapf(ErrShortBuffer, "length prefix %d exceeds remaining %d", n, r.Remaining())
	}
	return r.Exact(int(n))
}
