// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package dataio contains small I/O adapters shared by the trace file and
// framing packages.
package dataio

import (
	"io"
)

// Reader represents a Reader that can read both individual bytes and
// sequences of bytes.
type Reader interface {
	io.Reader
	io.ByteReader
}

// MakeReader returns a Reader for the specified Reader.
//
// If r already implements io.ByteReader it is returned directly; otherwise
// single-byte reads are simulated on top of r, which is slow for unbuffered
// sources.
func MakeReader(r io.Reader) Reader {
	if dr, ok := r.(Reader); ok {
		return dr
	}
	return &simulatedReader{Reader: r}
}

type simulatedReader struct {
	io.Reader

	b [1]byte
}

func (r *simulatedReader) ReadByte() (byte, error) {
	switch amt, err := r.Read(r.b[:]); {
	case amt == 1:
		return r.b[0], nil
	case err != nil:
		return 0, err
	default:
		return 0, io.ErrNoProgress
	}
}
