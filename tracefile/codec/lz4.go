// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build !nolz4
// +build !nolz4

package codec

import (
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

func init() { register(LZ4, lz4Codec{}) }

// lz4Codec uses raw LZ4 blocks. The block header already carries the
// uncompressed size, so no frame is needed.
type lz4Codec struct{}

func (lz4Codec) encode(dst, src []byte, level int) ([]byte, error) {
	out := growTo(dst, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, out, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 && len(src) > 0 {
		return nil, ErrIncompressible
	}
	return out[:n], nil
}

func (lz4Codec) decode(dst, src []byte, expectedSize int) ([]byte, error) {
	out := growTo(dst, expectedSize)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		// A destination that is too small means the block decodes to more than
		// its header declared.
		if errors.Cause(err) == lz4.ErrInvalidSourceShortBuffer {
			return nil, errors.Wrapf(ErrSizeMismatch, "lz4 output exceeds %d bytes", expectedSize)
		}
		return nil, err
	}
	return out[:n], nil
}
