// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

func init() { register(SNAPPY, snappyCodec{}) }

type snappyCodec struct{}

func (snappyCodec) encode(dst, src []byte, level int) ([]byte, error) {
	return snappy.Encode(dst, src), nil
}

func (snappyCodec) decode(dst, src []byte, expectedSize int) ([]byte, error) {
	// Snappy records the decoded length up front; refuse to allocate for a
	// block that is going to mismatch anyway.
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, err
	}
	if n != expectedSize {
		return nil, errors.Wrapf(ErrSizeMismatch, "snappy header declares %d bytes, expected %d", n, expectedSize)
	}
	return snappy.Decode(growTo(dst, n), src)
}
