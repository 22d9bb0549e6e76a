// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

func init() { register(GZIP, gzipCodec{}) }

type gzipCodec struct{}

func (gzipCodec) encode(dst, src []byte, level int) ([]byte, error) {
	if level < 0 {
		level = gzip.DefaultCompression
	}

	buf := bytes.NewBuffer(dst[:0])
	gw, err := gzip.NewWriterLevel(buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "creating gzip writer")
	}
	if _, err := gw.Write(src); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) decode(dst, src []byte, expectedSize int) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "creating gzip reader")
	}
	defer func() {
		_ = gr.Close()
	}()

	// Read at most one byte past the expected size, so that oversized output
	// is detected without decoding all of it.
	out := growTo(dst, expectedSize+1)
	n, err := io.ReadFull(gr, out)
	switch err {
	case nil:
		return nil, errors.Wrapf(ErrSizeMismatch, "gzip output exceeds %d bytes", expectedSize)
	case io.EOF, io.ErrUnexpectedEOF:
		return out[:n], nil
	default:
		return nil, err
	}
}
