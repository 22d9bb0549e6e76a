// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build !nozstd
// +build !nozstd

package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

func init() { register(ZSTD, &zstdCodec{}) }

// zstdCodec lazily builds its encoders and decoder. All of them are safe for
// concurrent use through EncodeAll and DecodeAll.
type zstdCodec struct {
	mu       sync.Mutex
	encoders map[zstd.EncoderLevel]*zstd.Encoder
	decoder  *zstd.Decoder
}

func (zc *zstdCodec) encoder(level int) (*zstd.Encoder, error) {
	el := zstd.SpeedDefault
	if level >= 0 {
		el = zstd.EncoderLevelFromZstd(level)
	}

	zc.mu.Lock()
	defer zc.mu.Unlock()

	if enc := zc.encoders[el]; enc != nil {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(el), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	if zc.encoders == nil {
		zc.encoders = make(map[zstd.EncoderLevel]*zstd.Encoder)
	}
	zc.encoders[el] = enc
	return enc, nil
}

func (zc *zstdCodec) getDecoder() (*zstd.Decoder, error) {
	zc.mu.Lock()
	defer zc.mu.Unlock()

	if zc.decoder == nil {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxDecodedSize))
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd decoder")
		}
		zc.decoder = dec
	}
	return zc.decoder, nil
}

func (zc *zstdCodec) encode(dst, src []byte, level int) ([]byte, error) {
	enc, err := zc.encoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(src, dst[:0]), nil
}

// decode checks the frame's declared content size against expectedSize before
// decoding anything. Frames that do not declare a size are decoded as a
// stream, reading at most one byte past expectedSize.
func (zc *zstdCodec) decode(dst, src []byte, expectedSize int) ([]byte, error) {
	if len(src) == 0 {
		// The encoder emits nothing for an empty payload.
		return growTo(dst, 0), nil
	}

	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return nil, errors.Wrap(err, "reading zstd frame header")
	}
	if !h.HasFCS {
		return decodeZstdStream(dst, src, expectedSize)
	}
	if h.FrameContentSize != uint64(expectedSize) {
		return nil, errors.Wrapf(ErrSizeMismatch, "zstd frame declares %d bytes", h.FrameContentSize)
	}

	dec, err := zc.getDecoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(src, growTo(dst, expectedSize)[:0])
}

func decodeZstdStream(dst, src []byte, expectedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(src),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd stream decoder")
	}
	defer dec.Close()

	out := growTo(dst, expectedSize+1)
	n, err := io.ReadFull(dec, out)
	switch err {
	case nil:
		return nil, errors.Wrapf(ErrSizeMismatch, "zstd output exceeds %d bytes", expectedSize)
	case io.EOF, io.ErrUnexpectedEOF:
		return out[:n], nil
	default:
		return nil, err
	}
}
