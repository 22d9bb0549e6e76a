// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package protostream reads and writes sequences of varint length-prefixed
// protobuf messages.
//
// Trace metadata blocks carry their payload in this framing, so a single block
// may hold any number of messages.
package protostream

import (
	"bytes"
	"io"

	"github.com/xooiamd/gfxreconstruct/support/dataio"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

// The maximum varint size, in bytes. This is the total number of bytes needed
// to encode the largest uint64 using proto.EncodeVarint.
const maxVarintSizeU64 = 10

// DefaultMaxMessageSize is the largest message a Decoder will accept when its
// MaxMessageSize is zero.
const DefaultMaxMessageSize = 16 * 1024 * 1024

// ErrMessageTooLarge is returned when a size prefix exceeds the Decoder's
// maximum message size.
var ErrMessageTooLarge = errors.New("message size exceeds maximum")

// Decoder is a reusable object which decodes a series of messages from a proto
// stream.
type Decoder struct {
	// MaxMessageSize, if >0, is the maximum size of a single message. If zero,
	// DefaultMaxMessageSize is used.
	MaxMessageSize int

	buf     *proto.Buffer
	dataBuf bytes.Buffer

	sizeBuf [maxVarintSizeU64]byte
}

func (d *Decoder) bufferNextVarint(r dataio.Reader) ([]byte, error) {
	sizeBuf := d.sizeBuf[:0]
	for len(sizeBuf) < maxVarintSizeU64 {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(sizeBuf) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return sizeBuf, err
		}

		sizeBuf = append(sizeBuf, b)
		if (b & 0x80) == 0 {
			// Varint does not have continuation bit set.
			return sizeBuf, nil
		}
	}

	// If we've reached our maximum size, error.
	return sizeBuf, errors.New("size prefix is not a valid varint")
}

func (d *Decoder) maxMessageSize() uint64 {
	if d.MaxMessageSize > 0 {
		return uint64(d.MaxMessageSize)
	}
	return DefaultMaxMessageSize
}

// Read reads the next message from r into pb, returning the number of bytes
// consumed.
//
// If r is exhausted at a message boundary, Read returns io.EOF. If r ends
// inside of a message, Read returns io.ErrUnexpectedEOF.
func (d *Decoder) Read(r dataio.Reader, pb proto.Message) (int64, error) {
	if d.buf == nil {
		d.buf = proto.NewBuffer(nil)
	}

	// The "proto" package doesn't help with reading a varint from a stream;
	// instead, we rely on the encoding: the varint continues until the most
	// significant bit is zero.
	sizeBuf, err := d.bufferNextVarint(r)
	count := int64(len(sizeBuf))
	if err != nil {
		return count, err
	}

	size, amt := proto.DecodeVarint(sizeBuf)
	if amt != len(sizeBuf) {
		panic("incompatible proto varint encoding")
	}
	if size > d.maxMessageSize() {
		return count, errors.Wrapf(ErrMessageTooLarge, "%d > %d", size, d.maxMessageSize())
	}

	d.dataBuf.Reset()
	d.dataBuf.Grow(int(size))
	lr := io.LimitedReader{
		R: r,
		N: int64(size),
	}
	readCount, err := d.dataBuf.ReadFrom(&lr)
	count += readCount
	if err != nil {
		return count, err
	}
	if readCount != int64(size) {
		return count, io.ErrUnexpectedEOF
	}

	d.buf.SetBuf(d.dataBuf.Bytes())
	return count, d.buf.Unmarshal(pb)
}

// ReadAll reads messages from r until it is exhausted. For each message, gen
// is called to supply an empty message to decode into, and the decoded
// message is passed to fn.
//
// ReadAll stops at the first error returned by Read or fn. A clean end of
// stream is not an error.
func (d *Decoder) ReadAll(r dataio.Reader, gen func() proto.Message, fn func(proto.Message) error) error {
	for {
		pb := gen()
		switch _, err := d.Read(r, pb); err {
		case nil:
			if err := fn(pb); err != nil {
				return err
			}
		case io.EOF:
			return nil
		default:
			return err
		}
	}
}
