// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package protostream

import (
	"io"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

// Encoder builds varint length-prefixed message streams.
//
// The zero value is ready to use. An Encoder reuses its scratch buffer between
// calls, and is not safe for concurrent use.
type Encoder struct {
	buf *proto.Buffer
}

// Append appends the framed encoding of pb to dst and returns the result.
func (e *Encoder) Append(dst []byte, pb proto.Message) ([]byte, error) {
	if e.buf == nil {
		e.buf = proto.NewBuffer(nil)
	}
	e.buf.SetBuf(dst)

	if err := e.buf.EncodeVarint(uint64(proto.Size(pb))); err != nil {
		return dst, err
	}
	if err := e.buf.Marshal(pb); err != nil {
		return dst, err
	}

	out := e.buf.Bytes()
	e.buf.SetBuf(nil)
	return out, nil
}

// AppendAll appends the framed encoding of each message in msgs to dst.
func (e *Encoder) AppendAll(dst []byte, msgs ...proto.Message) ([]byte, error) {
	for i, pb := range msgs {
		var err error
		if dst, err = e.Append(dst, pb); err != nil {
			return dst, errors.Wrapf(err, "encoding message #%d", i)
		}
	}
	return dst, nil
}

// Write writes the framed encoding of pb to w. It returns the number of bytes
// written.
func (e *Encoder) Write(w io.Writer, pb proto.Message) (int, error) {
	data, err := e.Append(nil, pb)
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}
