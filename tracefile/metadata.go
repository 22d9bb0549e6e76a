// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tracefile

import (
	"sort"
	"strconv"

	"github.com/xooiamd/gfxreconstruct/support/byteslicereader"
	"github.com/xooiamd/gfxreconstruct/support/protostream"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/pkg/errors"
)

// Well-known metadata keys.
const (
	// MetadataName is the display name of the trace.
	MetadataName = "name"
	// MetadataCreated is the RFC 3339 creation time of the trace.
	MetadataCreated = "created"
	// MetadataWriter identifies the program that wrote the trace.
	MetadataWriter = "writer"

	// MetadataFrames is the number of frame markers in the trace. It is written
	// in the trailing metadata block when a Writer is closed.
	MetadataFrames = "frames"
	// MetadataCalls is the number of API call blocks in the trace.
	MetadataCalls = "calls"
)

// StringValue returns a structpb.Value holding s.
func StringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}

// NumberValue returns a structpb.Value holding v.
func NumberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

// EncodeMetadata encodes entries as a metadata block payload.
func EncodeMetadata(entries ...*structpb.Struct) ([]byte, error) {
	msgs := make([]proto.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e
	}

	var enc protostream.Encoder
	payload, err := enc.AppendAll(nil, msgs...)
	if err != nil {
		return nil, errors.Wrap(err, "encoding metadata")
	}
	return payload, nil
}

// DecodeMetadata decodes a metadata block payload.
func DecodeMetadata(payload []byte) ([]*structpb.Struct, error) {
	var (
		dec     protostream.Decoder
		entries []*structpb.Struct
	)
	r := byteslicereader.R{Buffer: payload}
	err := dec.ReadAll(&r,
		func() proto.Message { return &structpb.Struct{} },
		func(pb proto.Message) error {
			entries = append(entries, pb.(*structpb.Struct))
			return nil
		})
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptData, "decoding metadata: %s", err)
	}
	return entries, nil
}

// Metadata is the merged view of a trace's metadata blocks. Later values for a
// key replace earlier ones.
type Metadata map[string]*structpb.Value

// Merge adds the fields of entries to md.
func (md Metadata) Merge(entries ...*structpb.Struct) {
	for _, e := range entries {
		for k, v := range e.GetFields() {
			md[k] = v
		}
	}
}

// String returns the value of key rendered as a string, and whether it was
// present.
func (md Metadata) String(key string) (string, bool) {
	v, ok := md[key]
	if !ok {
		return "", false
	}
	return renderValue(v), true
}

// Keys returns md's keys in sorted order.
func (md Metadata) Keys() []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderValue(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	case *structpb.Value_NullValue, nil:
		return ""
	default:
		return proto.CompactTextString(v)
	}
}
