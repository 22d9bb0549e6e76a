// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tracefile reads and writes captured graphics API trace files.
//
// A trace file is a fixed file header followed by a sequence of blocks. Each
// block carries a fixed block header and a payload, which may be compressed
// with the codec named in the file header:
//
//	+-------------+---------------+---------+---------------+---------+
//	| File Header | Block Header  | Payload | Block Header  | Payload | ...
//	+-------------+---------------+---------+---------------+---------+
//
// All header fields are little-endian. A block header records both the
// stored (compressed) size and the decoded size of its payload, and a block
// whose decoded payload does not match is treated as corrupt.
//
// Three block kinds are defined:
//
//   - Frame markers, whose payload is the little-endian uint64 number of the
//     frame that just ended.
//   - API calls, whose payload is decoded by the decode package.
//   - Metadata, whose payload is a protostream of structpb.Struct messages.
//
// The first block of a file written by Writer is always a metadata block
// naming the trace and its creation time.
package tracefile
