// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package capture records API calls into trace files.
package capture

import (
	"sync"

	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	structpb "github.com/golang/protobuf/ptypes/struct"
)

// RecorderStatus is a snapshot of the current recorder status.
type RecorderStatus struct {
	Path   string
	Error  error
	Calls  int64
	Blocks int64
	Bytes  int64
	// Frame is the number of the frame being recorded.
	Frame uint64
}

// A Recorder records calls and frame boundaries into a trace file.
//
// A Recorder is safe for concurrent use. Calls recorded concurrently are
// written in the order their Record calls acquire the Recorder.
type Recorder struct {
	mu sync.Mutex
	// w is the currently-active trace writer.
	w *tracefile.Writer
	// writeErr is the first error that occurred while writing.
	writeErr error
}

// Start starts recording to w.
//
// The recording continues until Stop is called. Start takes ownership of w
// and closes it on Stop.
func (r *Recorder) Start(w *tracefile.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w != nil {
		panic("already started")
	}
	r.w = w
	recorderRecordingGauge.Inc()
}

// Stop stops the Recorder, finalizing its trace file and releasing its
// resources.
//
// If a write failed during recording, Stop returns that error.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return nil
	}

	err := r.w.Close()
	r.w = nil

	if err == nil {
		err = r.writeErr
	}
	r.writeErr = nil

	recorderRecordingGauge.Dec()
	return err
}

// Status returns a snapshot of the current Recorder status.
//
// If the Recorder is not currently recording, Status will return nil.
func (r *Recorder) Status() *RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return nil
	}
	return &RecorderStatus{
		Path:   r.w.Path(),
		Error:  r.writeErr,
		Calls:  r.w.NumCalls(),
		Blocks: r.w.NumBlocks(),
		Bytes:  r.w.NumBytes(),
		Frame:  r.w.FrameNumber(),
	}
}

// RecordCall encodes a call to id and adds it to the recording.
//
// A call that cannot be encoded is not recorded, and its error is returned;
// recording can continue.
func (r *Recorder) RecordCall(id decode.FunctionID, args ...decode.Value) error {
	payload, err := decode.EncodeCall(id, args...)
	if err != nil {
		recorderErrors.WithLabelValues("encoding").Inc()
		return err
	}
	return r.RecordEncodedCall(payload)
}

// RecordEncodedCall adds an already-encoded call to the recording.
func (r *Recorder) RecordEncodedCall(payload []byte) error {
	recorderCalls.Inc()
	return r.write(func(w *tracefile.Writer) error { return w.WriteCall(payload) })
}

// EndFrame ends the current frame.
func (r *Recorder) EndFrame() error {
	return r.write(func(w *tracefile.Writer) error { return w.WriteFrameMarker() })
}

// RecordMetadata adds a metadata block to the recording.
func (r *Recorder) RecordMetadata(entries ...*structpb.Struct) error {
	return r.write(func(w *tracefile.Writer) error { return w.WriteMetadata(entries...) })
}

func (r *Recorder) write(fn func(*tracefile.Writer) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// If we've been stopped, then do nothing.
	if r.w == nil {
		return nil
	}

	// We're already in an error state; a partial trace is not worth extending.
	if r.writeErr != nil {
		return r.writeErr
	}

	if err := fn(r.w); err != nil {
		recorderErrors.WithLabelValues("write").Inc()
		r.writeErr = err
		return err
	}
	return nil
}
