// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package replay runs a trace through decode and replay, optionally preceded
// by a lookahead pass that makes the trace's memory layout portable to the
// replay device.
package replay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xooiamd/gfxreconstruct/application"
	"github.com/xooiamd/gfxreconstruct/decode"
	"github.com/xooiamd/gfxreconstruct/memory"
	"github.com/xooiamd/gfxreconstruct/support/logging"
	"github.com/xooiamd/gfxreconstruct/tracefile"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// State is the state of an Orchestrator run.
type State int

const (
	// StateIdle is the state before Run.
	StateIdle State = iota
	// StatePass1Running is the lookahead pass, tracking resources only.
	StatePass1Running
	// StateRemapComputed is the state after the lookahead pass produced a remap
	// table.
	StateRemapComputed
	// StatePass2Running is the replay pass.
	StatePass2Running
	// StateDone is the state after a successful replay.
	StateDone
	// StateFailed is the state after a run failure.
	StateFailed
)

var stateNames = []string{
	StateIdle:          "Idle",
	StatePass1Running:  "Pass1Running",
	StateRemapComputed: "RemapComputed",
	StatePass2Running:  "Pass2Running",
	StateDone:          "Done",
	StateFailed:        "Failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PassState is the progress of the current pass. It is reset at the start of
// each pass.
type PassState struct {
	// Pass is 1 for the lookahead pass and 2 for the replay pass.
	Pass int
	// FrameNumber is the reader's current frame number.
	FrameNumber uint64
	// ErrorState is the reader's error state.
	ErrorState tracefile.ErrorState
	// Blocks is the number of blocks processed.
	Blocks int64
}

// Replayer is the observer that replays calls in the replay pass.
type Replayer interface {
	decode.FrameObserver
	decode.FatalErrorSource

	// SetRemapTable hands the replayer the lookahead pass's remap table. It is
	// called before any call is dispatched.
	SetRemapTable(*memory.RemapTable)
}

// Orchestrator runs a trace through its passes.
//
// An Orchestrator performs a single run. Its accessors may be called from
// other goroutines while Run is in progress.
type Orchestrator struct {
	opts   Options
	runID  xid.ID
	logger logging.L

	mu      sync.Mutex
	state   State
	pass    PassState
	remap   *memory.RemapTable
	summary Summary

	aborted  int32
	abortMsg atomic.Value
}

// NewOrchestrator creates an Orchestrator for a single run with opts.
func NewOrchestrator(opts Options) *Orchestrator {
	o := Orchestrator{
		opts:   opts,
		runID:  opts.RunID,
		logger: logging.Must(opts.Logger),
	}
	if o.runID.IsNil() {
		o.runID = xid.New()
	}
	return &o
}

// RunID returns the unique ID of this run.
func (o *Orchestrator) RunID() xid.ID { return o.runID }

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// PassState returns the progress of the current, or last, pass.
func (o *Orchestrator) PassState() PassState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pass
}

// RemapTable returns the remap table computed by the lookahead pass, or nil if
// there was none.
func (o *Orchestrator) RemapTable() *memory.RemapTable {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.remap
}

// Summary returns the result of the replay pass.
func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// Abort stops the run before its next block. It may be called from any
// goroutine, including from within an observer.
func (o *Orchestrator) Abort(reason string) {
	o.abortMsg.Store(reason)
	atomic.StoreInt32(&o.aborted, 1)
}

func (o *Orchestrator) checkAbort(ctx context.Context) error {
	if atomic.LoadInt32(&o.aborted) != 0 {
		reason, _ := o.abortMsg.Load().(string)
		return errors.Wrap(errAborted, reason)
	}
	return ctx.Err()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.logger.Debugf("Run state %s => %s.", o.state, s)
	o.state = s
	runState.Set(float64(s))
}

// fail records err as the run's failure and returns it as an *Error.
func (o *Orchestrator) fail(pass int, frame uint64, err error) error {
	re, ok := err.(*Error)
	if !ok {
		re = &Error{Kind: classify(err), Pass: pass, Frame: frame, Err: err}
	}

	o.mu.Lock()
	o.summary.Failed = true
	o.summary.Err = re
	o.mu.Unlock()

	o.setState(StateFailed)
	runFailures.WithLabelValues(re.Kind.String()).Inc()
	o.logger.Errorf("Run failed: %s", re)
	return re
}

// Run replays the trace at path. It returns nil once the replay pass reaches
// the end of the trace.
//
// If multi-pass portability is enabled, the trace is first read with only a
// memory.Tracker attached, and the resulting remap table is handed to
// replayer. The replay pass is driven frame by frame by app.
//
// Run may only be called once.
func (o *Orchestrator) Run(ctx context.Context, path string, replayer Replayer, app application.Application) error {
	if s := o.State(); s != StateIdle {
		return errors.Errorf("run already started (%s)", s)
	}

	// Configuration problems are reported before anything is read.
	if err := o.opts.Validate(); err != nil {
		return &Error{Kind: KindConfiguration, Err: err}
	}
	if replayer == nil {
		return &Error{Kind: KindConfiguration, Err: errors.Wrap(ErrConfiguration, "no replayer")}
	}
	if app == nil {
		app = &application.Headless{Logger: o.opts.Logger}
	}

	runsStarted.Inc()
	o.logger.Infof("Replaying %q (multi-pass: %v, memory translation: %s).",
		path, o.opts.MultiPassPortability, o.opts.Allocator)

	r, err := tracefile.MakeReader(path, tracefile.ReaderConfig{
		BufferPool: o.opts.BufferPool,
		Logger:     o.opts.Logger,
	})
	if err != nil {
		return o.fail(0, 0, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			o.logger.Warnf("Failed to close trace %q: %s", path, err)
		}
	}()

	if o.opts.MultiPassPortability {
		o.setState(StatePass1Running)
		rt, err := o.runLookahead(ctx, r)
		if err != nil {
			return err
		}

		o.mu.Lock()
		o.remap = rt
		o.mu.Unlock()
		o.setState(StateRemapComputed)

		if err := r.Reset(); err != nil {
			return o.fail(2, 0, err)
		}
		replayer.SetRemapTable(rt)
	}

	o.setState(StatePass2Running)
	if err := o.runReplay(ctx, r, replayer, app); err != nil {
		return err
	}
	o.setState(StateDone)
	return nil
}

// runLookahead runs pass 1 and computes the remap table.
func (o *Orchestrator) runLookahead(ctx context.Context, r *tracefile.Reader) (*memory.RemapTable, error) {
	const pass = 1
	o.startPass(pass)
	logger := logging.WithPrefix(o.logger, "[pass 1] ")

	tracker := memory.Tracker{Logger: logger}
	dec := decode.Decoder{Logger: logger}
	dec.AddObserver(&tracker)

	p := o.newPlayer(pass, r, &dec)
	for {
		_, err := p.step(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	logger.Infof("Tracked %d allocation(s) and %d bind(s).", len(tracker.Allocations()), tracker.NumBinds())
	rt, err := tracker.ComputeRemap(o.opts.DeviceConstraints)
	if err != nil {
		return nil, o.fail(pass, r.FrameNumber(), errors.Wrapf(ErrConfiguration, "computing remap table: %s", err))
	}
	logger.Infof("Computed remap table with %d entries.", rt.Len())
	return rt, nil
}

// runReplay runs pass 2, with replayer as the only observer.
func (o *Orchestrator) runReplay(ctx context.Context, r *tracefile.Reader, replayer Replayer,
	app application.Application) error {

	const pass = 2
	o.startPass(pass)

	replayer.SetFatalErrorHandler(func(message string) { o.Abort(message) })

	dec := decode.Decoder{Logger: logging.WithPrefix(o.logger, "[pass 2] ")}
	dec.AddObserver(replayer)

	p := o.newPlayer(pass, r, &dec)
	app.SetPauseFrame(o.opts.PauseFrame)

	start := time.Now()
	err := app.Run(ctx, p)

	o.mu.Lock()
	o.summary.Duration = time.Since(start)
	o.summary.Frames = p.framesEnded
	o.mu.Unlock()

	if err != nil {
		if _, ok := err.(*Error); ok {
			return err
		}
		return o.fail(pass, r.FrameNumber(), err)
	}
	return nil
}

func (o *Orchestrator) startPass(pass int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pass = PassState{Pass: pass, FrameNumber: 1}
	passesStarted.WithLabelValues(fmt.Sprint(pass)).Inc()
}

func (o *Orchestrator) updatePass(r *tracefile.Reader) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pass.FrameNumber = r.FrameNumber()
	o.pass.ErrorState = r.ErrorState()
	o.pass.Blocks++
}
