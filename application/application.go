// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package application hosts a replay: it supplies windows for the surfaces a
// trace creates, and drives frame processing until the trace ends or the
// replay is stopped.
//
// The backend is selected once, at startup. The replay pipeline never
// branches on which backend is in use.
package application

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xooiamd/gfxreconstruct/support/logging"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Surface identifies a window's presentable area.
type Surface struct {
	// ID is unique among the surfaces of one Application.
	ID uint64

	X, Y          int64
	Width, Height uint64
}

// Window is a window created by a WindowFactory.
type Window interface {
	// Surface returns the window's presentable surface.
	Surface() Surface
	// Close destroys the window.
	Close() error
}

// WindowFactory creates windows.
type WindowFactory interface {
	CreateWindow(x, y int64, width, height uint64) (Window, error)
}

// FrameProcessor processes a replay one frame at a time.
type FrameProcessor interface {
	// ProcessNextFrame processes blocks until the end of the current frame. It
	// returns false when there are no more frames.
	ProcessNextFrame(ctx context.Context) (bool, error)
}

// FrameProcessorFunc is a FrameProcessor implemented by a function.
type FrameProcessorFunc func(ctx context.Context) (bool, error)

// ProcessNextFrame implements FrameProcessor.
func (fn FrameProcessorFunc) ProcessNextFrame(ctx context.Context) (bool, error) { return fn(ctx) }

// Application drives a FrameProcessor.
type Application interface {
	// Run processes frames until fp has no more, fp fails, or ctx is cancelled.
	Run(ctx context.Context, fp FrameProcessor) error

	// SetPauseFrame sets the frame before which Run pauses. Zero disables
	// pausing.
	SetPauseFrame(frame uint64)

	// WindowFactory returns the factory for this Application's windows.
	WindowFactory() WindowFactory
}

// Backend selects an Application implementation.
type Backend int

const (
	// BackendAuto selects BackendPaced if a frame rate is configured, and
	// BackendHeadless otherwise.
	BackendAuto Backend = iota
	// BackendHeadless runs frames back to back with off-screen windows.
	BackendHeadless
	// BackendPaced runs frames at a fixed rate, and supports pausing.
	BackendPaced
)

var backendNames = []string{
	BackendAuto:     "auto",
	BackendHeadless: "headless",
	BackendPaced:    "paced",
}

func (b Backend) String() string {
	if int(b) >= 0 && int(b) < len(backendNames) {
		return backendNames[b]
	}
	return "unknown"
}

// ParseBackend resolves a backend name.
func ParseBackend(v string) (Backend, error) {
	for i, name := range backendNames {
		if strings.EqualFold(v, name) {
			return Backend(i), nil
		}
	}
	return BackendAuto, errors.Errorf("unknown backend: %q", v)
}

// BackendFlag is a pflag.Value implementation that stores a Backend.
type BackendFlag Backend

var _ pflag.Value = (*BackendFlag)(nil)

func (bf *BackendFlag) String() string { return Backend(*bf).String() }

// Set implements pflag.Value.
func (bf *BackendFlag) Set(v string) error {
	b, err := ParseBackend(v)
	if err != nil {
		return err
	}
	*bf = BackendFlag(b)
	return nil
}

// Type implements pflag.Value.
func (bf *BackendFlag) Type() string { return "application.Backend" }

// Value returns the backend held by this flag.
func (bf BackendFlag) Value() Backend { return Backend(bf) }

// BackendFlagValues returns the list of possible values for a BackendFlag.
func BackendFlagValues() string { return strings.Join(backendNames, ", ") }

// Config configures an Application.
type Config struct {
	// Backend selects the Application implementation.
	Backend Backend

	// FPS is the frame rate of the paced backend. If <= 0, frames are not
	// throttled.
	FPS float64

	// PauseFrame, if >0, is the frame before which the paced backend pauses.
	PauseFrame uint64

	// Logger, if not nil, is used to log application events.
	Logger logging.L
}

// New creates the Application selected by cfg.
func New(cfg Config) (Application, error) {
	backend := cfg.Backend
	if backend == BackendAuto {
		backend = BackendHeadless
		if cfg.FPS > 0 {
			backend = BackendPaced
		}
	}

	logger := logging.Must(cfg.Logger)
	switch backend {
	case BackendHeadless:
		a := &Headless{Logger: logger}
		a.SetPauseFrame(cfg.PauseFrame)
		return a, nil

	case BackendPaced:
		a := &Paced{Logger: logger}
		if cfg.FPS > 0 {
			a.Interval = time.Duration(float64(time.Second) / cfg.FPS)
		}
		a.SetPauseFrame(cfg.PauseFrame)
		return a, nil

	default:
		return nil, errors.Errorf("unsupported backend: %s", backend)
	}
}

// offscreenFactory creates windows that are never displayed.
type offscreenFactory struct {
	nextID uint64
}

func (f *offscreenFactory) CreateWindow(x, y int64, width, height uint64) (Window, error) {
	if width == 0 || height == 0 {
		return nil, errors.Errorf("invalid window size %dx%d", width, height)
	}
	windowsCreated.Inc()
	return &offscreenWindow{surface: Surface{
		ID:     atomic.AddUint64(&f.nextID, 1),
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}}, nil
}

type offscreenWindow struct {
	surface Surface
	closed  bool
}

func (w *offscreenWindow) Surface() Surface { return w.surface }

func (w *offscreenWindow) Close() error {
	if w.closed {
		return errors.New("window already closed")
	}
	w.closed = true
	return nil
}
