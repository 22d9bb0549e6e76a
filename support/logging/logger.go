// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging defines the logger contract threaded through the replay
// pipeline.
//
// There is no package-level logger. Every component that logs receives an L
// through its configuration, so two replay runs in the same process never
// share logging state.
package logging

import (
	"fmt"
)

// L accepts logging data.
//
// L is designed to automatically conform to logrus' Logger and Entry, and to
// zap's SugaredLogger, but is generic enough that any logger should be able to
// match it.
type L interface {
	// Error emits an error-level log.
	Error(args ...interface{})
	// Warn emits a warning-level log.
	Warn(args ...interface{})
	// Info emits an info-level log.
	Info(args ...interface{})
	// Debug emits a debug-level log.
	Debug(args ...interface{})

	// Errorf emits an error-level log.
	Errorf(fmt string, args ...interface{})
	// Warnf emits a warning-level log.
	Warnf(fmt string, args ...interface{})
	// Infof emits an info-level log.
	Infof(fmt string, args ...interface{})
	// Debugf emits a debug-level log.
	Debugf(fmt string, args ...interface{})
}

// Nop is a L instance that does nothing.
var Nop L = nopLogger{}

// Must ensures that a valid L is available. If l is not nil, it will be
// returned; otherwise, Must will return Nop.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

// WithPrefix returns an L that prepends prefix to every message emitted
// through l.
//
// If l is nil, WithPrefix returns Nop.
func WithPrefix(l L, prefix string) L {
	if l == nil || l == Nop {
		return Nop
	}
	return &prefixLogger{base: l, prefix: prefix}
}

type nopLogger struct{}

func (nopLogger) Error(args ...interface{}) {}
func (nopLogger) Warn(args ...interface{})  {}
func (nopLogger) Info(args ...interface{})  {}
func (nopLogger) Debug(args ...interface{}) {}

func (nopLogger) Errorf(fmt string, args ...interface{}) {}
func (nopLogger) Warnf(fmt string, args ...interface{})  {}
func (nopLogger) Infof(fmt string, args ...interface{})  {}
func (nopLogger) Debugf(fmt string, args ...interface{}) {}

type prefixLogger struct {
	base   L
	prefix string
}

func (pl *prefixLogger) msg(args []interface{}) string { return pl.prefix + fmt.Sprint(args...) }

func (pl *prefixLogger) Error(args ...interface{}) { pl.base.Error(pl.msg(args)) }
func (pl *prefixLogger) Warn(args ...interface{})  { pl.base.Warn(pl.msg(args)) }
func (pl *prefixLogger) Info(args ...interface{})  { pl.base.Info(pl.msg(args)) }
func (pl *prefixLogger) Debug(args ...interface{}) { pl.base.Debug(pl.msg(args)) }

func (pl *prefixLogger) Errorf(f string, args ...interface{}) { pl.base.Errorf(pl.prefix+f, args...) }
func (pl *prefixLogger) Warnf(f string, args ...interface{})  { pl.base.Warnf(pl.prefix+f, args...) }
func (pl *prefixLogger) Infof(f string, args ...interface{})  { pl.base.Infof(pl.prefix+f, args...) }
func (pl *prefixLogger) Debugf(f string, args ...interface{}) { pl.base.Debugf(pl.prefix+f, args...) }
