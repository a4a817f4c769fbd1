// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package ncx wraps go.uber.org/zap behind a small interface so that
// numcodecs, wasmhost and reproducible never import zap directly: call
// sites take a Logger parameter (never a package-level global), and a
// caller who doesn't want logging passes NoOp().
package ncx

import "go.uber.org/zap"

// Logger is the logging facade every package in this module accepts as an
// explicit constructor parameter.
type Logger interface {
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// Zap adapts a *zap.SugaredLogger to Logger.
func Zap(l *zap.SugaredLogger) Logger {
	return zapLogger{l}
}

type zapLogger struct{ s *zap.SugaredLogger }

func (z zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z zapLogger) Infow(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

// NoOp returns a Logger that discards everything, for callers that don't
// want to wire a zap logger through.
func NoOp() Logger { return noop{} }

type noop struct{}

func (noop) Debugw(string, ...any) {}
func (noop) Infow(string, ...any)  {}
func (noop) Warnw(string, ...any)  {}
func (noop) Errorw(string, ...any) {}

// Default builds a production-shaped *zap.SugaredLogger the way the rest
// of this module's command-line entry points are expected to: zap's
// production preset, with JSON output, epoch-seconds timestamps and info
// level by default.
func Default() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return Zap(l.Sugar()), nil
}
