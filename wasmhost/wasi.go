// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package wasmhost

import (
	"bytes"
	"context"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// loggingModule is the module name of the deterministic logger interface
// supplied to guests in place of a real wasi:logging implementation.
const loggingModule = "wasi:logging/logging"

// LogLevel mirrors wasi:logging's level enum.
type LogLevel uint32

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var logLevelNames = [...]string{"trace", "debug", "info", "warn", "error", "critical"}

func (l LogLevel) String() string {
	if int(l) < len(logLevelNames) {
		return logLevelNames[l]
	}
	return "unknown"
}

// LogRecord is one structured message a guest emitted through
// wasi:logging. Records accumulate in the Instance and have no side
// effect the guest can observe, keeping guest behavior independent of
// how the host consumes them.
type LogRecord struct {
	Level   LogLevel
	Context string
	Message string
}

// logSink collects guest log records; one per Instance.
type logSink struct {
	records []LogRecord
}

// instantiateLogging registers the deterministic wasi:logging
// implementation in r, accumulating into sink.
func instantiateLogging(ctx context.Context, r wazero.Runtime, sink *logSink) error {
	_, err := r.NewHostModuleBuilder(loggingModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, level, ctxPtr, ctxLen, msgPtr, msgLen uint32) {
			record := LogRecord{Level: LogLevel(level)}
			if b, ok := mod.Memory().Read(ctxPtr, ctxLen); ok {
				record.Context = string(b)
			}
			if b, ok := mod.Memory().Read(msgPtr, msgLen); ok {
				record.Message = string(b)
			}
			sink.records = append(sink.records, record)
		}).
		Export("log").
		Instantiate(ctx)
	return err
}

// perfModuleBytes synthesizes the module that provides the mutable i64
// instruction counter global the transformed guest imports. Hosting the
// global in its own module instance lets the host read the counter
// directly without calling into the guest.
func perfModuleBytes(exportName string) []byte {
	globalSection := []byte{
		0x01,           // 1 global
		wasmbin.ValI64, // i64
		0x01,           // mutable
		0x42, 0x00,     // i64.const 0
		wasmbin.OpEnd,
	}
	exportSection := wasmbin.EncodeExports([]wasmbin.Export{
		{Name: exportName, Kind: wasmbin.ExternalGlobal, Index: 0},
	})
	m := &wasmbin.Module{
		Version: 1,
		Sections: []wasmbin.Section{
			{ID: wasmbin.SectionGlobal, Payload: globalSection},
			{ID: wasmbin.SectionExport, Payload: exportSection},
		},
	}
	return m.Bytes()
}

// zeroReader is the deterministic entropy source handed to the guest's
// WASI environment: all zeros, never failing.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// sandboxModuleConfig builds the guest's module configuration: stdin at
// EOF, stdout/stderr accumulated into host-readable buffers, and clocks,
// sleeps and entropy pinned to constants so no platform detail leaks
// into guest-observable behavior.
func sandboxModuleConfig(name string, stdout, stderr *bytes.Buffer) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName(name).
		WithStdin(bytes.NewReader(nil)).
		WithStdout(stdout).
		WithStderr(stderr).
		WithRandSource(zeroReader{}).
		WithWalltime(func() (int64, int32) { return 0, 0 }, sys.ClockResolution(1)).
		WithNanotime(func() int64 { return 0 }, sys.ClockResolution(1)).
		WithNanosleep(func(int64) {})
}

var _ io.Reader = zeroReader{}
