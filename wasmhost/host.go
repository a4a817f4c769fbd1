// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package wasmhost loads untrusted WASM components that export the codec
// world and adapts each contained codec class into a numcodecs.CodecType.
// Every guest is rewritten by the reproducible package before
// instantiation and runs against a sandboxed, deterministic WASI
// environment: logging and stdio accumulate into host-readable buffers,
// clocks and entropy are pinned, and the only other import the guest may
// use is the instruction counter the rewrite itself injected.
package wasmhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	numcodecs "github.com/juntyr/numcodecs-go"
	"github.com/juntyr/numcodecs-go/internal/ncx"
	"github.com/juntyr/numcodecs-go/reproducible"
)

// Guest export names, the canonical-ABI lowering of the codec world.
const (
	exportCodecID     = "codec-id"
	exportSchema      = "codec-config-schema"
	exportFromConfig  = "from-config"
	exportEncode      = "codec.encode"
	exportDecode      = "codec.decode"
	exportDecodeInto  = "codec.decode-into"
	exportGetConfig   = "codec.get-config"
	exportDrop        = "codec.drop"
	guestInstanceName = "numcodecs:guest"
)

// Host loads guest components. Compiled machine code is shared between
// instances through a compilation cache; the Host itself holds no guest
// state.
type Host struct {
	cache wazero.CompilationCache
	log   ncx.Logger
}

// NewHost creates a Host. A nil logger falls back to a no-op logger.
func NewHost(log ncx.Logger) *Host {
	if log == nil {
		log = ncx.NoOp()
	}
	return &Host{cache: wazero.NewCompilationCache(), log: log}
}

// Close releases the compilation cache. Instances loaded from this Host
// stay usable until closed themselves.
func (h *Host) Close(ctx context.Context) error {
	return h.cache.Close(ctx)
}

// Instance is one loaded guest component: its own runtime, sandbox
// buffers, and the codec classes it exports. Calls into the guest are
// serialized per Instance, since every codec from one component shares
// the component's linear memory.
type Instance struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	guest   api.Module
	memory  *guestMemory
	counter api.Global

	stdout bytes.Buffer
	stderr bytes.Buffer
	logs   logSink

	types []numcodecs.CodecType
	log   ncx.Logger
}

// Load transforms component through the reproducibility rewrite,
// instantiates it against the sandboxed environment, and discovers the
// codec classes it exports. Unresolved guest imports fail instantiation
// with the runtime's list of missing names.
func (h *Host) Load(ctx context.Context, component []byte) (*Instance, error) {
	transformed, err := reproducible.Transform(component, reproducible.Options{Log: h.log})
	if err != nil {
		return nil, err
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(h.cache))
	inst := &Instance{runtime: runtime, log: h.log}
	ok := false
	defer func() {
		if !ok {
			_ = runtime.Close(ctx)
		}
	}()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, &RuntimeError{Op: "wasi instantiation", Cause: err}
	}
	if err := instantiateLogging(ctx, runtime, &inst.logs); err != nil {
		return nil, &RuntimeError{Op: "logging instantiation", Cause: err}
	}
	perf, err := runtime.InstantiateWithConfig(ctx, perfModuleBytes(transformed.CounterImportName),
		wazero.NewModuleConfig().WithName(transformed.CounterImportModule))
	if err != nil {
		return nil, &RuntimeError{Op: "counter instantiation", Cause: err}
	}
	inst.counter = perf.ExportedGlobal(transformed.CounterImportName)
	if inst.counter == nil {
		return nil, &RuntimeError{Op: "counter instantiation", Cause: fmt.Errorf("counter global missing")}
	}

	inst.guest, err = runtime.InstantiateWithConfig(ctx, transformed.Module,
		sandboxModuleConfig(guestInstanceName, &inst.stdout, &inst.stderr))
	if err != nil {
		return nil, &RuntimeError{Op: "guest instantiation", Cause: err}
	}
	inst.memory, err = newGuestMemory(inst.guest)
	if err != nil {
		return nil, err
	}

	id, err := inst.callStringExport(ctx, exportCodecID)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := inst.callStringExport(ctx, exportSchema)
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return nil, &RuntimeError{Op: "codec discovery", Cause: fmt.Errorf("config schema is not valid JSON: %w", err)}
	}

	inst.types = []numcodecs.CodecType{&guestCodecType{inst: inst, id: id, schema: schema}}
	h.log.Infow("loaded guest codec component", "id", id)
	ok = true
	return inst, nil
}

// callStringExport calls a zero-argument guest export returning a string
// via a (ptr, len) return area.
func (i *Instance) callStringExport(ctx context.Context, name string) (string, error) {
	fn := i.guest.ExportedFunction(name)
	if fn == nil {
		return "", &RuntimeError{Op: "codec discovery", Cause: fmt.Errorf("guest exports no %q", name)}
	}
	res, err := fn.Call(ctx)
	if err != nil {
		return "", &RuntimeError{Op: name, Cause: err}
	}
	if len(res) != 1 {
		return "", &RuntimeError{Op: name, Cause: fmt.Errorf("expected one result, got %d", len(res))}
	}
	s, err := i.memory.readString(uint32(res[0]))
	if err != nil {
		return "", err
	}
	return s, nil
}

// CodecTypes returns the codec classes this component exports. The
// returned slice must not be mutated.
func (i *Instance) CodecTypes() []numcodecs.CodecType { return i.types }

// Register adds every discovered codec class to r as a dynamic type.
func (i *Instance) Register(r *numcodecs.Registry) error {
	for _, t := range i.types {
		if err := r.RegisterDynamic(t); err != nil {
			return err
		}
	}
	return nil
}

// Logs returns the structured log records the guest has emitted so far.
func (i *Instance) Logs() []LogRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]LogRecord(nil), i.logs.records...)
}

// Stdout returns everything the guest has written to its sandboxed
// stdout so far.
func (i *Instance) Stdout() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.stdout.Bytes()...)
}

// Stderr returns everything the guest has written to its sandboxed
// stderr so far.
func (i *Instance) Stderr() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]byte(nil), i.stderr.Bytes()...)
}

// Close tears down the guest runtime. Codec instances obtained from this
// Instance fail with a RuntimeError afterwards.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.runtime.Close(ctx)
}
