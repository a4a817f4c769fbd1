// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package reproducible rewrites untrusted guest WASM modules so that
// their behavior is bitwise deterministic across hosts: it gates the
// accepted feature set, canonicalizes every possibly-non-deterministic
// NaN result, and injects a deterministic instruction counter. The
// sandboxed host environment (deterministic logging and stdio) is wired
// at instantiation time by the wasmhost package, which runs every guest
// through Transform first.
package reproducible

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/juntyr/numcodecs-go/internal/ncx"
	"github.com/juntyr/numcodecs-go/reproducible/features"
	"github.com/juntyr/numcodecs-go/reproducible/instcount"
	"github.com/juntyr/numcodecs-go/reproducible/nan"
	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// Options configures Transform. The zero value is valid and silent.
type Options struct {
	Log ncx.Logger
}

// Result carries the rewritten module and the import/export coordinates
// the host needs to supply and read the instruction counter.
type Result struct {
	Module []byte

	CounterImportModule string
	CounterImportName   string
	CounterExportName   string
}

// Transform applies the full reproducibility rewrite to a guest module:
// feature gating, NaN canonicalization, instruction counter injection,
// and a final revalidation of the rewritten bytes. The input may be a
// raw core module or a component wrapping one (see UnwrapComponent).
func Transform(wasm []byte, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = ncx.NoOp()
	}

	core, err := UnwrapComponent(wasm)
	if err != nil {
		return nil, err
	}
	m, err := wasmbin.Parse(core)
	if err != nil {
		return nil, fmt.Errorf("numcodecs/reproducible: %w", err)
	}
	if err := features.Check(m); err != nil {
		return nil, err
	}
	if err := nan.Canonicalize(m); err != nil {
		return nil, err
	}
	if err := instcount.Inject(m); err != nil {
		return nil, err
	}
	out := m.Bytes()

	// a rewrite that emits something the gate itself would reject is an
	// internal error of the transform, not a property of the guest
	rewritten, err := wasmbin.Parse(out)
	if err != nil {
		return nil, fmt.Errorf("numcodecs/reproducible: rewritten module does not parse: %w", err)
	}
	if err := features.Revalidate(rewritten); err != nil {
		return nil, fmt.Errorf("numcodecs/reproducible: rewritten module failed revalidation: %w", err)
	}

	log.Debugw("transformed guest module",
		"input_bytes", len(wasm), "output_bytes", len(out))
	return &Result{
		Module:              out,
		CounterImportModule: instcount.CounterImportModule,
		CounterImportName:   instcount.CounterImportName,
		CounterExportName:   instcount.CounterExportName,
	}, nil
}

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6D}

// component binary layer field values (bytes 6-7 of the preamble)
const (
	layerCoreModule = 0
	layerComponent  = 1
)

// component model section id holding an inlined core module
const componentSectionCoreModule = 1

// UnwrapComponent returns the first core module embedded in a component
// binary; a raw core module passes through unchanged. Guest components
// produced by current toolchains inline exactly one core module carrying
// all guest code, with the remaining component sections describing
// canonical ABI lifting that the host re-derives from the codec world's
// fixed interface.
func UnwrapComponent(data []byte) ([]byte, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], wasmMagic[:]) {
		return nil, fmt.Errorf("numcodecs/reproducible: not a WASM binary")
	}
	layer := binary.LittleEndian.Uint16(data[6:8])
	switch layer {
	case layerCoreModule:
		return data, nil
	case layerComponent:
	default:
		return nil, fmt.Errorf("numcodecs/reproducible: unknown WASM layer %d", layer)
	}

	r := wasmbin.NewReader(data[8:])
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("numcodecs/reproducible: reading component section id: %w", err)
		}
		size, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return nil, fmt.Errorf("numcodecs/reproducible: reading component section size: %w", err)
		}
		payload, err := r.ReadN(int(size))
		if err != nil {
			return nil, fmt.Errorf("numcodecs/reproducible: reading component section payload: %w", err)
		}
		if id == componentSectionCoreModule {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("numcodecs/reproducible: component contains no core module")
}
