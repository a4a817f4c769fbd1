// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package features implements the guest feature gate: the import, memory
// and code sections are parsed, every instruction in every function body
// is walked, and any
// construct outside the accepted deterministic set is rejected by name.
// Accepted are the MVP core plus mutable globals, saturating
// float-to-int, sign extension, multi-value, bulk memory, fixed-width
// SIMD and multiple memories; rejected are threads (shared memories and
// 0xFE atomics), memory64, relaxed SIMD, tail calls, exception handling,
// GC and the other proposals that surface platform-visible
// non-determinism. Check runs before any rewriting; Revalidate runs
// again afterward to confirm the rewrite introduced nothing outside the
// gate.
package features

import (
	"fmt"

	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// memory limits flag bits of the rejected memory proposals
const (
	limitsFlagShared   = 0x02 // threads
	limitsFlagMemory64 = 0x04 // memory64
)

// RejectedError reports that a module uses a feature outside the
// accepted set, naming the offending feature or opcode.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("numcodecs/reproducible: rejected feature: %s", e.Reason)
}

// Check walks m's memory declarations (defined and imported) and its
// entire code section, failing with *RejectedError at the first
// disallowed construct.
func Check(m *wasmbin.Module) error {
	if imp := m.Find(wasmbin.SectionImport); imp != nil {
		imports, err := wasmbin.ParseImports(imp.Payload)
		if err != nil {
			return &RejectedError{Reason: fmt.Sprintf("malformed import section: %s", err)}
		}
		for _, entry := range imports {
			if entry.Kind != wasmbin.ExternalMemory {
				continue
			}
			if err := checkMemoryLimits(entry.Limits); err != nil {
				return err
			}
		}
	}
	if mem := m.Find(wasmbin.SectionMemory); mem != nil {
		r := wasmbin.NewReader(mem.Payload)
		count, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return &RejectedError{Reason: "malformed memory section"}
		}
		for i := uint32(0); i < count; i++ {
			limits, err := readLimits(r)
			if err != nil {
				return &RejectedError{Reason: fmt.Sprintf("malformed memory %d limits", i)}
			}
			if err := checkMemoryLimits(limits); err != nil {
				return err
			}
		}
	}
	code := m.Find(wasmbin.SectionCode)
	if code == nil {
		return nil
	}
	funcs, err := wasmbin.ParseCode(code.Payload)
	if err != nil {
		return &RejectedError{Reason: err.Error()}
	}
	for i, f := range funcs {
		err := wasmbin.WalkInstructions(f.Code, func(wasmbin.Instruction) error { return nil })
		if err != nil {
			return &RejectedError{Reason: fmt.Sprintf("function %d: %s", i, err)}
		}
	}
	return nil
}

func checkMemoryLimits(l wasmbin.Limits) error {
	if l.Flags&limitsFlagShared != 0 {
		return &RejectedError{Reason: "shared memory (threads)"}
	}
	if l.Flags&limitsFlagMemory64 != 0 {
		return &RejectedError{Reason: "memory64"}
	}
	return nil
}

func readLimits(r *wasmbin.Reader) (wasmbin.Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return wasmbin.Limits{}, err
	}
	min, err := wasmbin.ReadUvarint32(r)
	if err != nil {
		return wasmbin.Limits{}, err
	}
	l := wasmbin.Limits{Flags: flags, Min: min}
	if flags&1 != 0 {
		max, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return wasmbin.Limits{}, err
		}
		l.Max = max
	}
	return l, nil
}

// Revalidate re-runs Check against a module that has just been rewritten
// by nan.Canonicalize and instcount.Inject, to guarantee the rewrite
// itself never introduced a now-disallowed construct.
func Revalidate(m *wasmbin.Module) error {
	return Check(m)
}
