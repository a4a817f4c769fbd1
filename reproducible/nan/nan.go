// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package nan implements the NaN canonicalization rewrite: after every
// opcode whose float result could be NaN, a stash/select sequence replaces
// any NaN bit pattern with the canonical quiet NaN for that width, so that
// two conformant WASM runtimes (which are only required to agree that a
// result is *some* NaN, not which bit pattern) produce byte-identical
// guest output.
package nan

import (
	"fmt"

	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// maybeNaNKind classifies an instruction by the float width of its
// possibly-non-deterministic NaN result.
type maybeNaNKind uint8

const (
	kindNone maybeNaNKind = iota
	kindF32
	kindF64
	kindF32x4
	kindF64x2
)

// canonicalF32NaN and canonicalF64NaN are the quiet NaN bit patterns
// every non-canonical NaN is rewritten to (IEEE 754 quiet NaN with an
// all-zero, non-significant payload: 0x7FC00000 / 0x7FF8000000000000).
var (
	canonicalF32NaN = [4]byte{0x00, 0x00, 0xC0, 0x7F}
	canonicalF64NaN = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF8, 0x7F}
)

// classify reports which canonicalization an instruction's result needs.
// Deterministic float operators (abs, neg, copysign, comparisons, loads,
// stores, constants, splats, lane extract/replace, reinterpret bitcasts,
// saturating float-to-int, int-to-float conversions) propagate or produce
// NaN bit patterns exactly as written and are left alone.
func classify(inst wasmbin.Instruction) maybeNaNKind {
	switch inst.Opcode {
	case wasmbin.OpF32Demote:
		return kindF32
	case wasmbin.OpF64Promote:
		return kindF64
	case wasmbin.OpSIMDPrefix:
		switch inst.SubOpcode {
		case 0x5E, // f32x4.demote_f64x2_zero
			0x67, 0x68, 0x69, 0x6A, // f32x4 ceil, floor, trunc, nearest
			0xE3, 0xE4, 0xE5, 0xE6, 0xE7, 0xE8, 0xE9: // f32x4 sqrt, add, sub, mul, div, min, max
			return kindF32x4
		case 0x5F, // f64x2.promote_low_f32x4
			0x74, 0x75, 0x7A, 0x94, // f64x2 ceil, floor, trunc, nearest
			0xEF, 0xF0, 0xF1, 0xF2, 0xF3, 0xF4, 0xF5: // f64x2 sqrt, add, sub, mul, div, min, max
			return kindF64x2
		}
		return kindNone
	}
	// f32 ceil..max (0x8D-0x97); abs/neg (0x8B, 0x8C) and copysign (0x98)
	// are deterministic
	if inst.Opcode >= 0x8D && inst.Opcode <= 0x97 {
		return kindF32
	}
	// f64 ceil..max (0x9B-0xA5), same exclusions
	if inst.Opcode >= 0x9B && inst.Opcode <= 0xA5 {
		return kindF64
	}
	return kindNone
}

// Canonicalize rewrites every function body in m's code section in place,
// appending the stash/select canonicalization sequence after every
// maybe-NaN-producing instruction. Per function it materializes at most
// three extra locals (one per stash width used: f32, f64, v128) and
// leaves every other section untouched.
func Canonicalize(m *wasmbin.Module) error {
	paramCounts, err := funcParamCounts(m)
	if err != nil {
		return err
	}
	funcSec := m.Find(wasmbin.SectionFunction)
	codeSec := m.Find(wasmbin.SectionCode)
	if funcSec == nil || codeSec == nil {
		return nil // nothing to rewrite
	}
	typeIdxs, err := readFunctionSection(funcSec.Payload)
	if err != nil {
		return err
	}
	funcs, err := wasmbin.ParseCode(codeSec.Payload)
	if err != nil {
		return err
	}
	if len(funcs) != len(typeIdxs) {
		return fmt.Errorf("numcodecs/reproducible/nan: function section has %d entries, code section has %d", len(typeIdxs), len(funcs))
	}
	for i := range funcs {
		paramCount, ok := paramCounts[typeIdxs[i]]
		if !ok {
			return fmt.Errorf("numcodecs/reproducible/nan: function %d references unknown type %d", i, typeIdxs[i])
		}
		if err := canonicalizeFunc(&funcs[i], paramCount); err != nil {
			return fmt.Errorf("numcodecs/reproducible/nan: function %d: %w", i, err)
		}
	}
	codeSec.Payload = wasmbin.EncodeCode(funcs)
	return nil
}

func canonicalizeFunc(f *wasmbin.Func, paramCount int) error {
	// first pass: which stash widths does this body need?
	var needs [5]bool
	err := wasmbin.WalkInstructions(f.Code, func(inst wasmbin.Instruction) error {
		needs[classify(inst)] = true
		return nil
	})
	if err != nil {
		return err
	}
	if !needs[kindF32] && !needs[kindF64] && !needs[kindF32x4] && !needs[kindF64x2] {
		return nil
	}

	existingLocals := 0
	for _, l := range f.Locals {
		existingLocals += int(l.Count)
	}
	next := uint32(paramCount + existingLocals)
	var stash [5]uint32
	if needs[kindF32] {
		stash[kindF32] = next
		next++
		f.Locals = append(f.Locals, wasmbin.Local{Count: 1, Type: wasmbin.ValF32})
	}
	if needs[kindF64] {
		stash[kindF64] = next
		next++
		f.Locals = append(f.Locals, wasmbin.Local{Count: 1, Type: wasmbin.ValF64})
	}
	if needs[kindF32x4] || needs[kindF64x2] {
		stash[kindF32x4] = next
		stash[kindF64x2] = next
		f.Locals = append(f.Locals, wasmbin.Local{Count: 1, Type: wasmbin.ValV128})
	}

	out := make([]byte, 0, len(f.Code)*2)
	lastCopied := 0
	err = wasmbin.WalkInstructions(f.Code, func(inst wasmbin.Instruction) error {
		out = append(out, f.Code[lastCopied:inst.End]...)
		lastCopied = inst.End
		if kind := classify(inst); kind != kindNone {
			out = appendStashSelect(out, kind, stash[kind])
		}
		return nil
	})
	if err != nil {
		return err
	}
	out = append(out, f.Code[lastCopied:]...)
	f.Code = out
	return nil
}

// appendStashSelect appends the canonicalization sequence for a maybe-NaN
// value at stack top:
//
//	local.set stash        stack: []
//	const <canonical NaN>  stack: [canon]
//	local.get stash x3     stack: [x, x, x, canon]
//	ne                     stack: [isNaN, x, canon]
//	select / bitselect     stack: [isNaN ? canon : x]
func appendStashSelect(buf []byte, kind maybeNaNKind, stash uint32) []byte {
	buf = append(buf, wasmbin.OpLocalSet)
	buf = wasmbin.WriteUvarint32(buf, stash)
	switch kind {
	case kindF32:
		buf = append(buf, wasmbin.OpF32Const)
		buf = append(buf, canonicalF32NaN[:]...)
	case kindF64:
		buf = append(buf, wasmbin.OpF64Const)
		buf = append(buf, canonicalF64NaN[:]...)
	case kindF32x4:
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x0C)
		for i := 0; i < 4; i++ {
			buf = append(buf, canonicalF32NaN[:]...)
		}
	case kindF64x2:
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x0C)
		for i := 0; i < 2; i++ {
			buf = append(buf, canonicalF64NaN[:]...)
		}
	}
	for i := 0; i < 3; i++ {
		buf = append(buf, wasmbin.OpLocalGet)
		buf = wasmbin.WriteUvarint32(buf, stash)
	}
	switch kind {
	case kindF32:
		buf = append(buf, wasmbin.OpF32Ne, wasmbin.OpSelect)
	case kindF64:
		buf = append(buf, wasmbin.OpF64Ne, wasmbin.OpSelect)
	case kindF32x4:
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x42) // f32x4.ne
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x52) // v128.bitselect
	case kindF64x2:
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x48) // f64x2.ne
		buf = append(buf, wasmbin.OpSIMDPrefix, 0x52) // v128.bitselect
	}
	return buf
}

// funcParamCounts reads the type section and returns param count per type
// index.
func funcParamCounts(m *wasmbin.Module) (map[uint32]int, error) {
	out := map[uint32]int{}
	typeSec := m.Find(wasmbin.SectionType)
	if typeSec == nil {
		return out, nil
	}
	r := wasmbin.NewReader(typeSec.Payload)
	n, err := wasmbin.ReadUvarint32(r)
	if err != nil {
		return nil, fmt.Errorf("numcodecs/reproducible/nan: type section count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if form != 0x60 {
			return nil, fmt.Errorf("numcodecs/reproducible/nan: type %d: unsupported type form 0x%02x", i, form)
		}
		paramCount, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadN(int(paramCount)); err != nil {
			return nil, err
		}
		resultCount, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadN(int(resultCount)); err != nil {
			return nil, err
		}
		out[i] = int(paramCount)
	}
	return out, nil
}

func readFunctionSection(payload []byte) ([]uint32, error) {
	r := wasmbin.NewReader(payload)
	n, err := wasmbin.ReadUvarint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		idx, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}
