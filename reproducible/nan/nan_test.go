// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package nan

import (
	"testing"

	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// sqrtModule builds a module with one function () -> f64 whose body is
// f64.const -1; f64.sqrt; end.
func sqrtModule(t *testing.T) *wasmbin.Module {
	t.Helper()
	typeSection := []byte{0x01, 0x60, 0x00, 0x01, wasmbin.ValF64}
	funcSection := []byte{0x01, 0x00}

	code := []byte{wasmbin.OpF64Const}
	code = append(code, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0xBF) // -1.0
	code = append(code, 0x9F /* f64.sqrt */, wasmbin.OpEnd)
	codeSection := wasmbin.EncodeCode([]wasmbin.Func{{Code: code}})

	return &wasmbin.Module{
		Version: 1,
		Sections: []wasmbin.Section{
			{ID: wasmbin.SectionType, Payload: typeSection},
			{ID: wasmbin.SectionFunction, Payload: funcSection},
			{ID: wasmbin.SectionCode, Payload: codeSection},
		},
	}
}

func TestCanonicalizeInstrumentsSqrt(t *testing.T) {
	m := sqrtModule(t)
	if err := Canonicalize(m); err != nil {
		t.Fatalf("Canonicalize: %s", err)
	}
	funcs, err := wasmbin.ParseCode(m.Find(wasmbin.SectionCode).Payload)
	if err != nil {
		t.Fatalf("ParseCode: %s", err)
	}
	if len(funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(funcs))
	}
	if len(funcs[0].Locals) != 1 || funcs[0].Locals[0].Type != wasmbin.ValF64 {
		t.Fatalf("locals = %+v, want one f64 stash", funcs[0].Locals)
	}

	var opcodes []byte
	err = wasmbin.WalkInstructions(funcs[0].Code, func(inst wasmbin.Instruction) error {
		opcodes = append(opcodes, inst.Opcode)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkInstructions (rewritten body): %s", err)
	}
	want := []byte{
		wasmbin.OpF64Const, 0x9F,
		wasmbin.OpLocalSet, wasmbin.OpF64Const,
		wasmbin.OpLocalGet, wasmbin.OpLocalGet, wasmbin.OpLocalGet,
		wasmbin.OpF64Ne, wasmbin.OpSelect,
		wasmbin.OpEnd,
	}
	if len(opcodes) != len(want) {
		t.Fatalf("rewritten opcodes = %v, want %v", opcodes, want)
	}
	for i := range want {
		if opcodes[i] != want[i] {
			t.Fatalf("rewritten opcodes = %v, want %v", opcodes, want)
		}
	}
}

func TestClassifySkipsDeterministicFloatOps(t *testing.T) {
	for _, op := range []byte{0x8B /* f32.abs */, 0x8C /* f32.neg */, 0x98 /* f32.copysign */, 0x99 /* f64.abs */, 0xA6 /* f64.copysign */} {
		if kind := classify(wasmbin.Instruction{Opcode: op}); kind != kindNone {
			t.Errorf("opcode 0x%02x classified as %d, want none", op, kind)
		}
	}
}

func TestClassifySIMD(t *testing.T) {
	if kind := classify(wasmbin.Instruction{Opcode: wasmbin.OpSIMDPrefix, SubOpcode: 0xE4}); kind != kindF32x4 {
		t.Errorf("f32x4.add classified as %d, want f32x4", kind)
	}
	if kind := classify(wasmbin.Instruction{Opcode: wasmbin.OpSIMDPrefix, SubOpcode: 0xF0}); kind != kindF64x2 {
		t.Errorf("f64x2.add classified as %d, want f64x2", kind)
	}
	// splat is deterministic even when splatting a non-canonical NaN
	if kind := classify(wasmbin.Instruction{Opcode: wasmbin.OpSIMDPrefix, SubOpcode: 19}); kind != kindNone {
		t.Errorf("f32x4.splat classified as %d, want none", kind)
	}
}
