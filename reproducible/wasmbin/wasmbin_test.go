// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package wasmbin

import (
	"reflect"
	"testing"
)

func TestLEB128RoundTrip(t *testing.T) {
	uvals := []uint64{0, 1, 127, 128, 300, 1 << 33, ^uint64(0)}
	for _, v := range uvals {
		buf := WriteUvarint64(nil, v)
		got, err := ReadUvarint64(NewReader(buf))
		if err != nil {
			t.Fatalf("ReadUvarint64(%d): %s", v, err)
		}
		if got != v {
			t.Errorf("uvarint round trip: want %d got %d", v, got)
		}
	}
	ivals := []int64{0, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40)}
	for _, v := range ivals {
		buf := WriteVarint64(nil, v)
		got, err := ReadVarint64(NewReader(buf))
		if err != nil {
			t.Fatalf("ReadVarint64(%d): %s", v, err)
		}
		if got != v {
			t.Errorf("varint round trip: want %d got %d", v, got)
		}
	}
}

// assembleMinimalModule builds a tiny valid core module with one function
// of type () -> i32 whose body is: i32.const 42, end.
func assembleMinimalModule(t *testing.T) *Module {
	t.Helper()
	typeSection := []byte{0x01} // 1 type
	typeSection = append(typeSection, 0x60, 0x00, 0x01, 0x7f)
	funcSection := []byte{0x01, 0x00} // 1 function, type index 0

	code := WriteVarint32(nil, 42)
	code = append([]byte{OpI32Const}, code...)
	code = append(code, OpEnd)
	fn := Func{Code: code}
	codeSection := EncodeCode([]Func{fn})

	m := &Module{
		Version: 1,
		Sections: []Section{
			{ID: SectionType, Payload: typeSection},
			{ID: SectionFunction, Payload: funcSection},
			{ID: SectionCode, Payload: codeSection},
		},
	}
	return m
}

func TestModuleRoundTrip(t *testing.T) {
	m := assembleMinimalModule(t)
	data := m.Bytes()
	reparsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if reparsed.Version != 1 {
		t.Errorf("version = %d, want 1", reparsed.Version)
	}
	codeSec := reparsed.Find(SectionCode)
	if codeSec == nil {
		t.Fatal("code section missing after round trip")
	}
	funcs, err := ParseCode(codeSec.Payload)
	if err != nil {
		t.Fatalf("ParseCode: %s", err)
	}
	if len(funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(funcs))
	}

	var opcodes []byte
	err = WalkInstructions(funcs[0].Code, func(inst Instruction) error {
		opcodes = append(opcodes, inst.Opcode)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkInstructions: %s", err)
	}
	want := []byte{OpI32Const, OpEnd}
	if !reflect.DeepEqual(opcodes, want) {
		t.Errorf("opcodes = %v, want %v", opcodes, want)
	}
}

func TestWalkInstructionsRejectsRelaxedSIMD(t *testing.T) {
	// sub-opcode 0x100 (i8x16.relaxed_swizzle) encodes as LEB 0x80 0x02
	err := WalkInstructions([]byte{0xFD, 0x80, 0x02}, func(Instruction) error { return nil })
	if err == nil {
		t.Fatal("expected rejection of relaxed SIMD sub-opcode")
	}
}

func TestWalkInstructionsAcceptsFixedWidthSIMD(t *testing.T) {
	// v128.const <16 bytes>; f32x4.add (sub-opcode 228, LEB 0xE4 0x01);
	// drop; end
	code := []byte{0xFD, 12}
	code = append(code, make([]byte, 16)...)
	code = append(code, 0xFD, 0xE4, 0x01, OpDrop, OpEnd)
	var subs []uint32
	err := WalkInstructions(code, func(inst Instruction) error {
		if inst.Opcode == OpSIMDPrefix {
			subs = append(subs, inst.SubOpcode)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkInstructions: %s", err)
	}
	if !reflect.DeepEqual(subs, []uint32{12, 0xE4}) {
		t.Errorf("simd sub-opcodes = %v, want [12 228]", subs)
	}
}

func TestImportExportSectionRoundTrip(t *testing.T) {
	imports := []Import{
		{Module: "env", Name: "f", Kind: ExternalFunc, TypeIdx: 3},
		{Module: "env", Name: "mem", Kind: ExternalMemory, Limits: Limits{Flags: 1, Min: 1, Max: 16}},
		{Module: "numcodecs:wasm/perf", Name: "instruction-counter", Kind: ExternalGlobal, ValType: ValI64, Mutable: true},
	}
	reparsed, err := ParseImports(EncodeImports(imports))
	if err != nil {
		t.Fatalf("ParseImports: %s", err)
	}
	if !reflect.DeepEqual(reparsed, imports) {
		t.Errorf("imports = %+v, want %+v", reparsed, imports)
	}

	exports := []Export{
		{Name: "encode", Kind: ExternalFunc, Index: 4},
		{Name: "memory", Kind: ExternalMemory, Index: 0},
	}
	reparsedExports, err := ParseExports(EncodeExports(exports))
	if err != nil {
		t.Fatalf("ParseExports: %s", err)
	}
	if !reflect.DeepEqual(reparsedExports, exports) {
		t.Errorf("exports = %+v, want %+v", reparsedExports, exports)
	}
}
