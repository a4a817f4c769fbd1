// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package instcount injects the deterministic instruction counter into a
// guest module: an imported mutable i64 global that every function body
// updates with the number of instructions executed since the last update,
// flushed before each control-flow transfer so the count is exact on
// every taken path, plus an exported reader function.
package instcount

import (
	"fmt"

	"github.com/juntyr/numcodecs-go/reproducible/wasmbin"
)

// The counter global's import coordinates and the reader function's
// export name, shared with the WASM host that supplies the global and
// reads it around guest calls.
const (
	CounterImportModule = "numcodecs:wasm/perf"
	CounterImportName   = "instruction-counter"
	CounterExportName   = "instruction-counter"
)

// Inject rewrites m in place: it appends the counter global to the import
// section (synthesizing one if the module has no imports), renumbers every
// shifted global index, instruments every function body, and exports the
// reader function. An existing export with the reader's name must be a
// placeholder function whose whole body is a single unreachable
// instruction; Inject fills it in, and fails on any other body.
func Inject(m *wasmbin.Module) error {
	var imports []wasmbin.Import
	var err error
	if sec := m.Find(wasmbin.SectionImport); sec != nil {
		imports, err = wasmbin.ParseImports(sec.Payload)
		if err != nil {
			return fmt.Errorf("numcodecs/reproducible/instcount: %w", err)
		}
	}
	numImportedFuncs := 0
	counterGlobal := uint32(0)
	for _, imp := range imports {
		switch imp.Kind {
		case wasmbin.ExternalFunc:
			numImportedFuncs++
		case wasmbin.ExternalGlobal:
			counterGlobal++
		}
	}
	imports = append(imports, wasmbin.Import{
		Module:  CounterImportModule,
		Name:    CounterImportName,
		Kind:    wasmbin.ExternalGlobal,
		ValType: wasmbin.ValI64,
		Mutable: true,
	})
	payload := wasmbin.EncodeImports(imports)
	if sec := m.Find(wasmbin.SectionImport); sec != nil {
		sec.Payload = payload
	} else {
		m.Insert(wasmbin.Section{ID: wasmbin.SectionImport, Payload: payload})
	}

	// the injected global sits at index counterGlobal, between the
	// previously imported globals and the module's own; every reference
	// at or above it shifts by one
	readerFunc, err := renumberAndFindReader(m, counterGlobal, numImportedFuncs)
	if err != nil {
		return err
	}

	codeSec := m.Find(wasmbin.SectionCode)
	var funcs []wasmbin.Func
	if codeSec != nil {
		funcs, err = wasmbin.ParseCode(codeSec.Payload)
		if err != nil {
			return fmt.Errorf("numcodecs/reproducible/instcount: %w", err)
		}
	}
	for i := range funcs {
		if readerFunc != nil && *readerFunc == i {
			if err := fillReaderBody(&funcs[i], counterGlobal); err != nil {
				return err
			}
			continue
		}
		if err := instrumentFunc(&funcs[i], counterGlobal); err != nil {
			return fmt.Errorf("numcodecs/reproducible/instcount: function %d: %w", i, err)
		}
	}
	if readerFunc == nil {
		if err := synthesizeReader(m, &funcs, counterGlobal, numImportedFuncs); err != nil {
			return err
		}
		codeSec = m.Find(wasmbin.SectionCode)
	}
	if codeSec != nil {
		codeSec.Payload = wasmbin.EncodeCode(funcs)
	}
	return nil
}

// renumberAndFindReader bumps shifted global indices in the export
// section and locates an existing reader placeholder export, returning
// its index into the code section (nil if absent). Constant expressions
// (global/data/element initializers) may only reference imported
// globals, all of which sit below the injected index, so they never
// need renumbering.
func renumberAndFindReader(m *wasmbin.Module, counterGlobal uint32, numImportedFuncs int) (*int, error) {
	sec := m.Find(wasmbin.SectionExport)
	if sec == nil {
		return nil, nil
	}
	exports, err := wasmbin.ParseExports(sec.Payload)
	if err != nil {
		return nil, fmt.Errorf("numcodecs/reproducible/instcount: %w", err)
	}
	var readerFunc *int
	for i := range exports {
		if exports[i].Kind == wasmbin.ExternalGlobal && exports[i].Index >= counterGlobal {
			exports[i].Index++
		}
		if exports[i].Name == CounterExportName {
			if exports[i].Kind != wasmbin.ExternalFunc {
				return nil, fmt.Errorf("numcodecs/reproducible/instcount: export %q must be a function", CounterExportName)
			}
			if readerFunc != nil {
				return nil, fmt.Errorf("numcodecs/reproducible/instcount: duplicate %q export", CounterExportName)
			}
			if int(exports[i].Index) < numImportedFuncs {
				return nil, fmt.Errorf("numcodecs/reproducible/instcount: export %q must not be an imported function", CounterExportName)
			}
			idx := int(exports[i].Index) - numImportedFuncs
			readerFunc = &idx
		}
	}
	sec.Payload = wasmbin.EncodeExports(exports)
	return readerFunc, nil
}

// fillReaderBody replaces a reader placeholder body (which must be
// exactly one unreachable instruction and no locals) with the actual
// counter read.
func fillReaderBody(f *wasmbin.Func, counterGlobal uint32) error {
	if len(f.Locals) != 0 {
		return fmt.Errorf("numcodecs/reproducible/instcount: %q placeholder must have no locals", CounterExportName)
	}
	if len(f.Code) != 2 || f.Code[0] != wasmbin.OpUnreachable || f.Code[1] != wasmbin.OpEnd {
		return fmt.Errorf("numcodecs/reproducible/instcount: %q placeholder body must be a single unreachable instruction", CounterExportName)
	}
	body := []byte{wasmbin.OpGlobalGet}
	body = wasmbin.WriteUvarint32(body, counterGlobal)
	body = append(body, wasmbin.OpReturn, wasmbin.OpEnd)
	f.Code = body
	return nil
}

// flushesBefore reports whether the counter must be flushed immediately
// before this instruction: scope openers are jump targets, else/end close
// a scope, and branches/returns leave it. Ordinary calls return control
// right back here and straight-line instructions only accumulate.
func flushesBefore(op byte) bool {
	switch op {
	case wasmbin.OpBlock, wasmbin.OpLoop, wasmbin.OpIf, wasmbin.OpElse, wasmbin.OpEnd,
		wasmbin.OpBr, wasmbin.OpBrIf, wasmbin.OpBrTable, wasmbin.OpReturn:
		return true
	}
	return false
}

// instrumentFunc rewrites one body: shifted global indices are bumped,
// and before every control-flow transfer the update sequence
//
//	global.get $counter; i64.const delta; i64.add; global.set $counter
//
// flushes the instructions executed since the previous update.
func instrumentFunc(f *wasmbin.Func, counterGlobal uint32) error {
	out := make([]byte, 0, len(f.Code)*2)
	pending := int64(0)
	err := wasmbin.WalkInstructions(f.Code, func(inst wasmbin.Instruction) error {
		if inst.Opcode != wasmbin.OpNop {
			pending++
		}
		if flushesBefore(inst.Opcode) {
			out = appendFlush(out, counterGlobal, pending)
			pending = 0
		}
		switch inst.Opcode {
		case wasmbin.OpGlobalGet, wasmbin.OpGlobalSet:
			idx, err := wasmbin.ReadUvarint32(wasmbin.NewReader(f.Code[inst.Start+1 : inst.End]))
			if err != nil {
				return err
			}
			if idx >= counterGlobal {
				idx++
			}
			out = append(out, inst.Opcode)
			out = wasmbin.WriteUvarint32(out, idx)
		default:
			out = append(out, f.Code[inst.Start:inst.End]...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	f.Code = out
	return nil
}

func appendFlush(buf []byte, counterGlobal uint32, delta int64) []byte {
	buf = append(buf, wasmbin.OpGlobalGet)
	buf = wasmbin.WriteUvarint32(buf, counterGlobal)
	buf = append(buf, wasmbin.OpI64Const)
	buf = wasmbin.WriteVarint64(buf, delta)
	buf = append(buf, wasmbin.OpI64Add)
	buf = append(buf, wasmbin.OpGlobalSet)
	buf = wasmbin.WriteUvarint32(buf, counterGlobal)
	return buf
}

// synthesizeReader appends the () -> i64 reader function and its export
// when the guest didn't declare a placeholder itself.
func synthesizeReader(m *wasmbin.Module, funcs *[]wasmbin.Func, counterGlobal uint32, numImportedFuncs int) error {
	// type () -> i64, appended so existing type indices stay stable
	typeEntry := []byte{0x60, 0x00, 0x01, wasmbin.ValI64}
	typeSec := m.Find(wasmbin.SectionType)
	var typeIdx uint32
	if typeSec == nil {
		payload := wasmbin.WriteUvarint32(nil, 1)
		payload = append(payload, typeEntry...)
		m.Insert(wasmbin.Section{ID: wasmbin.SectionType, Payload: payload})
	} else {
		r := wasmbin.NewReader(typeSec.Payload)
		count, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return fmt.Errorf("numcodecs/reproducible/instcount: type section count: %w", err)
		}
		typeIdx = count
		payload := wasmbin.WriteUvarint32(nil, count+1)
		payload = append(payload, r.Rest()...)
		payload = append(payload, typeEntry...)
		typeSec.Payload = payload
	}

	funcSec := m.Find(wasmbin.SectionFunction)
	if funcSec == nil {
		payload := wasmbin.WriteUvarint32(nil, 1)
		payload = wasmbin.WriteUvarint32(payload, typeIdx)
		m.Insert(wasmbin.Section{ID: wasmbin.SectionFunction, Payload: payload})
		if m.Find(wasmbin.SectionCode) == nil {
			m.Insert(wasmbin.Section{ID: wasmbin.SectionCode})
		}
	} else {
		r := wasmbin.NewReader(funcSec.Payload)
		count, err := wasmbin.ReadUvarint32(r)
		if err != nil {
			return fmt.Errorf("numcodecs/reproducible/instcount: function section count: %w", err)
		}
		payload := wasmbin.WriteUvarint32(nil, count+1)
		payload = append(payload, r.Rest()...)
		payload = wasmbin.WriteUvarint32(payload, typeIdx)
		funcSec.Payload = payload
	}

	body := []byte{wasmbin.OpGlobalGet}
	body = wasmbin.WriteUvarint32(body, counterGlobal)
	body = append(body, wasmbin.OpEnd)
	*funcs = append(*funcs, wasmbin.Func{Code: body})
	readerIdx := uint32(numImportedFuncs + len(*funcs) - 1)

	export := wasmbin.Export{Name: CounterExportName, Kind: wasmbin.ExternalFunc, Index: readerIdx}
	expSec := m.Find(wasmbin.SectionExport)
	if expSec == nil {
		m.Insert(wasmbin.Section{ID: wasmbin.SectionExport, Payload: wasmbin.EncodeExports([]wasmbin.Export{export})})
		return nil
	}
	exports, err := wasmbin.ParseExports(expSec.Payload)
	if err != nil {
		return fmt.Errorf("numcodecs/reproducible/instcount: %w", err)
	}
	exports = append(exports, export)
	expSec.Payload = wasmbin.EncodeExports(exports)
	return nil
}
