// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package wasmbin

import "fmt"

// External kinds shared by the import and export sections.
const (
	ExternalFunc   = 0x00
	ExternalTable  = 0x01
	ExternalMemory = 0x02
	ExternalGlobal = 0x03
)

// Value types named by the rewriting packages.
const (
	ValI32  = 0x7F
	ValI64  = 0x7E
	ValF32  = 0x7D
	ValF64  = 0x7C
	ValV128 = 0x7B
)

// Limits is a table or memory limits record.
type Limits struct {
	Flags byte
	Min   uint32
	Max   uint32 // meaningful only when Flags&1 != 0
}

// Import is one entry of the import section. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Import struct {
	Module string
	Name   string
	Kind   byte

	TypeIdx uint32 // ExternalFunc
	RefType byte   // ExternalTable
	Limits  Limits // ExternalTable, ExternalMemory
	ValType byte   // ExternalGlobal
	Mutable bool   // ExternalGlobal
}

func readLimits(r *Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := ReadUvarint32(r)
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Flags: flags, Min: min}
	if flags&1 != 0 {
		max, err := ReadUvarint32(r)
		if err != nil {
			return Limits{}, err
		}
		l.Max = max
	}
	return l, nil
}

func writeLimits(buf []byte, l Limits) []byte {
	buf = append(buf, l.Flags)
	buf = WriteUvarint32(buf, l.Min)
	if l.Flags&1 != 0 {
		buf = WriteUvarint32(buf, l.Max)
	}
	return buf
}

func readName(r *Reader) (string, error) {
	n, err := ReadUvarint32(r)
	if err != nil {
		return "", err
	}
	b, err := r.ReadN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeName(buf []byte, s string) []byte {
	buf = WriteUvarint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// ParseImports decodes the import section's payload.
func ParseImports(payload []byte) ([]Import, error) {
	r := NewReader(payload)
	count, err := ReadUvarint32(r)
	if err != nil {
		return nil, fmt.Errorf("wasmbin: import section count: %w", err)
	}
	imports := make([]Import, count)
	for i := range imports {
		imp := Import{}
		if imp.Module, err = readName(r); err != nil {
			return nil, fmt.Errorf("wasmbin: import %d module: %w", i, err)
		}
		if imp.Name, err = readName(r); err != nil {
			return nil, fmt.Errorf("wasmbin: import %d name: %w", i, err)
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("wasmbin: import %d kind: %w", i, err)
		}
		switch imp.Kind {
		case ExternalFunc:
			if imp.TypeIdx, err = ReadUvarint32(r); err != nil {
				return nil, fmt.Errorf("wasmbin: import %d type index: %w", i, err)
			}
		case ExternalTable:
			if imp.RefType, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("wasmbin: import %d table reftype: %w", i, err)
			}
			if imp.Limits, err = readLimits(r); err != nil {
				return nil, fmt.Errorf("wasmbin: import %d table limits: %w", i, err)
			}
		case ExternalMemory:
			if imp.Limits, err = readLimits(r); err != nil {
				return nil, fmt.Errorf("wasmbin: import %d memory limits: %w", i, err)
			}
		case ExternalGlobal:
			if imp.ValType, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("wasmbin: import %d global valtype: %w", i, err)
			}
			mut, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("wasmbin: import %d global mutability: %w", i, err)
			}
			imp.Mutable = mut != 0
		default:
			return nil, fmt.Errorf("wasmbin: import %d has unknown kind 0x%02x", i, imp.Kind)
		}
		imports[i] = imp
	}
	return imports, nil
}

// EncodeImports re-serializes imports into an import section payload.
func EncodeImports(imports []Import) []byte {
	out := WriteUvarint32(nil, uint32(len(imports)))
	for _, imp := range imports {
		out = writeName(out, imp.Module)
		out = writeName(out, imp.Name)
		out = append(out, imp.Kind)
		switch imp.Kind {
		case ExternalFunc:
			out = WriteUvarint32(out, imp.TypeIdx)
		case ExternalTable:
			out = append(out, imp.RefType)
			out = writeLimits(out, imp.Limits)
		case ExternalMemory:
			out = writeLimits(out, imp.Limits)
		case ExternalGlobal:
			out = append(out, imp.ValType)
			if imp.Mutable {
				out = append(out, 0x01)
			} else {
				out = append(out, 0x00)
			}
		}
	}
	return out
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// ParseExports decodes the export section's payload.
func ParseExports(payload []byte) ([]Export, error) {
	r := NewReader(payload)
	count, err := ReadUvarint32(r)
	if err != nil {
		return nil, fmt.Errorf("wasmbin: export section count: %w", err)
	}
	exports := make([]Export, count)
	for i := range exports {
		exp := Export{}
		if exp.Name, err = readName(r); err != nil {
			return nil, fmt.Errorf("wasmbin: export %d name: %w", i, err)
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("wasmbin: export %d kind: %w", i, err)
		}
		if exp.Index, err = ReadUvarint32(r); err != nil {
			return nil, fmt.Errorf("wasmbin: export %d index: %w", i, err)
		}
		exports[i] = exp
	}
	return exports, nil
}

// EncodeExports re-serializes exports into an export section payload.
func EncodeExports(exports []Export) []byte {
	out := WriteUvarint32(nil, uint32(len(exports)))
	for _, exp := range exports {
		out = writeName(out, exp.Name)
		out = append(out, exp.Kind)
		out = WriteUvarint32(out, exp.Index)
	}
	return out
}
