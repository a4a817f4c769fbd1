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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Section ids from the WASM core module binary format (MVP).
const (
	SectionCustom    = 0
	SectionType      = 1
	SectionImport    = 2
	SectionFunction  = 3
	SectionTable     = 4
	SectionMemory    = 5
	SectionGlobal    = 6
	SectionExport    = 7
	SectionStart     = 8
	SectionElement   = 9
	SectionCode      = 10
	SectionData      = 11
	SectionDataCount = 12
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

// Section is one top-level section of a module, kept as raw, unparsed
// bytes except where a higher-level package (features, nan, instcount)
// needs to look inside.
type Section struct {
	ID      byte
	Name    string // only set for Custom sections
	Payload []byte
}

// Module is a WASM core module decomposed into its top-level sections,
// preserving section order (repeated Custom sections are legal and common,
// e.g. "name" and "producers").
type Module struct {
	Version  uint32
	Sections []Section
}

// Parse decomposes a core module's bytes into sections without
// interpreting section payloads other than a Custom section's name.
func Parse(data []byte) (*Module, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], magic[:]) {
		return nil, errors.New("wasmbin: not a WASM binary (bad magic)")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	r := newSliceReader(data[8:])
	m := &Module{Version: version}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("wasmbin: reading section id: %w", err)
		}
		size, err := ReadUvarint32(r)
		if err != nil {
			return nil, fmt.Errorf("wasmbin: reading section size: %w", err)
		}
		payload, err := r.ReadN(int(size))
		if err != nil {
			return nil, fmt.Errorf("wasmbin: reading section payload: %w", err)
		}
		sec := Section{ID: id, Payload: payload}
		if id == SectionCustom {
			nr := newSliceReader(payload)
			nameLen, err := ReadUvarint32(nr)
			if err != nil {
				return nil, fmt.Errorf("wasmbin: reading custom section name length: %w", err)
			}
			name, err := nr.ReadN(int(nameLen))
			if err != nil {
				return nil, fmt.Errorf("wasmbin: reading custom section name: %w", err)
			}
			sec.Name = string(name)
			sec.Payload = nr.Rest()
		}
		m.Sections = append(m.Sections, sec)
	}
	return m, nil
}

// Bytes re-serializes the module, section by section, in order.
func (m *Module) Bytes() []byte {
	out := append([]byte{}, magic[:]...)
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], m.Version)
	out = append(out, verBuf[:]...)
	for _, sec := range m.Sections {
		payload := sec.Payload
		if sec.ID == SectionCustom {
			header := WriteUvarint32(nil, uint32(len(sec.Name)))
			header = append(header, sec.Name...)
			payload = append(header, sec.Payload...)
		}
		out = append(out, sec.ID)
		out = WriteUvarint32(out, uint32(len(payload)))
		out = append(out, payload...)
	}
	return out
}

// Insert adds a non-custom section at its ordered position: immediately
// before the first non-custom section whose id is greater. Core module
// section ids are defined in ascending order (DataCount being the
// out-of-order exception, which this module never inserts).
func (m *Module) Insert(sec Section) {
	at := len(m.Sections)
	for i := range m.Sections {
		if m.Sections[i].ID != SectionCustom && m.Sections[i].ID > sec.ID {
			at = i
			break
		}
	}
	m.Sections = append(m.Sections, Section{})
	copy(m.Sections[at+1:], m.Sections[at:])
	m.Sections[at] = sec
}

// Find returns the first non-custom section with the given id, or nil.
func (m *Module) Find(id byte) *Section {
	for i := range m.Sections {
		if m.Sections[i].ID == id && id != SectionCustom {
			return &m.Sections[i]
		}
	}
	return nil
}

// sliceReader is an io.ByteReader over an in-memory slice with bounds
// checking, used while walking section and instruction bytes.
type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader { return &sliceReader{data: data} }

func (s *sliceReader) ReadByte() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, errors.New("wasmbin: unexpected end of section")
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceReader) ReadN(n int) ([]byte, error) {
	if n < 0 || s.pos+n > len(s.data) {
		return nil, errors.New("wasmbin: section payload shorter than declared length")
	}
	out := s.data[s.pos : s.pos+n]
	s.pos += n
	return out, nil
}

func (s *sliceReader) Len() int { return len(s.data) - s.pos }

func (s *sliceReader) Pos() int { return s.pos }

func (s *sliceReader) Rest() []byte { return s.data[s.pos:] }

// NewReader exposes sliceReader construction to sibling packages
// (features, nan, instcount) that need to walk a section's payload.
func NewReader(data []byte) *Reader { return &Reader{newSliceReader(data)} }

// Reader is the exported instruction/section cursor type.
type Reader struct{ s *sliceReader }

func (r *Reader) ReadByte() (byte, error)    { return r.s.ReadByte() }
func (r *Reader) ReadN(n int) ([]byte, error) { return r.s.ReadN(n) }
func (r *Reader) Len() int                   { return r.s.Len() }
func (r *Reader) Pos() int                   { return r.s.Pos() }
func (r *Reader) Rest() []byte               { return r.s.Rest() }
