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

// Local is one run-length-encoded locals declaration at the head of a
// function body.
type Local struct {
	Count uint32
	Type  byte
}

// Func is one function body from the code section: its locals
// declarations and its instruction stream, which always ends with the
// function-terminating OpEnd byte.
type Func struct {
	Locals []Local
	Code   []byte
}

// ParseCode decodes the code section's payload into one Func per entry.
func ParseCode(payload []byte) ([]Func, error) {
	r := NewReader(payload)
	count, err := ReadUvarint32(r)
	if err != nil {
		return nil, fmt.Errorf("wasmbin: code section function count: %w", err)
	}
	funcs := make([]Func, count)
	for i := range funcs {
		size, err := ReadUvarint32(r)
		if err != nil {
			return nil, fmt.Errorf("wasmbin: function %d body size: %w", i, err)
		}
		body, err := r.ReadN(int(size))
		if err != nil {
			return nil, fmt.Errorf("wasmbin: function %d body: %w", i, err)
		}
		br := NewReader(body)
		localDeclCount, err := ReadUvarint32(br)
		if err != nil {
			return nil, fmt.Errorf("wasmbin: function %d locals count: %w", i, err)
		}
		locals := make([]Local, localDeclCount)
		for j := range locals {
			n, err := ReadUvarint32(br)
			if err != nil {
				return nil, fmt.Errorf("wasmbin: function %d local decl %d count: %w", i, j, err)
			}
			t, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("wasmbin: function %d local decl %d type: %w", i, j, err)
			}
			locals[j] = Local{Count: n, Type: t}
		}
		funcs[i] = Func{Locals: locals, Code: br.Rest()}
	}
	return funcs, nil
}

// EncodeCode re-serializes funcs into a code section payload.
func EncodeCode(funcs []Func) []byte {
	out := WriteUvarint32(nil, uint32(len(funcs)))
	for _, f := range funcs {
		body := WriteUvarint32(nil, uint32(len(f.Locals)))
		for _, l := range f.Locals {
			body = WriteUvarint32(body, l.Count)
			body = append(body, l.Type)
		}
		body = append(body, f.Code...)
		out = WriteUvarint32(out, uint32(len(body)))
		out = append(out, body...)
	}
	return out
}
