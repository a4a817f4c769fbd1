// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package wasmbin implements the binary-format primitives the reproducible
// package needs to rewrite a WASM core module at the byte level: LEB128
// varints, a section reader/writer, and an instruction-stream walker. No
// library in the retrieved example pack operates below the component/WIT
// layer that go.bytecodealliance.org targets, so this is hand-written —
// see DESIGN.md for why.
package wasmbin

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a LEB128 varint would not fit the target
// integer width.
var ErrOverflow = errors.New("wasmbin: leb128 varint overflows target width")

// ReadUvarint32 reads an unsigned LEB128 varint of at most 32 significant
// bits.
func ReadUvarint32(r io.ByteReader) (uint32, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if shift == 28 && b > 0x0f {
				return 0, ErrOverflow
			}
			return uint32(result), nil
		}
		shift += 7
		if shift >= 35 {
			return 0, ErrOverflow
		}
	}
}

// ReadUvarint64 reads an unsigned LEB128 varint of at most 64 bits.
func ReadUvarint64(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, ErrOverflow
		}
	}
}

// ReadVarint64 reads a signed, sign-extended LEB128 varint of at most 64
// bits (used for i64.const and WASM's "s33" block types).
func ReadVarint64(r io.ByteReader) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, ErrOverflow
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func ReadVarint32(r io.ByteReader) (int32, error) {
	v, err := ReadVarint64(r)
	if err != nil {
		return 0, err
	}
	if v < -(1<<31) || v >= (1<<31) {
		return 0, ErrOverflow
	}
	return int32(v), nil
}

// WriteUvarint32 appends v's unsigned LEB128 encoding to buf.
func WriteUvarint32(buf []byte, v uint32) []byte {
	return WriteUvarint64(buf, uint64(v))
}

// WriteUvarint64 appends v's unsigned LEB128 encoding to buf.
func WriteUvarint64(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// WriteVarint64 appends v's signed LEB128 encoding to buf.
func WriteVarint64(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			buf = append(buf, b)
			return buf
		}
		buf = append(buf, b|0x80)
	}
}

func WriteVarint32(buf []byte, v int32) []byte {
	return WriteVarint64(buf, int64(v))
}
