// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package header implements the compact per-codec self-describing
// header: a fixed magic byte, a dtype tag, a length-prefixed shape, and
// a codec version triple, written ahead of a codec's own encoded payload
// so a decoder can recover dtype/shape/version without consulting the
// Config that produced the payload.
package header

import (
	"encoding/binary"
	"fmt"
	"io"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// magic identifies the start of a numcodecs header, guarding against
// feeding a decoder a payload that was never header-framed.
const magic byte = 0x4e // 'N'

// Header is the fixed metadata written before a codec's payload.
type Header struct {
	Dtype   numcodecs.Dtype
	Shape   []int
	Version numcodecs.VersionTriple
}

// Encode writes h's wire form to w: magic, dtype byte, uvarint rank,
// rank uvarint dimensions, then 3 version bytes (major, minor, patch,
// each clamped to a byte — see DESIGN.md for why a byte is enough here).
func Encode(w io.Writer, codec string, h Header) error {
	if !h.Dtype.Valid() {
		return &numcodecs.HeaderEncodeError{Codec: codec, Cause: fmt.Errorf("invalid dtype %d", h.Dtype)}
	}
	buf := make([]byte, 0, 2+binary.MaxVarintLen64*(1+len(h.Shape))+3)
	buf = append(buf, magic, byte(h.Dtype))
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(h.Shape)))
	buf = append(buf, tmp[:n]...)
	for _, dim := range h.Shape {
		if dim < 0 {
			return &numcodecs.HeaderEncodeError{Codec: codec, Cause: fmt.Errorf("negative shape dimension %d", dim)}
		}
		n := binary.PutUvarint(tmp[:], uint64(dim))
		buf = append(buf, tmp[:n]...)
	}
	buf = append(buf, clampByte(h.Version.Major), clampByte(h.Version.Minor), clampByte(h.Version.Patch))
	if _, err := w.Write(buf); err != nil {
		return &numcodecs.HeaderEncodeError{Codec: codec, Cause: err}
	}
	return nil
}

// Decode reads a Header written by Encode from r.
func Decode(r io.Reader, codec string) (Header, error) {
	br := asByteReader(r)
	var got [2]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: err}
	}
	if got[0] != magic {
		return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: fmt.Errorf("bad magic byte 0x%02x", got[0])}
	}
	dtype := numcodecs.Dtype(got[1])
	if !dtype.Valid() {
		return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: fmt.Errorf("invalid dtype tag %d", got[1])}
	}
	rank, err := binary.ReadUvarint(br)
	if err != nil {
		return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: err}
	}
	shape := make([]int, rank)
	for i := range shape {
		dim, err := binary.ReadUvarint(br)
		if err != nil {
			return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: err}
		}
		shape[i] = int(dim)
	}
	var ver [3]byte
	if _, err := io.ReadFull(r, ver[:]); err != nil {
		return Header{}, &numcodecs.HeaderDecodeError{Codec: codec, Cause: err}
	}
	return Header{
		Dtype: dtype,
		Shape: shape,
		Version: numcodecs.VersionTriple{
			Major: int(ver[0]),
			Minor: int(ver[1]),
			Patch: int(ver[2]),
		},
	}, nil
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// asByteReader adapts an io.Reader to io.ByteReader for binary.ReadUvarint,
// since most callers hand us a *bytes.Reader/*bufio.Reader already
// satisfying it, but Decode's contract only promises io.Reader.
func asByteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
