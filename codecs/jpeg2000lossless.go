// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package codecs

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/exp/slices"

	numcodecs "github.com/juntyr/numcodecs-go"
	"github.com/juntyr/numcodecs-go/header"
)

// Jpeg2000LosslessTypeID is the stable registry id for the
// jpeg2000lossless codec.
const Jpeg2000LosslessTypeID = "numcodecs.jpeg2000lossless"

// jpeg2000Version is the codestream format version written into every
// encoded header.
var jpeg2000Version = numcodecs.VersionTriple{Major: 1, Minor: 0, Patch: 0}

// Jpeg2000LosslessType is the CodecType for Jpeg2000LosslessCodec. It
// implements only the lossless mode of JPEG2000: the reversible CDF 5/3
// integer lifting wavelet transform applied along an array's innermost
// axis, framed as a self-describing byte stream. Tiling, the arithmetic
// entropy coder and lossy quantization stay out of scope; this is purely
// the reversible integer transform stage.
type Jpeg2000LosslessType struct{}

var _ numcodecs.CodecType = Jpeg2000LosslessType{}

func (Jpeg2000LosslessType) ID() string { return Jpeg2000LosslessTypeID }

// Version declares the current config schema version; the registry
// rejects configs carrying a different _version major.
func (Jpeg2000LosslessType) Version() numcodecs.VersionTriple { return jpeg2000Version }

func (Jpeg2000LosslessType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"dtype"},
		"properties": map[string]any{
			"dtype": map[string]any{
				"type": "string",
				"enum": []any{"u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64"},
			},
		},
	}
}

// widenedDtype maps each supported integer dtype to the one-step-wider
// signed dtype used to hold the transformed coefficients, since the 5/3
// lifting scheme's detail band can go negative and can exceed the input
// dtype's range by up to one bit. u64/i64 have no wider dtype available
// and keep i64; large-magnitude u64 inputs near the top of the range
// can, in principle, overflow this implementation, which is documented
// in DESIGN.md as an accepted limitation of the closed dtype set.
func widenedDtype(d numcodecs.Dtype) numcodecs.Dtype {
	switch d {
	case numcodecs.U8, numcodecs.I8:
		return numcodecs.I16
	case numcodecs.U16, numcodecs.I16:
		return numcodecs.I32
	case numcodecs.U32, numcodecs.I32:
		return numcodecs.I64
	default:
		return numcodecs.I64
	}
}

func (Jpeg2000LosslessType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	name, _ := cfg["dtype"].(string)
	dtype, err := numcodecs.ParseDtype(name)
	if err != nil {
		return nil, &numcodecs.ConfigError{Codec: Jpeg2000LosslessTypeID, Path: "/dtype", Message: "unknown dtype"}
	}
	switch dtype {
	case numcodecs.F32, numcodecs.F64:
		return nil, &numcodecs.ConfigError{Codec: Jpeg2000LosslessTypeID, Path: "/dtype", Message: "jpeg2000lossless only supports integer dtypes"}
	}
	return &Jpeg2000LosslessCodec{Dtype: dtype}, nil
}

// Jpeg2000LosslessCodec applies the reversible CDF 5/3 integer wavelet
// along an array's innermost axis and frames the widened coefficients
// behind a self-describing header, so the encoded form is a flat u8
// stream that decodes back to the original dtype and shape.
type Jpeg2000LosslessCodec struct {
	Dtype numcodecs.Dtype
}

var _ numcodecs.Codec = (*Jpeg2000LosslessCodec)(nil)
var _ numcodecs.ConfigProvider = (*Jpeg2000LosslessCodec)(nil)

func (c *Jpeg2000LosslessCodec) Config() (numcodecs.Config, error) {
	return numcodecs.Config{"dtype": c.Dtype.String()}, nil
}

// forward53 applies one level of the reversible 5/3 lifting wavelet to a
// row, returning [low..., high...] with ceil(n/2) low and floor(n/2)
// high coefficients. Boundaries use symmetric extension; a single-sample
// row is its own low band.
func forward53(row []int64) []int64 {
	n := len(row)
	if n < 2 {
		return append([]int64(nil), row...)
	}
	sN := (n + 1) / 2
	dN := n / 2
	at := func(i int) int64 {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
		return row[i]
	}
	d := make([]int64, dN)
	for i := range d {
		d[i] = at(2*i+1) - floorDiv(at(2*i)+at(2*i+2), 2)
	}
	dAt := func(i int) int64 {
		if i < 0 {
			i = 0
		}
		if i >= dN {
			i = dN - 1
		}
		return d[i]
	}
	s := make([]int64, sN)
	for i := range s {
		s[i] = at(2*i) + floorDiv(dAt(i-1)+dAt(i)+2, 4)
	}
	out := make([]int64, 0, n)
	out = append(out, s...)
	out = append(out, d...)
	return out
}

// inverse53 is forward53's exact inverse.
func inverse53(coeffs []int64) []int64 {
	n := len(coeffs)
	if n < 2 {
		return append([]int64(nil), coeffs...)
	}
	sN := (n + 1) / 2
	dN := n / 2
	s := coeffs[:sN]
	d := coeffs[sN:]
	dAt := func(i int) int64 {
		if i < 0 {
			i = 0
		}
		if i >= dN {
			i = dN - 1
		}
		return d[i]
	}
	row := make([]int64, n)
	for i := 0; i < sN; i++ {
		row[2*i] = s[i] - floorDiv(dAt(i-1)+dAt(i)+2, 4)
	}
	// only even (already reconstructed) samples are read through at
	at := func(i int) int64 {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
		return row[i]
	}
	for i := 0; i < dN; i++ {
		row[2*i+1] = d[i] + floorDiv(at(2*i)+at(2*i+2), 2)
	}
	return row
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// eachRow calls f once per row of length shape[len(shape)-1] in row-major
// order over the remaining axes, reading/writing data in place.
func eachRow(shape []int, data []int64, f func(row []int64)) {
	if len(shape) == 0 {
		return
	}
	rowLen := shape[len(shape)-1]
	if rowLen == 0 {
		return
	}
	for off := 0; off+rowLen <= len(data); off += rowLen {
		f(data[off : off+rowLen])
	}
}

func (c *Jpeg2000LosslessCodec) Encode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	if data.Dtype() != c.Dtype {
		return numcodecs.Array{}, &numcodecs.UnsupportedDtypeError{Codec: Jpeg2000LosslessTypeID, Dtype: data.Dtype()}
	}
	shape := data.Shape()
	vs, err := intsFromBytes(c.Dtype, data.AsBytes())
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: Jpeg2000LosslessTypeID, Cause: err}
	}
	out := make([]int64, len(vs))
	copy(out, vs)
	eachRow(shape, out, func(row []int64) {
		transformed := forward53(row)
		copy(row, transformed)
	})
	payload, err := bytesFromInts(widenedDtype(c.Dtype), out)
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: Jpeg2000LosslessTypeID, Cause: err}
	}

	var buf bytes.Buffer
	if err := header.Encode(&buf, Jpeg2000LosslessTypeID, header.Header{
		Dtype:   c.Dtype,
		Shape:   shape,
		Version: jpeg2000Version,
	}); err != nil {
		return numcodecs.Array{}, err
	}
	buf.Write(payload)

	arr, _ := numcodecs.WithZerosBytes(numcodecs.U8, []int{buf.Len()}, func(dst []byte) struct{} {
		copy(dst, buf.Bytes())
		return struct{}{}
	})
	return arr, nil
}

// decodeCoefficients parses the header and inverse-transforms the
// payload, returning the restored values and the original shape.
func (c *Jpeg2000LosslessCodec) decodeCoefficients(data numcodecs.Array) ([]int64, []int, error) {
	if data.Dtype() != numcodecs.U8 {
		return nil, nil, &numcodecs.UnsupportedDtypeError{Codec: Jpeg2000LosslessTypeID, Dtype: data.Dtype()}
	}
	r := bytes.NewReader(data.AsBytes())
	hdr, err := header.Decode(r, Jpeg2000LosslessTypeID)
	if err != nil {
		return nil, nil, err
	}
	if hdr.Dtype != c.Dtype {
		return nil, nil, &numcodecs.CodingFailureError{
			Codec: Jpeg2000LosslessTypeID,
			Cause: fmt.Errorf("codestream carries dtype %s, codec is configured for %s", hdr.Dtype, c.Dtype),
		}
	}
	if hdr.Version.Major != jpeg2000Version.Major {
		return nil, nil, &numcodecs.CodingFailureError{
			Codec: Jpeg2000LosslessTypeID,
			Cause: fmt.Errorf("codestream version %d is incompatible with %d", hdr.Version.Major, jpeg2000Version.Major),
		}
	}
	wide := widenedDtype(c.Dtype)
	elems := 1
	for _, d := range hdr.Shape {
		elems *= d
	}
	rest := make([]byte, r.Len())
	if _, err := r.Read(rest); err != nil && elems > 0 {
		return nil, nil, &numcodecs.CodingFailureError{Codec: Jpeg2000LosslessTypeID, Cause: err}
	}
	if len(rest) != elems*wide.Size() {
		return nil, nil, &numcodecs.CodingFailureError{
			Codec: Jpeg2000LosslessTypeID,
			Cause: fmt.Errorf("payload is %d bytes, shape %v requires %d", len(rest), hdr.Shape, elems*wide.Size()),
		}
	}
	coeffs, err := intsFromBytes(wide, rest)
	if err != nil {
		return nil, nil, &numcodecs.CodingFailureError{Codec: Jpeg2000LosslessTypeID, Cause: err}
	}
	eachRow(hdr.Shape, coeffs, func(row []int64) {
		restored := inverse53(row)
		copy(row, restored)
	})
	return coeffs, hdr.Shape, nil
}

func (c *Jpeg2000LosslessCodec) Decode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	vs, shape, err := c.decodeCoefficients(data)
	if err != nil {
		return numcodecs.Array{}, err
	}
	b, err := bytesFromInts(c.Dtype, vs)
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: Jpeg2000LosslessTypeID, Cause: err}
	}
	arr, _ := numcodecs.WithZerosBytes(c.Dtype, shape, func(dst []byte) struct{} {
		copy(dst, b)
		return struct{}{}
	})
	return arr, nil
}

func (c *Jpeg2000LosslessCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
	decoded, err := c.Decode(ctx, data)
	if err != nil {
		return err
	}
	if out.Dtype() != decoded.Dtype() || !slices.Equal(out.Shape(), decoded.Shape()) {
		return &numcodecs.MismatchedDecodeIntoError{
			ExpectedDtype: decoded.Dtype(), ActualDtype: out.Dtype(),
			ExpectedShape: decoded.Shape(), ActualShape: out.Shape(),
		}
	}
	return out.Assign(decoded)
}
