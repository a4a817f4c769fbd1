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
	"context"
	"math"

	"golang.org/x/exp/slices"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// LinearQuantizeTypeID is the stable registry id for the linearquantize
// codec.
const LinearQuantizeTypeID = "numcodecs.linearquantize"

// LinearQuantizeType is the CodecType for LinearQuantizeCodec: a lossy
// transform mapping a declared [min, max] float range onto an integer
// code of a declared bit width.
type LinearQuantizeType struct{}

var _ numcodecs.CodecType = LinearQuantizeType{}

func (LinearQuantizeType) ID() string { return LinearQuantizeTypeID }

func (LinearQuantizeType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"dtype", "bits", "min", "max"},
		"properties": map[string]any{
			"dtype": map[string]any{"type": "string", "enum": []any{"f32", "f64"}},
			"bits":  map[string]any{"type": "integer", "enum": []any{8, 16}},
			"min":   map[string]any{"type": "number"},
			"max":   map[string]any{"type": "number"},
		},
	}
}

func (LinearQuantizeType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	dtypeName, _ := cfg["dtype"].(string)
	dtype, err := numcodecs.ParseDtype(dtypeName)
	if err != nil || (dtype != numcodecs.F32 && dtype != numcodecs.F64) {
		return nil, &numcodecs.ConfigError{Codec: LinearQuantizeTypeID, Path: "/dtype", Message: "must be f32 or f64"}
	}
	bitsF, _ := configFloat(cfg["bits"])
	bits := int(bitsF)
	if bits != 8 && bits != 16 {
		return nil, &numcodecs.ConfigError{Codec: LinearQuantizeTypeID, Path: "/bits", Message: "must be 8 or 16"}
	}
	min, minOK := configFloat(cfg["min"])
	max, maxOK := configFloat(cfg["max"])
	if !minOK || !maxOK || !(min < max) {
		return nil, &numcodecs.ConfigError{Codec: LinearQuantizeTypeID, Path: "/min", Message: "min must be a number strictly less than max"}
	}
	return &LinearQuantizeCodec{Dtype: dtype, Bits: bits, Min: min, Max: max}, nil
}

// LinearQuantizeCodec linearly rescales floats in [Min, Max] onto an
// unsigned integer code with Bits bits (u8 for 8, u16 for 16), clamping
// out-of-range inputs rather than wrapping. It is inherently lossy: the
// quantization step is (Max-Min) / (2^Bits - 1).
type LinearQuantizeCodec struct {
	Dtype numcodecs.Dtype
	Bits  int
	Min   float64
	Max   float64
}

var _ numcodecs.Codec = (*LinearQuantizeCodec)(nil)
var _ numcodecs.ConfigProvider = (*LinearQuantizeCodec)(nil)

func (c *LinearQuantizeCodec) Config() (numcodecs.Config, error) {
	return numcodecs.Config{"dtype": c.Dtype.String(), "bits": c.Bits, "min": c.Min, "max": c.Max}, nil
}

func (c *LinearQuantizeCodec) codeDtype() numcodecs.Dtype {
	if c.Bits == 8 {
		return numcodecs.U8
	}
	return numcodecs.U16
}

func (c *LinearQuantizeCodec) levels() float64 {
	return math.Exp2(float64(c.Bits)) - 1
}

func (c *LinearQuantizeCodec) Encode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	if data.Dtype() != c.Dtype {
		return numcodecs.Array{}, &numcodecs.UnsupportedDtypeError{Codec: LinearQuantizeTypeID, Dtype: data.Dtype()}
	}
	vs, err := floatsFromBytes(data.Dtype(), data.AsBytes())
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: LinearQuantizeTypeID, Cause: err}
	}
	codes := make([]int64, len(vs))
	levels := c.levels()
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return numcodecs.Array{}, &numcodecs.NonFiniteDataError{Codec: LinearQuantizeTypeID, Index: i}
		}
		clamped := math.Min(math.Max(v, c.Min), c.Max)
		codes[i] = int64(math.Round((clamped - c.Min) / (c.Max - c.Min) * levels))
	}
	codeDtype := c.codeDtype()
	b, err := bytesFromInts(codeDtype, codes)
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: LinearQuantizeTypeID, Cause: err}
	}
	out, _ := numcodecs.WithZerosBytes(codeDtype, data.Shape(), func(dst []byte) struct{} {
		copy(dst, b)
		return struct{}{}
	})
	return out, nil
}

func (c *LinearQuantizeCodec) Decode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	codeDtype := c.codeDtype()
	if data.Dtype() != codeDtype {
		return numcodecs.Array{}, &numcodecs.UnsupportedDtypeError{Codec: LinearQuantizeTypeID, Dtype: data.Dtype()}
	}
	codes, err := intsFromBytes(codeDtype, data.AsBytes())
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: LinearQuantizeTypeID, Cause: err}
	}
	levels := c.levels()
	vs := make([]float64, len(codes))
	for i, code := range codes {
		vs[i] = c.Min + float64(code)/levels*(c.Max-c.Min)
	}
	b, err := bytesFromFloats(c.Dtype, vs)
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: LinearQuantizeTypeID, Cause: err}
	}
	out, _ := numcodecs.WithZerosBytes(c.Dtype, data.Shape(), func(dst []byte) struct{} {
		copy(dst, b)
		return struct{}{}
	})
	return out, nil
}

func (c *LinearQuantizeCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
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
