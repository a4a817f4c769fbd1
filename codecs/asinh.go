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

// AsinhTypeID is the stable registry id for the asinh codec.
const AsinhTypeID = "numcodecs.asinh"

// AsinhType is the CodecType for AsinhCodec: a dynamic-range
// compressing transform well-suited to data spanning many orders of
// magnitude around zero, linear near zero and logarithmic in the tails.
type AsinhType struct{}

var _ numcodecs.CodecType = AsinhType{}

func (AsinhType) ID() string { return AsinhTypeID }

func (AsinhType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"linear_width"},
		"properties": map[string]any{
			"linear_width": map[string]any{
				"type":             "number",
				"exclusiveMinimum": 0,
			},
		},
	}
}

func (AsinhType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	raw, ok := cfg["linear_width"]
	if !ok {
		return nil, &numcodecs.ConfigError{Codec: AsinhTypeID, Path: "/linear_width", Message: "missing required field"}
	}
	width, ok := configFloat(raw)
	if !ok || width <= 0 {
		return nil, &numcodecs.ConfigError{Codec: AsinhTypeID, Path: "/linear_width", Message: "must be a positive number"}
	}
	return &AsinhCodec{LinearWidth: width}, nil
}

// AsinhCodec applies x -> linear_width * asinh(x / linear_width) on encode
// and its exact inverse, linear_width * sinh(x / linear_width), on decode.
// It is lossy in floating point rounding only, never in
// representability: every finite input maps to a finite output and vice
// versa.
type AsinhCodec struct {
	LinearWidth float64
}

var _ numcodecs.Codec = (*AsinhCodec)(nil)
var _ numcodecs.ConfigProvider = (*AsinhCodec)(nil)

func (c *AsinhCodec) Config() (numcodecs.Config, error) {
	return numcodecs.Config{"linear_width": c.LinearWidth}, nil
}

func (c *AsinhCodec) Encode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	return c.transform(data, func(x float64) float64 {
		return c.LinearWidth * math.Asinh(x/c.LinearWidth)
	})
}

func (c *AsinhCodec) Decode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	return c.transform(data, func(x float64) float64 {
		return c.LinearWidth * math.Sinh(x/c.LinearWidth)
	})
}

func (c *AsinhCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
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

func (c *AsinhCodec) transform(data numcodecs.Array, f func(float64) float64) (numcodecs.Array, error) {
	dtype := data.Dtype()
	if dtype != numcodecs.F32 && dtype != numcodecs.F64 {
		return numcodecs.Array{}, &numcodecs.UnsupportedDtypeError{Codec: AsinhTypeID, Dtype: dtype}
	}
	vs, err := floatsFromBytes(dtype, data.AsBytes())
	if err != nil {
		return numcodecs.Array{}, &numcodecs.CodingFailureError{Codec: AsinhTypeID, Cause: err}
	}
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return numcodecs.Array{}, &numcodecs.NonFiniteDataError{Codec: AsinhTypeID, Index: i}
		}
		vs[i] = f(v)
	}
	out, _ := numcodecs.WithZerosBytes(dtype, data.Shape(), func(b []byte) struct{} {
		encoded, err := bytesFromFloats(dtype, vs)
		if err != nil {
			panic(err) // unreachable: dtype already validated above
		}
		copy(b, encoded)
		return struct{}{}
	})
	return out, nil
}
