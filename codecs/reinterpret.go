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

	"golang.org/x/exp/slices"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// ReinterpretTypeID is the stable registry id for the reinterpret codec.
const ReinterpretTypeID = "numcodecs.reinterpret"

// ReinterpretType is the CodecType for ReinterpretCodec: a lossless
// bit-for-bit dtype reinterpretation. No conversion happens, only the
// meaning of the bits changes.
type ReinterpretType struct{}

var _ numcodecs.CodecType = ReinterpretType{}

func (ReinterpretType) ID() string { return ReinterpretTypeID }

func (ReinterpretType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"encode_dtype", "decode_dtype"},
		"properties": map[string]any{
			"encode_dtype": map[string]any{"type": "string", "enum": dtypeNamesJSON()},
			"decode_dtype": map[string]any{"type": "string", "enum": dtypeNamesJSON()},
		},
	}
}

func dtypeNamesJSON() []any {
	names := []numcodecs.Dtype{
		numcodecs.U8, numcodecs.U16, numcodecs.U32, numcodecs.U64,
		numcodecs.I8, numcodecs.I16, numcodecs.I32, numcodecs.I64,
		numcodecs.F32, numcodecs.F64,
	}
	out := make([]any, len(names))
	for i, d := range names {
		out[i] = d.String()
	}
	return out
}

func (ReinterpretType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	encName, _ := cfg["encode_dtype"].(string)
	decName, _ := cfg["decode_dtype"].(string)
	enc, err := numcodecs.ParseDtype(encName)
	if err != nil {
		return nil, &numcodecs.ConfigError{Codec: ReinterpretTypeID, Path: "/encode_dtype", Message: "unknown dtype"}
	}
	dec, err := numcodecs.ParseDtype(decName)
	if err != nil {
		return nil, &numcodecs.ConfigError{Codec: ReinterpretTypeID, Path: "/decode_dtype", Message: "unknown dtype"}
	}
	if !reinterpretCompatible(dec, enc) {
		return nil, &numcodecs.ConfigError{
			Codec:   ReinterpretTypeID,
			Message: "decode dtype " + dec.String() + " cannot be reinterpreted as " + enc.String(),
		}
	}
	return &ReinterpretCodec{EncodeDtype: enc, DecodeDtype: dec}, nil
}

// reinterpretCompatible reports whether data of dtype dec may be
// reinterpreted as enc: identity always works, any dtype can be viewed as
// bytes (u8), and a signed or floating dtype can be viewed as the
// same-size unsigned binary dtype.
func reinterpretCompatible(dec, enc numcodecs.Dtype) bool {
	switch {
	case dec == enc:
		return true
	case enc == numcodecs.U8:
		return true
	case dec == numcodecs.I16 && enc == numcodecs.U16:
		return true
	case (dec == numcodecs.I32 || dec == numcodecs.F32) && enc == numcodecs.U32:
		return true
	case (dec == numcodecs.I64 || dec == numcodecs.F64) && enc == numcodecs.U64:
		return true
	}
	return false
}

// ReinterpretCodec reinterprets data of DecodeDtype as EncodeDtype on
// encode, and back on decode. Reinterpreting to u8 multiplies the final
// axis by the source dtype's byte width (an f32 array of shape [N]
// encodes to a u8 array of shape [4N]); same-size reinterpretations keep
// the shape. Always lossless.
type ReinterpretCodec struct {
	EncodeDtype numcodecs.Dtype
	DecodeDtype numcodecs.Dtype
}

var _ numcodecs.Codec = (*ReinterpretCodec)(nil)
var _ numcodecs.ConfigProvider = (*ReinterpretCodec)(nil)

func (c *ReinterpretCodec) Config() (numcodecs.Config, error) {
	return numcodecs.Config{
		"encode_dtype": c.EncodeDtype.String(),
		"decode_dtype": c.DecodeDtype.String(),
	}, nil
}

func (c *ReinterpretCodec) Encode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	if data.Dtype() != c.DecodeDtype {
		return numcodecs.Array{}, &numcodecs.UnsupportedDtypeError{Codec: ReinterpretTypeID, Dtype: data.Dtype()}
	}
	shape := append([]int(nil), data.Shape()...)
	if c.EncodeDtype == numcodecs.U8 && c.DecodeDtype != numcodecs.U8 {
		if len(shape) > 0 {
			shape[len(shape)-1] *= c.DecodeDtype.Size()
		}
	}
	return retag(data, c.EncodeDtype, shape), nil
}

func (c *ReinterpretCodec) Decode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	shape, err := c.decodedShape(data)
	if err != nil {
		return numcodecs.Array{}, err
	}
	return retag(data, c.DecodeDtype, shape), nil
}

func (c *ReinterpretCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
	shape, err := c.decodedShape(data)
	if err != nil {
		return err
	}
	if out.Dtype() != c.DecodeDtype || !slices.Equal(out.Shape(), shape) {
		return &numcodecs.MismatchedDecodeIntoError{
			ExpectedDtype: c.DecodeDtype, ActualDtype: out.Dtype(),
			ExpectedShape: shape, ActualShape: out.Shape(),
		}
	}
	src := data.AsBytes()
	return out.WithBytesMut(func(dst []byte) {
		copy(dst, src)
	})
}

// decodedShape validates data against EncodeDtype and computes the shape
// the decoded array will have, failing if a u8 payload's final axis is
// not divisible by the target dtype's width.
func (c *ReinterpretCodec) decodedShape(data numcodecs.Array) ([]int, error) {
	if data.Dtype() != c.EncodeDtype {
		return nil, &numcodecs.UnsupportedDtypeError{Codec: ReinterpretTypeID, Dtype: data.Dtype()}
	}
	shape := append([]int(nil), data.Shape()...)
	if c.EncodeDtype == numcodecs.U8 && c.DecodeDtype != numcodecs.U8 {
		size := c.DecodeDtype.Size()
		last := data.Len()
		if len(shape) > 0 {
			last = shape[len(shape)-1]
		}
		if last%size != 0 {
			want := append([]int(nil), shape...)
			if len(want) > 0 {
				want[len(want)-1] = (want[len(want)-1] / size) * size
			}
			return nil, &numcodecs.ShapeError{Op: "reinterpret decode", Expected: want, Actual: shape}
		}
		if len(shape) > 0 {
			shape[len(shape)-1] /= size
		}
	}
	return shape, nil
}

// retag copies data's bytes into a fresh owned array of the given dtype
// and shape; the byte counts always agree by construction of the callers.
func retag(data numcodecs.Array, dtype numcodecs.Dtype, shape []int) numcodecs.Array {
	src := data.AsBytes()
	out, _ := numcodecs.WithZerosBytes(dtype, shape, func(dst []byte) struct{} {
		copy(dst, src)
		return struct{}{}
	})
	return out
}
