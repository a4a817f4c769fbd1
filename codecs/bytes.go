// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package codecs ships the reference Codec implementations that exercise
// the root numcodecs package end to end: asinh, linearquantize,
// reinterpret, swizzlereshape and jpeg2000lossless.
package codecs

import (
	"encoding/binary"
	"fmt"
	"math"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// configFloat coerces a JSON-isomorphic config number, which arrives as
// float64 from decoded JSON but may be a Go int in a hand-built Config,
// to float64.
func configFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// floatsFromBytes decodes b (as produced by an Array of the given float
// dtype) into a []float64 for uniform numeric processing.
func floatsFromBytes(dtype numcodecs.Dtype, b []byte) ([]float64, error) {
	size := dtype.Size()
	n := len(b) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := b[i*size : (i+1)*size]
		switch dtype {
		case numcodecs.F32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case numcodecs.F64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		default:
			return nil, fmt.Errorf("numcodecs/codecs: dtype %s is not a float dtype", dtype)
		}
	}
	return out, nil
}

// bytesFromFloats is floatsFromBytes's inverse.
func bytesFromFloats(dtype numcodecs.Dtype, vs []float64) ([]byte, error) {
	size := dtype.Size()
	out := make([]byte, len(vs)*size)
	for i, v := range vs {
		chunk := out[i*size : (i+1)*size]
		switch dtype {
		case numcodecs.F32:
			binary.LittleEndian.PutUint32(chunk, math.Float32bits(float32(v)))
		case numcodecs.F64:
			binary.LittleEndian.PutUint64(chunk, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("numcodecs/codecs: dtype %s is not a float dtype", dtype)
		}
	}
	return out, nil
}

// intsFromBytes decodes b (as produced by an Array of the given integer
// dtype) into a []int64, sign-extending signed dtypes and zero-extending
// unsigned ones.
func intsFromBytes(dtype numcodecs.Dtype, b []byte) ([]int64, error) {
	size := dtype.Size()
	n := len(b) / size
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		chunk := b[i*size : (i+1)*size]
		switch dtype {
		case numcodecs.U8:
			out[i] = int64(chunk[0])
		case numcodecs.U16:
			out[i] = int64(binary.LittleEndian.Uint16(chunk))
		case numcodecs.U32:
			out[i] = int64(binary.LittleEndian.Uint32(chunk))
		case numcodecs.U64:
			out[i] = int64(binary.LittleEndian.Uint64(chunk))
		case numcodecs.I8:
			out[i] = int64(int8(chunk[0]))
		case numcodecs.I16:
			out[i] = int64(int16(binary.LittleEndian.Uint16(chunk)))
		case numcodecs.I32:
			out[i] = int64(int32(binary.LittleEndian.Uint32(chunk)))
		case numcodecs.I64:
			out[i] = int64(binary.LittleEndian.Uint64(chunk))
		default:
			return nil, fmt.Errorf("numcodecs/codecs: dtype %s is not an integer dtype", dtype)
		}
	}
	return out, nil
}

// bytesFromInts is intsFromBytes's inverse; it returns an error if any
// value does not fit the target dtype's range.
func bytesFromInts(dtype numcodecs.Dtype, vs []int64) ([]byte, error) {
	size := dtype.Size()
	out := make([]byte, len(vs)*size)
	for i, v := range vs {
		chunk := out[i*size : (i+1)*size]
		switch dtype {
		case numcodecs.U8:
			if v < 0 || v > math.MaxUint8 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for u8", v)
			}
			chunk[0] = byte(v)
		case numcodecs.U16:
			if v < 0 || v > math.MaxUint16 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for u16", v)
			}
			binary.LittleEndian.PutUint16(chunk, uint16(v))
		case numcodecs.U32:
			if v < 0 || v > math.MaxUint32 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for u32", v)
			}
			binary.LittleEndian.PutUint32(chunk, uint32(v))
		case numcodecs.U64:
			if v < 0 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for u64", v)
			}
			binary.LittleEndian.PutUint64(chunk, uint64(v))
		case numcodecs.I8:
			if v < math.MinInt8 || v > math.MaxInt8 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for i8", v)
			}
			chunk[0] = byte(int8(v))
		case numcodecs.I16:
			if v < math.MinInt16 || v > math.MaxInt16 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for i16", v)
			}
			binary.LittleEndian.PutUint16(chunk, uint16(int16(v)))
		case numcodecs.I32:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("numcodecs/codecs: value %d out of range for i32", v)
			}
			binary.LittleEndian.PutUint32(chunk, uint32(int32(v)))
		case numcodecs.I64:
			binary.LittleEndian.PutUint64(chunk, uint64(v))
		default:
			return nil, fmt.Errorf("numcodecs/codecs: dtype %s is not an integer dtype", dtype)
		}
	}
	return out, nil
}
