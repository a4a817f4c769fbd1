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
	"reflect"
	"testing"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// codecCase is one (codec type, config, input) triple run through the
// universal codec invariants: deterministic encode, config round trip,
// decode recovering dtype and shape, decode_into agreement, and empty
// input support.
type codecCase struct {
	name        string
	codecType   numcodecs.CodecType
	config      numcodecs.Config
	input       numcodecs.Array
	emptyShape  []int
	unsupported numcodecs.Dtype
}

func propertyCases(t *testing.T) []codecCase {
	t.Helper()
	asinhInput := testArrayF64(t, []float64{-100, -1, 0, 0.25, 3, 5000})
	quantInput := testArrayF64(t, []float64{0, 1, 2.5, 9.75, 10})
	reinterpInput, _ := numcodecs.WithZerosBytes(numcodecs.F32, []int{6}, func(b []byte) struct{} {
		for i := range b {
			b[i] = byte(i * 11)
		}
		return struct{}{}
	})
	swizzleInput, _ := numcodecs.WithZerosBytes(numcodecs.I32, []int{2, 3}, func(b []byte) struct{} {
		for i := range b {
			b[i] = byte(i)
		}
		return struct{}{}
	})
	jpegInput, _ := numcodecs.WithZerosBytes(numcodecs.I16, []int{3, 4}, func(b []byte) struct{} {
		raw, _ := bytesFromInts(numcodecs.I16, []int64{4, -9, 16, -25, 36, -49, 64, -81, 100, -121, 144, -169})
		copy(b, raw)
		return struct{}{}
	})
	return []codecCase{
		{
			name:        "asinh",
			codecType:   AsinhType{},
			config:      numcodecs.Config{"linear_width": 1.0},
			input:       asinhInput,
			emptyShape:  []int{0},
			unsupported: numcodecs.U32,
		},
		{
			name:        "linearquantize",
			codecType:   LinearQuantizeType{},
			config:      numcodecs.Config{"dtype": "f64", "bits": float64(8), "min": 0.0, "max": 10.0},
			input:       quantInput,
			emptyShape:  []int{0},
			unsupported: numcodecs.I8,
		},
		{
			name:        "reinterpret",
			codecType:   ReinterpretType{},
			config:      numcodecs.Config{"encode_dtype": "u8", "decode_dtype": "f32"},
			input:       reinterpInput,
			emptyShape:  []int{0},
			unsupported: numcodecs.U64,
		},
		{
			name:        "swizzlereshape",
			codecType:   SwizzleReshapeType{},
			config:      numcodecs.Config{"axes": []any{[]any{float64(1)}, []any{float64(0)}}},
			input:       swizzleInput,
			emptyShape:  []int{0, 2},
		},
		{
			name:        "jpeg2000lossless",
			codecType:   Jpeg2000LosslessType{},
			config:      numcodecs.Config{"dtype": "i16"},
			input:       jpegInput,
			emptyShape:  []int{0, 4},
			unsupported: numcodecs.F64,
		},
	}
}

func TestCodecProperties(t *testing.T) {
	ctx := context.Background()
	for _, tc := range propertyCases(t) {
		t.Run(tc.name, func(t *testing.T) {
			codec, err := tc.codecType.FromConfig(tc.config)
			if err != nil {
				t.Fatalf("FromConfig: %s", err)
			}

			// deterministic encode
			a, err := codec.Encode(ctx, tc.input)
			if err != nil {
				t.Fatalf("Encode: %s", err)
			}
			b, err := codec.Encode(ctx, tc.input)
			if err != nil {
				t.Fatalf("Encode (repeat): %s", err)
			}
			if !reflect.DeepEqual(a.AsBytes(), b.AsBytes()) {
				t.Fatal("encode is not bitwise deterministic")
			}

			// a codec rebuilt from its own reported config encodes identically
			cfg, err := numcodecs.SerializeCodecConfigWithID(codec, tc.codecType.ID())
			if err != nil {
				t.Fatalf("SerializeCodecConfigWithID: %s", err)
			}
			delete(cfg, "id")
			rebuilt, err := tc.codecType.FromConfig(cfg)
			if err != nil {
				t.Fatalf("FromConfig (round trip): %s", err)
			}
			c, err := rebuilt.Encode(ctx, tc.input)
			if err != nil {
				t.Fatalf("Encode (rebuilt): %s", err)
			}
			if !reflect.DeepEqual(a.AsBytes(), c.AsBytes()) {
				t.Fatal("config round trip changed encoding")
			}

			// decode recovers the input's dtype and shape
			decoded, err := codec.Decode(ctx, a)
			if err != nil {
				t.Fatalf("Decode: %s", err)
			}
			if decoded.Dtype() != tc.input.Dtype() {
				t.Fatalf("decoded dtype = %s, want %s", decoded.Dtype(), tc.input.Dtype())
			}
			if !reflect.DeepEqual(decoded.Shape(), tc.input.Shape()) {
				t.Fatalf("decoded shape = %v, want %v", decoded.Shape(), tc.input.Shape())
			}

			// decode_into agrees with decode elementwise
			out, err := numcodecs.Zeros(tc.input.Dtype(), tc.input.Shape()).ViewMut()
			if err != nil {
				t.Fatalf("ViewMut: %s", err)
			}
			if err := codec.DecodeInto(ctx, a, out); err != nil {
				t.Fatalf("DecodeInto: %s", err)
			}
			if !reflect.DeepEqual(out.AsBytes(), decoded.AsBytes()) {
				t.Fatal("decode_into disagrees with decode")
			}

			// empty arrays round trip with their shape intact
			empty := numcodecs.Zeros(tc.input.Dtype(), tc.emptyShape)
			encodedEmpty, err := codec.Encode(ctx, empty)
			if err != nil {
				t.Fatalf("Encode (empty): %s", err)
			}
			decodedEmpty, err := codec.Decode(ctx, encodedEmpty)
			if err != nil {
				t.Fatalf("Decode (empty): %s", err)
			}
			if !decodedEmpty.IsEmpty() {
				t.Fatal("decoded empty array is not empty")
			}
			if !reflect.DeepEqual(decodedEmpty.Shape(), tc.emptyShape) {
				t.Fatalf("decoded empty shape = %v, want %v", decodedEmpty.Shape(), tc.emptyShape)
			}

			// dtypes outside the declared set are rejected
			if tc.unsupported != tc.input.Dtype() && tc.name != "swizzlereshape" {
				if _, err := codec.Encode(ctx, numcodecs.Zeros(tc.unsupported, []int{2})); err == nil {
					t.Fatalf("expected rejection of dtype %s", tc.unsupported)
				}
			}
		})
	}
}
