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
	"testing"

	numcodecs "github.com/juntyr/numcodecs-go"
)

func TestLinearQuantizeBoundedError(t *testing.T) {
	codec, err := LinearQuantizeType{}.FromConfig(numcodecs.Config{
		"dtype": "f64", "bits": float64(8), "min": 0.0, "max": 10.0,
	})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := testArrayF64(t, []float64{0, 2.5, 5, 7.5, 10})
	step := 10.0 / 255.0
	testBoundedRoundTrip(t, codec, data, step/2+1e-9)
}

func TestLinearQuantizeClampsOutOfRange(t *testing.T) {
	codec, err := LinearQuantizeType{}.FromConfig(numcodecs.Config{
		"dtype": "f64", "bits": float64(8), "min": 0.0, "max": 10.0,
	})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := testArrayF64(t, []float64{-5, 15})
	encoded, err := codec.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	decoded, err := codec.Decode(context.Background(), encoded)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	got, err := floatsFromBytes(numcodecs.F64, decoded.AsBytes())
	if err != nil {
		t.Fatalf("floatsFromBytes: %s", err)
	}
	// out-of-range inputs land on the clamped range ends, not wrap
	if got[0] != 0 || got[1] != 10 {
		t.Fatalf("clamped decode = %v, want [0 10]", got)
	}
}

func TestLinearQuantizeExactOnIntegerGrid(t *testing.T) {
	codec, err := LinearQuantizeType{}.FromConfig(numcodecs.Config{
		"dtype": "f32", "bits": float64(8), "min": 0.0, "max": 255.0,
	})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	vals := make([]float64, 256)
	for i := range vals {
		vals[i] = float64(i)
	}
	raw, err := bytesFromFloats(numcodecs.F32, vals)
	if err != nil {
		t.Fatalf("bytesFromFloats: %s", err)
	}
	data, _ := numcodecs.WithZerosBytes(numcodecs.F32, []int{256}, func(b []byte) struct{} {
		copy(b, raw)
		return struct{}{}
	})
	encoded, err := codec.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	if encoded.Dtype() != numcodecs.U8 {
		t.Fatalf("encoded dtype = %s, want u8", encoded.Dtype())
	}
	for i, b := range encoded.AsBytes() {
		if b != byte(i) {
			t.Fatalf("code[%d] = %d, want %d", i, b, i)
		}
	}
	decoded, err := codec.Decode(context.Background(), encoded)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	if string(decoded.AsBytes()) != string(data.AsBytes()) {
		t.Fatal("an integer grid spanning the full range must round trip bitwise")
	}
}

func TestLinearQuantizeRejectsWrongConfigDtype(t *testing.T) {
	codec, err := LinearQuantizeType{}.FromConfig(numcodecs.Config{
		"dtype": "f64", "bits": float64(8), "min": 0.0, "max": 10.0,
	})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := numcodecs.Zeros(numcodecs.F32, []int{4})
	if _, err := codec.Encode(context.Background(), data); err == nil {
		t.Fatal("expected error")
	}
}
