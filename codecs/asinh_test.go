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
	"testing"

	numcodecs "github.com/juntyr/numcodecs-go"
)

func testArrayF64(t *testing.T, vs []float64) numcodecs.Array {
	t.Helper()
	arr, _ := numcodecs.WithZerosBytes(numcodecs.F64, []int{len(vs)}, func(b []byte) struct{} {
		enc, err := bytesFromFloats(numcodecs.F64, vs)
		if err != nil {
			t.Fatalf("bytesFromFloats: %s", err)
		}
		copy(b, enc)
		return struct{}{}
	})
	return arr
}

func testBoundedRoundTrip(t *testing.T, codec numcodecs.Codec, data numcodecs.Array, tol float64) {
	t.Helper()
	encoded, err := codec.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	decoded, err := codec.Decode(context.Background(), encoded)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}
	want, err := floatsFromBytes(data.Dtype(), data.AsBytes())
	if err != nil {
		t.Fatalf("floatsFromBytes(want): %s", err)
	}
	got, err := floatsFromBytes(decoded.Dtype(), decoded.AsBytes())
	if err != nil {
		t.Fatalf("floatsFromBytes(got): %s", err)
	}
	if len(want) != len(got) {
		t.Fatalf("length mismatch: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			t.Errorf("index %d: want %v got %v (diff %v > tol %v)", i, want[i], got[i], math.Abs(want[i]-got[i]), tol)
		}
	}
}

func TestAsinhRoundTrip(t *testing.T) {
	codec, err := AsinhType{}.FromConfig(numcodecs.Config{"linear_width": 1.0})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := testArrayF64(t, []float64{-1000, -1, -0.001, 0, 0.001, 1, 1000})
	testBoundedRoundTrip(t, codec, data, 1e-9)
}

func TestAsinhEncodeMatchesMathAsinh(t *testing.T) {
	codec, err := AsinhType{}.FromConfig(numcodecs.Config{"linear_width": 1.0})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	vals := []float64{-1000, -1, 0, 0.5, 999}
	data := testArrayF64(t, vals)
	encoded, err := codec.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	got, err := floatsFromBytes(numcodecs.F64, encoded.AsBytes())
	if err != nil {
		t.Fatalf("floatsFromBytes: %s", err)
	}
	for i, v := range vals {
		if want := math.Asinh(v); got[i] != want {
			t.Errorf("encode(%v) = %v, want asinh bitwise %v", v, got[i], want)
		}
	}
}

func TestAsinhRejectsNonFinite(t *testing.T) {
	codec, err := AsinhType{}.FromConfig(numcodecs.Config{"linear_width": 1.0})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := testArrayF64(t, []float64{0, math.NaN()})
	if _, err := codec.Encode(context.Background(), data); err == nil {
		t.Fatal("expected error encoding NaN")
	} else if _, ok := err.(*numcodecs.NonFiniteDataError); !ok {
		t.Fatalf("expected *NonFiniteDataError, got %T: %s", err, err)
	}
}

func TestAsinhRejectsUnsupportedDtype(t *testing.T) {
	codec, err := AsinhType{}.FromConfig(numcodecs.Config{"linear_width": 1.0})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	data := numcodecs.Zeros(numcodecs.I32, []int{4})
	if _, err := codec.Encode(context.Background(), data); err == nil {
		t.Fatal("expected error encoding integer dtype")
	} else if _, ok := err.(*numcodecs.UnsupportedDtypeError); !ok {
		t.Fatalf("expected *UnsupportedDtypeError, got %T: %s", err, err)
	}
}

func TestAsinhConfigRoundTrip(t *testing.T) {
	codec, err := AsinhType{}.FromConfig(numcodecs.Config{"linear_width": 2.5})
	if err != nil {
		t.Fatalf("FromConfig: %s", err)
	}
	cfg, err := numcodecs.SerializeCodecConfigWithID(codec, AsinhTypeID)
	if err != nil {
		t.Fatalf("SerializeCodecConfigWithID: %s", err)
	}
	if cfg["id"] != AsinhTypeID {
		t.Errorf("id = %v, want %v", cfg["id"], AsinhTypeID)
	}
	if cfg["linear_width"] != 2.5 {
		t.Errorf("linear_width = %v, want 2.5", cfg["linear_width"])
	}
}
