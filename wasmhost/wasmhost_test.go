// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package wasmhost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	numcodecs "github.com/juntyr/numcodecs-go"
)

func TestWireArrayRoundTrip(t *testing.T) {
	data, _ := numcodecs.WithZerosBytes(numcodecs.F32, []int{2, 3}, func(b []byte) struct{} {
		for i := range b {
			b[i] = byte(i * 3)
		}
		return struct{}{}
	})
	w, err := wireFromArray(data)
	require.NoError(t, err)
	require.Equal(t, numcodecs.F32, w.dtype)
	require.Equal(t, []uint32{2, 3}, w.shape.Slice())
	require.Equal(t, data.AsBytes(), w.data.Slice())

	back, err := arrayFromWire(w)
	require.NoError(t, err)
	require.Equal(t, data.Dtype(), back.Dtype())
	require.Equal(t, data.Shape(), back.Shape())
	require.Equal(t, data.AsBytes(), back.AsBytes())
}

func TestWireArrayEmpty(t *testing.T) {
	data := numcodecs.Zeros(numcodecs.U16, []int{0, 4})
	w, err := wireFromArray(data)
	require.NoError(t, err)
	back, err := arrayFromWire(w)
	require.NoError(t, err)
	require.True(t, back.IsEmpty())
	require.Equal(t, []int{0, 4}, back.Shape())
}

func TestWireFromArrayRejectsOversizedShape(t *testing.T) {
	if uint64(^uint(0)) <= 0xFFFFFFFF {
		t.Skip("shape dimensions cannot exceed u32 on a 32-bit platform")
	}
	// a zero total element count keeps this allocation-free
	data := numcodecs.Zeros(numcodecs.U8, []int{1 << 33, 0})
	_, err := wireFromArray(data)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
}

func TestArrayFromWireRejectsLengthMismatch(t *testing.T) {
	data := numcodecs.Zeros(numcodecs.F64, []int{2})
	w, err := wireFromArray(data)
	require.NoError(t, err)
	w.dtype = numcodecs.F32 // 16 payload bytes no longer match 2 * 4
	_, err = arrayFromWire(w)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
}

func TestGuestErrorRendersCauseChain(t *testing.T) {
	err := &GuestError{Message: "encode failed", Chain: []string{"quantizer overflow", "value 1e300"}}
	require.Contains(t, err.Error(), "encode failed")
	require.Contains(t, err.Error(), "quantizer overflow: value 1e300")
}

func TestRuntimeErrorUnwraps(t *testing.T) {
	cause := errors.New("trap: out of bounds memory access")
	err := &RuntimeError{Op: "codec.encode", Cause: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "codec.encode")
}

func TestPerfModuleProvidesCounterGlobal(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.InstantiateWithConfig(ctx, perfModuleBytes("instruction-counter"),
		wazero.NewModuleConfig().WithName("numcodecs:wasm/perf"))
	require.NoError(t, err)
	g := mod.ExportedGlobal("instruction-counter")
	require.NotNil(t, g)
	require.Equal(t, uint64(0), g.Get())
}

func TestLogLevelNames(t *testing.T) {
	require.Equal(t, "trace", LevelTrace.String())
	require.Equal(t, "critical", LevelCritical.String())
	require.Equal(t, "unknown", LogLevel(99).String())
}
