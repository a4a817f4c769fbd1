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
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/cm"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// The guest speaks the canonical-ABI lowering of the codec world: every
// list or string argument is a (ptr, len) pair in guest memory allocated
// through cabi_realloc, and every result is a pointer to a return area
// the guest allocates. The any-array record lowers to
//
//	[dtype u32][data ptr u32][data len u32][shape ptr u32][shape len u32]
//
// and a result<T, error> to a u32 discriminant (0 ok, 1 err) followed by
// the payload. The error record lowers to
//
//	[message ptr][message len][chain ptr][chain len]
//
// with the chain a sequence of (ptr, len) string pairs.
const (
	reallocExport = "cabi_realloc"
	memoryExport  = "memory"

	resultOK  = 0
	resultErr = 1
)

// wireArray is the host-side staging form of the any-array record, the
// component-model value the guest's codec methods exchange.
type wireArray struct {
	dtype numcodecs.Dtype
	data  cm.List[byte]
	shape cm.List[uint32]
}

// wireFromArray converts a dynamic array into its wire record, copying
// into standard row-major order if necessary. Shape components exceeding
// the wire format's u32 range fail rather than truncate.
func wireFromArray(a numcodecs.Array) (wireArray, error) {
	shape := a.Shape()
	shapeU32 := make([]uint32, len(shape))
	for i, d := range shape {
		if d < 0 || uint64(d) > math.MaxUint32 {
			return wireArray{}, &RuntimeError{Op: "array marshalling", Cause: fmt.Errorf("shape dimension %d does not fit u32", d)}
		}
		shapeU32[i] = uint32(d)
	}
	return wireArray{
		dtype: a.Dtype(),
		data:  cm.ToList(a.AsBytes()),
		shape: cm.ToList(shapeU32),
	}, nil
}

// arrayFromWire reconstructs a dynamic array from a guest-returned wire
// record, validating that the payload length agrees with dtype and shape.
func arrayFromWire(w wireArray) (numcodecs.Array, error) {
	if !w.dtype.Valid() {
		return numcodecs.Array{}, &RuntimeError{Op: "array unmarshalling", Cause: fmt.Errorf("invalid dtype tag %d", w.dtype)}
	}
	shape := make([]int, w.shape.Len())
	elems := 1
	for i, d := range w.shape.Slice() {
		shape[i] = int(d)
		elems *= int(d)
	}
	data := w.data.Slice()
	if len(data) != elems*w.dtype.Size() {
		return numcodecs.Array{}, &RuntimeError{
			Op:    "array unmarshalling",
			Cause: fmt.Errorf("payload is %d bytes, dtype %s shape %v requires %d", len(data), w.dtype, shape, elems*w.dtype.Size()),
		}
	}
	out, _ := numcodecs.WithZerosBytes(w.dtype, shape, func(dst []byte) struct{} {
		copy(dst, data)
		return struct{}{}
	})
	return out, nil
}

// guestMemory bundles the guest's exported linear memory and allocator.
type guestMemory struct {
	mem     api.Memory
	realloc api.Function
}

func newGuestMemory(mod api.Module) (*guestMemory, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, &RuntimeError{Op: "instantiation", Cause: fmt.Errorf("guest exports no %q", memoryExport)}
	}
	realloc := mod.ExportedFunction(reallocExport)
	if realloc == nil {
		return nil, &RuntimeError{Op: "instantiation", Cause: fmt.Errorf("guest exports no %q", reallocExport)}
	}
	return &guestMemory{mem: mem, realloc: realloc}, nil
}

// alloc obtains size bytes from the guest's allocator. Ownership of the
// allocation passes to the guest with the call that receives it, per the
// canonical ABI.
func (g *guestMemory) alloc(ctx context.Context, size, align uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	res, err := g.realloc.Call(ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, &RuntimeError{Op: "guest allocation", Cause: err}
	}
	return uint32(res[0]), nil
}

// writeBytes copies b into fresh guest memory and returns its (ptr, len).
func (g *guestMemory) writeBytes(ctx context.Context, b []byte, align uint32) (uint32, uint32, error) {
	ptr, err := g.alloc(ctx, uint32(len(b)), align)
	if err != nil {
		return 0, 0, err
	}
	if len(b) > 0 && !g.mem.Write(ptr, b) {
		return 0, 0, &RuntimeError{Op: "guest memory write", Cause: fmt.Errorf("%d bytes at 0x%x out of range", len(b), ptr)}
	}
	return ptr, uint32(len(b)), nil
}

// writeString lowers a host string into guest memory.
func (g *guestMemory) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	return g.writeBytes(ctx, []byte(s), 1)
}

// lowerArray lowers a wire record's lists into guest memory, returning
// the five scalar arguments the codec methods take: dtype, data ptr/len,
// shape ptr/len.
func (g *guestMemory) lowerArray(ctx context.Context, w wireArray) ([]uint64, error) {
	dataPtr, dataLen, err := g.writeBytes(ctx, w.data.Slice(), 8)
	if err != nil {
		return nil, err
	}
	shape := w.shape.Slice()
	shapeBytes := make([]byte, len(shape)*4)
	for i, d := range shape {
		binary.LittleEndian.PutUint32(shapeBytes[i*4:], d)
	}
	shapePtr, _, err := g.writeBytes(ctx, shapeBytes, 4)
	if err != nil {
		return nil, err
	}
	return []uint64{
		uint64(w.dtype),
		uint64(dataPtr), uint64(dataLen),
		uint64(shapePtr), uint64(len(shape)),
	}, nil
}

// readU32 reads one little-endian u32 from guest memory.
func (g *guestMemory) readU32(ptr uint32) (uint32, error) {
	v, ok := g.mem.ReadUint32Le(ptr)
	if !ok {
		return 0, &RuntimeError{Op: "guest memory read", Cause: fmt.Errorf("u32 at 0x%x out of range", ptr)}
	}
	return v, nil
}

// readBytes copies (ptr, len) out of guest memory.
func (g *guestMemory) readBytes(ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	b, ok := g.mem.Read(ptr, length)
	if !ok {
		return nil, &RuntimeError{Op: "guest memory read", Cause: fmt.Errorf("%d bytes at 0x%x out of range", length, ptr)}
	}
	return append([]byte(nil), b...), nil
}

// readString lifts a (ptr, len) string pair at the given address.
func (g *guestMemory) readString(at uint32) (string, error) {
	ptr, err := g.readU32(at)
	if err != nil {
		return "", err
	}
	length, err := g.readU32(at + 4)
	if err != nil {
		return "", err
	}
	b, err := g.readBytes(ptr, length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// liftArray lifts an any-array record laid out at the given address.
func (g *guestMemory) liftArray(at uint32) (wireArray, error) {
	var fields [5]uint32
	for i := range fields {
		v, err := g.readU32(at + uint32(i)*4)
		if err != nil {
			return wireArray{}, err
		}
		fields[i] = v
	}
	data, err := g.readBytes(fields[1], fields[2])
	if err != nil {
		return wireArray{}, err
	}
	shapeBytes, err := g.readBytes(fields[3], fields[4]*4)
	if err != nil {
		return wireArray{}, err
	}
	shape := make([]uint32, fields[4])
	for i := range shape {
		shape[i] = binary.LittleEndian.Uint32(shapeBytes[i*4:])
	}
	return wireArray{
		dtype: numcodecs.Dtype(fields[0]),
		data:  cm.ToList(data),
		shape: cm.ToList(shape),
	}, nil
}

// liftError lifts the guest's error record at the given address into a
// GuestError.
func (g *guestMemory) liftError(at uint32) (*GuestError, error) {
	message, err := g.readString(at)
	if err != nil {
		return nil, err
	}
	chainPtr, err := g.readU32(at + 8)
	if err != nil {
		return nil, err
	}
	chainLen, err := g.readU32(at + 12)
	if err != nil {
		return nil, err
	}
	chain := make([]string, chainLen)
	for i := range chain {
		chain[i], err = g.readString(chainPtr + uint32(i)*8)
		if err != nil {
			return nil, err
		}
	}
	return &GuestError{Message: message, Chain: chain}, nil
}
