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
	"encoding/json"
	"fmt"

	"golang.org/x/exp/slices"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// guestCodecType adapts one guest codec class into a numcodecs.CodecType.
type guestCodecType struct {
	inst   *Instance
	id     string
	schema map[string]any
}

var _ numcodecs.CodecType = (*guestCodecType)(nil)

func (t *guestCodecType) ID() string { return t.id }

func (t *guestCodecType) ConfigSchema() map[string]any { return t.schema }

// FromConfig serializes cfg to JSON, hands it to the guest's constructor,
// and wraps the returned resource handle. Duplicating a codec is only
// possible by calling FromConfig again: handles are never shared.
func (t *guestCodecType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	cfgJSON, err := json.Marshal(map[string]any(cfg))
	if err != nil {
		return nil, &RuntimeError{Op: exportFromConfig, Cause: err}
	}

	ctx := context.Background()
	inst := t.inst
	inst.mu.Lock()
	defer inst.mu.Unlock()

	fn := inst.guest.ExportedFunction(exportFromConfig)
	if fn == nil {
		return nil, &RuntimeError{Op: exportFromConfig, Cause: fmt.Errorf("guest exports no %q", exportFromConfig)}
	}
	ptr, length, err := inst.memory.writeString(ctx, string(cfgJSON))
	if err != nil {
		return nil, err
	}
	res, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return nil, &RuntimeError{Op: exportFromConfig, Cause: err}
	}
	retptr := uint32(res[0])
	disc, err := inst.memory.readU32(retptr)
	if err != nil {
		return nil, err
	}
	if disc != resultOK {
		guestErr, err := inst.memory.liftError(retptr + 4)
		if err != nil {
			return nil, err
		}
		return nil, guestErr
	}
	handle, err := inst.memory.readU32(retptr + 4)
	if err != nil {
		return nil, err
	}
	return &guestCodec{typ: t, handle: handle}, nil
}

// guestCodec is one guest-allocated codec resource. The host-side wrapper
// is the handle's only owner: closing the wrapper drops the handle, and
// cloning requires round-tripping through the config. Calls serialize on
// the owning Instance's lock, so a codec never observably interleaves
// with another call on the same component.
type guestCodec struct {
	typ          *guestCodecType
	handle       uint32
	instructions uint64
	closed       bool
}

var _ numcodecs.Codec = (*guestCodec)(nil)
var _ numcodecs.ConfigProvider = (*guestCodec)(nil)

// invokeLocked runs one guest codec method, reading the instruction
// counter around the call and accumulating the delta. The caller holds
// the instance lock. A trap closes the codec: the guest's memory can no
// longer be trusted, so the failure is terminal and a caller recovers by
// constructing a fresh codec from config.
func (c *guestCodec) invokeLocked(ctx context.Context, name string, args []uint64) (uint32, error) {
	inst := c.typ.inst
	if c.closed {
		return 0, &RuntimeError{Op: name, Cause: fmt.Errorf("codec is closed")}
	}
	fn := inst.guest.ExportedFunction(name)
	if fn == nil {
		return 0, &RuntimeError{Op: name, Cause: fmt.Errorf("guest exports no %q", name)}
	}
	before := inst.counter.Get()
	res, err := fn.Call(ctx, args...)
	after := inst.counter.Get()
	c.instructions += after - before
	if err != nil {
		c.closed = true
		return 0, &RuntimeError{Op: name, Cause: err}
	}
	if len(res) != 1 {
		c.closed = true
		return 0, &RuntimeError{Op: name, Cause: fmt.Errorf("expected one result, got %d", len(res))}
	}
	return uint32(res[0]), nil
}

// liftArrayResultLocked decodes a result<any-array, error> return area.
func (c *guestCodec) liftArrayResultLocked(retptr uint32) (numcodecs.Array, error) {
	mem := c.typ.inst.memory
	disc, err := mem.readU32(retptr)
	if err != nil {
		return numcodecs.Array{}, err
	}
	if disc != resultOK {
		guestErr, err := mem.liftError(retptr + 4)
		if err != nil {
			return numcodecs.Array{}, err
		}
		return numcodecs.Array{}, guestErr
	}
	w, err := mem.liftArray(retptr + 4)
	if err != nil {
		return numcodecs.Array{}, err
	}
	return arrayFromWire(w)
}

// arrayCall marshals data (and, for decode-into, out's dtype and shape
// as the prototype) into the guest, invokes the named method, and lifts
// the resulting array back out. The whole round trip runs under the
// instance lock.
func (c *guestCodec) arrayCall(ctx context.Context, name string, data numcodecs.Array, proto *numcodecs.Array) (numcodecs.Array, error) {
	w, err := wireFromArray(data)
	if err != nil {
		return numcodecs.Array{}, err
	}

	inst := c.typ.inst
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if c.closed {
		return numcodecs.Array{}, &RuntimeError{Op: name, Cause: fmt.Errorf("codec is closed")}
	}
	lowered, err := inst.memory.lowerArray(ctx, w)
	if err != nil {
		return numcodecs.Array{}, err
	}
	args := append([]uint64{uint64(c.handle)}, lowered...)
	if proto != nil {
		protoShape := proto.Shape()
		shapeBytes := make([]byte, len(protoShape)*4)
		for i, d := range protoShape {
			if d < 0 || uint64(d) > 0xFFFFFFFF {
				return numcodecs.Array{}, &RuntimeError{Op: name, Cause: fmt.Errorf("prototype shape dimension %d does not fit u32", d)}
			}
			binary.LittleEndian.PutUint32(shapeBytes[i*4:], uint32(d))
		}
		shapePtr, _, err := inst.memory.writeBytes(ctx, shapeBytes, 4)
		if err != nil {
			return numcodecs.Array{}, err
		}
		args = append(args, uint64(proto.Dtype()), uint64(shapePtr), uint64(len(protoShape)))
	}

	retptr, err := c.invokeLocked(ctx, name, args)
	if err != nil {
		return numcodecs.Array{}, err
	}
	return c.liftArrayResultLocked(retptr)
}

// Encode transforms data in the guest, marshalling the array by copy in
// both directions; no pointer is ever shared across the boundary.
func (c *guestCodec) Encode(ctx context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	return c.arrayCall(ctx, exportEncode, data, nil)
}

// Decode is Encode's inverse in the guest.
func (c *guestCodec) Decode(ctx context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	return c.arrayCall(ctx, exportDecode, data, nil)
}

// DecodeInto decodes in the guest against out's dtype and shape as the
// prototype, then copies the guest's result into out.
func (c *guestCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
	decoded, err := c.arrayCall(ctx, exportDecodeInto, data, &out)
	if err != nil {
		return err
	}
	if decoded.Dtype() != out.Dtype() || !slices.Equal(decoded.Shape(), out.Shape()) {
		return &numcodecs.MismatchedDecodeIntoError{
			ExpectedDtype: decoded.Dtype(), ActualDtype: out.Dtype(),
			ExpectedShape: decoded.Shape(), ActualShape: out.Shape(),
		}
	}
	return out.Assign(decoded)
}

// Config returns the guest codec's current configuration, parsed from
// the JSON string the guest serializes without its id.
func (c *guestCodec) Config() (numcodecs.Config, error) {
	ctx := context.Background()
	inst := c.typ.inst
	inst.mu.Lock()
	defer inst.mu.Unlock()

	retptr, err := c.invokeLocked(ctx, exportGetConfig, []uint64{uint64(c.handle)})
	if err != nil {
		return nil, err
	}
	mem := inst.memory
	disc, err := mem.readU32(retptr)
	if err != nil {
		return nil, err
	}
	if disc != resultOK {
		guestErr, err := mem.liftError(retptr + 4)
		if err != nil {
			return nil, err
		}
		return nil, guestErr
	}
	cfgJSON, err := mem.readString(retptr + 4)
	if err != nil {
		return nil, err
	}
	var cfg numcodecs.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, &RuntimeError{Op: exportGetConfig, Cause: fmt.Errorf("guest config is not valid JSON: %w", err)}
	}
	return cfg, nil
}

// InstructionCounter returns the monotonic count of guest instructions
// this codec has executed across all of its calls, a deterministic,
// platform-independent measure of guest work.
func (c *guestCodec) InstructionCounter() uint64 {
	inst := c.typ.inst
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return c.instructions
}

// Close drops the guest's resource handle. Further calls fail with a
// RuntimeError. Closing twice is a no-op.
func (c *guestCodec) Close(ctx context.Context) error {
	inst := c.typ.inst
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	fn := inst.guest.ExportedFunction(exportDrop)
	if fn == nil {
		return nil
	}
	if _, err := fn.Call(ctx, uint64(c.handle)); err != nil {
		return &RuntimeError{Op: exportDrop, Cause: err}
	}
	return nil
}

