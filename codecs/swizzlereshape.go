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
	"fmt"

	"golang.org/x/exp/slices"

	numcodecs "github.com/juntyr/numcodecs-go"
)

// SwizzleReshapeTypeID is the stable registry id for the swizzlereshape
// codec.
const SwizzleReshapeTypeID = "numcodecs.swizzlereshape"

// CannotDecodeMergedAxesError reports that Decode was called on an array
// whose encoding merged several input axes into one: the original extents
// are not stored in the encoded array, so the split is only possible via
// DecodeInto with an output array of the original shape.
type CannotDecodeMergedAxesError struct{}

func (e *CannotDecodeMergedAxesError) Error() string {
	return "numcodecs: swizzlereshape cannot decode an array with merged axes without an output array to decode into"
}

// SwizzleReshapeType is the CodecType for SwizzleReshapeCodec: a
// lossless rearrangement of an array's element layout by axis
// permutation and merging.
type SwizzleReshapeType struct{}

var _ numcodecs.CodecType = SwizzleReshapeType{}

func (SwizzleReshapeType) ID() string { return SwizzleReshapeTypeID }

func (SwizzleReshapeType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"axes"},
		"properties": map[string]any{
			"axes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "integer", "minimum": 0},
				},
			},
		},
	}
}

func (SwizzleReshapeType) FromConfig(cfg numcodecs.Config) (numcodecs.Codec, error) {
	raw, ok := cfg["axes"].([]any)
	if !ok {
		return nil, &numcodecs.ConfigError{Codec: SwizzleReshapeTypeID, Path: "/axes", Message: "must be an array of axis groups"}
	}
	axes := make([][]int, len(raw))
	for i, g := range raw {
		group, ok := g.([]any)
		if !ok {
			return nil, &numcodecs.ConfigError{Codec: SwizzleReshapeTypeID, Path: fmt.Sprintf("/axes/%d", i), Message: "axis group must be an array of integers"}
		}
		axes[i] = make([]int, len(group))
		for j, v := range group {
			f, ok := configFloat(v)
			if !ok || f != float64(int(f)) || f < 0 {
				return nil, &numcodecs.ConfigError{Codec: SwizzleReshapeTypeID, Path: fmt.Sprintf("/axes/%d/%d", i, j), Message: "axis must be a non-negative integer"}
			}
			axes[i][j] = int(f)
		}
	}
	return &SwizzleReshapeCodec{Axes: axes}, nil
}

// SwizzleReshapeCodec permutes and regroups an array's axes: Axes is a
// list of axis groups, where each group becomes one output axis whose
// extent is the product of its members' extents. [[0],[1,2]] flattens a
// three-dimensional array into two dimensions by combining the second and
// third axes; [[1],[0]] is a plain transpose. The codec stores no
// metadata about the original shape, so decoding an array whose encoding
// merged axes requires DecodeInto with an original-shape output array.
type SwizzleReshapeCodec struct {
	Axes [][]int
}

var _ numcodecs.Codec = (*SwizzleReshapeCodec)(nil)
var _ numcodecs.ConfigProvider = (*SwizzleReshapeCodec)(nil)

func (c *SwizzleReshapeCodec) Config() (numcodecs.Config, error) {
	axes := make([]any, len(c.Axes))
	for i, group := range c.Axes {
		g := make([]any, len(group))
		for j, a := range group {
			g[j] = a
		}
		axes[i] = g
	}
	return numcodecs.Config{"axes": axes}, nil
}

// validateAxes checks that Axes mentions every axis of an ndim-dimensional
// array exactly once and returns the flattened axis permutation.
func (c *SwizzleReshapeCodec) validateAxes(ndim int) ([]int, error) {
	perm := make([]int, 0, ndim)
	seen := make([]bool, ndim)
	for _, group := range c.Axes {
		for _, a := range group {
			if a >= ndim {
				return nil, &numcodecs.CodingFailureError{Codec: SwizzleReshapeTypeID, Cause: fmt.Errorf("axis %d is out of bounds for an array with %d dimensions", a, ndim)}
			}
			if seen[a] {
				return nil, &numcodecs.CodingFailureError{Codec: SwizzleReshapeTypeID, Cause: fmt.Errorf("axis %d appears more than once", a)}
			}
			seen[a] = true
			perm = append(perm, a)
		}
	}
	if len(perm) != ndim {
		return nil, &numcodecs.CodingFailureError{Codec: SwizzleReshapeTypeID, Cause: fmt.Errorf("axes %v is not a permutation of an array with %d dimensions", c.Axes, ndim)}
	}
	return perm, nil
}

// encodedShape computes the output shape for an input of the given shape:
// one axis per group, each the product of its members' extents.
func (c *SwizzleReshapeCodec) encodedShape(shape []int) []int {
	out := make([]int, len(c.Axes))
	for i, group := range c.Axes {
		extent := 1
		for _, a := range group {
			extent *= shape[a]
		}
		out[i] = extent
	}
	return out
}

func (c *SwizzleReshapeCodec) hasMergedAxes() bool {
	for _, group := range c.Axes {
		if len(group) != 1 {
			return true
		}
	}
	return false
}

func (c *SwizzleReshapeCodec) Encode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	perm, err := c.validateAxes(len(data.Shape()))
	if err != nil {
		return numcodecs.Array{}, err
	}
	// permuting into the flattened axis order makes the bytes row-major
	// contiguous in the grouped shape; the merge itself is then free
	permuted, _ := permuteBytes(data.Dtype(), data.AsBytes(), data.Shape(), perm)
	out, _ := numcodecs.WithZerosBytes(data.Dtype(), c.encodedShape(data.Shape()), func(dst []byte) struct{} {
		copy(dst, permuted)
		return struct{}{}
	})
	return out, nil
}

func (c *SwizzleReshapeCodec) Decode(_ context.Context, data numcodecs.Array) (numcodecs.Array, error) {
	if c.hasMergedAxes() {
		return numcodecs.Array{}, &CannotDecodeMergedAxesError{}
	}
	perm, err := c.validateAxes(len(data.Shape()))
	if err != nil {
		return numcodecs.Array{}, err
	}
	inv := inversePermutation(perm)
	decoded, shape := permuteBytes(data.Dtype(), data.AsBytes(), data.Shape(), inv)
	out, _ := numcodecs.WithZerosBytes(data.Dtype(), shape, func(dst []byte) struct{} {
		copy(dst, decoded)
		return struct{}{}
	})
	return out, nil
}

func (c *SwizzleReshapeCodec) DecodeInto(ctx context.Context, data numcodecs.Array, out numcodecs.Array) error {
	if out.Dtype() != data.Dtype() {
		return &numcodecs.MismatchedDecodeIntoError{
			ExpectedDtype: data.Dtype(), ActualDtype: out.Dtype(),
			ExpectedShape: data.Shape(), ActualShape: out.Shape(),
		}
	}
	perm, err := c.validateAxes(len(out.Shape()))
	if err != nil {
		return err
	}
	wantShape := c.encodedShape(out.Shape())
	if !slices.Equal(data.Shape(), wantShape) {
		return &numcodecs.MismatchedDecodeIntoError{
			ExpectedDtype: data.Dtype(), ActualDtype: out.Dtype(),
			ExpectedShape: wantShape, ActualShape: data.Shape(),
		}
	}
	// the encoded bytes are row-major in the permuted (pre-merge) shape of
	// the output array; splitting the merged axes back apart is a reshape
	// that costs nothing, so only the inverse permutation moves bytes
	permShape := make([]int, len(perm))
	for i, a := range perm {
		permShape[i] = out.Shape()[a]
	}
	inv := inversePermutation(perm)
	decoded, _ := permuteBytes(out.Dtype(), data.AsBytes(), permShape, inv)
	return out.WithBytesMut(func(dst []byte) {
		copy(dst, decoded)
	})
}

// inversePermutation returns the permutation that undoes perm.
func inversePermutation(perm []int) []int {
	inv := make([]int, len(perm))
	for i, a := range perm {
		inv[a] = i
	}
	return inv
}

// permuteBytes rearranges src (row-major in srcShape) so that output axis
// i is source axis axes[i], returning the rearranged bytes and the
// permuted shape.
func permuteBytes(dtype numcodecs.Dtype, src []byte, srcShape []int, axes []int) ([]byte, []int) {
	outShape := make([]int, len(axes))
	for i, a := range axes {
		outShape[i] = srcShape[a]
	}
	size := dtype.Size()
	srcStrides := rowMajorStridesOf(srcShape)
	n := product(outShape)
	dst := make([]byte, n*size)
	if n == 0 {
		return dst, outShape
	}
	outIdx := make([]int, len(outShape))
	for linear := 0; linear < n; linear++ {
		srcOffset := 0
		for i, a := range axes {
			srcOffset += outIdx[i] * srcStrides[a]
		}
		copy(dst[linear*size:(linear+1)*size], src[srcOffset*size:(srcOffset+1)*size])
		for d := len(outShape) - 1; d >= 0; d-- {
			outIdx[d]++
			if outIdx[d] < outShape[d] {
				break
			}
			outIdx[d] = 0
		}
	}
	return dst, outShape
}

func rowMajorStridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
