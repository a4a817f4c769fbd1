// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package numcodecs

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// storageKind tags which of the four storage forms an Array currently
// uses.
//
// Go has no borrow checker, so the owned/shared/view/view-mut split is
// realized as one struct parametrized by this tag rather than four
// separate concrete types; the cell a view points at is kept alive by
// the garbage collector for exactly as long as any Array referencing it
// exists, which is what stands in for the rule that views never outlive
// their backing storage.
type storageKind uint8

const (
	kindOwned storageKind = iota
	kindShared
	kindView
	kindViewMut
)

// cell is the refcounted backing allocation shared by copy-on-write arrays.
type cell struct {
	bytes []byte
	refs  int32 // atomic; only meaningful while kind == kindShared
}

func newCell(b []byte) *cell {
	return &cell{bytes: b, refs: 1}
}

// Array is a tagged, dtype-erased n-dimensional array over a closed set
// of numeric element types. The zero Array is not valid; construct one
// with Zeros or via a Codec's Encode/Decode.
type Array struct {
	dtype   Dtype
	shape   []int
	strides []int // element strides, not byte strides
	kind    storageKind
	cell    *cell
	offset  int // element offset of index (0,...,0) into cell.bytes
}

func rowMajorStrides(shape []int) []int {
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

// Zeros creates an owned, zero-initialized, contiguous row-major array of
// the given dtype and shape. A shape containing a 0 dimension is legal and
// produces an empty array.
func Zeros(dtype Dtype, shape []int) Array {
	shapeCopy := append([]int(nil), shape...)
	n := product(shapeCopy)
	return Array{
		dtype:   dtype,
		shape:   shapeCopy,
		strides: rowMajorStrides(shapeCopy),
		kind:    kindOwned,
		cell:    newCell(make([]byte, n*dtype.Size())),
	}
}

// WithZerosBytes constructs an owned, contiguous array of dtype and shape
// like Zeros, additionally exposing its raw bytes to an initializer before
// returning.
func WithZerosBytes[T any](dtype Dtype, shape []int, with func([]byte) T) (Array, T) {
	a := Zeros(dtype, shape)
	out := with(a.cell.bytes)
	return a, out
}

// Dtype returns the array's element type. O(1), no allocation.
func (a Array) Dtype() Dtype { return a.dtype }

// Shape returns the array's shape. Callers must not mutate the result.
func (a Array) Shape() []int { return a.shape }

// Strides returns the array's strides in elements (not bytes). Callers must
// not mutate the result.
func (a Array) Strides() []int { return a.strides }

// Len returns the total element count, product(shape).
func (a Array) Len() int { return product(a.shape) }

// IsEmpty reports whether the array has zero elements.
func (a Array) IsEmpty() bool { return a.Len() == 0 }

func (a Array) isContiguousRowMajor() bool {
	want := rowMajorStrides(a.shape)
	if len(want) != len(a.strides) {
		return false
	}
	for i := range want {
		// a dimension of size 1 (or 0) makes its stride unobservable
		if a.shape[i] > 1 && want[i] != a.strides[i] {
			return false
		}
	}
	return true
}

// View returns a read-only view over the array's current storage, valid for
// any of the four storage forms.
func (a Array) View() Array {
	v := a
	v.kind = kindView
	return v
}

// ViewMut returns a read-write view over the array's storage. It fails if
// the receiver is a plain read-only View, since that form never owns
// write access to its backing memory. A Shared array is materialized
// (copied) first if more than one handle currently shares its cell.
func (a Array) ViewMut() (Array, error) {
	switch a.kind {
	case kindView:
		return Array{}, fmt.Errorf("numcodecs: cannot take a mutable view of a read-only view")
	case kindShared:
		a = a.materializeIfShared()
	}
	v := a
	v.kind = kindViewMut
	return v, nil
}

// materializeIfShared clones the backing bytes if more than one handle
// shares them, implementing copy-on-write semantics for Shared arrays.
func (a Array) materializeIfShared() Array {
	if atomic.LoadInt32(&a.cell.refs) <= 1 {
		return a
	}
	atomic.AddInt32(&a.cell.refs, -1)
	cloned := append([]byte(nil), a.cell.bytes...)
	a.cell = newCell(cloned)
	return a
}

// Cow returns a copy-on-write view of the array without copying its data:
// the returned Array shares the same backing cell, refcounted. Taking a
// ViewMut of the returned handle materializes a private copy first while
// the cell is still shared; writes made directly through the receiver
// (an owned array or one of its mutable views) are not copied and stay
// visible through the returned handle.
func (a Array) Cow() Array {
	v := a
	v.kind = kindShared
	atomic.AddInt32(&v.cell.refs, 1)
	return v
}

// IntoOwned returns an owned, contiguous, row-major copy of the array. It
// is a no-op (returns the receiver unchanged) if the array is already
// uniquely owned and contiguous in row-major order.
func (a Array) IntoOwned() Array {
	if a.kind == kindOwned && a.isContiguousRowMajor() && atomic.LoadInt32(&a.cell.refs) <= 1 {
		return a
	}
	b := a.AsBytes()
	owned := make([]byte, len(b))
	copy(owned, b)
	return Array{
		dtype:   a.dtype,
		shape:   append([]int(nil), a.shape...),
		strides: rowMajorStrides(a.shape),
		kind:    kindOwned,
		cell:    newCell(owned),
	}
}

// AsBytes returns the array's data as a byte slice. If the array is
// contiguous and in standard row-major order, the returned slice borrows
// the backing storage directly; otherwise a fresh contiguous copy is
// produced. The returned length always equals Len() * Dtype().Size().
func (a Array) AsBytes() []byte {
	size := a.dtype.Size()
	n := a.Len()
	if a.isContiguousRowMajor() {
		start := a.offset * size
		return a.cell.bytes[start : start+n*size]
	}
	out := make([]byte, n*size)
	walkRowMajor(a.shape, func(idx []int, linear int) {
		src := a.elementOffset(idx) * size
		copy(out[linear*size:(linear+1)*size], a.cell.bytes[src:src+size])
	})
	return out
}

// WithBytesMut provides with access to the array's element data as a
// mutable byte slice. If the underlying storage is contiguous, with sees
// the data in place; otherwise a temporary buffer is allocated, with
// mutates it, and the result is copied back element-wise.
func (a Array) WithBytesMut(with func([]byte)) error {
	if a.kind != kindOwned && a.kind != kindViewMut {
		return fmt.Errorf("numcodecs: cannot mutate bytes of a read-only array")
	}
	size := a.dtype.Size()
	n := a.Len()
	if a.isContiguousRowMajor() {
		start := a.offset * size
		with(a.cell.bytes[start : start+n*size])
		return nil
	}
	tmp := make([]byte, n*size)
	walkRowMajor(a.shape, func(idx []int, linear int) {
		src := a.elementOffset(idx) * size
		copy(tmp[linear*size:(linear+1)*size], a.cell.bytes[src:src+size])
	})
	with(tmp)
	walkRowMajor(a.shape, func(idx []int, linear int) {
		dst := a.elementOffset(idx) * size
		copy(a.cell.bytes[dst:dst+size], tmp[linear*size:(linear+1)*size])
	})
	return nil
}

// DTypeMismatchError reports that Assign was called with a source array of
// a different dtype than the destination.
type DTypeMismatchError struct {
	Expected Dtype
	Actual   Dtype
}

func (e *DTypeMismatchError) Error() string {
	return fmt.Sprintf("numcodecs: dtype mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Assign copies src into the receiver, which must be a mutable view. It
// fails with *DTypeMismatchError or *ShapeError rather than coercing dtypes
// or broadcasting shapes.
func (a Array) Assign(src Array) error {
	if a.kind != kindOwned && a.kind != kindViewMut {
		return fmt.Errorf("numcodecs: assign target must be a mutable view")
	}
	if a.dtype != src.dtype {
		return &DTypeMismatchError{Expected: a.dtype, Actual: src.dtype}
	}
	if !slices.Equal(a.shape, src.shape) {
		return &ShapeError{Op: "assign", Expected: a.shape, Actual: src.shape}
	}
	srcBytes := src.AsBytes()
	return a.WithBytesMut(func(dst []byte) {
		copy(dst, srcBytes)
	})
}

func (a Array) elementOffset(idx []int) int {
	off := a.offset
	for i, v := range idx {
		off += v * a.strides[i]
	}
	return off
}

// walkRowMajor calls visit once per element of shape in row-major order,
// passing the multi-index and the corresponding linear (row-major) index.
func walkRowMajor(shape []int, visit func(idx []int, linear int) ) {
	n := product(shape)
	if n == 0 {
		return
	}
	idx := make([]int, len(shape))
	for linear := 0; linear < n; linear++ {
		visit(idx, linear)
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}
