// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package ndarray provides a minimal strided n-dimensional numeric array.
//
// An Array is a view over a byte buffer described by a dtype, a shape, byte
// strides and a byte offset. Contiguous arrays can be laid out in row-major
// (C) or column-major (F) order; slicing and transposing produce views that
// share the buffer and may be non-contiguous.
package ndarray

import (
	"fmt"
	"math"

	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"

	"github.com/x448/float16"
)

// Order is a memory layout.
type Order byte

const (
	// RowMajor means the last dimension varies fastest.
	RowMajor Order = 'C'
	// ColumnMajor means the first dimension varies fastest.
	ColumnMajor Order = 'F'
)

func (o Order) String() string {
	return string(o)
}

// ParseOrder accepts "C"/"F" and the long forms "row-major"/"column-major".
func ParseOrder(s string) (Order, error) {
	switch s {
	case "C", "row-major":
		return RowMajor, nil
	case "F", "column-major":
		return ColumnMajor, nil
	default:
		return 0, fmt.Errorf("unknown order %q", s)
	}
}

// Array is a strided view over a byte buffer.
type Array struct {
	dt      dtype.DType
	shape   []int
	strides []int
	offset  int
	data    []byte
}

// New allocates a zero-filled contiguous array.
func New(dt dtype.DType, shape []int, order Order) *Array {
	n := Product(shape)
	return &Array{
		dt:      dt,
		shape:   append([]int{}, shape...),
		strides: ContiguousStrides(shape, dt.ItemSize(), order),
		data:    make([]byte, n*dt.ItemSize()),
	}
}

// FromBytes wraps data as a contiguous array without copying.
func FromBytes(dt dtype.DType, shape []int, order Order, data []byte) (*Array, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
	}
	want := Product(shape) * dt.ItemSize()
	if len(data) != want {
		return nil, fmt.Errorf("buffer holds %d bytes, shape %v of %s needs %d", len(data), shape, dt, want)
	}
	return &Array{
		dt:      dt,
		shape:   append([]int{}, shape...),
		strides: ContiguousStrides(shape, dt.ItemSize(), order),
		data:    data,
	}, nil
}

// FromFloat64 builds a row-major array of dtype dt from values listed in
// row-major order. Values are converted to the element kind.
func FromFloat64(dt dtype.DType, shape []int, values []float64) (*Array, error) {
	if len(values) != Product(shape) {
		return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
	}
	a := New(dt, shape, RowMajor)
	size := dt.ItemSize()
	for i, v := range values {
		putFloat64(dt, a.data[i*size:], v)
	}
	return a, nil
}

// Number is the set of Go element types with a direct dtype equivalent.
type Number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

// FromSlice builds a little-endian row-major array from values in row-major order.
func FromSlice[T Number](shape []int, values []T) (*Array, error) {
	var zero T
	var k dtype.Kind
	switch any(zero).(type) {
	case float32:
		k = dtype.F32
	case float64:
		k = dtype.F64
	case int8:
		k = dtype.I8
	case int16:
		k = dtype.I16
	case int32:
		k = dtype.I32
	case int64:
		k = dtype.I64
	case uint8:
		k = dtype.U8
	case uint16:
		k = dtype.U16
	case uint32:
		k = dtype.U32
	default:
		return nil, fmt.Errorf("unsupported element type %T", zero)
	}
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	if k == dtype.I64 {
		// int64 does not survive a float64 round trip above 2^53
		a := New(dtype.New(k, dtype.LittleEndian), shape, RowMajor)
		if len(values) != a.Size() {
			return nil, fmt.Errorf("got %d values for shape %v", len(values), shape)
		}
		for i, v := range values {
			a.dt.ByteOrder().PutUint64(a.data[i*8:], uint64(int64(v)))
		}
		return a, nil
	}
	return FromFloat64(dtype.New(k, dtype.LittleEndian), shape, f)
}

// Product returns the number of elements for shape (1 for a 0-d shape).
func Product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// ContiguousStrides returns byte strides for a contiguous layout.
func ContiguousStrides(shape []int, itemSize int, order Order) []int {
	strides := make([]int, len(shape))
	acc := itemSize
	if order == ColumnMajor {
		for i := 0; i < len(shape); i++ {
			strides[i] = acc
			acc *= max(shape[i], 1)
		}
		return strides
	}
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= max(shape[i], 1)
	}
	return strides
}

func (a *Array) DType() dtype.DType { return a.dt }
func (a *Array) NDim() int          { return len(a.shape) }
func (a *Array) Size() int          { return Product(a.shape) }
func (a *Array) ItemSize() int      { return a.dt.ItemSize() }
func (a *Array) NBytes() int        { return a.Size() * a.dt.ItemSize() }

// Shape returns a copy of the shape.
func (a *Array) Shape() []int {
	return append([]int{}, a.shape...)
}

// Strides returns a copy of the byte strides.
func (a *Array) Strides() []int {
	return append([]int{}, a.strides...)
}

func (a *Array) isContiguous(order Order) bool {
	if a.Size() == 0 {
		return true
	}
	want := ContiguousStrides(a.shape, a.dt.ItemSize(), order)
	for i, d := range a.shape {
		// strides of length-1 dimensions never affect addressing
		if d != 1 && a.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// IsCContiguous reports whether the view is contiguous in row-major order.
func (a *Array) IsCContiguous() bool { return a.isContiguous(RowMajor) }

// IsFContiguous reports whether the view is contiguous in column-major order.
func (a *Array) IsFContiguous() bool { return a.isContiguous(ColumnMajor) }

// Layout returns the contiguous order of the view, preferring row-major
// when both apply. ok is false for non-contiguous views.
func (a *Array) Layout() (order Order, ok bool) {
	switch {
	case a.IsCContiguous():
		return RowMajor, true
	case a.IsFContiguous():
		return ColumnMajor, true
	default:
		return 0, false
	}
}

// Bytes returns the backing bytes of a contiguous view in its own layout,
// without copying. ok is false for non-contiguous views.
func (a *Array) Bytes() (data []byte, order Order, ok bool) {
	order, ok = a.Layout()
	if !ok {
		return nil, 0, false
	}
	return a.data[a.offset : a.offset+a.NBytes()], order, true
}

// Contiguous returns a view contiguous in order, copying only when the
// receiver is not already laid out that way.
func (a *Array) Contiguous(order Order) *Array {
	if a.isContiguous(order) {
		out := *a
		out.strides = ContiguousStrides(a.shape, a.dt.ItemSize(), order)
		out.data = a.data[a.offset : a.offset+a.NBytes()]
		out.offset = 0
		return &out
	}
	out := New(a.dt, a.shape, order)
	size := a.dt.ItemSize()
	pos := 0
	forEachIndex(a.shape, order, func(idx []int) {
		src := a.byteOffset(idx)
		copy(out.data[pos:pos+size], a.data[src:src+size])
		pos += size
	})
	return out
}

// Transpose returns a view with the axis order reversed. The transpose of a
// row-major array is column-major and vice versa.
func (a *Array) Transpose() *Array {
	n := len(a.shape)
	out := &Array{dt: a.dt, offset: a.offset, data: a.data, shape: make([]int, n), strides: make([]int, n)}
	for i := 0; i < n; i++ {
		out.shape[i] = a.shape[n-1-i]
		out.strides[i] = a.strides[n-1-i]
	}
	return out
}

// SliceAxis returns a view restricted to [start, stop) along axis.
func (a *Array) SliceAxis(axis, start, stop int) (*Array, error) {
	starts := make([]int, len(a.shape))
	stops := a.Shape()
	if axis < 0 || axis >= len(a.shape) {
		return nil, fmt.Errorf("axis %d out of range for %d dimensions", axis, len(a.shape))
	}
	starts[axis], stops[axis] = start, stop
	return a.Region(starts, stops)
}

// Region returns the view [starts[i], stops[i]) on every axis.
func (a *Array) Region(starts, stops []int) (*Array, error) {
	if len(starts) != len(a.shape) || len(stops) != len(a.shape) {
		return nil, fmt.Errorf("region has %d/%d bounds for %d dimensions", len(starts), len(stops), len(a.shape))
	}
	out := &Array{dt: a.dt, data: a.data, strides: a.Strides(), shape: make([]int, len(a.shape)), offset: a.offset}
	for i := range a.shape {
		if starts[i] < 0 || stops[i] > a.shape[i] || starts[i] > stops[i] {
			return nil, fmt.Errorf("bounds [%d:%d] out of range for axis %d of length %d", starts[i], stops[i], i, a.shape[i])
		}
		out.shape[i] = stops[i] - starts[i]
		if out.shape[i] > 0 {
			out.offset += starts[i] * a.strides[i]
		}
	}
	return out, nil
}

// CopyFrom copies every element of src into the receiver. Shapes and kinds
// must match; byte order is converted when the dtypes differ in it.
func (a *Array) CopyFrom(src *Array) error {
	if !equalInts(a.shape, src.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", a.shape, src.shape)
	}
	if a.dt.Kind != src.dt.Kind {
		return fmt.Errorf("dtype mismatch: %s vs %s", a.dt, src.dt)
	}
	size := a.dt.ItemSize()
	swap := a.dt.Order != src.dt.Order && size > 1
	forEachIndex(a.shape, RowMajor, func(idx []int) {
		d := a.byteOffset(idx)
		s := src.byteOffset(idx)
		copy(a.data[d:d+size], src.data[s:s+size])
		if swap {
			reverse(a.data[d : d+size])
		}
	})
	return nil
}

// WithByteOrder returns a contiguous copy whose elements are stored in byte
// order o, keeping the layout of the receiver when it has one.
func (a *Array) WithByteOrder(o dtype.Order) *Array {
	order, ok := a.Layout()
	if !ok {
		order = RowMajor
	}
	out := New(a.dt.WithOrder(o), a.shape, order)
	_ = out.CopyFrom(a)
	return out
}

// Float64At returns the element at idx converted to float64.
func (a *Array) Float64At(idx ...int) float64 {
	off := a.byteOffset(idx)
	return getFloat64(a.dt, a.data[off:])
}

// SetFloat64 stores v at idx, converting to the element kind.
func (a *Array) SetFloat64(v float64, idx ...int) {
	off := a.byteOffset(idx)
	putFloat64(a.dt, a.data[off:], v)
}

// Int64At returns the integer element at idx without a float round trip.
func (a *Array) Int64At(idx ...int) int64 {
	off := a.byteOffset(idx)
	b := a.data[off:]
	bo := a.dt.ByteOrder()
	switch a.dt.Kind {
	case dtype.I8:
		return int64(int8(b[0]))
	case dtype.I16:
		return int64(int16(bo.Uint16(b)))
	case dtype.I32:
		return int64(int32(bo.Uint32(b)))
	case dtype.I64:
		return int64(bo.Uint64(b))
	case dtype.U8:
		return int64(b[0])
	case dtype.U16:
		return int64(bo.Uint16(b))
	case dtype.U32:
		return int64(bo.Uint32(b))
	default:
		return int64(getFloat64(a.dt, b))
	}
}

// Float64s returns all elements in row-major order.
func (a *Array) Float64s() []float64 {
	out := make([]float64, 0, a.Size())
	forEachIndex(a.shape, RowMajor, func(idx []int) {
		out = append(out, a.Float64At(idx...))
	})
	return out
}

// Int64s returns all elements in row-major order as integers.
func (a *Array) Int64s() []int64 {
	out := make([]int64, 0, a.Size())
	forEachIndex(a.shape, RowMajor, func(idx []int) {
		out = append(out, a.Int64At(idx...))
	})
	return out
}

func (a *Array) String() string {
	return fmt.Sprintf("ndarray(shape=%v, dtype=%s)", a.shape, a.dt)
}

// Equal reports whether a and b have the same shape and kind and every
// element has identical bits, independent of layout and byte order.
func Equal(a, b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dt.Kind != b.dt.Kind || !equalInts(a.shape, b.shape) {
		return false
	}
	size := a.dt.ItemSize()
	swap := a.dt.Order != b.dt.Order && size > 1
	scratch := make([]byte, size)
	equal := true
	forEachIndex(a.shape, RowMajor, func(idx []int) {
		if !equal {
			return
		}
		x := a.byteOffset(idx)
		y := b.byteOffset(idx)
		copy(scratch, b.data[y:y+size])
		if swap {
			reverse(scratch)
		}
		for i := 0; i < size; i++ {
			if a.data[x+i] != scratch[i] {
				equal = false
				return
			}
		}
	})
	return equal
}

func (a *Array) byteOffset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for %d dimensions", len(idx), len(a.shape)))
	}
	off := a.offset
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d out of range for axis %d of length %d", v, i, a.shape[i]))
		}
		off += v * a.strides[i]
	}
	return off
}

// forEachIndex visits every index of shape, with the last axis fastest for
// RowMajor and the first axis fastest for ColumnMajor. The idx slice is
// reused between calls.
func forEachIndex(shape []int, order Order, fn func(idx []int)) {
	n := len(shape)
	for _, d := range shape {
		if d == 0 {
			return
		}
	}
	idx := make([]int, n)
	for {
		fn(idx)
		if n == 0 {
			return
		}
		if order == ColumnMajor {
			i := 0
			for ; i < n; i++ {
				idx[i]++
				if idx[i] < shape[i] {
					break
				}
				idx[i] = 0
			}
			if i == n {
				return
			}
		} else {
			i := n - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < shape[i] {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}

func getFloat64(dt dtype.DType, b []byte) float64 {
	bo := dt.ByteOrder()
	switch dt.Kind {
	case dtype.F16:
		return float64(float16.Frombits(bo.Uint16(b)).Float32())
	case dtype.F32:
		return float64(math.Float32frombits(bo.Uint32(b)))
	case dtype.F64:
		return math.Float64frombits(bo.Uint64(b))
	case dtype.I8:
		return float64(int8(b[0]))
	case dtype.I16:
		return float64(int16(bo.Uint16(b)))
	case dtype.I32:
		return float64(int32(bo.Uint32(b)))
	case dtype.I64:
		return float64(int64(bo.Uint64(b)))
	case dtype.U8:
		return float64(b[0])
	case dtype.U16:
		return float64(bo.Uint16(b))
	case dtype.U32:
		return float64(bo.Uint32(b))
	}
	return math.NaN()
}

func putFloat64(dt dtype.DType, b []byte, v float64) {
	bo := dt.ByteOrder()
	switch dt.Kind {
	case dtype.F16:
		bo.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
	case dtype.F32:
		bo.PutUint32(b, math.Float32bits(float32(v)))
	case dtype.F64:
		bo.PutUint64(b, math.Float64bits(v))
	case dtype.I8:
		b[0] = byte(int8(v))
	case dtype.I16:
		bo.PutUint16(b, uint16(int16(v)))
	case dtype.I32:
		bo.PutUint32(b, uint32(int32(v)))
	case dtype.I64:
		bo.PutUint64(b, uint64(int64(v)))
	case dtype.U8:
		b[0] = byte(v)
	case dtype.U16:
		bo.PutUint16(b, uint16(v))
	case dtype.U32:
		bo.PutUint32(b, uint32(v))
	}
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
