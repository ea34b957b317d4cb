// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
)

// ToDense materializes m as a row-major array with the dtype of its data.
// Values pass through float64, and repeated coordinates sum.
func ToDense(m Matrix) (*ndarray.Array, error) {
	switch m.(type) {
	case *DOK, *LIL:
		csr, err := toCSR(m)
		if err != nil {
			return nil, err
		}
		return ToDense(csr)
	}
	if _, err := Decode("", Manifest{Type: m.Family(), Shape: m.Dims()}, partsOf(m)); err != nil {
		return nil, err
	}

	shape := m.Dims()
	var out *ndarray.Array
	add := func(i, j int, v float64) {
		out.SetFloat64(out.Float64At(i, j)+v, i, j)
	}

	switch v := m.(type) {
	case *CSR:
		out = ndarray.New(v.Data.DType(), shape[:], ndarray.RowMajor)
		walkCompressed(v.Compressed, func(major, minor int, x float64) { add(major, minor, x) })
	case *CSC:
		out = ndarray.New(v.Data.DType(), shape[:], ndarray.RowMajor)
		walkCompressed(v.Compressed, func(major, minor int, x float64) { add(minor, major, x) })
	case *BSR:
		out = ndarray.New(v.Data.DType(), shape[:], ndarray.RowMajor)
		r, c := v.BlockSize()
		ptr, idx := v.Indptr.Int64s(), v.Indices.Int64s()
		for br := 0; br+1 < len(ptr); br++ {
			for k := ptr[br]; k < ptr[br+1]; k++ {
				bc := int(idx[k])
				for i := range r {
					for j := range c {
						add(br*r+i, bc*c+j, v.Data.Float64At(int(k), i, j))
					}
				}
			}
		}
	case *COO:
		out = ndarray.New(v.Data.DType(), shape[:], ndarray.RowMajor)
		rows, cols, data := v.Row.Int64s(), v.Col.Int64s(), v.Data.Float64s()
		for k := range data {
			add(int(rows[k]), int(cols[k]), data[k])
		}
	case *DIA:
		out = ndarray.New(v.Data.DType(), shape[:], ndarray.RowMajor)
		offsets := v.Offsets.Int64s()
		width := min(v.Data.Shape()[1], shape[1])
		for k, off := range offsets {
			for j := range width {
				i := j - int(off)
				if i >= 0 && i < shape[0] {
					add(i, j, v.Data.Float64At(k, j))
				}
			}
		}
	default:
		return nil, fmt.Errorf("no dense form for %T", v)
	}
	return out, nil
}

func partsOf(m Matrix) map[string]*ndarray.Array {
	switch v := m.(type) {
	case *CSR:
		return v.parts()
	case *CSC:
		return v.parts()
	case *BSR:
		return v.parts()
	case *COO:
		return map[string]*ndarray.Array{AttrRow: v.Row, AttrCol: v.Col, AttrData: v.Data}
	case *DIA:
		return map[string]*ndarray.Array{AttrData: v.Data, AttrOffsets: v.Offsets}
	}
	return nil
}

func walkCompressed(c Compressed, fn func(major, minor int, v float64)) {
	ptr, idx, data := c.Indptr.Int64s(), c.Indices.Int64s(), c.Data.Float64s()
	for major := 0; major+1 < len(ptr); major++ {
		for k := ptr[major]; k < ptr[major+1]; k++ {
			fn(major, int(idx[k]), data[k])
		}
	}
}

func toCSR(m Matrix) (*CSR, error) {
	switch v := m.(type) {
	case *DOK:
		return v.ToCSR()
	case *LIL:
		return v.ToCSR()
	}
	return nil, fmt.Errorf("%s has no CSR conversion", m.Family())
}

type entry struct {
	col int
	val float64
}

// ToCSR converts d to compressed row form with int32 indices. Entries are
// ordered by row then column.
func (d *DOK) ToCSR() (*CSR, error) {
	rows := make([][]entry, d.Shape[0])
	for _, k := range slices.SortedFunc(maps.Keys(d.Entries), func(a, b [2]int) int {
		return cmp.Or(cmp.Compare(a[0], b[0]), cmp.Compare(a[1], b[1]))
	}) {
		if k[0] < 0 || k[0] >= d.Shape[0] || k[1] < 0 || k[1] >= d.Shape[1] {
			return nil, fmt.Errorf("dok entry %v outside shape %v", k, d.Shape)
		}
		rows[k[0]] = append(rows[k[0]], entry{k[1], d.Entries[k]})
	}
	return buildCSR(d.Shape, d.DType, rows)
}

// ToCSR converts l to compressed row form with int32 indices. Columns are
// sorted within each row; a repeated column keeps its last value.
func (l *LIL) ToCSR() (*CSR, error) {
	if len(l.Cols) != l.Shape[0] || len(l.Values) != l.Shape[0] {
		return nil, fmt.Errorf("lil has %d column lists and %d value lists for %d rows", len(l.Cols), len(l.Values), l.Shape[0])
	}
	rows := make([][]entry, l.Shape[0])
	for i, cols := range l.Cols {
		if len(cols) != len(l.Values[i]) {
			return nil, fmt.Errorf("lil row %d has %d columns and %d values", i, len(cols), len(l.Values[i]))
		}
		last := map[int]float64{}
		for k, c := range cols {
			if c < 0 || c >= l.Shape[1] {
				return nil, fmt.Errorf("lil row %d column %d outside shape %v", i, c, l.Shape)
			}
			last[c] = l.Values[i][k]
		}
		for _, c := range slices.Sorted(maps.Keys(last)) {
			rows[i] = append(rows[i], entry{c, last[c]})
		}
	}
	return buildCSR(l.Shape, l.DType, rows)
}

func buildCSR(shape [2]int, dt dtype.DType, rows [][]entry) (*CSR, error) {
	if !dt.Valid() {
		dt = dtype.Float64
	}
	var nnz int
	for _, r := range rows {
		nnz += len(r)
	}
	data := ndarray.New(dt, []int{nnz}, ndarray.RowMajor)
	indices := make([]int32, 0, nnz)
	indptr := make([]int32, 1, len(rows)+1)
	for _, r := range rows {
		for _, e := range r {
			data.SetFloat64(e.val, len(indices))
			indices = append(indices, int32(e.col))
		}
		indptr = append(indptr, int32(len(indices)))
	}

	idx, err := ndarray.FromSlice([]int{nnz}, indices)
	if err != nil {
		return nil, err
	}
	ptr, err := ndarray.FromSlice([]int{len(indptr)}, indptr)
	if err != nil {
		return nil, err
	}
	return &CSR{Compressed{Shape: shape, Data: data, Indices: idx, Indptr: ptr}}, nil
}
