// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sparse

import (
	"fmt"
	"slices"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
)

// Encode splits m into its manifest and named constituents. DOK and LIL
// matrices are converted to CSR first, so the manifest of such a matrix
// carries the csr tag.
func Encode(m Matrix) (Manifest, map[string]*ndarray.Array, error) {
	if m == nil {
		return Manifest{}, nil, fmt.Errorf("nil sparse matrix")
	}
	switch v := m.(type) {
	case *DOK:
		csr, err := v.ToCSR()
		if err != nil {
			return Manifest{}, nil, err
		}
		m = csr
	case *LIL:
		csr, err := v.ToCSR()
		if err != nil {
			return Manifest{}, nil, err
		}
		m = csr
	}

	parts := partsOf(m)
	if parts == nil {
		return Manifest{}, nil, arrayerr.UnsupportedFamily("", string(m.Family()))
	}

	man := Manifest{Type: m.Family(), Attrs: Attrs(m.Family()), Shape: m.Dims()}
	if _, err := Decode("", man, parts); err != nil {
		return Manifest{}, nil, err
	}
	return man, parts, nil
}

func (c *Compressed) parts() map[string]*ndarray.Array {
	return map[string]*ndarray.Array{AttrData: c.Data, AttrIndices: c.Indices, AttrIndptr: c.Indptr}
}

// Decode rebuilds a matrix from its manifest and constituents. key names the
// matrix in errors. A family tag that is not stored is UnsupportedFamily,
// and a missing or inconsistent constituent is a Format error naming it.
func Decode(key string, man Manifest, parts map[string]*ndarray.Array) (Matrix, error) {
	want := Attrs(man.Type)
	if want == nil {
		return nil, arrayerr.UnsupportedFamily(key, string(man.Type))
	}
	if man.Attrs != nil && !slices.Equal(man.Attrs, want) {
		return nil, arrayerr.Format(key, "attrs", fmt.Sprintf("%s stores %v, manifest lists %v", man.Type, want, man.Attrs))
	}
	if man.Shape[0] < 0 || man.Shape[1] < 0 {
		return nil, arrayerr.Format(key, "shape", fmt.Sprintf("negative shape %v", man.Shape))
	}
	for _, a := range want {
		if parts[a] == nil {
			return nil, arrayerr.Format(key, a, "missing constituent")
		}
	}

	d := decoder{key: key, shape: man.Shape}
	switch man.Type {
	case FamilyCSR:
		c := Compressed{Shape: man.Shape, Data: parts[AttrData], Indices: parts[AttrIndices], Indptr: parts[AttrIndptr]}
		if err := d.compressed(c, man.Shape[0], man.Shape[1]); err != nil {
			return nil, err
		}
		return &CSR{c}, nil
	case FamilyCSC:
		c := Compressed{Shape: man.Shape, Data: parts[AttrData], Indices: parts[AttrIndices], Indptr: parts[AttrIndptr]}
		if err := d.compressed(c, man.Shape[1], man.Shape[0]); err != nil {
			return nil, err
		}
		return &CSC{c}, nil
	case FamilyBSR:
		c := Compressed{Shape: man.Shape, Data: parts[AttrData], Indices: parts[AttrIndices], Indptr: parts[AttrIndptr]}
		if err := d.bsr(c); err != nil {
			return nil, err
		}
		return &BSR{c}, nil
	case FamilyCOO:
		m := &COO{Shape: man.Shape, Row: parts[AttrRow], Col: parts[AttrCol], Data: parts[AttrData]}
		if err := d.coo(m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		m := &DIA{Shape: man.Shape, Data: parts[AttrData], Offsets: parts[AttrOffsets]}
		if err := d.dia(m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

type decoder struct {
	key   string
	shape [2]int
}

func (d decoder) errorf(attr, format string, args ...any) error {
	return arrayerr.Format(d.key, attr, fmt.Sprintf(format, args...))
}

// vector checks that arr is 1-d of length n (n < 0 accepts any length).
func (d decoder) vector(attr string, arr *ndarray.Array, n int) error {
	if arr.NDim() != 1 {
		return d.errorf(attr, "expected 1-d, got shape %v", arr.Shape())
	}
	if n >= 0 && arr.Size() != n {
		return d.errorf(attr, "expected %d elements, got %d", n, arr.Size())
	}
	return nil
}

// index checks that arr is an integer vector of length n with every value
// in [0, limit).
func (d decoder) index(attr string, arr *ndarray.Array, n int, limit int64) error {
	if err := d.vector(attr, arr, n); err != nil {
		return err
	}
	if arr.DType().Kind.IsFloat() {
		return d.errorf(attr, "index array has float dtype %s", arr.DType())
	}
	for i, v := range arr.Int64s() {
		if v < 0 || v >= limit {
			return d.errorf(attr, "entry %d is %d, outside [0, %d)", i, v, limit)
		}
	}
	return nil
}

// indptr checks a pointer array of length major+1 running from 0 to nnz
// without decreasing.
func (d decoder) indptr(arr *ndarray.Array, major, nnz int) error {
	if err := d.vector(AttrIndptr, arr, major+1); err != nil {
		return err
	}
	if arr.DType().Kind.IsFloat() {
		return d.errorf(AttrIndptr, "index array has float dtype %s", arr.DType())
	}
	ptr := arr.Int64s()
	if ptr[0] != 0 || ptr[major] != int64(nnz) {
		return d.errorf(AttrIndptr, "must run from 0 to %d, runs from %d to %d", nnz, ptr[0], ptr[major])
	}
	for i := 1; i < len(ptr); i++ {
		if ptr[i] < ptr[i-1] {
			return d.errorf(AttrIndptr, "decreases at %d", i)
		}
	}
	return nil
}

func (d decoder) compressed(c Compressed, major, minor int) error {
	if err := d.vector(AttrData, c.Data, -1); err != nil {
		return err
	}
	nnz := c.Data.Size()
	if err := d.index(AttrIndices, c.Indices, nnz, int64(minor)); err != nil {
		return err
	}
	return d.indptr(c.Indptr, major, nnz)
}

func (d decoder) bsr(c Compressed) error {
	s := c.Data.Shape()
	if len(s) != 3 {
		return d.errorf(AttrData, "expected (blocks, R, C), got shape %v", s)
	}
	r, cols := s[1], s[2]
	if r == 0 || cols == 0 || d.shape[0]%r != 0 || d.shape[1]%cols != 0 {
		return d.errorf(AttrData, "block %dx%d does not tile %dx%d", r, cols, d.shape[0], d.shape[1])
	}
	if err := d.index(AttrIndices, c.Indices, s[0], int64(d.shape[1]/cols)); err != nil {
		return err
	}
	return d.indptr(c.Indptr, d.shape[0]/r, s[0])
}

func (d decoder) coo(m *COO) error {
	if err := d.vector(AttrData, m.Data, -1); err != nil {
		return err
	}
	nnz := m.Data.Size()
	if err := d.index(AttrRow, m.Row, nnz, int64(d.shape[0])); err != nil {
		return err
	}
	return d.index(AttrCol, m.Col, nnz, int64(d.shape[1]))
}

func (d decoder) dia(m *DIA) error {
	s := m.Data.Shape()
	if len(s) != 2 {
		return d.errorf(AttrData, "expected (diagonals, N), got shape %v", s)
	}
	if err := d.vector(AttrOffsets, m.Offsets, s[0]); err != nil {
		return err
	}
	if m.Offsets.DType().Kind.IsFloat() {
		return d.errorf(AttrOffsets, "offsets have float dtype %s", m.Offsets.DType())
	}
	return nil
}
