// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package sparse stores two-dimensional sparse matrices as a small JSON
// manifest plus one dense array per constituent.
//
// Compressed row, compressed column and block sparse row matrices share the
// constituents data, indices and indptr; the family tag decides how they are
// reassembled. Coordinate matrices use row, col and data, and diagonal
// matrices use data and offsets.
//
// Dictionary-of-keys and list-of-lists matrices have no direct stored form.
// They are converted to compressed row before encoding, so reading them back
// yields a *CSR, never the original type.
package sparse

import (
	"fmt"

	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
)

// Family is the sparse storage format tag written to the manifest.
type Family string

const (
	FamilyCSR Family = "csr"
	FamilyCSC Family = "csc"
	FamilyBSR Family = "bsr"
	FamilyCOO Family = "coo"
	FamilyDIA Family = "dia"
	FamilyDOK Family = "dok"
	FamilyLIL Family = "lil"
)

// Constituent names.
const (
	AttrData    = "data"
	AttrIndices = "indices"
	AttrIndptr  = "indptr"
	AttrRow     = "row"
	AttrCol     = "col"
	AttrOffsets = "offsets"
)

// Attrs returns the ordered constituents stored for a family, or nil for a
// family that is never stored.
func Attrs(f Family) []string {
	switch f {
	case FamilyCSR, FamilyCSC, FamilyBSR:
		return []string{AttrData, AttrIndices, AttrIndptr}
	case FamilyCOO:
		return []string{AttrRow, AttrCol, AttrData}
	case FamilyDIA:
		return []string{AttrData, AttrOffsets}
	default:
		return nil
	}
}

// Matrix is any supported sparse matrix.
type Matrix interface {
	Family() Family
	Dims() [2]int
}

// Compressed holds the data, indices and indptr constituents shared by the
// compressed families.
type Compressed struct {
	Shape   [2]int
	Data    *ndarray.Array
	Indices *ndarray.Array
	Indptr  *ndarray.Array
}

func (c *Compressed) Dims() [2]int { return c.Shape }

// CSR is a compressed sparse row matrix: row i holds the entries
// Indptr[i]..Indptr[i+1] of Data, at columns Indices.
type CSR struct{ Compressed }

func (*CSR) Family() Family { return FamilyCSR }

// CSC is a compressed sparse column matrix.
type CSC struct{ Compressed }

func (*CSC) Family() Family { return FamilyCSC }

// BSR is a block sparse row matrix. Data has shape (blocks, R, C) and
// Indices/Indptr address block columns and block rows.
type BSR struct{ Compressed }

func (*BSR) Family() Family { return FamilyBSR }

// BlockSize returns the (R, C) block shape.
func (b *BSR) BlockSize() (int, int) {
	s := b.Data.Shape()
	if len(s) != 3 {
		return 0, 0
	}
	return s[1], s[2]
}

// COO is a coordinate matrix. Duplicate coordinates sum.
type COO struct {
	Shape [2]int
	Row   *ndarray.Array
	Col   *ndarray.Array
	Data  *ndarray.Array
}

func (*COO) Family() Family  { return FamilyCOO }
func (c *COO) Dims() [2]int { return c.Shape }

// DIA is a diagonal matrix. Row k of Data holds diagonal Offsets[k], indexed
// by column: element (i, i+Offsets[k]) is Data[k, i+Offsets[k]].
type DIA struct {
	Shape   [2]int
	Data    *ndarray.Array
	Offsets *ndarray.Array
}

func (*DIA) Family() Family  { return FamilyDIA }
func (d *DIA) Dims() [2]int { return d.Shape }

// DOK is a dictionary-of-keys matrix.
type DOK struct {
	Shape   [2]int
	DType   dtype.DType
	Entries map[[2]int]float64
}

func (*DOK) Family() Family  { return FamilyDOK }
func (d *DOK) Dims() [2]int { return d.Shape }

// NewDOK returns an empty float64 dictionary-of-keys matrix.
func NewDOK(rows, cols int) *DOK {
	return &DOK{Shape: [2]int{rows, cols}, DType: dtype.Float64, Entries: map[[2]int]float64{}}
}

// Set stores v at (i, j).
func (d *DOK) Set(i, j int, v float64) {
	d.Entries[[2]int{i, j}] = v
}

// LIL is a list-of-lists matrix: row i has entries Values[i] at columns
// Cols[i].
type LIL struct {
	Shape  [2]int
	DType  dtype.DType
	Cols   [][]int
	Values [][]float64
}

func (*LIL) Family() Family  { return FamilyLIL }
func (l *LIL) Dims() [2]int { return l.Shape }

// NewLIL returns an empty float64 list-of-lists matrix.
func NewLIL(rows, cols int) *LIL {
	return &LIL{
		Shape:  [2]int{rows, cols},
		DType:  dtype.Float64,
		Cols:   make([][]int, rows),
		Values: make([][]float64, rows),
	}
}

// Append adds v at (i, j).
func (l *LIL) Append(i, j int, v float64) {
	l.Cols[i] = append(l.Cols[i], j)
	l.Values[i] = append(l.Values[i], v)
}

// Manifest is the JSON document stored next to the constituents.
type Manifest struct {
	Type  Family   `json:"type"`
	Attrs []string `json:"attrs"`
	Shape [2]int   `json:"shape"`
}

func (m Manifest) String() string {
	return fmt.Sprintf("%s %dx%d (%v)", m.Type, m.Shape[0], m.Shape[1], m.Attrs)
}
