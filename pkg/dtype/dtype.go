// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package dtype defines the closed set of numeric element types the array
// codec understands, with an explicit byte width and byte order for each.
//
// Types are written as numpy array-protocol type strings, which consist of
// three parts:
//   - the byte order: "<" little-endian, ">" big-endian, "|" not relevant
//   - the basic kind: "f" floating point, "i" signed, "u" unsigned
//   - the item size in bytes
//
// Within stored metadata the byte order is always explicit, so payloads are
// portable across machines with different native endianness.
package dtype

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Kind is the element kind without byte order.
type Kind uint8

const (
	Invalid Kind = iota
	F16
	F32
	F64
	I8
	I16
	I32
	I64
	U8
	U16
	U32
)

type kindInfo struct {
	basic byte
	size  int
	name  string
}

var kinds = map[Kind]kindInfo{
	F16: {'f', 2, "float16"},
	F32: {'f', 4, "float32"},
	F64: {'f', 8, "float64"},
	I8:  {'i', 1, "int8"},
	I16: {'i', 2, "int16"},
	I32: {'i', 4, "int32"},
	I64: {'i', 8, "int64"},
	U8:  {'u', 1, "uint8"},
	U16: {'u', 2, "uint16"},
	U32: {'u', 4, "uint32"},
}

// Kinds lists every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{F16, F32, F64, I8, I16, I32, I64, U8, U16, U32}
}

// Size returns the item size in bytes, or 0 for Invalid.
func (k Kind) Size() int {
	return kinds[k].size
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "invalid"
}

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool {
	return kinds[k].basic == 'f'
}

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	return kinds[k].basic == 'i'
}

// Order is a byte order marker.
type Order byte

const (
	LittleEndian Order = '<'
	BigEndian    Order = '>'
	NotRelevant  Order = '|'
)

// DType is an element kind together with its byte order.
type DType struct {
	Kind  Kind
	Order Order
}

// New returns the canonical DType for kind in the given order. One-byte
// kinds always use NotRelevant.
func New(k Kind, o Order) DType {
	if k.Size() == 1 {
		o = NotRelevant
	}
	return DType{Kind: k, Order: o}
}

// Little-endian shorthands used throughout the codebase.
var (
	Float16 = New(F16, LittleEndian)
	Float32 = New(F32, LittleEndian)
	Float64 = New(F64, LittleEndian)
	Int8    = New(I8, LittleEndian)
	Int16   = New(I16, LittleEndian)
	Int32   = New(I32, LittleEndian)
	Int64   = New(I64, LittleEndian)
	Uint8   = New(U8, LittleEndian)
	Uint16  = New(U16, LittleEndian)
	Uint32  = New(U32, LittleEndian)
)

// All returns every supported dtype in both byte orders (one-byte kinds once).
func All() []DType {
	var out []DType
	for _, k := range Kinds() {
		out = append(out, New(k, LittleEndian))
		if k.Size() > 1 {
			out = append(out, New(k, BigEndian))
		}
	}
	return out
}

// Parse parses a type string such as "<f8", ">i4" or "|u1".
func Parse(s string) (DType, error) {
	if len(s) < 3 {
		return DType{}, fmt.Errorf("invalid dtype %q: too short", s)
	}
	o := Order(s[0])
	switch o {
	case LittleEndian, BigEndian, NotRelevant:
	default:
		return DType{}, fmt.Errorf("invalid dtype %q: unsupported byte order %q", s, s[0])
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return DType{}, fmt.Errorf("invalid dtype %q: %w", s, err)
	}
	for _, k := range Kinds() {
		info := kinds[k]
		if info.basic != s[1] || info.size != size {
			continue
		}
		if size > 1 && o == NotRelevant {
			return DType{}, fmt.Errorf("invalid dtype %q: byte order required for %d-byte items", s, size)
		}
		return New(k, o), nil
	}
	return DType{}, fmt.Errorf("invalid dtype %q: unsupported type", s)
}

// ParseName parses a dtype from either a type string or a kind name such as
// "float32" (little-endian).
func ParseName(s string) (DType, error) {
	for _, k := range Kinds() {
		if kinds[k].name == s {
			return New(k, LittleEndian), nil
		}
	}
	return Parse(s)
}

func (dt DType) String() string {
	info, ok := kinds[dt.Kind]
	if !ok {
		return "invalid"
	}
	return string(dt.Order) + string(info.basic) + strconv.Itoa(info.size)
}

// ItemSize returns the element width in bytes.
func (dt DType) ItemSize() int {
	return dt.Kind.Size()
}

// Valid reports whether dt is a supported dtype.
func (dt DType) Valid() bool {
	_, ok := kinds[dt.Kind]
	return ok
}

// ByteOrder returns the binary.ByteOrder for decoding elements.
// One-byte types report little-endian, which is equivalent.
func (dt DType) ByteOrder() binary.ByteOrder {
	if dt.Order == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// WithOrder returns dt with its byte order replaced.
func (dt DType) WithOrder(o Order) DType {
	return New(dt.Kind, o)
}

func (dt DType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *DType) UnmarshalText(b []byte) error {
	t, err := Parse(string(b))
	if err != nil {
		return err
	}
	*dt = t
	return nil
}
