// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package rawarray

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaparray/pkg/arrayerr"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/dtype"
	"github.com/LeeDigitalWorks/zaparray/pkg/ndarray"
)

// Object metadata keys written alongside every raw array.
const (
	KeyDType       = "dtype"
	KeyShape       = "shape"
	KeyOrder       = "order"
	KeyCompression = "compression"
	KeyChecksum    = "crc64nvme"
	KeyEncryption  = "encryption"

	// keyLegacyGzip is the boolean flag older writers used instead of compression.
	keyLegacyGzip = "gzip"
)

const msgMissing = "missing"

func missingField(key, field string) *arrayerr.Error {
	return arrayerr.Format(key, field, msgMissing)
}

// IsNotArray reports whether err came from metadata lacking one of the
// fields every raw array carries, meaning the object was not written as an
// array. Any other decode failure is a damaged array.
func IsNotArray(err error) bool {
	var e *arrayerr.Error
	if !errors.As(err, &e) || e.Kind != arrayerr.KindFormat || e.Message != msgMissing {
		return false
	}
	switch e.Field {
	case KeyDType, KeyShape, KeyOrder, KeyCompression:
		return true
	}
	return false
}

var reservedKeys = map[string]bool{
	KeyDType:       true,
	KeyShape:       true,
	KeyOrder:       true,
	KeyCompression: true,
	KeyChecksum:    true,
	KeyEncryption:  true,
	keyLegacyGzip:  true,
}

// IsReserved reports whether key is owned by the codec and cannot carry
// caller metadata.
func IsReserved(key string) bool {
	return reservedKeys[key]
}

// Metadata describes how to rebuild an array from its stored payload.
type Metadata struct {
	DType       dtype.DType
	Shape       []int
	Order       ndarray.Order
	Compression compression.Algorithm

	// Checksum is the CRC-64/NVME of the stored payload, when HasChecksum.
	Checksum    uint64
	HasChecksum bool

	// Encryption names the transform applied after compression, if any.
	Encryption string

	// Extra holds caller metadata stored next to the codec fields.
	Extra map[string]string
}

// NBytes returns the decoded payload length implied by shape and dtype.
func (m Metadata) NBytes() int {
	return ndarray.Product(m.Shape) * m.DType.ItemSize()
}

// FormatShape renders a shape as comma-joined integers, "" for 0-d.
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseShape parses the output of FormatShape. Spaces and surrounding
// parentheses are tolerated.
func ParseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	if strings.TrimSpace(s) == "" {
		return []int{}, nil
	}
	fields := strings.Split(s, ",")
	// "(5,)" style single-element tuples
	if len(fields) > 1 && strings.TrimSpace(fields[len(fields)-1]) == "" {
		fields = fields[:len(fields)-1]
	}
	shape := make([]int, len(fields))
	for i, f := range fields {
		d, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("dimension %d is negative", i)
		}
		shape[i] = d
	}
	return shape, nil
}

// ToMap renders the metadata as object-store metadata.
func (m Metadata) ToMap() map[string]string {
	out := make(map[string]string, 6+len(m.Extra))
	maps.Copy(out, m.Extra)
	out[KeyDType] = m.DType.String()
	out[KeyShape] = FormatShape(m.Shape)
	out[KeyOrder] = m.Order.String()
	out[KeyCompression] = m.Compression.String()
	if m.HasChecksum {
		out[KeyChecksum] = strconv.FormatUint(m.Checksum, 16)
	}
	if m.Encryption != "" {
		out[KeyEncryption] = m.Encryption
	}
	return out
}

// ParseMetadata validates stored metadata for the object at key. Every error
// is a FormatError or UnknownCodec naming key and the failing field.
func ParseMetadata(key string, md map[string]string) (Metadata, error) {
	var m Metadata

	raw, ok := md[KeyDType]
	if !ok {
		return m, missingField(key, KeyDType)
	}
	dt, err := dtype.Parse(raw)
	if err != nil {
		return m, arrayerr.Format(key, KeyDType, err.Error())
	}
	m.DType = dt

	raw, ok = md[KeyShape]
	if !ok {
		return m, missingField(key, KeyShape)
	}
	if m.Shape, err = ParseShape(raw); err != nil {
		return m, arrayerr.Format(key, KeyShape, err.Error())
	}

	raw, ok = md[KeyOrder]
	if !ok {
		return m, missingField(key, KeyOrder)
	}
	if m.Order, err = ndarray.ParseOrder(raw); err != nil {
		return m, arrayerr.Format(key, KeyOrder, err.Error())
	}

	if m.Compression, err = parseCompression(key, md); err != nil {
		return m, err
	}

	if raw, ok := md[KeyChecksum]; ok {
		sum, err := strconv.ParseUint(raw, 16, 64)
		if err != nil {
			return m, arrayerr.Format(key, KeyChecksum, err.Error())
		}
		m.Checksum, m.HasChecksum = sum, true
	}
	m.Encryption = md[KeyEncryption]

	for k, v := range md {
		if !IsReserved(k) {
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return m, nil
}

func parseCompression(key string, md map[string]string) (compression.Algorithm, error) {
	if raw, ok := md[KeyCompression]; ok {
		algo, err := compression.ParseAlgorithm(raw)
		if err != nil {
			return "", arrayerr.UnknownCodec(key, raw)
		}
		return algo, nil
	}
	raw, ok := md[keyLegacyGzip]
	if !ok {
		return "", missingField(key, KeyCompression)
	}
	switch strings.ToLower(raw) {
	case "true":
		return compression.Gzip, nil
	case "false":
		return compression.None, nil
	}
	return "", arrayerr.Format(key, keyLegacyGzip, fmt.Sprintf("expected True or False, got %q", raw))
}
