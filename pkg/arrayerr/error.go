// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package arrayerr defines the error taxonomy shared by the array codec
// packages. Every error carries a Kind so callers can branch with errors.Is
// against the exported sentinels, and decode errors carry the object key and
// the metadata field that failed validation.
package arrayerr

import (
	"errors"
	"strings"
)

// Kind classifies a codec error.
type Kind int

const (
	KindNone Kind = iota
	// KindFormat covers byte length/shape mismatches and unknown dtype/order tags.
	KindFormat
	// KindUnknownCodec is returned when a named compression codec is not registered.
	KindUnknownCodec
	// KindSizeLimit is returned when a payload, chunk or part violates a store constant.
	KindSizeLimit
	// KindIncompleteUpload is returned when a multipart completion has missing or misordered tags.
	KindIncompleteUpload
	// KindNotFound is returned when a referenced object or manifest is absent.
	KindNotFound
	// KindUnsupportedFamily is returned by sparse decode for unrecognized family tags.
	KindUnsupportedFamily
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "FormatError"
	case KindUnknownCodec:
		return "UnknownCodec"
	case KindSizeLimit:
		return "SizeLimitError"
	case KindIncompleteUpload:
		return "IncompleteUploadError"
	case KindNotFound:
		return "NotFoundError"
	case KindUnsupportedFamily:
		return "UnsupportedFamilyError"
	default:
		return "Error"
	}
}

// Sentinels for errors.Is matching.
var (
	ErrFormat            = &Error{Kind: KindFormat}
	ErrUnknownCodec      = &Error{Kind: KindUnknownCodec}
	ErrSizeLimit         = &Error{Kind: KindSizeLimit}
	ErrIncompleteUpload  = &Error{Kind: KindIncompleteUpload}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnsupportedFamily = &Error{Kind: KindUnsupportedFamily}
)

// Error is a codec error with its kind, the object key and metadata field
// involved (either may be empty) and an optional cause.
type Error struct {
	Kind    Kind
	Key     string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Key != "" {
		b.WriteString(": ")
		b.WriteString(e.Key)
	}
	if e.Field != "" {
		b.WriteString(": field ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithKey returns a copy of the error bound to key, unless a key is already set.
func (e *Error) WithKey(key string) *Error {
	cp := *e
	if cp.Key == "" {
		cp.Key = key
	}
	return &cp
}

// Format builds a FormatError for key/field.
func Format(key, field, msg string) *Error {
	return &Error{Kind: KindFormat, Key: key, Field: field, Message: msg}
}

// UnknownCodec builds an UnknownCodec error for the codec name.
func UnknownCodec(key, name string) *Error {
	return &Error{Kind: KindUnknownCodec, Key: key, Field: "compression", Message: "codec " + name + " is not available"}
}

// SizeLimit builds a SizeLimitError.
func SizeLimit(msg string) *Error {
	return &Error{Kind: KindSizeLimit, Message: msg}
}

// IncompleteUpload builds an IncompleteUploadError for key.
func IncompleteUpload(key, msg string) *Error {
	return &Error{Kind: KindIncompleteUpload, Key: key, Message: msg}
}

// NotFound builds a NotFoundError for key, wrapping the store error.
func NotFound(key string, err error) *Error {
	return &Error{Kind: KindNotFound, Key: key, Err: err}
}

// UnsupportedFamily builds an UnsupportedFamilyError for a sparse manifest.
func UnsupportedFamily(key, family string) *Error {
	return &Error{Kind: KindUnsupportedFamily, Key: key, Field: "type", Message: "unrecognized sparse family " + family}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
