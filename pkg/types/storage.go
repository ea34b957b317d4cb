// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// StorageType identifies the object store implementation
type StorageType string

const (
	StorageTypeMemory StorageType = "memory" // In-process map, for tests and dry runs
	StorageTypeLocal  StorageType = "local"  // Local filesystem
	StorageTypeS3     StorageType = "s3"     // S3-compatible
)

// BackendConfig contains configuration for creating an object store instance
type BackendConfig struct {
	Type      StorageType       `json:"type" mapstructure:"type"`
	Endpoint  string            `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Bucket    string            `json:"bucket,omitempty" mapstructure:"bucket"`
	Path      string            `json:"path,omitempty" mapstructure:"path"`
	Region    string            `json:"region,omitempty" mapstructure:"region"`
	AccessKey string            `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string            `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Options   map[string]string `json:"options,omitempty" mapstructure:"options"`

	// Limits overrides the store's default upload limits when non-zero.
	Limits Limits `json:"limits,omitempty" mapstructure:"limits"`
}

// LimitsOr returns the configured limits, or def when none are set.
func (c BackendConfig) LimitsOr(def Limits) Limits {
	if c.Limits == (Limits{}) {
		return def
	}
	return c.Limits
}
