// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/zaparray/pkg/arraystore"
	"github.com/LeeDigitalWorks/zaparray/pkg/compression"
	"github.com/LeeDigitalWorks/zaparray/pkg/encryption"
	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/objstore"
	"github.com/LeeDigitalWorks/zaparray/pkg/rawarray"
	"github.com/LeeDigitalWorks/zaparray/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultLocalPath = "./zaparray-data"

// backendConfig reads backend.* from the config file and applies the store
// flags on top.
func backendConfig(cmd *cobra.Command) (types.BackendConfig, error) {
	var cfg types.BackendConfig
	if err := viper.UnmarshalKey("backend", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid backend config: %w", err)
	}

	fl := NewFlagLoader(cmd)
	if v := fl.String("store"); v != "" {
		cfg.Type = types.StorageType(v)
	}
	if v := fl.String("path"); v != "" {
		cfg.Path = v
	}
	if v := fl.String("bucket"); v != "" {
		cfg.Bucket = v
	}
	if v := fl.String("endpoint"); v != "" {
		cfg.Endpoint = v
	}
	if v := fl.String("region"); v != "" {
		cfg.Region = v
	}

	if cfg.Type == "" {
		cfg.Type = types.StorageTypeLocal
	}
	if cfg.Type == types.StorageTypeLocal && cfg.Path == "" {
		cfg.Path = defaultLocalPath
	}
	if cfg.Limits != (types.Limits{}) {
		if err := cfg.Limits.Validate(); err != nil {
			return cfg, fmt.Errorf("invalid backend.limits: %w", err)
		}
	}
	return cfg, nil
}

// arrayOptions builds the encoding options from flags and config.
func arrayOptions(cmd *cobra.Command) (rawarray.Options, error) {
	fl := NewFlagLoader(cmd)
	opts := rawarray.DefaultOptions()

	algo, err := compression.ParseAlgorithm(fl.String("compression"))
	if err != nil {
		return opts, err
	}
	fallback, err := compression.ParseAlgorithm(fl.String("gzip_fallback"))
	if err != nil {
		return opts, err
	}
	opts.Compression = algo
	opts.Fallback = fallback
	opts.Checksum = fl.Bool("checksum")
	return opts, nil
}

// transform returns the configured age transform, or nil when no keys are
// configured.
func transform(cmd *cobra.Command) (encryption.Transform, error) {
	var cfg encryption.Config
	if err := viper.UnmarshalKey("encryption", &cfg); err != nil {
		return nil, fmt.Errorf("invalid encryption config: %w", err)
	}

	fl := NewFlagLoader(cmd)
	if r := fl.StringSlice("recipient"); len(r) > 0 {
		cfg.Recipients = r
	}
	if path := fl.String("identity_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		cfg.Identities = string(data)
	}

	if !cfg.Enabled() {
		return nil, nil
	}
	a, err := encryption.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openClient opens the configured store and wraps it in a client. The
// caller closes the returned store.
func openClient(cmd *cobra.Command) (*arraystore.Client, objstore.Store, error) {
	bcfg, err := backendConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	opts, err := arrayOptions(cmd)
	if err != nil {
		return nil, nil, err
	}
	tr, err := transform(cmd)
	if err != nil {
		return nil, nil, err
	}

	store, err := objstore.New(bcfg)
	if err != nil {
		return nil, nil, err
	}

	fl := NewFlagLoader(cmd)
	cfg := arraystore.Config{
		Array:       opts,
		Concurrency: fl.Int("concurrency"),
		RateLimit:   fl.Int("rate_limit"),
		Transform:   tr,
	}

	logger.Debug().
		Str("store", string(bcfg.Type)).
		Str("compression", string(opts.Compression)).
		Bool("encrypted", tr != nil).
		Str("limits", store.Limits().String()).
		Msg("opened store")
	return arraystore.New(store, cfg), store, nil
}
