// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeeDigitalWorks/zaparray/pkg/logger"
	"github.com/LeeDigitalWorks/zaparray/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zaparray",
	Short: "zaparray - numeric arrays in object storage",
	Long: `zaparray stores numeric arrays in an object store as self-describing
objects. Large arrays are uploaded in parts or split into chunks that can be
read back independently, and sparse matrices are stored as their dense
constituents.`,
	SilenceUsage:      true,
	PersistentPreRunE: initialize,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	f.String("log_level", "info", "Log level (debug, info, warn, error)")
	f.Bool("log_pretty", false, "Human readable console logs")

	// Store selection; backend.* in the config file holds the full set
	f.String("store", "", "Object store type (memory, local, s3). Default: local")
	f.String("path", "", "Root directory for the local store")
	f.String("bucket", "", "Bucket for the s3 store")
	f.String("endpoint", "", "Endpoint URL for S3-compatible stores")
	f.String("region", "", "Region for the s3 store")

	// Encoding
	f.String("compression", "none", "Compression codec (none, gzip, lz4, zstd, s2)")
	f.String("gzip_fallback", "zstd", "Codec used instead of gzip for payloads of 2 GiB or more")
	f.Bool("checksum", true, "Record a CRC-64/NVME of every stored payload")
	f.Int("concurrency", 4, "Parts or chunks in flight")
	f.Int("rate_limit", 0, "Store requests per second (0 = unlimited)")

	// Encryption
	f.StringSlice("recipient", nil, "age public key to encrypt to (repeatable)")
	f.String("identity_file", "", "age identity file used to decrypt")

	viper.BindPFlags(f)
}

func initialize(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("zaparray", false)

	fl := NewFlagLoader(cmd)
	level, err := zerolog.ParseLevel(fl.String("log_level"))
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if fl.Bool("log_pretty") {
		logger.SetOutput(os.Stderr, true)
	}
	return nil
}

// Execute runs the root command. An interrupt cancels the running command,
// which aborts any multipart upload in flight.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
