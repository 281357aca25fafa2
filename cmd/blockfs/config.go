// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "BLOCKFS"

// configKey is an option that may be set from a config file, the environment
// or a flag. The key is the one understood by blockfs.Options.Parse; the flag
// name uses dashes instead of underscores.
type configKey struct {
	key   string
	usage string
}

var configKeys = []configKey{
	{"block_length", "length of new data blocks and directory tables"},
	{"block_table_length", "length of block-table regions of new archives"},
	{"dir_compression", "directory table compression: none, snappy, minlz or zstd"},
	{"deallocation_bytes_per_sec", "pace of freed block write-back (0 disables pacing)"},
	{"dispose_timeout", "how long close waits for background deallocation"},
	{"background_workers", "size of the background worker pool"},
	{"max_concurrent_flushes", "number of directory tables written at once"},
	{"path_cache_size", "number of resolved paths cached"},
	{"scramble_freed_blocks", "overwrite freed blocks with random bytes"},
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// addConfigFlags defines a string flag per config key. The values are
// validated by blockfs.Options.Parse.
func addConfigFlags(flags *pflag.FlagSet) {
	for _, k := range configKeys {
		flags.String(flagName(k.key), "", k.usage)
	}
}

// loadConfig layers the config file, the BLOCKFS_* environment and the
// changed flags.
func loadConfig(file string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, k := range configKeys {
		if f := flags.Lookup(flagName(k.key)); f != nil {
			if err := v.BindPFlag(k.key, f); err != nil {
				return nil, err
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading %s", file)
		}
	}
	return v, nil
}

// applyConfig parses the keys set in v into opts.
func applyConfig(v *viper.Viper, opts *blockfs.Options) error {
	var buf strings.Builder
	buf.WriteString("[Options]\n")
	for _, k := range configKeys {
		if s := v.GetString(k.key); s != "" {
			fmt.Fprintf(&buf, "  %s=%s\n", k.key, s)
		}
	}
	return opts.Parse(buf.String())
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
