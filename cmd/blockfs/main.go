// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/cockroachdb/blockfs"
	"github.com/cockroachdb/blockfs/tool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "blockfs [command] (flags)",
	Short: "blockfs archive introspection and benchmarking tool",
	Long: `
Inspect and modify blockfs archives. Options are read from --config, from
BLOCKFS_* environment variables and from the flags, in increasing order of
precedence.
`,
	SilenceUsage: true,
}

func main() {
	log.SetFlags(0)

	t := tool.New()
	var logger *zap.Logger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(verbose)
		if err != nil {
			return err
		}
		v, err := loadConfig(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		opts := t.Options()
		if err := applyConfig(v, opts); err != nil {
			return err
		}
		sugar := logger.Sugar()
		opts.Logger = sugar
		if verbose {
			l := blockfs.MakeLoggingEventListener(sugar)
			opts.EventListener = &l
		} else {
			opts.EventListener = &blockfs.EventListener{}
		}
		opts.EnsureDefaults()
		sugar.Debugw("opening archives with", "options", opts.String())
		return nil
	}

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(t.Commands...)
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a yaml, json or toml options file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log archive events")

	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
