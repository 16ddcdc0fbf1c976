// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the edenfs command line: a root command that
// mounts the filesystem, plus administrative subcommands that operate on
// an already-materialized overlay without going through the kernel.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edenfs-go/edenfs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error

	// Config is the fully resolved configuration for the current
	// invocation, populated by initConfig once flags have been parsed.
	Config cfg.Config
)

// NewRootCmd builds the root command, invoking mount instead of runMount
// once flags and positional args are resolved. Production code passes
// runMount; tests pass a fake to exercise flag/config wiring without
// actually mounting a filesystem.
func NewRootCmd(mount func(c *cfg.Config) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edenfs [flags] overlay_dir mount_point",
		Short: "Mount a source-control commit as a local FUSE filesystem",
		Long: `edenfs materializes a source-control commit on demand: directories and
files are loaded lazily from the object store and written back to a local
sharded overlay as they are read or modified.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bindErr != nil {
				return bindErr
			}
			if configFileErr != nil {
				return configFileErr
			}
			Config.Overlay.Dir = args[0]
			Config.Mount.Point = args[1]
			return mount(&Config)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(checkoutCmd)
	cmd.AddCommand(diffCmd)
	cmd.AddCommand(resetParentsCmd)
	return cmd
}

var rootCmd = NewRootCmd(func(c *cfg.Config) error {
	return runMount(context.Background(), c)
})

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if cfgFile == "" {
		configFileErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
		return
	}

	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	configFileErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
}

// Execute runs the root command, printing any error and setting a nonzero
// exit status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
