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

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one mount, assembled by
// viper from flags, a config file and defaults, then decoded into this
// struct via mapstructure with DecodeHook().
type Config struct {
	Overlay   OverlayConfig     `yaml:"overlay" mapstructure:"overlay"`
	Store     ObjectStoreConfig `yaml:"store" mapstructure:"store"`
	Mount     MountConfig       `yaml:"mount" mapstructure:"mount"`
	Checkout  CheckoutConfig    `yaml:"checkout" mapstructure:"checkout"`
	Logging   LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Debug     DebugConfig       `yaml:"debug" mapstructure:"debug"`
	Telemetry TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
}

// TelemetryConfig controls the optional Prometheus metrics endpoint and
// OpenTelemetry tracing exporter. Both are off (nil Registry, no-op
// Tracer) unless explicitly enabled.
type TelemetryConfig struct {
	MetricsAddr   string `yaml:"metrics-addr" mapstructure:"metrics-addr"`
	TracingStdout bool   `yaml:"tracing-stdout" mapstructure:"tracing-stdout"`
}

// ObjectStoreConfig points at the local loose-object directory standing in
// for the real networked source-control backend (out of scope for this
// module; see objectstore.LocalStore).
type ObjectStoreConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// OverlayConfig controls the on-disk sharded store that backs materialized
// directories and files.
type OverlayConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	CaseSensitive bool   `yaml:"case-sensitive" mapstructure:"case-sensitive"`
}

// MountConfig controls where and how the filesystem is exported to the
// kernel.
type MountConfig struct {
	Point    string `yaml:"point" mapstructure:"point"`
	ReadOnly bool   `yaml:"read-only" mapstructure:"read-only"`
	// Commit is the 40-character hex hash recorded as the mount's parent
	// commit when it opens. The root directory keeps the overlay's contents;
	// Commit's tree is not checked out into it.
	Commit string `yaml:"commit" mapstructure:"commit"`
}

// CheckoutConfig controls the concurrent checkout engine.
type CheckoutConfig struct {
	PrefetchConcurrency int           `yaml:"prefetch-concurrency" mapstructure:"prefetch-concurrency"`
	LockTimeout         time.Duration `yaml:"lock-timeout" mapstructure:"lock-timeout"`
}

// DebugConfig controls diagnostic behavior with a performance cost, off by
// default.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation" mapstructure:"exit-on-invariant-violation"`
	LogMutex                 bool `yaml:"log-mutex" mapstructure:"log-mutex"`
}

// BindFlags registers every flag viper needs to assemble a Config and binds
// each to its config key.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("overlay-dir", "", "Directory backing the overlay's sharded on-disk store.")
	if err := viper.BindPFlag("overlay.dir", flagSet.Lookup("overlay-dir")); err != nil {
		return err
	}

	flagSet.Bool("case-sensitive", true, "Whether directory lookups are case-sensitive.")
	if err := viper.BindPFlag("overlay.case-sensitive", flagSet.Lookup("case-sensitive")); err != nil {
		return err
	}

	flagSet.String("store-dir", "", "Directory holding the local loose-object store.")
	if err := viper.BindPFlag("store.dir", flagSet.Lookup("store-dir")); err != nil {
		return err
	}

	flagSet.Bool("read-only", false, "Mount the filesystem read-only.")
	if err := viper.BindPFlag("mount.read-only", flagSet.Lookup("read-only")); err != nil {
		return err
	}

	flagSet.String("commit", "", "Root tree hash recorded as the mount's parent commit; its tree is not checked out.")
	if err := viper.BindPFlag("mount.commit", flagSet.Lookup("commit")); err != nil {
		return err
	}

	flagSet.Int("checkout-prefetch-concurrency", 0, "Object-store tree fetches started per second during one checkout, with an equal burst; it does not cap fetches in flight (0 = unbounded).")
	if err := viper.BindPFlag("checkout.prefetch-concurrency", flagSet.Lookup("checkout-prefetch-concurrency")); err != nil {
		return err
	}

	flagSet.Duration("checkout-lock-timeout", 500*time.Millisecond, "Max wait to acquire the parent-commit lock before a checkout fails with CHECKOUT_IN_PROGRESS.")
	if err := viper.BindPFlag("checkout.lock-timeout", flagSet.Lookup("checkout-lock-timeout")); err != nil {
		return err
	}

	flagSet.String("log-severity", string(InfoLogSeverity), "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-file", "", "Path to the log file, or empty for stderr.")
	if err := viper.BindPFlag("logging.file", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.Bool("debug-invariants", false, "Exit the process when an internal invariant is violated.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.Bool("debug-mutex", false, "Log when a mutex is held longer than expected.")
	if err := viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.String("metrics-addr", "", "Address to serve Prometheus /metrics on, or empty to disable.")
	if err := viper.BindPFlag("telemetry.metrics-addr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	flagSet.Bool("tracing-stdout", false, "Emit OpenTelemetry spans as JSON to stdout.")
	if err := viper.BindPFlag("telemetry.tracing-stdout", flagSet.Lookup("tracing-stdout")); err != nil {
		return err
	}

	return nil
}
