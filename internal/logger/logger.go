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

// Package logger wires log/slog to the configured severity and, when a log
// file is set, to a lumberjack-rotated file.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edenfs-go/edenfs/cfg"
)

// New builds the process-wide logger for the given logging config. Callers
// typically install the result with slog.SetDefault.
func New(c cfg.LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stderr
	if c.File != "" {
		w = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level(c.Severity)})
	return slog.New(h)
}

func level(s cfg.LogSeverity) slog.Level {
	switch strings.ToUpper(string(s)) {
	case string(cfg.TraceLogSeverity), string(cfg.DebugLogSeverity):
		return slog.LevelDebug
	case string(cfg.WarningLogSeverity):
		return slog.LevelWarn
	case string(cfg.ErrorLogSeverity):
		return slog.LevelError
	case string(cfg.OffLogSeverity):
		return slog.Level(1 << 10)
	default:
		return slog.LevelInfo
	}
}
