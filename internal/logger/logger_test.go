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

package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edenfs-go/edenfs/cfg"
)

func TestNewLogsToFileWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	c := cfg.GetDefaultLoggingConfig()
	c.File = filepath.Join(dir, "eden.log")

	l := New(c)
	assert.NotNil(t, l)
	l.Info("hello")
}

func TestLevelMapping(t *testing.T) {
	assert.Equal(t, -4, int(level(cfg.DebugLogSeverity)))
	assert.True(t, level(cfg.OffLogSeverity) > level(cfg.ErrorLogSeverity))
}
