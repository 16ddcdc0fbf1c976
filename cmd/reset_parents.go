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

package cmd

import (
	"fmt"

	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"

	"github.com/edenfs-go/edenfs/mount"
	"github.com/edenfs-go/edenfs/objectstore"
)

var resetParentsCmd = &cobra.Command{
	Use:   "reset-parents overlay_dir parent_hash",
	Short: "Rewrite the mount's recorded parent commit without touching the working copy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, err := decodeHash(args[1])
		if err != nil {
			return err
		}

		store, err := objectstore.OpenLocalStore(Config.Store.Dir)
		if err != nil {
			return fmt.Errorf("cmd: opening object store: %w", err)
		}

		m, err := mount.Open(args[0], store, timeutil.RealClock(), parent)
		if err != nil {
			return fmt.Errorf("cmd: opening mount: %w", err)
		}
		if err := m.Start(); err != nil {
			return fmt.Errorf("cmd: starting mount: %w", err)
		}

		m.ResetParents(parent)
		fmt.Fprintf(cmd.OutOrStdout(), "parent reset to %s\n", parent)
		return nil
	},
}
