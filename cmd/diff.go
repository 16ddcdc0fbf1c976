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

var (
	diffEnforceCurrentParent bool
	diffFromHash             string
)

var diffCmd = &cobra.Command{
	Use:   "diff overlay_dir commit_hash",
	Short: "Report the conflicts a checkout of commit_hash would hit, without applying anything; paths that would change cleanly are not listed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := decodeHash(args[1])
		if err != nil {
			return err
		}
		from, err := decodeHash(diffFromHash)
		if err != nil {
			return err
		}

		store, err := objectstore.OpenLocalStore(Config.Store.Dir)
		if err != nil {
			return fmt.Errorf("cmd: opening object store: %w", err)
		}

		m, err := mount.Open(args[0], store, timeutil.RealClock(), from)
		if err != nil {
			return fmt.Errorf("cmd: opening mount: %w", err)
		}
		if err := m.Start(); err != nil {
			return fmt.Errorf("cmd: starting mount: %w", err)
		}

		cc, err := m.Diff(cmd.Context(), target, diffEnforceCurrentParent)
		if err != nil {
			return fmt.Errorf("cmd: diff: %w", err)
		}
		reportConflicts(cmd, cc)
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffEnforceCurrentParent, "enforce-current-parent", false,
		"Fail if commit_hash does not match the mount's current parent.")
	diffCmd.Flags().StringVar(&diffFromHash, "from", "", "The mount's last known parent hash (empty for a fresh overlay).")
}
