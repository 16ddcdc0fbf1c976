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

	"github.com/edenfs-go/edenfs/checkout"
	"github.com/edenfs-go/edenfs/mount"
	"github.com/edenfs-go/edenfs/objectstore"
)

var (
	checkoutDryRun   bool
	checkoutForce    bool
	checkoutFromHash string
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout overlay_dir target_hash",
	Short: "Check out a commit into an already-initialized overlay",
	Long: `Reopens overlay_dir against --from (the mount's last known parent,
defaulting to the zero hash for a fresh overlay) and applies the diff
against target_hash. This one-shot form exists for scripting and tests;
a live mount tracks its parent itself across checkouts.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := decodeHash(args[1])
		if err != nil {
			return err
		}
		from, err := decodeHash(checkoutFromHash)
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

		mode := checkout.Normal
		switch {
		case checkoutDryRun:
			mode = checkout.DryRun
		case checkoutForce:
			mode = checkout.Force
		}

		cc, err := m.Checkout(cmd.Context(), target, mode)
		if err != nil {
			return fmt.Errorf("cmd: checkout: %w", err)
		}
		reportConflicts(cmd, cc)
		return nil
	},
}

func init() {
	checkoutCmd.Flags().BoolVar(&checkoutDryRun, "dry-run", false, "Report conflicts without changing the working copy.")
	checkoutCmd.Flags().BoolVar(&checkoutForce, "force", false, "Overwrite local modifications instead of reporting conflicts.")
	checkoutCmd.Flags().StringVar(&checkoutFromHash, "from", "", "The mount's last known parent hash (empty for a fresh overlay).")
}

func reportConflicts(cmd *cobra.Command, cc *checkout.Context) {
	conflicts := cc.Conflicts()
	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no conflicts")
		return
	}
	for _, c := range conflicts {
		fmt.Fprintln(cmd.OutOrStdout(), c.String())
	}
}
