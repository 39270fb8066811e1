// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/lure/internal/daemon"
	"github.com/ManuGH/lure/internal/persistence/sqlite"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := opts.load()
			if err != nil {
				return err
			}
			st, err := daemon.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Database.Path, err)
			}
			defer st.Close()

			v, err := sqlite.SchemaVersion(cmd.Context(), st.DB())
			if err != nil {
				return err
			}
			cmd.Printf("database %s at schema version %d\n", cfg.Database.Path, v)
			return nil
		},
	}
}
