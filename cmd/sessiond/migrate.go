package main

import (
	"fmt"

	auth "github.com/goliatone/go-session-auth"
	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			group, err := auth.Migrate(cmd.Context(), rt.db)
			if err != nil {
				return err
			}

			if group.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "No new migrations to run.")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrated to %s\n", group)
			return nil
		},
	}
}
