package main

import (
	"fmt"

	"github.com/spf13/cobra"

	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the track database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(func(db *sqlite.DB) error {
					if err := db.MigrateUp(); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(func(db *sqlite.DB) error {
					if err := db.MigrateDown(); err != nil {
						return err
					}
					return printVersion(cmd, db)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(func(db *sqlite.DB) error {
					return printVersion(cmd, db)
				})
			},
		},
	)
	return cmd
}

func withDB(fn func(db *sqlite.DB) error) error {
	db, err := sqlite.Open(flagDB)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sqlite.DB) error {
	v, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d%s\n", db.Path(), v, suffix)
	return nil
}
