package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"apex-guard/internal/db"
)

func newMigrateCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL schema",
		Long: `Runs the versioned SQL migrations embedded in the binary against the
database named by DATABASE_URL (or DB_HOST, DB_PORT and friends).
SQLite deployments are migrated automatically at startup instead.`,
	}

	open := func() (*db.MigrationRunner, error) {
		if state.cfg.Database.Driver != db.DriverPostgres {
			return nil, errors.New("migrate only supports the postgres driver")
		}
		return db.NewMigrationRunner(state.cfg.Database.DSN(), state.logger)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				if err := r.Up(); err != nil {
					return err
				}
				return printStatus(cmd, r)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("invalid step count %q", args[0])
					}
					steps = n
				}
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				if err := r.Down(steps); err != nil {
					return err
				}
				return printStatus(cmd, r)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				return printStatus(cmd, r)
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without migrating, to clear a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				r, err := open()
				if err != nil {
					return err
				}
				defer r.Close()
				if err := r.Force(v); err != nil {
					return err
				}
				return printStatus(cmd, r)
			},
		},
	)
	return cmd
}

func printStatus(cmd *cobra.Command, r *db.MigrationRunner) error {
	status, err := r.Version()
	if err != nil {
		return err
	}
	dirty := ""
	if status.Dirty {
		dirty = " (dirty)"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d%s\n", status.Version, dirty)
	return err
}
