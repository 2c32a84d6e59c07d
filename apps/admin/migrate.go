package main

import (
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-marks/storage/database"
)

var gooseRunFunc = goose.RunContext // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, up-to, down, down-to, redo, reset, status, version)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := database.PrepareMigrations(cli.engine); err != nil {
				return err
			}
			return gooseRunFunc(cmd.Context(), args[0], cli.db, database.MigrationsDir, args[1:]...)
		},
	}
}
