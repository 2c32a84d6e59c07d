package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-marks/core/marks"
)

type marksService interface {
	UpsertBulk(ctx context.Context, nms marks.NewMarks) (marks.BulkResult, error)
	ComposeRoster(ctx context.Context, rq marks.RosterQuery) ([]marks.RosterEntry, error)
}

type commandLine struct {
	db     *sql.DB
	engine string
	svc    marksService
	out    io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "Masomo marks administration",
		Long: `Administer the marks database.

Available commands:
  migrate - run a goose migration command
  seed    - load students, subjects & exams from a YAML file
  roster  - print the marks roster of a class
  import  - submit a subject's marks from a CSV file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(cli.migrateCmd(), cli.seedCmd(), cli.rosterCmd(), cli.importCmd())
	return root
}

// run executes the command line args (without the program name).
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
