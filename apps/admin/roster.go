package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-marks/core/marks"
)

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (cli *commandLine) rosterCmd() *cobra.Command {
	var rq marks.RosterQuery
	cmd := &cobra.Command{
		Use:   "roster --branch BRANCH --subject SUBJECT --exam EXAM --semester N",
		Short: "Print every student of a class with their mark, 0 when not entered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := cli.svc.ComposeRoster(cmd.Context(), rq)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cli.out, "No students found for the specified criteria")
				return nil
			}

			fmt.Fprintln(cli.out, color.YellowString("\n%s | %s | %s | semester %d", rq.Branch, rq.SubjectID, rq.ExamID, rq.Semester))
			table := tablewriter.NewWriter(cli.out)
			table.SetHeader([]string{"Enrollment No", "Student", "Marks", "Entered"})
			for _, e := range entries {
				entered := "-"
				if e.Entered {
					entered = "yes"
				}
				name := marks.StudentInfo{FirstName: e.FirstName, LastName: e.LastName}.Name()
				table.Append([]string{e.EnrollmentNo, name, formatScore(e.MarksObtained), entered})
			}
			table.Render()
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&rq.Branch, "branch", "", "branch of the class")
	flags.StringVar(&rq.SubjectID, "subject", "", "subject ID")
	flags.StringVar(&rq.ExamID, "exam", "", "exam ID")
	flags.IntVar(&rq.Semester, "semester", 0, "semester of the class")
	return cmd
}
