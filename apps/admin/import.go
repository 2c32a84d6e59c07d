package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-marks/core/marks"
)

const (
	studentColumn = "student_id"
	scoreColumn   = "marks_obtained"
)

// readMarksCSV reads the student_id & marks_obtained columns of r, in any order.
// An empty score is kept as nil so that the engine rejects that row alone.
func readMarksCSV(r io.Reader) ([]marks.MarkInput, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	studentIdx, scoreIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case studentColumn:
			studentIdx = i
		case scoreColumn:
			scoreIdx = i
		}
	}
	if studentIdx < 0 || scoreIdx < 0 {
		return nil, fmt.Errorf("header must contain %q and %q", studentColumn, scoreColumn)
	}

	var inputs []marks.MarkInput
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", line)
		}

		in := marks.MarkInput{StudentID: strings.TrimSpace(record[studentIdx])}
		if raw := strings.TrimSpace(record[scoreIdx]); raw != "" {
			score, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, scoreColumn, raw)
			}
			in.MarksObtained = &score
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (cli *commandLine) importCmd() *cobra.Command {
	var (
		path string
		nms  marks.NewMarks
	)
	cmd := &cobra.Command{
		Use:   "import -f FILE --subject SUBJECT --exam EXAM --semester N",
		Short: "Submit the marks of a CSV file (student_id,marks_obtained) for one subject & exam",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			if nms.Marks, err = readMarksCSV(f); err != nil {
				return errors.Wrap(err, path)
			}

			res, err := cli.svc.UpsertBulk(cmd.Context(), nms)
			if res.Items == nil {
				return err
			}
			cli.printBulkResult(res)
			if err != nil {
				return errors.Wrap(err, "marks were not submitted")
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d marks could not be submitted", res.Failed, len(res.Items))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&path, "file", "f", "", "CSV file")
	flags.StringVar(&nms.SubjectID, "subject", "", "subject ID")
	flags.StringVar(&nms.ExamID, "exam", "", "exam ID")
	flags.IntVar(&nms.Semester, "semester", 0, "semester")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (cli *commandLine) printBulkResult(res marks.BulkResult) {
	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Line", "Student", "Status", "Detail"})
	for _, item := range res.Items {
		status, detail := color.GreenString("ok"), ""
		if item.OK() {
			detail = formatScore(item.Mark.MarksObtained)
		} else {
			status, detail = color.RedString("failed"), item.Error
		}
		table.Append([]string{strconv.Itoa(item.Index + 2), item.StudentID, status, detail})
	}
	table.Render()
	fmt.Fprintf(cli.out, "%d succeeded, %d failed (%s)\n", res.Succeeded, res.Failed, res.Policy)
}
