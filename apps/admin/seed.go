package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-marks/core/marks"
	boiledrepos "github.com/trezcool/masomo-marks/storage/database/sqlboiler"
)

type (
	studentFixture struct {
		ID           string `yaml:"id"`
		FirstName    string `yaml:"first_name"`
		LastName     string `yaml:"last_name"`
		EnrollmentNo string `yaml:"enrollment_no"`
		Branch       string `yaml:"branch"`
		Semester     int    `yaml:"semester"`
	}

	subjectFixture struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Code string `yaml:"code"`
	}

	examFixture struct {
		ID         string  `yaml:"id"`
		Name       string  `yaml:"name"`
		ExamType   string  `yaml:"exam_type"`
		TotalMarks float64 `yaml:"total_marks"`
	}

	fixtures struct {
		Students []studentFixture `yaml:"students"`
		Subjects []subjectFixture `yaml:"subjects"`
		Exams    []examFixture    `yaml:"exams"`
	}
)

func loadFixtures(path string) (fixtures, error) {
	var fx fixtures
	f, err := os.Open(path)
	if err != nil {
		return fx, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&fx); err != nil {
		return fx, errors.Wrapf(err, "decoding %s", path)
	}

	for i, st := range fx.Students {
		if st.ID == "" || st.Branch == "" || st.Semester <= 0 {
			return fx, fmt.Errorf("students[%d]: id, branch and a positive semester are required", i)
		}
	}
	for i, sub := range fx.Subjects {
		if sub.ID == "" {
			return fx, fmt.Errorf("subjects[%d]: id is required", i)
		}
	}
	for i, ex := range fx.Exams {
		if ex.ID == "" {
			return fx, fmt.Errorf("exams[%d]: id is required", i)
		}
	}
	return fx, nil
}

func (cli *commandLine) seedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed -f FILE",
		Short: "Load students, subjects & exams from a YAML file, overwriting existing IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx, err := loadFixtures(path)
			if err != nil {
				return err
			}
			if err = cli.seed(cmd, fx); err != nil {
				return err
			}
			fmt.Fprintln(cli.out, color.GreenString("Seeded %d students, %d subjects and %d exams",
				len(fx.Students), len(fx.Subjects), len(fx.Exams)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "fixtures file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// seed saves fx in a single transaction.
func (cli *commandLine) seed(cmd *cobra.Command, fx fixtures) (err error) {
	ctx := cmd.Context()
	tx, err := cli.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	w := boiledrepos.NewReferenceWriter(tx, cli.engine)
	for _, st := range fx.Students {
		info := marks.StudentInfo{ID: st.ID, FirstName: st.FirstName, LastName: st.LastName, EnrollmentNo: st.EnrollmentNo}
		if err = w.SaveStudent(ctx, info, st.Branch, st.Semester); err != nil {
			return errors.Wrapf(err, "student %s", st.ID)
		}
	}
	for _, sub := range fx.Subjects {
		if err = w.SaveSubject(ctx, marks.SubjectInfo{ID: sub.ID, Name: sub.Name, Code: sub.Code}); err != nil {
			return errors.Wrapf(err, "subject %s", sub.ID)
		}
	}
	for _, ex := range fx.Exams {
		info := marks.ExamInfo{ID: ex.ID, Name: ex.Name, ExamType: ex.ExamType, TotalMarks: ex.TotalMarks}
		if err = w.SaveExam(ctx, info); err != nil {
			return errors.Wrapf(err, "exam %s", ex.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "committing fixtures")
}
