package boiledrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

type (
	studentRow struct {
		ID           string      `boil:"id"`
		FirstName    null.String `boil:"first_name"`
		LastName     null.String `boil:"last_name"`
		EnrollmentNo null.String `boil:"enrollment_no"`
	}

	subjectRow struct {
		ID   string      `boil:"id"`
		Name null.String `boil:"name"`
		Code null.String `boil:"code"`
	}

	examRow struct {
		ID         string       `boil:"id"`
		Name       null.String  `boil:"name"`
		ExamType   null.String  `boil:"exam_type"`
		TotalMarks null.Float64 `boil:"total_marks"`
	}
)

func (row studentRow) unboil() marks.StudentInfo {
	return marks.StudentInfo{
		ID:           row.ID,
		FirstName:    row.FirstName.String,
		LastName:     row.LastName.String,
		EnrollmentNo: row.EnrollmentNo.String,
	}
}

type rosterRepository struct {
	exec     core.DBExecutor
	bindType int
}

var (
	_ marks.RosterSource    = (*rosterRepository)(nil) // interface compliance check
	_ marks.ReferenceSource = (*rosterRepository)(nil)
)

// NewRosterRepository returns the read-only enrollment & reference data source.
// driverName selects the placeholder style of the queries.
func NewRosterRepository(exec core.DBExecutor, driverName string) *rosterRepository {
	return &rosterRepository{exec: exec, bindType: sqlx.BindType(driverName)}
}

// raw builds a query written with "?" placeholders, expanding slice arguments.
func (repo rosterRepository) raw(query string, args ...interface{}) (*queries.Query, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	return queries.Raw(sqlx.Rebind(repo.bindType, query), args...), nil
}

func (repo rosterRepository) StudentsInBranchAndSemester(ctx context.Context, branch string, semester int) ([]marks.StudentInfo, error) {
	q, err := repo.raw(
		"SELECT id, first_name, last_name, enrollment_no FROM students WHERE branch = ? AND semester = ? ORDER BY enrollment_no, id",
		branch, semester)
	if err != nil {
		return nil, errors.Wrap(err, "building students query")
	}

	var rows []studentRow
	if err = q.Bind(ctx, repo.exec, &rows); err != nil {
		return nil, core.NewStoreError("querying students", err)
	}
	students := make([]marks.StudentInfo, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.unboil())
	}
	return students, nil
}

func (repo rosterRepository) StudentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	q := sqlx.Rebind(repo.bindType, "SELECT EXISTS (SELECT 1 FROM students WHERE id = ?)")
	if err := repo.exec.QueryRowContext(ctx, q, id).Scan(&exists); err != nil {
		return false, core.NewStoreError("checking student", err)
	}
	return exists, nil
}

func (repo rosterRepository) StudentsByID(ctx context.Context, ids []string) (map[string]marks.StudentInfo, error) {
	found := make(map[string]marks.StudentInfo, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	q, err := repo.raw("SELECT id, first_name, last_name, enrollment_no FROM students WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "building students query")
	}

	var rows []studentRow
	if err = q.Bind(ctx, repo.exec, &rows); err != nil {
		return nil, core.NewStoreError("resolving students", err)
	}
	for _, row := range rows {
		found[row.ID] = row.unboil()
	}
	return found, nil
}

func (repo rosterRepository) SubjectsByID(ctx context.Context, ids []string) (map[string]marks.SubjectInfo, error) {
	found := make(map[string]marks.SubjectInfo, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	q, err := repo.raw("SELECT id, name, code FROM subjects WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "building subjects query")
	}

	var rows []subjectRow
	if err = q.Bind(ctx, repo.exec, &rows); err != nil {
		return nil, core.NewStoreError("resolving subjects", err)
	}
	for _, row := range rows {
		found[row.ID] = marks.SubjectInfo{ID: row.ID, Name: row.Name.String, Code: row.Code.String}
	}
	return found, nil
}

func (repo rosterRepository) ExamsByID(ctx context.Context, ids []string) (map[string]marks.ExamInfo, error) {
	found := make(map[string]marks.ExamInfo, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	q, err := repo.raw("SELECT id, name, exam_type, total_marks FROM exams WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "building exams query")
	}

	var rows []examRow
	if err = q.Bind(ctx, repo.exec, &rows); err != nil {
		return nil, core.NewStoreError("resolving exams", err)
	}
	for _, row := range rows {
		found[row.ID] = marks.ExamInfo{ID: row.ID, Name: row.Name.String, ExamType: row.ExamType.String, TotalMarks: row.TotalMarks.Float64}
	}
	return found, nil
}
