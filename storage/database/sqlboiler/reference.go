package boiledrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

const (
	upsertStudentQuery = `INSERT INTO students (id, first_name, last_name, enrollment_no, branch, semester)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name,
	enrollment_no = excluded.enrollment_no, branch = excluded.branch, semester = excluded.semester`

	upsertSubjectQuery = `INSERT INTO subjects (id, name, code) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, code = excluded.code`

	upsertExamQuery = `INSERT INTO exams (id, name, exam_type, total_marks) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, exam_type = excluded.exam_type, total_marks = excluded.total_marks`
)

// ReferenceWriter saves the reference data the marks engine reads: students, subjects & exams.
// Saving an existing ID overwrites it.
type ReferenceWriter struct {
	exec     core.DBExecutor
	bindType int
}

func NewReferenceWriter(exec core.DBExecutor, driverName string) *ReferenceWriter {
	return &ReferenceWriter{exec: exec, bindType: sqlx.BindType(driverName)}
}

func (w ReferenceWriter) save(ctx context.Context, op, query string, args ...interface{}) error {
	q := queries.Raw(sqlx.Rebind(w.bindType, query), args...)
	if _, err := q.ExecContext(ctx, w.exec); err != nil {
		return core.NewStoreError(op, err)
	}
	return nil
}

func (w ReferenceWriter) SaveStudent(ctx context.Context, st marks.StudentInfo, branch string, semester int) error {
	return w.save(ctx, "saving student", upsertStudentQuery,
		st.ID, st.FirstName, st.LastName, st.EnrollmentNo, branch, semester)
}

func (w ReferenceWriter) SaveSubject(ctx context.Context, sub marks.SubjectInfo) error {
	return w.save(ctx, "saving subject", upsertSubjectQuery, sub.ID, sub.Name, sub.Code)
}

func (w ReferenceWriter) SaveExam(ctx context.Context, ex marks.ExamInfo) error {
	return w.save(ctx, "saving exam", upsertExamQuery, ex.ID, ex.Name, ex.ExamType, ex.TotalMarks)
}
