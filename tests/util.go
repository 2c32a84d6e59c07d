package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
	"github.com/trezcool/masomo-marks/storage/database"
)

// PrepareDB opens a migrated in-memory sqlite database, closed when the test ends.
func PrepareDB(t *testing.T) *sql.DB {
	t.Helper()
	conf := &core.Config{Database: core.DatabaseConfig{Engine: core.EngineSQLite, Path: ":memory:"}}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db, conf.Database.Engine); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func SeedStudent(t *testing.T, db *sql.DB, st marks.StudentInfo, branch string, semester int) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO students (id, first_name, last_name, enrollment_no, branch, semester) VALUES (?, ?, ?, ?, ?, ?)",
		st.ID, st.FirstName, st.LastName, st.EnrollmentNo, branch, semester)
	if err != nil {
		t.Fatalf("SeedStudent() failed: %v", err)
	}
}

func SeedSubject(t *testing.T, db *sql.DB, sub marks.SubjectInfo) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO subjects (id, name, code) VALUES (?, ?, ?)", sub.ID, sub.Name, sub.Code); err != nil {
		t.Fatalf("SeedSubject() failed: %v", err)
	}
}

func SeedExam(t *testing.T, db *sql.DB, ex marks.ExamInfo) {
	t.Helper()
	_, err := db.Exec(
		"INSERT INTO exams (id, name, exam_type, total_marks) VALUES (?, ?, ?, ?)",
		ex.ID, ex.Name, ex.ExamType, ex.TotalMarks)
	if err != nil {
		t.Fatalf("SeedExam() failed: %v", err)
	}
}

// CreateMark stores a mark for key directly through repo.
func CreateMark(t *testing.T, repo marks.Repository, key marks.Key, score float64, createdAt ...time.Time) marks.Mark {
	t.Helper()
	tstamp := time.Now().UTC().Truncate(time.Microsecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	mark, err := repo.CreateMark(context.Background(), marks.Mark{
		ID:            uuid.New().String(),
		StudentID:     key.StudentID,
		SubjectID:     key.SubjectID,
		ExamID:        key.ExamID,
		Semester:      key.Semester,
		MarksObtained: score,
		CreatedAt:     tstamp,
		UpdatedAt:     tstamp,
	})
	if err != nil {
		t.Fatalf("CreateMark() failed: %v", err)
	}
	return mark
}

// NewValidator returns a validator & translator set up the way the apps set them up.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	marks.InitValidators(validate, translator)
	return validate, translator
}
