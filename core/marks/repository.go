package marks

import (
	"context"
	"time"

	"github.com/trezcool/masomo-marks/core"
)

type (
	// Repository is the Score Store. Each call is atomic on its own.
	Repository interface {
		// GetMarkByKey returns a *core.NotFoundError when no Mark has this key.
		GetMarkByKey(ctx context.Context, key Key) (Mark, error)
		// CreateMark returns a *core.ConflictError when a Mark with the same key already exists.
		CreateMark(ctx context.Context, mark Mark) (Mark, error)
		// UpdateMarkScore returns a *core.NotFoundError when no Mark has this ID.
		UpdateMarkScore(ctx context.Context, id string, score float64, updatedAt time.Time) (Mark, error)
		// DeleteMarkByID reports whether a Mark was deleted.
		DeleteMarkByID(ctx context.Context, id string) (bool, error)
		QueryMarks(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Mark, error)
		// QueryRosterMarks returns the Marks of subject, exam and semester owned by one of studentIDs.
		QueryRosterMarks(ctx context.Context, subjectID, examID string, semester int, studentIDs []string) ([]Mark, error)
		// Atomically runs fn against a Repository whose writes are all committed or all discarded.
		Atomically(ctx context.Context, fn func(repo Repository) error) error
	}

	// RosterSource provides the read-only enrollment data.
	RosterSource interface {
		StudentsInBranchAndSemester(ctx context.Context, branch string, semester int) ([]StudentInfo, error)
		StudentExists(ctx context.Context, id string) (bool, error)
	}

	// ReferenceSource resolves display fields. Unknown IDs are simply absent from the returned maps.
	ReferenceSource interface {
		StudentsByID(ctx context.Context, ids []string) (map[string]StudentInfo, error)
		SubjectsByID(ctx context.Context, ids []string) (map[string]SubjectInfo, error)
		ExamsByID(ctx context.Context, ids []string) (map[string]ExamInfo, error)
	}
)
