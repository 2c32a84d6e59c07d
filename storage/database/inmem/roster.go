package inmemdb

import (
	"context"

	"github.com/trezcool/masomo-marks/core/marks"
)

type rosterRepository struct {
	db *DB
}

var (
	_ marks.RosterSource    = (*rosterRepository)(nil) // interface compliance check
	_ marks.ReferenceSource = (*rosterRepository)(nil)
)

func NewRosterRepository(db *DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func (repo *rosterRepository) StudentsInBranchAndSemester(ctx context.Context, branch string, semester int) ([]marks.StudentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.enrolled.RLock()
	ids := append([]string(nil), repo.db.enrolled.table[enrollment{branch: branch, semester: semester}]...)
	repo.db.enrolled.RUnlock()

	repo.db.student.RLock()
	defer repo.db.student.RUnlock()
	students := make([]marks.StudentInfo, 0, len(ids))
	for _, id := range ids {
		if st, ok := repo.db.student.table[id]; ok {
			students = append(students, st)
		}
	}
	return students, nil
}

func (repo *rosterRepository) StudentExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	repo.db.student.RLock()
	defer repo.db.student.RUnlock()
	_, ok := repo.db.student.table[id]
	return ok, nil
}

func (repo *rosterRepository) StudentsByID(ctx context.Context, ids []string) (map[string]marks.StudentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.student.RLock()
	defer repo.db.student.RUnlock()
	found := make(map[string]marks.StudentInfo, len(ids))
	for _, id := range ids {
		if st, ok := repo.db.student.table[id]; ok {
			found[id] = st
		}
	}
	return found, nil
}

func (repo *rosterRepository) SubjectsByID(ctx context.Context, ids []string) (map[string]marks.SubjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.subject.RLock()
	defer repo.db.subject.RUnlock()
	found := make(map[string]marks.SubjectInfo, len(ids))
	for _, id := range ids {
		if sub, ok := repo.db.subject.table[id]; ok {
			found[id] = sub
		}
	}
	return found, nil
}

func (repo *rosterRepository) ExamsByID(ctx context.Context, ids []string) (map[string]marks.ExamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.exam.RLock()
	defer repo.db.exam.RUnlock()
	found := make(map[string]marks.ExamInfo, len(ids))
	for _, id := range ids {
		if ex, ok := repo.db.exam.table[id]; ok {
			found[id] = ex
		}
	}
	return found, nil
}
