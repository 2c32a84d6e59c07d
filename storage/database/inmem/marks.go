package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

type markRepository struct {
	db   *DB
	inTx bool
}

var _ marks.Repository = (*markRepository)(nil) // interface compliance check

func NewMarkRepository(db *DB) marks.Repository {
	return &markRepository{db: db}
}

// begin holds the DB transaction lock for the duration of a write outside Atomically.
func (repo *markRepository) begin() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.tx.Lock()
	return repo.db.tx.Unlock
}

func (repo *markRepository) query() []marks.Mark {
	ms := make([]marks.Mark, 0, len(repo.db.mark.table))
	for _, m := range repo.db.mark.table {
		ms = append(ms, *m)
	}
	return ms
}

func (repo *markRepository) GetMarkByKey(ctx context.Context, key marks.Key) (marks.Mark, error) {
	if err := ctx.Err(); err != nil {
		return marks.Mark{}, err
	}
	repo.db.mark.RLock()
	defer repo.db.mark.RUnlock()

	if id, ok := repo.db.mark.keys[key]; ok {
		return *repo.db.mark.table[id], nil
	}
	return marks.Mark{}, core.NewNotFoundError("marks", key.String())
}

func (repo *markRepository) CreateMark(ctx context.Context, mark marks.Mark) (marks.Mark, error) {
	if err := ctx.Err(); err != nil {
		return marks.Mark{}, err
	}
	defer repo.begin()()
	repo.db.mark.Lock()
	defer repo.db.mark.Unlock()

	if _, exists := repo.db.mark.keys[mark.Key()]; exists {
		return marks.Mark{}, core.NewConflictError(mark.Key().String())
	}
	if _, exists := repo.db.mark.table[mark.ID]; exists {
		return marks.Mark{}, core.NewConflictError(mark.ID)
	}
	repo.db.mark.table[mark.ID] = &mark
	repo.db.mark.keys[mark.Key()] = mark.ID
	return mark, nil
}

func (repo *markRepository) UpdateMarkScore(ctx context.Context, id string, score float64, updatedAt time.Time) (marks.Mark, error) {
	if err := ctx.Err(); err != nil {
		return marks.Mark{}, err
	}
	defer repo.begin()()
	repo.db.mark.Lock()
	defer repo.db.mark.Unlock()

	mark, ok := repo.db.mark.table[id]
	if !ok {
		return marks.Mark{}, core.NewNotFoundError("marks", id)
	}
	mark.MarksObtained = score
	mark.UpdatedAt = updatedAt.UTC()
	return *mark, nil
}

func (repo *markRepository) DeleteMarkByID(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer repo.begin()()
	repo.db.mark.Lock()
	defer repo.db.mark.Unlock()

	mark, ok := repo.db.mark.table[id]
	if !ok {
		return false, nil
	}
	delete(repo.db.mark.keys, mark.Key())
	delete(repo.db.mark.table, id)
	return true, nil
}

func (repo *markRepository) QueryMarks(ctx context.Context, filter marks.QueryFilter, ordering []core.DBOrdering) ([]marks.Mark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.mark.RLock()
	defer repo.db.mark.RUnlock()

	filtered := make([]marks.Mark, 0)
	for _, m := range repo.query() {
		if filter.StudentID != "" && m.StudentID != filter.StudentID {
			continue
		}
		if filter.SubjectID != "" && m.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ExamID != "" && m.ExamID != filter.ExamID {
			continue
		}
		if filter.Semester != 0 && m.Semester != filter.Semester {
			continue
		}
		filtered = append(filtered, m)
	}
	sortMarks(filtered, ordering)
	return filtered, nil
}

func (repo *markRepository) QueryRosterMarks(ctx context.Context, subjectID, examID string, semester int, studentIDs []string) ([]marks.Mark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.mark.RLock()
	defer repo.db.mark.RUnlock()

	found := make([]marks.Mark, 0, len(studentIDs))
	for _, id := range studentIDs {
		key := marks.Key{StudentID: id, SubjectID: subjectID, ExamID: examID, Semester: semester}
		if markID, ok := repo.db.mark.keys[key]; ok {
			found = append(found, *repo.db.mark.table[markID])
		}
	}
	return found, nil
}

// Atomically runs fn while holding the DB transaction lock and restores the marks table
// snapshot if fn fails.
func (repo *markRepository) Atomically(ctx context.Context, fn func(repo marks.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	repo.db.tx.Lock()
	defer repo.db.tx.Unlock()

	repo.db.mark.RLock()
	table := make(map[string]marks.Mark, len(repo.db.mark.table))
	for id, m := range repo.db.mark.table {
		table[id] = *m
	}
	repo.db.mark.RUnlock()

	if err := fn(&markRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.mark.Lock()
		repo.db.mark.table = make(map[string]*marks.Mark, len(table))
		repo.db.mark.keys = make(map[marks.Key]string, len(table))
		for id := range table {
			m := table[id]
			repo.db.mark.table[id] = &m
			repo.db.mark.keys[m.Key()] = id
		}
		repo.db.mark.Unlock()
		return err
	}
	return nil
}

func sortMarks(ms []marks.Mark, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = marks.DefaultOrdering
	}
	sort.SliceStable(ms, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareField(ms[i], ms[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compareField(a, b marks.Mark, field string) int {
	switch field {
	case "id":
		return strings.Compare(a.ID, b.ID)
	case "student_id":
		return strings.Compare(a.StudentID, b.StudentID)
	case "subject_id":
		return strings.Compare(a.SubjectID, b.SubjectID)
	case "exam_id":
		return strings.Compare(a.ExamID, b.ExamID)
	case "semester":
		return a.Semester - b.Semester
	case "marks_obtained":
		switch {
		case a.MarksObtained < b.MarksObtained:
			return -1
		case a.MarksObtained > b.MarksObtained:
			return 1
		}
		return 0
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	return 0
}
