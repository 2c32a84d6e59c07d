package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

const (
	markColumns = "id, student_id, subject_id, exam_id, semester, marks_obtained, created_at, updated_at"

	pgUniqueViolation = "23505"
)

type markRepository struct {
	db   *sqlx.DB
	exec sqlx.ExtContext

	// set within Atomically: statements of one transaction share a connection and must not interleave
	txMu *sync.Mutex
}

var _ marks.Repository = (*markRepository)(nil) // interface compliance check

// NewMarkRepository returns the SQL Score Store. driverName is the name db was opened with.
func NewMarkRepository(db *sql.DB, driverName string) marks.Repository {
	xdb := sqlx.NewDb(db, driverName)
	xdb.Mapper = reflectx.NewMapperFunc("json", strings.ToLower)
	return &markRepository{db: xdb, exec: xdb}
}

func (repo *markRepository) lock() func() {
	if repo.txMu == nil {
		return func() {}
	}
	repo.txMu.Lock()
	return repo.txMu.Unlock
}

func (repo *markRepository) rebind(query string) string {
	return repo.db.Rebind(query)
}

// trapNoRowsErr maps "no rows" to a *core.NotFoundError and any other failure to a *core.StoreError.
func trapNoRowsErr(err error, id, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError("marks", id)
	}
	return core.NewStoreError(op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func utc(ms []marks.Mark) []marks.Mark {
	for i := range ms {
		ms[i].CreatedAt = ms[i].CreatedAt.UTC()
		ms[i].UpdatedAt = ms[i].UpdatedAt.UTC()
	}
	return ms
}

func (repo *markRepository) GetMarkByKey(ctx context.Context, key marks.Key) (marks.Mark, error) {
	defer repo.lock()()

	var mark marks.Mark
	q := repo.rebind("SELECT " + markColumns + " FROM marks WHERE student_id = ? AND subject_id = ? AND exam_id = ? AND semester = ?")
	if err := sqlx.GetContext(ctx, repo.exec, &mark, q, key.StudentID, key.SubjectID, key.ExamID, key.Semester); err != nil {
		return marks.Mark{}, trapNoRowsErr(err, key.String(), "finding mark by key")
	}
	return utc([]marks.Mark{mark})[0], nil
}

func (repo *markRepository) CreateMark(ctx context.Context, mark marks.Mark) (marks.Mark, error) {
	defer repo.lock()()

	mark.CreatedAt = mark.CreatedAt.UTC()
	mark.UpdatedAt = mark.UpdatedAt.UTC()
	q := repo.rebind("INSERT INTO marks (" + markColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	insert := func() error {
		_, err := repo.exec.ExecContext(ctx, q,
			mark.ID, mark.StudentID, mark.SubjectID, mark.ExamID, mark.Semester, mark.MarksObtained, mark.CreatedAt, mark.UpdatedAt)
		return err
	}

	var err error
	if repo.txMu != nil {
		// a failed statement must not abort the whole transaction
		err = repo.withSavepoint(ctx, "create_mark", insert)
	} else {
		err = insert()
	}
	if err != nil {
		if isUniqueViolation(err) {
			return marks.Mark{}, core.NewConflictError(mark.Key().String())
		}
		return marks.Mark{}, core.NewStoreError("inserting mark", err)
	}
	return mark, nil
}

func (repo *markRepository) withSavepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := repo.exec.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := repo.exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Wrap(rbErr, "rolling back to savepoint")
		}
		return err
	}
	_, err := repo.exec.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (repo *markRepository) UpdateMarkScore(ctx context.Context, id string, score float64, updatedAt time.Time) (marks.Mark, error) {
	defer repo.lock()()

	var mark marks.Mark
	q := repo.rebind("UPDATE marks SET marks_obtained = ?, updated_at = ? WHERE id = ? RETURNING " + markColumns)
	if err := sqlx.GetContext(ctx, repo.exec, &mark, q, score, updatedAt.UTC(), id); err != nil {
		return marks.Mark{}, trapNoRowsErr(err, id, "updating mark")
	}
	return utc([]marks.Mark{mark})[0], nil
}

func (repo *markRepository) DeleteMarkByID(ctx context.Context, id string) (bool, error) {
	defer repo.lock()()

	res, err := repo.exec.ExecContext(ctx, repo.rebind("DELETE FROM marks WHERE id = ?"), id)
	if err != nil {
		return false, core.NewStoreError("deleting mark", err)
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return false, core.NewStoreError("deleting mark", err)
	}
	return cnt > 0, nil
}

func (repo *markRepository) QueryMarks(ctx context.Context, filter marks.QueryFilter, ordering []core.DBOrdering) ([]marks.Mark, error) {
	defer repo.lock()()

	var where []string
	var args []interface{}
	if filter.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.ExamID != "" {
		where = append(where, "exam_id = ?")
		args = append(args, filter.ExamID)
	}
	if filter.Semester != 0 {
		where = append(where, "semester = ?")
		args = append(args, filter.Semester)
	}

	q := "SELECT " + markColumns + " FROM marks"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering)

	found := make([]marks.Mark, 0)
	if err := sqlx.SelectContext(ctx, repo.exec, &found, repo.rebind(q), args...); err != nil {
		return nil, core.NewStoreError("querying marks", err)
	}
	return utc(found), nil
}

// orderBy renders ordering, dropping fields that are not mark columns.
func orderBy(ordering []core.DBOrdering) string {
	if len(ordering) == 0 {
		ordering = marks.DefaultOrdering
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		for _, fld := range marks.OrderingFields {
			if ord.Field == fld {
				orderList = append(orderList, ord.String())
				break
			}
		}
	}
	if len(orderList) == 0 {
		return "created_at ASC, id ASC"
	}
	return strings.Join(orderList, ", ")
}

func (repo *markRepository) QueryRosterMarks(ctx context.Context, subjectID, examID string, semester int, studentIDs []string) ([]marks.Mark, error) {
	found := make([]marks.Mark, 0, len(studentIDs))
	if len(studentIDs) == 0 {
		return found, nil
	}
	defer repo.lock()()

	q, args, err := sqlx.In(
		"SELECT "+markColumns+" FROM marks WHERE subject_id = ? AND exam_id = ? AND semester = ? AND student_id IN (?)",
		subjectID, examID, semester, studentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building roster marks query")
	}
	if err = sqlx.SelectContext(ctx, repo.exec, &found, repo.rebind(q), args...); err != nil {
		return nil, core.NewStoreError("querying roster marks", err)
	}
	return utc(found), nil
}

// Atomically runs fn in a database transaction, committed only if fn succeeds.
func (repo *markRepository) Atomically(ctx context.Context, fn func(repo marks.Repository) error) (err error) {
	if repo.txMu != nil {
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStoreError("beginning transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&markRepository{db: repo.db, exec: tx, txMu: new(sync.Mutex)}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return core.NewStoreError("committing transaction", err)
	}
	return nil
}
