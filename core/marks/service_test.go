package marks_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"go.uber.org/goleak"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
	"github.com/trezcool/masomo-marks/storage/database/inmem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	branch   = "cs"
	semester = 3
	subjA    = "subjA"
	examX    = "examX"
)

var students = []marks.StudentInfo{
	{ID: "stu1", FirstName: "Amani", LastName: "Kabila", EnrollmentNo: "CS-001"},
	{ID: "stu2", FirstName: "Baraka", LastName: "Mwamba", EnrollmentNo: "CS-002"},
	{ID: "stu3", FirstName: "Chausiku", LastName: "Ilunga", EnrollmentNo: "CS-003"},
	{ID: "stu4", FirstName: "Dalia", LastName: "Tshisekedi", EnrollmentNo: "CS-004"},
}

type testEnv struct {
	svc     *marks.Service
	db      *inmemdb.DB
	repo    marks.Repository
	metrics *countingMetrics
}

func setup(t *testing.T, opts ...func(*marks.Deps)) testEnv {
	db, err := inmemdb.Open()
	require.NoError(t, err)
	for _, st := range students {
		db.AddStudent(st, branch, semester)
	}
	db.AddSubject(marks.SubjectInfo{ID: subjA, Name: "Algorithms", Code: "CS301"})
	db.AddExam(marks.ExamInfo{ID: examX, Name: "Midterm", ExamType: "mid", TotalMarks: 100})

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	marks.InitValidators(validate, translator)

	repo := inmemdb.NewMarkRepository(db)
	roster := inmemdb.NewRosterRepository(db)
	metrics := new(countingMetrics)
	deps := marks.Deps{
		Repo:       repo,
		Roster:     roster,
		References: roster,
		Validate:   validate,
		Translator: translator,
		Metrics:    metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return testEnv{svc: marks.NewService(deps), db: db, repo: deps.Repo, metrics: metrics}
}

func withStrategy(s marks.BatchStrategy) func(*marks.Deps) {
	return func(d *marks.Deps) { d.Strategy = s }
}

func withAtomicity(a marks.Atomicity) func(*marks.Deps) {
	return func(d *marks.Deps) { d.Atomicity = a }
}

func score(f float64) *float64 { return &f }

func newMark(studentID string, s *float64) marks.NewMark {
	return marks.NewMark{StudentID: studentID, SubjectID: subjA, ExamID: examX, Semester: semester, MarksObtained: s}
}

func key(studentID string) marks.Key {
	return marks.Key{StudentID: studentID, SubjectID: subjA, ExamID: examX, Semester: semester}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	flds := make(map[string]string, len(vErr.Fields))
	for _, f := range vErr.Fields {
		flds[f.Field] = f.Error
	}
	return flds
}

type countingMetrics struct {
	created, updated, conflicts int64
}

func (m *countingMetrics) ObserveOperation(string, time.Duration, error) {}
func (m *countingMetrics) BatchProcessed(string, int, int)              {}
func (m *countingMetrics) ConflictRetried()                             { atomic.AddInt64(&m.conflicts, 1) }
func (m *countingMetrics) MarkWritten(outcome string) {
	if outcome == marks.OutcomeCreated {
		atomic.AddInt64(&m.created, 1)
	} else {
		atomic.AddInt64(&m.updated, 1)
	}
}

func TestService_UpsertOne_validation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		nm         marks.NewMark
		wantFields map[string]string
	}{
		{
			name:       "all fields missing",
			nm:         marks.NewMark{},
			wantFields: map[string]string{"student_id": "this field is required", "subject_id": "this field is required", "exam_id": "this field is required", "semester": "this field is required", "marks_obtained": "this field is required"},
		},
		{name: "absent score", nm: newMark("stu1", nil), wantFields: map[string]string{"marks_obtained": "this field is required"}},
		{name: "negative score", nm: newMark("stu1", score(-1)), wantFields: map[string]string{"marks_obtained": "marks_obtained must be 0 or greater"}},
		{name: "infinite score", nm: newMark("stu1", score(math.Inf(1))), wantFields: map[string]string{"marks_obtained": "marks_obtained must be a finite number"}},
		{name: "NaN score", nm: newMark("stu1", score(math.NaN())), wantFields: map[string]string{"marks_obtained": "marks_obtained must be a finite number"}},
		{name: "blank student", nm: newMark("   ", score(10)), wantFields: map[string]string{"student_id": "this field is required"}},
		{name: "malformed student", nm: newMark("stu 1", score(10)), wantFields: map[string]string{"student_id": "student_id must be a valid identifier"}},
		{
			name:       "negative semester",
			nm:         marks.NewMark{StudentID: "stu1", SubjectID: subjA, ExamID: examX, Semester: -2, MarksObtained: score(1)},
			wantFields: map[string]string{"semester": "semester must be greater than 0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpsertOne(ctx, tt.nm)
			assert.True(t, core.IsValidation(err))
			assert.Equal(t, tt.wantFields, fieldErrors(t, err))
		})
	}
	assert.Zero(t, env.db.MarkCount(), "validation errors must not write")
}

func TestService_UpsertOne(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("unknown student", func(t *testing.T) {
		_, err := env.svc.UpsertOne(ctx, newMark("ghost", score(50)))
		assert.True(t, core.IsNotFound(err))
		assert.Zero(t, env.db.MarkCount())
	})

	t.Run("zero is a score", func(t *testing.T) {
		mark, err := env.svc.UpsertOne(ctx, newMark("stu1", score(0)))
		require.NoError(t, err)
		assert.Equal(t, 0.0, mark.MarksObtained)
		assert.NotEmpty(t, mark.ID)

		stored, err := env.repo.GetMarkByKey(ctx, key("stu1"))
		require.NoError(t, err)
		assert.Equal(t, mark, stored)
	})

	t.Run("same key updates in place", func(t *testing.T) {
		first, err := env.svc.UpsertOne(ctx, newMark("stu2", score(40)))
		require.NoError(t, err)
		second, err := env.svc.UpsertOne(ctx, newMark(" stu2 ", score(65.5)))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 65.5, second.MarksObtained)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))

		all, err := env.svc.Find(ctx, marks.QueryFilter{StudentID: "stu2"}, nil)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 65.5, all[0].MarksObtained)
	})

	assert.Equal(t, 2, env.db.MarkCount())
	assert.EqualValues(t, 2, env.metrics.created)
	assert.EqualValues(t, 1, env.metrics.updated)
}

func TestService_UpsertOne_concurrentSameKey(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.UpsertOne(ctx, newMark("stu3", score(float64(i))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, env.db.MarkCount())
	assert.EqualValues(t, 1, env.metrics.created)
	assert.EqualValues(t, 49, env.metrics.updated)
}

// racyRepo simulates another process creating the key between the engine's read and insert.
type racyRepo struct {
	marks.Repository
	raced int32
}

func (r *racyRepo) CreateMark(ctx context.Context, mark marks.Mark) (marks.Mark, error) {
	if atomic.CompareAndSwapInt32(&r.raced, 0, 1) {
		other := mark
		other.ID = "other-process"
		other.MarksObtained = 1
		if _, err := r.Repository.CreateMark(ctx, other); err != nil {
			return marks.Mark{}, err
		}
	}
	return r.Repository.CreateMark(ctx, mark)
}

func TestService_UpsertOne_conflictRetriedOnce(t *testing.T) {
	var repo *racyRepo
	env := setup(t, func(d *marks.Deps) {
		repo = &racyRepo{Repository: d.Repo}
		d.Repo = repo
	})

	mark, err := env.svc.UpsertOne(context.Background(), newMark("stu1", score(77)))
	require.NoError(t, err)
	assert.Equal(t, "other-process", mark.ID)
	assert.Equal(t, 77.0, mark.MarksObtained)
	assert.Equal(t, 1, env.db.MarkCount())
	assert.EqualValues(t, 1, env.metrics.conflicts)
}

// brokenRepo fails every insert with a store error.
type brokenRepo struct {
	marks.Repository
	calls int32
}

func (r *brokenRepo) CreateMark(context.Context, marks.Mark) (marks.Mark, error) {
	atomic.AddInt32(&r.calls, 1)
	return marks.Mark{}, core.NewStoreError("inserting mark", fmt.Errorf("disk full"))
}

func TestService_UpsertOne_storeErrorNotRetried(t *testing.T) {
	var repo *brokenRepo
	env := setup(t, func(d *marks.Deps) {
		repo = &brokenRepo{Repository: d.Repo}
		d.Repo = repo
	})

	_, err := env.svc.UpsertOne(context.Background(), newMark("stu1", score(77)))
	assert.True(t, core.IsStore(err))
	assert.EqualValues(t, 1, repo.calls)
}

func TestService_UpsertBulk(t *testing.T) {
	strategies := []marks.BatchStrategy{marks.Sequential{}, marks.FanOut{Concurrency: 3}}
	for _, strategy := range strategies {
		t.Run(strategy.Name(), func(t *testing.T) {
			env := setup(t, withStrategy(strategy))
			ctx := context.Background()

			res, err := env.svc.UpsertBulk(ctx, marks.NewMarks{
				SubjectID: subjA, ExamID: examX, Semester: semester,
				Marks: []marks.MarkInput{{StudentID: "stu1", MarksObtained: score(72)}, {StudentID: "stu2", MarksObtained: score(88)}},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Succeeded)
			assert.Zero(t, res.Failed)

			res, err = env.svc.UpsertBulk(ctx, marks.NewMarks{
				SubjectID: subjA, ExamID: examX, Semester: semester,
				Marks: []marks.MarkInput{{StudentID: "stu1", MarksObtained: score(75)}},
			})
			require.NoError(t, err)
			require.Len(t, res.Items, 1)
			assert.Equal(t, 75.0, res.Items[0].Mark.MarksObtained)

			assert.Equal(t, 2, env.db.MarkCount())
			stu1, err := env.repo.GetMarkByKey(ctx, key("stu1"))
			require.NoError(t, err)
			assert.Equal(t, 75.0, stu1.MarksObtained)
			stu2, err := env.repo.GetMarkByKey(ctx, key("stu2"))
			require.NoError(t, err)
			assert.Equal(t, 88.0, stu2.MarksObtained)
		})
	}
}

func TestService_UpsertBulk_orderPreserved(t *testing.T) {
	env := setup(t, withStrategy(marks.FanOut{Concurrency: 4}))
	ids := []string{"stu4", "stu2", "stu3", "stu1"}
	inputs := make([]marks.MarkInput, 0, len(ids))
	for i, id := range ids {
		inputs = append(inputs, marks.MarkInput{StudentID: id, MarksObtained: score(float64(10 * (i + 1)))})
	}

	res, err := env.svc.UpsertBulk(context.Background(), marks.NewMarks{SubjectID: subjA, ExamID: examX, Semester: semester, Marks: inputs})
	require.NoError(t, err)
	require.Len(t, res.Items, len(ids))
	for i, item := range res.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, ids[i], item.StudentID)
		require.NotNil(t, item.Mark)
		assert.Equal(t, ids[i], item.Mark.StudentID)
		assert.Equal(t, float64(10*(i+1)), item.Mark.MarksObtained)
	}
}

func TestService_UpsertBulk_partial(t *testing.T) {
	env := setup(t, withAtomicity(marks.AtomicityPartial))

	res, err := env.svc.UpsertBulk(context.Background(), marks.NewMarks{
		SubjectID: subjA, ExamID: examX, Semester: semester,
		Marks: []marks.MarkInput{
			{StudentID: "stu1", MarksObtained: score(10)},
			{StudentID: "ghost", MarksObtained: score(20)},
			{StudentID: "stu2"},
			{StudentID: "stu3", MarksObtained: score(0)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, marks.AtomicityPartial, res.Policy)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)

	assert.True(t, res.Items[0].OK())
	assert.True(t, core.IsNotFound(res.Items[1].Err))
	assert.Equal(t, "student not found", res.Items[1].Error)
	assert.Equal(t, map[string]string{"marks[2].marks_obtained": "this field is required"}, fieldErrors(t, res.Items[2].Err))
	assert.True(t, res.Items[3].OK())
	assert.Equal(t, 2, env.db.MarkCount())
}

func TestService_UpsertBulk_allOrNothing(t *testing.T) {
	strategies := []marks.BatchStrategy{marks.Sequential{}, marks.FanOut{Concurrency: 2}}
	for _, strategy := range strategies {
		t.Run(strategy.Name(), func(t *testing.T) {
			env := setup(t, withStrategy(strategy), withAtomicity(marks.AtomicityAllOrNothing))
			ctx := context.Background()

			_, err := env.svc.UpsertOne(ctx, newMark("stu1", score(50)))
			require.NoError(t, err)

			res, err := env.svc.UpsertBulk(ctx, marks.NewMarks{
				SubjectID: subjA, ExamID: examX, Semester: semester,
				Marks: []marks.MarkInput{
					{StudentID: "stu1", MarksObtained: score(99)},
					{StudentID: "stu2", MarksObtained: score(60)},
					{StudentID: "ghost", MarksObtained: score(20)},
				},
			})
			require.Error(t, err)
			assert.True(t, core.IsNotFound(err))
			assert.Equal(t, 3, res.Failed)
			assert.Zero(t, res.Succeeded)

			assert.Equal(t, 1, env.db.MarkCount())
			stu1, err := env.repo.GetMarkByKey(ctx, key("stu1"))
			require.NoError(t, err)
			assert.Equal(t, 50.0, stu1.MarksObtained, "rolled back to the value before the batch")
		})
	}
}

func TestService_UpsertBulk_invalidBatch(t *testing.T) {
	env := setup(t)

	tests := []struct {
		name       string
		nms        marks.NewMarks
		wantFields map[string]string
	}{
		{
			name:       "empty batch",
			nms:        marks.NewMarks{SubjectID: subjA, ExamID: examX, Semester: semester, Marks: []marks.MarkInput{}},
			wantFields: map[string]string{"marks": "marks must contain at least 1 item"},
		},
		{
			name:       "missing context",
			nms:        marks.NewMarks{Marks: []marks.MarkInput{{StudentID: "stu1", MarksObtained: score(1)}}},
			wantFields: map[string]string{"subject_id": "this field is required", "exam_id": "this field is required", "semester": "this field is required"},
		},
		{
			name: "duplicate student",
			nms: marks.NewMarks{SubjectID: subjA, ExamID: examX, Semester: semester, Marks: []marks.MarkInput{
				{StudentID: "stu1", MarksObtained: score(1)}, {StudentID: " stu1", MarksObtained: score(2)},
			}},
			wantFields: map[string]string{"marks": "each student may appear only once per batch"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpsertBulk(context.Background(), tt.nms)
			assert.Equal(t, tt.wantFields, fieldErrors(t, err))
		})
	}
	assert.Zero(t, env.db.MarkCount())
}

// cancellingRepo cancels the request context once the first mark is written.
type cancellingRepo struct {
	marks.Repository
	cancel context.CancelFunc
}

func (r *cancellingRepo) CreateMark(ctx context.Context, mark marks.Mark) (marks.Mark, error) {
	defer r.cancel()
	return r.Repository.CreateMark(ctx, mark)
}

func TestService_UpsertBulk_cancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		env := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := env.svc.UpsertBulk(ctx, marks.NewMarks{
			SubjectID: subjA, ExamID: examX, Semester: semester,
			Marks: []marks.MarkInput{{StudentID: "stu1", MarksObtained: score(1)}},
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, env.db.MarkCount())
	})

	t.Run("mid batch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		env := setup(t, func(d *marks.Deps) { d.Repo = &cancellingRepo{Repository: d.Repo, cancel: cancel} })

		res, err := env.svc.UpsertBulk(ctx, marks.NewMarks{
			SubjectID: subjA, ExamID: examX, Semester: semester,
			Marks: []marks.MarkInput{{StudentID: "stu1", MarksObtained: score(1)}, {StudentID: "stu2", MarksObtained: score(2)}},
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 1, res.Failed)
		assert.ErrorIs(t, res.Items[1].Err, context.Canceled)
		assert.Equal(t, 1, env.db.MarkCount())
	})
}

func TestService_UpsertBulk_allOrNothingWithConcurrentUpsertOne(t *testing.T) {
	strategies := []marks.BatchStrategy{marks.Sequential{}, marks.FanOut{Concurrency: 2}}
	for _, strategy := range strategies {
		t.Run(strategy.Name(), func(t *testing.T) {
			env := setup(t, withStrategy(strategy), withAtomicity(marks.AtomicityAllOrNothing))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			batch := marks.NewMarks{
				SubjectID: subjA, ExamID: examX, Semester: semester,
				Marks: []marks.MarkInput{
					{StudentID: "stu1", MarksObtained: score(10)},
					{StudentID: "stu2", MarksObtained: score(20)},
					{StudentID: "stu3", MarksObtained: score(30)},
				},
			}

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, err := env.svc.UpsertBulk(ctx, batch)
					assert.NoError(t, err)
				}()
				go func(i int) {
					defer wg.Done()
					_, err := env.svc.UpsertOne(ctx, newMark([]string{"stu1", "stu2", "stu3"}[i%3], score(float64(i))))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()
			require.NoError(t, ctx.Err(), "writers did not finish in time")

			assert.Equal(t, 3, env.db.MarkCount())
			assert.EqualValues(t, 3, env.metrics.created)
		})
	}
}

func TestService_UpsertOne_cancelledWhileKeyHeld(t *testing.T) {
	locker := marks.NewKeyLocker(1)
	env := setup(t, func(d *marks.Deps) { d.Locker = locker })

	unlock, err := locker.Lock(context.Background(), key("stu1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.UpsertOne(ctx, newMark("stu1", score(10)))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond) // let UpsertOne reach the held key
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("UpsertOne kept waiting on the key after its context was cancelled")
	}
	assert.Zero(t, env.db.MarkCount())

	t.Run("all or nothing", func(t *testing.T) {
		env := setup(t, func(d *marks.Deps) { d.Locker = locker }, withAtomicity(marks.AtomicityAllOrNothing))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res, err := env.svc.UpsertBulk(ctx, marks.NewMarks{
			SubjectID: subjA, ExamID: examX, Semester: semester,
			Marks:     []marks.MarkInput{{StudentID: "stu2", MarksObtained: score(1)}},
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, res.Items)
		assert.Zero(t, env.db.MarkCount())
	})
}

func TestService_UpsertBulk_studentChecksUseRoster(t *testing.T) {
	var roster *countingRoster
	env := setup(t, withAtomicity(marks.AtomicityPartial), func(d *marks.Deps) {
		roster = &countingRoster{RosterSource: d.Roster}
		d.Roster = roster
	})

	res, err := env.svc.UpsertBulk(context.Background(), marks.NewMarks{
		SubjectID: subjA, ExamID: examX, Semester: semester,
		Marks: []marks.MarkInput{
			{StudentID: "stu1", MarksObtained: score(10)},
			{StudentID: " ghost ", MarksObtained: score(20)},
			{StudentID: "", MarksObtained: score(30)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.True(t, core.IsNotFound(res.Items[1].Err))
	assert.EqualValues(t, 2, roster.calls, "one existence check per distinct student")
}

// countingRoster counts the student existence checks.
type countingRoster struct {
	marks.RosterSource
	calls int32
}

func (r *countingRoster) StudentExists(ctx context.Context, id string) (bool, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.RosterSource.StudentExists(ctx, id)
}

func TestService_Delete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	mark, err := env.svc.UpsertOne(ctx, newMark("stu1", score(42)))
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, mark.ID))
	_, err = env.repo.GetMarkByKey(ctx, key("stu1"))
	assert.True(t, core.IsNotFound(err))

	err = env.svc.Delete(ctx, mark.ID)
	assert.True(t, core.IsNotFound(err))
	assert.EqualError(t, err, "marks not found")

	assert.True(t, core.IsValidation(env.svc.Delete(ctx, " ")))
}

func TestService_ComposeRoster(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	m2, err := env.svc.UpsertOne(ctx, newMark("stu2", score(88)))
	require.NoError(t, err)
	m4, err := env.svc.UpsertOne(ctx, newMark("stu4", score(0)))
	require.NoError(t, err)
	// other exam: must not leak into the roster
	_, err = env.svc.UpsertOne(ctx, marks.NewMark{StudentID: "stu1", SubjectID: subjA, ExamID: "examY", Semester: semester, MarksObtained: score(33)})
	require.NoError(t, err)

	entries, err := env.svc.ComposeRoster(ctx, marks.RosterQuery{Branch: branch, SubjectID: subjA, ExamID: examX, Semester: semester})
	require.NoError(t, err)

	want := []marks.RosterEntry{
		{StudentID: "stu1", FirstName: "Amani", LastName: "Kabila", EnrollmentNo: "CS-001"},
		{StudentID: "stu2", FirstName: "Baraka", LastName: "Mwamba", EnrollmentNo: "CS-002", MarksObtained: 88, Entered: true, MarkID: null.StringFrom(m2.ID)},
		{StudentID: "stu3", FirstName: "Chausiku", LastName: "Ilunga", EnrollmentNo: "CS-003"},
		{StudentID: "stu4", FirstName: "Dalia", LastName: "Tshisekedi", EnrollmentNo: "CS-004", Entered: true, MarkID: null.StringFrom(m4.ID)},
	}
	sortByStudent := cmpopts.SortSlices(func(a, b marks.RosterEntry) bool { return a.StudentID < b.StudentID })
	if diff := cmp.Diff(want, entries, sortByStudent); diff != "" {
		t.Errorf("ComposeRoster() mismatch (-want +got):\n%s", diff)
	}

	again, err := env.svc.ComposeRoster(ctx, marks.RosterQuery{Branch: branch, SubjectID: subjA, ExamID: examX, Semester: semester})
	require.NoError(t, err)
	assert.Equal(t, entries, again, "roster order must be deterministic")
}

func TestService_ComposeRoster_edgeCases(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	t.Run("empty class", func(t *testing.T) {
		entries, err := env.svc.ComposeRoster(ctx, marks.RosterQuery{Branch: "history", SubjectID: subjA, ExamID: examX, Semester: 1})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("missing params", func(t *testing.T) {
		_, err := env.svc.ComposeRoster(ctx, marks.RosterQuery{SubjectID: subjA, Semester: semester})
		assert.Equal(t, map[string]string{"branch": "this field is required", "exam_id": "this field is required"}, fieldErrors(t, err))
	})
}

func TestService_Find(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	m1, err := env.svc.UpsertOne(ctx, newMark("stu1", score(72)))
	require.NoError(t, err)
	m2, err := env.svc.UpsertOne(ctx, newMark("stu2", score(88)))
	require.NoError(t, err)
	m3, err := env.svc.UpsertOne(ctx, marks.NewMark{StudentID: "stu1", SubjectID: "subjB", ExamID: examX, Semester: 4, MarksObtained: score(15)})
	require.NoError(t, err)

	ids := func(views []marks.MarkView) []string {
		out := make([]string, 0, len(views))
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   marks.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "empty filter", want: []string{m1.ID, m2.ID, m3.ID}},
		{name: "by student", filter: marks.QueryFilter{StudentID: "stu1"}, want: []string{m1.ID, m3.ID}},
		{name: "by semester", filter: marks.QueryFilter{Semester: 4}, want: []string{m3.ID}},
		{name: "by exam & semester", filter: marks.QueryFilter{ExamID: examX, Semester: semester}, want: []string{m1.ID, m2.ID}},
		{name: "no match", filter: marks.QueryFilter{StudentID: "stu4"}, want: []string{}},
		{name: "ordered by -marks_obtained", ordering: core.ParseOrdering("-marks_obtained"), want: []string{m2.ID, m1.ID, m3.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views, err := env.svc.Find(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.NotNil(t, views)
			assert.Equal(t, tt.want, ids(views))
		})
	}

	t.Run("unknown ordering", func(t *testing.T) {
		_, err := env.svc.Find(ctx, marks.QueryFilter{}, core.ParseOrdering("password"))
		assert.True(t, core.IsValidation(err))
	})

	t.Run("enrichment", func(t *testing.T) {
		views, err := env.svc.Find(ctx, marks.QueryFilter{StudentID: "stu1"}, core.ParseOrdering("semester"))
		require.NoError(t, err)
		require.Len(t, views, 2)

		assert.Equal(t, &students[0], views[0].Student)
		assert.Equal(t, &marks.SubjectInfo{ID: subjA, Name: "Algorithms", Code: "CS301"}, views[0].Subject)
		assert.Equal(t, &marks.ExamInfo{ID: examX, Name: "Midterm", ExamType: "mid", TotalMarks: 100}, views[0].Exam)
		assert.Nil(t, views[1].Subject, "unknown subject resolves to nil")
	})

	t.Run("reference changes are visible on next read", func(t *testing.T) {
		env.db.AddSubject(marks.SubjectInfo{ID: subjA, Name: "Advanced Algorithms", Code: "CS302"})
		views, err := env.svc.Find(ctx, marks.QueryFilter{StudentID: "stu2"}, nil)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "Advanced Algorithms", views[0].Subject.Name)
	})
}

func TestService_FindForStudent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	mark, err := env.svc.UpsertOne(ctx, newMark("stu1", score(72)))
	require.NoError(t, err)

	views, err := env.svc.FindForStudent(ctx, marks.StudentMarksQuery{StudentID: "stu1", Semester: semester})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mark.ID, views[0].ID)

	views, err = env.svc.FindForStudent(ctx, marks.StudentMarksQuery{StudentID: "stu1", Semester: 8})
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = env.svc.FindForStudent(ctx, marks.StudentMarksQuery{StudentID: "stu1"})
	assert.Equal(t, map[string]string{"semester": "this field is required"}, fieldErrors(t, err))
}
