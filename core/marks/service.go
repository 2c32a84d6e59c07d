package marks

import (
	"context"
	"fmt"
	"sort"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/masomo-marks/core"
)

var tracer = otel.Tracer("github.com/trezcool/masomo-marks/core/marks")

type (
	// Deps holds the collaborators of the Service. Repo, Roster, References, Validate and
	// Translator are required; the others fall back to defaults.
	// Roster answers every student existence check; References only enriches query results.
	Deps struct {
		Repo       Repository
		Roster     RosterSource
		References ReferenceSource
		Validate   *validator.Validate
		Translator ut.Translator
		Strategy   BatchStrategy
		Atomicity  Atomicity
		Locker     *KeyLocker
		Metrics    Metrics
		Logger     core.Logger
	}

	// Service is the marks reconciliation engine. It keeps no per-request state.
	Service struct {
		repo       Repository
		roster     RosterSource
		refs       ReferenceSource
		validate   *validator.Validate
		translator ut.Translator
		strategy   BatchStrategy
		atomicity  Atomicity
		locker     *KeyLocker
		metrics    Metrics
		logger     core.Logger
	}
)

func NewService(deps Deps) *Service {
	svc := &Service{
		repo:       deps.Repo,
		roster:     deps.Roster,
		refs:       deps.References,
		validate:   deps.Validate,
		translator: deps.Translator,
		strategy:   deps.Strategy,
		atomicity:  deps.Atomicity,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if svc.strategy == nil {
		svc.strategy = Sequential{}
	}
	if svc.atomicity == "" {
		svc.atomicity = AtomicityPartial
	}
	if svc.locker == nil {
		svc.locker = NewKeyLocker(DefaultKeyLockShards)
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	return svc
}

// observe ends the span and records the operation outcome.
func (svc *Service) observe(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	svc.metrics.ObserveOperation(op, time.Since(start), err)
	span.End()
}

func (svc *Service) invalid(err error) error {
	return core.TranslateValidationErrors(err, svc.translator)
}

// UpsertOne creates the Mark of nm's key, or overwrites its score if it already exists.
func (svc *Service) UpsertOne(ctx context.Context, nm NewMark) (mark Mark, err error) {
	ctx, span := tracer.Start(ctx, "marks.UpsertOne")
	defer func(start time.Time) { svc.observe(span, "upsert_one", start, err) }(time.Now())

	if err = nm.Validate(svc.validate); err != nil {
		return Mark{}, svc.invalid(err)
	}
	span.SetAttributes(attribute.String("marks.key", nm.Key().String()))

	mark, err = svc.upsert(ctx, svc.repo, svc.roster.StudentExists, svc.locker.Lock, nm.Key(), *nm.MarksObtained)
	if err != nil {
		return Mark{}, errors.Wrap(err, "upserting mark")
	}
	return mark, nil
}

// UpsertBulk applies the UpsertOne rule to every element of nms using the configured
// BatchStrategy and Atomicity. Items are returned in input order.
//
// Under AtomicityPartial, element failures only show in the result and the returned error is
// reserved for an invalid batch or a cancelled context. Under AtomicityAllOrNothing, the first
// element failure is returned and no element is written.
func (svc *Service) UpsertBulk(ctx context.Context, nms NewMarks) (res BulkResult, err error) {
	ctx, span := tracer.Start(ctx, "marks.UpsertBulk", trace.WithAttributes(
		attribute.String("marks.strategy", svc.strategy.Name()),
		attribute.String("marks.atomicity", string(svc.atomicity)),
		attribute.Int("marks.batch_size", len(nms.Marks)),
	))
	defer func(start time.Time) { svc.observe(span, "upsert_bulk", start, err) }(time.Now())

	if err = nms.Validate(svc.validate); err != nil {
		return BulkResult{}, svc.invalid(err)
	}

	res = BulkResult{Policy: svc.atomicity, Items: make([]BulkItem, len(nms.Marks))}
	keys := make([]Key, len(nms.Marks))
	known := make(map[string]bool, len(nms.Marks))
	for i, in := range nms.Marks {
		res.Items[i] = BulkItem{Index: i, StudentID: in.StudentID}
		keys[i] = nms.element(i).Key()
		known[keys[i].StudentID] = false
	}

	// existence is settled up front so that no roster read runs inside the store transaction
	for id := range known {
		if id == "" {
			continue
		}
		if known[id], err = svc.roster.StudentExists(ctx, id); err != nil {
			return BulkResult{}, errors.Wrap(err, "checking students")
		}
	}
	studentExists := func(_ context.Context, id string) (bool, error) {
		return known[id], nil
	}

	run := func(ctx context.Context, repo Repository, lock lockFunc) error {
		failFast := svc.atomicity == AtomicityAllOrNothing
		return svc.strategy.Apply(ctx, len(nms.Marks), failFast, func(ctx context.Context, i int) error {
			item := &res.Items[i]
			if err := ctx.Err(); err != nil {
				item.fail(err)
				return err
			}

			nm := nms.element(i)
			prefix := fmt.Sprintf("marks[%d]", i)
			if err := nm.Validate(svc.validate); err != nil {
				err = prefixFields(svc.invalid(err), prefix)
				item.fail(err)
				return err
			}
			mark, err := svc.upsert(ctx, repo, studentExists, lock, nm.Key(), *nm.MarksObtained)
			if err != nil {
				item.fail(err)
				return errors.Wrap(err, prefix)
			}
			item.Mark = &mark
			return nil
		})
	}

	if svc.atomicity == AtomicityAllOrNothing {
		// every key is locked before the transaction starts: shards first, then the store,
		// the same order single upserts follow
		unlock, lockErr := svc.locker.LockAll(ctx, keys)
		if lockErr != nil {
			return BulkResult{}, errors.Wrap(lockErr, "locking batch keys")
		}
		err = svc.repo.Atomically(ctx, func(repo Repository) error { return run(ctx, repo, lockHeld) })
		unlock()
		if err != nil {
			for i := range res.Items {
				if res.Items[i].Err == nil {
					res.Items[i].fail(errors.New("rolled back"))
				}
			}
		}
	} else {
		err = run(ctx, svc.repo, svc.locker.Lock)
	}

	for i := range res.Items {
		item := &res.Items[i]
		if !item.OK() && item.Err == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				item.fail(ctxErr)
			} else {
				item.fail(errors.New("not processed"))
			}
		}
		if item.OK() {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	svc.metrics.BatchProcessed(svc.strategy.Name(), len(res.Items), res.Failed)

	if err != nil {
		return res, errors.Wrap(err, "upserting marks")
	}
	if res.Failed > 0 && svc.logger != nil {
		svc.logger.Warn(fmt.Sprintf("bulk upsert: %d of %d marks failed", res.Failed, len(res.Items)))
	}
	return res, nil
}

// lockFunc locks key for the duration of one upsert.
type lockFunc func(ctx context.Context, key Key) (unlock func(), err error)

// lockHeld is used once the caller already holds the key.
func lockHeld(context.Context, Key) (func(), error) { return func() {}, nil }

func (svc *Service) upsert(
	ctx context.Context,
	repo Repository,
	studentExists func(ctx context.Context, id string) (bool, error),
	lock lockFunc,
	key Key,
	score float64,
) (Mark, error) {
	exists, err := studentExists(ctx, key.StudentID)
	if err != nil {
		return Mark{}, errors.Wrap(err, "checking student")
	}
	if !exists {
		return Mark{}, core.NewNotFoundError("student", key.StudentID)
	}

	unlock, err := lock(ctx, key)
	if err != nil {
		return Mark{}, err
	}
	defer unlock()

	mark, outcome, err := svc.findOrCreate(ctx, repo, key, score)
	if core.IsConflict(err) {
		// another writer created the key between our read and our insert
		svc.metrics.ConflictRetried()
		mark, outcome, err = svc.findOrCreate(ctx, repo, key, score)
	}
	if err != nil {
		return Mark{}, err
	}
	svc.metrics.MarkWritten(outcome)
	return mark, nil
}

func (svc *Service) findOrCreate(ctx context.Context, repo Repository, key Key, score float64) (Mark, string, error) {
	if err := ctx.Err(); err != nil {
		return Mark{}, "", err
	}

	now := time.Now().UTC()
	existing, err := repo.GetMarkByKey(ctx, key)
	switch {
	case err == nil:
		mark, err := repo.UpdateMarkScore(ctx, existing.ID, score, now)
		if err != nil {
			return Mark{}, "", errors.Wrap(err, "updating mark")
		}
		return mark, OutcomeUpdated, nil
	case core.IsNotFound(err):
		mark, err := repo.CreateMark(ctx, Mark{
			ID:            uuid.New().String(),
			StudentID:     key.StudentID,
			SubjectID:     key.SubjectID,
			ExamID:        key.ExamID,
			Semester:      key.Semester,
			MarksObtained: score,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return Mark{}, "", errors.Wrap(err, "creating mark")
		}
		return mark, OutcomeCreated, nil
	default:
		return Mark{}, "", errors.Wrap(err, "finding mark by key")
	}
}

// Delete permanently removes the Mark with the given ID.
func (svc *Service) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracer.Start(ctx, "marks.Delete", trace.WithAttributes(attribute.String("marks.id", id)))
	defer func(start time.Time) { svc.observe(span, "delete", start, err) }(time.Now())

	id = core.CleanString(id)
	if id == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "id", Error: "this field is required"})
	}
	deleted, err := svc.repo.DeleteMarkByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "deleting mark")
	}
	if !deleted {
		return core.NewNotFoundError("marks", id)
	}
	return nil
}

// ComposeRoster lists every student of the branch and semester exactly once, with their mark
// for the subject and exam or 0 when none was entered.
// Entries are ordered by enrollment number, then student ID.
func (svc *Service) ComposeRoster(ctx context.Context, rq RosterQuery) (entries []RosterEntry, err error) {
	ctx, span := tracer.Start(ctx, "marks.ComposeRoster")
	defer func(start time.Time) { svc.observe(span, "compose_roster", start, err) }(time.Now())

	if err = rq.Validate(svc.validate); err != nil {
		return nil, svc.invalid(err)
	}

	students, err := svc.roster.StudentsInBranchAndSemester(ctx, rq.Branch, rq.Semester)
	if err != nil {
		return nil, errors.Wrap(err, "querying roster students")
	}
	entries = make([]RosterEntry, 0, len(students))
	if len(students) == 0 {
		return entries, nil
	}

	seen := make(map[string]struct{}, len(students))
	ids := make([]string, 0, len(students))
	for _, st := range students {
		if _, dup := seen[st.ID]; dup {
			continue
		}
		seen[st.ID] = struct{}{}
		ids = append(ids, st.ID)
		entries = append(entries, RosterEntry{
			StudentID:    st.ID,
			FirstName:    st.FirstName,
			LastName:     st.LastName,
			EnrollmentNo: st.EnrollmentNo,
		})
	}

	marks, err := svc.repo.QueryRosterMarks(ctx, rq.SubjectID, rq.ExamID, rq.Semester, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying roster marks")
	}
	byStudent := make(map[string]Mark, len(marks))
	for _, m := range marks {
		byStudent[m.StudentID] = m
	}

	for i := range entries {
		if m, ok := byStudent[entries[i].StudentID]; ok {
			entries[i].MarksObtained = m.MarksObtained
			entries[i].Entered = true
			entries[i].MarkID = null.StringFrom(m.ID)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].EnrollmentNo != entries[j].EnrollmentNo {
			return entries[i].EnrollmentNo < entries[j].EnrollmentNo
		}
		return entries[i].StudentID < entries[j].StudentID
	})
	span.SetAttributes(attribute.Int("marks.roster_size", len(entries)), attribute.Int("marks.entered", len(byStudent)))
	return entries, nil
}

// Find returns the Marks matching filter, enriched with their reference display fields.
func (svc *Service) Find(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) (views []MarkView, err error) {
	ctx, span := tracer.Start(ctx, "marks.Find")
	defer func(start time.Time) { svc.observe(span, "find", start, err) }(time.Now())

	filter.Clean()
	if err = svc.validate.Struct(filter); err != nil {
		return nil, svc.invalid(err)
	}
	if err = validateOrdering(ordering); err != nil {
		return nil, err
	}
	if len(ordering) == 0 {
		ordering = DefaultOrdering
	}

	marks, err := svc.repo.QueryMarks(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying marks")
	}
	return svc.enrich(ctx, marks)
}

// FindForStudent returns the Marks of one student for one semester.
// The student is an explicit parameter, never read from ambient request state.
func (svc *Service) FindForStudent(ctx context.Context, q StudentMarksQuery) ([]MarkView, error) {
	q.StudentID = core.CleanString(q.StudentID)
	if err := svc.validate.Struct(q); err != nil {
		return nil, svc.invalid(err)
	}
	return svc.Find(ctx, QueryFilter{StudentID: q.StudentID, Semester: q.Semester}, nil)
}

func (svc *Service) enrich(ctx context.Context, marks []Mark) ([]MarkView, error) {
	views := make([]MarkView, 0, len(marks))
	if len(marks) == 0 {
		return views, nil
	}

	studentIDs, subjectIDs, examIDs := distinctRefs(marks)
	students, err := svc.refs.StudentsByID(ctx, studentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "resolving students")
	}
	subjects, err := svc.refs.SubjectsByID(ctx, subjectIDs)
	if err != nil {
		return nil, errors.Wrap(err, "resolving subjects")
	}
	exams, err := svc.refs.ExamsByID(ctx, examIDs)
	if err != nil {
		return nil, errors.Wrap(err, "resolving exams")
	}

	for _, m := range marks {
		view := MarkView{Mark: m}
		if st, ok := students[m.StudentID]; ok {
			view.Student = &st
		}
		if sub, ok := subjects[m.SubjectID]; ok {
			view.Subject = &sub
		}
		if ex, ok := exams[m.ExamID]; ok {
			view.Exam = &ex
		}
		views = append(views, view)
	}
	return views, nil
}

func distinctRefs(marks []Mark) (studentIDs, subjectIDs, examIDs []string) {
	add := func(seen map[string]struct{}, ids []string, id string) []string {
		if _, ok := seen[id]; ok {
			return ids
		}
		seen[id] = struct{}{}
		return append(ids, id)
	}
	seenStudents, seenSubjects, seenExams := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for _, m := range marks {
		studentIDs = add(seenStudents, studentIDs, m.StudentID)
		subjectIDs = add(seenSubjects, subjectIDs, m.SubjectID)
		examIDs = add(seenExams, examIDs, m.ExamID)
	}
	return studentIDs, subjectIDs, examIDs
}
