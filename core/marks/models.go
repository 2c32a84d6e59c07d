package marks

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-marks/core"
)

// Key is the composite key identifying at most one Mark.
type Key struct {
	StudentID string
	SubjectID string
	ExamID    string
	Semester  int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.StudentID, k.SubjectID, k.ExamID, k.Semester)
}

// Mark is the authoritative score of a student for a subject, exam and semester.
type Mark struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	SubjectID     string    `json:"subject_id"`
	ExamID        string    `json:"exam_id"`
	Semester      int       `json:"semester"`
	MarksObtained float64   `json:"marks_obtained"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

func (m Mark) Key() Key {
	return Key{StudentID: m.StudentID, SubjectID: m.SubjectID, ExamID: m.ExamID, Semester: m.Semester}
}

type StudentInfo struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	EnrollmentNo string `json:"enrollment_no"`
}

func (s StudentInfo) Name() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

type SubjectInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type ExamInfo struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ExamType   string  `json:"exam_type"`
	TotalMarks float64 `json:"total_marks"`
}

// MarkView is a Mark enriched with the display fields of its references.
// A reference that cannot be resolved is left nil.
type MarkView struct {
	Mark
	Student *StudentInfo `json:"student"`
	Subject *SubjectInfo `json:"subject"`
	Exam    *ExamInfo    `json:"exam"`
}

// RosterEntry is one enrolled student joined with their mark, if any.
// MarksObtained defaults to 0 when no mark was entered; Entered and MarkID tell both cases apart.
type RosterEntry struct {
	StudentID     string      `json:"student_id"`
	FirstName     string      `json:"first_name"`
	LastName      string      `json:"last_name"`
	EnrollmentNo  string      `json:"enrollment_no"`
	MarksObtained float64     `json:"marks_obtained"`
	Entered       bool        `json:"entered"`
	MarkID        null.String `json:"mark_id"`
}

// NewMark contains information needed to create or update a Mark.
type NewMark struct {
	StudentID     string   `json:"student_id" validate:"required,ref"`
	SubjectID     string   `json:"subject_id" validate:"required,ref"`
	ExamID        string   `json:"exam_id" validate:"required,ref"`
	Semester      int      `json:"semester" validate:"required,gt=0"`
	MarksObtained *float64 `json:"marks_obtained" validate:"required,finite,gte=0"` // 0 is a valid score, nil is not
}

func (nm *NewMark) Validate(validate *validator.Validate) error {
	nm.StudentID = core.CleanString(nm.StudentID)
	nm.SubjectID = core.CleanString(nm.SubjectID)
	nm.ExamID = core.CleanString(nm.ExamID)
	return validate.Struct(nm)
}

func (nm NewMark) Key() Key {
	return Key{StudentID: nm.StudentID, SubjectID: nm.SubjectID, ExamID: nm.ExamID, Semester: nm.Semester}
}

type MarkInput struct {
	StudentID     string   `json:"student_id"`
	MarksObtained *float64 `json:"marks_obtained"`
}

// NewMarks is a batch of marks sharing one subject, exam and semester.
// Elements are validated one by one so that a bad element does not reject its siblings.
type NewMarks struct {
	SubjectID string      `json:"subject_id" validate:"required,ref"`
	ExamID    string      `json:"exam_id" validate:"required,ref"`
	Semester  int         `json:"semester" validate:"required,gt=0"`
	Marks     []MarkInput `json:"marks" validate:"required,min=1"`
}

func (nms *NewMarks) Validate(validate *validator.Validate) error {
	nms.SubjectID = core.CleanString(nms.SubjectID)
	nms.ExamID = core.CleanString(nms.ExamID)
	for i := range nms.Marks {
		nms.Marks[i].StudentID = core.CleanString(nms.Marks[i].StudentID)
	}
	return validate.Struct(nms)
}

func (nms NewMarks) element(i int) NewMark {
	return NewMark{
		StudentID:     nms.Marks[i].StudentID,
		SubjectID:     nms.SubjectID,
		ExamID:        nms.ExamID,
		Semester:      nms.Semester,
		MarksObtained: nms.Marks[i].MarksObtained,
	}
}

// BulkItem is the outcome of one element of a bulk upsert, at the same index as its input.
type BulkItem struct {
	Index     int    `json:"index"`
	StudentID string `json:"student_id"`
	Mark      *Mark  `json:"mark,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

func (bi BulkItem) OK() bool { return bi.Mark != nil && bi.Err == nil }

func (bi *BulkItem) fail(err error) {
	bi.Mark = nil
	bi.Err = err
	bi.Error = err.Error()
}

// BulkResult reports which elements of a batch were written and which failed.
type BulkResult struct {
	Policy    Atomicity  `json:"policy"`
	Items     []BulkItem `json:"items"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

// QueryFilter applies AND operation on the set fields. An empty filter matches every Mark.
type QueryFilter struct {
	StudentID string `json:"student_id" query:"student_id" validate:"omitempty,ref"`
	SubjectID string `json:"subject_id" query:"subject_id" validate:"omitempty,ref"`
	ExamID    string `json:"exam_id" query:"exam_id" validate:"omitempty,ref"`
	Semester  int    `json:"semester" query:"semester" validate:"omitempty,gt=0"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.StudentID == "" && qf.SubjectID == "" && qf.ExamID == "" && qf.Semester == 0
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.SubjectID = core.CleanString(qf.SubjectID)
	qf.ExamID = core.CleanString(qf.ExamID)
}

type StudentMarksQuery struct {
	StudentID string `json:"student_id" validate:"required,ref"`
	Semester  int    `json:"semester" query:"semester" validate:"required,gt=0"`
}

type RosterQuery struct {
	Branch    string `json:"branch" query:"branch" validate:"required,ref"`
	SubjectID string `json:"subject_id" query:"subject_id" validate:"required,ref"`
	ExamID    string `json:"exam_id" query:"exam_id" validate:"required,ref"`
	Semester  int    `json:"semester" query:"semester" validate:"required,gt=0"`
}

func (rq *RosterQuery) Validate(validate *validator.Validate) error {
	rq.Branch = core.CleanString(rq.Branch)
	rq.SubjectID = core.CleanString(rq.SubjectID)
	rq.ExamID = core.CleanString(rq.ExamID)
	return validate.Struct(rq)
}

// OrderingFields are the Mark fields QueryMarks accepts for ordering.
var OrderingFields = []string{"id", "student_id", "subject_id", "exam_id", "semester", "marks_obtained", "created_at", "updated_at"}

// DefaultOrdering keeps query results deterministic when no ordering is requested.
var DefaultOrdering = []core.DBOrdering{{Field: "created_at", Ascending: true}, {Field: "id", Ascending: true}}
