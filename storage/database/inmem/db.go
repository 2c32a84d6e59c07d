package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-marks/core/marks"
)

type (
	DB struct {
		// tx serializes write transactions; see markRepository.Atomically
		tx sync.Mutex

		mark     *markTable
		student  *studentTable
		subject  *subjectTable
		exam     *examTable
		enrolled *enrollmentTable
	}

	markTable struct {
		sync.RWMutex
		table map[string]*marks.Mark // {id: mark}
		keys  map[marks.Key]string   // {key: id}
	}

	studentTable struct {
		sync.RWMutex
		table map[string]marks.StudentInfo
	}

	subjectTable struct {
		sync.RWMutex
		table map[string]marks.SubjectInfo
	}

	examTable struct {
		sync.RWMutex
		table map[string]marks.ExamInfo
	}

	enrollment struct {
		branch   string
		semester int
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[enrollment][]string // {(branch, semester): [studentID]}
	}
)

func Open() (*DB, error) {
	db := &DB{
		mark:     &markTable{table: make(map[string]*marks.Mark), keys: make(map[marks.Key]string)},
		student:  &studentTable{table: make(map[string]marks.StudentInfo)},
		subject:  &subjectTable{table: make(map[string]marks.SubjectInfo)},
		exam:     &examTable{table: make(map[string]marks.ExamInfo)},
		enrolled: &enrollmentTable{table: make(map[enrollment][]string)},
	}
	return db, nil
}

// AddStudent registers a student and enrolls them in a branch for a semester.
func (db *DB) AddStudent(st marks.StudentInfo, branch string, semester int) {
	db.student.Lock()
	db.student.table[st.ID] = st
	db.student.Unlock()

	db.enrolled.Lock()
	defer db.enrolled.Unlock()
	k := enrollment{branch: branch, semester: semester}
	for _, id := range db.enrolled.table[k] {
		if id == st.ID {
			return
		}
	}
	db.enrolled.table[k] = append(db.enrolled.table[k], st.ID)
}

func (db *DB) AddSubject(sub marks.SubjectInfo) {
	db.subject.Lock()
	defer db.subject.Unlock()
	db.subject.table[sub.ID] = sub
}

func (db *DB) AddExam(ex marks.ExamInfo) {
	db.exam.Lock()
	defer db.exam.Unlock()
	db.exam.table[ex.ID] = ex
}

// MarkCount returns the number of stored marks.
func (db *DB) MarkCount() int {
	db.mark.RLock()
	defer db.mark.RUnlock()
	return len(db.mark.table)
}
