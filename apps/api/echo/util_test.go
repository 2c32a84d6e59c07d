package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	echoapi "github.com/trezcool/masomo-marks/apps/api/echo"
	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
	metricsvc "github.com/trezcool/masomo-marks/services/metrics"
	"github.com/trezcool/masomo-marks/storage/database/inmem"
	testutil "github.com/trezcool/masomo-marks/tests"
)

var (
	stu1 = marks.StudentInfo{ID: "stu1", FirstName: "Amani", LastName: "Kabila", EnrollmentNo: "CS-001"}
	stu2 = marks.StudentInfo{ID: "stu2", FirstName: "Baraka", LastName: "Mwamba", EnrollmentNo: "CS-002"}
	stu3 = marks.StudentInfo{ID: "stu3", FirstName: "Chausiku", LastName: "Ilunga", EnrollmentNo: "CS-003"}

	subjA = marks.SubjectInfo{ID: "subjA", Name: "Algorithms", Code: "CS301"}
	examX = marks.ExamInfo{ID: "examX", Name: "Midterm", ExamType: "mid", TotalMarks: 100}

	t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

type testApp struct {
	server *echoapi.Server
	repo   marks.Repository
	db     *inmemdb.DB
}

type serverOption func(*core.Config, *marks.Deps)

func setup(t *testing.T, opts ...serverOption) testApp {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	for _, st := range []marks.StudentInfo{stu1, stu2, stu3} {
		db.AddStudent(st, "cs", 3)
	}
	db.AddSubject(subjA)
	db.AddExam(examX)

	repo := inmemdb.NewMarkRepository(db)
	roster := inmemdb.NewRosterRepository(db)
	validate, translator := testutil.NewValidator()
	reg := prometheus.NewRegistry()

	conf := &core.Config{TestMode: true, Server: core.ServerConfig{DisableReqLogs: true}}
	deps := marks.Deps{
		Repo:       repo,
		Roster:     roster,
		References: roster,
		Validate:   validate,
		Translator: translator,
		Metrics:    metricsvc.NewPrometheusMetrics(reg),
	}
	for _, opt := range opts {
		opt(conf, &deps)
	}

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:     conf,
		MarksSvc: marks.NewService(deps),
		Gatherer: reg,
	})
	return testApp{server: server, repo: deps.Repo, db: db}
}

func withAtomicity(a marks.Atomicity) serverOption {
	return func(_ *core.Config, d *marks.Deps) { d.Atomicity = a }
}

func withRateLimit(limit float64, burst int) serverOption {
	return func(c *core.Config, _ *marks.Deps) {
		c.Server.RateLimit = limit
		c.Server.RateBurst = burst
	}
}

// createMark stores a mark with a fixed ID & timestamp.
func createMark(t *testing.T, repo marks.Repository, id, studentID string, semester int, score float64, createdAt time.Time) marks.Mark {
	mark, err := repo.CreateMark(context.Background(), marks.Mark{
		ID:            id,
		StudentID:     studentID,
		SubjectID:     subjA.ID,
		ExamID:        examX.ID,
		Semester:      semester,
		MarksObtained: score,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("createMark() failed: %v", err)
	}
	return mark
}

func view(mark marks.Mark, st marks.StudentInfo) marks.MarkView {
	sub, ex := subjA, examX
	return marks.MarkView{Mark: mark, Student: &st, Subject: &sub, Exam: &ex}
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	wantCode int
	wantData []byte
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return req, rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newRequest(method, tt.path, tt.body)
			app.server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
