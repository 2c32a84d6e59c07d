package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

type (
	// MarksService is the marks engine as seen by the HTTP handlers.
	MarksService interface {
		UpsertOne(ctx context.Context, nm marks.NewMark) (marks.Mark, error)
		UpsertBulk(ctx context.Context, nms marks.NewMarks) (marks.BulkResult, error)
		Delete(ctx context.Context, id string) error
		ComposeRoster(ctx context.Context, rq marks.RosterQuery) ([]marks.RosterEntry, error)
		Find(ctx context.Context, filter marks.QueryFilter, ordering []core.DBOrdering) ([]marks.MarkView, error)
		FindForStudent(ctx context.Context, q marks.StudentMarksQuery) ([]marks.MarkView, error)
	}

	ServerDeps struct {
		Conf     *core.Config
		Logger   core.Logger
		MarksSvc MarksService
		Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.app.Group("/v1")
	registerMarksAPI(v1, s.deps.MarksSvc, writeRateLimiter(conf.Server.RateLimit, conf.Server.RateBurst))
}

// Start listens on the configured address. Listener failures are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, core.OK("Welcome to Masomo Marks API!", nil))
}
