// Package di provides the dependency injection container of the API server.
package di

import (
	"database/sql"
	"log"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-marks/apps/api/echo"
	"github.com/trezcool/masomo-marks/apps/bootstrap"
	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// ServerParam gathers the dependencies of the API server.
type ServerParam struct {
	dig.In
	Conf     *core.Config
	Logger   core.Logger
	MarksSvc *marks.Service
	Gatherer prometheus.Gatherer
}

func newLogger(conf *core.Config) (core.Logger, error) {
	return bootstrap.NewLogger(conf, "api")
}

func newDBLogger(conf *core.Config) (core.Logger, error) {
	return bootstrap.NewLogger(conf, "db")
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, error) {
	db, err := bootstrap.SetUpDB(conf)
	if err != nil {
		loggerParam.Logger.Error("setting up database", err)
		return nil, errors.Wrap(err, "setting up database")
	}
	return db, nil
}

func newRegistry() (prometheus.Registerer, prometheus.Gatherer) {
	return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
}

func newMarksService(conf *core.Config, db *sql.DB, logger core.Logger, reg prometheus.Registerer) (*marks.Service, error) {
	return bootstrap.NewMarksService(conf, db, logger, reg)
}

func newServer(p ServerParam) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:     p.Conf,
		Logger:   p.Logger,
		MarksSvc: p.MarksSvc,
		Gatherer: p.Gatherer,
	})
}

// New returns a new dependency injection dig.Container.
// newConfig is provided first, so tests may swap it.
func New(newConfig func() *core.Config) *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRegistry))
	must(c.Provide(newMarksService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
