// Package bootstrap builds the dependencies shared by the API server and the admin CLI.
package bootstrap

import (
	"database/sql"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/masomo-marks/core"
	"github.com/trezcool/masomo-marks/core/marks"
	logsvc "github.com/trezcool/masomo-marks/services/logger"
	metricsvc "github.com/trezcool/masomo-marks/services/metrics"
	"github.com/trezcool/masomo-marks/storage/database"
	boiledrepos "github.com/trezcool/masomo-marks/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/masomo-marks/storage/database/sqlx"
)

// NewLogger returns the app logger, named after its component (eg. "api", "db").
func NewLogger(conf *core.Config, name string) (*logsvc.RollbarLogger, error) {
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		return nil, errors.Wrap(err, "building zap logger")
	}
	logger := logsvc.NewRollbarLogger(zl.Named(name), conf)
	logger.Enable(!conf.Debug && !conf.TestMode && conf.RollbarToken != "")
	return logger, nil
}

// SetUpDB creates the database if needed, opens it and applies pending migrations.
func SetUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, conf.Database.Engine); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewValidator returns a validator with the core & marks translations registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	marks.InitValidators(validate, translator)
	return validate, translator
}

// NewMarksService wires the marks engine over the SQL stores of db.
// reg may be nil to skip metrics registration.
func NewMarksService(conf *core.Config, db *sql.DB, logger core.Logger, reg prometheus.Registerer) (*marks.Service, error) {
	strategy, err := marks.ParseBatchStrategy(conf.Marks.BulkStrategy, conf.Marks.BulkConcurrency)
	if err != nil {
		return nil, core.NewValidationError(err)
	}
	atomicity, err := marks.ParseAtomicity(conf.Marks.Atomicity)
	if err != nil {
		return nil, core.NewValidationError(err)
	}

	engine := conf.Database.Engine
	roster := boiledrepos.NewRosterRepository(db, engine)
	validate, translator := NewValidator()

	deps := marks.Deps{
		Repo:       sqlxrepos.NewMarkRepository(db, engine),
		Roster:     roster,
		References: roster,
		Validate:   validate,
		Translator: translator,
		Strategy:   strategy,
		Atomicity:  atomicity,
		Locker:     marks.NewKeyLocker(conf.Marks.KeyLockShards),
		Logger:     logger,
	}
	if reg != nil {
		deps.Metrics = metricsvc.NewPrometheusMetrics(reg)
	}
	return marks.NewService(deps), nil
}
