package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/trezcool/masomo-marks/core"
	appfs "github.com/trezcool/masomo-marks/fs"
)

// MigrationsDir is the directory of the embedded migrations.
const MigrationsDir = "migrations"

func open(dbName string, admin bool, conf *core.Config) (*sql.DB, error) {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return sql.Open(conf.Database.Engine, u.String())
}

// openSQLite opens the sqlite database at path over a single connection: sqlite has one writer,
// and each connection to ":memory:" would get its own empty database.
func openSQLite(path string) (*sql.DB, error) {
	inMemory := path == "" || path == ":memory:"
	if inMemory {
		path = "file::memory:"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open(core.EngineSQLite, path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Open opens the configured database and waits for it to answer.
func Open(conf *core.Config) (*sql.DB, error) {
	var db *sql.DB
	var err error
	switch conf.Database.Engine {
	case core.EnginePostgres:
		db, err = open(conf.Database.Name, false, conf)
	case core.EngineSQLite:
		db, err = openSQLite(conf.Database.Path)
	default:
		return nil, fmt.Errorf("unsupported database engine %q", conf.Database.Engine)
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

func createAppUser(db *sql.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}

	var exists bool
	err := db.QueryRow("SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "checking app user")
	}

	if !exists {
		// DDL takes no bind parameters
		q := "CREATE USER " + pq.QuoteIdentifier(conf.Database.User) + " CREATEDB ENCRYPTED PASSWORD " + pq.QuoteLiteral(conf.Database.Password)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sql.DB, conf *core.Config) error {
	var exists bool
	err := db.QueryRow("SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "checking DB")
	}

	if !exists {
		if _, err = db.Exec("CREATE DATABASE " + pq.QuoteIdentifier(conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the app user and database on a postgres server.
// Nothing to do for sqlite: the database file is created on open.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.Engine != core.EnginePostgres {
		return nil
	}

	// connect as admin
	db, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()

	if err = ping(db); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(db, conf); err != nil {
		return err
	}

	// create DB as app user
	appDB, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = appDB.Close() }()
	return createDB(appDB, conf)
}

// Dialect returns the goose dialect of a database engine.
func Dialect(engine string) string {
	if engine == core.EngineSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// PrepareMigrations points goose at the embedded migrations for the given engine.
func PrepareMigrations(engine string) error {
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect(Dialect(engine)); err != nil {
		return errors.Wrap(err, "setting migrations dialect")
	}
	return nil
}

// Migrate applies every pending migration.
func Migrate(db *sql.DB, engine string) error {
	if err := PrepareMigrations(engine); err != nil {
		return err
	}
	if err := goose.Up(db, MigrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}
