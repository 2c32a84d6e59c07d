package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Database engines
const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
)

type (
	Config struct {
		AppName      string
		Env          string // DEV (local; default), TEST, QA, PROD
		Build        string
		Debug        bool
		TestMode     bool
		RollbarToken string

		Server   ServerConfig
		Database DatabaseConfig
		Marks    MarksConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
		RateLimit       float64 // write requests per second, 0 disables the limiter
		RateBurst       int
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only; ":memory:" or a file path
	}

	// MarksConfig tunes the marks reconciliation engine.
	MarksConfig struct {
		BulkStrategy    string // sequential | fanout
		BulkConcurrency int
		Atomicity       string // partial | all_or_nothing
		KeyLockShards   int
	}
)

// Address returns the "host:port" of the database server.
func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

// NewConfig loads the app configuration from defaults, the optional `config/.env.<env>` file
// and the environment (prefixed with the upper-cased env name, eg. DEV_DATABASE_NAME).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.disableReqLogs", false)
	v.SetDefault("server.rateLimit", 50.0)
	v.SetDefault("server.rateBurst", 100)

	v.SetDefault("database.engine", EnginePostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", ":memory:")

	v.SetDefault("marks.bulkStrategy", "sequential")
	v.SetDefault("marks.bulkConcurrency", 8)
	v.SetDefault("marks.atomicity", "partial")
	v.SetDefault("marks.keyLockShards", 64)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.engine", EngineSQLite)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:      v.GetString("appName"),
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
			RateLimit:       v.GetFloat64("server.rateLimit"),
			RateBurst:       v.GetInt("server.rateBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			Path:          v.GetString("database.path"),
		},
		Marks: MarksConfig{
			BulkStrategy:    v.GetString("marks.bulkStrategy"),
			BulkConcurrency: v.GetInt("marks.bulkConcurrency"),
			Atomicity:       v.GetString("marks.atomicity"),
			KeyLockShards:   v.GetInt("marks.keyLockShards"),
		},
	}
}
