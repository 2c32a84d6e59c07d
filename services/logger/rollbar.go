package logsvc

import (
	"net/http"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"

	"github.com/trezcool/masomo-marks/core"
)

// RollbarLogger reports to Rollbar and writes the same entries to a zap logger.
type RollbarLogger struct {
	zl *zap.SugaredLogger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(zl *zap.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{zl: zl.Sugar()}
}

// NewZapLogger builds the console logger: human-readable in debug mode, JSON otherwise.
func NewZapLogger(conf *core.Config) (*zap.Logger, error) {
	zconf := zap.NewProductionConfig()
	if conf.Debug {
		zconf = zap.NewDevelopmentConfig()
	}
	zl, err := zconf.Build()
	if err != nil {
		return nil, err
	}
	return zl.With(zap.String("app", conf.AppName), zap.String("env", conf.Env)), nil
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close flushes both sinks.
func (l RollbarLogger) Close() {
	rollbar.Close()
	_ = l.zl.Sync()
}

// expected fmt: msg | error, map[string]interface{}, *http.Request
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	return append(rbArgs, args...)
}

// keyvals flattens args into zap key-value pairs.
func (l RollbarLogger) keyvals(args []interface{}) []interface{} {
	kv := make([]interface{}, 0, len(args)*2)
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			kv = append(kv, "error", a)
		case map[string]interface{}:
			for k, v := range a {
				kv = append(kv, k, v)
			}
		case *http.Request:
			kv = append(kv, "method", a.Method, "path", a.URL.Path)
		default:
			kv = append(kv, "extra", a)
		}
	}
	return kv
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.zl.Debugw(msg, l.keyvals(args)...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.zl.Infow(msg, l.keyvals(args)...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.zl.Warnw(msg, l.keyvals(args)...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.zl.Errorw(msg, l.keyvals(args)...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.zl.Fatalw(msg, l.keyvals(args)...)
}
