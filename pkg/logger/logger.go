package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger
var sugar *zap.SugaredLogger

// Init initializes the global logger.
// Environment can be "dev", "uat", or "prod". Every entry carries the service name.
func Init(service, env, level string) {
	var cfg zap.Config

	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.InitialFields = map[string]interface{}{"service": service}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	log = logger
	sugar = logger.Sugar()

	sugar.Infow("logger initialized",
		"env", env,
		"level", level,
	)
}

// L returns the base structured Zap logger.
func L() *zap.Logger {
	if log == nil {
		Init("marketplace", "dev", "info")
	}
	return log
}

// S returns the Sugared logger.
func S() *zap.SugaredLogger {
	if sugar == nil {
		Init("marketplace", "dev", "info")
	}
	return sugar
}

// Named returns a child of the base logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes any buffered logs (defer this in main()).
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
