package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "productos"

// Config returns the zap configuration for env. Production logs JSON at info
// level; every other environment logs colored console output at debug.
func Config(env string) zap.Config {
	var config zap.Config

	if env == "production" {
		// Ensure structured JSON format in production
		config = zap.NewProductionConfig()
		config.Encoding = "json"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		// Human-readable console output with colors for development
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Always log to stdout for container compatibility
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	// Tag every entry with the service name
	config.InitialFields = map[string]interface{}{"service": serviceName}

	return config
}

// New creates a new structured logger
func New(env string) (*zap.Logger, error) {
	return Config(env).Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// NewWithDefaults creates a logger from SERVER_ENV, falling back to a plain
// production logger if the configuration cannot be built.
func NewWithDefaults() *zap.Logger {
	// Get environment from env var, default to development
	env := os.Getenv("SERVER_ENV")
	if env == "" {
		env = "development"
	}

	logger, err := New(env)
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
