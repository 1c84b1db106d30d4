// Package logger builds the process zap logger and the gin request logging
// middleware.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"carrier_sales/internal/config"
)

// New returns a console logger for local environments and a JSON logger
// otherwise, at the level named by cfg.LogLevel (default info).
func New(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.IsLocal() {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "carrier-sales")), nil
}
