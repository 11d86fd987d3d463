package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger builds the process logger: JSON in production, console otherwise.
// An unknown LOG_LEVEL keeps the preset's level.
func (a App) Logger() (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if a.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(a.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("env", a.Env)), nil
}
