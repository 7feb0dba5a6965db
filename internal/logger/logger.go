package logger

import (
	"go.uber.org/zap"
)

// New builds a sugared logger; development mode prints human readable output.
func New(env string) (*zap.SugaredLogger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if env == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		base, err = cfg.Build()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}
