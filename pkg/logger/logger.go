// Package logger provides the structured logger used across fieldcrypt
// services, built on zap and exposed through the logr facade so that
// library code never depends on zap directly.
package logger

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log wraps logr.Logger for portability across the codebase.
type Log struct {
	logr.Logger
}

// New creates a logger appropriate for the running environment. When
// logPath is non-empty, output is additionally written to
// <logPath>/<name>.log.
func New(name, logPath string, production bool) (*Log, error) {
	var zc zap.Config

	switch production {
	case true:
		zc = zap.NewProductionConfig()
	case false:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc.DisableCaller = true
	zc.DisableStacktrace = true

	if logPath != "" {
		if err := os.MkdirAll(logPath, fs.ModeDir); err != nil {
			return nil, err
		}

		zc.OutputPaths = append(zc.OutputPaths, filepath.Join(logPath, fmt.Sprintf("%s.log", name)))
	}

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}

	log := zapr.NewLogger(z)

	return &Log{Logger: log.WithName(name)}, nil
}

// NewSimple creates a logger for call sites that cannot plumb a
// pre-built Log through, such as package-level helpers run before
// configuration is loaded.
func NewSimple(name string) *Log {
	return &Log{Logger: zapr.NewLogger(zap.L().Named(name))}
}
