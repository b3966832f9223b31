// Package logging provides named zap loggers shared by every hubstack package.
//
// Packages declare a logger once:
//
//	var logger = logging.Logger("network")
//
// The level is process wide and can be changed at any time with SetLevel.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root  = newRoot()
)

func newRoot() *zap.Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

// Logger returns a sugared logger tagged with the component name.
func Logger(name string) *zap.SugaredLogger {
	return root.Named(name).Sugar()
}

// SetLevel changes the level of all loggers ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(l)
	return nil
}

// Sync flushes buffered log entries.
func Sync() error {
	return root.Sync()
}
