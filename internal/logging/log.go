// Package logging provides leveled log helpers on top of the standard logger,
// with an optional rotating log file.
//
// Messages go through the stdlib log package, so the flags configured in main
// (date, time, short file) apply. Debug messages are dropped unless verbose mode
// is on.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/natefinch/lumberjack"
)

// EnvLogLevel is checked at Setup; a value of "debug" turns verbose mode on.
const EnvLogLevel = "SCENE_DISPATCHER_LOG_LEVEL"

var verbose atomic.Bool

// Config selects where log output goes. An empty File logs to stderr.
type Config struct {
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// Setup points the standard logger at the configured destination and sets the
// verbosity. The returned closer releases the log file, if any.
func Setup(cfg Config, debug bool) io.Closer {
	if strings.EqualFold(os.Getenv(EnvLogLevel), "debug") {
		debug = true
	}
	SetVerbose(debug)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	fmt.Fprintf(os.Stderr, "Sending log messages to: %s\n", cfg.File)
	l := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
	}
	log.SetOutput(l)
	return l
}

// SetVerbose turns debug output on or off.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether debug output is on.
func Verbose() bool {
	return verbose.Load()
}

// Debugf logs at DEBUG level when verbose mode is on.
func Debugf(format string, args ...interface{}) {
	if verbose.Load() {
		output("DEBUG", format, args...)
	}
}

// Infof logs at INFO level.
func Infof(format string, args ...interface{}) {
	output("INFO", format, args...)
}

// Warningf logs at WARNING level.
func Warningf(format string, args ...interface{}) {
	output("WARNING", format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...interface{}) {
	output("ERROR", format, args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func output(level, format string, args ...interface{}) {
	// depth 3: output -> Infof -> caller
	log.Output(3, level+" "+fmt.Sprintf(format, args...))
}
