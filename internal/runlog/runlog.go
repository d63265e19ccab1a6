// Package runlog provides the per-run append-only log every executor and
// conductor run writes to.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Log owns one run's log file. Lines are newline-delimited JSON events with
// UTC timestamps; when verbose, the same events are mirrored to stderr in
// console form.
type Log struct {
	logger zerolog.Logger
	file   *os.File

	// Path is the log file location, reported in the MASTER_DONE line.
	Path string
}

// New opens (creating parent directories) the log file at path in append
// mode.
func New(path string, verbose bool) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	var sink io.Writer = file
	if verbose {
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		sink = zerolog.MultiLevelWriter(file, console)
	}

	logger := zerolog.New(sink).With().Timestamp().Logger()
	return &Log{logger: logger, file: file, Path: path}, nil
}

// Discard returns a log that drops everything, for tests and dump-only runs.
func Discard() *Log {
	return &Log{logger: zerolog.New(io.Discard)}
}

// Event starts a structured log line tagged with the given event marker.
func (l *Log) Event(event string) *zerolog.Event {
	return l.logger.Info().Str("event", event)
}

// Error starts an error-level log line tagged with the given event marker.
func (l *Log) Error(event string) *zerolog.Event {
	return l.logger.Error().Str("event", event)
}

// Close flushes and closes the underlying file.
func (l *Log) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}
