// Package logging provides the file-backed structured logger. Log records
// never go to stdout; the invoke command reserves stdout for its JSON result.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID   string
	backend string
	writer  io.Writer
}

// WithRunID configures the run_id field used in emitted log records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithBackend configures the backend field used in emitted log records.
func WithBackend(backend string) Option {
	return func(opts *newOptions) {
		opts.backend = strings.TrimSpace(backend)
	}
}

// WithWriter redirects log output, bypassing file creation. Used by tests.
func WithWriter(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.writer = w
	}
}

// RuntimeLogger writes structured JSON logs to disk under ~/.amx/logs.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	runID      string
	backend    string
}

// New initializes logging under ~/.amx/logs without writing to stdout.
func New(options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)

	var file *os.File
	var filePath string
	var sink io.Writer = resolved.writer
	if sink == nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}

		logDir := filepath.Join(homeDir, ".amx", "logs")
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		timestamp := time.Now().UTC().Format("20060102-150405")
		fileName := fmt.Sprintf("amx-%s.log", timestamp)
		if resolved.runID != "" {
			fileName = fmt.Sprintf("amx-%s-%s.log", timestamp, resolved.runID)
		}
		filePath = filepath.Join(logDir, fileName)
		// #nosec G304 -- filePath is constructed from trusted local paths.
		file, err = os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = file
	}

	logger := log.NewWithOptions(sink, log.Options{
		Level:           log.InfoLevel,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		file:       file,
		path:       filePath,
		baseLogger: logger,
		runID:      resolved.runID,
		backend:    resolved.backend,
	}
	runtimeLogger.rebuildLogger()
	if filePath != "" {
		runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")
	}
	return runtimeLogger, nil
}

// WithRunID updates the run_id field for subsequent log records.
func (r *RuntimeLogger) WithRunID(runID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.runID = strings.TrimSpace(runID)
	r.rebuildLogger()
	return r
}

// WithBackend updates the backend field for subsequent log records.
func (r *RuntimeLogger) WithBackend(backend string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.backend = strings.TrimSpace(backend)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path, or "" for writer-backed loggers.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"run_id", r.runID,
		"backend", r.backend,
	)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	return resolved
}
