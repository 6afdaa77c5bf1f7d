package infra

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// RunLog is the log sink of one run: a leveled logger writing to the
// terminal and to a log file, plus the raw file for subprocess output.
type RunLog struct {
	ID     string
	Path   string
	Logger *log.Logger
	File   *os.File
}

// OpenRunLog creates <dir>/<timestamp>-<id>.log.
func OpenRunLog(dir string, debug bool) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	id := uuid.NewString()
	name := fmt.Sprintf("%s-%s.log", time.Now().Format("20060102-150405"), id[:8])
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := NewLogger(io.MultiWriter(os.Stderr, f), debug)
	logger.Info("run started", "id", id, "version", Version)
	return &RunLog{ID: id, Path: path, Logger: logger, File: f}, nil
}

// Output is where subprocess output should go: the file, and stdout too
// when verbose.
func (r *RunLog) Output(verbose bool) io.Writer {
	if verbose {
		return io.MultiWriter(os.Stdout, r.File)
	}
	return r.File
}

// Close flushes and closes the log file.
func (r *RunLog) Close() error {
	if r == nil || r.File == nil {
		return nil
	}
	return r.File.Close()
}

// NewLogger returns the logger used as BuildContext.Log.
func NewLogger(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           level,
		Prefix:          "infra",
	})
}

// LatestRunLog returns the newest log file in dir.
func LatestRunLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no run logs in %s", dir)
	}
	// names start with a sortable timestamp
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
