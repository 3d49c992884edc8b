// Package logging provides the timestamped, levelled line sink used
// throughout the server. It wraps logrus with a formatter that renders
// the "YYYY-MM-DD HH:MM:SS.mmm [LEVEL] message" line shape and writes
// every line to both a log file and standard output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Level mirrors logrus.Level but only exposes the four levels the spec
// names: DEBUG < INFO < WARNING < ERROR.
type Level = log.Level

const (
	DEBUG   = log.DebugLevel
	INFO    = log.InfoLevel
	WARNING = log.WarnLevel
	ERROR   = log.ErrorLevel
)

// lineFormatter renders "YYYY-MM-DD HH:MM:SS.mmm [LEVEL] message".
type lineFormatter struct{}

func (lineFormatter) Format(entry *log.Entry) ([]byte, error) {
	level := levelWord(entry.Level)
	line := fmt.Sprintf("%s [%s] %s\n",
		entry.Time.Format("2006-01-02 15:04:05.000"),
		level,
		entry.Message)
	return []byte(line), nil
}

func levelWord(l log.Level) string {
	switch l {
	case log.DebugLevel, log.TraceLevel:
		return "DEBUG"
	case log.InfoLevel:
		return "INFO"
	case log.WarnLevel:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// New opens (creating parent directories as needed) the log file at path
// and returns a *log.Logger that writes each formatted line to that file
// and to standard output. The returned logger owns the file and is never
// closed; it lives for process lifetime, matching the source's one log
// file per run.
func New(path string, level Level) (*log.Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	logger := log.New()
	logger.SetFormatter(lineFormatter{})
	logger.SetOutput(io.MultiWriter(f, os.Stdout))
	logger.SetLevel(level)
	return logger, nil
}
