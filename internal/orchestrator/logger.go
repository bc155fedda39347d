package orchestrator

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger appends timestamped trace lines for a session to a file.
// A nil logger, or one created by NopLogger, discards everything. Its Log
// method is handed to the task graph through SetDebugLog.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
	out  *log.Logger
}

// NewDebugLogger opens path for appending, creating parent directories.
// An empty path yields a discarding logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	l := &DebugLogger{file: f, out: log.New(f, "", log.Ltime|log.Lmicroseconds)}
	l.Log("--- debug log opened %s (pid %d) ---", time.Now().Format(time.RFC3339), os.Getpid())
	return l, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		l.out.Printf(format, args...)
	}
}

// Close flushes and closes the file. Logging after Close is a no-op.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	f := l.file
	l.file, l.out = nil, nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
