package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger() error = %v", err)
	}

	l.Log("agent %s started", "a1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Log("after close")
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "agent a1 started") {
		t.Errorf("missing entry in %q", out)
	}
	if strings.Contains(out, "after close") {
		t.Error("entries after Close must be discarded")
	}
}

func TestNopLogger(t *testing.T) {
	var nilLogger *DebugLogger
	nilLogger.Log("ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Close() on nil logger error = %v", err)
	}

	l, err := NewDebugLogger("")
	if err != nil {
		t.Fatalf("NewDebugLogger(\"\") error = %v", err)
	}
	l.Log("ignored")
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
