// Package signals turns control files dropped into a directory into
// orchestrator commands, so a running session can be steered from outside
// the process.
//
// Recognized file names:
//
//	cancel            cancel the session
//	pause-<agentID>   pause one agent
//	resume-<agentID>  resume one agent
//
// Files are removed once handled.
package signals

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Controller receives the commands.
type Controller interface {
	Cancel()
	PauseAgent(id string) error
	ResumeAgent(id string) error
}

// Signal file names.
const (
	CancelFile   = "cancel"
	PausePrefix  = "pause-"
	ResumePrefix = "resume-"
)

// DefaultPollInterval is used when fsnotify cannot watch the directory.
const DefaultPollInterval = time.Second

// Watcher dispatches signal files to a Controller.
type Watcher struct {
	dir  string
	ctrl Controller

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	closed  bool
}

// NewWatcher creates the signal directory if needed and starts watching it.
// When fsnotify is unavailable the directory is polled instead. Files already
// present are handled immediately.
func NewWatcher(dir string, ctrl Controller) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		ctrl:    ctrl,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fw.Add(dir); err != nil {
			fw.Close()
		}
	}
	if err != nil {
		log.Printf("[signals] fsnotify unavailable (%v), polling %s", err, dir)
		go w.poll(DefaultPollInterval)
	} else {
		w.watcher = fw
		go w.watch()
	}

	w.Scan()
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

func (w *Watcher) watch() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(filepath.Base(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] watcher error: %v", err)
		}
	}
}

func (w *Watcher) poll(interval time.Duration) {
	defer close(w.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan handles every signal file currently in the directory.
func (w *Watcher) Scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(e.Name())
		}
	}
}

// handle consumes one signal file. Removal happens first so a file is acted
// on at most once even if several events arrive for it.
func (w *Watcher) handle(name string) {
	cmd, id, ok := Parse(name)
	if !ok {
		return
	}
	if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[signals] failed to remove %s: %v", name, err)
		}
		return
	}

	var err error
	switch cmd {
	case CancelFile:
		w.ctrl.Cancel()
	case PausePrefix:
		err = w.ctrl.PauseAgent(id)
	case ResumePrefix:
		err = w.ctrl.ResumeAgent(id)
	}
	if err != nil {
		log.Printf("[signals] %s%s: %v", cmd, id, err)
	}
}

// Parse maps a file name to a command (CancelFile, PausePrefix or
// ResumePrefix) and agent ID.
func Parse(name string) (cmd, id string, ok bool) {
	switch {
	case name == CancelFile:
		return CancelFile, "", true
	case strings.HasPrefix(name, PausePrefix) && len(name) > len(PausePrefix):
		return PausePrefix, strings.TrimPrefix(name, PausePrefix), true
	case strings.HasPrefix(name, ResumePrefix) && len(name) > len(ResumePrefix):
		return ResumePrefix, strings.TrimPrefix(name, ResumePrefix), true
	}
	return "", "", false
}

// Send writes a signal file into dir.
func Send(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
	<-w.stopped
}
