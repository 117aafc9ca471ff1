// Package tempfile implements the process-wide temp-file manager singleton
// described in the design notes: a global set by Configure with a
// directory, whose still-tracked files are unlinked by Cleanup, which the
// SIGINT/SIGABRT handler calls; on a clean run each user removes its own
// files. File names are generated with google/uuid to avoid
// collisions across concurrent construction runs sharing a directory.
package tempfile

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// Manager owns a directory and the set of files it has handed out. All
// methods are safe for concurrent use; create/delete are internally
// serialized with a mutex as the spec's "shared resources" section requires.
type Manager struct {
	mu      sync.Mutex
	dir     string
	files   map[string]struct{}
	sigOnce sync.Once
	sigCh   chan os.Signal
}

var (
	globalMu sync.Mutex
	global   *Manager
)

// Configure installs the process-wide manager rooted at dir. Calling it
// again replaces the global (used by tests that need isolated directories);
// it does not unlink files tracked by a previously configured manager.
func Configure(dir string) *Manager {
	m := &Manager{dir: dir, files: make(map[string]struct{})}
	globalMu.Lock()
	global = m
	globalMu.Unlock()
	return m
}

// Global returns the process-wide manager, or nil if Configure was never
// called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Dir returns the configured directory.
func (m *Manager) Dir() string { return m.dir }

// CreateFile allocates a new uniquely-named temp file path under the
// manager's directory with the given prefix/suffix and registers it for
// cleanup. It does not create the file on disk; callers do that with
// os.Create.
func (m *Manager) CreateFile(prefix, suffix string) string {
	name := filepath.Join(m.dir, fmt.Sprintf("%s%s%s", prefix, uuid.NewString(), suffix))
	m.mu.Lock()
	m.files[name] = struct{}{}
	m.mu.Unlock()
	return name
}

// Forget removes path from the cleanup set without deleting it — used once
// a temp file has been consumed and its successor created, so cleanup does
// not pile up stale entries for files already unlinked by the pipeline
// itself.
func (m *Manager) Forget(path string) {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
}

// Cleanup unlinks every file still tracked by the manager. It is safe to
// call multiple times and safe to call from a signal handler (os.Remove is
// a thin syscall wrapper with no allocation-heavy path on the common case).
func (m *Manager) Cleanup() {
	m.mu.Lock()
	files := make([]string, 0, len(m.files))
	for f := range m.files {
		files = append(files, f)
	}
	m.files = make(map[string]struct{})
	m.mu.Unlock()

	for _, f := range files {
		os.Remove(f)
	}
}

// InstallSignalHandler registers SIGINT/SIGABRT handlers that call
// m.Cleanup() and exit(1), matching the Interrupted error-taxonomy entry.
// It is idempotent per Manager.
func (m *Manager) InstallSignalHandler() {
	m.sigOnce.Do(func() {
		m.sigCh = make(chan os.Signal, 1)
		signal.Notify(m.sigCh, os.Interrupt, syscall.SIGABRT)
		go func() {
			<-m.sigCh
			m.Cleanup()
			os.Exit(1)
		}()
	})
}
