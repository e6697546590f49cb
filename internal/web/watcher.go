package web

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/supervisor"
)

// RegistryWatcher follows the shared agent-registry file with fsnotify
// so the agent list reflects rows written by other controller processes
// without re-reading the file on every request.
type RegistryWatcher struct {
	registry *supervisor.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	snapshot []*supervisor.AgentRecord
}

// NewRegistryWatcher seeds the snapshot from the current file contents.
func NewRegistryWatcher(registry *supervisor.Registry, logger *zap.Logger) *RegistryWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &RegistryWatcher{registry: registry, logger: logger}
	w.refresh()
	return w
}

// Snapshot returns the last observed agent list.
func (w *RegistryWatcher) Snapshot() []*supervisor.AgentRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*supervisor.AgentRecord(nil), w.snapshot...)
}

// Run watches until ctx ends. The watch is on the directory: registry
// writes go through temp+rename, which replaces the inode the file path
// points at.
func (w *RegistryWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.registry.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(w.registry.Path())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("registry watch error", zap.Error(err))
		}
	}
}

func (w *RegistryWatcher) refresh() {
	rows := w.registry.List()
	w.mu.Lock()
	w.snapshot = rows
	w.mu.Unlock()
}
