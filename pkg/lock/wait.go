package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/upkeep/pkg/engine"
)

// pollEvery covers holders that die without removing the lock file, which
// produces no filesystem event.
var pollEvery = time.Second

// AcquireWait retries Acquire until it succeeds, timeout elapses or ctx is
// cancelled. It wakes up when the lock file is removed or replaced. With a
// zero timeout it behaves like Acquire.
func (m *Manager) AcquireWait(ctx context.Context, timeout time.Duration) (*Token, error) {
	token, err := m.Acquire()
	if err == nil || timeout <= 0 || !engine.IsConcurrency(err) {
		return token, err
	}

	watcher, werr := fsnotify.NewWatcher()
	if werr != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", werr)
	}
	defer watcher.Close()

	if werr := watcher.Add(filepath.Dir(m.path)); werr != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.path), werr)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	lastErr := err
	for {
		select {
		case <-ctx.Done():
			return nil, engine.NewInterruptedError(ctx.Err())

		case <-deadline.C:
			return nil, lastErr

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, lastErr
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}

		case _, ok := <-watcher.Errors:
			// The poll ticker still drives retries.
			if !ok {
				return nil, lastErr
			}
			continue

		case <-ticker.C:
		}

		token, err := m.Acquire()
		if err == nil {
			return token, nil
		}
		if !engine.IsConcurrency(err) {
			return nil, err
		}
		lastErr = err
	}
}
