// state_watcher.go: Enablement file hot reload
//
// The enablement file can be edited outside the host process, for example
// by an operator disabling a misbehaving plugin while the application runs.
// StateWatcher watches the file through Argus and reconciles the in-memory
// enablement set on every change: newly disabled plugins are unloaded,
// newly enabled ones are loaded when a valid discovery result is known.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// DefaultStatePollInterval is the watch interval for the enablement file.
const DefaultStatePollInterval = 2 * time.Second

// StateWatcher watches the persisted enablement file for external edits.
type StateWatcher struct {
	manager  *Manager
	logger   Logger
	path     string
	interval time.Duration

	mu      sync.Mutex
	watcher *argus.Watcher
	running bool
}

// NewStateWatcher creates a watcher over the manager's enablement file.
// A non-positive interval falls back to DefaultStatePollInterval.
func NewStateWatcher(manager *Manager, interval time.Duration) *StateWatcher {
	if interval <= 0 {
		interval = DefaultStatePollInterval
	}
	return &StateWatcher{
		manager:  manager,
		logger:   manager.logger,
		path:     manager.state.path,
		interval: interval,
	}
}

// Start begins watching. The enablement file is written first so the
// watcher always has a file to observe. Watching stops when ctx is
// cancelled or Stop is called.
func (w *StateWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return NewNotifierError("state watcher is already running", nil)
	}

	if err := w.manager.persistEnablement(); err != nil {
		return err
	}

	watcher := argus.New(argus.Config{
		PollInterval:    w.interval,
		CacheTTL:        w.interval / 2,
		MaxWatchedFiles: 2,
		ErrorHandler: func(err error, path string) {
			w.logger.Error("State file watching error", "error", err, "file", path)
		},
	})

	if err := watcher.Watch(w.path, w.handleChange); err != nil {
		return NewNotifierError("failed to watch state file", err)
	}
	if err := watcher.Start(); err != nil {
		return NewNotifierError("failed to start state file watcher", err)
	}

	w.watcher = watcher
	w.running = true

	context.AfterFunc(ctx, func() {
		if err := w.Stop(); err != nil {
			w.logger.Warn("Error stopping state watcher", "error", err)
		}
	})

	w.logger.Info("State watcher started", "file", w.path, "interval", w.interval)
	return nil
}

// handleChange reconciles enablement after a file change. Deletions are
// skipped; the in-memory set stays authoritative until the file returns.
func (w *StateWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		w.logger.Warn("Enablement file was deleted, keeping current state", "file", event.Path)
		return
	}
	if err := w.manager.refreshEnablement(context.Background()); err != nil {
		w.logger.Error("Enablement refresh failed", "error", err)
	}
}

// Stop halts watching. Safe to call more than once.
func (w *StateWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if err := watcher.Stop(); err != nil {
		return NewNotifierError("failed to stop state file watcher", err)
	}
	return nil
}
