// notifier.go: Plugin directory change notification
//
// Auto-reload is driven by a ChangeNotifier abstraction with two
// implementations: a fixed-interval polling notifier (the baseline
// behavior) and an OS-notification notifier built on fsnotify. The manager
// reacts to either by re-running full discovery; the notifier itself never
// diffs plugin state.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the baseline re-scan interval for the polling
// notifier.
const DefaultPollInterval = 5 * time.Second

// fsDebounceWindow coalesces bursts of filesystem events into a single
// change notification.
const fsDebounceWindow = 250 * time.Millisecond

// ChangeNotifier reports that the plugin root directory may have changed
// and a rediscovery is warranted. Implementations do not inspect plugin
// contents; they only signal.
type ChangeNotifier interface {
	// Start begins watching and invokes onChange for every detected change
	// until Stop is called or ctx is cancelled. onChange is invoked from a
	// notifier-owned goroutine; it must not block for long.
	Start(ctx context.Context, onChange func()) error

	// Stop halts watching. Safe to call more than once.
	Stop() error
}

// PollingNotifier signals a possible change at a fixed interval,
// unconditionally. The manager's reconciliation pass is cheap when
// nothing changed, so the simplicity wins on platforms where filesystem
// notifications are unreliable. Prefer FSWatchNotifier elsewhere.
type PollingNotifier struct {
	root     string
	interval time.Duration
	logger   Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewPollingNotifier creates a polling notifier over the plugin root.
// A non-positive interval falls back to DefaultPollInterval.
func NewPollingNotifier(root string, interval time.Duration, logger Logger) *PollingNotifier {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &PollingNotifier{
		root:     root,
		interval: interval,
		logger:   logger,
	}
}

// Start implements ChangeNotifier.
func (p *PollingNotifier) Start(ctx context.Context, onChange func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return NewNotifierError("polling notifier is already running", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.running = true

	go func() {
		defer close(done)
		defer withStackRecover(p.logger)()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				onChange()
			}
		}
	}()

	p.logger.Info("Polling notifier started", "root", p.root, "interval", p.interval)
	return nil
}

// Stop implements ChangeNotifier.
func (p *PollingNotifier) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// FSWatchNotifier detects plugin root changes through OS filesystem
// notifications (inotify, FSEvents, ReadDirectoryChangesW) via fsnotify.
//
// The root and its immediate children are watched, so both new plugin
// directories and manifest edits inside existing ones are detected.
// Event bursts are debounced into a single notification.
type FSWatchNotifier struct {
	root   string
	logger Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewFSWatchNotifier creates an OS-notification notifier over the plugin
// root.
func NewFSWatchNotifier(root string, logger Logger) *FSWatchNotifier {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &FSWatchNotifier{
		root:   root,
		logger: logger,
	}
}

// Start implements ChangeNotifier.
func (f *FSWatchNotifier) Start(ctx context.Context, onChange func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return NewNotifierError("fs watch notifier is already running", nil)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewNotifierError("failed to create fsnotify watcher", err)
	}

	if err := watcher.Add(f.root); err != nil {
		_ = watcher.Close()
		return NewNotifierError("failed to watch plugin root", err)
	}
	f.addChildWatches(watcher)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	f.watcher = watcher
	f.cancel = cancel
	f.done = done
	f.running = true

	go f.run(runCtx, watcher, onChange, done)

	f.logger.Info("Filesystem notifier started", "root", f.root)
	return nil
}

// run consumes fsnotify events, debouncing bursts into single change
// notifications, until the context is cancelled.
func (f *FSWatchNotifier) run(ctx context.Context, watcher *fsnotify.Watcher, onChange func(), done chan struct{}) {
	defer close(done)
	defer withStackRecover(f.logger)()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			f.logger.Debug("Filesystem event", "op", event.Op.String(), "name", event.Name)

			// A new plugin directory needs its own watch for manifest edits.
			if event.Op.Has(fsnotify.Create) {
				f.addChildWatches(watcher)
			}

			if debounce == nil {
				debounce = time.AfterFunc(fsDebounceWindow, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(fsDebounceWindow)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("Filesystem watching error", "error", err)

		case <-fire:
			debounce = nil
			onChange()
		}
	}
}

// addChildWatches ensures every immediate child directory of the root is
// watched. fsnotify tolerates duplicate Add calls for the same path.
func (f *FSWatchNotifier) addChildWatches(watcher *fsnotify.Watcher) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		f.logger.Warn("Cannot enumerate plugin root for child watches", "error", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(f.root, entry.Name())
		if err := watcher.Add(child); err != nil {
			f.logger.Warn("Cannot watch plugin directory", "dir", child, "error", err)
		}
	}
}

// Stop implements ChangeNotifier.
func (f *FSWatchNotifier) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	cancel := f.cancel
	watcher := f.watcher
	done := f.done
	f.cancel = nil
	f.watcher = nil
	f.done = nil
	f.mu.Unlock()

	cancel()
	err := watcher.Close()
	<-done

	if err != nil {
		return NewNotifierError("failed to close fsnotify watcher", err)
	}
	return nil
}
