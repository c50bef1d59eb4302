// hooks.go: Hook registry and sequential emission pipeline
//
// Hooks are the host's extension points. Handlers register under a hook
// type and run as a sequential pipeline in registration order: each handler
// receives the current data value and may replace it by returning a non-nil
// result. Handler failures and panics are isolated so one misbehaving
// plugin cannot break the pipeline for the rest.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// HookHandler processes one hook emission. Returning a non-nil result
// replaces the data passed to subsequent handlers; returning nil keeps
// the current data unchanged.
type HookHandler func(ctx context.Context, data any) (any, error)

// HookRegistration identifies a registered handler for later removal.
type HookRegistration uint64

// hookEntry is one registered handler with its owning plugin.
type hookEntry struct {
	id      HookRegistration
	owner   string
	handler HookHandler
}

// HookRegistry stores hook handlers by hook type and runs the emission
// pipeline. All methods are safe for concurrent use; emissions snapshot
// the handler list, so registrations during an emission take effect on
// the next one.
type HookRegistry struct {
	mu     sync.RWMutex
	nextID HookRegistration
	hooks  map[string][]*hookEntry
	logger Logger
	events *EventBus
}

// NewHookRegistry creates an empty hook registry. The event bus is
// optional; when present, hook.registered, hook.unregistered and
// hook.executed events are published.
func NewHookRegistry(logger Logger, events *EventBus) *HookRegistry {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &HookRegistry{
		hooks:  make(map[string][]*hookEntry),
		logger: logger,
		events: events,
	}
}

// Register adds a handler for the hook type on behalf of the owning
// plugin and returns a registration handle for removal.
func (r *HookRegistry) Register(owner, hookType string, handler HookHandler) (HookRegistration, error) {
	if hookType == "" {
		return 0, NewHookHandlerError(hookType, owner, fmt.Errorf("hook type is required"))
	}
	if handler == nil {
		return 0, NewHookHandlerError(hookType, owner, fmt.Errorf("handler is required"))
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.hooks[hookType] = append(r.hooks[hookType], &hookEntry{
		id:      id,
		owner:   owner,
		handler: handler,
	})
	r.mu.Unlock()

	r.logger.Debug("Hook handler registered", "hook", hookType, "owner", owner)
	r.publish(EventHookRegistered, map[string]any{"hook": hookType, "owner": owner})
	return id, nil
}

// Unregister removes a single handler by its registration handle.
// It reports whether a handler was removed.
func (r *HookRegistry) Unregister(id HookRegistration) bool {
	r.mu.Lock()
	var removed *hookEntry
	for hookType, entries := range r.hooks {
		for i, entry := range entries {
			if entry.id != id {
				continue
			}
			removed = entry
			r.hooks[hookType] = append(entries[:i], entries[i+1:]...)
			if len(r.hooks[hookType]) == 0 {
				delete(r.hooks, hookType)
			}
			break
		}
		if removed != nil {
			r.publishUnregisteredLocked(hookType, removed.owner)
			break
		}
	}
	r.mu.Unlock()
	return removed != nil
}

// RemoveOwner removes every handler registered by the plugin and returns
// the number removed. Used when a plugin is cleaned up or unloaded.
func (r *HookRegistry) RemoveOwner(owner string) int {
	r.mu.Lock()
	removed := 0
	for hookType, entries := range r.hooks {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.owner == owner {
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(r.hooks, hookType)
		} else {
			r.hooks[hookType] = kept
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Debug("Hook handlers removed", "owner", owner, "count", removed)
		r.publish(EventHookUnregistered, map[string]any{"owner": owner, "count": removed})
	}
	return removed
}

// Emit runs the hook pipeline for the hook type. Handlers run
// sequentially in registration order; a handler's non-nil result replaces
// the data for the handlers after it. A failing or panicking handler is
// logged and skipped, so the returned errors never prevent later handlers
// from running. Emit returns the final data value together with every
// error collected along the way.
func (r *HookRegistry) Emit(ctx context.Context, hookType string, data any) (any, []error) {
	r.mu.RLock()
	entries := make([]*hookEntry, len(r.hooks[hookType]))
	copy(entries, r.hooks[hookType])
	r.mu.RUnlock()

	if len(entries) == 0 {
		return data, nil
	}

	start := timecache.CachedTimeNano()
	var errs []error

	for _, entry := range entries {
		result, err := r.invoke(ctx, entry, hookType, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if result != nil {
			data = result
		}
	}

	elapsed := time.Duration(timecache.CachedTimeNano() - start)
	r.publish(EventHookExecuted, map[string]any{
		"hook":     hookType,
		"handlers": len(entries),
		"errors":   len(errs),
		"duration": elapsed,
	})
	return data, errs
}

// invoke runs a single handler with panic isolation.
func (r *HookRegistry) invoke(ctx context.Context, entry *hookEntry, hookType string, data any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			r.logger.Error("Panic in hook handler",
				"hook", hookType,
				"owner", entry.owner,
				"panic", rec,
				"stack", string(buf[:n]))
			result = nil
			err = NewHookPanicError(hookType, entry.owner, rec)
		}
	}()

	result, handlerErr := entry.handler(ctx, data)
	if handlerErr != nil {
		r.logger.Warn("Hook handler failed",
			"hook", hookType,
			"owner", entry.owner,
			"error", handlerErr)
		return nil, NewHookHandlerError(hookType, entry.owner, handlerErr)
	}
	return result, nil
}

// Types returns the hook types that currently have handlers, sorted.
func (r *HookRegistry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.hooks))
	for hookType := range r.hooks {
		types = append(types, hookType)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

// HandlerCount returns the number of handlers for the hook type.
func (r *HookRegistry) HandlerCount(hookType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hookType])
}

// OwnerHandlerCount returns the number of handlers the plugin has
// registered across all hook types.
func (r *HookRegistry) OwnerHandlerCount(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, entries := range r.hooks {
		for _, entry := range entries {
			if entry.owner == owner {
				count++
			}
		}
	}
	return count
}

// TotalHandlers returns the number of handlers across all hook types.
func (r *HookRegistry) TotalHandlers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, entries := range r.hooks {
		total += len(entries)
	}
	return total
}

func (r *HookRegistry) publish(event string, payload map[string]any) {
	if r.events != nil {
		r.events.Publish(event, payload)
	}
}

// publishUnregisteredLocked publishes without taking the registry lock
// again; the event bus does its own locking.
func (r *HookRegistry) publishUnregisteredLocked(hookType, owner string) {
	if r.events != nil {
		r.events.Publish(EventHookUnregistered, map[string]any{"hook": hookType, "owner": owner})
	}
}
