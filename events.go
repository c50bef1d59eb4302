// events.go: Host event bus
//
// The manager publishes lifecycle and hook activity as named events so
// embedding applications can observe the host without polling. Delivery is
// asynchronous and panic-isolated; a slow or broken subscriber never blocks
// plugin operations.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// Host event names published by the manager and registries.
const (
	EventPluginDiscovered   = "plugin.discovered"
	EventPluginLoading      = "plugin.loading"
	EventPluginLoaded       = "plugin.loaded"
	EventPluginInitializing = "plugin.initializing"
	EventPluginInitialized  = "plugin.initialized"
	EventPluginStarting     = "plugin.starting"
	EventPluginStarted      = "plugin.started"
	EventPluginStopping     = "plugin.stopping"
	EventPluginStopped      = "plugin.stopped"
	EventPluginUnloaded     = "plugin.unloaded"
	EventPluginError        = "plugin.error"
	EventPluginStateChanged = "plugin.stateChanged"

	EventHookRegistered   = "hook.registered"
	EventHookUnregistered = "hook.unregistered"
	EventHookExecuted     = "hook.executed"

	EventPluginsChanged = "plugins.changed"
)

// Event is one published host event.
type Event struct {
	Name    string
	Time    time.Time
	Payload map[string]any
}

// EventHandler receives published events. Handlers run on dispatch
// goroutines and must be safe for concurrent invocation.
type EventHandler func(event Event)

// EventSubscription identifies an event subscription for removal.
type EventSubscription uint64

type eventSubscriber struct {
	id      EventSubscription
	event   string // empty subscribes to every event
	handler EventHandler
}

// EventBus fans host events out to subscribers. Publishing never blocks:
// each delivery runs on its own goroutine with panic recovery.
type EventBus struct {
	mu          sync.RWMutex
	nextID      EventSubscription
	subscribers []*eventSubscriber
	logger      Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers a handler for one event name.
func (b *EventBus) Subscribe(event string, handler EventHandler) EventSubscription {
	return b.subscribe(event, handler)
}

// SubscribeAll registers a handler for every event.
func (b *EventBus) SubscribeAll(handler EventHandler) EventSubscription {
	return b.subscribe("", handler)
}

func (b *EventBus) subscribe(event string, handler EventHandler) EventSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscribers = append(b.subscribers, &eventSubscriber{
		id:      b.nextID,
		event:   event,
		handler: handler,
	})
	return b.nextID
}

// Unsubscribe removes a subscription. It reports whether one was removed.
func (b *EventBus) Unsubscribe(id EventSubscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers the event to every matching subscriber asynchronously.
func (b *EventBus) Publish(name string, payload map[string]any) {
	b.mu.RLock()
	matching := make([]*eventSubscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.event == "" || sub.event == name {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	if len(matching) == 0 {
		return
	}

	event := Event{
		Name:    name,
		Time:    timecache.CachedTime(),
		Payload: payload,
	}
	for _, sub := range matching {
		handler := sub.handler
		go func() {
			defer withStackRecover(b.logger)()
			handler(event)
		}()
	}
}
