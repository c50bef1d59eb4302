// services.go: Shared service registry
//
// Plugins publish values under string names for other plugins and the host
// to consume. Registration is last-write-wins: re-registering a name
// replaces the previous value, with the overwrite logged so collisions are
// visible. The registry tracks the owning plugin of every entry so a
// plugin's services disappear with it on unload.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"fmt"
	"sort"
	"sync"
)

// serviceEntry is one registered service with its owning plugin.
type serviceEntry struct {
	owner string
	value any
}

// ServiceRegistry stores shared services by name. Values are returned
// exactly as registered; consumers type-assert. All methods are safe for
// concurrent use.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	logger   Logger
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry(logger Logger) *ServiceRegistry {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ServiceRegistry{
		services: make(map[string]*serviceEntry),
		logger:   logger,
	}
}

// Register publishes a service under the name on behalf of the owning
// plugin. An existing service with the same name is replaced; the
// overwrite is logged with both owners.
func (r *ServiceRegistry) Register(owner, name string, value any) error {
	if name == "" {
		return NewServiceRegistryError("service name is required", fmt.Errorf("plugin %s registered a service without a name", owner))
	}

	r.mu.Lock()
	previous := r.services[name]
	r.services[name] = &serviceEntry{owner: owner, value: value}
	r.mu.Unlock()

	if previous != nil {
		r.logger.Warn("Service overwritten",
			"service", name,
			"owner", owner,
			"previousOwner", previous.owner)
	} else {
		r.logger.Debug("Service registered", "service", name, "owner", owner)
	}
	return nil
}

// Get returns the service registered under the name. The second return
// reports whether the service exists.
func (r *ServiceRegistry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Owner returns the plugin that registered the service.
func (r *ServiceRegistry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[name]
	if !ok {
		return "", false
	}
	return entry.owner, true
}

// Unregister removes the service by name. It reports whether a service
// was removed.
func (r *ServiceRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return false
	}
	delete(r.services, name)
	return true
}

// RemoveOwner removes every service the plugin registered and returns the
// number removed. Services the plugin registered but that were later
// overwritten by another plugin are left alone.
func (r *ServiceRegistry) RemoveOwner(owner string) int {
	r.mu.Lock()
	removed := 0
	for name, entry := range r.services {
		if entry.owner == owner {
			delete(r.services, name)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Debug("Services removed", "owner", owner, "count", removed)
	}
	return removed
}

// Names returns the registered service names, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Count returns the number of registered services.
func (r *ServiceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
