// types.go: Common data types and structures for the plugin runtime
//
// This file contains the shared data type definitions used throughout the
// plugin runtime. These types represent the common data models and
// enumerations used by plugins, the loader, and the manager. Keeping them
// separate from the interface definitions improves code organization.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"time"
)

// PluginState represents the position of a plugin instance in its lifecycle
// state machine.
//
// The happy path is:
//
//	unloaded → initializing → initialized → starting → started
//	        → stopping → stopped
//
// StateError is reachable from any transition; StateDisabled is a soft-off
// marker set externally and never entered by the state machine itself.
// StateUnloaded is both the initial and the terminal (post-cleanup) state.
type PluginState int

const (
	StateUnloaded PluginState = iota
	StateInitializing
	StateInitialized
	StateStarting
	StateStarted
	StateStopping
	StateStopped
	StateError
	StateDisabled
)

// String returns a human-readable representation of the plugin state.
func (s PluginState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// HealthLevel classifies the derived health of a plugin instance.
//
// Health is never stored; it is computed from the current state and the
// instance's error log:
//   - HealthError: the error log is non-empty or state is StateError
//   - HealthHealthy: state is StateStarted with an empty error log
//   - HealthWarning: state is StateInitialized or StateStopped
//   - HealthUnknown: anything else
type HealthLevel int

const (
	HealthUnknown HealthLevel = iota
	HealthHealthy
	HealthWarning
	HealthError
)

// String returns a human-readable representation of the health level.
func (h HealthLevel) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthWarning:
		return "warning"
	case HealthError:
		return "error"
	default:
		return "unknown"
	}
}

// PluginHealth contains the derived health assessment of a plugin instance.
//
// Fields:
//   - Level: derived health classification (see HealthLevel)
//   - State: lifecycle state the assessment was derived from
//   - Message: human-readable description of the current condition
//   - Uptime: time since the instance entered StateStarted (zero if never started)
//   - ErrorCount: number of errors currently retained in the instance's ring buffer
//   - LastError: most recent retained error message, if any
//   - HookCount: number of hook handlers the instance currently has registered
//   - CheckedAt: timestamp of the assessment
type PluginHealth struct {
	Level      HealthLevel   `json:"level"`
	State      PluginState   `json:"state"`
	Message    string        `json:"message,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	HookCount  int           `json:"hook_count"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// PluginMetadata is the runtime-identity subset of a plugin manifest.
//
// It is derived from the manifest by the loader and passed to the plugin
// factory at instantiation time. Plugins should treat it as read-only.
type PluginMetadata struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Homepage    string   `json:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	License     string   `json:"license,omitempty"`
}

// PluginConfig is the merged runtime configuration handed to a plugin through
// its context: the manifest's defaultConfig overlaid with runtime overrides
// plus the host-managed toggles. Priority breaks ties in the dependency
// load order, highest first; Timeout bounds the initialization phase.
type PluginConfig struct {
	Priority  int            `json:"priority"`
	Timeout   time.Duration  `json:"timeout"`
	AutoStart bool           `json:"auto_start"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// ManagerStats aggregates runtime statistics across the whole plugin set.
type ManagerStats struct {
	TotalPlugins    int                 `json:"total_plugins"`
	PluginsByState  map[PluginState]int `json:"plugins_by_state"`
	PluginsByHealth map[HealthLevel]int `json:"plugins_by_health"`
	TotalErrors     int                 `json:"total_errors"`
	HookTypes       int                 `json:"hook_types"`
	HookHandlers    int                 `json:"hook_handlers"`
	Services        int                 `json:"services"`
	DisabledPlugins int                 `json:"disabled_plugins"`
}
