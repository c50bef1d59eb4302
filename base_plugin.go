// base_plugin.go: Plugin contract and reusable lifecycle base
//
// Plugin is the contract every hosted plugin satisfies. BasePlugin is the
// standard implementation: it owns the lifecycle state machine, the rolling
// error log, and health derivation, and exposes function fields so plugin
// authors override only the phases they care about.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// errorLogSize bounds the per-plugin rolling error log.
const errorLogSize = 10

// Plugin is the lifecycle contract between the host and a hosted plugin.
//
// Transitions are strict: Initialize only from the unloaded state, Start
// only from initialized or stopped, Stop only from started (anything else
// is a logged no-op), Cleanup from anywhere. Illegal transitions return
// an error naming the current state.
type Plugin interface {
	// Metadata returns the plugin's descriptive metadata.
	Metadata() PluginMetadata

	// State returns the current lifecycle state.
	State() PluginState

	// Initialize prepares the plugin with its host-provided context.
	Initialize(ctx context.Context, pctx *PluginContext) error

	// Start activates the plugin.
	Start(ctx context.Context) error

	// Stop deactivates a started plugin. Calling Stop on a plugin that is
	// not started is a no-op, not an error.
	Stop(ctx context.Context) error

	// Cleanup releases plugin resources. It always completes its own
	// bookkeeping and leaves the plugin unloaded, even when the plugin's
	// cleanup logic fails.
	Cleanup(ctx context.Context) error

	// Health reports the plugin's derived health.
	Health() PluginHealth
}

// ConfigurablePlugin is implemented by plugins that accept new settings
// at runtime. BasePlugin implements it through OnConfigChange.
type ConfigurablePlugin interface {
	// ApplyConfig delivers the merged settings to the plugin.
	ApplyConfig(settings map[string]any) error
}

// PluginError is one entry of a plugin's rolling error log.
type PluginError struct {
	Time    time.Time `json:"time"`
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
}

// BasePlugin is the standard Plugin implementation. Plugin authors embed
// or instantiate it and assign the On* function fields for the phases
// they implement; unassigned phases succeed immediately.
//
// Example:
//
//	plugin := pluginhost.NewBasePlugin(metadata)
//	plugin.OnStart = func(ctx context.Context) error {
//	    return server.Listen()
//	}
//
// All methods are safe for concurrent use.
type BasePlugin struct {
	// OnInitialize runs during Initialize, after the transition to the
	// initializing state.
	OnInitialize func(ctx context.Context, pctx *PluginContext) error

	// OnStart runs during Start.
	OnStart func(ctx context.Context) error

	// OnStop runs during Stop.
	OnStop func(ctx context.Context) error

	// OnCleanup runs during Cleanup.
	OnCleanup func(ctx context.Context) error

	// OnConfigChange is invoked when the host applies new settings to a
	// running plugin.
	OnConfigChange func(settings map[string]any) error

	metadata PluginMetadata

	mu        sync.RWMutex
	state     PluginState
	pctx      *PluginContext
	startedAt time.Time
	errorLog  []PluginError
}

// NewBasePlugin creates a BasePlugin in the unloaded state.
func NewBasePlugin(metadata PluginMetadata) *BasePlugin {
	return &BasePlugin{
		metadata: metadata,
		state:    StateUnloaded,
	}
}

// Metadata implements Plugin.
func (p *BasePlugin) Metadata() PluginMetadata {
	return p.metadata
}

// State implements Plugin.
func (p *BasePlugin) State() PluginState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Context returns the host-provided plugin context, or nil before
// Initialize has run.
func (p *BasePlugin) Context() *PluginContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pctx
}

// Errors returns a copy of the rolling error log, oldest first.
func (p *BasePlugin) Errors() []PluginError {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PluginError, len(p.errorLog))
	copy(out, p.errorLog)
	return out
}

// Initialize implements Plugin. It is legal only from the unloaded state.
func (p *BasePlugin) Initialize(ctx context.Context, pctx *PluginContext) error {
	p.mu.Lock()
	if p.state != StateUnloaded {
		state := p.state
		p.mu.Unlock()
		return NewInvalidTransitionError(p.metadata.ID, "initialize", state)
	}
	p.state = StateInitializing
	p.pctx = pctx
	p.mu.Unlock()

	if p.metadata.ID == "" || p.metadata.Name == "" || p.metadata.Version == "" {
		err := fmt.Errorf("plugin metadata must carry id, name and version")
		p.fail("initialize", err)
		return NewInitFailedError(p.metadata.ID, err)
	}

	if p.OnInitialize != nil {
		if err := p.OnInitialize(ctx, pctx); err != nil {
			p.fail("initialize", err)
			return NewInitFailedError(p.metadata.ID, err)
		}
	}

	p.setState(StateInitialized)
	return nil
}

// Start implements Plugin. It is legal from initialized or stopped.
func (p *BasePlugin) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateInitialized && p.state != StateStopped {
		state := p.state
		p.mu.Unlock()
		return NewInvalidTransitionError(p.metadata.ID, "start", state)
	}
	p.state = StateStarting
	p.mu.Unlock()

	if p.OnStart != nil {
		if err := p.OnStart(ctx); err != nil {
			p.fail("start", err)
			return NewStartFailedError(p.metadata.ID, err)
		}
	}

	p.mu.Lock()
	p.state = StateStarted
	p.startedAt = timecache.CachedTime()
	p.mu.Unlock()
	return nil
}

// Stop implements Plugin. On a plugin that is not started it logs nothing
// here (the caller may) and returns nil.
func (p *BasePlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStarted {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	p.mu.Unlock()

	if p.OnStop != nil {
		if err := p.OnStop(ctx); err != nil {
			p.fail("stop", err)
			return NewStopFailedError(p.metadata.ID, err)
		}
	}

	p.mu.Lock()
	p.state = StateStopped
	p.startedAt = time.Time{}
	p.mu.Unlock()
	return nil
}

// Cleanup implements Plugin. The plugin always ends unloaded, even when
// its cleanup logic returns an error; the error is recorded and returned.
func (p *BasePlugin) Cleanup(ctx context.Context) error {
	var cleanupErr error
	if p.OnCleanup != nil {
		cleanupErr = p.OnCleanup(ctx)
	}

	p.mu.Lock()
	if cleanupErr != nil {
		p.appendErrorLocked("cleanup", cleanupErr)
	}
	p.state = StateUnloaded
	p.pctx = nil
	p.startedAt = time.Time{}
	p.mu.Unlock()

	if cleanupErr != nil {
		return NewCleanupFailedError(p.metadata.ID, cleanupErr)
	}
	return nil
}

// ApplyConfig delivers new settings to the plugin through OnConfigChange.
// Plugins without an OnConfigChange handler accept any settings silently.
func (p *BasePlugin) ApplyConfig(settings map[string]any) error {
	if p.OnConfigChange == nil {
		return nil
	}
	if err := p.OnConfigChange(settings); err != nil {
		p.recordError("config", err)
		return err
	}
	return nil
}

// Health implements Plugin. Health is derived, never stored: any recorded
// error or the error state means error level, a started plugin is healthy,
// initialized and stopped plugins are a warning (present but inactive),
// everything else is unknown.
func (p *BasePlugin) Health() PluginHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	health := PluginHealth{
		State:      p.state,
		ErrorCount: len(p.errorLog),
		CheckedAt:  timecache.CachedTime(),
	}
	if n := len(p.errorLog); n > 0 {
		health.LastError = p.errorLog[n-1].Message
	}
	if p.state == StateStarted && !p.startedAt.IsZero() {
		health.Uptime = timecache.CachedTime().Sub(p.startedAt)
	}

	switch {
	case len(p.errorLog) > 0 || p.state == StateError:
		health.Level = HealthError
		health.Message = "plugin has recorded errors"
	case p.state == StateStarted:
		health.Level = HealthHealthy
		health.Message = "plugin is running"
	case p.state == StateInitialized || p.state == StateStopped:
		health.Level = HealthWarning
		health.Message = "plugin is loaded but not running"
	default:
		health.Level = HealthUnknown
		health.Message = "plugin state is " + p.state.String()
	}
	return health
}

// fail records a phase error and moves the plugin to the error state.
func (p *BasePlugin) fail(phase string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendErrorLocked(phase, err)
	p.state = StateError
}

// recordError appends to the rolling error log without changing state.
func (p *BasePlugin) recordError(phase string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendErrorLocked(phase, err)
}

func (p *BasePlugin) appendErrorLocked(phase string, err error) {
	p.errorLog = append(p.errorLog, PluginError{
		Time:    timecache.CachedTime(),
		Phase:   phase,
		Message: err.Error(),
	})
	if len(p.errorLog) > errorLogSize {
		p.errorLog = p.errorLog[len(p.errorLog)-errorLogSize:]
	}
}

func (p *BasePlugin) setState(state PluginState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}
