// loader.go: Plugin loading pipeline
//
// Loading takes a validated discovery result to a live, initialized plugin:
// idempotency and enablement checks, module resolution, instantiation,
// plugin context construction, then initialization under a deadline.
// Unloading reverses it and always leaves the registries clean, whatever
// the plugin's cleanup logic does.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/go-timecache"
)

// DefaultInitTimeout bounds a plugin's Initialize phase unless the
// plugin's config overrides it.
const DefaultInitTimeout = 30 * time.Second

// DefaultStartTimeout bounds a plugin's Start phase unless the host
// options override it.
const DefaultStartTimeout = 10 * time.Second

// PluginContext is everything the host hands a plugin at initialization.
type PluginContext struct {
	// PluginID is the plugin's manifest ID.
	PluginID string

	// Manifest is the plugin's parsed manifest.
	Manifest *PluginManifest

	// DataDir is a writable directory reserved for this plugin, created
	// before initialization.
	DataDir string

	// AssetsDir is the plugin's bundled assets directory
	// (<pluginDir>/assets), empty when the plugin ships none.
	AssetsDir string

	// Settings is the manifest's default config merged with host-side
	// overrides. Override keys win.
	Settings map[string]any

	// Logger is namespaced with the plugin ID.
	Logger Logger

	// Host exposes the host's hook, service and introspection surface.
	Host HostAPI
}

// HostAPI is the surface plugins use to talk back to the host. Hook and
// service registrations made through it are attributed to the owning
// plugin and removed automatically when the plugin is unloaded.
type HostAPI interface {
	// RegisterHook adds a handler for the hook type, owned by this plugin.
	RegisterHook(hookType string, handler HookHandler) (HookRegistration, error)

	// UnregisterHook removes a previously registered handler.
	UnregisterHook(id HookRegistration) bool

	// EmitHook runs the hook pipeline for the hook type.
	EmitHook(ctx context.Context, hookType string, data any) (any, []error)

	// RegisterService publishes a service, owned by this plugin.
	RegisterService(name string, value any) error

	// GetService returns a registered service by name.
	GetService(name string) (any, bool)

	// GetPlugin returns another loaded plugin by ID.
	GetPlugin(id string) (Plugin, bool)

	// PluginIDs returns the IDs of all loaded plugins, sorted.
	PluginIDs() []string

	// Info describes the host to the plugin.
	Info() HostInfo

	// HostConfig returns the host-level configuration values shared with
	// plugins.
	HostConfig() map[string]any
}

// hostFacade is the per-plugin HostAPI implementation; it pins the owner
// ID so registrations are attributed correctly.
type hostFacade struct {
	manager  *Manager
	pluginID string
}

func (h *hostFacade) RegisterHook(hookType string, handler HookHandler) (HookRegistration, error) {
	return h.manager.hooks.Register(h.pluginID, hookType, handler)
}

func (h *hostFacade) UnregisterHook(id HookRegistration) bool {
	return h.manager.hooks.Unregister(id)
}

func (h *hostFacade) EmitHook(ctx context.Context, hookType string, data any) (any, []error) {
	return h.manager.hooks.Emit(ctx, hookType, data)
}

func (h *hostFacade) RegisterService(name string, value any) error {
	return h.manager.services.Register(h.pluginID, name, value)
}

func (h *hostFacade) GetService(name string) (any, bool) {
	return h.manager.services.Get(name)
}

func (h *hostFacade) GetPlugin(id string) (Plugin, bool) {
	return h.manager.GetPlugin(id)
}

func (h *hostFacade) PluginIDs() []string {
	return h.manager.PluginIDs()
}

func (h *hostFacade) Info() HostInfo {
	return h.manager.hostInfo
}

func (h *hostFacade) HostConfig() map[string]any {
	return h.manager.opts.HostConfig
}

// pluginRecord is the manager's bookkeeping for one loaded plugin.
type pluginRecord struct {
	manifest *PluginManifest
	dir      string
	plugin   Plugin
	config   PluginConfig
	loadedAt time.Time
}

// LoadPlugin loads a single discovered plugin: it resolves the entry
// module, instantiates the plugin and initializes it under a deadline.
// Loading an already loaded plugin succeeds with a warning. Disabled
// plugins are skipped without error.
func (m *Manager) LoadPlugin(ctx context.Context, result *DiscoveryResult) error {
	if result == nil {
		return NewInvalidResultError("", []string{"discovery result has no manifest"})
	}
	if result.Manifest == nil {
		reasons := result.Errors
		if len(reasons) == 0 {
			reasons = []string{"discovery result has no manifest"}
		}
		return NewInvalidResultError(result.PluginDir, reasons)
	}
	id := result.Manifest.ID

	m.mu.RLock()
	_, loaded := m.plugins[id]
	disabled := m.disabled[id]
	m.mu.RUnlock()

	if loaded {
		m.logger.Warn("Plugin already loaded, skipping", "plugin", id)
		return nil
	}
	if !result.IsValid {
		return NewInvalidResultError(result.PluginDir, result.Errors)
	}
	if disabled {
		m.logger.Info("Plugin is disabled, skipping load", "plugin", id)
		return nil
	}

	if m.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.LoadTimeout)
		defer cancel()
	}

	m.events.Publish(EventPluginLoading, map[string]any{"plugin": id})
	m.logger.Info("Loading plugin", "plugin", id, "version", result.Manifest.Version)

	if err := m.validateSecurity(result.Manifest, result.PluginDir); err != nil {
		m.recordLoadFailure(id, err)
		return err
	}

	if err := m.factory.Resolve(result.Manifest, result.PluginDir); err != nil {
		m.recordLoadFailure(id, err)
		return err
	}

	plugin, err := m.factory.Instantiate(ctx, result.Manifest, result.PluginDir)
	if err != nil {
		m.recordLoadFailure(id, err)
		return err
	}

	config := m.pluginConfig(id)
	pctx, err := m.buildPluginContext(result.Manifest, result.PluginDir, config)
	if err != nil {
		m.recordLoadFailure(id, err)
		return err
	}

	if err := m.initializePlugin(ctx, plugin, pctx, config); err != nil {
		m.hooks.RemoveOwner(id)
		m.services.RemoveOwner(id)
		m.recordLoadFailure(id, err)
		return err
	}

	m.mu.Lock()
	m.plugins[id] = &pluginRecord{
		manifest: result.Manifest,
		dir:      result.PluginDir,
		plugin:   plugin,
		config:   config,
		loadedAt: timecache.CachedTime(),
	}
	m.mu.Unlock()
	m.graph.Add(id, dependencyIDs(result.Manifest))
	m.graph.SetPriority(id, config.Priority)

	m.events.Publish(EventPluginLoaded, map[string]any{"plugin": id})
	m.publishStateChange(id, StateInitialized)
	m.logger.Info("Plugin loaded", "plugin", id)
	return nil
}

// UnloadPlugin stops a plugin if needed, runs its cleanup and removes
// every trace of it from the host registries. Registry removal happens
// even when the plugin's own cleanup fails.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	m.mu.RLock()
	record, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return NewPluginNotFoundError(id)
	}

	plugin := record.plugin
	if plugin.State() == StateStarted {
		m.events.Publish(EventPluginStopping, map[string]any{"plugin": id})
		if err := plugin.Stop(ctx); err != nil {
			m.logger.Warn("Plugin stop failed during unload", "plugin", id, "error", err)
		} else {
			m.events.Publish(EventPluginStopped, map[string]any{"plugin": id})
		}
	}

	cleanupErr := plugin.Cleanup(ctx)
	if cleanupErr != nil {
		m.logger.Warn("Plugin cleanup failed", "plugin", id, "error", cleanupErr)
	}

	m.hooks.RemoveOwner(id)
	m.services.RemoveOwner(id)
	m.graph.Remove(id)

	m.mu.Lock()
	delete(m.plugins, id)
	m.mu.Unlock()

	m.events.Publish(EventPluginUnloaded, map[string]any{"plugin": id})
	m.publishStateChange(id, StateUnloaded)
	m.logger.Info("Plugin unloaded", "plugin", id)
	return cleanupErr
}

// buildPluginContext assembles the context handed to the plugin at
// initialization, creating the plugin's data directory on the way.
func (m *Manager) buildPluginContext(manifest *PluginManifest, pluginDir string, config PluginConfig) (*PluginContext, error) {
	dataDir := filepath.Join(m.opts.DataDir, manifest.ID)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, NewContextBuildError(manifest.ID, err)
	}

	assetsDir := filepath.Join(pluginDir, "assets")
	if info, err := os.Stat(assetsDir); err != nil || !info.IsDir() {
		assetsDir = ""
	}

	settings := make(map[string]any, len(manifest.DefaultConfig)+len(config.Settings))
	for key, value := range manifest.DefaultConfig {
		settings[key] = value
	}
	for key, value := range config.Settings {
		settings[key] = value
	}

	return &PluginContext{
		PluginID:  manifest.ID,
		Manifest:  manifest,
		DataDir:   dataDir,
		AssetsDir: assetsDir,
		Settings:  settings,
		Logger:    m.logger.With("plugin", manifest.ID),
		Host:      &hostFacade{manager: m, pluginID: manifest.ID},
	}, nil
}

// initializePlugin runs Initialize under the plugin's timeout. The
// deadline expiring produces a distinct timeout error rather than a
// generic initialization failure.
func (m *Manager) initializePlugin(ctx context.Context, plugin Plugin, pctx *PluginContext, config PluginConfig) error {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = m.opts.InitTimeout
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := pctx.PluginID
	m.events.Publish(EventPluginInitializing, map[string]any{"plugin": id})

	done := make(chan error, 1)
	go func() {
		defer withStackRecover(m.logger)()
		done <- plugin.Initialize(initCtx, pctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-initCtx.Done():
		m.logger.Error("Plugin initialization timed out", "plugin", id, "timeout", timeout)
		return NewInitTimeoutError(id, timeout)
	}

	m.events.Publish(EventPluginInitialized, map[string]any{"plugin": id})
	return nil
}

// pluginConfig returns the host-side config for the plugin, or a zero
// config when none was supplied.
func (m *Manager) pluginConfig(id string) PluginConfig {
	if config, ok := m.opts.PluginConfigs[id]; ok {
		return config
	}
	return PluginConfig{}
}

// recordLoadFailure logs and publishes a load failure.
func (m *Manager) recordLoadFailure(id string, err error) {
	m.logger.Error("Plugin load failed", "plugin", id, "error", err)
	m.events.Publish(EventPluginError, map[string]any{"plugin": id, "error": err.Error()})
}

// dependencyIDs extracts the dependency plugin IDs from a manifest.
func dependencyIDs(manifest *PluginManifest) []string {
	if len(manifest.Dependencies) == 0 {
		return nil
	}
	ids := make([]string, 0, len(manifest.Dependencies))
	for _, dep := range manifest.Dependencies {
		ids = append(ids, dep.ID)
	}
	return ids
}
