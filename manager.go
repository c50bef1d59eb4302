// manager.go: Plugin host manager
//
// Manager is the embedding application's entry point: it owns discovery,
// dependency-ordered loading, the lifecycle of every plugin, the hook and
// service registries, enablement persistence and optional auto-reload.
//
// Example:
//
//	manager, err := pluginhost.NewManager(pluginhost.ManagerOptions{
//	    PluginsDir: "/etc/myapp/plugins",
//	    DataDir:    "/var/lib/myapp/plugin-data",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Shutdown(context.Background())
//
//	if _, err := manager.DiscoverPlugins(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := manager.LoadAllPlugins(ctx); err != nil {
//	    log.Printf("some plugins failed: %v", err)
//	}
//	if err := manager.StartAllPlugins(ctx); err != nil {
//	    log.Printf("some plugins failed to start: %v", err)
//	}
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HostVersion is the plugin host's own version, compared against manifest
// minHostVersion and maxHostVersion bounds.
const HostVersion = "1.0.0"

// DefaultAPIVersion is the plugin API generation accepted when the
// embedding application does not configure its own list.
const DefaultAPIVersion = "1.0"

// ManagerOptions configures a Manager. PluginsDir is required; everything
// else has a working default.
type ManagerOptions struct {
	// PluginsDir is the root directory scanned for plugins.
	PluginsDir string

	// DataDir is where the host keeps per-plugin data directories and its
	// own state. Defaults to PluginsDir + "-data".
	DataDir string

	// Logger receives host and plugin log output. Defaults to stderr.
	Logger Logger

	// Factory resolves and instantiates plugin modules. Defaults to a
	// composite of the builtin constructor registry and the Lua factory.
	Factory PluginFactory

	// HostVersion overrides the compiled-in host version, mainly for
	// embedding applications that version the host surface themselves.
	HostVersion string

	// SupportedAPIVersions lists the accepted manifest apiVersion values.
	// Defaults to DefaultAPIVersion only.
	SupportedAPIVersions []string

	// AllowedPermissions is the whitelist checked against manifest
	// permission requests. Empty allows none.
	AllowedPermissions []string

	// HostConfig holds host-level values exposed to plugins through
	// their context.
	HostConfig map[string]any

	// PluginConfigs carries per-plugin overrides keyed by plugin ID.
	PluginConfigs map[string]PluginConfig

	// Notifier overrides the change notifier used by auto-reload.
	// Defaults to a PollingNotifier over PluginsDir.
	Notifier ChangeNotifier

	// PollInterval is the default notifier's polling interval.
	PollInterval time.Duration

	// LoadTimeout bounds one whole LoadPlugin call, resolution through
	// initialization. Zero leaves the load bounded only by InitTimeout.
	LoadTimeout time.Duration

	// InitTimeout bounds a plugin's Initialize phase when its PluginConfig
	// carries no Timeout of its own. Defaults to DefaultInitTimeout.
	InitTimeout time.Duration

	// StartTimeout bounds a plugin's Start phase. Defaults to
	// DefaultStartTimeout.
	StartTimeout time.Duration

	// Validation is the security policy applied before a plugin is
	// instantiated. The zero value performs no validation.
	Validation ValidationPolicy
}

// setOptionDefaults fills the zero-valued options in place.
func setOptionDefaults(opts *ManagerOptions) {
	if opts.DataDir == "" {
		opts.DataDir = opts.PluginsDir + "-data"
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.HostVersion == "" {
		opts.HostVersion = HostVersion
	}
	if len(opts.SupportedAPIVersions) == 0 {
		opts.SupportedAPIVersions = []string{DefaultAPIVersion}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
}

// Manager hosts plugins: it discovers them, loads them in dependency
// order, drives their lifecycle and exposes the hook and service
// registries. All methods are safe for concurrent use.
type Manager struct {
	opts     ManagerOptions
	logger   Logger
	hostInfo HostInfo

	discovery *Discovery
	factory   PluginFactory
	builtin   *BuiltinFactory
	hooks     *HookRegistry
	services  *ServiceRegistry
	events    *EventBus
	graph     *DependencyGraph
	state     *stateStore

	mu         sync.RWMutex
	plugins    map[string]*pluginRecord
	discovered map[string]*DiscoveryResult
	disabled   map[string]bool
	closed     bool

	notifierMu   sync.Mutex
	notifier     ChangeNotifier
	stopWatch    context.CancelFunc
	stateWatcher *StateWatcher
}

// NewManager creates a Manager. The persisted enablement state is read
// here; a corrupted state file is logged and treated as empty rather
// than failing construction.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.PluginsDir == "" {
		return nil, NewHostStateError("plugins directory is required", nil)
	}
	setOptionDefaults(&opts)

	logger := opts.Logger
	hostInfo := HostInfo{
		Version:              opts.HostVersion,
		SupportedAPIVersions: opts.SupportedAPIVersions,
		AllowedPermissions:   opts.AllowedPermissions,
	}

	m := &Manager{
		opts:       opts,
		logger:     logger,
		hostInfo:   hostInfo,
		events:     NewEventBus(logger),
		graph:      NewDependencyGraph(),
		state:      newStateStore(opts.DataDir),
		plugins:    make(map[string]*pluginRecord),
		discovered: make(map[string]*DiscoveryResult),
	}
	m.hooks = NewHookRegistry(logger, m.events)
	m.services = NewServiceRegistry(logger)

	validator := NewManifestValidator(hostInfo)
	m.discovery = NewDiscovery(opts.PluginsDir, validator, logger)

	if opts.Factory != nil {
		m.factory = opts.Factory
	} else {
		m.builtin = NewBuiltinFactory()
		m.factory = NewCompositeFactory(m.builtin, NewLuaFactory(logger))
	}

	disabled, err := m.state.Load()
	if err != nil {
		logger.Warn("Cannot read persisted plugin state, starting fresh", "error", err)
		disabled = make(map[string]bool)
	}
	m.disabled = disabled

	logger.Info("Plugin manager created",
		"pluginsDir", opts.PluginsDir,
		"dataDir", opts.DataDir,
		"hostVersion", hostInfo.Version)
	return m, nil
}

// RegisterConstructor registers a compiled-in plugin constructor under
// the plugin ID. It fails when the manager was built with a custom
// factory.
func (m *Manager) RegisterConstructor(pluginID string, constructor PluginConstructor) error {
	if m.builtin == nil {
		return NewHostStateError("manager uses a custom factory, register constructors there", nil)
	}
	m.builtin.Register(pluginID, constructor)
	return nil
}

// Events returns the host event bus.
func (m *Manager) Events() *EventBus { return m.events }

// Hooks returns the hook registry.
func (m *Manager) Hooks() *HookRegistry { return m.hooks }

// Services returns the service registry.
func (m *Manager) Services() *ServiceRegistry { return m.services }

// Host returns the host description shared with plugins.
func (m *Manager) Host() HostInfo { return m.hostInfo }

// DiscoverPlugins scans the plugin root and remembers the results for
// loading. Invalid candidates are logged and kept in the returned slice
// with their errors; only a failure to read the root itself is an error.
func (m *Manager) DiscoverPlugins(ctx context.Context) ([]*DiscoveryResult, error) {
	if err := m.ensureRunning(); err != nil {
		return nil, err
	}

	results, err := m.discovery.Scan(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.discovered = make(map[string]*DiscoveryResult, len(results))
	for _, result := range results {
		if result.Manifest != nil && result.Manifest.ID != "" {
			m.discovered[result.Manifest.ID] = result
		}
	}
	m.mu.Unlock()

	for _, result := range results {
		if result.IsValid {
			m.events.Publish(EventPluginDiscovered, map[string]any{
				"plugin": result.Manifest.ID,
				"dir":    result.PluginDir,
			})
		} else {
			m.logger.Warn("Invalid plugin candidate",
				"dir", result.PluginDir,
				"errors", result.Errors)
		}
	}

	m.logger.Info("Plugin discovery finished", "candidates", len(results))
	return results, nil
}

// LoadAllPlugins loads every valid discovered plugin in dependency-first
// order. Plugins with missing dependencies or inside dependency cycles
// are skipped with an error each; one plugin failing to load never stops
// the rest. The returned error, when non-nil, summarizes the failures.
func (m *Manager) LoadAllPlugins(ctx context.Context) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.RLock()
	if len(m.discovered) == 0 {
		m.mu.RUnlock()
		if _, err := m.DiscoverPlugins(ctx); err != nil {
			return err
		}
		m.mu.RLock()
	}
	valid := make(map[string]*DiscoveryResult, len(m.discovered))
	for id, result := range m.discovered {
		if result.IsValid {
			valid[id] = result
		}
	}
	m.mu.RUnlock()

	// Ordering uses a scratch graph over this batch; the manager's graph
	// only tracks plugins that actually loaded.
	order, unresolved := m.batchLoadOrder(valid)

	var failed []string
	for _, id := range unresolved {
		err := m.unresolvedError(id, valid)
		m.logger.Error("Plugin cannot be loaded", "plugin", id, "error", err)
		m.events.Publish(EventPluginError, map[string]any{"plugin": id, "error": err.Error()})
		failed = append(failed, id)
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return NewHostStateError("load cancelled", err)
		}
		if err := m.LoadPlugin(ctx, valid[id]); err != nil {
			failed = append(failed, id)
			continue
		}
		if m.pluginConfig(id).AutoStart {
			if err := m.StartPlugin(ctx, id); err != nil {
				m.logger.Error("Auto-start failed", "plugin", id, "error", err)
			}
		}
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		return NewHostStateError(fmt.Sprintf("%d of %d plugins failed to load: %v",
			len(failed), len(valid), failed), nil)
	}
	return nil
}

// batchLoadOrder orders one load batch by dependencies, with the
// host-configured plugin priorities as the tie-break.
func (m *Manager) batchLoadOrder(valid map[string]*DiscoveryResult) (order, unresolved []string) {
	graph := NewDependencyGraph()
	for id, result := range valid {
		graph.Add(id, dependencyIDs(result.Manifest))
		graph.SetPriority(id, m.pluginConfig(id).Priority)
	}
	return graph.LoadOrder()
}

// unresolvedError explains why a plugin could not be ordered: a missing
// dependency when one exists, a dependency cycle otherwise.
func (m *Manager) unresolvedError(id string, valid map[string]*DiscoveryResult) error {
	graph := NewDependencyGraph()
	for pluginID, result := range valid {
		graph.Add(pluginID, dependencyIDs(result.Manifest))
	}
	if missing, ok := graph.Missing()[id]; ok {
		return NewHostStateError(fmt.Sprintf("plugin %s has missing dependencies %v", id, missing), nil)
	}
	return NewHostStateError(fmt.Sprintf("plugin %s is part of a dependency cycle", id), nil)
}

// StartPlugin starts one loaded plugin.
func (m *Manager) StartPlugin(ctx context.Context, id string) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}
	plugin, ok := m.GetPlugin(id)
	if !ok {
		return NewPluginNotFoundError(id)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.opts.StartTimeout)
	defer cancel()

	m.events.Publish(EventPluginStarting, map[string]any{"plugin": id})
	done := make(chan error, 1)
	go func() {
		defer withStackRecover(m.logger)()
		done <- plugin.Start(startCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.events.Publish(EventPluginError, map[string]any{"plugin": id, "error": err.Error()})
			return err
		}
	case <-startCtx.Done():
		m.logger.Error("Plugin start timed out", "plugin", id, "timeout", m.opts.StartTimeout)
		return NewStartTimeoutError(id, m.opts.StartTimeout)
	}
	m.events.Publish(EventPluginStarted, map[string]any{"plugin": id})
	m.publishStateChange(id, StateStarted)
	m.logger.Info("Plugin started", "plugin", id)
	return nil
}

// StopPlugin stops one plugin. Stopping a plugin that is not started is
// a logged no-op.
func (m *Manager) StopPlugin(ctx context.Context, id string) error {
	plugin, ok := m.GetPlugin(id)
	if !ok {
		return NewPluginNotFoundError(id)
	}
	if plugin.State() != StateStarted {
		m.logger.Warn("Stop requested for plugin that is not started",
			"plugin", id, "state", plugin.State().String())
		return nil
	}

	m.events.Publish(EventPluginStopping, map[string]any{"plugin": id})
	if err := plugin.Stop(ctx); err != nil {
		m.events.Publish(EventPluginError, map[string]any{"plugin": id, "error": err.Error()})
		return err
	}
	m.events.Publish(EventPluginStopped, map[string]any{"plugin": id})
	m.publishStateChange(id, StateStopped)
	m.logger.Info("Plugin stopped", "plugin", id)
	return nil
}

// StartAllPlugins starts every loaded plugin that is not already started,
// dependencies first. Failures are collected, not fatal to the batch.
func (m *Manager) StartAllPlugins(ctx context.Context) error {
	order, _ := m.graph.LoadOrder()
	var failed []string
	for _, id := range order {
		plugin, ok := m.GetPlugin(id)
		if !ok || plugin.State() == StateStarted {
			continue
		}
		if err := m.StartPlugin(ctx, id); err != nil {
			m.logger.Error("Plugin start failed", "plugin", id, "error", err)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return NewHostStateError(fmt.Sprintf("%d plugins failed to start: %v", len(failed), failed), nil)
	}
	return nil
}

// StopAllPlugins stops every started plugin, dependents first.
func (m *Manager) StopAllPlugins(ctx context.Context) error {
	order, _ := m.graph.LoadOrder()
	var failed []string
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		plugin, ok := m.GetPlugin(id)
		if !ok || plugin.State() != StateStarted {
			continue
		}
		if err := m.StopPlugin(ctx, id); err != nil {
			m.logger.Error("Plugin stop failed", "plugin", id, "error", err)
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return NewHostStateError(fmt.Sprintf("%d plugins failed to stop: %v", len(failed), failed), nil)
	}
	return nil
}

// ReloadPlugin unloads a plugin and loads it again from a fresh read of
// its directory, picking up manifest and module changes. A plugin that
// was started before the reload is started again after it.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.RLock()
	record, ok := m.plugins[id]
	m.mu.RUnlock()
	if !ok {
		return NewPluginNotFoundError(id)
	}

	dir := record.dir
	wasStarted := record.plugin.State() == StateStarted

	if err := m.UnloadPlugin(ctx, id); err != nil {
		m.logger.Warn("Cleanup error during reload", "plugin", id, "error", err)
	}

	result := m.discovery.inspectCandidate(dir)
	if result.Manifest != nil && result.Manifest.ID != "" {
		m.mu.Lock()
		m.discovered[result.Manifest.ID] = result
		m.mu.Unlock()
	}

	if err := m.LoadPlugin(ctx, result); err != nil {
		return err
	}
	if wasStarted {
		return m.StartPlugin(ctx, id)
	}
	return nil
}

// EnablePlugin clears the plugin's disabled marker and persists the
// change. It does not load the plugin; the marker takes effect at the
// next load cycle (LoadPlugin, LoadAllPlugins or a reload).
func (m *Manager) EnablePlugin(ctx context.Context, id string) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.disabled, id)
	disabled := copyBoolMap(m.disabled)
	m.mu.Unlock()

	if err := m.state.Save(disabled); err != nil {
		return err
	}
	m.logger.Info("Plugin enabled", "plugin", id)
	return nil
}

// DisablePlugin sets the plugin's disabled marker and persists it. This
// is intentionally a soft disable: a currently-running instance keeps
// running and the marker is honored at the next load cycle. Use
// UnloadPlugin to take a running instance down, or WatchEnablement to
// have external marker edits reconciled automatically.
func (m *Manager) DisablePlugin(ctx context.Context, id string) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	m.disabled[id] = true
	disabled := copyBoolMap(m.disabled)
	m.mu.Unlock()

	if err := m.state.Save(disabled); err != nil {
		return err
	}
	m.logger.Info("Plugin disabled", "plugin", id)
	return nil
}

// IsDisabled reports whether the plugin carries the disabled marker.
func (m *Manager) IsDisabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[id]
}

// GetPlugin returns a loaded plugin by ID.
func (m *Manager) GetPlugin(id string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.plugins[id]
	if !ok {
		return nil, false
	}
	return record.plugin, true
}

// PluginIDs returns the IDs of all loaded plugins, sorted.
func (m *Manager) PluginIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.plugins))
	for id := range m.plugins {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// GetPluginState returns the plugin's lifecycle state. Disabled plugins
// that are not loaded report StateDisabled; unknown IDs report
// StateUnloaded.
func (m *Manager) GetPluginState(id string) PluginState {
	m.mu.RLock()
	record, loaded := m.plugins[id]
	disabled := m.disabled[id]
	m.mu.RUnlock()

	if loaded {
		return record.plugin.State()
	}
	if disabled {
		return StateDisabled
	}
	return StateUnloaded
}

// UpdatePluginConfig replaces the host-side settings overrides for a
// loaded plugin and delivers the merged settings (manifest defaults
// overlaid with the new overrides) to the plugin when it supports runtime
// reconfiguration. Plugins without runtime reconfiguration keep the new
// overrides for their next load.
func (m *Manager) UpdatePluginConfig(id string, settings map[string]any) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	record, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return NewPluginNotFoundError(id)
	}
	record.config.Settings = settings
	manifest := record.manifest
	plugin := record.plugin
	m.mu.Unlock()

	merged := make(map[string]any, len(manifest.DefaultConfig)+len(settings))
	for key, value := range manifest.DefaultConfig {
		merged[key] = value
	}
	for key, value := range settings {
		merged[key] = value
	}

	configurable, ok := plugin.(ConfigurablePlugin)
	if !ok {
		m.logger.Debug("Plugin does not accept runtime configuration", "plugin", id)
		return nil
	}
	if err := configurable.ApplyConfig(merged); err != nil {
		m.events.Publish(EventPluginError, map[string]any{"plugin": id, "error": err.Error()})
		return err
	}
	m.logger.Info("Plugin configuration updated", "plugin", id)
	return nil
}

// GetPluginHealth returns the plugin's derived health, including its
// current hook handler count.
func (m *Manager) GetPluginHealth(id string) (PluginHealth, error) {
	plugin, ok := m.GetPlugin(id)
	if !ok {
		return PluginHealth{}, NewPluginNotFoundError(id)
	}
	health := plugin.Health()
	health.HookCount = m.hooks.OwnerHandlerCount(id)
	return health, nil
}

// EmitHook runs the hook pipeline on behalf of the host application.
func (m *Manager) EmitHook(ctx context.Context, hookType string, data any) (any, []error) {
	return m.hooks.Emit(ctx, hookType, data)
}

// RegisterHostHook registers a hook handler owned by the host itself
// rather than any plugin.
func (m *Manager) RegisterHostHook(hookType string, handler HookHandler) (HookRegistration, error) {
	return m.hooks.Register("host", hookType, handler)
}

// GetStats aggregates runtime statistics across the plugin set.
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	records := make(map[string]*pluginRecord, len(m.plugins))
	for id, record := range m.plugins {
		records[id] = record
	}
	disabledCount := len(m.disabled)
	m.mu.RUnlock()

	stats := ManagerStats{
		TotalPlugins:    len(records),
		PluginsByState:  make(map[PluginState]int),
		PluginsByHealth: make(map[HealthLevel]int),
		HookTypes:       len(m.hooks.Types()),
		HookHandlers:    m.hooks.TotalHandlers(),
		Services:        m.services.Count(),
		DisabledPlugins: disabledCount,
	}
	for _, record := range records {
		health := record.plugin.Health()
		stats.PluginsByState[health.State]++
		stats.PluginsByHealth[health.Level]++
		stats.TotalErrors += health.ErrorCount
	}
	return stats
}

// StartAutoReload begins watching the plugin root and synchronizes the
// loaded set whenever it changes: new valid plugins are loaded, removed
// ones are unloaded.
func (m *Manager) StartAutoReload(ctx context.Context) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	if m.notifier != nil {
		return NewNotifierError("auto-reload is already running", nil)
	}

	notifier := m.opts.Notifier
	if notifier == nil {
		notifier = NewPollingNotifier(m.opts.PluginsDir, m.opts.PollInterval, m.logger)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	if err := notifier.Start(watchCtx, func() {
		safeGo(m.logger, func() {
			m.syncPlugins(watchCtx)
		})
	}); err != nil {
		cancel()
		return err
	}

	m.notifier = notifier
	m.stopWatch = cancel
	m.logger.Info("Auto-reload started")
	return nil
}

// StopAutoReload stops watching the plugin root.
func (m *Manager) StopAutoReload() error {
	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	if m.notifier == nil {
		return nil
	}

	m.stopWatch()
	err := m.notifier.Stop()
	m.notifier = nil
	m.stopWatch = nil
	m.logger.Info("Auto-reload stopped")
	return err
}

// syncPlugins reconciles the loaded set against a fresh discovery scan.
func (m *Manager) syncPlugins(ctx context.Context) {
	results, err := m.DiscoverPlugins(ctx)
	if err != nil {
		m.logger.Error("Rediscovery failed during auto-reload", "error", err)
		return
	}

	present := make(map[string]bool, len(results))
	for _, result := range results {
		if result.Manifest != nil {
			present[result.Manifest.ID] = true
		}
	}

	// Unload plugins whose directories disappeared.
	for _, id := range m.PluginIDs() {
		if !present[id] {
			if err := m.UnloadPlugin(ctx, id); err != nil {
				m.logger.Warn("Cleanup error while unloading removed plugin",
					"plugin", id, "error", err)
			}
		}
	}

	// Load valid newcomers.
	for _, result := range results {
		if !result.IsValid {
			continue
		}
		if _, loaded := m.GetPlugin(result.Manifest.ID); loaded {
			continue
		}
		if err := m.LoadPlugin(ctx, result); err != nil {
			m.logger.Error("Auto-reload load failed",
				"plugin", result.Manifest.ID, "error", err)
		}
	}

	m.events.Publish(EventPluginsChanged, map[string]any{"plugins": m.PluginIDs()})
}

// WatchEnablement starts watching the persisted enablement file for
// external edits. Unlike EnablePlugin and DisablePlugin, which only
// toggle the marker, the watcher reconciles the running set: plugins
// disabled on disk are unloaded and plugins enabled on disk are loaded.
func (m *Manager) WatchEnablement(ctx context.Context, interval time.Duration) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	if m.stateWatcher != nil {
		return NewNotifierError("enablement watch is already running", nil)
	}

	watcher := NewStateWatcher(m, interval)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	m.stateWatcher = watcher
	return nil
}

// UnwatchEnablement stops watching the enablement file.
func (m *Manager) UnwatchEnablement() error {
	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	if m.stateWatcher == nil {
		return nil
	}
	err := m.stateWatcher.Stop()
	m.stateWatcher = nil
	return err
}

// persistEnablement writes the current disabled set to the state file.
func (m *Manager) persistEnablement() error {
	m.mu.RLock()
	disabled := copyBoolMap(m.disabled)
	m.mu.RUnlock()
	return m.state.Save(disabled)
}

// refreshEnablement re-reads the persisted enablement file and applies
// the difference: plugins disabled on disk are unloaded, plugins enabled
// on disk are loaded when a valid discovery result is known.
func (m *Manager) refreshEnablement(ctx context.Context) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	persisted, err := m.state.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	var toDisable, toEnable []string
	for id := range persisted {
		if !m.disabled[id] {
			toDisable = append(toDisable, id)
		}
	}
	for id := range m.disabled {
		if !persisted[id] {
			toEnable = append(toEnable, id)
		}
	}
	m.disabled = persisted
	enableResults := make(map[string]*DiscoveryResult, len(toEnable))
	for _, id := range toEnable {
		enableResults[id] = m.discovered[id]
	}
	m.mu.Unlock()

	if len(toDisable) == 0 && len(toEnable) == 0 {
		return nil
	}
	sort.Strings(toDisable)
	sort.Strings(toEnable)
	m.logger.Info("Enablement changed externally", "disabled", toDisable, "enabled", toEnable)

	for _, id := range toDisable {
		if _, loaded := m.GetPlugin(id); !loaded {
			continue
		}
		if err := m.UnloadPlugin(ctx, id); err != nil {
			m.logger.Warn("Cleanup error while disabling plugin", "plugin", id, "error", err)
		}
	}
	for _, id := range toEnable {
		result := enableResults[id]
		if result == nil || !result.IsValid {
			continue
		}
		if err := m.LoadPlugin(ctx, result); err != nil {
			m.logger.Error("Cannot load re-enabled plugin", "plugin", id, "error", err)
		}
	}
	return nil
}

// Shutdown stops auto-reload, stops every started plugin and unloads the
// whole set in reverse dependency order. The manager is unusable
// afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.StopAutoReload(); err != nil {
		m.logger.Warn("Error stopping auto-reload during shutdown", "error", err)
	}
	if err := m.UnwatchEnablement(); err != nil {
		m.logger.Warn("Error stopping enablement watch during shutdown", "error", err)
	}

	order, unresolved := m.graph.LoadOrder()
	order = append(order, unresolved...)

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if _, ok := m.GetPlugin(id); !ok {
			continue
		}
		if err := m.UnloadPlugin(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.logger.Info("Plugin manager shut down")
	if firstErr != nil {
		return NewHostShutdownError("plugin cleanup reported errors", firstErr)
	}
	return nil
}

// publishStateChange publishes the generic state transition event next to
// the transition-specific one.
func (m *Manager) publishStateChange(id string, state PluginState) {
	m.events.Publish(EventPluginStateChanged, map[string]any{
		"plugin": id,
		"state":  state.String(),
	})
}

// ensureRunning guards operations against use after Shutdown.
func (m *Manager) ensureRunning() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return NewHostStateError("manager is shut down", nil)
	}
	return nil
}

func copyBoolMap(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
