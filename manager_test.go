// manager_test.go: Manager integration tests
//
// These tests exercise the full path from discovery through loading,
// lifecycle, enablement and shutdown using compiled-in test plugins.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBuiltinManifest writes a manifest for a compiled-in plugin. No
// main field: builtin plugins have no entry file on disk.
func writeBuiltinManifest(t *testing.T, root, id string, deps ...PluginDependency) {
	t.Helper()
	manifest := fmt.Sprintf(`{
		"id": %q, "name": %q, "version": "1.0.0",
		"description": "test plugin", "author": "tester"`, id, id)
	if len(deps) > 0 {
		manifest += `, "dependencies": [`
		for i, dep := range deps {
			if i > 0 {
				manifest += ", "
			}
			manifest += fmt.Sprintf(`{"id": %q, "version": %q}`, dep.ID, dep.Version)
		}
		manifest += `]`
	}
	manifest += "\n}"
	writePluginDir(t, root, id, manifest)
}

type testManagerEnv struct {
	manager *Manager
	logger  *TestLogger
	root    string
	dataDir string
}

func newTestManager(t *testing.T, opts ManagerOptions) *testManagerEnv {
	t.Helper()
	root := t.TempDir()
	dataDir := t.TempDir()

	opts.PluginsDir = root
	opts.DataDir = dataDir
	logger := NewTestLogger()
	if opts.Logger == nil {
		opts.Logger = logger
	}

	manager, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})

	return &testManagerEnv{manager: manager, logger: logger, root: root, dataDir: dataDir}
}

// registerPassthrough registers a constructor producing a plain
// BasePlugin for the plugin ID.
func registerPassthrough(t *testing.T, m *Manager, id string) {
	t.Helper()
	require.NoError(t, m.RegisterConstructor(id, func(manifest *PluginManifest) (Plugin, error) {
		return NewBasePlugin(manifest.Metadata()), nil
	}))
}

func TestManager_RequiresPluginsDir(t *testing.T) {
	_, err := NewManager(ManagerOptions{})
	assert.Error(t, err)
}

func TestManager_LoadStartStopUnload(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "worker")
	registerPassthrough(t, env.manager, "worker")

	_, err := env.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)
	require.NoError(t, env.manager.LoadAllPlugins(ctx))

	plugin, ok := env.manager.GetPlugin("worker")
	require.True(t, ok)
	assert.Equal(t, StateInitialized, plugin.State())

	require.NoError(t, env.manager.StartPlugin(ctx, "worker"))
	assert.Equal(t, StateStarted, env.manager.GetPluginState("worker"))

	require.NoError(t, env.manager.StopPlugin(ctx, "worker"))
	assert.Equal(t, StateStopped, env.manager.GetPluginState("worker"))

	require.NoError(t, env.manager.UnloadPlugin(ctx, "worker"))
	_, ok = env.manager.GetPlugin("worker")
	assert.False(t, ok)
	assert.Equal(t, StateUnloaded, env.manager.GetPluginState("worker"))
}

func TestManager_LoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "once")

	instantiations := 0
	require.NoError(t, env.manager.RegisterConstructor("once", func(manifest *PluginManifest) (Plugin, error) {
		instantiations++
		return NewBasePlugin(manifest.Metadata()), nil
	}))

	results, err := env.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, env.manager.LoadPlugin(ctx, results[0]))
	require.NoError(t, env.manager.LoadPlugin(ctx, results[0]))
	assert.Equal(t, 1, instantiations)
	assert.True(t, env.logger.HasMessage("WARN", "Plugin already loaded, skipping"))
}

func TestManager_DependencyOrderedLoading(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "app", PluginDependency{ID: "db", Version: "1.0.0"})
	writeBuiltinManifest(t, env.root, "db")

	var loadOrder []string
	for _, id := range []string{"app", "db"} {
		id := id
		require.NoError(t, env.manager.RegisterConstructor(id, func(manifest *PluginManifest) (Plugin, error) {
			plugin := NewBasePlugin(manifest.Metadata())
			plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
				loadOrder = append(loadOrder, manifest.ID)
				return nil
			}
			return plugin, nil
		}))
	}

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	assert.Equal(t, []string{"db", "app"}, loadOrder)
}

func TestManager_MissingDependencySkipsOnlyThatPlugin(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "orphan", PluginDependency{ID: "ghost", Version: "1.0.0"})
	writeBuiltinManifest(t, env.root, "solid")
	registerPassthrough(t, env.manager, "orphan")
	registerPassthrough(t, env.manager, "solid")

	err := env.manager.LoadAllPlugins(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")

	_, ok := env.manager.GetPlugin("solid")
	assert.True(t, ok)
	_, ok = env.manager.GetPlugin("orphan")
	assert.False(t, ok)
}

func TestManager_DependencyCycleSkipsMembers(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "ying", PluginDependency{ID: "yang", Version: "1.0.0"})
	writeBuiltinManifest(t, env.root, "yang", PluginDependency{ID: "ying", Version: "1.0.0"})
	writeBuiltinManifest(t, env.root, "bystander")
	registerPassthrough(t, env.manager, "ying")
	registerPassthrough(t, env.manager, "yang")
	registerPassthrough(t, env.manager, "bystander")

	err := env.manager.LoadAllPlugins(ctx)
	require.Error(t, err)

	assert.Equal(t, []string{"bystander"}, env.manager.PluginIDs())
}

func TestManager_OnePluginFailingDoesNotStopTheBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "broken")
	writeBuiltinManifest(t, env.root, "healthy")
	require.NoError(t, env.manager.RegisterConstructor("broken", func(manifest *PluginManifest) (Plugin, error) {
		return nil, fmt.Errorf("bad wiring")
	}))
	registerPassthrough(t, env.manager, "healthy")

	err := env.manager.LoadAllPlugins(ctx)
	require.Error(t, err)

	_, ok := env.manager.GetPlugin("healthy")
	assert.True(t, ok)
}

func TestManager_InitializationTimeout(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{
		PluginConfigs: map[string]PluginConfig{
			"sleeper": {Timeout: 50 * time.Millisecond},
		},
	})
	writeBuiltinManifest(t, env.root, "sleeper")
	require.NoError(t, env.manager.RegisterConstructor("sleeper", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return plugin, nil
	}))

	results, err := env.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)

	err = env.manager.LoadPlugin(ctx, results[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	_, ok := env.manager.GetPlugin("sleeper")
	assert.False(t, ok)
}

func TestManager_UnloadRemovesHooksAndServices(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "contributor")
	require.NoError(t, env.manager.RegisterConstructor("contributor", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			if _, err := pctx.Host.RegisterHook("content.render", func(ctx context.Context, data any) (any, error) {
				return nil, nil
			}); err != nil {
				return err
			}
			return pctx.Host.RegisterService("renderer", "v1")
		}
		return plugin, nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	assert.Equal(t, 1, env.manager.Hooks().HandlerCount("content.render"))
	_, ok := env.manager.Services().Get("renderer")
	assert.True(t, ok)

	require.NoError(t, env.manager.UnloadPlugin(ctx, "contributor"))
	assert.Equal(t, 0, env.manager.Hooks().HandlerCount("content.render"))
	_, ok = env.manager.Services().Get("renderer")
	assert.False(t, ok)
}

func TestManager_PluginContext(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{
		HostConfig: map[string]any{"env": "test"},
		PluginConfigs: map[string]PluginConfig{
			"ctx-plugin": {Settings: map[string]any{"override": true, "shared": "from-host"}},
		},
	})
	writePluginDir(t, env.root, "ctx-plugin", `{
		"id": "ctx-plugin", "name": "Ctx", "version": "1.0.0",
		"description": "context checks", "author": "tester",
		"defaultConfig": {"shared": "from-manifest", "kept": 7}
	}`)

	var captured *PluginContext
	require.NoError(t, env.manager.RegisterConstructor("ctx-plugin", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			captured = pctx
			return nil
		}
		return plugin, nil
	}))

	assetsDir := filepath.Join(env.root, "ctx-plugin", "assets")
	require.NoError(t, os.MkdirAll(assetsDir, 0o755))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NotNil(t, captured)

	assert.Equal(t, "ctx-plugin", captured.PluginID)
	assert.Equal(t, assetsDir, captured.AssetsDir)
	// Override wins, untouched defaults survive.
	assert.Equal(t, "from-host", captured.Settings["shared"])
	assert.Equal(t, true, captured.Settings["override"])
	assert.EqualValues(t, 7, captured.Settings["kept"])

	// The data directory exists and is plugin-specific.
	assert.Equal(t, filepath.Join(env.dataDir, "ctx-plugin"), captured.DataDir)
	info, err := os.Stat(captured.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Host surface answers from inside the plugin.
	assert.Equal(t, "test", captured.Host.HostConfig()["env"])
	assert.Equal(t, HostVersion, captured.Host.Info().Version)
	assert.Contains(t, captured.Host.PluginIDs(), "ctx-plugin")
}

func TestManager_EnableDisable(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "switchable")
	registerPassthrough(t, env.manager, "switchable")

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	_, ok := env.manager.GetPlugin("switchable")
	require.True(t, ok)

	// Disable persists the marker but leaves the loaded instance alone.
	require.NoError(t, env.manager.DisablePlugin(ctx, "switchable"))
	_, ok = env.manager.GetPlugin("switchable")
	assert.True(t, ok)
	assert.True(t, env.manager.IsDisabled("switchable"))

	stateFile := filepath.Join(env.dataDir, StateFileName)
	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "switchable")

	// The marker takes effect at the next load cycle.
	require.NoError(t, env.manager.UnloadPlugin(ctx, "switchable"))
	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	_, ok = env.manager.GetPlugin("switchable")
	assert.False(t, ok)
	assert.Equal(t, StateDisabled, env.manager.GetPluginState("switchable"))

	// Enable clears the marker without loading anything on its own.
	require.NoError(t, env.manager.EnablePlugin(ctx, "switchable"))
	assert.False(t, env.manager.IsDisabled("switchable"))
	_, ok = env.manager.GetPlugin("switchable")
	assert.False(t, ok)

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	_, ok = env.manager.GetPlugin("switchable")
	assert.True(t, ok)
}

func TestManager_DisableLeavesRunningInstanceAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "runner")

	stopped := false
	require.NoError(t, env.manager.RegisterConstructor("runner", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnStop = func(ctx context.Context) error {
			stopped = true
			return nil
		}
		return plugin, nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartPlugin(ctx, "runner"))

	require.NoError(t, env.manager.DisablePlugin(ctx, "runner"))

	_, loaded := env.manager.GetPlugin("runner")
	assert.True(t, loaded)
	assert.False(t, stopped)
	assert.Equal(t, StateStarted, env.manager.GetPluginState("runner"))
	assert.True(t, env.manager.IsDisabled("runner"))
}

func TestManager_DisabledMarkerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dataDir := t.TempDir()
	writeBuiltinManifest(t, root, "persistent")

	first, err := NewManager(ManagerOptions{PluginsDir: root, DataDir: dataDir, Logger: NewTestLogger()})
	require.NoError(t, err)
	registerPassthrough(t, first, "persistent")
	require.NoError(t, first.DisablePlugin(ctx, "persistent"))
	require.NoError(t, first.Shutdown(ctx))

	second, err := NewManager(ManagerOptions{PluginsDir: root, DataDir: dataDir, Logger: NewTestLogger()})
	require.NoError(t, err)
	defer func() { _ = second.Shutdown(ctx) }()

	assert.True(t, second.IsDisabled("persistent"))
	registerPassthrough(t, second, "persistent")
	require.NoError(t, second.LoadAllPlugins(ctx))
	_, ok := second.GetPlugin("persistent")
	assert.False(t, ok)
}

func TestManager_StartAllAndStopAll(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "svc-a")
	writeBuiltinManifest(t, env.root, "svc-b", PluginDependency{ID: "svc-a", Version: "1.0.0"})

	var stops []string
	for _, id := range []string{"svc-a", "svc-b"} {
		id := id
		require.NoError(t, env.manager.RegisterConstructor(id, func(manifest *PluginManifest) (Plugin, error) {
			plugin := NewBasePlugin(manifest.Metadata())
			plugin.OnStop = func(ctx context.Context) error {
				stops = append(stops, manifest.ID)
				return nil
			}
			return plugin, nil
		}))
	}

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartAllPlugins(ctx))
	assert.Equal(t, StateStarted, env.manager.GetPluginState("svc-a"))
	assert.Equal(t, StateStarted, env.manager.GetPluginState("svc-b"))

	require.NoError(t, env.manager.StopAllPlugins(ctx))
	// Dependents stop before their dependencies.
	assert.Equal(t, []string{"svc-b", "svc-a"}, stops)
}

func TestManager_StopNotStartedIsLoggedNoOp(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "idle")
	registerPassthrough(t, env.manager, "idle")
	require.NoError(t, env.manager.LoadAllPlugins(ctx))

	assert.NoError(t, env.manager.StopPlugin(ctx, "idle"))
	assert.True(t, env.logger.HasMessage("WARN", "Stop requested for plugin that is not started"))
}

func TestManager_AutoStart(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{
		PluginConfigs: map[string]PluginConfig{
			"eager": {AutoStart: true},
		},
	})
	writeBuiltinManifest(t, env.root, "eager")
	writeBuiltinManifest(t, env.root, "lazy")
	registerPassthrough(t, env.manager, "eager")
	registerPassthrough(t, env.manager, "lazy")

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	assert.Equal(t, StateStarted, env.manager.GetPluginState("eager"))
	assert.Equal(t, StateInitialized, env.manager.GetPluginState("lazy"))
}

func TestManager_ReloadPlugin(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "reloadable")

	instantiations := 0
	require.NoError(t, env.manager.RegisterConstructor("reloadable", func(manifest *PluginManifest) (Plugin, error) {
		instantiations++
		return NewBasePlugin(manifest.Metadata()), nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartPlugin(ctx, "reloadable"))

	require.NoError(t, env.manager.ReloadPlugin(ctx, "reloadable"))
	assert.Equal(t, 2, instantiations)
	// A started plugin comes back started.
	assert.Equal(t, StateStarted, env.manager.GetPluginState("reloadable"))
}

func TestManager_GetPluginHealth(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "monitored")
	require.NoError(t, env.manager.RegisterConstructor("monitored", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			_, err := pctx.Host.RegisterHook("tick", func(ctx context.Context, data any) (any, error) {
				return nil, nil
			})
			return err
		}
		return plugin, nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartPlugin(ctx, "monitored"))

	health, err := env.manager.GetPluginHealth("monitored")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health.Level)
	assert.Equal(t, 1, health.HookCount)

	_, err = env.manager.GetPluginHealth("stranger")
	assert.Error(t, err)
}

func TestManager_GetStats(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "one")
	writeBuiltinManifest(t, env.root, "two")
	registerPassthrough(t, env.manager, "one")
	registerPassthrough(t, env.manager, "two")

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartPlugin(ctx, "one"))
	require.NoError(t, env.manager.DisablePlugin(ctx, "two"))

	stats := env.manager.GetStats()
	assert.Equal(t, 1, stats.TotalPlugins)
	assert.Equal(t, 1, stats.PluginsByState[StateStarted])
	assert.Equal(t, 1, stats.PluginsByHealth[HealthHealthy])
	assert.Equal(t, 1, stats.DisabledPlugins)
}

func TestManager_EmitHookAcrossPlugins(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "upper")
	writeBuiltinManifest(t, env.root, "suffix", PluginDependency{ID: "upper", Version: "1.0.0"})

	require.NoError(t, env.manager.RegisterConstructor("upper", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			_, err := pctx.Host.RegisterHook("text.process", func(ctx context.Context, data any) (any, error) {
				return data.(string) + "!", nil
			})
			return err
		}
		return plugin, nil
	}))
	require.NoError(t, env.manager.RegisterConstructor("suffix", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnInitialize = func(ctx context.Context, pctx *PluginContext) error {
			_, err := pctx.Host.RegisterHook("text.process", func(ctx context.Context, data any) (any, error) {
				return data.(string) + "?", nil
			})
			return err
		}
		return plugin, nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))

	// upper loads first (dependency), so its handler runs first.
	result, errs := env.manager.EmitHook(ctx, "text.process", "hey")
	assert.Empty(t, errs)
	assert.Equal(t, "hey!?", result)
}

func TestManager_Shutdown(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "base")
	writeBuiltinManifest(t, env.root, "top", PluginDependency{ID: "base", Version: "1.0.0"})

	var cleanups []string
	for _, id := range []string{"base", "top"} {
		id := id
		require.NoError(t, env.manager.RegisterConstructor(id, func(manifest *PluginManifest) (Plugin, error) {
			plugin := NewBasePlugin(manifest.Metadata())
			plugin.OnCleanup = func(ctx context.Context) error {
				cleanups = append(cleanups, manifest.ID)
				return nil
			}
			return plugin, nil
		}))
	}

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartAllPlugins(ctx))

	require.NoError(t, env.manager.Shutdown(ctx))
	// Dependents unload before their dependencies.
	assert.Equal(t, []string{"top", "base"}, cleanups)

	// The manager refuses further work.
	err := env.manager.LoadAllPlugins(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shut down")

	// Shutdown is idempotent.
	assert.NoError(t, env.manager.Shutdown(ctx))
}

func TestManager_UpdatePluginConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	manifest := `{
		"id": "tunable", "name": "Tunable", "version": "1.0.0",
		"description": "test plugin", "author": "tester",
		"defaultConfig": {"level": "info", "buffer": 64}
	}`
	writePluginDir(t, env.root, "tunable", manifest)

	var received map[string]any
	require.NoError(t, env.manager.RegisterConstructor("tunable", func(m *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(m.Metadata())
		plugin.OnConfigChange = func(settings map[string]any) error {
			received = settings
			return nil
		}
		return plugin, nil
	}))

	_, err := env.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)
	require.NoError(t, env.manager.LoadAllPlugins(ctx))

	require.NoError(t, env.manager.UpdatePluginConfig("tunable", map[string]any{"level": "debug"}))

	require.NotNil(t, received)
	assert.Equal(t, "debug", received["level"])
	assert.Equal(t, float64(64), received["buffer"])

	assert.Error(t, env.manager.UpdatePluginConfig("ghost", nil))
}

func TestManager_PublishesStateChangedEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})
	writeBuiltinManifest(t, env.root, "tracked")
	registerPassthrough(t, env.manager, "tracked")

	var mu sync.Mutex
	var states []string
	env.manager.Events().Subscribe(EventPluginStateChanged, func(event Event) {
		mu.Lock()
		states = append(states, event.Payload["state"].(string))
		mu.Unlock()
	})

	_, err := env.manager.DiscoverPlugins(ctx)
	require.NoError(t, err)
	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	require.NoError(t, env.manager.StartPlugin(ctx, "tracked"))
	require.NoError(t, env.manager.StopPlugin(ctx, "tracked"))
	require.NoError(t, env.manager.UnloadPlugin(ctx, "tracked"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"initialized", "started", "stopped", "unloaded"}, states)
}

func TestManager_StartTimeout(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{StartTimeout: 50 * time.Millisecond})
	writeBuiltinManifest(t, env.root, "stuck")
	require.NoError(t, env.manager.RegisterConstructor("stuck", func(manifest *PluginManifest) (Plugin, error) {
		plugin := NewBasePlugin(manifest.Metadata())
		plugin.OnStart = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		return plugin, nil
	}))

	require.NoError(t, env.manager.LoadAllPlugins(ctx))

	err := env.manager.StartPlugin(ctx, "stuck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestManager_LoadUnparsableResultCarriesDiscoveryErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{})

	result := &DiscoveryResult{
		PluginDir: filepath.Join(env.root, "broken"),
		Errors:    []string{"manifest parse error: unexpected end of JSON input"},
	}

	err := env.manager.LoadPlugin(ctx, result)
	require.Error(t, err)

	var coreErr *goerrors.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, result.Errors, coreErr.Context["discovery_errors"])
	assert.Equal(t, result.PluginDir, coreErr.Context["plugin_dir"])
}

func TestManager_PriorityBreaksLoadOrderTies(t *testing.T) {
	ctx := context.Background()
	env := newTestManager(t, ManagerOptions{
		PluginConfigs: map[string]PluginConfig{
			"zeta": {Priority: 10},
		},
	})
	writeBuiltinManifest(t, env.root, "alpha")
	writeBuiltinManifest(t, env.root, "zeta")

	var order []string
	for _, id := range []string{"alpha", "zeta"} {
		id := id
		require.NoError(t, env.manager.RegisterConstructor(id, func(manifest *PluginManifest) (Plugin, error) {
			order = append(order, id)
			return NewBasePlugin(manifest.Metadata()), nil
		}))
	}

	require.NoError(t, env.manager.LoadAllPlugins(ctx))
	assert.Equal(t, []string{"zeta", "alpha"}, order)
}
