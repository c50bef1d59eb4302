// lua_module.go: Lua-scripted plugins
//
// LuaFactory serves plugins whose entry module is a Lua script executed in
// a sandboxed gopher-lua state. The script declares optional lifecycle
// globals (on_initialize, on_start, on_stop, on_cleanup, on_config_change)
// and an optional hooks table mapping hook types to handler functions,
// which are registered with the host automatically during initialization.
//
// Only the base, table, string and math libraries are opened; scripts have
// no io, os or network access.
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
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Lifecycle globals a Lua plugin script may declare.
const (
	luaFnInitialize   = "on_initialize"
	luaFnStart        = "on_start"
	luaFnStop         = "on_stop"
	luaFnCleanup      = "on_cleanup"
	luaFnConfigChange = "on_config_change"
	luaHooksTable     = "hooks"
)

// LuaFactory instantiates plugins from Lua entry modules.
type LuaFactory struct {
	logger Logger
}

// NewLuaFactory creates a Lua plugin factory.
func NewLuaFactory(logger Logger) *LuaFactory {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &LuaFactory{logger: logger}
}

// Resolve implements PluginFactory. A manifest resolves here when its
// entry module is an existing .lua file inside the plugin directory.
func (f *LuaFactory) Resolve(manifest *PluginManifest, pluginDir string) error {
	if !strings.HasSuffix(manifest.Main, ".lua") {
		return NewModuleResolutionError(manifest.ID, manifest.Main, fmt.Errorf("entry module is not a lua script"))
	}
	entry := filepath.Join(pluginDir, manifest.Main)
	if _, err := os.Stat(entry); err != nil {
		return NewModuleResolutionError(manifest.ID, manifest.Main, err)
	}
	return nil
}

// Instantiate implements PluginFactory. The script is executed once here;
// its lifecycle globals are called later as the plugin moves through its
// lifecycle.
func (f *LuaFactory) Instantiate(ctx context.Context, manifest *PluginManifest, pluginDir string) (Plugin, error) {
	if err := f.Resolve(manifest, pluginDir); err != nil {
		return nil, err
	}

	state := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSandboxLibs(state); err != nil {
		state.Close()
		return nil, NewInstantiationError(manifest.ID, err)
	}

	entry := filepath.Join(pluginDir, manifest.Main)
	if err := state.DoFile(entry); err != nil {
		state.Close()
		return nil, NewInstantiationError(manifest.ID, err)
	}

	module := &luaModule{
		state:    state,
		pluginID: manifest.ID,
		logger:   f.logger.With("plugin", manifest.ID),
	}

	plugin := NewBasePlugin(manifest.Metadata())
	plugin.OnInitialize = module.initialize
	plugin.OnStart = module.lifecycleFunc(luaFnStart)
	plugin.OnStop = module.lifecycleFunc(luaFnStop)
	plugin.OnCleanup = module.cleanup
	plugin.OnConfigChange = module.configChange
	return plugin, nil
}

// openSandboxLibs opens the whitelisted standard libraries in the state.
func openSandboxLibs(state *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := state.CallByParam(lua.P{
			Fn:      state.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("opening lua library %s: %w", lib.name, err)
		}
	}
	return nil
}

// luaModule bridges one Lua state to the plugin lifecycle. LStates are
// not safe for concurrent use, so every call into the state holds mu.
type luaModule struct {
	mu       sync.Mutex
	state    *lua.LState
	pluginID string
	logger   Logger
	closed   bool
}

// initialize calls on_initialize with the plugin settings, then registers
// every handler declared in the script's hooks table with the host.
func (m *luaModule) initialize(ctx context.Context, pctx *PluginContext) error {
	if err := m.call(luaFnInitialize, goToLua(m.state, pctx.Settings)); err != nil {
		return err
	}
	return m.registerHooks(pctx)
}

// lifecycleFunc adapts a no-argument lifecycle global into a BasePlugin
// phase function. Missing globals are fine.
func (m *luaModule) lifecycleFunc(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.call(name)
	}
}

func (m *luaModule) cleanup(ctx context.Context) error {
	err := m.call(luaFnCleanup)

	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.state.Close()
	}
	m.mu.Unlock()
	return err
}

func (m *luaModule) configChange(settings map[string]any) error {
	m.mu.Lock()
	arg := goToLua(m.state, settings)
	m.mu.Unlock()
	return m.call(luaFnConfigChange, arg)
}

// registerHooks walks the script's hooks table and registers each entry
// as a host hook handler.
func (m *luaModule) registerHooks(pctx *PluginContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := m.state.GetGlobal(luaHooksTable)
	table, ok := value.(*lua.LTable)
	if !ok {
		return nil
	}

	var registerErr error
	table.ForEach(func(key, val lua.LValue) {
		hookType, isString := key.(lua.LString)
		fn, isFunc := val.(*lua.LFunction)
		if !isString || !isFunc {
			m.logger.Warn("Ignoring invalid hooks table entry", "key", key.String())
			return
		}
		handler := m.hookHandler(fn)
		if _, err := pctx.Host.RegisterHook(string(hookType), handler); err != nil && registerErr == nil {
			registerErr = err
		}
	})
	return registerErr
}

// hookHandler wraps a Lua function as a host HookHandler. The handler's
// single return value, when not nil, replaces the pipeline data.
func (m *luaModule) hookHandler(fn *lua.LFunction) HookHandler {
	return func(ctx context.Context, data any) (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, fmt.Errorf("lua state for plugin %s is closed", m.pluginID)
		}

		if err := m.state.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, goToLua(m.state, data)); err != nil {
			return nil, err
		}
		ret := m.state.Get(-1)
		m.state.Pop(1)
		return luaToGo(ret), nil
	}
}

// call invokes a lifecycle global by name under the state lock. A missing
// or non-function global is a no-op.
func (m *luaModule) call(name string, args ...lua.LValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	fn := m.state.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}
	if err := m.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return err
	}

	ret := m.state.Get(-1)
	m.state.Pop(1)

	// Lifecycle functions may veto by returning false or an error string.
	switch v := ret.(type) {
	case lua.LBool:
		if !bool(v) {
			return fmt.Errorf("lua %s returned false", name)
		}
	case lua.LString:
		if s := string(v); s != "" {
			return fmt.Errorf("lua %s failed: %s", name, s)
		}
	}
	return nil
}

// goToLua converts a Go value into its Lua representation.
func goToLua(state *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case map[string]any:
		table := state.NewTable()
		for key, item := range v {
			table.RawSetString(key, goToLua(state, item))
		}
		return table
	case []any:
		table := state.NewTable()
		for i, item := range v {
			table.RawSetInt(i+1, goToLua(state, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// luaToGo converts a Lua value into its Go representation. Tables with
// sequential integer keys become slices, everything else becomes a map.
func luaToGo(value lua.LValue) any {
	switch v := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(key, item lua.LValue) {
			out[key.String()] = luaToGo(item)
		})
		return out
	default:
		return value.String()
	}
}
