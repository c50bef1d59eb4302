// factory.go: Plugin module resolution and instantiation
//
// A manifest names an entry module; a PluginFactory turns that module into
// a live Plugin. The host ships two factories: BuiltinFactory for
// compiled-in constructors registered by plugin ID, and LuaFactory (see
// lua_module.go) for plugins scripted in Lua. CompositeFactory chains
// factories so a single host can serve both kinds.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"fmt"
	"sync"
)

// PluginFactory resolves a manifest's entry module and instantiates the
// plugin it describes.
type PluginFactory interface {
	// Resolve verifies this factory can produce a plugin for the manifest
	// without instantiating it. A non-nil error means the module cannot be
	// served by this factory.
	Resolve(manifest *PluginManifest, pluginDir string) error

	// Instantiate produces a fresh Plugin for the manifest. The returned
	// plugin is in the unloaded state.
	Instantiate(ctx context.Context, manifest *PluginManifest, pluginDir string) (Plugin, error)
}

// PluginConstructor builds a compiled-in plugin from its manifest.
type PluginConstructor func(manifest *PluginManifest) (Plugin, error)

// BuiltinFactory serves plugins whose implementation is compiled into the
// host binary. Constructors register under the plugin ID; the manifest's
// entry module is only a marker file for these plugins.
type BuiltinFactory struct {
	mu           sync.RWMutex
	constructors map[string]PluginConstructor
}

// NewBuiltinFactory creates an empty builtin factory.
func NewBuiltinFactory() *BuiltinFactory {
	return &BuiltinFactory{
		constructors: make(map[string]PluginConstructor),
	}
}

// Register adds a constructor for the plugin ID, replacing any previous
// one.
func (f *BuiltinFactory) Register(pluginID string, constructor PluginConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[pluginID] = constructor
}

// Resolve implements PluginFactory.
func (f *BuiltinFactory) Resolve(manifest *PluginManifest, pluginDir string) error {
	f.mu.RLock()
	_, ok := f.constructors[manifest.ID]
	f.mu.RUnlock()
	if !ok {
		return NewNoConstructorError(manifest.ID, manifest.Main)
	}
	return nil
}

// Instantiate implements PluginFactory.
func (f *BuiltinFactory) Instantiate(ctx context.Context, manifest *PluginManifest, pluginDir string) (Plugin, error) {
	f.mu.RLock()
	constructor, ok := f.constructors[manifest.ID]
	f.mu.RUnlock()
	if !ok {
		return nil, NewNoConstructorError(manifest.ID, manifest.Main)
	}

	plugin, err := constructor(manifest)
	if err != nil {
		return nil, NewInstantiationError(manifest.ID, err)
	}
	if plugin == nil {
		return nil, NewInstantiationError(manifest.ID, fmt.Errorf("constructor returned nil plugin"))
	}
	return plugin, nil
}

// CompositeFactory tries an ordered list of factories and serves each
// manifest with the first factory that resolves it.
type CompositeFactory struct {
	factories []PluginFactory
}

// NewCompositeFactory creates a factory chain. Order matters: earlier
// factories win.
func NewCompositeFactory(factories ...PluginFactory) *CompositeFactory {
	return &CompositeFactory{factories: factories}
}

// Resolve implements PluginFactory. It succeeds when any chained factory
// resolves the manifest; the returned error carries the last factory's
// reason otherwise.
func (f *CompositeFactory) Resolve(manifest *PluginManifest, pluginDir string) error {
	if len(f.factories) == 0 {
		return NewModuleResolutionError(manifest.ID, manifest.Main, fmt.Errorf("no plugin factories configured"))
	}

	var lastErr error
	for _, factory := range f.factories {
		err := factory.Resolve(manifest, pluginDir)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return NewModuleResolutionError(manifest.ID, manifest.Main, lastErr)
}

// Instantiate implements PluginFactory.
func (f *CompositeFactory) Instantiate(ctx context.Context, manifest *PluginManifest, pluginDir string) (Plugin, error) {
	var lastErr error
	for _, factory := range f.factories {
		if err := factory.Resolve(manifest, pluginDir); err != nil {
			lastErr = err
			continue
		}
		return factory.Instantiate(ctx, manifest, pluginDir)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no plugin factories configured")
	}
	return nil, NewModuleResolutionError(manifest.ID, manifest.Main, lastErr)
}
