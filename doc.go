// Package pluginhost provides an in-process plugin runtime for Go applications.
// It discovers installable extensions on the filesystem, validates their
// manifests, loads them in dependency order, drives a strict lifecycle state
// machine, and connects plugins through a sequential hook pipeline and a
// shared service registry.
//
// Key Features:
//   - Filesystem discovery with per-candidate error collection (never fail-fast)
//   - Manifest validation: identity, version format, host compatibility,
//     permissions, dependencies
//   - Dependency-ordered batch loading with cycle detection
//   - Lifecycle state machine with timeout-guarded, context-aware initialization
//   - Deterministic, sequential hook dispatch with per-handler fault isolation
//   - Cross-plugin service registry with owner tracking
//   - Auto-reload via polling or OS filesystem notifications
//   - Pluggable entry-module factories (in-process constructors, Lua scripts)
//
// Basic Usage:
//
//	manager, err := pluginhost.NewManager(pluginhost.ManagerOptions{
//		PluginsDir: "/opt/app/plugins",
//		DataDir:    "/var/lib/app/plugin-data",
//		Logger:     logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if _, err := manager.DiscoverPlugins(ctx); err != nil {
//		log.Fatal(err)
//	}
//	manager.LoadAllPlugins(ctx)
//	manager.StartAllPlugins(ctx)
//
//	// Any component may push data through the hook pipeline:
//	out, _ := manager.EmitHook(ctx, "validate.request", map[string]any{"path": "/v1"})
//
// Concurrency:
// Registries and instance maps are guarded by mutexes, but lifecycle calls for
// a single plugin id are not mutually excluded; callers must serialize
// lifecycle operations per plugin.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package pluginhost
