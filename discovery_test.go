// discovery_test.go: Filesystem discovery tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePluginDir(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, ManifestFileName), []byte(manifest), 0o644))
	return path
}

func testDiscovery(root string) *Discovery {
	return NewDiscovery(root, NewManifestValidator(testHostInfo()), NewTestLogger())
}

func TestDiscovery_Scan(t *testing.T) {
	root := t.TempDir()

	writePluginDir(t, root, "alpha", `{
		"id": "alpha", "name": "Alpha", "version": "1.0.0",
		"description": "first", "author": "tester"
	}`)
	writePluginDir(t, root, "beta", `{
		"id": "beta", "name": "Beta", "version": "2.0.0",
		"description": "second", "author": "tester"
	}`)
	// A loose file in the root must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("notes"), 0o644))

	results, err := testDiscovery(root).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Sorted by plugin directory.
	assert.Equal(t, "alpha", results[0].Manifest.ID)
	assert.Equal(t, "beta", results[1].Manifest.ID)
	for _, result := range results {
		assert.True(t, result.IsValid)
		assert.Empty(t, result.Errors)
	}
}

func TestDiscovery_ScanMissingRoot(t *testing.T) {
	discovery := testDiscovery(filepath.Join(t.TempDir(), "does-not-exist"))

	_, err := discovery.Scan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery failed")
}

func TestDiscovery_InvalidCandidatesAreCollected(t *testing.T) {
	root := t.TempDir()

	// Directory without a manifest.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	// Directory with a broken manifest.
	writePluginDir(t, root, "broken", `{ not json, not yaml: [`)
	// Directory with a manifest that fails validation.
	writePluginDir(t, root, "incomplete", `{"id": "incomplete"}`)
	// A healthy plugin alongside the broken ones.
	writePluginDir(t, root, "ok", `{
		"id": "ok", "name": "OK", "version": "1.0.0",
		"description": "fine", "author": "tester"
	}`)

	results, err := testDiscovery(root).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byDir := make(map[string]*DiscoveryResult)
	for _, result := range results {
		byDir[filepath.Base(result.PluginDir)] = result
	}

	assert.False(t, byDir["empty"].IsValid)
	require.NotEmpty(t, byDir["empty"].Errors)
	assert.Contains(t, byDir["empty"].Errors[0], "plugin.json not found")

	assert.False(t, byDir["broken"].IsValid)
	require.NotEmpty(t, byDir["broken"].Errors)
	assert.Contains(t, byDir["broken"].Errors[0], "parse failed")

	assert.False(t, byDir["incomplete"].IsValid)
	assert.Contains(t, byDir["incomplete"].Errors, "plugin name is required")
	assert.Contains(t, byDir["incomplete"].Errors, "plugin version is required")

	assert.True(t, byDir["ok"].IsValid)
}

func TestDiscovery_YAMLManifest(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "yaml-plugin", `
id: yaml-plugin
name: YAML Plugin
version: 1.0.0
description: declared in yaml
author: tester
`)

	results, err := testDiscovery(root).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsValid)
	assert.Equal(t, "yaml-plugin", results[0].Manifest.ID)
}

func TestDiscovery_NotRecursive(t *testing.T) {
	root := t.TempDir()
	// A nested plugin two levels down must not be picked up.
	writePluginDir(t, filepath.Join(root, "outer"), "inner", `{
		"id": "inner", "name": "Inner", "version": "1.0.0",
		"description": "nested", "author": "tester"
	}`)

	results, err := testDiscovery(root).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The outer directory is a candidate without a manifest; the nested
	// plugin itself is invisible.
	assert.Equal(t, filepath.Join(root, "outer"), results[0].PluginDir)
	assert.False(t, results[0].IsValid)
}

func TestDiscovery_ScanCancelled(t *testing.T) {
	root := t.TempDir()
	writePluginDir(t, root, "alpha", `{"id": "alpha"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testDiscovery(root).Scan(ctx)
	assert.Error(t, err)
}
