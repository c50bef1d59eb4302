// services_test.go: Service registry tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRegistry_IdentityPreserved(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())

	type cache struct{ entries map[string]string }
	original := &cache{entries: map[string]string{"k": "v"}}
	require.NoError(t, registry.Register("provider", "cache", original))

	value, ok := registry.Get("cache")
	require.True(t, ok)
	assert.Same(t, original, value.(*cache))
}

func TestServiceRegistry_LastWriteWins(t *testing.T) {
	logger := NewTestLogger()
	registry := NewServiceRegistry(logger)

	require.NoError(t, registry.Register("first", "db", "connection-1"))
	require.NoError(t, registry.Register("second", "db", "connection-2"))

	value, ok := registry.Get("db")
	require.True(t, ok)
	assert.Equal(t, "connection-2", value)

	owner, ok := registry.Owner("db")
	require.True(t, ok)
	assert.Equal(t, "second", owner)

	assert.True(t, logger.HasMessage("WARN", "Service overwritten"))
}

func TestServiceRegistry_MissingService(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())

	_, ok := registry.Get("absent")
	assert.False(t, ok)
	_, ok = registry.Owner("absent")
	assert.False(t, ok)
}

func TestServiceRegistry_EmptyNameRejected(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())
	assert.Error(t, registry.Register("p", "", "value"))
}

func TestServiceRegistry_Unregister(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())
	require.NoError(t, registry.Register("p", "svc", 1))

	assert.True(t, registry.Unregister("svc"))
	assert.False(t, registry.Unregister("svc"))
	_, ok := registry.Get("svc")
	assert.False(t, ok)
}

func TestServiceRegistry_RemoveOwner(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())

	require.NoError(t, registry.Register("leaver", "a", 1))
	require.NoError(t, registry.Register("leaver", "b", 2))
	require.NoError(t, registry.Register("keeper", "c", 3))
	// Overwritten by another plugin: no longer the leaver's entry.
	require.NoError(t, registry.Register("leaver", "d", 4))
	require.NoError(t, registry.Register("keeper", "d", 5))

	assert.Equal(t, 2, registry.RemoveOwner("leaver"))
	assert.Equal(t, []string{"c", "d"}, registry.Names())

	value, ok := registry.Get("d")
	require.True(t, ok)
	assert.Equal(t, 5, value)
}

func TestServiceRegistry_Count(t *testing.T) {
	registry := NewServiceRegistry(NewTestLogger())
	assert.Equal(t, 0, registry.Count())

	require.NoError(t, registry.Register("p", "one", 1))
	require.NoError(t, registry.Register("p", "two", 2))
	assert.Equal(t, 2, registry.Count())
}
