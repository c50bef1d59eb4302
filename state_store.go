// state_store.go: Persisted plugin enablement
//
// Enable and disable are soft, host-side markers: a disabled plugin keeps
// its files and manifest but is skipped at load time. The markers survive
// restarts in a small JSON file under the host data directory.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// StateFileName is the enablement file's name under the host data
// directory.
const StateFileName = "plugins-state.json"

// persistedState is the on-disk shape of the enablement file.
type persistedState struct {
	Disabled []string `json:"disabled"`
}

// stateStore reads and writes the enablement file. It has no cache; the
// manager owns the in-memory disabled set.
type stateStore struct {
	path string
}

func newStateStore(dataDir string) *stateStore {
	return &stateStore{path: filepath.Join(dataDir, StateFileName)}
}

// Load returns the persisted disabled set. A missing file is an empty
// set, not an error.
func (s *stateStore) Load() (map[string]bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]bool), nil
		}
		return nil, NewHostStateError("cannot read plugin state file", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, NewHostStateError("cannot parse plugin state file", err)
	}

	disabled := make(map[string]bool, len(state.Disabled))
	for _, id := range state.Disabled {
		disabled[id] = true
	}
	return disabled, nil
}

// Save writes the disabled set atomically (temp file plus rename).
func (s *stateStore) Save(disabled map[string]bool) error {
	state := persistedState{Disabled: make([]string, 0, len(disabled))}
	for id, isDisabled := range disabled {
		if isDisabled {
			state.Disabled = append(state.Disabled, id)
		}
	}
	sort.Strings(state.Disabled)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return NewHostStateError("cannot encode plugin state", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return NewHostStateError("cannot create data directory", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return NewHostStateError("cannot write plugin state file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return NewHostStateError("cannot replace plugin state file", err)
	}
	return nil
}
