// discovery.go: Filesystem plugin discovery with per-candidate error collection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ManifestFileName is the manifest file looked up in each candidate
// plugin directory.
const ManifestFileName = "plugin.json"

// DiscoveryResult describes one candidate plugin directory after a scan.
//
// A result is produced for every immediate child of the plugin root,
// whether or not it holds a loadable plugin: a missing or malformed
// manifest yields IsValid=false with the specific errors collected, never
// an aborted scan. Results are transient and recomputed on every scan.
type DiscoveryResult struct {
	ManifestPath string          `json:"manifest_path"`
	PluginDir    string          `json:"plugin_dir"`
	Manifest     *PluginManifest `json:"manifest,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
	IsValid      bool            `json:"is_valid"`
}

// Discovery scans a plugin root directory for candidate plugins.
//
// The scan is deliberately non-recursive: only the immediate children of
// the configured root are considered candidates. Each candidate directory
// is expected to carry a plugin.json manifest, parsed as JSON first with a
// YAML fallback, then validated against the host's constraints.
//
// Only a catastrophic failure (the root itself unreadable) is returned as
// an error from Scan; everything else is reported per candidate.
type Discovery struct {
	root      string
	validator *ManifestValidator
	logger    Logger
}

// NewDiscovery creates a discovery scanner over the given plugin root.
func NewDiscovery(root string, validator *ManifestValidator, logger Logger) *Discovery {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Discovery{
		root:      root,
		validator: validator,
		logger:    logger,
	}
}

// Root returns the configured plugin root directory.
func (d *Discovery) Root() string {
	return d.root
}

// Scan walks the immediate children of the plugin root and returns one
// DiscoveryResult per candidate directory, sorted by directory name for
// deterministic ordering.
func (d *Discovery) Scan(ctx context.Context) ([]*DiscoveryResult, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, NewDiscoveryFailedError(d.root, err)
	}

	results := make([]*DiscoveryResult, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, NewDiscoveryFailedError(d.root, ctx.Err())
		default:
		}

		if !entry.IsDir() {
			continue
		}

		result := d.inspectCandidate(filepath.Join(d.root, entry.Name()))
		results = append(results, result)

		if result.IsValid {
			d.logger.Debug("Discovered plugin",
				"id", result.Manifest.ID,
				"version", result.Manifest.Version,
				"dir", result.PluginDir)
		} else {
			d.logger.Warn("Skipping invalid plugin candidate",
				"dir", result.PluginDir,
				"errors", result.Errors)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PluginDir < results[j].PluginDir
	})

	d.logger.Info("Plugin discovery completed",
		"root", d.root,
		"candidates", len(results))

	return results, nil
}

// inspectCandidate builds the DiscoveryResult for a single candidate
// directory, collecting every error it can find instead of stopping at the
// first.
func (d *Discovery) inspectCandidate(dir string) *DiscoveryResult {
	result := &DiscoveryResult{
		PluginDir:    dir,
		ManifestPath: filepath.Join(dir, ManifestFileName),
	}

	data, err := os.ReadFile(result.ManifestPath) // #nosec G304 - path is derived from the configured root
	if err != nil {
		if os.IsNotExist(err) {
			result.Errors = append(result.Errors, "plugin.json not found")
		} else {
			result.Errors = append(result.Errors, "plugin.json unreadable: "+err.Error())
		}
		return result
	}

	manifest, err := parseManifest(data)
	if err != nil {
		result.Errors = append(result.Errors, "plugin.json parse failed: "+err.Error())
		return result
	}
	result.Manifest = manifest

	if violations := d.validator.Validate(manifest, dir); len(violations) > 0 {
		result.Errors = append(result.Errors, violations...)
		return result
	}

	result.IsValid = true
	return result
}

// parseManifest decodes manifest bytes, trying JSON first and YAML second.
func parseManifest(data []byte) (*PluginManifest, error) {
	var manifest PluginManifest

	if err := json.Unmarshal(data, &manifest); err != nil {
		if yamlErr := yaml.Unmarshal(data, &manifest); yamlErr != nil {
			return nil, err
		}
	}

	return &manifest, nil
}
