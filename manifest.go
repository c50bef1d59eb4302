// manifest.go: Plugin manifest model and validation
//
// The manifest file (plugin.json) is the primary way plugins declare their
// identity, entry point, and runtime constraints. Validation collects every
// violation instead of stopping at the first so a plugin author sees the
// whole picture in one discovery pass.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// PluginManifest represents a plugin manifest file (plugin.json).
//
// Example manifest:
//
//	{
//	  "id": "request-linter",
//	  "name": "Request Linter",
//	  "version": "1.2.0",
//	  "description": "Lints incoming validation requests",
//	  "author": "tools-team@company.com",
//	  "main": "init.lua",
//	  "apiVersion": "1.0",
//	  "minHostVersion": "0.9.0",
//	  "permissions": ["hooks", "services"],
//	  "dependencies": [{"id": "logging-core", "version": "1.0.0"}],
//	  "defaultConfig": {"strict": true}
//	}
type PluginManifest struct {
	// Core identity
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`

	// Optional identity
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Homepage   string   `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Repository string   `json:"repository,omitempty" yaml:"repository,omitempty"`
	License    string   `json:"license,omitempty" yaml:"license,omitempty"`

	// Entry point, relative to the plugin directory
	Main string `json:"main,omitempty" yaml:"main,omitempty"`

	// Optional sha256 of the entry file, "sha256:<hex>". Enforced when
	// the host's validation policy requires signatures.
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// Host compatibility constraints
	APIVersion     string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	MinHostVersion string `json:"minHostVersion,omitempty" yaml:"minHostVersion,omitempty"`
	MaxHostVersion string `json:"maxHostVersion,omitempty" yaml:"maxHostVersion,omitempty"`

	// Requested permissions, checked against the host's allowed set
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	// Declared dependencies on other plugins
	Dependencies []PluginDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// Default configuration merged into the runtime config at load time
	DefaultConfig map[string]any `json:"defaultConfig,omitempty" yaml:"defaultConfig,omitempty"`
}

// PluginDependency declares a dependency on another plugin.
type PluginDependency struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// Metadata derives the runtime-identity subset handed to the plugin factory.
func (m *PluginManifest) Metadata() PluginMetadata {
	return PluginMetadata{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
		Keywords:    append([]string(nil), m.Keywords...),
		Homepage:    m.Homepage,
		Repository:  m.Repository,
		License:     m.License,
	}
}

var (
	// idPattern restricts manifest ids to a filesystem- and log-safe charset.
	idPattern = regexp.MustCompile(`^[A-Za-z0-9\-_.]+$`)

	// versionPattern accepts major.minor.patch with an optional prerelease tag.
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.\-]+)?$`)
)

// VersionTriple is a parsed major.minor.patch version.
//
// Host compatibility checks compare only the numeric triple; prerelease and
// build metadata are parsed off and ignored. This is a known simplification
// kept for compatibility with the manifest format's original semantics, not
// full semver precedence.
type VersionTriple struct {
	Major uint64
	Minor uint64
	Patch uint64
}

// ParseVersionTriple parses "x.y.z[-pre][+build]" into its numeric triple.
func ParseVersionTriple(version string) (VersionTriple, error) {
	core := version
	if idx := strings.IndexAny(core, "-+"); idx >= 0 {
		core = core[:idx]
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return VersionTriple{}, fmt.Errorf("version %q is not a major.minor.patch triple", version)
	}

	var triple VersionTriple
	for i, dst := range []*uint64{&triple.Major, &triple.Minor, &triple.Patch} {
		value, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return VersionTriple{}, fmt.Errorf("version %q has non-numeric component %q", version, parts[i])
		}
		*dst = value
	}

	return triple, nil
}

// Compare returns -1, 0, or 1 comparing the numeric triples.
func (v VersionTriple) Compare(other VersionTriple) int {
	for _, pair := range [][2]uint64{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

// HostInfo carries the host-side facts manifests are validated against.
type HostInfo struct {
	// Version is the host's own version, compared against min/maxHostVersion.
	Version string

	// SupportedAPIVersions is the whitelist an apiVersion field must hit.
	SupportedAPIVersions []string

	// AllowedPermissions is the full set a manifest's permissions must be
	// a subset of.
	AllowedPermissions []string
}

// ManifestValidator performs pure validation of manifest shape and
// constraints against a HostInfo. It holds no mutable state and is safe for
// concurrent use.
type ManifestValidator struct {
	host HostInfo
}

// NewManifestValidator creates a validator bound to the given host facts.
func NewManifestValidator(host HostInfo) *ManifestValidator {
	return &ManifestValidator{host: host}
}

// Validate runs every independent check and returns all violations found.
// An empty slice means the manifest is valid. Checks never short-circuit:
// a manifest missing three fields reports three violations.
//
// The pluginDir parameter is required to verify that the main entry file
// exists; pass "" to skip the existence check (pure shape validation).
func (v *ManifestValidator) Validate(manifest *PluginManifest, pluginDir string) []string {
	var violations []string

	violations = append(violations, v.validateIdentity(manifest)...)
	violations = append(violations, v.validateVersion(manifest)...)
	violations = append(violations, v.validateEntry(manifest, pluginDir)...)
	violations = append(violations, v.validateDependencies(manifest)...)
	violations = append(violations, v.validateHostCompatibility(manifest)...)
	violations = append(violations, v.validatePermissions(manifest)...)

	return violations
}

// validateIdentity checks the required identity fields and the id charset.
func (v *ManifestValidator) validateIdentity(manifest *PluginManifest) []string {
	var violations []string

	if manifest.ID == "" {
		violations = append(violations, "plugin id is required")
	} else if !idPattern.MatchString(manifest.ID) {
		violations = append(violations, fmt.Sprintf("plugin id %q contains invalid characters (allowed: letters, digits, '-', '_', '.')", manifest.ID))
	}

	if manifest.Name == "" {
		violations = append(violations, "plugin name is required")
	}
	if manifest.Description == "" {
		violations = append(violations, "plugin description is required")
	}
	if manifest.Author == "" {
		violations = append(violations, "plugin author is required")
	}

	return violations
}

// validateVersion checks presence and x.y.z[-pre] format.
func (v *ManifestValidator) validateVersion(manifest *PluginManifest) []string {
	if manifest.Version == "" {
		return []string{"plugin version is required"}
	}
	if !versionPattern.MatchString(manifest.Version) {
		return []string{fmt.Sprintf("plugin version %q must match major.minor.patch with an optional prerelease tag", manifest.Version)}
	}
	return nil
}

// validateEntry checks that a declared main entry file exists relative to
// the plugin directory. Path traversal out of the plugin directory is
// rejected outright.
func (v *ManifestValidator) validateEntry(manifest *PluginManifest, pluginDir string) []string {
	if manifest.Main == "" || pluginDir == "" {
		return nil
	}

	if strings.Contains(manifest.Main, "..") {
		return []string{fmt.Sprintf("plugin main %q must not traverse outside the plugin directory", manifest.Main)}
	}

	entry := filepath.Join(pluginDir, manifest.Main)
	if info, err := os.Stat(entry); err != nil || info.IsDir() {
		return []string{fmt.Sprintf("plugin main %q does not reference an existing entry file", manifest.Main)}
	}

	return nil
}

// validateDependencies requires id and version on every declared dependency.
func (v *ManifestValidator) validateDependencies(manifest *PluginManifest) []string {
	var violations []string
	for i, dep := range manifest.Dependencies {
		if dep.ID == "" {
			violations = append(violations, fmt.Sprintf("dependency %d is missing its id", i))
		}
		if dep.Version == "" {
			violations = append(violations, fmt.Sprintf("dependency %d (%s) is missing its version", i, dep.ID))
		}
	}
	return violations
}

// validateHostCompatibility checks apiVersion membership and the host
// version range using the numeric-triple comparison.
func (v *ManifestValidator) validateHostCompatibility(manifest *PluginManifest) []string {
	var violations []string

	if manifest.APIVersion != "" && len(v.host.SupportedAPIVersions) > 0 {
		supported := false
		for _, version := range v.host.SupportedAPIVersions {
			if version == manifest.APIVersion {
				supported = true
				break
			}
		}
		if !supported {
			violations = append(violations, fmt.Sprintf("apiVersion %q is not supported by this host (supported: %s)",
				manifest.APIVersion, strings.Join(v.host.SupportedAPIVersions, ", ")))
		}
	}

	hostVersion, err := ParseVersionTriple(v.host.Version)
	if err != nil {
		// Host misconfiguration, not a manifest fault; skip range checks.
		return violations
	}

	if manifest.MinHostVersion != "" {
		if min, err := ParseVersionTriple(manifest.MinHostVersion); err != nil {
			violations = append(violations, fmt.Sprintf("minHostVersion %q is not a valid version", manifest.MinHostVersion))
		} else if hostVersion.Compare(min) < 0 {
			violations = append(violations, fmt.Sprintf("plugin requires host version >= %s (host is %s)", manifest.MinHostVersion, v.host.Version))
		}
	}

	if manifest.MaxHostVersion != "" {
		if max, err := ParseVersionTriple(manifest.MaxHostVersion); err != nil {
			violations = append(violations, fmt.Sprintf("maxHostVersion %q is not a valid version", manifest.MaxHostVersion))
		} else if hostVersion.Compare(max) > 0 {
			violations = append(violations, fmt.Sprintf("plugin requires host version <= %s (host is %s)", manifest.MaxHostVersion, v.host.Version))
		}
	}

	return violations
}

// validatePermissions requires declared permissions to be a subset of the
// host's allowed set.
func (v *ManifestValidator) validatePermissions(manifest *PluginManifest) []string {
	if len(manifest.Permissions) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(v.host.AllowedPermissions))
	for _, p := range v.host.AllowedPermissions {
		allowed[p] = struct{}{}
	}

	var violations []string
	for _, p := range manifest.Permissions {
		if _, ok := allowed[p]; !ok {
			violations = append(violations, fmt.Sprintf("permission %q is not allowed by the host", p))
		}
	}
	return violations
}
