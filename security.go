// security.go: load-time validation policy
//
// The host can require plugins to come from an allowed source and to
// carry a checksum matching their entry file before they are
// instantiated. Enforcement depends on the configured policy mode:
// permissive logs violations and loads anyway, strict blocks the load.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SecurityPolicy selects the enforcement mode for plugin validation.
type SecurityPolicy int

const (
	// SecurityPolicyDisabled performs no validation.
	SecurityPolicyDisabled SecurityPolicy = iota
	// SecurityPolicyPermissive logs violations but lets the load proceed.
	SecurityPolicyPermissive
	// SecurityPolicyStrict blocks loads that violate the policy.
	SecurityPolicyStrict
)

func (p SecurityPolicy) String() string {
	switch p {
	case SecurityPolicyDisabled:
		return "disabled"
	case SecurityPolicyPermissive:
		return "permissive"
	case SecurityPolicyStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// checksumPrefix is the only accepted checksum scheme in manifests.
const checksumPrefix = "sha256:"

// ValidationPolicy configures the checks applied to every plugin before
// instantiation. The zero value disables validation entirely.
type ValidationPolicy struct {
	// Policy is the enforcement mode. Disabled skips all checks.
	Policy SecurityPolicy

	// ValidateSignatures requires the manifest to declare a checksum
	// matching the entry file. Plugins without an entry file (compiled-in
	// constructors) are exempt.
	ValidateSignatures bool

	// AllowedSources whitelists manifest authors. Empty allows any.
	AllowedSources []string
}

// validateSecurity applies the host's validation policy to one plugin.
// A nil return means the load may proceed; under the permissive policy
// violations are logged and the load proceeds anyway.
func (m *Manager) validateSecurity(manifest *PluginManifest, pluginDir string) error {
	policy := m.opts.Validation
	if policy.Policy == SecurityPolicyDisabled {
		return nil
	}

	var violations []string
	if len(policy.AllowedSources) > 0 && !contains(policy.AllowedSources, manifest.Author) {
		violations = append(violations,
			fmt.Sprintf("author %q is not an allowed source", manifest.Author))
	}
	if policy.ValidateSignatures && manifest.Main != "" {
		if violation := verifyChecksum(manifest, pluginDir); violation != "" {
			violations = append(violations, violation)
		}
	}
	if len(violations) == 0 {
		return nil
	}

	if policy.Policy == SecurityPolicyPermissive {
		for _, violation := range violations {
			m.logger.Warn("Security policy violation, loading anyway",
				"plugin", manifest.ID, "violation", violation)
		}
		return nil
	}

	m.logger.Error("Plugin blocked by security policy",
		"plugin", manifest.ID, "violations", strings.Join(violations, "; "))
	return NewSecurityBlockedError(manifest.ID, violations)
}

// verifyChecksum compares the manifest's declared checksum against the
// entry file on disk. It returns a violation description, or "" when
// the checksum matches.
func verifyChecksum(manifest *PluginManifest, pluginDir string) string {
	declared := manifest.Checksum
	if declared == "" {
		return "manifest declares no checksum"
	}
	if !strings.HasPrefix(declared, checksumPrefix) {
		return fmt.Sprintf("unsupported checksum scheme in %q", declared)
	}

	actual, err := fileChecksum(filepath.Join(pluginDir, manifest.Main))
	if err != nil {
		return fmt.Sprintf("entry file cannot be hashed: %v", err)
	}
	if !strings.EqualFold(strings.TrimPrefix(declared, checksumPrefix), actual) {
		return "entry file does not match the declared checksum"
	}
	return ""
}

// fileChecksum returns the hex sha256 of the file's contents.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path) // #nosec G304 - path is rooted in the plugin's own directory
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
