// errors.go: structured error definitions for the plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"github.com/agilira/go-errors"
)

// Error codes for the plugin runtime
const (
	// Discovery errors (2000-2099): collected per candidate, only a
	// catastrophic root-scan failure is ever returned from a scan.
	ErrCodeDiscoveryFailed  = "DISCOVERY_2001"
	ErrCodeManifestMissing  = "DISCOVERY_2002"
	ErrCodeManifestParse    = "DISCOVERY_2003"
	ErrCodeManifestInvalid  = "DISCOVERY_2004"
	ErrCodeEntryFileMissing = "DISCOVERY_2005"

	// Load errors (2100-2199): thrown to the manager, which logs and
	// continues with the rest of a batch.
	ErrCodeModuleResolution = "LOAD_2101"
	ErrCodeNoConstructor    = "LOAD_2102"
	ErrCodeInstantiation    = "LOAD_2103"
	ErrCodeInitTimeout      = "LOAD_2104"
	ErrCodeInitFailed       = "LOAD_2105"
	ErrCodeInvalidResult    = "LOAD_2106"
	ErrCodeContextBuild     = "LOAD_2107"
	ErrCodeSecurityBlocked  = "LOAD_2108"

	// Lifecycle errors (2200-2299): thrown synchronously from the
	// offending lifecycle call.
	ErrCodeInvalidTransition = "LIFECYCLE_2201"
	ErrCodeStartFailed       = "LIFECYCLE_2202"
	ErrCodeStopFailed        = "LIFECYCLE_2203"
	ErrCodeCleanupFailed     = "LIFECYCLE_2204"
	ErrCodePluginNotFound    = "LIFECYCLE_2205"
	ErrCodeStartTimeout      = "LIFECYCLE_2206"

	// Hook errors (2300-2399): isolated per handler, never propagated
	// to the emit caller.
	ErrCodeHookHandler = "HOOK_2301"
	ErrCodeHookPanic   = "HOOK_2302"

	// Service registry errors (2400-2499)
	ErrCodeServiceRegistry = "SERVICE_2401"

	// Host errors (2500-2599)
	ErrCodeHostShutdown = "HOST_2501"
	ErrCodeHostState    = "HOST_2502"
	ErrCodeNotifier     = "HOST_2503"
)

// Discovery error constructors

func NewDiscoveryFailedError(root string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryFailed, "Plugin discovery failed").
		WithUserMessage("The plugin root directory could not be scanned").
		WithContext("plugins_dir", root).
		WithSeverity("error")
}

func NewManifestMissingError(dir string) *errors.Error {
	return errors.New(ErrCodeManifestMissing, "Plugin manifest not found").
		WithUserMessage("The plugin directory does not contain a plugin.json file").
		WithContext("plugin_dir", dir).
		WithSeverity("error")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Plugin manifest parse error").
		WithUserMessage("The plugin manifest is not valid JSON or YAML").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewManifestInvalidError(id string, violations []string) *errors.Error {
	return errors.New(ErrCodeManifestInvalid, "Plugin manifest validation failed").
		WithUserMessage("The plugin manifest violates one or more validation rules").
		WithContext("plugin_id", id).
		WithContext("violations", violations).
		WithSeverity("error")
}

func NewEntryFileMissingError(id, entry string) *errors.Error {
	return errors.New(ErrCodeEntryFileMissing, "Plugin entry file missing").
		WithUserMessage("The manifest main field references a file that does not exist").
		WithContext("plugin_id", id).
		WithContext("entry", entry).
		WithSeverity("error")
}

// Load error constructors

func NewModuleResolutionError(id, entry string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleResolution, "Entry module resolution failed").
		WithUserMessage("The plugin entry module could not be resolved").
		WithContext("plugin_id", id).
		WithContext("entry", entry).
		WithSeverity("error")
}

func NewNoConstructorError(id, entry string) *errors.Error {
	return errors.New(ErrCodeNoConstructor, "No usable plugin constructor").
		WithUserMessage("The entry module does not expose a usable plugin constructor").
		WithContext("plugin_id", id).
		WithContext("entry", entry).
		WithSeverity("error")
}

func NewInstantiationError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInstantiation, "Plugin instantiation failed").
		WithUserMessage("The plugin constructor failed or returned an unusable instance").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewInitTimeoutError(id string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeInitTimeout, "Plugin initialization timeout").
		WithUserMessage("The plugin did not finish initializing within the configured timeout").
		WithContext("plugin_id", id).
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewSecurityBlockedError(id string, violations []string) *errors.Error {
	return errors.New(ErrCodeSecurityBlocked, "Plugin blocked by security policy").
		WithUserMessage("The plugin violates the host's validation policy").
		WithContext("plugin_id", id).
		WithContext("violations", violations).
		WithSeverity("error")
}

func NewInitFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInitFailed, "Plugin initialization failed").
		WithUserMessage("The plugin raised an error during initialization").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewInvalidResultError(dir string, discoveryErrors []string) *errors.Error {
	return errors.New(ErrCodeInvalidResult, "Cannot load invalid discovery result").
		WithUserMessage("The discovery result carries validation errors and cannot be loaded").
		WithContext("plugin_dir", dir).
		WithContext("discovery_errors", discoveryErrors).
		WithSeverity("error")
}

func NewContextBuildError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeContextBuild, "Plugin context construction failed").
		WithUserMessage("The per-plugin context could not be built").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

// Lifecycle error constructors

func NewInvalidTransitionError(id, operation string, state PluginState) *errors.Error {
	return errors.New(ErrCodeInvalidTransition, "Invalid lifecycle transition: cannot "+operation+" from state "+state.String()).
		WithUserMessage("The requested lifecycle operation is not legal from the plugin's current state").
		WithContext("plugin_id", id).
		WithContext("operation", operation).
		WithContext("current_state", state.String()).
		WithSeverity("error")
}

func NewStartFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStartFailed, "Plugin start failed").
		WithUserMessage("The plugin raised an error while starting").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewStopFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStopFailed, "Plugin stop failed").
		WithUserMessage("The plugin raised an error while stopping").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewCleanupFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCleanupFailed, "Plugin cleanup failed").
		WithUserMessage("The plugin raised an error during cleanup; bookkeeping still completed").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

func NewStartTimeoutError(id string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeStartTimeout, "Plugin start timeout").
		WithUserMessage("The plugin did not finish starting within the configured timeout").
		WithContext("plugin_id", id).
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewPluginNotFoundError(id string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("No tracked plugin instance exists for the given id").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

// Hook error constructors

func NewHookHandlerError(hookType, pluginID string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHookHandler, "Hook handler failed").
		WithUserMessage("A hook handler raised an error; remaining handlers still ran").
		WithContext("hook_type", hookType).
		WithContext("plugin_id", pluginID).
		WithSeverity("warning")
}

func NewHookPanicError(hookType, pluginID string, recovered interface{}) *errors.Error {
	return errors.New(ErrCodeHookPanic, "Hook handler panicked").
		WithUserMessage("A hook handler panicked; the panic was recovered and isolated").
		WithContext("hook_type", hookType).
		WithContext("plugin_id", pluginID).
		WithContext("panic", recovered).
		WithSeverity("error")
}

// Service registry error constructors

func NewServiceRegistryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeServiceRegistry, "Service registry error: "+message).
		WithUserMessage("Service registry operation failed").
		WithSeverity("error")
}

// Host error constructors

func NewHostShutdownError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHostShutdown, "Host shutdown error: "+message).
		WithUserMessage("Errors occurred while shutting down the plugin host").
		WithSeverity("error")
}

func NewHostStateError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHostState, "Host state error: "+message).
		WithUserMessage("The plugin host is not in a state that allows this operation").
		WithSeverity("error")
}

func NewNotifierError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeNotifier, "Change notifier error: "+message).
		WithUserMessage("Plugin directory change monitoring failed").
		WithSeverity("error")
}
