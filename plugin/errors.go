package plugin

import "errors"

// Sentinel errors for lifecycle operations. Callers match with errors.Is;
// wrapped messages carry the plugin and tenant involved.
var (
	ErrNotFound         = errors.New("plugin not found")
	ErrAlreadyInstalled = errors.New("plugin already installed")
	ErrNotInstalled     = errors.New("plugin not installed")
	ErrLicense          = errors.New("license invalid")
	ErrDependency       = errors.New("dependency not satisfied")
	ErrValidation       = errors.New("config validation failed")
	ErrHook             = errors.New("plugin hook failed")
	ErrRouteConflict    = errors.New("route conflict")
)
