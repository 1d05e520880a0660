// Package config loads, validates, and normalizes dialqueue configuration.
//
// Configuration is read from a TOML file layered over built-in defaults,
// with secret values overridable from the environment. Paths are expanded
// to absolute form during normalization so the rest of the daemon never
// handles "~" or relative locations.
package config
