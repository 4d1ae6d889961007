// Package config loads papersum settings from defaults, an optional YAML file
// and PAPERSUM_ environment variables, and validates them before any
// component is built. Backend specific settings are only required when that
// backend is selected.
package config
