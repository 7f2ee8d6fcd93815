// Package config loads service configuration in three layers:
//
//  1. Built-in defaults (DefaultConfig)
//  2. An optional YAML file named by the ROSTER_CONFIG environment variable
//  3. ROSTER_* environment variables, which win over the file
//
// The loaded configuration is validated before use; a missing database URL
// or clashing ports fail startup rather than surfacing later as runtime
// errors.
package config
