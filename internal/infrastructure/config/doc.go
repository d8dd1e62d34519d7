// Package config provides configuration loading for the Exohome bridge.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, in increasing precedence:
//
//  1. Hardcoded defaults
//  2. YAML file values
//  3. EXOHOME_* environment variables
//
// # Sections
//
//   - site: deployment identity
//   - accounts: Sampo Exohome account credentials (one session each)
//   - exohome: vendor cloud endpoints and polling/timeout tuning
//   - database: SQLite credential store
//   - mqtt: broker connection for the state/command bus
//   - influxdb: optional status history recording
//   - logging: level, format, destination
//
// # Security
//
// Account passwords and broker credentials live in the config file or
// environment; the file should be readable only by the service user.
// Tokens are never written to the config file, only to the database.
package config
