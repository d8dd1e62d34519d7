// Package database provides SQLite connectivity for the Exohome bridge.
//
// The database holds one small table: per-account credential records
// (password, bearer token, token expiry). SQLite is used because the
// bridge runs as a single process with tiny write volume, and a file
// database survives restarts without external services.
//
// # Configuration
//
//	database:
//	  path: "./data/exohome.db"
//	  wal_mode: true
//	  busy_timeout: 5
//
// Schema creation lives with the credential store
// (internal/credentials), which owns the table.
package database
