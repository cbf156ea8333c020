// Package seen persists the set of catalog origin ids that have already been
// observed.
//
// A Set keeps the ids in memory for lookups and writes through to a Backend
// on every change. Backends:
//   - "file":     JSON array of ids (default, x402_services_cache.json)
//   - "sqlite":   seen_origins table in a SQLite database file
//   - "redis":    sorted set <prefix>:seen
//   - "postgres": seen_origins table
package seen
