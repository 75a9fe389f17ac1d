// Package storage persists the per-server routing configuration: which
// channel receives each category of change records.
//
// Drivers:
//   - "sqlite": pure-Go SQLite (modernc.org/sqlite), the default
//   - "postgres": lib/pq
//   - "mysql": go-sql-driver/mysql
//   - "file": dependency-free JSON snapshot + journal
package storage
