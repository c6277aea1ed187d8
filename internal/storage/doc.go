// Package storage persists playouts, posts, tokens and engagement
// snapshots in a single-writer sqlite database.
//
// Timestamps are stored as unix milliseconds so range queries stay cheap
// and format-agnostic. Token rows are append-only: refreshing a credential
// inserts a new row, and the newest row per platform is authoritative.
package storage
