// Package sqlite is the audit store for evidence sessions. It implements
// session.Sink on top of modernc.org/sqlite: session headers, every
// admission decision, every capacity commit and zstd-compressed grid
// snapshots, all keyed by session id.
//
// The schema is owned by the embedded migrations and applied with
// golang-migrate when a store is opened.
package sqlite
