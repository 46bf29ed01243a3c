// Package store persists knowledge clusters in SQLite.
//
// Curated fields and scan-derived metadata are written through separate
// operations: Update never touches scan columns and UpdateScanMeta never
// touches curated ones, so a raw re-scan can never overwrite curated
// learnings. Lifecycle transitions go through Transition, which enforces the
// state machine; Merge and Split are the only operations that create
// clusters out of existing ones.
//
// The SQLite implementation keeps a single writer connection in WAL mode and
// stripes per-cluster mutexes over read-modify-write operations so two
// concurrent reuse updates on the same cluster serialize. Full-text lookup
// runs on an FTS5 shadow table with a fuzzy re-rank on top.
//
// Two build configurations select the driver: the default pure-Go build uses
// modernc.org/sqlite, the cgo build uses mattn/go-sqlite3.
package store
