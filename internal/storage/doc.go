// Package storage persists steamwatch's typed collections: the watch set,
// bindings, audience sets and runtime settings, plus the audit log and
// notifier dedup marks.
//
// Two drivers are available:
//   - "file": a JSON state snapshot (atomically replaced), a JSONL audit log
//     and a dedup snapshot + journal
//   - "sqlite": a single SQLite database (modernc.org/sqlite, WAL)
//
// Every Save* call replaces the prior value of that collection.
package storage
