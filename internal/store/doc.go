// Package store provides persistent storage for the taskboard using SQLite.
//
// # Architecture
//
// Store is the single interface consumed by the rest of the gateway. Two
// implementations exist:
//
//   - SQLiteStore: production storage, backed by modernc.org/sqlite by default
//     or by the cgo driver github.com/mattn/go-sqlite3 (database.driver: sqlite3)
//   - MockStore: in-memory storage for unit tests, with an Err field to
//     simulate write failures
//
// Both run the same behavioural contract in store_test.go.
//
// # Data Models
//
//   - User: account with role admin or user; email is unique and lowercased
//   - Project: title, status (active, completed, on-hold) and ordered members
//   - Task: assignee, status (todo, in-progress, done), priority, deadline, project
//   - ActivityLog: append-only task history (created, updated, status_changed, completed)
//   - Notification: per-user inbox entry with a read flag
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC strings so range filters
// (the deadline reminder query) can compare them lexically. The path
// ":memory:" pins the pool to one connection so every query sees the same
// database.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist, or an update/delete touched no rows
//   - ErrDuplicate: unique constraint violated (duplicate email or id)
//
// Identifiers are UUID strings; IsValidID rejects anything else before a
// query is issued.
package store
