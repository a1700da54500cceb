// Package testutil holds shared helpers for package tests: log capture,
// scripted operators that record their calls, a SQLite warehouse and a
// file tree builder.
package testutil
