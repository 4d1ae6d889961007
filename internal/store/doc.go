// Package store defines the durable record store contract shared by every
// backend and provides an in-memory implementation used for local runs and
// tests.
//
// Backends must implement Create and Reopen as conditional writes: the
// enqueue gateway relies on them to guarantee at most one in-flight attempt
// per key. The remaining writes are independent, best-effort updates issued
// by the task runner.
package store
