// Package logger provides structured logging functionality for the application.
//
// It builds on Go's standard library log/slog package: every sink is a JSON
// slog handler, and New composes any number of sinks behind a single
// fan-out handler so one log call reaches stdout and, when configured,
// CloudWatch Logs.
package logger
