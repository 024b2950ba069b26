// Package testutil holds shared test helpers: a silent logger and the
// embedded Postgres harness for integration tests.
package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a *slog.Logger that discards all output.
// Use this in tests instead of defining a local discardLogger() helper.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
