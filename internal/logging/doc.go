// Package logging assembles structured slog loggers and formatting helpers
// used across dialqueue services.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes attr helpers so call-path code tags log lines with queue entry
// IDs, provider call identifiers, and correlation IDs the same way
// everywhere. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
