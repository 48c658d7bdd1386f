// Package logging provides structured logging for bridgemux.
//
// It wraps the standard library's log/slog with configuration-driven
// level filtering, output format selection (JSON or text), and default
// service fields so every line can be attributed in aggregated logs.
//
// Packages that must not depend on infrastructure accept the small
// Logger interface defined where they live; *logging.Logger satisfies
// those interfaces.
package logging
