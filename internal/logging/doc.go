// Package logging configures the process-wide slog logger.
//
// Logs are written as JSON to a size-rotated file under the data directory
// and, for interactive commands, to stderr. Stderr output is human-readable
// text when attached to a terminal and JSON when piped.
//
// MCP mode writes to the file only: stdout carries JSON-RPC frames and
// stderr stays silent so protocol clients never see stray bytes.
package logging
