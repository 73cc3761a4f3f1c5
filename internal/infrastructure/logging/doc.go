// Package logging provides structured logging for Gray Logic Access.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the access core.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of credential-bearing attribute keys
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log secrets, raw session tokens or password hashes. As a backstop,
// attributes named password, secret, token, token_hash or password_hash are
// replaced with "[REDACTED]" before they reach the handler.
package logging
