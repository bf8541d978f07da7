// Package logx configures sipcore's structured logging.
//
// Components log through a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional alert hook (min-level + rate limiting) for forwarding errors
package logx
