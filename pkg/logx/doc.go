// Package logx wraps zerolog behind a small, swap-safe logger.
//
// The Service owns the sinks (console, file) and can re-apply config at
// runtime; Logger values handed out earlier keep writing to the new sinks.
package logx
