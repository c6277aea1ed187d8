// Package logx provides a small structured logging facade over zerolog.
//
// Loggers created from a Service stay live across Service.Apply() calls,
// so sinks and levels can be swapped on config reload without re-plumbing
// loggers through the app.
package logx
