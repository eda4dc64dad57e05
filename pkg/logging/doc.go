// Package logging provides structured logging configuration for dproxy.
//
// This package wraps log/slog to provide consistent logging across all dproxy
// components. It supports configurable log levels and output formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("proxy started", "addr", ":8888", "mode", "recording")
//	logger.Error("forward failed", "error", err)
//
// # Integration
//
// Components should accept a *slog.Logger in their constructor or via a setter.
// If no logger is provided, use logging.Nop() for a no-op logger.
package logging
