// Package poollog provides structured fleet event capture for the device
// pool.
//
// This package defines the Logger interface and Event types for recording
// pool-level events (admissions, allocations, state transitions, external
// commands, fastboot polls). It is separate from operational logging (slog) -
// fleet capture provides a complete machine-readable event trace for
// debugging flaky device behavior after the fact.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	opts.EventLogger = poollog.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	opts.EventLogger, _ = poollog.NewFileLogger("/var/log/devpool/fleet.plog")
//
//	// Both: use MultiLogger
//	fileLogger, _ := poollog.NewFileLogger("/var/log/devpool/fleet.plog")
//	opts.EventLogger = poollog.NewMultiLogger(
//	    poollog.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files use CBOR encoding with .plog extension and integer struct keys
// for compactness. Reader streams events back out of a file, optionally
// filtered.
package poollog
