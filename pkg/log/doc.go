// Package log provides the structured NXS event trace.
//
// The trace is separate from operational logging (slog). It records a
// machine-readable history of everything that touched the fabric: node
// claims and releases, function state changes, interrupt dispatch, control
// plane frames and messages, and errors.
//
// # Basic Usage
//
//	// For development: trace to console via slog
//	cfg.Trace = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary file
//	cfg.Trace, _ = log.NewFileLogger("/var/log/nxs/nxsd.nlog")
//
//	// Both: use MultiLogger
//	cfg.Trace = log.NewMultiLogger(console, file)
//
// # Event Types
//
// Events are captured at several layers:
//   - Transport: raw frame sizes (FrameEvent)
//   - Wire: decoded control-plane messages (MessageEvent)
//   - Service: session lifecycle (StateChangeEvent)
//   - Graph: function state changes (StateChangeEvent)
//   - Node: claims (ClaimEvent) and interrupts (IRQEvent)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events, conventionally with the
// .nlog extension. The nxs-log tool views, filters and summarises them.
package log
