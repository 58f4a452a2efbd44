// Package logging provides the structured process logger for logrelay.
//
// It wraps a package-level zap logger with short helpers and a few
// connection-oriented functions used by the event loop and its protocol paths.
// This is the operator log of the server itself; the log lines that producers
// send to the server travel through internal/logbuf and internal/dbwriter.
//
// # Levels
//
//   - Debug: frame dumps, raw bytes, response sizes
//   - Info: connections, upgrades, startup and shutdown
//   - Warn: skipped input, failed writes to one peer
//   - Error: persistence failures, accept errors
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	logging.LogConnection(fd, "10.0.0.7:51234", "accepted")
//	logging.LogFrame(addr, "received", frame.Opcode, frame.Payload)
//
// When Initialize receives an empty level it falls back to LOGRELAY_LOG_LEVEL,
// and when that is unset too the logger stays silent.
package logging
