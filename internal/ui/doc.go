// Package ui renders the logrelay client's terminal output.
//
// Two kinds of components live here:
//
//   - Header, Result and Printer: styled boxes printed once by commands such
//     as send and discover.
//   - WatchModel: the Bubble Tea live view used by "logrelay watch" when
//     stdout is a terminal.
//
// The live view does not own the WebSocket connection. The caller reads
// server messages, converts them with Decode and writes the results to the
// channel passed to NewWatchModel; connection changes are sent as StatusMsg.
// Closing the channel marks the view disconnected.
//
// # Usage Example
//
//	events := make(chan tea.Msg, 64)
//	go readLoop(conn, events)
//	m := ui.NewWatchModel("Live view", url, events, entry.LevelInfo)
//	if err := ui.RunWatch(m); err != nil {
//	    log.Fatal(err)
//	}
//
// # Logging Integration
//
// zap logging is silent unless LOGRELAY_LOG_LEVEL is set so the curated
// output is displayed cleanly.
package ui
