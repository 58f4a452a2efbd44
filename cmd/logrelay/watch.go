package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/client"
	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/ui"
)

// Watch command flags
var (
	watchLevel   string
	watchHistory int
	watchPlain   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream persisted entries live",
	Long: `Connect as a WebSocket viewer and print every entry the server stores.

On a terminal an interactive view is used: p pauses, +/- change the minimum
level, c clears and q quits. Otherwise, or with --plain, one colored line is
printed per entry.`,
	Example: `  # Live view of warnings and above
  logrelay watch --level warning

  # Show the last 50 stored entries first, as plain lines
  logrelay watch --history 50 --plain | grep payment`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchLevel, "level", "l", "TRACE", "Minimum level to show")
	watchCmd.Flags().IntVar(&watchHistory, "history", 0, "Print this many stored entries before streaming")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print lines instead of the interactive view")
}

func runWatch(cmd *cobra.Command, args []string) error {
	minLevel, err := entry.ParseLevel(watchLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}

	var history []entry.Wire
	if watchHistory > 0 {
		history, err = c.History(ctx, watchHistory, nil)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
	}

	if watchPlain || !stdoutIsTerminal() {
		return watchPlainLines(ctx, c, history, minLevel)
	}
	return watchInteractive(ctx, c, history, minLevel)
}

func watchPlainLines(ctx context.Context, c *client.Client, history []entry.Wire, minLevel entry.Level) error {
	for _, w := range history {
		if w.Level >= minLevel {
			printEntry(os.Stdout, w)
		}
	}
	return c.Watch(ctx, func(data []byte) {
		msg, err := ui.Decode(data)
		if err != nil {
			logging.Debug("Ignoring server message", zap.Error(err))
			return
		}
		if m, ok := msg.(ui.LogMsg); ok && m.Level >= minLevel {
			printEntry(os.Stdout, entry.Wire(m))
		}
	})
}

func watchInteractive(ctx context.Context, c *client.Client, history []entry.Wire, minLevel entry.Level) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, len(history)+256)
	for _, w := range history {
		events <- ui.LogMsg(w)
	}

	go func() {
		defer close(events)
		send := func(msg tea.Msg) {
			select {
			case events <- msg:
			case <-ctx.Done():
			}
		}
		c.OnConnect = func() { send(ui.StatusMsg{State: ui.StateConnected}) }
		err := c.Watch(ctx, func(data []byte) {
			msg, err := ui.Decode(data)
			if err != nil {
				logging.Debug("Ignoring server message", zap.Error(err))
				return
			}
			if msg != nil {
				send(msg)
			}
		})
		send(ui.StatusMsg{State: ui.StateDisconnected, Err: err})
	}()

	m := ui.NewWatchModel("logrelay", c.WebSocketURL(), events, minLevel)
	return ui.RunWatch(m)
}
