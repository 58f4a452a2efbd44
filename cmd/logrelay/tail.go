package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/client"
	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logging"
)

// Tail command flags
var (
	tailFromStart bool
	tailWrap      string
)

var tailCmd = &cobra.Command{
	Use:   "tail <file>",
	Short: "Follow a file and send every new log line",
	Long: `Follow a text file like tail -F and send each appended line over raw TCP.

Only lines in [LEVEL]{message} form are sent; others are skipped unless --wrap
names a level to wrap them with. A truncated or rotated file is read again from
the start.`,
	Example: `  # Ship an application log
  logrelay tail /var/log/app/log.txt

  # Ship a plain log, wrapping each line as INFO
  logrelay tail --wrap info --from-start build.log`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	tailCmd.Flags().BoolVar(&tailFromStart, "from-start", false, "Send the existing content first")
	tailCmd.Flags().StringVar(&tailWrap, "wrap", "", "Level for lines that are not in [LEVEL]{message} form")
}

func runTail(cmd *cobra.Command, args []string) error {
	var wrap *entry.Level
	if tailWrap != "" {
		l, err := entry.ParseLevel(tailWrap)
		if err != nil {
			return err
		}
		wrap = &l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	conn, err := c.DialRaw(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sent, skipped := 0, 0
	follower := &client.Follower{Path: args[0], FromStart: tailFromStart}
	fmt.Fprintf(os.Stderr, "Following %s, sending to %s\n", args[0], c.Addr)

	err = follower.Follow(ctx, func(line string) error {
		if wrap != nil {
			line = rawLine(line, *wrap)
		}
		_, err := conn.SendLine(line)
		if errors.Is(err, client.ErrInvalidLine) {
			skipped++
			logging.Debug("Skipped line", zap.String("line", line), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}
		sent++
		return nil
	})
	fmt.Fprintf(os.Stderr, "Sent %d lines, skipped %d\n", sent, skipped)
	return err
}
