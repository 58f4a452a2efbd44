package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/ingest"
	"github.com/muurk/logrelay/internal/ui"
)

// Send command flags
var (
	sendLevel string
	sendJSON  bool
	sendQuiet bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send log lines over raw TCP",
	Long: `Send one line built from the arguments, or every line read from stdin.

Stdin lines already in [LEVEL]{message} form are sent as they are; any other
line is wrapped with --level. Each line is acknowledged by the server.`,
	Example: `  # One warning
  logrelay send --level warning "disk at 91%"

  # Forward a program's output
  ./build.sh 2>&1 | logrelay send --level info

  # Print the raw acknowledgements
  logrelay send --json "[ERROR]{payment failed}"`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendLevel, "level", "l", "INFO", "Level for lines without one")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print each acknowledgement as JSON")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Print nothing on success")
}

// rawLine returns s as a raw protocol line, wrapping it when it has no
// level section.
func rawLine(s string, level entry.Level) string {
	if _, err := entry.ParseLine(s); err == nil {
		return s
	}
	return entry.Format(level, s)
}

func runSend(cmd *cobra.Command, args []string) error {
	level, err := entry.ParseLevel(sendLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	conn, err := c.DialRaw(ctx)
	if err != nil {
		printer := ui.NewPrinter(os.Stderr)
		printer.PrintError("Cannot reach the server", err, []string{
			"Check that logrelay-server is running",
			"Check --server or " + serverEnvVar,
			"Use --discover to find servers on the local network",
		})
		return err
	}
	defer conn.Close()

	var last ingest.Ack
	sent := 0
	send := func(line string) error {
		ack, err := conn.SendLine(rawLine(line, level))
		if err != nil {
			return err
		}
		last = ack
		sent++
		if sendJSON {
			out, _ := json.Marshal(ack)
			fmt.Println(string(out))
		}
		return nil
	}

	if len(args) > 0 {
		if err := send(strings.Join(args, " ")); err != nil {
			return err
		}
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := send(line); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	if sendQuiet || sendJSON || sent == 0 {
		return nil
	}
	ui.NewPrinter(nil).PrintSuccess(ackTitle(sent), map[string]string{
		"Server":      last.ServerID,
		"Client":      last.Client,
		"Lines":       strconv.Itoa(sent),
		"Session msg": strconv.FormatUint(last.MessageNumber, 10),
		"Session B":   strconv.FormatUint(last.TotalBytes, 10),
		"Acked at":    last.Timestamp,
	})
	return nil
}

func ackTitle(n int) string {
	if n == 1 {
		return "Line acknowledged"
	}
	return fmt.Sprintf("%d lines acknowledged", n)
}

