package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/muurk/logrelay/internal/entry"
)

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var levelColors = map[entry.Level]*color.Color{
	entry.LevelTrace:   color.New(color.FgHiBlack),
	entry.LevelDebug:   color.New(color.FgHiBlack),
	entry.LevelInfo:    color.New(color.FgCyan),
	entry.LevelWarning: color.New(color.FgYellow),
	entry.LevelError:   color.New(color.FgRed, color.Bold),
	entry.LevelFatal:   color.New(color.FgHiWhite, color.BgRed, color.Bold),
}

var timestampColor = color.New(color.Faint)

// printEntry writes one entry as a colored line. fatih/color drops the
// escapes by itself when stdout is not a terminal or NO_COLOR is set.
func printEntry(w io.Writer, e entry.Wire) {
	c, ok := levelColors[e.Level]
	if !ok {
		c = color.New()
	}
	fmt.Fprintf(w, "%s %s %s\n", timestampColor.Sprint(e.Timestamp), c.Sprintf("%-7s", e.Level), e.Message)
}
