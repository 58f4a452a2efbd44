package logbuf

import (
	"bufio"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/muurk/logrelay/internal/entry"
)

// FileSink appends batches to a file, opening and closing it once per batch.
type FileSink struct {
	Path string
	// Header is written once when the file is created or empty.
	Header string
}

func (s *FileSink) WriteLines(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.Path, err)
	}

	w := bufio.NewWriter(f)
	if s.Header != "" {
		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			_, _ = w.WriteString(s.Header)
		}
	}
	for _, line := range lines {
		_, _ = w.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			_ = w.WriteByte('\n')
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", s.Path, err)
	}
	return f.Close()
}

// File names under the log directory, as served by the download endpoint.
const (
	TextFile = "log.txt"
	HTMLFile = "log.html"
)

// HTMLHeader opens log.html. Rows are appended after it and the document is
// left unterminated so appends stay valid for browsers.
const HTMLHeader = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>logrelay</title>
<style>
body{font-family:monospace}
.trace,.debug{color:#888}.info{color:#222}.warning{color:#b8860b}.error{color:#c00}.fatal{color:#fff;background:#c00}
</style></head><body>
`

// TextLine renders e for log.txt.
func TextLine(e entry.Entry) string {
	return e.Text()
}

// HTMLLine renders e as one row of log.html.
func HTMLLine(e entry.Entry) string {
	return fmt.Sprintf("<div class='%s'>[%s] %s at %s</div>",
		strings.ToLower(e.Level.String()), e.Level, html.EscapeString(e.Message), html.EscapeString(e.Timestamp))
}
