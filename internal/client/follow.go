package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DefaultPollInterval is how often a followed file is checked for growth.
const DefaultPollInterval = 500 * time.Millisecond

// Follower reads complete lines appended to a file, like tail -F. A file
// that shrinks is read again from the start.
type Follower struct {
	Path string
	// FromStart reads the existing content before following.
	FromStart bool
	Interval  time.Duration

	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial strings.Builder
}

// Follow calls fn with every new line, without its line ending, until ctx
// is done or fn returns an error.
func (fl *Follower) Follow(ctx context.Context, fn func(line string) error) error {
	interval := fl.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if err := fl.open(!fl.FromStart); err != nil {
		return err
	}
	defer func() { fl.f.Close() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fl.drain(fn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := fl.checkRotation(); err != nil {
			return err
		}
	}
}

func (fl *Follower) open(atEnd bool) error {
	f, err := os.Open(fl.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fl.Path, err)
	}
	fl.offset = 0
	if atEnd {
		if fl.offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("failed to seek %s: %w", fl.Path, err)
		}
	}
	fl.f = f
	fl.r = bufio.NewReader(f)
	fl.partial.Reset()
	return nil
}

// drain passes every complete line available. A trailing fragment is kept
// until its newline arrives.
func (fl *Follower) drain(fn func(string) error) error {
	for {
		chunk, err := fl.r.ReadString('\n')
		fl.offset += int64(len(chunk))
		fl.partial.WriteString(chunk)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", fl.Path, err)
		}
		line := strings.TrimRight(fl.partial.String(), "\r\n")
		fl.partial.Reset()
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
}

// checkRotation reopens the file when it was truncated or replaced.
func (fl *Follower) checkRotation() error {
	current, err := fl.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", fl.Path, err)
	}
	onDisk, err := os.Stat(fl.Path)
	if err != nil {
		// Being rotated; try again on the next tick.
		return nil
	}
	if os.SameFile(current, onDisk) && onDisk.Size() >= fl.offset {
		return nil
	}
	fl.f.Close()
	return fl.open(false)
}
