// Package ingest routes every accepted log entry to the text logs and, when
// the retention policy selects it, to the database writer.
package ingest

import (
	"go.uber.org/zap"

	"github.com/muurk/logrelay/internal/entry"
	"github.com/muurk/logrelay/internal/logbuf"
	"github.com/muurk/logrelay/internal/logging"
	"github.com/muurk/logrelay/internal/metrics"
)

// Queue is the persistence stage. *dbwriter.Writer implements it.
type Queue interface {
	AddTask(e entry.Entry) (bool, error)
}

// LineSink accepts rendered lines. *logbuf.Buffer implements it.
type LineSink interface {
	Append(line string)
}

// Pipeline fans one entry out to the plain-text log, the HTML log and the
// persistence queue. Any of them may be nil.
type Pipeline struct {
	Text    LineSink
	HTML    LineSink
	Queue   Queue
	Metrics *metrics.Metrics
}

// Ingest records e, which arrived over the named protocol. It never blocks on
// disk or database I/O.
func (p *Pipeline) Ingest(protocol string, e entry.Entry) {
	p.Metrics.ObserveIngest(protocol, e.Level.String())

	if p.Text != nil {
		p.Text.Append(logbuf.TextLine(e))
	}
	if p.HTML != nil {
		p.HTML.Append(logbuf.HTMLLine(e))
	}
	if p.Queue == nil {
		return
	}
	if _, err := p.Queue.AddTask(e); err != nil {
		logging.Warn("Dropping entry for persistence",
			zap.String("protocol", protocol),
			zap.String("source", e.Source()),
			zap.Error(err),
		)
	}
}

// Skip records a line that could not be parsed.
func (p *Pipeline) Skip(protocol string, remoteAddr string, raw []byte, err error) {
	p.Metrics.ObserveSkip(protocol)
	logging.LogRawLine(remoteAddr, raw, err.Error())
}
