// Package worklog appends operator-visible audit entries to the metadata store.
package worklog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/otheng03/nbase-arc/internal/cluster"
	"github.com/otheng03/nbase-arc/internal/store"
)

type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

type Entry struct {
	Seq      int64     `json:"logID"`
	Time     time.Time `json:"logTime"`
	Severity Severity  `json:"severity"`
	Type     string    `json:"type"`
	Cluster  string    `json:"clusterName,omitempty"`
	Message  string    `json:"msg"`
}

// Log is an append-only sequence of entries under the work log root.
type Log struct {
	store  store.Store
	logger logr.Logger

	mu  sync.Mutex
	seq int64
}

func New(s store.Store, logger logr.Logger) *Log {
	return &Log{store: s, logger: logger.WithName("worklog")}
}

func entryPath(seq int64) string {
	return fmt.Sprintf("%s/%020d", cluster.WorkflowLogRoot, seq)
}

// Load resumes numbering after the highest stored entry.
func (l *Log) Load(ctx context.Context) error {
	recs, err := l.store.List(ctx, cluster.WorkflowLogRoot+"/")
	if err != nil {
		return fmt.Errorf("list work log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range recs {
		n, err := strconv.ParseInt(strings.TrimPrefix(rec.Path, cluster.WorkflowLogRoot+"/"), 10, 64)
		if err == nil && n > l.seq {
			l.seq = n
		}
	}
	return nil
}

// Append stores a formatted entry under the next sequence number. Failures are logged, not
// returned to the command that produced the entry.
func (l *Log) Append(ctx context.Context, severity Severity, typ, clusterName, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Seq:      l.seq + 1,
		Time:     time.Now().UTC(),
		Severity: severity,
		Type:     typ,
		Cluster:  clusterName,
		Message:  fmt.Sprintf(format, args...),
	}

	if _, err := l.store.Create(ctx, entryPath(e.Seq), &e); err != nil {
		l.logger.Error(err, "append work log", "type", typ, "msg", e.Message)
		return
	}
	l.seq = e.Seq
}

// Entries returns every stored entry in order.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	recs, err := l.store.List(ctx, cluster.WorkflowLogRoot+"/")
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		var e Entry
		if err := rec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", rec.Path, err)
		}
		out = append(out, e)
	}
	return out, nil
}
