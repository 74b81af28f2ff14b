package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter drives the collector and hands out the scrape handler.
// The handler is mounted by the HTTP API rather than served on its own port.
type Exporter struct {
	interval  time.Duration
	collector *Collector
}

// NewExporter creates a metrics exporter
func NewExporter(entities EntityCounter, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Exporter{
		interval:  interval,
		collector: NewCollector(entities),
	}
}

// Run collects periodically until ctx is done
func (e *Exporter) Run(ctx context.Context) {
	e.collector.Collect()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.collector.Collect()
		case <-ctx.Done():
			return
		}
	}
}

// Handler returns the prometheus scrape handler
func (e *Exporter) Handler() http.Handler {
	return promhttp.Handler()
}
