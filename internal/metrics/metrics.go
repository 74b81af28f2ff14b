package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "confmaster"
)

var (
	// CommandsTotal counts total commands
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of admin commands processed",
		},
		[]string{"cmd", "status"}, // cmd: pg_add/role_change/..., status: success/error
	)

	// CommandDuration measures command latency, lock wait included
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"cmd"},
	)

	// WorkflowsTotal counts workflow runs by outcome
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"workflow", "result"}, // result: success/precondition/fencing/infrastructure/error
	)

	// WorkflowDuration measures workflow latency
	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow latency in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"workflow"},
	)

	// LockWait measures time spent waiting for hierarchical locks
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring a lock set",
			Buckets:   []float64{.0001, .001, .01, .1, .5, 1, 5, 30},
		},
	)

	// LocksHeld tracks lock sets currently held
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks_held",
			Help:      "Number of lock sets currently held",
		},
	)

	// ProbeFailures counts failed replica probes
	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Total number of failed replica probes",
		},
		[]string{"op"}, // ping/getseq/role/...
	)

	// GatewayFailures counts gateways that failed a broadcast
	GatewayFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_failures_total",
			Help:      "Total number of failed gateway notifications",
		},
	)

	// Entities tracks cached metadata entities
	Entities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Number of cached entities",
		},
		[]string{"kind"}, // cluster/pg/pgs/gw
	)

	// MemoryUsage tracks memory usage
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage in bytes",
		},
		[]string{"type"},
	)

	// ConnectionsTotal tracks active admin connections
	ConnectionsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of admin client connections",
		},
	)

	// Info exposes build info
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Confmaster server info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)

	// Uptime tracks uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
	)
)

// InitInfo initializes info metric
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
