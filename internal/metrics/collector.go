package metrics

import (
	"runtime"
	"time"
)

// EntityCounter reports cached entity counts.
type EntityCounter interface {
	Counts() (clusters, pgs, pgss, gws int)
}

// Collector collects custom metrics
type Collector struct {
	startTime time.Time
	entities  EntityCounter
}

// NewCollector creates a collector. entities may be nil.
func NewCollector(entities EntityCounter) *Collector {
	return &Collector{
		startTime: time.Now(),
		entities:  entities,
	}
}

// Collect collects periodic metrics
func (c *Collector) Collect() {
	c.collectMemory()
	c.collectUptime()
	c.collectEntities()
}

func (c *Collector) collectMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
	MemoryUsage.WithLabelValues("goroutines").Set(float64(runtime.NumGoroutine()))
}

func (c *Collector) collectUptime() {
	Uptime.Set(time.Since(c.startTime).Seconds())
}

func (c *Collector) collectEntities() {
	if c.entities == nil {
		return
	}
	clusters, pgs, pgss, gws := c.entities.Counts()
	Entities.WithLabelValues("cluster").Set(float64(clusters))
	Entities.WithLabelValues("pg").Set(float64(pgs))
	Entities.WithLabelValues("pgs").Set(float64(pgss))
	Entities.WithLabelValues("gw").Set(float64(gws))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordCommand records command execution
func RecordCommand(cmd string, duration time.Duration, success bool) {
	CommandsTotal.WithLabelValues(cmd, status(success)).Inc()
	CommandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordWorkflow records a workflow run; result is "success" or an error kind.
func RecordWorkflow(workflow, result string, duration time.Duration) {
	WorkflowsTotal.WithLabelValues(workflow, result).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordLockWait records how long a lock set took to acquire
func RecordLockWait(d time.Duration) {
	LockWait.Observe(d.Seconds())
	LocksHeld.Inc()
}

// RecordLockRelease records a released lock set
func RecordLockRelease() {
	LocksHeld.Dec()
}

// RecordProbeFailure records a failed replica probe
func RecordProbeFailure(op string) {
	ProbeFailures.WithLabelValues(op).Inc()
}

// RecordGatewayFailure records a gateway that failed a broadcast
func RecordGatewayFailure() {
	GatewayFailures.Inc()
}

// RecordConnection records connection count change
func RecordConnection(delta int) {
	ConnectionsTotal.Add(float64(delta))
}
