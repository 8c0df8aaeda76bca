package zus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// opCounters holds the per-op-code counters a single operation updates.
type opCounters struct {
	Ops    atomic.Uint64
	Errors atomic.Uint64
	Bytes  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64
}

// Metrics tracks performance and operational statistics for the
// runtime, keyed per op-code rather than per a fixed read/write/discard
// set, since the filesystem-relay protocol has dozens of operations
// the teacher's block-device protocol never needed.
type Metrics struct {
	mu       sync.RWMutex
	perOp    map[uapi.OpCode]*opCounters

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{perOp: make(map[uapi.OpCode]*opCounters)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) countersFor(code uapi.OpCode) *opCounters {
	m.mu.RLock()
	c, ok := m.perOp[code]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.perOp[code]; ok {
		return c
	}
	c = &opCounters{}
	m.perOp[code] = c
	return c
}

// RecordOp records one operation's outcome, keyed by its op code.
func (m *Metrics) RecordOp(code uapi.OpCode, bytes uint64, latencyNs uint64, success bool) {
	c := m.countersFor(code)
	c.Ops.Add(1)
	if success {
		c.Bytes.Add(bytes)
	} else {
		c.Errors.Add(1)
	}
	c.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			c.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordQueueDepth records current queue depth for statistics
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the runtime as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// OpSnapshot is a point-in-time view of one op code's counters.
type OpSnapshot struct {
	Code         uapi.OpCode
	Ops          uint64
	Errors       uint64
	Bytes        uint64
	AvgLatencyNs uint64
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	PerOp []OpSnapshot

	AvgQueueDepth float64
	MaxQueueDepth uint32

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
	UptimeNs   uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{MaxQueueDepth: m.MaxQueueDepth.Load()}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalErrors uint64
	for code, c := range m.perOp {
		ops := c.Ops.Load()
		errs := c.Errors.Load()
		var avg uint64
		if ops > 0 {
			avg = c.TotalLatencyNs.Load() / ops
		}
		snap.PerOp = append(snap.PerOp, OpSnapshot{
			Code:         code,
			Ops:          ops,
			Errors:       errs,
			Bytes:        c.Bytes.Load(),
			AvgLatencyNs: avg,
		})
		snap.TotalOps += ops
		snap.TotalBytes += c.Bytes.Load()
		totalErrors += errs
	}

	queueDepthCount := m.QueueDepthCount.Load()
	if queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(queueDepthCount)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	return snap
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.perOp = make(map[uapi.OpCode]*opCounters)
	m.mu.Unlock()
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver implements interfaces.Observer using the built-in
// Metrics type.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveOp(code uint32, latencyNs uint64, success bool) {
	o.metrics.RecordOp(uapi.OpCode(code), 0, latencyNs, success)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveOp(uint32, uint64, bool) {}
func (NoOpObserver) ObserveQueueDepth(uint32)       {}

var _ interfaces.Observer = (*MetricsObserver)(nil)
var _ interfaces.Observer = (*NoOpObserver)(nil)
