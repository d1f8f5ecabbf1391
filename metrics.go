package mediagraph

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
)

// LatencyBuckets defines the Process()-latency histogram buckets in
// nanoseconds, covering from 1us to 10s with logarithmic spacing --
// kept from the teacher's I/O-latency histogram since a node's
// per-cycle Process() call spans the same order of magnitude as a
// block I/O completion.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// nodeStats accumulates per-node cycle statistics (§3's Load stats and
// Xrun counters), generalizing the teacher's per-operation counters to
// one set of atomics per node id instead of one set per device.
type nodeStats struct {
	processCount    atomic.Uint64
	xrunCount       atomic.Uint64
	totalLatencyNs  atomic.Uint64
	maxLatencyNs    atomic.Uint64
	latencyBuckets  [numLatencyBuckets]atomic.Uint64
	lastCPULoad     [3]atomic.Uint32 // float32 bits, §3 cpu_load[3]
	lastStatus      atomic.Uint32
}

// Metrics tracks performance and scheduling statistics for a graph run.
type Metrics struct {
	CycleCount atomic.Uint64 // total Process() invocations, all nodes
	XrunCount  atomic.Uint64 // total xruns recorded, all nodes

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64

	mu    sync.Mutex
	nodes map[uint32]*nodeStats
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{nodes: make(map[uint32]*nodeStats)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) nodeEntry(nodeID uint32) *nodeStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.nodes[nodeID]
	if !ok {
		ns = &nodeStats{}
		m.nodes[nodeID] = ns
	}
	return ns
}

// RecordProcess records one Process() invocation's latency and result
// status for nodeID (§8 invariant 1: Process runs exactly once per
// cycle).
func (m *Metrics) RecordProcess(nodeID uint32, latencyNs uint64, status uint32) {
	m.CycleCount.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	recordLatencyHistogram(&m.LatencyBuckets, latencyNs)

	ns := m.nodeEntry(nodeID)
	ns.processCount.Add(1)
	ns.totalLatencyNs.Add(latencyNs)
	ns.lastStatus.Store(status)
	recordLatencyHistogram(&ns.latencyBuckets, latencyNs)
	for {
		cur := ns.maxLatencyNs.Load()
		if latencyNs <= cur {
			break
		}
		if ns.maxLatencyNs.CompareAndSwap(cur, latencyNs) {
			break
		}
	}
}

// RecordXrun records a cycle overrun for nodeID (§3 xrun_count/xrun_delay).
func (m *Metrics) RecordXrun(nodeID uint32, delayNs uint64) {
	m.XrunCount.Add(1)
	m.nodeEntry(nodeID).xrunCount.Add(1)
}

// RecordCPULoad stores the most recent 1/8/32-cycle EMA triple for
// nodeID (§3 cpu_load[3]).
func (m *Metrics) RecordCPULoad(nodeID uint32, load [3]float32) {
	ns := m.nodeEntry(nodeID)
	for i, v := range load {
		ns.lastCPULoad[i].Store(math.Float32bits(v))
	}
}

func recordLatencyHistogram(buckets *[numLatencyBuckets]atomic.Uint64, latencyNs uint64) {
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			buckets[i].Add(1)
		}
	}
}

// Stop marks the run as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// NodeSnapshot is a point-in-time view of one node's cycle statistics.
type NodeSnapshot struct {
	NodeID         uint32
	ProcessCount   uint64
	XrunCount      uint64
	AvgLatencyNs   uint64
	MaxLatencyNs   uint64
	CPULoad        [3]float32
	LastStatus     uint32
}

// MetricsSnapshot is a point-in-time snapshot of graph-wide metrics.
type MetricsSnapshot struct {
	CycleCount uint64
	XrunCount  uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64
	UptimeNs         uint64
	XrunRate         float64 // xruns per 1000 cycles

	Nodes map[uint32]NodeSnapshot
}

// Snapshot creates a point-in-time snapshot of the graph's metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CycleCount: m.CycleCount.Load(),
		XrunCount:  m.XrunCount.Load(),
		Nodes:      make(map[uint32]NodeSnapshot),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	if snap.CycleCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / snap.CycleCount
		snap.XrunRate = float64(snap.XrunCount) / float64(snap.CycleCount) * 1000.0
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if snap.CycleCount > 0 {
		snap.LatencyP50Ns = calculatePercentile(&m.LatencyBuckets, snap.CycleCount, 0.50)
		snap.LatencyP99Ns = calculatePercentile(&m.LatencyBuckets, snap.CycleCount, 0.99)
		snap.LatencyP999Ns = calculatePercentile(&m.LatencyBuckets, snap.CycleCount, 0.999)
	}

	m.mu.Lock()
	for id, ns := range m.nodes {
		processCount := ns.processCount.Load()
		var avgLatency uint64
		if processCount > 0 {
			avgLatency = ns.totalLatencyNs.Load() / processCount
		}
		snap.Nodes[id] = NodeSnapshot{
			NodeID:       id,
			ProcessCount: processCount,
			XrunCount:    ns.xrunCount.Load(),
			AvgLatencyNs: avgLatency,
			MaxLatencyNs: ns.maxLatencyNs.Load(),
			CPULoad: [3]float32{
				math.Float32frombits(ns.lastCPULoad[0].Load()),
				math.Float32frombits(ns.lastCPULoad[1].Load()),
				math.Float32frombits(ns.lastCPULoad[2].Load()),
			},
			LastStatus: ns.lastStatus.Load(),
		}
	}
	m.mu.Unlock()

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) by linear interpolation between histogram buckets, kept
// from the teacher's block-I/O latency estimator.
func calculatePercentile(buckets *[numLatencyBuckets]atomic.Uint64, totalOps uint64, percentile float64) uint64 {
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	var prevCount uint64
	for i, bound := range LatencyBuckets {
		bucketCount := buckets[i].Load()
		if bucketCount >= targetCount {
			if bucketCount == prevCount {
				return bound
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bound-prevBucket))
		}
		prevBucket = bound
		prevCount = bucketCount
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset clears all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.CycleCount.Store(0)
	m.XrunCount.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
	m.mu.Lock()
	m.nodes = make(map[uint32]*nodeStats)
	m.mu.Unlock()
}

// MetricsObserver implements interfaces.Observer by recording to the
// built-in Metrics, mirroring the teacher's MetricsObserver that bridges
// its block-I/O Observer to its own Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveProcess(nodeID uint32, latencyNs uint64, status uint32) {
	o.metrics.RecordProcess(nodeID, latencyNs, status)
}

func (o *MetricsObserver) ObserveXrun(nodeID uint32, delayNs uint64) {
	o.metrics.RecordXrun(nodeID, delayNs)
}

func (o *MetricsObserver) ObserveCPULoad(nodeID uint32, load [3]float32) {
	o.metrics.RecordCPULoad(nodeID, load)
}

// NoOpObserver is a no-op implementation of interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveProcess(uint32, uint64, uint32) {}
func (NoOpObserver) ObserveXrun(uint32, uint64)            {}
func (NoOpObserver) ObserveCPULoad(uint32, [3]float32)     {}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
