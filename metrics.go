package v4l2q

import (
	"sync/atomic"
	"time"
)

// WaitBuckets defines the dequeue-wait histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var WaitBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numWaitBuckets = 8

// Metrics tracks operational statistics for one queue
type Metrics struct {
	// Operation counters
	QueueOps   atomic.Uint64 // Total buffer submissions
	DequeueOps atomic.Uint64 // Total buffer dequeues
	StreamOns  atomic.Uint64 // Stream starts
	StreamOffs atomic.Uint64 // Stream stops

	// Byte counters
	QueuedBytes   atomic.Uint64 // Payload bytes submitted
	DequeuedBytes atomic.Uint64 // Payload bytes retrieved

	// Error counters
	QueueErrors   atomic.Uint64 // Failed submissions
	DequeueErrors atomic.Uint64 // Failed dequeues
	StreamErrors  atomic.Uint64 // Failed stream transitions

	// In-flight statistics
	InFlightTotal atomic.Uint64 // Cumulative in-flight samples
	InFlightCount atomic.Uint64 // Number of in-flight measurements
	MaxInFlight   atomic.Uint32 // Maximum observed in-flight count

	// Dequeue wait tracking
	TotalWaitNs atomic.Uint64 // Cumulative time blocked in dequeue
	WaitCount   atomic.Uint64 // Number of waits (for average calculation)

	// Wait histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of waits with duration <= WaitBuckets[i]
	WaitHistogram [numWaitBuckets]atomic.Uint64

	// Lifecycle
	StartTime atomic.Int64 // Creation timestamp (UnixNano)
	StopTime  atomic.Int64 // Stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordQueue records a buffer submission
func (m *Metrics) RecordQueue(bytes uint64, success bool) {
	m.QueueOps.Add(1)
	if success {
		m.QueuedBytes.Add(bytes)
	} else {
		m.QueueErrors.Add(1)
	}
}

// RecordDequeue records a buffer dequeue and the time spent blocked in it
func (m *Metrics) RecordDequeue(bytes uint64, waitNs uint64, success bool) {
	m.DequeueOps.Add(1)
	if success {
		m.DequeuedBytes.Add(bytes)
	} else {
		m.DequeueErrors.Add(1)
	}
	m.recordWait(waitNs)
}

// RecordStream records a stream transition
func (m *Metrics) RecordStream(on bool, success bool) {
	if on {
		m.StreamOns.Add(1)
	} else {
		m.StreamOffs.Add(1)
	}
	if !success {
		m.StreamErrors.Add(1)
	}
}

// RecordInFlight records the current in-flight buffer count
func (m *Metrics) RecordInFlight(count uint32) {
	m.InFlightTotal.Add(uint64(count))
	m.InFlightCount.Add(1)

	// Update max in-flight atomically
	for {
		current := m.MaxInFlight.Load()
		if count <= current {
			break
		}
		if m.MaxInFlight.CompareAndSwap(current, count) {
			break
		}
	}
}

// recordWait records dequeue wait time and updates the histogram
func (m *Metrics) recordWait(waitNs uint64) {
	m.TotalWaitNs.Add(waitNs)
	m.WaitCount.Add(1)

	// Update histogram buckets (cumulative)
	for i, bucket := range WaitBuckets {
		if waitNs <= bucket {
			m.WaitHistogram[i].Add(1)
		}
	}
}

// Stop marks the metrics window as closed
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of metrics with derived values
type MetricsSnapshot struct {
	// Operations
	QueueOps   uint64
	DequeueOps uint64
	StreamOns  uint64
	StreamOffs uint64

	// Bytes transferred
	QueuedBytes   uint64
	DequeuedBytes uint64

	// Error counts
	QueueErrors   uint64
	DequeueErrors uint64
	StreamErrors  uint64

	// In-flight statistics
	AvgInFlight float64
	MaxInFlight uint32

	// Dequeue wait
	AvgWaitNs uint64
	UptimeNs  uint64

	// Wait percentiles (in nanoseconds)
	WaitP50Ns  uint64 // 50th percentile (median)
	WaitP99Ns  uint64 // 99th percentile
	WaitP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	WaitHistogram [numWaitBuckets]uint64

	// Computed statistics
	QueueRate   float64 // Submissions per second
	DequeueRate float64 // Dequeues per second
	Throughput  float64 // Dequeued bytes per second
	TotalOps    uint64
	ErrorRate   float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		QueueOps:      m.QueueOps.Load(),
		DequeueOps:    m.DequeueOps.Load(),
		StreamOns:     m.StreamOns.Load(),
		StreamOffs:    m.StreamOffs.Load(),
		QueuedBytes:   m.QueuedBytes.Load(),
		DequeuedBytes: m.DequeuedBytes.Load(),
		QueueErrors:   m.QueueErrors.Load(),
		DequeueErrors: m.DequeueErrors.Load(),
		StreamErrors:  m.StreamErrors.Load(),
		MaxInFlight:   m.MaxInFlight.Load(),
	}

	snap.TotalOps = snap.QueueOps + snap.DequeueOps + snap.StreamOns + snap.StreamOffs

	// Calculate average in-flight depth
	inFlightTotal := m.InFlightTotal.Load()
	inFlightCount := m.InFlightCount.Load()
	if inFlightCount > 0 {
		snap.AvgInFlight = float64(inFlightTotal) / float64(inFlightCount)
	}

	// Calculate average wait
	totalWaitNs := m.TotalWaitNs.Load()
	waitCount := m.WaitCount.Load()
	if waitCount > 0 {
		snap.AvgWaitNs = totalWaitNs / waitCount
	}

	// Calculate uptime
	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	// Calculate rates
	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.QueueRate = float64(snap.QueueOps) / uptimeSeconds
		snap.DequeueRate = float64(snap.DequeueOps) / uptimeSeconds
		snap.Throughput = float64(snap.DequeuedBytes) / uptimeSeconds
	}

	// Calculate error rate
	totalErrors := snap.QueueErrors + snap.DequeueErrors + snap.StreamErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	// Copy histogram bucket counts
	for i := 0; i < numWaitBuckets; i++ {
		snap.WaitHistogram[i] = m.WaitHistogram[i].Load()
	}

	// Calculate percentiles from histogram
	if waitCount > 0 {
		snap.WaitP50Ns = m.calculatePercentile(0.50)
		snap.WaitP99Ns = m.calculatePercentile(0.99)
		snap.WaitP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the wait time at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalWaits := m.WaitCount.Load()
	if totalWaits == 0 {
		return 0
	}

	targetCount := uint64(float64(totalWaits) * percentile)

	// Find the bucket containing the target percentile
	prevBucket := uint64(0)
	for i, bucket := range WaitBuckets {
		bucketCount := m.WaitHistogram[i].Load()
		if bucketCount >= targetCount {
			// Linear interpolation within bucket
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.WaitHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Interpolate between prevBucket and bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// If we get here, the wait exceeds all buckets
	return WaitBuckets[numWaitBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.QueueOps.Store(0)
	m.DequeueOps.Store(0)
	m.StreamOns.Store(0)
	m.StreamOffs.Store(0)
	m.QueuedBytes.Store(0)
	m.DequeuedBytes.Store(0)
	m.QueueErrors.Store(0)
	m.DequeueErrors.Store(0)
	m.StreamErrors.Store(0)
	m.InFlightTotal.Store(0)
	m.InFlightCount.Store(0)
	m.MaxInFlight.Store(0)
	m.TotalWaitNs.Store(0)
	m.WaitCount.Store(0)
	for i := 0; i < numWaitBuckets; i++ {
		m.WaitHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable per-operation collection. The queue calls it
// on every submission, dequeue and stream transition.
type Observer interface {
	// ObserveQueue is called for each buffer submission
	ObserveQueue(bytes uint64, success bool)

	// ObserveDequeue is called for each dequeue with the time spent
	// blocked waiting for the device
	ObserveDequeue(bytes uint64, waitNs uint64, success bool)

	// ObserveStream is called for each stream on/off transition
	ObserveStream(on bool, success bool)

	// ObserveInFlight is called when the in-flight buffer count changes
	ObserveInFlight(count uint32)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveQueue(uint64, bool)           {}
func (NoOpObserver) ObserveDequeue(uint64, uint64, bool) {}
func (NoOpObserver) ObserveStream(bool, bool)            {}
func (NoOpObserver) ObserveInFlight(uint32)              {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveQueue(bytes uint64, success bool) {
	o.metrics.RecordQueue(bytes, success)
}

func (o *MetricsObserver) ObserveDequeue(bytes uint64, waitNs uint64, success bool) {
	o.metrics.RecordDequeue(bytes, waitNs, success)
}

func (o *MetricsObserver) ObserveStream(on bool, success bool) {
	o.metrics.RecordStream(on, success)
}

func (o *MetricsObserver) ObserveInFlight(count uint32) {
	o.metrics.RecordInFlight(count)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
