package v4l2q

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	// Test initial state
	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	// Record some operations
	m.RecordQueue(1024, true)           // 1KB submission, success
	m.RecordQueue(512, false)           // failed submission
	m.RecordDequeue(2048, 1000000, true) // 2KB dequeue, 1ms wait, success

	snap = m.Snapshot()

	// Check operation counts
	if snap.QueueOps != 2 {
		t.Errorf("Expected 2 queue ops, got %d", snap.QueueOps)
	}
	if snap.DequeueOps != 1 {
		t.Errorf("Expected 1 dequeue op, got %d", snap.DequeueOps)
	}

	// Check byte counts (only successful operations)
	if snap.QueuedBytes != 1024 {
		t.Errorf("Expected 1024 queued bytes, got %d", snap.QueuedBytes)
	}
	if snap.DequeuedBytes != 2048 {
		t.Errorf("Expected 2048 dequeued bytes, got %d", snap.DequeuedBytes)
	}

	// Check error counts
	if snap.QueueErrors != 1 {
		t.Errorf("Expected 1 queue error, got %d", snap.QueueErrors)
	}
	if snap.DequeueErrors != 0 {
		t.Errorf("Expected 0 dequeue errors, got %d", snap.DequeueErrors)
	}

	// Check error rate
	expectedErrorRate := float64(1) / float64(3) * 100.0 // 1 error out of 3 ops
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsStreamCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordStream(true, true)
	m.RecordStream(false, true)
	m.RecordStream(true, false)

	snap := m.Snapshot()
	if snap.StreamOns != 2 {
		t.Errorf("Expected 2 stream-ons, got %d", snap.StreamOns)
	}
	if snap.StreamOffs != 1 {
		t.Errorf("Expected 1 stream-off, got %d", snap.StreamOffs)
	}
	if snap.StreamErrors != 1 {
		t.Errorf("Expected 1 stream error, got %d", snap.StreamErrors)
	}
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()

	// Record in-flight depths
	m.RecordInFlight(1)
	m.RecordInFlight(4)
	m.RecordInFlight(2)

	snap := m.Snapshot()

	// Check max in-flight
	if snap.MaxInFlight != 4 {
		t.Errorf("Expected max in-flight 4, got %d", snap.MaxInFlight)
	}

	// Check average in-flight
	expectedAvg := float64(1+4+2) / 3.0
	if snap.AvgInFlight < expectedAvg-0.1 || snap.AvgInFlight > expectedAvg+0.1 {
		t.Errorf("Expected avg in-flight %.1f, got %.1f", expectedAvg, snap.AvgInFlight)
	}
}

func TestMetricsWait(t *testing.T) {
	m := NewMetrics()

	// Record dequeues with known wait times
	m.RecordDequeue(1024, 1000000, true) // 1ms
	m.RecordDequeue(1024, 2000000, true) // 2ms

	snap := m.Snapshot()

	// Check average wait
	expectedAvgNs := uint64(1500000) // 1.5ms in nanoseconds
	if snap.AvgWaitNs != expectedAvgNs {
		t.Errorf("Expected avg wait %d ns, got %d ns", expectedAvgNs, snap.AvgWaitNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	// Sleep briefly to generate uptime
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	// Check that uptime is reasonable (should be at least 10ms)
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	// Stop metrics and check stopped uptime
	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	// Uptime should not have increased significantly after stop
	if snap2.UptimeNs > snap.UptimeNs+2*1000000 { // Allow 2ms tolerance
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	// Record some operations
	m.RecordQueue(1024, true)
	m.RecordDequeue(2048, 2000000, true)
	m.RecordInFlight(10)

	// Verify operations were recorded
	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	// Reset metrics
	m.Reset()

	// Verify reset worked
	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.QueuedBytes != 0 || snap.DequeuedBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d/%d", snap.QueuedBytes, snap.DequeuedBytes)
	}
	if snap.MaxInFlight != 0 {
		t.Errorf("Expected 0 max in-flight after reset, got %d", snap.MaxInFlight)
	}
}

func TestObserver(t *testing.T) {
	// Test NoOpObserver doesn't panic
	observer := &NoOpObserver{}
	observer.ObserveQueue(1024, true)
	observer.ObserveDequeue(1024, 1000000, true)
	observer.ObserveStream(true, true)
	observer.ObserveInFlight(10)

	// Test MetricsObserver forwards to metrics
	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveQueue(1024, true)
	metricsObserver.ObserveDequeue(2048, 2000000, true)

	snap := m.Snapshot()
	if snap.QueueOps != 1 {
		t.Errorf("Expected 1 queue op from observer, got %d", snap.QueueOps)
	}
	if snap.DequeueOps != 1 {
		t.Errorf("Expected 1 dequeue op from observer, got %d", snap.DequeueOps)
	}
	if snap.QueuedBytes != 1024 {
		t.Errorf("Expected 1024 queued bytes from observer, got %d", snap.QueuedBytes)
	}
	if snap.DequeuedBytes != 2048 {
		t.Errorf("Expected 2048 dequeued bytes from observer, got %d", snap.DequeuedBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	// Simulate a known time period
	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	// Record operations
	m.RecordQueue(1024, true)
	m.RecordDequeue(2048, 2000000, true)

	// Simulate 1 second has passed
	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	// Check op rates (should be 1 submission/sec, 1 dequeue/sec)
	if snap.QueueRate < 0.9 || snap.QueueRate > 1.1 {
		t.Errorf("Expected QueueRate ~1.0, got %.2f", snap.QueueRate)
	}
	if snap.DequeueRate < 0.9 || snap.DequeueRate > 1.1 {
		t.Errorf("Expected DequeueRate ~1.0, got %.2f", snap.DequeueRate)
	}

	// Check throughput (should be 2048 B/s dequeued)
	if snap.Throughput < 2000 || snap.Throughput > 2100 {
		t.Errorf("Expected Throughput ~2048, got %.2f", snap.Throughput)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// Record dequeues with various waits
	// 50 waits at 500us (50th percentile should be around 500us)
	// 49 waits at 5ms
	// 1 wait at 50ms (99th percentile)
	for i := 0; i < 50; i++ {
		m.RecordDequeue(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordDequeue(1024, 5_000_000, true) // 5ms
	}
	m.RecordDequeue(1024, 50_000_000, true) // 50ms (this is the P99)

	snap := m.Snapshot()

	if snap.DequeueOps != 100 {
		t.Errorf("Expected 100 dequeue ops, got %d", snap.DequeueOps)
	}

	// P50 should be around 500us-1ms range (the 50th percentile)
	// With cumulative buckets, 50 waits at 500us means bucket[3] (1ms) has 50
	if snap.WaitP50Ns < 100_000 || snap.WaitP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.WaitP50Ns)
	}

	// P99 should be in the 5ms-100ms range (99th percentile)
	if snap.WaitP99Ns < 5_000_000 || snap.WaitP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.WaitP99Ns)
	}

	// Verify histogram buckets are populated
	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.WaitHistogram); i++ {
		totalInBuckets += snap.WaitHistogram[i]
	}
	// Due to cumulative nature, total should be >= DequeueOps
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}

func TestMetricsObserverEndToEnd(t *testing.T) {
	metrics := NewMetrics()
	mock := NewMockDevice()
	q := NewQueue(mock, Capture, QueueConfig{Observer: NewMetricsObserver(metrics)})

	aq, _, err := q.Allocate(MemoryMMAP, 2, testFormat(Capture))
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := aq.StreamOn(); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		b, err := aq.GetBuffer()
		if err != nil {
			t.Fatalf("GetBuffer failed: %v", err)
		}
		if err := b.AutoFill(); err != nil {
			t.Fatalf("AutoFill failed: %v", err)
		}
	}
	if err := mock.CompleteBuffer(Capture, 0, 1024); err != nil {
		t.Fatalf("CompleteBuffer failed: %v", err)
	}
	if _, err := aq.Dequeue(); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if _, err := aq.StreamOff(); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}

	snap := metrics.Snapshot()
	if snap.QueueOps != 2 {
		t.Errorf("Expected 2 queue ops, got %d", snap.QueueOps)
	}
	if snap.DequeueOps != 1 {
		t.Errorf("Expected 1 dequeue op, got %d", snap.DequeueOps)
	}
	if snap.DequeuedBytes != 1024 {
		t.Errorf("Expected 1024 dequeued bytes, got %d", snap.DequeuedBytes)
	}
	if snap.StreamOns != 1 || snap.StreamOffs != 1 {
		t.Errorf("Expected 1 stream-on and 1 stream-off, got %d/%d", snap.StreamOns, snap.StreamOffs)
	}
	if snap.MaxInFlight != 2 {
		t.Errorf("Expected max in-flight 2, got %d", snap.MaxInFlight)
	}
	if snap.ErrorRate != 0 {
		t.Errorf("Expected 0%% error rate, got %.1f%%", snap.ErrorRate)
	}
}
