package v4l2q

import (
	"errors"
	"syscall"
	"testing"
)

func TestMockDeviceDoubleQueueRejected(t *testing.T) {
	mock := NewMockDevice()
	_, err := mock.RequestBuffers(Capture, MemoryMMAP, 2)
	if err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}

	if err := mock.QueueBuffer(Capture, MemoryMMAP, 0, nil); err != nil {
		t.Fatalf("first queue failed: %v", err)
	}

	// The driver already holds index 0; a second queue is refused the way
	// the kernel refuses it.
	err = mock.QueueBuffer(Capture, MemoryMMAP, 0, nil)
	if !errors.Is(err, syscall.EINVAL) {
		t.Errorf("double queue: got %v, want EINVAL", err)
	}
	if got := mock.QueuedIndices(Capture); len(got) != 1 || got[0] != 0 {
		t.Errorf("QueuedIndices = %v, want [0]", got)
	}
}

func TestMockDeviceQueueValidation(t *testing.T) {
	mock := NewMockDevice()

	// No pool yet
	if err := mock.QueueBuffer(Capture, MemoryMMAP, 0, nil); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("queue without pool: got %v, want EINVAL", err)
	}

	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 2); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}

	// Index beyond the pool
	if err := mock.QueueBuffer(Capture, MemoryMMAP, 2, nil); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("out-of-range index: got %v, want EINVAL", err)
	}

	// Memory type mismatch
	if err := mock.QueueBuffer(Capture, MemoryUserPtr, 0, nil); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("memory mismatch: got %v, want EINVAL", err)
	}
}

func TestMockDeviceUserPtrValidation(t *testing.T) {
	mock := NewMockDevice()
	if _, err := mock.RequestBuffers(Output, MemoryUserPtr, 2); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}

	// User-memory planes without an address are refused.
	err := mock.QueueBuffer(Output, MemoryUserPtr, 0, []PlaneDesc{{Length: 4096}})
	if !errors.Is(err, syscall.EINVAL) {
		t.Errorf("zero userptr: got %v, want EINVAL", err)
	}

	buf := make([]byte, 4096)
	h := NewUserPtrHandle(buf)
	addr, length := h.userptr()
	err = mock.QueueBuffer(Output, MemoryUserPtr, 0, []PlaneDesc{{UserPtr: uintptr(addr), Length: length}})
	if err != nil {
		t.Errorf("valid userptr queue failed: %v", err)
	}
}

func TestMockDeviceStreamOffReclaims(t *testing.T) {
	mock := NewMockDevice()
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 3); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	for i := uint32(0); i < 3; i++ {
		if err := mock.QueueBuffer(Capture, MemoryMMAP, i, nil); err != nil {
			t.Fatalf("queue %d failed: %v", i, err)
		}
	}
	if err := mock.StreamOn(Capture); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	if err := mock.CompleteBuffer(Capture, 1, 100); err != nil {
		t.Fatalf("CompleteBuffer failed: %v", err)
	}
	if mock.PendingCompletions(Capture) != 1 {
		t.Errorf("PendingCompletions = %d, want 1", mock.PendingCompletions(Capture))
	}

	if err := mock.StreamOff(Capture); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}

	// Stream-off reclaims queued buffers and drops undequeued completions.
	if got := mock.QueuedIndices(Capture); len(got) != 0 {
		t.Errorf("QueuedIndices after stream-off = %v, want empty", got)
	}
	if mock.PendingCompletions(Capture) != 0 {
		t.Errorf("PendingCompletions after stream-off = %d, want 0", mock.PendingCompletions(Capture))
	}
	if mock.IsStreaming(Capture) {
		t.Error("still streaming after StreamOff")
	}
}

func TestMockDeviceFailNextIsOneShot(t *testing.T) {
	mock := NewMockDevice()
	mock.FailNext("REQBUFS", syscall.ENOMEM)

	_, err := mock.RequestBuffers(Capture, MemoryMMAP, 2)
	if !errors.Is(err, syscall.ENOMEM) {
		t.Errorf("armed failure: got %v, want ENOMEM", err)
	}

	// The injection is consumed; the next call goes through.
	res, err := mock.RequestBuffers(Capture, MemoryMMAP, 2)
	if err != nil {
		t.Errorf("second call failed: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("granted = %d, want 2", res.Count)
	}
	if mock.CallCount("REQBUFS") != 2 {
		t.Errorf("CallCount = %d, want 2 (failed calls count too)", mock.CallCount("REQBUFS"))
	}
}

func TestMockDeviceCompleteErrors(t *testing.T) {
	mock := NewMockDevice()

	if err := mock.CompleteBuffer(Capture, 0); err == nil {
		t.Error("complete without a pool should fail")
	}

	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 2); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	if err := mock.QueueBuffer(Capture, MemoryMMAP, 0, nil); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	// Hardware only delivers buffers while the stream runs.
	if err := mock.CompleteBuffer(Capture, 0); err == nil {
		t.Error("complete without streaming should fail")
	}

	if err := mock.StreamOn(Capture); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}
	if err := mock.CompleteBuffer(Capture, 1); err == nil {
		t.Error("completing an unqueued index should fail")
	}
	if err := mock.CompleteBuffer(Capture, 0); err != nil {
		t.Errorf("valid complete failed: %v", err)
	}
}

func TestMockDeviceBlockedDequeueWakesOnStreamOff(t *testing.T) {
	mock := NewMockDevice()
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 1); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	if err := mock.QueueBuffer(Capture, MemoryMMAP, 0, nil); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
	if err := mock.StreamOn(Capture); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := mock.DequeueBuffer(Capture, MemoryMMAP)
		errCh <- err
	}()

	if err := mock.StreamOff(Capture); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}

	// The waiter wakes and fails the way a kernel waiter does.
	if err := <-errCh; !errors.Is(err, syscall.EINVAL) {
		t.Errorf("woken dequeue: got %v, want EINVAL", err)
	}
}

func TestMockDeviceReleaseWhileBusy(t *testing.T) {
	mock := NewMockDevice()
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 2); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	if err := mock.StreamOn(Capture); err != nil {
		t.Fatalf("StreamOn failed: %v", err)
	}

	// A zero-count request cannot release a streaming pool.
	_, err := mock.RequestBuffers(Capture, MemoryMMAP, 0)
	if !errors.Is(err, syscall.EBUSY) {
		t.Errorf("release while streaming: got %v, want EBUSY", err)
	}

	if err := mock.StreamOff(Capture); err != nil {
		t.Fatalf("StreamOff failed: %v", err)
	}
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 0); err != nil {
		t.Errorf("release after stream-off failed: %v", err)
	}
	if mock.HasPool(Capture) {
		t.Error("pool should be gone after zero-count request")
	}
}

func TestMockDeviceReset(t *testing.T) {
	mock := NewMockDevice()
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 2); err != nil {
		t.Fatalf("RequestBuffers failed: %v", err)
	}
	mock.FailNext("QBUF", syscall.EIO)

	mock.Reset()

	if mock.HasPool(Capture) {
		t.Error("pool should be gone after Reset")
	}
	if mock.CallCount("REQBUFS") != 0 {
		t.Error("call counts should be cleared after Reset")
	}

	// The armed failure is gone too.
	if _, err := mock.RequestBuffers(Capture, MemoryMMAP, 1); err != nil {
		t.Fatalf("RequestBuffers after Reset failed: %v", err)
	}
	if err := mock.QueueBuffer(Capture, MemoryMMAP, 0, nil); err != nil {
		t.Errorf("queue after Reset failed: %v", err)
	}
}
