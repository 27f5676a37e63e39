package v4l2q

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFormat builds a 640x480 format matching the queue's planarity:
// packed YUYV for single-planar queues, two-plane NV12M otherwise.
func testFormat(queueType QueueType) Format {
	if queueType.IsMultiPlanar() {
		return Format{
			Type:        queueType,
			Width:       640,
			Height:      480,
			PixelFormat: PixFmtNV12M,
			Field:       FieldNone,
			Planes: []PlaneFormat{
				{SizeImage: 640 * 480, BytesPerLine: 640},
				{SizeImage: 640 * 480 / 2, BytesPerLine: 640},
			},
		}
	}
	return Format{
		Type:        queueType,
		Width:       640,
		Height:      480,
		PixelFormat: PixFmtYUYV,
		Field:       FieldNone,
		Planes:      []PlaneFormat{{SizeImage: 640 * 480 * 2, BytesPerLine: 640 * 2}},
	}
}

func mustAllocate(t *testing.T, mock *MockDevice, queueType QueueType, memory MemoryType, count uint32) *AllocatedQueue {
	t.Helper()
	q := NewQueue(mock, queueType, QueueConfig{})
	aq, granted, err := q.Allocate(memory, count, testFormat(queueType))
	require.NoError(t, err)
	require.Equal(t, count, granted)
	return aq
}

func TestAllocate(t *testing.T) {
	mock := NewMockDevice()
	mock.SetBufferCaps(0x1 | 0x2) // MMAP and USERPTR support bits

	q := NewQueue(mock, Capture, QueueConfig{})
	aq, granted, err := q.Allocate(MemoryMMAP, 4, testFormat(Capture))
	require.NoError(t, err)
	require.NotNil(t, aq)

	assert.Equal(t, uint32(4), granted)
	assert.Equal(t, uint32(4), aq.Count())
	assert.Equal(t, Capture, aq.Type())
	assert.Equal(t, MemoryMMAP, aq.Memory())
	assert.Equal(t, 1, aq.Format().NumPlanes())
	assert.True(t, aq.Capabilities().SupportsMMAP())
	assert.True(t, aq.Capabilities().SupportsUserPtr())
	assert.False(t, aq.Capabilities().SupportsDMABuf())
	assert.Equal(t, 1, mock.CallCount("REQBUFS"))
	assert.Equal(t, 0, aq.QueuedCount())
	assert.False(t, aq.Streaming())
}

func TestAllocateZeroCount(t *testing.T) {
	mock := NewMockDevice()
	q := NewQueue(mock, Capture, QueueConfig{})

	aq, granted, err := q.Allocate(MemoryMMAP, 0, testFormat(Capture))
	require.NoError(t, err)
	assert.Nil(t, aq)
	assert.Equal(t, uint32(0), granted)
	assert.Equal(t, 0, mock.CallCount("REQBUFS"), "zero count must not reach the device")

	// The queue is untouched and can still allocate.
	aq, granted, err = q.Allocate(MemoryMMAP, 2, testFormat(Capture))
	require.NoError(t, err)
	assert.NotNil(t, aq)
	assert.Equal(t, uint32(2), granted)
}

func TestAllocateTwice(t *testing.T) {
	mock := NewMockDevice()
	q := NewQueue(mock, Capture, QueueConfig{})

	_, _, err := q.Allocate(MemoryMMAP, 2, testFormat(Capture))
	require.NoError(t, err)

	_, _, err = q.Allocate(MemoryMMAP, 2, testFormat(Capture))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyAllocated))
	assert.Equal(t, 1, mock.CallCount("REQBUFS"), "second allocate must fail before the device")
}

func TestAllocateAfterDeallocate(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)

	q, err := aq.Deallocate()
	require.NoError(t, err)
	require.NotNil(t, q)

	aq2, granted, err := q.Allocate(MemoryUserPtr, 3, testFormat(Capture))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), granted)
	assert.Equal(t, MemoryUserPtr, aq2.Memory())
	assert.Equal(t, 3, mock.CallCount("REQBUFS"), "allocate, release, allocate")
}

func TestAllocateGrantClamped(t *testing.T) {
	mock := NewMockDevice()
	mock.SetGrantLimit(2)

	q := NewQueue(mock, Capture, QueueConfig{})
	aq, granted, err := q.Allocate(MemoryMMAP, 8, testFormat(Capture))
	require.NoError(t, err)

	assert.Equal(t, uint32(2), granted)
	assert.Equal(t, uint32(2), aq.Count())

	// The granted count, not the requested one, bounds the index space.
	_, err = aq.GetBufferAt(2)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))
}

func TestAllocateZeroGrant(t *testing.T) {
	mock := NewMockDevice()
	mock.SetGrantLimit(0)

	q := NewQueue(mock, Capture, QueueConfig{})
	_, _, err := q.Allocate(MemoryMMAP, 4, testFormat(Capture))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDeviceRejected))

	// The failed allocation must not leave the queue stuck allocated.
	mock.SetGrantLimit(MaxBuffers)
	_, granted, err := q.Allocate(MemoryMMAP, 4, testFormat(Capture))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), granted)
}

func TestAllocateDeviceFailure(t *testing.T) {
	mock := NewMockDevice()
	mock.FailNext("REQBUFS", syscall.EBUSY)

	q := NewQueue(mock, Capture, QueueConfig{})
	_, _, err := q.Allocate(MemoryMMAP, 4, testFormat(Capture))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDeviceRejected))
	assert.True(t, IsErrno(err, syscall.EBUSY))

	// Rejection rolls the queue back to unallocated.
	_, granted, err := q.Allocate(MemoryMMAP, 4, testFormat(Capture))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), granted)
}

func TestAllocateUnsupportedMemory(t *testing.T) {
	mock := NewMockDevice()
	q := NewQueue(mock, Capture, QueueConfig{})

	_, _, err := q.Allocate(MemoryDMABuf, 4, testFormat(Capture))
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeUnsupported))
	assert.Equal(t, 0, mock.CallCount("REQBUFS"))
}

func TestAllocateFormatValidation(t *testing.T) {
	tooMany := make([]PlaneFormat, MaxPlanes+1)
	for i := range tooMany {
		tooMany[i] = PlaneFormat{SizeImage: 4096}
	}

	tests := []struct {
		name      string
		queueType QueueType
		planes    []PlaneFormat
	}{
		{"no planes", Capture, nil},
		{"too many planes", CaptureMplane, tooMany},
		{"multi-plane format on single-planar queue", Capture, []PlaneFormat{
			{SizeImage: 4096}, {SizeImage: 2048},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockDevice()
			q := NewQueue(mock, tt.queueType, QueueConfig{})
			format := testFormat(tt.queueType)
			format.Planes = tt.planes

			_, _, err := q.Allocate(MemoryMMAP, 4, format)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeInvalidParameters))
			assert.Equal(t, 0, mock.CallCount("REQBUFS"), "format checks run before the device")
		})
	}
}

func TestProbeCapabilities(t *testing.T) {
	mock := NewMockDevice()
	mock.SetBufferCaps(0x1 | 0x10) // MMAP and ORPHANED_BUFS

	q := NewQueue(mock, Capture, QueueConfig{})
	caps, err := q.ProbeCapabilities(MemoryMMAP)
	require.NoError(t, err)
	assert.True(t, caps.SupportsMMAP())
	assert.True(t, caps.SupportsOrphanedBufs())
	assert.False(t, caps.SupportsRequests())
	assert.Equal(t, 1, mock.CallCount("REQBUFS"))

	// Probing a live pool would release it, so it is refused.
	_, _, err = q.Allocate(MemoryMMAP, 2, testFormat(Capture))
	require.NoError(t, err)
	_, err = q.ProbeCapabilities(MemoryMMAP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyAllocated))
	assert.Equal(t, 2, mock.CallCount("REQBUFS"))
}

func TestDeallocateWithBuffersQueued(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)

	b, err := aq.GetBuffer()
	require.NoError(t, err)
	require.NoError(t, b.AutoFill())

	_, err = aq.Deallocate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuffersInUse))

	// Stream-off reclaims the buffer, after which release is legal.
	require.NoError(t, aq.StreamOn())
	_, err = aq.StreamOff()
	require.NoError(t, err)
	_, err = aq.Deallocate()
	require.NoError(t, err)
	assert.False(t, mock.HasPool(Capture))
}

func TestDeallocateWhileStreaming(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)
	require.NoError(t, aq.StreamOn())

	_, err := aq.Deallocate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuffersInUse))

	_, err = aq.StreamOff()
	require.NoError(t, err)
	_, err = aq.Deallocate()
	require.NoError(t, err)
}

func TestDeallocatedQueueRefusesEverything(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)
	_, err := aq.Deallocate()
	require.NoError(t, err)

	before := mock.CallCount("REQBUFS") + mock.CallCount("QBUF") +
		mock.CallCount("DQBUF") + mock.CallCount("STREAMON") + mock.CallCount("STREAMOFF")

	_, err = aq.GetBuffer()
	assert.True(t, errors.Is(err, ErrNotAllocated))
	_, err = aq.GetBufferAt(0)
	assert.True(t, errors.Is(err, ErrNotAllocated))
	err = aq.StreamOn()
	assert.True(t, errors.Is(err, ErrNotAllocated))
	_, err = aq.StreamOff()
	assert.True(t, errors.Is(err, ErrNotAllocated))
	_, err = aq.Dequeue()
	assert.True(t, errors.Is(err, ErrNotAllocated))
	_, err = aq.MapBuffer(0)
	assert.True(t, errors.Is(err, ErrNotAllocated))
	_, err = aq.Deallocate()
	assert.True(t, errors.Is(err, ErrNotAllocated))

	after := mock.CallCount("REQBUFS") + mock.CallCount("QBUF") +
		mock.CallCount("DQBUF") + mock.CallCount("STREAMON") + mock.CallCount("STREAMOFF")
	assert.Equal(t, before, after, "a released queue must never reach the device")
}

func TestStreamOnOff(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)

	require.NoError(t, aq.StreamOn())
	assert.True(t, aq.Streaming())
	assert.True(t, mock.IsStreaming(Capture))

	canceled, err := aq.StreamOff()
	require.NoError(t, err)
	assert.Empty(t, canceled, "nothing was in flight")
	assert.False(t, aq.Streaming())
	assert.False(t, mock.IsStreaming(Capture))
}

func TestStreamOffReturnsEachHandleOnce(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Output, MemoryUserPtr, 3)

	frames := make([][]byte, 3)
	for i := range frames {
		frames[i] = make([]byte, 4096)
		b, err := aq.GetBuffer()
		require.NoError(t, err)
		require.NoError(t, b.AddPlane(OutputPlane(NewUserPtrHandle(frames[i]), 4096)).Submit())
	}
	require.NoError(t, aq.StreamOn())
	require.Equal(t, 3, aq.QueuedCount())

	canceled, err := aq.StreamOff()
	require.NoError(t, err)
	require.Len(t, canceled, 3)

	seen := make(map[uint32]bool)
	for _, cb := range canceled {
		assert.False(t, seen[cb.Index], "index %d returned twice", cb.Index)
		seen[cb.Index] = true
		require.Len(t, cb.Handles, 1)
		h, ok := cb.Handles[0].(UserPtrHandle)
		require.True(t, ok)
		got := h.Bytes()
		require.NotEmpty(t, got)
		assert.Same(t, &frames[cb.Index][0], &got[0], "handle must reference the original frame")
	}
	assert.Equal(t, 0, aq.QueuedCount())

	// A second stop cycle has nothing left to hand back.
	require.NoError(t, aq.StreamOn())
	canceled, err = aq.StreamOff()
	require.NoError(t, err)
	assert.Empty(t, canceled)
}

func TestStreamOnDeviceFailure(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, Capture, MemoryMMAP, 2)
	mock.FailNext("STREAMON", syscall.EIO)

	err := aq.StreamOn()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeDeviceRejected))
	assert.False(t, aq.Streaming())
}

func TestQueueTypePassedThrough(t *testing.T) {
	mock := NewMockDevice()
	aq := mustAllocate(t, mock, OutputMplane, MemoryUserPtr, 2)
	assert.Equal(t, OutputMplane, aq.Type())
	assert.True(t, mock.HasPool(OutputMplane))
	assert.False(t, mock.HasPool(Capture))
	assert.Equal(t, uint32(2), mock.PoolCount(OutputMplane))
}
