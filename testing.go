package v4l2q

import (
	"fmt"
	"sort"
	"sync"
	"syscall"
)

// MockDevice provides an in-memory Transport and Mapper for testing.
// It simulates the driver side of the streaming I/O protocol: buffer
// pools per queue type, rejection of double-queued indexes, FIFO
// completion order, stream gating, and blocking or non-blocking
// dequeue. Tests drive completions with CompleteBuffer and inject
// failures with FailNext. All methods are safe for concurrent use.
type MockDevice struct {
	mu   sync.Mutex
	cond *sync.Cond

	pools       map[QueueType]*mockPool
	planeSizes  map[QueueType][]uint32
	nonBlocking bool
	grantLimit  uint32
	bufferCaps  uint32
	failNext    map[string]syscall.Errno
	calls       map[string]int
	activeMaps  int
}

// mockPool is the simulated kernel state for one buffer queue.
type mockPool struct {
	memory     MemoryType
	count      uint32
	planeSizes []uint32
	streaming  bool
	queued     map[uint32][]PlaneDesc
	done       []DequeueResult
	sequence   uint32
}

// NewMockDevice creates a mock device with both memory types accepted,
// grants capped at MaxBuffers, and blocking dequeue semantics.
func NewMockDevice() *MockDevice {
	m := &MockDevice{
		pools:      make(map[QueueType]*mockPool),
		planeSizes: make(map[QueueType][]uint32),
		grantLimit: MaxBuffers,
		failNext:   make(map[string]syscall.Errno),
		calls:      make(map[string]int),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetNonBlocking controls whether DequeueBuffer returns EAGAIN when no
// completion is pending instead of blocking.
func (m *MockDevice) SetNonBlocking(nb bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonBlocking = nb
}

// SetGrantLimit caps how many buffers RequestBuffers grants, simulating
// a driver that allocates fewer buffers than requested.
func (m *MockDevice) SetGrantLimit(n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantLimit = n
}

// SetBufferCaps sets the capability bits reported by RequestBuffers.
func (m *MockDevice) SetBufferCaps(caps uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferCaps = caps
}

// SetPlaneSizes fixes the per-plane byte sizes for pools subsequently
// allocated on the given queue. The default is a single 4096-byte plane.
func (m *MockDevice) SetPlaneSizes(queue QueueType, sizes ...uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planeSizes[queue] = append([]uint32(nil), sizes...)
}

// FailNext arms a one-shot errno for the named operation. The next call
// to that operation consumes the errno and returns it. Operation names
// are the ioctl names: "REQBUFS", "QBUF", "DQBUF", "STREAMON",
// "STREAMOFF", "QUERYBUF".
func (m *MockDevice) FailNext(op string, errno syscall.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = errno
}

// record bumps the call counter and consumes any armed failure. Caller
// holds m.mu.
func (m *MockDevice) record(op string) syscall.Errno {
	m.calls[op]++
	if errno, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return errno
	}
	return 0
}

func (m *MockDevice) poolPlaneSizes(queue QueueType) []uint32 {
	if sizes, ok := m.planeSizes[queue]; ok && len(sizes) > 0 {
		return append([]uint32(nil), sizes...)
	}
	return []uint32{4096}
}

// RequestBuffers simulates REQBUFS. A zero count releases the pool and
// fails with EBUSY while streaming; a non-zero count allocates a fresh
// pool, granting at most the configured limit.
func (m *MockDevice) RequestBuffers(queue QueueType, memory MemoryType, count uint32) (RequestBuffersResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("REQBUFS"); errno != 0 {
		return RequestBuffersResult{}, errno
	}

	pool := m.pools[queue]
	if count == 0 {
		if pool != nil {
			if pool.streaming {
				return RequestBuffersResult{}, syscall.EBUSY
			}
			delete(m.pools, queue)
			m.cond.Broadcast()
		}
		return RequestBuffersResult{Count: 0, Capabilities: m.bufferCaps}, nil
	}

	if pool != nil && (pool.streaming || len(pool.queued) > 0) {
		return RequestBuffersResult{}, syscall.EBUSY
	}

	granted := count
	if granted > m.grantLimit {
		granted = m.grantLimit
	}
	m.pools[queue] = &mockPool{
		memory:     memory,
		count:      granted,
		planeSizes: m.poolPlaneSizes(queue),
		queued:     make(map[uint32][]PlaneDesc),
	}
	return RequestBuffersResult{Count: granted, Capabilities: m.bufferCaps}, nil
}

// QueueBuffer simulates QBUF. Queuing an index the driver already holds
// fails with EINVAL, as does a bad index, a memory type mismatch, or a
// userptr plane without an address.
func (m *MockDevice) QueueBuffer(queue QueueType, memory MemoryType, index uint32, planes []PlaneDesc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("QBUF"); errno != 0 {
		return errno
	}

	pool := m.pools[queue]
	if pool == nil {
		return syscall.EINVAL
	}
	if memory != pool.memory {
		return syscall.EINVAL
	}
	if index >= pool.count {
		return syscall.EINVAL
	}
	if _, held := pool.queued[index]; held {
		return syscall.EINVAL
	}
	if memory == MemoryUserPtr {
		for _, p := range planes {
			if p.UserPtr == 0 || p.Length == 0 {
				return syscall.EINVAL
			}
		}
	}
	pool.queued[index] = append([]PlaneDesc(nil), planes...)
	return nil
}

// DequeueBuffer simulates DQBUF. It returns the oldest completion, or
// EAGAIN in non-blocking mode when none is pending. In blocking mode it
// waits until a completion arrives or the stream stops, in which case
// it returns EINVAL the way a woken kernel waiter does.
func (m *MockDevice) DequeueBuffer(queue QueueType, memory MemoryType) (DequeueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("DQBUF"); errno != 0 {
		return DequeueResult{}, errno
	}

	pool := m.pools[queue]
	if pool == nil {
		return DequeueResult{}, syscall.EINVAL
	}
	if memory != pool.memory {
		return DequeueResult{}, syscall.EINVAL
	}

	for len(pool.done) == 0 {
		if m.nonBlocking {
			return DequeueResult{}, syscall.EAGAIN
		}
		if !pool.streaming {
			return DequeueResult{}, syscall.EINVAL
		}
		m.cond.Wait()
		pool = m.pools[queue]
		if pool == nil {
			return DequeueResult{}, syscall.EINVAL
		}
	}

	res := pool.done[0]
	pool.done = pool.done[1:]
	return res, nil
}

// StreamOn simulates STREAMON. It fails with EINVAL when no buffers
// have been requested and is otherwise idempotent.
func (m *MockDevice) StreamOn(queue QueueType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("STREAMON"); errno != 0 {
		return errno
	}

	pool := m.pools[queue]
	if pool == nil {
		return syscall.EINVAL
	}
	pool.streaming = true
	return nil
}

// StreamOff simulates STREAMOFF. The driver reclaims every queued
// buffer and discards completions that were never dequeued, then wakes
// any blocked dequeuer.
func (m *MockDevice) StreamOff(queue QueueType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("STREAMOFF"); errno != 0 {
		return errno
	}

	pool := m.pools[queue]
	if pool == nil {
		return syscall.EINVAL
	}
	pool.streaming = false
	pool.queued = make(map[uint32][]PlaneDesc) // reclaimed by the driver
	pool.done = nil
	m.cond.Broadcast()
	return nil
}

// CompleteBuffer finishes a queued buffer: the index leaves the driver's
// queue and joins the FIFO of pending completions. bytesUsed values are
// applied per plane; planes beyond the provided values report their full
// length. Completing requires an active stream, matching when real
// hardware delivers buffers.
func (m *MockDevice) CompleteBuffer(queue QueueType, index uint32, bytesUsed ...uint32) error {
	return m.complete(queue, index, 0, bytesUsed...)
}

// CompleteBufferWithFlags is CompleteBuffer with explicit buffer flags
// on the result, for exercising error and last-buffer handling.
func (m *MockDevice) CompleteBufferWithFlags(queue QueueType, index uint32, flags BufferFlags, bytesUsed ...uint32) error {
	return m.complete(queue, index, flags, bytesUsed...)
}

func (m *MockDevice) complete(queue QueueType, index uint32, flags BufferFlags, bytesUsed ...uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := m.pools[queue]
	if pool == nil {
		return fmt.Errorf("complete: no buffers requested on %s queue", queue)
	}
	if !pool.streaming {
		return fmt.Errorf("complete: %s queue is not streaming", queue)
	}
	planes, held := pool.queued[index]
	if !held {
		return fmt.Errorf("complete: buffer %d is not queued", index)
	}
	delete(pool.queued, index)

	res := DequeueResult{
		Index:    index,
		Flags:    flags,
		Field:    uint32(FieldNone),
		Sequence: pool.sequence,
	}
	pool.sequence++

	nplanes := len(planes)
	if nplanes == 0 {
		nplanes = len(pool.planeSizes)
	}
	for i := 0; i < nplanes; i++ {
		length := uint32(0)
		var dataOffset uint32
		if i < len(planes) {
			length = planes[i].Length
			dataOffset = planes[i].DataOffset
		}
		if length == 0 && i < len(pool.planeSizes) {
			length = pool.planeSizes[i]
		}
		used := length
		if i < len(bytesUsed) {
			used = bytesUsed[i]
		}
		res.Planes = append(res.Planes, DequeuedPlaneInfo{
			Length:     length,
			BytesUsed:  used,
			DataOffset: dataOffset,
		})
	}

	pool.done = append(pool.done, res)
	m.cond.Broadcast()
	return nil
}

// QueryBuffer reports the simulated plane layout for a buffer so MMAP
// pools can be mapped against the mock.
func (m *MockDevice) QueryBuffer(queue QueueType, memory MemoryType, index uint32) ([]PlaneInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errno := m.record("QUERYBUF"); errno != 0 {
		return nil, errno
	}

	pool := m.pools[queue]
	if pool == nil {
		return nil, syscall.EINVAL
	}
	if index >= pool.count {
		return nil, syscall.EINVAL
	}

	infos := make([]PlaneInfo, len(pool.planeSizes))
	for i, size := range pool.planeSizes {
		infos[i] = PlaneInfo{
			Length: size,
			Offset: uint32(index)*uint32(MaxPlanes)*0x10000 + uint32(i)*0x10000,
		}
	}
	return infos, nil
}

// MapPlane hands out a fresh byte slice standing in for a kernel
// mapping and tracks it until UnmapPlane.
func (m *MockDevice) MapPlane(offset uint32, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["mmap"]++
	m.activeMaps++
	return make([]byte, length), nil
}

// UnmapPlane releases a mapping handed out by MapPlane.
func (m *MockDevice) UnmapPlane(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["munmap"]++
	m.activeMaps--
	return nil
}

// Testing utility methods

// CallCount reports how many times the named operation ran, including
// calls that consumed an armed failure.
func (m *MockDevice) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// HasPool reports whether buffers are currently requested on the queue.
func (m *MockDevice) HasPool(queue QueueType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[queue] != nil
}

// PoolCount reports the granted buffer count for the queue, or zero.
func (m *MockDevice) PoolCount(queue QueueType) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool := m.pools[queue]; pool != nil {
		return pool.count
	}
	return 0
}

// IsStreaming reports whether the queue's stream is on.
func (m *MockDevice) IsStreaming(queue QueueType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool := m.pools[queue]; pool != nil {
		return pool.streaming
	}
	return false
}

// QueuedIndices returns the indexes the driver currently holds on the
// queue, sorted ascending.
func (m *MockDevice) QueuedIndices(queue QueueType) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := m.pools[queue]
	if pool == nil {
		return nil
	}
	indices := make([]uint32, 0, len(pool.queued))
	for idx := range pool.queued {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// PendingCompletions reports how many completed buffers await dequeue.
func (m *MockDevice) PendingCompletions(queue QueueType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool := m.pools[queue]; pool != nil {
		return len(pool.done)
	}
	return 0
}

// ActiveMaps reports mappings handed out by MapPlane and not yet
// released, for catching mapping leaks.
func (m *MockDevice) ActiveMaps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMaps
}

// Reset clears all pools, counters, and armed failures.
func (m *MockDevice) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools = make(map[QueueType]*mockPool)
	m.failNext = make(map[string]syscall.Errno)
	m.calls = make(map[string]int)
	m.activeMaps = 0
	m.cond.Broadcast()
}

// Verify interface compliance
var (
	_ Transport = (*MockDevice)(nil)
	_ Mapper    = (*MockDevice)(nil)
)
