// Package v4l2q provides a state-safe buffer queue API for V4L2 streaming I/O
package v4l2q

import (
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/mdella/go-v4l2q/internal/logging"
	"github.com/mdella/go-v4l2q/internal/uapi"
)

// Logger is the minimal logging surface queue operations write to.
// *logging.Logger satisfies it, as does any printf-style logger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// QueueConfig carries optional queue construction settings. Zero values are
// usable defaults.
type QueueConfig struct {
	// Logger receives queue operation logs (default: package logger)
	Logger Logger

	// Observer receives per-operation callbacks (default: NoOpObserver)
	Observer Observer
}

// Queue is a device queue with no buffers allocated. In this state the only
// kernel-affecting operation is Allocate; queuing, dequeuing and streaming
// are reachable only through the AllocatedQueue it returns, so driving an
// unallocated pool is unrepresentable rather than merely checked.
type Queue struct {
	transport Transport
	queueType QueueType
	logger    Logger
	observer  Observer

	mu        sync.Mutex
	allocated bool
}

// NewQueue creates a queue handle for one direction of a device.
func NewQueue(t Transport, queueType QueueType, cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	return &Queue{
		transport: t,
		queueType: queueType,
		logger:    logger,
		observer:  observer,
	}
}

// Type returns the queue's direction and planarity tag
func (q *Queue) Type() QueueType {
	return q.queueType
}

// BufferCapabilities reports which buffer features the driver supports on
// one queue, from the capability bits REQBUFS returns since kernel 5.0.
// Zero on older kernels.
type BufferCapabilities uint32

func (c BufferCapabilities) SupportsMMAP() bool {
	return c&uapi.V4L2_BUF_CAP_SUPPORTS_MMAP != 0
}

func (c BufferCapabilities) SupportsUserPtr() bool {
	return c&uapi.V4L2_BUF_CAP_SUPPORTS_USERPTR != 0
}

func (c BufferCapabilities) SupportsDMABuf() bool {
	return c&uapi.V4L2_BUF_CAP_SUPPORTS_DMABUF != 0
}

func (c BufferCapabilities) SupportsRequests() bool {
	return c&uapi.V4L2_BUF_CAP_SUPPORTS_REQUESTS != 0
}

func (c BufferCapabilities) SupportsOrphanedBufs() bool {
	return c&uapi.V4L2_BUF_CAP_SUPPORTS_ORPHANED_BUFS != 0
}

// ProbeCapabilities issues a zero-count REQBUFS to learn the queue's buffer
// capabilities without allocating anything. Legal only while no buffers are
// allocated; a zero-count request against a live pool would release it.
func (q *Queue) ProbeCapabilities(memory MemoryType) (BufferCapabilities, error) {
	q.mu.Lock()
	if q.allocated {
		q.mu.Unlock()
		return 0, NewQueueError("ProbeCapabilities", q.queueType, ErrCodeAlreadyAllocated,
			"cannot probe while buffers are allocated")
	}
	q.mu.Unlock()

	res, err := q.transport.RequestBuffers(q.queueType, memory, 0)
	if err != nil {
		return 0, wrapErrno("REQBUFS", q.queueType, -1, err)
	}
	return BufferCapabilities(res.Capabilities), nil
}

// Allocate requests count buffers of the given memory type, sized for the
// given format. The driver may grant a different count; the granted count
// is returned and fixes the pool size until Deallocate. The format's plane
// count becomes the exact number of planes every queued buffer must carry.
//
// Count 0 is a no-op: it returns (nil, 0, nil) and the queue stays
// unallocated. Use ProbeCapabilities for the zero-count probe idiom.
func (q *Queue) Allocate(memory MemoryType, count uint32, format Format) (*AllocatedQueue, uint32, error) {
	if count == 0 {
		return nil, 0, nil
	}
	if memory != MemoryMMAP && memory != MemoryUserPtr {
		return nil, 0, NewQueueError("Allocate", q.queueType, ErrCodeUnsupported,
			fmt.Sprintf("memory type %s is not implemented", memory))
	}
	if err := q.checkFormat(format); err != nil {
		return nil, 0, err
	}

	q.mu.Lock()
	if q.allocated {
		q.mu.Unlock()
		return nil, 0, NewQueueError("Allocate", q.queueType, ErrCodeAlreadyAllocated,
			"queue already has buffers allocated")
	}
	// Claim the allocated state before the kernel call so a concurrent
	// Allocate fails fast instead of racing REQBUFS.
	q.allocated = true
	q.mu.Unlock()

	res, err := q.transport.RequestBuffers(q.queueType, memory, count)
	if err != nil {
		q.setAllocated(false)
		return nil, 0, wrapErrno("REQBUFS", q.queueType, -1, err)
	}
	if res.Count == 0 {
		q.setAllocated(false)
		return nil, 0, NewQueueError("REQBUFS", q.queueType, ErrCodeDeviceRejected,
			"driver granted zero buffers")
	}

	q.logger.Debugf("allocated %d %s buffers on %s queue", res.Count, memory, q.queueType)

	aq := &AllocatedQueue{
		queue:          q,
		memory:         memory,
		count:          res.Count,
		format:         format,
		expectedPlanes: format.NumPlanes(),
		caps:           BufferCapabilities(res.Capabilities),
		tracker:        newStateTracker(res.Count),
		logger:         q.logger,
		observer:       q.observer,
	}
	return aq, res.Count, nil
}

func (q *Queue) checkFormat(format Format) *Error {
	n := format.NumPlanes()
	if n == 0 {
		return NewQueueError("Allocate", q.queueType, ErrCodeInvalidParameters,
			"format has no planes")
	}
	if n > MaxPlanes {
		return NewQueueError("Allocate", q.queueType, ErrCodeInvalidParameters,
			fmt.Sprintf("format has %d planes, kernel maximum is %d", n, MaxPlanes))
	}
	if !q.queueType.IsMultiPlanar() && n != 1 {
		return NewQueueError("Allocate", q.queueType, ErrCodeInvalidParameters,
			fmt.Sprintf("single-planar queue cannot carry %d planes", n))
	}
	return nil
}

func (q *Queue) setAllocated(v bool) {
	q.mu.Lock()
	q.allocated = v
	q.mu.Unlock()
}

// wrapErrno classifies a transport failure. Transports return raw errnos;
// anything else is wrapped with the queue context attached.
func wrapErrno(op string, queue QueueType, index int, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return wrapDeviceError(op, queue, index, errno)
	}
	e := WrapError(op, err)
	e.Queue = queue
	e.Index = index
	return e
}

// AllocatedQueue is a device queue holding a fixed pool of buffers. It owns
// the per-buffer state table and is the only way to queue, dequeue, stream
// and deallocate. Safe for concurrent use by a submitting and a dequeuing
// goroutine; no kernel call ever runs while the state table is locked.
type AllocatedQueue struct {
	queue          *Queue
	memory         MemoryType
	count          uint32
	format         Format
	expectedPlanes int
	caps           BufferCapabilities
	tracker        *stateTracker
	logger         Logger
	observer       Observer

	mu        sync.Mutex
	streaming bool
	released  bool
}

// Type returns the queue's direction and planarity tag
func (aq *AllocatedQueue) Type() QueueType {
	return aq.queue.queueType
}

// Memory returns the pool's backing-storage strategy
func (aq *AllocatedQueue) Memory() MemoryType {
	return aq.memory
}

// Count returns the number of buffers the driver granted
func (aq *AllocatedQueue) Count() uint32 {
	return aq.count
}

// Format returns the format the pool was sized for
func (aq *AllocatedQueue) Format() Format {
	return aq.format
}

// Capabilities returns the buffer capability bits reported at allocation
func (aq *AllocatedQueue) Capabilities() BufferCapabilities {
	return aq.caps
}

// QueuedCount returns the number of buffers currently in flight
func (aq *AllocatedQueue) QueuedCount() int {
	return aq.tracker.countQueued()
}

// IsQueued reports whether one buffer index is currently in flight
func (aq *AllocatedQueue) IsQueued(index uint32) bool {
	return aq.tracker.isQueued(index)
}

// Streaming reports whether StreamOn has succeeded without a later StreamOff
func (aq *AllocatedQueue) Streaming() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.streaming
}

func (aq *AllocatedQueue) ensureLive(op string) *Error {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if aq.released {
		return NewQueueError(op, aq.queue.queueType, ErrCodeNotAllocated,
			"queue was deallocated")
	}
	return nil
}

// GetBuffer returns a Builder bound to the lowest-numbered free buffer.
// The index stays logically free until the builder submits; it is merely
// reserved so no second builder can bind it. Abandoning the builder lifts
// the reservation.
func (aq *AllocatedQueue) GetBuffer() (*Builder, error) {
	if verr := aq.ensureLive("GetBuffer"); verr != nil {
		return nil, verr
	}
	index, ok := aq.tracker.claimLowest()
	if !ok {
		return nil, NewQueueError("GetBuffer", aq.Type(), ErrCodeNoFreeBuffer,
			fmt.Sprintf("all %d buffers are queued or reserved", aq.count))
	}
	return newBuilder(aq, index), nil
}

// GetBufferAt returns a Builder bound to a specific buffer index.
func (aq *AllocatedQueue) GetBufferAt(index uint32) (*Builder, error) {
	if verr := aq.ensureLive("GetBufferAt"); verr != nil {
		return nil, verr
	}
	if index >= aq.count {
		return nil, NewBufferError("GetBufferAt", aq.Type(), int(index), ErrCodeInvalidParameters,
			fmt.Sprintf("index %d out of range, pool has %d buffers", index, aq.count))
	}
	if !aq.tracker.claim(index) {
		return nil, NewBufferError("GetBufferAt", aq.Type(), int(index), ErrCodeNoFreeBuffer,
			"buffer is queued or reserved")
	}
	return newBuilder(aq, index), nil
}

// StreamOn starts streaming. Queued buffers begin completing; on capture
// queues the device starts filling them.
func (aq *AllocatedQueue) StreamOn() error {
	if verr := aq.ensureLive("StreamOn"); verr != nil {
		return verr
	}
	if err := aq.queue.transport.StreamOn(aq.Type()); err != nil {
		aq.observer.ObserveStream(true, false)
		return wrapErrno("STREAMON", aq.Type(), -1, err)
	}
	aq.mu.Lock()
	aq.streaming = true
	aq.mu.Unlock()
	aq.observer.ObserveStream(true, true)
	aq.logger.Debugf("streaming on (%s)", aq.Type())
	return nil
}

// CanceledBuffer pairs one buffer index with the plane handles it held when
// streaming stopped.
type CanceledBuffer struct {
	Index   uint32
	Handles []PlaneHandle
}

// StreamOff stops streaming. The kernel implicitly removes every queued
// buffer from the device, so the state table is swept afterwards: every
// in-flight index goes back to free and its plane handles are returned to
// the caller, each exactly once. Drivers guarantee no completions arrive
// after STREAMOFF, which is what makes the unconditional sweep safe.
func (aq *AllocatedQueue) StreamOff() ([]CanceledBuffer, error) {
	if verr := aq.ensureLive("StreamOff"); verr != nil {
		return nil, verr
	}
	if err := aq.queue.transport.StreamOff(aq.Type()); err != nil {
		aq.observer.ObserveStream(false, false)
		return nil, wrapErrno("STREAMOFF", aq.Type(), -1, err)
	}
	aq.mu.Lock()
	aq.streaming = false
	aq.mu.Unlock()

	canceled := aq.tracker.sweep()
	aq.observer.ObserveStream(false, true)
	aq.observer.ObserveInFlight(0)
	aq.logger.Debugf("streaming off (%s), %d buffers canceled", aq.Type(), len(canceled))
	return canceled, nil
}

// Deallocate releases the buffer pool and returns the queue to its
// unallocated state. Legal only with streaming stopped and nothing in
// flight. After it returns, every further use of the AllocatedQueue fails
// with a state error and no kernel call.
func (aq *AllocatedQueue) Deallocate() (*Queue, error) {
	if verr := aq.ensureLive("Deallocate"); verr != nil {
		return nil, verr
	}
	aq.mu.Lock()
	if aq.streaming {
		aq.mu.Unlock()
		return nil, NewQueueError("Deallocate", aq.Type(), ErrCodeBuffersInUse,
			"streaming must be stopped before deallocation")
	}
	aq.mu.Unlock()
	if n := aq.tracker.countQueued(); n > 0 {
		return nil, NewQueueError("Deallocate", aq.Type(), ErrCodeBuffersInUse,
			fmt.Sprintf("%d buffers still queued", n))
	}

	if _, err := aq.queue.transport.RequestBuffers(aq.Type(), aq.memory, 0); err != nil {
		return nil, wrapErrno("REQBUFS", aq.Type(), -1, err)
	}

	aq.mu.Lock()
	aq.released = true
	aq.mu.Unlock()
	aq.queue.setAllocated(false)
	aq.logger.Debugf("deallocated %d buffers (%s)", aq.count, aq.Type())
	return aq.queue, nil
}

// stateTracker is the shared table of per-buffer states. One slot per
// buffer index, each exactly free or queued, plus a reservation bit that
// serializes builder issuance. The queued counter always equals the number
// of queued slots. Callers never hold the lock across a kernel call.
type stateTracker struct {
	mu     sync.Mutex
	slots  []trackerSlot
	queued int
}

type trackerSlot struct {
	queued  bool
	claimed bool
	handles []PlaneHandle
}

func newStateTracker(count uint32) *stateTracker {
	return &stateTracker{slots: make([]trackerSlot, count)}
}

// claimLowest reserves the lowest index that is free and unreserved.
func (t *stateTracker) claimLowest() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		s := &t.slots[i]
		if !s.queued && !s.claimed {
			s.claimed = true
			return uint32(i), true
		}
	}
	return 0, false
}

// claim reserves a specific index if it is free and unreserved.
func (t *stateTracker) claim(index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(index) >= len(t.slots) {
		return false
	}
	s := &t.slots[index]
	if s.queued || s.claimed {
		return false
	}
	s.claimed = true
	return true
}

// markQueued commits one index to the queued state, handing it the plane
// handles to hold until dequeue, and lifts any reservation.
func (t *stateTracker) markQueued(index uint32, handles []PlaneHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[index]
	if !s.queued {
		s.queued = true
		t.queued++
	}
	s.handles = handles
	s.claimed = false
}

// markFree returns one index to the free state and hands back the plane
// handles it held, nil if it held none. No-op on an already-free index.
func (t *stateTracker) markFree(index uint32) []PlaneHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[index]
	handles := s.handles
	if s.queued {
		s.queued = false
		t.queued--
	}
	s.handles = nil
	s.claimed = false
	return handles
}

// sweep forces every queued slot back to free, collecting each slot's
// handles exactly once.
func (t *stateTracker) sweep() []CanceledBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []CanceledBuffer
	for i := range t.slots {
		s := &t.slots[i]
		if s.queued {
			out = append(out, CanceledBuffer{Index: uint32(i), Handles: s.handles})
			s.queued = false
			s.handles = nil
			t.queued--
		}
	}
	return out
}

func (t *stateTracker) countQueued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued
}

func (t *stateTracker) isQueued(index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(index) >= len(t.slots) {
		return false
	}
	return t.slots[index].queued
}
