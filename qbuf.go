package v4l2q

import "fmt"

// Plane describes one plane of a buffer about to be queued: its backing
// handle plus the payload metadata the kernel wants.
type Plane struct {
	Handle     PlaneHandle
	BytesUsed  uint32
	DataOffset uint32
}

// CapturePlane describes a plane the device will fill. Bytes-used starts
// at zero; the device reports the filled size at dequeue.
func CapturePlane(handle PlaneHandle) Plane {
	return Plane{Handle: handle}
}

// OutputPlane describes a caller-filled plane carrying bytesUsed bytes of
// payload for the device to consume.
func OutputPlane(handle PlaneHandle, bytesUsed uint32) Plane {
	return Plane{Handle: handle, BytesUsed: bytesUsed}
}

// WithDataOffset sets the byte offset where the payload begins within the
// plane. Only meaningful on multi-planar queues; the single-planar API has
// no field for it.
func (p Plane) WithDataOffset(offset uint32) Plane {
	p.DataOffset = offset
	return p
}

// SubmitError reports a failed submission. Handles carries every plane
// handle the builder had accumulated, in order, so nothing is silently
// dropped on the error path; Err is the underlying cause.
type SubmitError struct {
	Err     error
	Handles []PlaneHandle
}

func (e *SubmitError) Error() string {
	return e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// fuse is the single-use rollback guard bound to one buffer index. Firing
// it forces the index back to free; disarming it first makes firing a
// no-op. Firing an already-free index is itself a no-op, so the guard is
// safe on every exit path.
type fuse struct {
	tracker *stateTracker
	index   uint32
	done    bool
}

func (f *fuse) disarm() {
	f.done = true
}

func (f *fuse) fire() {
	if f.done {
		return
	}
	f.done = true
	f.tracker.markFree(f.index)
}

// Builder stages one buffer for submission. It is bound to one buffer
// index and the plane count the queue's format requires, and is consumed
// by Submit or Abandon; it is a short-lived, single-goroutine object.
//
// The bound index stays logically free until Submit succeeds. Every other
// outcome, including never calling Submit at all, leaves the index free.
type Builder struct {
	queue    *AllocatedQueue
	index    uint32
	expected int
	planes   []Plane
	guard    fuse
	consumed bool
}

func newBuilder(aq *AllocatedQueue, index uint32) *Builder {
	return &Builder{
		queue:    aq,
		index:    index,
		expected: aq.expectedPlanes,
		planes:   make([]Plane, 0, aq.expectedPlanes),
		guard:    fuse{tracker: aq.tracker, index: index},
	}
}

// Index returns the buffer index this builder is bound to
func (b *Builder) Index() uint32 {
	return b.index
}

// AddPlane appends one plane descriptor and returns the builder for
// chaining. Plane order must match the format's plane order.
func (b *Builder) AddPlane(p Plane) *Builder {
	b.planes = append(b.planes, p)
	return b
}

// Submit queues the staged buffer. The accumulated plane count must equal
// the format's plane count exactly; a mismatch fails before any kernel
// call. Every failure returns a *SubmitError carrying the accumulated
// handles and leaves the index free; on success the handles move into the
// state table until the buffer is dequeued or streaming stops.
func (b *Builder) Submit() error {
	if b.consumed {
		return NewBufferError("Submit", b.queue.Type(), int(b.index),
			ErrCodeInvalidParameters, "builder already consumed")
	}
	b.consumed = true

	if verr := b.queue.ensureLive("Submit"); verr != nil {
		b.guard.fire()
		return &SubmitError{Err: verr, Handles: b.handles()}
	}

	if err := b.checkPlanes(); err != nil {
		b.guard.fire()
		return &SubmitError{Err: err, Handles: b.handles()}
	}

	descs := make([]PlaneDesc, len(b.planes))
	var bytes uint64
	for i, p := range b.planes {
		addr, length := p.Handle.userptr()
		descs[i] = PlaneDesc{
			BytesUsed:  p.BytesUsed,
			DataOffset: p.DataOffset,
			UserPtr:    uintptr(addr),
			Length:     length,
		}
		bytes += uint64(p.BytesUsed)
	}

	aq := b.queue
	if err := aq.queue.transport.QueueBuffer(aq.Type(), aq.memory, b.index, descs); err != nil {
		b.guard.fire()
		aq.observer.ObserveQueue(bytes, false)
		return &SubmitError{
			Err:     wrapErrno("QBUF", aq.Type(), int(b.index), err),
			Handles: b.handles(),
		}
	}

	// The guard must be dead before the commit: once the kernel owns the
	// buffer, nothing may roll this index back to free except dequeue or
	// stream-off.
	b.guard.disarm()
	aq.tracker.markQueued(b.index, b.handles())
	aq.observer.ObserveQueue(bytes, true)
	aq.observer.ObserveInFlight(uint32(aq.tracker.countQueued()))
	aq.logger.Debugf("queued buffer %d (%s, %d planes)", b.index, aq.Type(), len(descs))
	return nil
}

// checkPlanes validates the accumulated planes against the format's plane
// count and the pool's memory strategy, all before any kernel call.
func (b *Builder) checkPlanes() *Error {
	if len(b.planes) < b.expected {
		return NewBufferError("Submit", b.queue.Type(), int(b.index), ErrCodeTooFewPlanes,
			fmt.Sprintf("format requires %d planes, got %d", b.expected, len(b.planes)))
	}
	if len(b.planes) > b.expected {
		return NewBufferError("Submit", b.queue.Type(), int(b.index), ErrCodeTooManyPlanes,
			fmt.Sprintf("format requires %d planes, got %d", b.expected, len(b.planes)))
	}
	for i, p := range b.planes {
		if p.Handle == nil {
			return NewBufferError("Submit", b.queue.Type(), int(b.index), ErrCodeInvalidParameters,
				fmt.Sprintf("plane %d has no handle", i))
		}
		if p.Handle.Memory() != b.queue.memory {
			return NewBufferError("Submit", b.queue.Type(), int(b.index), ErrCodeInvalidParameters,
				fmt.Sprintf("plane %d handle is %s, pool is %s", i, p.Handle.Memory(), b.queue.memory))
		}
	}
	return nil
}

func (b *Builder) handles() []PlaneHandle {
	hs := make([]PlaneHandle, len(b.planes))
	for i, p := range b.planes {
		hs[i] = p.Handle
	}
	return hs
}

// Abandon consumes the builder without submitting. The rollback guard
// fires, so the bound index is free afterwards no matter how many planes
// were attached. Safe to defer past a successful Submit, and calling it
// twice is a no-op.
func (b *Builder) Abandon() {
	b.consumed = true
	b.guard.fire()
}

// AutoFill tops the builder up to the expected plane count with empty
// mapped planes and submits. Capture-queue convenience for driver-owned
// memory, where the caller has nothing to describe per plane; it is a
// composition of AddPlane and Submit, not a separate path.
func (b *Builder) AutoFill() error {
	for len(b.planes) < b.expected {
		b.AddPlane(CapturePlane(MMAPHandle{}))
	}
	return b.Submit()
}
