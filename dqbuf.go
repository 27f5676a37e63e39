package v4l2q

import (
	"fmt"
	"strings"
	"time"

	"github.com/mdella/go-v4l2q/internal/uapi"
)

// BufferFlags is the kernel's per-buffer flag word as returned on dequeue.
type BufferFlags uint32

const (
	FlagMapped   BufferFlags = uapi.V4L2_BUF_FLAG_MAPPED
	FlagQueued   BufferFlags = uapi.V4L2_BUF_FLAG_QUEUED
	FlagDone     BufferFlags = uapi.V4L2_BUF_FLAG_DONE
	FlagKeyFrame BufferFlags = uapi.V4L2_BUF_FLAG_KEYFRAME
	FlagPFrame   BufferFlags = uapi.V4L2_BUF_FLAG_PFRAME
	FlagBFrame   BufferFlags = uapi.V4L2_BUF_FLAG_BFRAME
	FlagError    BufferFlags = uapi.V4L2_BUF_FLAG_ERROR
	FlagTimecode BufferFlags = uapi.V4L2_BUF_FLAG_TIMECODE
	FlagPrepared BufferFlags = uapi.V4L2_BUF_FLAG_PREPARED
	FlagLast     BufferFlags = uapi.V4L2_BUF_FLAG_LAST
)

// Has reports whether every bit of flag is set
func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag == flag
}

// KeyFrame reports whether the payload is an intra-coded frame
func (f BufferFlags) KeyFrame() bool {
	return f.Has(FlagKeyFrame)
}

// Last reports the codec's end-of-stream marker
func (f BufferFlags) Last() bool {
	return f.Has(FlagLast)
}

var bufferFlagNames = []struct {
	flag BufferFlags
	name string
}{
	{FlagMapped, "mapped"},
	{FlagQueued, "queued"},
	{FlagDone, "done"},
	{FlagKeyFrame, "keyframe"},
	{FlagPFrame, "pframe"},
	{FlagBFrame, "bframe"},
	{FlagError, "error"},
	{FlagTimecode, "timecode"},
	{FlagPrepared, "prepared"},
	{FlagLast, "last"},
}

func (f BufferFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	rest := f
	for _, e := range bufferFlagNames {
		if rest&e.flag != 0 {
			parts = append(parts, e.name)
			rest &^= e.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// DequeuedPlane is the per-plane outcome of a completed buffer.
type DequeuedPlane struct {
	// Length is the plane's total capacity in bytes
	Length uint32

	// BytesUsed is how many bytes the device produced or consumed
	BytesUsed uint32

	// DataOffset is where the payload starts within the plane
	DataOffset uint32
}

// DequeuedBuffer is the read-only outcome of one dequeue: which buffer
// completed, what the device reported about it, and the plane handles held
// since queuing, returned to the caller here. It is a plain value with no
// reference back to the queue, safe to copy and to hand to other
// goroutines.
type DequeuedBuffer struct {
	Index    uint32
	Flags    BufferFlags
	Field    uint32
	Sequence uint32
	Planes   []DequeuedPlane
	Handles  []PlaneHandle
}

// BytesUsed sums the payload bytes across all planes
func (d *DequeuedBuffer) BytesUsed() uint32 {
	var n uint32
	for _, p := range d.Planes {
		n += p.BytesUsed
	}
	return n
}

// UserBytes returns the caller-owned slice behind one plane if the buffer
// was queued from user memory, nil for driver-owned planes. The slice is
// the exact value supplied at handle creation.
func (d *DequeuedBuffer) UserBytes(plane int) []byte {
	if plane < 0 || plane >= len(d.Handles) {
		return nil
	}
	if h, ok := d.Handles[plane].(UserPtrHandle); ok {
		return h.Bytes()
	}
	return nil
}

// Dequeue retrieves one completed buffer. It blocks until the device
// finishes a buffer unless the device was opened non-blocking, in which
// case nothing ready surfaces as a would-block error. With nothing in
// flight it fails immediately, before any kernel call, because the kernel
// would otherwise block forever.
//
// The returned buffer's index is free again on return and its plane
// handles travel on the result.
func (aq *AllocatedQueue) Dequeue() (*DequeuedBuffer, error) {
	if verr := aq.ensureLive("Dequeue"); verr != nil {
		return nil, verr
	}
	if aq.tracker.countQueued() == 0 {
		return nil, NewQueueError("Dequeue", aq.Type(), ErrCodeNoBuffersQueued,
			"nothing in flight, dequeue would never return")
	}

	start := time.Now()
	res, err := aq.queue.transport.DequeueBuffer(aq.Type(), aq.memory)
	wait := uint64(time.Since(start).Nanoseconds())
	if err != nil {
		aq.observer.ObserveDequeue(0, wait, false)
		return nil, wrapErrno("DQBUF", aq.Type(), -1, err)
	}

	handles := aq.tracker.markFree(res.Index)

	out := &DequeuedBuffer{
		Index:    res.Index,
		Flags:    res.Flags,
		Field:    res.Field,
		Sequence: res.Sequence,
		Planes:   make([]DequeuedPlane, len(res.Planes)),
		Handles:  handles,
	}
	var bytes uint64
	for i, p := range res.Planes {
		out.Planes[i] = DequeuedPlane{
			Length:     p.Length,
			BytesUsed:  p.BytesUsed,
			DataOffset: p.DataOffset,
		}
		bytes += uint64(p.BytesUsed)
	}

	aq.observer.ObserveDequeue(bytes, wait, true)
	aq.observer.ObserveInFlight(uint32(aq.tracker.countQueued()))
	aq.logger.Debugf("dequeued buffer %d (%s, seq %d, %d bytes, flags %s)",
		res.Index, aq.Type(), res.Sequence, bytes, res.Flags)
	return out, nil
}
