package v4l2q

import "unsafe"

// PlaneHandle is an opaque reference to one plane's backing storage. The
// queue holds handles while their buffer is in flight and returns them on
// dequeue or stream-off. The interface is closed; the two implementations
// cover the supported memory strategies and each states its own ownership
// contract.
type PlaneHandle interface {
	// Memory reports which backing strategy produced this handle
	Memory() MemoryType

	// userptr returns the kernel handle value and byte length for
	// user-pointer planes, zero for driver-owned planes
	userptr() (addr uint64, length uint32)
}

// MMAPHandle references a plane of a driver-allocated buffer. It carries no
// caller data; the kernel identifies the plane by buffer index, and the
// driver keeps owning the memory across queuing and dequeuing.
type MMAPHandle struct{}

// Memory returns MemoryMMAP
func (MMAPHandle) Memory() MemoryType { return MemoryMMAP }

func (MMAPHandle) userptr() (uint64, uint32) { return 0, 0 }

// UserPtrHandle references caller-owned memory by raw address and length.
//
// The referenced slice must stay valid and unresized from handle creation
// until the buffer is dequeued or the queue is stopped. The handle retains
// the slice so the garbage collector keeps the storage alive, but the
// caller must not append to the slice or move its data elsewhere while the
// buffer is in flight. Violating this corrupts memory and cannot be
// detected at runtime.
//
// On dequeue or stream-off the exact slice supplied here comes back via
// Bytes, unchanged.
type UserPtrHandle struct {
	buf  []byte
	addr uint64
}

// NewUserPtrHandle wraps caller-owned memory in a queueable handle. See the
// UserPtrHandle lifetime contract before use.
func NewUserPtrHandle(buf []byte) UserPtrHandle {
	var addr uint64
	if len(buf) > 0 {
		addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	return UserPtrHandle{buf: buf, addr: addr}
}

// Bytes returns the backing slice supplied at handle creation
func (h UserPtrHandle) Bytes() []byte { return h.buf }

// Memory returns MemoryUserPtr
func (h UserPtrHandle) Memory() MemoryType { return MemoryUserPtr }

func (h UserPtrHandle) userptr() (uint64, uint32) { return h.addr, uint32(len(h.buf)) }
