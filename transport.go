package v4l2q

// Transport carries buffer-queue operations to a device. The real
// implementation is Device; MockDevice stands in for tests. Implementations
// return raw syscall errnos on failure so the queue layer classifies
// simulated and real rejections identically.
type Transport interface {
	// RequestBuffers negotiates a buffer pool of the given count. Count 0
	// releases the pool. Returns the count the driver granted, which may
	// differ from the request.
	RequestBuffers(queue QueueType, memory MemoryType, count uint32) (RequestBuffersResult, error)

	// QueueBuffer submits one buffer for processing
	QueueBuffer(queue QueueType, memory MemoryType, index uint32, planes []PlaneDesc) error

	// DequeueBuffer retrieves one completed buffer, blocking until the
	// device finishes one unless the device is in non-blocking mode
	DequeueBuffer(queue QueueType, memory MemoryType) (DequeueResult, error)

	// StreamOn starts streaming on one queue
	StreamOn(queue QueueType) error

	// StreamOff stops streaming and implicitly dequeues every buffer the
	// driver still holds
	StreamOff(queue QueueType) error
}

// Mapper is implemented by transports that can expose driver-owned buffer
// memory to userspace. Device implements it; queue logic reaches it through
// a type assertion so simulated transports can skip it.
type Mapper interface {
	// QueryBuffer reports the length and mapping offset of each plane of
	// one allocated buffer
	QueryBuffer(queue QueueType, memory MemoryType, index uint32) ([]PlaneInfo, error)

	// MapPlane maps one plane into the caller's address space
	MapPlane(offset, length uint32) ([]byte, error)

	// UnmapPlane releases a mapping returned by MapPlane
	UnmapPlane(data []byte) error
}

// PlaneDesc carries the caller-controlled per-plane fields of a queue
// request. UserPtr and Length stay zero for driver-owned memory.
type PlaneDesc struct {
	BytesUsed  uint32
	DataOffset uint32
	UserPtr    uintptr
	Length     uint32
}

// PlaneInfo describes one plane of an allocated buffer: its byte length
// and, for mapped memory, the offset to hand to MapPlane.
type PlaneInfo struct {
	Length uint32
	Offset uint32
}

// RequestBuffersResult is the driver's answer to a pool negotiation.
type RequestBuffersResult struct {
	// Count is the number of buffers actually allocated
	Count uint32

	// Capabilities holds the pool capability bits drivers report since
	// kernel 5.0, zero on older kernels
	Capabilities uint32
}

// DequeueResult is the raw decoded outcome of one dequeue call.
type DequeueResult struct {
	Index    uint32
	Flags    BufferFlags
	Field    uint32
	Sequence uint32
	Planes   []DequeuedPlaneInfo
}

// DequeuedPlaneInfo is the per-plane portion of a completed buffer.
type DequeuedPlaneInfo struct {
	Length     uint32
	BytesUsed  uint32
	DataOffset uint32
}
