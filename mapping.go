package v4l2q

import "fmt"

// MappedBuffer is one driver-owned buffer mapped into the process address
// space, one mapping per plane. Close unmaps everything; plane slices are
// invalid afterwards.
type MappedBuffer struct {
	index  uint32
	planes [][]byte
	mapper Mapper
	closed bool
}

// MapBuffer maps every plane of one driver-owned buffer into the caller's
// address space. Only meaningful on mapped-memory pools; transports that
// cannot map memory (simulated devices) report an unsupported operation.
//
// Mappings stay valid across queuing and dequeuing of the buffer. Reading
// a mapped capture plane is only well-defined between its dequeue and its
// next submission.
func (aq *AllocatedQueue) MapBuffer(index uint32) (*MappedBuffer, error) {
	if verr := aq.ensureLive("MapBuffer"); verr != nil {
		return nil, verr
	}
	if aq.memory != MemoryMMAP {
		return nil, NewBufferError("MapBuffer", aq.Type(), int(index), ErrCodeInvalidParameters,
			fmt.Sprintf("pool memory is %s, mapping needs %s", aq.memory, MemoryMMAP))
	}
	if index >= aq.count {
		return nil, NewBufferError("MapBuffer", aq.Type(), int(index), ErrCodeInvalidParameters,
			fmt.Sprintf("index %d out of range, pool has %d buffers", index, aq.count))
	}
	mapper, ok := aq.queue.transport.(Mapper)
	if !ok {
		return nil, NewBufferError("MapBuffer", aq.Type(), int(index), ErrCodeUnsupported,
			"transport cannot map buffer memory")
	}

	infos, err := mapper.QueryBuffer(aq.Type(), aq.memory, index)
	if err != nil {
		return nil, wrapErrno("QUERYBUF", aq.Type(), int(index), err)
	}

	mb := &MappedBuffer{index: index, mapper: mapper}
	for _, info := range infos {
		data, err := mapper.MapPlane(info.Offset, info.Length)
		if err != nil {
			mb.Close()
			return nil, wrapErrno("mmap", aq.Type(), int(index), err)
		}
		mb.planes = append(mb.planes, data)
	}
	return mb, nil
}

// Index returns the buffer index these mappings belong to
func (m *MappedBuffer) Index() uint32 {
	return m.index
}

// NumPlanes returns how many planes are mapped
func (m *MappedBuffer) NumPlanes() int {
	return len(m.planes)
}

// Plane returns the mapped memory of one plane, nil if out of range. The
// slice stays valid until Close.
func (m *MappedBuffer) Plane(i int) []byte {
	if i < 0 || i >= len(m.planes) {
		return nil
	}
	return m.planes[i]
}

// Close unmaps every plane. Calling it twice is a no-op.
func (m *MappedBuffer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var firstErr error
	for _, p := range m.planes {
		if p == nil {
			continue
		}
		if err := m.mapper.UnmapPlane(p); err != nil && firstErr == nil {
			firstErr = WrapError("munmap", err)
		}
	}
	m.planes = nil
	return firstErr
}
