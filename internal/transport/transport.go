//go:build linux && (amd64 || arm64)

// Package transport translates buffer-queue operations into V4L2 ioctl
// requests and decodes the kernel's answers. Every function builds its
// request structure zero-initialized except the fields it explicitly sets,
// issues a single system call, and hands failures back as the raw errno;
// classifying errnos is the caller's job, so a simulated transport and the
// real one fail identically.
package transport

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mdella/go-v4l2q/internal/uapi"
)

// ioctlFn issues one ioctl on fd. A variable so tests can capture and
// populate request structures without a device node.
var ioctlFn = func(fd int, req uintptr, arg unsafe.Pointer) syscall.Errno {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	return errno
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		errno := ioctlFn(fd, req, arg)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}

// QueuePlane carries the caller-controlled per-plane fields of a QBUF
// request. UserPtr and Length stay zero for driver-owned (mapped) memory.
type QueuePlane struct {
	BytesUsed  uint32
	DataOffset uint32
	UserPtr    uintptr
	Length     uint32
}

// PlaneLayout describes one plane of an allocated buffer as reported by
// VIDIOC_QUERYBUF: its length and, for mapped memory, its mmap offset.
type PlaneLayout struct {
	Length uint32
	Offset uint32
}

// DequeuedPlane is the per-plane portion of a completed buffer.
type DequeuedPlane struct {
	Length     uint32
	BytesUsed  uint32
	DataOffset uint32
}

// Dequeued is the decoded result of a successful DQBUF.
type Dequeued struct {
	Index    uint32
	Flags    uint32
	Field    uint32
	Sequence uint32
	Planes   []DequeuedPlane
}

// ReqBufs issues VIDIOC_REQBUFS and returns the granted buffer count and
// the pool capability bits. Count 0 releases the pool.
func ReqBufs(fd int, bufType, memType, count uint32) (uint32, uint32, error) {
	req := uapi.RequestBuffers{
		Count:  count,
		Type:   bufType,
		Memory: memType,
	}
	if err := ioctl(fd, uapi.VIDIOC_REQBUFS, unsafe.Pointer(&req)); err != nil {
		return 0, 0, err
	}
	return req.Count, req.Capabilities, nil
}

// QueryBuf issues VIDIOC_QUERYBUF for one buffer index and returns the
// per-plane lengths and mmap offsets.
func QueryBuf(fd int, bufType, memType, index uint32) ([]PlaneLayout, error) {
	buf := uapi.Buffer{Index: index, Type: bufType, Memory: memType}
	if uapi.IsMultiPlanar(bufType) {
		arr := getPlaneArray()
		defer putPlaneArray(arr)
		buf.Length = uapi.VIDEO_MAX_PLANES
		buf.SetPlanes(&arr[0])
		if err := ioctl(fd, uapi.VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
			return nil, err
		}
		runtime.KeepAlive(arr)
		n := int(buf.Length)
		if n > len(arr) {
			n = len(arr)
		}
		out := make([]PlaneLayout, n)
		for i := 0; i < n; i++ {
			out[i] = PlaneLayout{Length: arr[i].Length, Offset: arr[i].MemOffset()}
		}
		return out, nil
	}
	if err := ioctl(fd, uapi.VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
		return nil, err
	}
	return []PlaneLayout{{Length: buf.Length, Offset: buf.Offset()}}, nil
}

// prepareQBuf populates a zeroed v4l2_buffer (and, for multi-planar types,
// the scratch plane array) for a QBUF request.
func prepareQBuf(buf *uapi.Buffer, bufType, memType, index uint32, planes []QueuePlane, arr *[uapi.VIDEO_MAX_PLANES]uapi.Plane) {
	buf.Index = index
	buf.Type = bufType
	buf.Memory = memType
	if uapi.IsMultiPlanar(bufType) {
		for i, p := range planes {
			arr[i].BytesUsed = p.BytesUsed
			arr[i].DataOffset = p.DataOffset
			if p.UserPtr != 0 {
				arr[i].SetUserPtr(p.UserPtr)
				arr[i].Length = p.Length
			}
		}
		buf.Length = uint32(len(planes))
		buf.SetPlanes(&arr[0])
		return
	}
	if len(planes) > 0 {
		buf.BytesUsed = planes[0].BytesUsed
		if planes[0].UserPtr != 0 {
			buf.SetUserPtr(planes[0].UserPtr)
			buf.Length = planes[0].Length
		}
	}
}

// QBuf issues VIDIOC_QBUF for one prepared buffer. The caller is
// responsible for keeping any user-pointer memory referenced by planes
// alive until the buffer is dequeued.
func QBuf(fd int, bufType, memType, index uint32, planes []QueuePlane) error {
	var buf uapi.Buffer
	if uapi.IsMultiPlanar(bufType) {
		arr := getPlaneArray()
		defer putPlaneArray(arr)
		prepareQBuf(&buf, bufType, memType, index, planes, arr)
		err := ioctl(fd, uapi.VIDIOC_QBUF, unsafe.Pointer(&buf))
		runtime.KeepAlive(arr)
		return err
	}
	prepareQBuf(&buf, bufType, memType, index, planes, nil)
	return ioctl(fd, uapi.VIDIOC_QBUF, unsafe.Pointer(&buf))
}

// decodeDequeued extracts the typed result from a completed DQBUF request.
func decodeDequeued(buf *uapi.Buffer, arr *[uapi.VIDEO_MAX_PLANES]uapi.Plane) Dequeued {
	d := Dequeued{
		Index:    buf.Index,
		Flags:    buf.Flags,
		Field:    buf.Field,
		Sequence: buf.Sequence,
	}
	if uapi.IsMultiPlanar(buf.Type) {
		n := int(buf.Length)
		if n > len(arr) {
			n = len(arr)
		}
		d.Planes = make([]DequeuedPlane, n)
		for i := 0; i < n; i++ {
			d.Planes[i] = DequeuedPlane{
				Length:     arr[i].Length,
				BytesUsed:  arr[i].BytesUsed,
				DataOffset: arr[i].DataOffset,
			}
		}
		return d
	}
	d.Planes = []DequeuedPlane{{Length: buf.Length, BytesUsed: buf.BytesUsed}}
	return d
}

// DQBuf issues VIDIOC_DQBUF and decodes the completed buffer. Blocks until
// the device finishes a buffer unless the fd is in non-blocking mode, in
// which case EAGAIN comes back when nothing is ready.
func DQBuf(fd int, bufType, memType uint32) (Dequeued, error) {
	buf := uapi.Buffer{Type: bufType, Memory: memType}
	if uapi.IsMultiPlanar(bufType) {
		arr := getPlaneArray()
		defer putPlaneArray(arr)
		buf.Length = uapi.VIDEO_MAX_PLANES
		buf.SetPlanes(&arr[0])
		if err := ioctl(fd, uapi.VIDIOC_DQBUF, unsafe.Pointer(&buf)); err != nil {
			return Dequeued{}, err
		}
		runtime.KeepAlive(arr)
		return decodeDequeued(&buf, arr), nil
	}
	if err := ioctl(fd, uapi.VIDIOC_DQBUF, unsafe.Pointer(&buf)); err != nil {
		return Dequeued{}, err
	}
	return decodeDequeued(&buf, nil), nil
}

// StreamOn issues VIDIOC_STREAMON for one queue type.
func StreamOn(fd int, bufType uint32) error {
	arg := int32(bufType)
	return ioctl(fd, uapi.VIDIOC_STREAMON, unsafe.Pointer(&arg))
}

// StreamOff issues VIDIOC_STREAMOFF for one queue type.
func StreamOff(fd int, bufType uint32) error {
	arg := int32(bufType)
	return ioctl(fd, uapi.VIDIOC_STREAMOFF, unsafe.Pointer(&arg))
}

// QueryCap issues VIDIOC_QUERYCAP.
func QueryCap(fd int) (uapi.Capability, error) {
	var caps uapi.Capability
	if err := ioctl(fd, uapi.VIDIOC_QUERYCAP, unsafe.Pointer(&caps)); err != nil {
		return uapi.Capability{}, err
	}
	return caps, nil
}

// GFmt issues VIDIOC_G_FMT for one queue type.
func GFmt(fd int, bufType uint32) (uapi.Format, error) {
	f := uapi.Format{Type: bufType}
	if err := ioctl(fd, uapi.VIDIOC_G_FMT, unsafe.Pointer(&f)); err != nil {
		return uapi.Format{}, err
	}
	return f, nil
}

// SFmt issues VIDIOC_S_FMT. The kernel adjusts f in place to the nearest
// configuration the driver supports.
func SFmt(fd int, f *uapi.Format) error {
	return ioctl(fd, uapi.VIDIOC_S_FMT, unsafe.Pointer(f))
}

// EnumFmt issues VIDIOC_ENUM_FMT for one (type, index) pair. EINVAL marks
// the end of the enumeration.
func EnumFmt(fd int, bufType, index uint32) (uapi.FmtDesc, error) {
	desc := uapi.FmtDesc{Index: index, Type: bufType}
	if err := ioctl(fd, uapi.VIDIOC_ENUM_FMT, unsafe.Pointer(&desc)); err != nil {
		return uapi.FmtDesc{}, err
	}
	return desc, nil
}
