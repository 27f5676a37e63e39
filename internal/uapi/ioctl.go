//go:build linux && (amd64 || arm64)

package uapi

import "unsafe"

// ioctl encoding constants (asm-generic/ioctl.h)
const (
	_IOC_WRITE = 1
	_IOC_READ  = 2

	_IOC_NRBITS   = 8
	_IOC_TYPEBITS = 8
	_IOC_SIZEBITS = 14

	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

// IoctlEncode creates an ioctl request number, matching the kernel _IOC macro
func IoctlEncode(dir, typ, nr, size uintptr) uintptr {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

func ior(typ, nr, size uintptr) uintptr  { return IoctlEncode(_IOC_READ, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr  { return IoctlEncode(_IOC_WRITE, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return IoctlEncode(_IOC_READ|_IOC_WRITE, typ, nr, size) }

// V4L2 ioctl request numbers. The argument sizes come straight from the
// struct definitions, so the codes track the ABIs this package supports.
var (
	VIDIOC_QUERYCAP  = ior('V', 0, unsafe.Sizeof(Capability{}))
	VIDIOC_ENUM_FMT  = iowr('V', 2, unsafe.Sizeof(FmtDesc{}))
	VIDIOC_G_FMT     = iowr('V', 4, unsafe.Sizeof(Format{}))
	VIDIOC_S_FMT     = iowr('V', 5, unsafe.Sizeof(Format{}))
	VIDIOC_REQBUFS   = iowr('V', 8, unsafe.Sizeof(RequestBuffers{}))
	VIDIOC_QUERYBUF  = iowr('V', 9, unsafe.Sizeof(Buffer{}))
	VIDIOC_QBUF      = iowr('V', 15, unsafe.Sizeof(Buffer{}))
	VIDIOC_DQBUF     = iowr('V', 17, unsafe.Sizeof(Buffer{}))
	VIDIOC_STREAMON  = iow('V', 18, 4) // int
	VIDIOC_STREAMOFF = iow('V', 19, 4) // int
)
