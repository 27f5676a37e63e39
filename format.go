package v4l2q

import (
	"fmt"

	"github.com/mdella/go-v4l2q/internal/uapi"
)

// QueueType identifies one device queue by direction and planarity
type QueueType uint32

const (
	// Capture receives frames from the device (cameras, decoder output)
	Capture QueueType = uapi.V4L2_BUF_TYPE_VIDEO_CAPTURE

	// Output sends frames to the device (displays, encoder input)
	Output QueueType = uapi.V4L2_BUF_TYPE_VIDEO_OUTPUT

	// CaptureMplane is the multi-planar variant of Capture
	CaptureMplane QueueType = uapi.V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE

	// OutputMplane is the multi-planar variant of Output
	OutputMplane QueueType = uapi.V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE
)

func (t QueueType) String() string {
	switch t {
	case Capture:
		return "capture"
	case Output:
		return "output"
	case CaptureMplane:
		return "capture-mplane"
	case OutputMplane:
		return "output-mplane"
	default:
		return fmt.Sprintf("queue(%d)", uint32(t))
	}
}

// IsMultiPlanar reports whether buffers on this queue carry a plane array
func (t QueueType) IsMultiPlanar() bool {
	return uapi.IsMultiPlanar(uint32(t))
}

// IsCapture reports whether the device fills buffer content on this queue
func (t QueueType) IsCapture() bool {
	return t == Capture || t == CaptureMplane
}

// IsOutput reports whether the caller fills buffer content on this queue
func (t QueueType) IsOutput() bool {
	return t == Output || t == OutputMplane
}

// MemoryType selects the backing-storage strategy for a queue's buffers
type MemoryType uint32

const (
	// MemoryMMAP buffers are allocated by the driver and mapped into
	// userspace on demand
	MemoryMMAP MemoryType = uapi.V4L2_MEMORY_MMAP

	// MemoryUserPtr buffers are backed by caller-allocated memory passed
	// by address and length
	MemoryUserPtr MemoryType = uapi.V4L2_MEMORY_USERPTR

	// MemoryDMABuf buffers are backed by imported DMA fds. No PlaneHandle
	// implementation exists for it yet; Allocate rejects it.
	MemoryDMABuf MemoryType = uapi.V4L2_MEMORY_DMABUF
)

func (m MemoryType) String() string {
	switch m {
	case MemoryMMAP:
		return "mmap"
	case MemoryUserPtr:
		return "userptr"
	case MemoryDMABuf:
		return "dmabuf"
	default:
		return fmt.Sprintf("memory(%d)", uint32(m))
	}
}

// FourCC is a four character code identifying a pixel or stream format
type FourCC uint32

// MakeFourCC builds a FourCC from its four characters
func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f FourCC) String() string {
	return string([]byte{
		byte(f),
		byte(f >> 8),
		byte(f >> 16),
		byte(f >> 24),
	})
}

// Common pixel and stream formats
const (
	PixFmtYUYV   FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	PixFmtNV12   FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	PixFmtNV12M  FourCC = 'N' | 'M'<<8 | '1'<<16 | '2'<<24
	PixFmtYUV420 FourCC = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	PixFmtRGB24  FourCC = 'R' | 'G'<<8 | 'B'<<16 | '3'<<24
	PixFmtMJPEG  FourCC = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	PixFmtH264   FourCC = 'H' | '2'<<8 | '6'<<16 | '4'<<24
)

// Field interlacing values
const (
	FieldAny        = uapi.V4L2_FIELD_ANY
	FieldNone       = uapi.V4L2_FIELD_NONE
	FieldInterlaced = uapi.V4L2_FIELD_INTERLACED
)

// PlaneFormat describes one plane of a negotiated format
type PlaneFormat struct {
	// SizeImage is the maximum byte size of this plane's payload
	SizeImage uint32

	// BytesPerLine is the stride between adjacent lines, zero for
	// compressed formats
	BytesPerLine uint32
}

// Format is a negotiated frame format. A queue sizes its buffers from it
// and the buffer builder derives its expected plane count from it.
type Format struct {
	Type        QueueType
	Width       uint32
	Height      uint32
	PixelFormat FourCC
	Field       uint32
	Planes      []PlaneFormat
}

// NumPlanes returns the per-buffer plane count this format requires
func (f Format) NumPlanes() int {
	return len(f.Planes)
}

// TotalSize returns the byte size of one complete frame across all planes
func (f *Format) TotalSize() uint32 {
	var total uint32
	for _, p := range f.Planes {
		total += p.SizeImage
	}
	return total
}

// FormatDesc describes one pixel format a queue supports
type FormatDesc struct {
	Index       uint32
	PixelFormat FourCC
	Description string
	Compressed  bool
	Emulated    bool
}
