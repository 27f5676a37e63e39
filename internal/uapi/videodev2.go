//go:build linux && (amd64 || arm64)

package uapi

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Timecode must match kernel struct exactly (16 bytes):
//
//	struct v4l2_timecode {
//	  __u32 type;
//	  __u32 flags;
//	  __u8  frames;
//	  __u8  seconds;
//	  __u8  minutes;
//	  __u8  hours;
//	  __u8  userbits[4];
//	};
type Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// Compile-time size check
var _ [16]byte = [unsafe.Sizeof(Timecode{})]byte{}

// Buffer must match kernel struct v4l2_buffer on 64-bit ABIs (88 bytes):
//
//	struct v4l2_buffer {
//	  __u32 index;
//	  __u32 type;
//	  __u32 bytesused;
//	  __u32 flags;
//	  __u32 field;
//	  struct timeval timestamp;       // 8-byte aligned, 16 bytes
//	  struct v4l2_timecode timecode;  // 16 bytes
//	  __u32 sequence;
//	  __u32 memory;
//	  union {
//	    __u32 offset;                 // MMAP: cookie for mmap()
//	    unsigned long userptr;        // USERPTR: buffer address
//	    struct v4l2_plane *planes;    // MPLANE: plane array
//	    __s32 fd;                     // DMABUF: file descriptor
//	  } m;                            // 8 bytes
//	  __u32 length;                   // bytes (single-planar) or plane count
//	  __u32 reserved2;
//	  union { __s32 request_fd; __u32 reserved; };
//	};
type Buffer struct {
	Index     uint32
	Type      uint32 // V4L2_BUF_TYPE_*
	BytesUsed uint32
	Flags     uint32 // V4L2_BUF_FLAG_*
	Field     uint32 // V4L2_FIELD_*
	_         [4]byte
	Timestamp unix.Timeval
	Timecode  Timecode
	Sequence  uint32
	Memory    uint32 // V4L2_MEMORY_*
	M         uint64 // union: offset / userptr / planes pointer / fd
	Length    uint32
	Reserved2 uint32
	RequestFD int32
	_         [4]byte
}

// Compile-time size check - 88 bytes on amd64/arm64
var _ [88]byte = [unsafe.Sizeof(Buffer{})]byte{}

// Offset returns the mmap cookie from the m union.
func (b *Buffer) Offset() uint32 { return uint32(b.M) }

// SetOffset stores the mmap cookie in the m union.
func (b *Buffer) SetOffset(off uint32) { b.M = uint64(off) }

// SetUserPtr stores a userspace buffer address in the m union.
func (b *Buffer) SetUserPtr(p uintptr) { b.M = uint64(p) }

// SetPlanes points the m union at a plane array. The caller must keep the
// array alive across the ioctl that consumes this buffer.
func (b *Buffer) SetPlanes(p *Plane) { b.M = uint64(uintptr(unsafe.Pointer(p))) }

// Plane must match kernel struct v4l2_plane on 64-bit ABIs (64 bytes):
//
//	struct v4l2_plane {
//	  __u32 bytesused;
//	  __u32 length;
//	  union {
//	    __u32 mem_offset;
//	    unsigned long userptr;
//	    __s32 fd;
//	  } m;                  // 8 bytes
//	  __u32 data_offset;
//	  __u32 reserved[11];
//	};
type Plane struct {
	BytesUsed  uint32
	Length     uint32
	M          uint64 // union: mem_offset / userptr / fd
	DataOffset uint32
	_          [44]byte
}

// Compile-time size check - 64 bytes on amd64/arm64
var _ [64]byte = [unsafe.Sizeof(Plane{})]byte{}

// MemOffset returns the mmap cookie from the m union.
func (p *Plane) MemOffset() uint32 { return uint32(p.M) }

// SetMemOffset stores the mmap cookie in the m union.
func (p *Plane) SetMemOffset(off uint32) { p.M = uint64(off) }

// SetUserPtr stores a userspace buffer address in the m union.
func (p *Plane) SetUserPtr(ptr uintptr) { p.M = uint64(ptr) }

// RequestBuffers must match kernel struct exactly (20 bytes):
//
//	struct v4l2_requestbuffers {
//	  __u32 count;
//	  __u32 type;
//	  __u32 memory;
//	  __u32 capabilities;   // V4L2_BUF_CAP_*, filled by kernel since 5.0
//	  __u8  flags;
//	  __u8  reserved[3];
//	};
type RequestBuffers struct {
	Count        uint32
	Type         uint32 // V4L2_BUF_TYPE_*
	Memory       uint32 // V4L2_MEMORY_*
	Capabilities uint32 // V4L2_BUF_CAP_*
	Flags        uint8
	_            [3]uint8
}

// Compile-time size check
var _ [20]byte = [unsafe.Sizeof(RequestBuffers{})]byte{}

// Capability must match kernel struct v4l2_capability exactly (104 bytes):
//
//	struct v4l2_capability {
//	  __u8  driver[16];
//	  __u8  card[32];
//	  __u8  bus_info[32];
//	  __u32 version;
//	  __u32 capabilities;
//	  __u32 device_caps;
//	  __u32 reserved[3];
//	};
type Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32 // capabilities of the physical device as a whole
	DeviceCaps   uint32 // capabilities of this particular device node
	_            [3]uint32
}

// Compile-time size check
var _ [104]byte = [unsafe.Sizeof(Capability{})]byte{}

// PixFormat must match kernel struct v4l2_pix_format exactly (48 bytes).
// Single-planar pixel format negotiation.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32 // fourcc
	Field        uint32 // V4L2_FIELD_*
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32 // union with hsv_enc
	Quantization uint32
	XferFunc     uint32
}

// Compile-time size check
var _ [48]byte = [unsafe.Sizeof(PixFormat{})]byte{}

// PlanePixFormat must match kernel struct v4l2_plane_pix_format (20 bytes).
type PlanePixFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
	_            [12]byte // __u16 reserved[6]
}

// Compile-time size check
var _ [20]byte = [unsafe.Sizeof(PlanePixFormat{})]byte{}

// PixFormatMplane must match kernel struct v4l2_pix_format_mplane (192 bytes):
//
//	struct v4l2_pix_format_mplane {
//	  __u32 width;
//	  __u32 height;
//	  __u32 pixelformat;
//	  __u32 field;
//	  __u32 colorspace;
//	  struct v4l2_plane_pix_format plane_fmt[VIDEO_MAX_PLANES];
//	  __u8  num_planes;
//	  __u8  flags;
//	  union { __u8 ycbcr_enc; __u8 hsv_enc; };
//	  __u8  quantization;
//	  __u8  xfer_func;
//	  __u8  reserved[7];
//	};
type PixFormatMplane struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32 // fourcc
	Field        uint32 // V4L2_FIELD_*
	Colorspace   uint32
	PlaneFmt     [VIDEO_MAX_PLANES]PlanePixFormat
	NumPlanes    uint8
	Flags        uint8
	YcbcrEnc     uint8 // union with hsv_enc
	Quantization uint8
	XferFunc     uint8
	_            [7]uint8
}

// Compile-time size check
var _ [192]byte = [unsafe.Sizeof(PixFormatMplane{})]byte{}

// Format must match kernel struct v4l2_format on 64-bit ABIs (208 bytes).
// The fmt union is kept raw; Pix and PixMP view it as the single-planar or
// multi-planar pixel format depending on Type.
//
//	struct v4l2_format {
//	  __u32 type;
//	  union {
//	    struct v4l2_pix_format        pix;     // single-planar
//	    struct v4l2_pix_format_mplane pix_mp;  // multi-planar
//	    ...                                    // overlay/vbi/sdr/meta
//	    __u8 raw_data[200];
//	  } fmt;
//	};
type Format struct {
	Type uint32 // V4L2_BUF_TYPE_*
	_    [4]byte
	Fmt  [200]byte
}

// Compile-time size check - 208 bytes on amd64/arm64 (union is 8-byte aligned)
var _ [208]byte = [unsafe.Sizeof(Format{})]byte{}

// Pix views the fmt union as a single-planar pixel format.
func (f *Format) Pix() *PixFormat { return (*PixFormat)(unsafe.Pointer(&f.Fmt[0])) }

// PixMP views the fmt union as a multi-planar pixel format.
func (f *Format) PixMP() *PixFormatMplane { return (*PixFormatMplane)(unsafe.Pointer(&f.Fmt[0])) }

// FmtDesc must match kernel struct v4l2_fmtdesc exactly (64 bytes):
//
//	struct v4l2_fmtdesc {
//	  __u32 index;
//	  __u32 type;
//	  __u32 flags;
//	  __u8  description[32];
//	  __u32 pixelformat;
//	  __u32 mbus_code;
//	  __u32 reserved[3];
//	};
type FmtDesc struct {
	Index       uint32
	Type        uint32 // V4L2_BUF_TYPE_*
	Flags       uint32
	Description [32]byte
	PixelFormat uint32 // fourcc
	MbusCode    uint32
	_           [3]uint32
}

// Compile-time size check
var _ [64]byte = [unsafe.Sizeof(FmtDesc{})]byte{}

// CString converts a NUL-terminated byte array field to a Go string.
func CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
