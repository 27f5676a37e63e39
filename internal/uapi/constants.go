// Package uapi provides Linux kernel UAPI definitions for the V4L2
// streaming I/O interface (videodev2.h)
package uapi

// Buffer types
const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE        = 1
	V4L2_BUF_TYPE_VIDEO_OUTPUT         = 2
	V4L2_BUF_TYPE_VIDEO_OVERLAY        = 3
	V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE = 9
	V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE  = 10
)

// IsMultiPlanar reports whether a buffer type uses the multi-planar API,
// which carries per-plane data in an auxiliary v4l2_plane array.
func IsMultiPlanar(bufType uint32) bool {
	return bufType == V4L2_BUF_TYPE_VIDEO_CAPTURE_MPLANE ||
		bufType == V4L2_BUF_TYPE_VIDEO_OUTPUT_MPLANE
}

// Memory types
const (
	V4L2_MEMORY_MMAP    = 1
	V4L2_MEMORY_USERPTR = 2
	V4L2_MEMORY_OVERLAY = 3
	V4L2_MEMORY_DMABUF  = 4
)

// Buffer flags
const (
	V4L2_BUF_FLAG_MAPPED   = 0x00000001
	V4L2_BUF_FLAG_QUEUED   = 0x00000002
	V4L2_BUF_FLAG_DONE     = 0x00000004
	V4L2_BUF_FLAG_KEYFRAME = 0x00000008
	V4L2_BUF_FLAG_PFRAME   = 0x00000010
	V4L2_BUF_FLAG_BFRAME   = 0x00000020
	V4L2_BUF_FLAG_ERROR    = 0x00000040
	V4L2_BUF_FLAG_TIMECODE = 0x00000100
	V4L2_BUF_FLAG_PREPARED = 0x00000400
	V4L2_BUF_FLAG_LAST     = 0x00100000
)

// Buffer pool capabilities, reported by VIDIOC_REQBUFS since kernel 5.0
const (
	V4L2_BUF_CAP_SUPPORTS_MMAP          = 1 << 0
	V4L2_BUF_CAP_SUPPORTS_USERPTR       = 1 << 1
	V4L2_BUF_CAP_SUPPORTS_DMABUF        = 1 << 2
	V4L2_BUF_CAP_SUPPORTS_REQUESTS      = 1 << 3
	V4L2_BUF_CAP_SUPPORTS_ORPHANED_BUFS = 1 << 4
)

// Field order
const (
	V4L2_FIELD_ANY        = 0
	V4L2_FIELD_NONE       = 1
	V4L2_FIELD_INTERLACED = 4
)

// Format description flags (struct v4l2_fmtdesc)
const (
	V4L2_FMT_FLAG_COMPRESSED = 0x0001
	V4L2_FMT_FLAG_EMULATED   = 0x0002
)

// Device capabilities (struct v4l2_capability)
const (
	V4L2_CAP_VIDEO_CAPTURE        = 0x00000001
	V4L2_CAP_VIDEO_OUTPUT         = 0x00000002
	V4L2_CAP_VIDEO_CAPTURE_MPLANE = 0x00001000
	V4L2_CAP_VIDEO_OUTPUT_MPLANE  = 0x00002000
	V4L2_CAP_VIDEO_M2M_MPLANE     = 0x00004000
	V4L2_CAP_VIDEO_M2M            = 0x00008000
	V4L2_CAP_READWRITE            = 0x01000000
	V4L2_CAP_STREAMING            = 0x04000000
	V4L2_CAP_DEVICE_CAPS          = 0x80000000
)

// Limits and Constants
const (
	VIDEO_MAX_FRAME  = 32 // max buffers per queue
	VIDEO_MAX_PLANES = 8  // max planes per buffer
)
