package v4l2q

import (
	"github.com/mdella/go-v4l2q/internal/constants"
	"github.com/mdella/go-v4l2q/internal/uapi"
)

// Re-export constants for public API
const (
	// DefaultBufferCount is a sensible per-queue buffer count for capture loops
	DefaultBufferCount = constants.DefaultBufferCount

	// DefaultDevicePath is the device node opened when none is given
	DefaultDevicePath = constants.DefaultDevicePath

	// MaxBuffers is the kernel ceiling on buffers per queue
	MaxBuffers = uapi.VIDEO_MAX_FRAME

	// MaxPlanes is the kernel ceiling on planes per buffer
	MaxPlanes = uapi.VIDEO_MAX_PLANES
)
