//go:build linux && (amd64 || arm64)

package transport

import (
	"sync"

	"github.com/mdella/go-v4l2q/internal/uapi"
)

// Multi-planar QBUF, DQBUF and QUERYBUF each need a short-lived
// v4l2_plane[VIDEO_MAX_PLANES] scratch array attached to the request.
// Recycling them keeps the per-frame hot path allocation-free.
var planeArrayPool = sync.Pool{
	New: func() interface{} {
		return new([uapi.VIDEO_MAX_PLANES]uapi.Plane)
	},
}

// getPlaneArray returns a zeroed scratch array from the pool.
func getPlaneArray() *[uapi.VIDEO_MAX_PLANES]uapi.Plane {
	arr := planeArrayPool.Get().(*[uapi.VIDEO_MAX_PLANES]uapi.Plane)
	*arr = [uapi.VIDEO_MAX_PLANES]uapi.Plane{}
	return arr
}

// putPlaneArray returns a scratch array to the pool. Only call this after
// the ioctl that referenced the array has returned.
func putPlaneArray(arr *[uapi.VIDEO_MAX_PLANES]uapi.Plane) {
	planeArrayPool.Put(arr)
}
