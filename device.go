//go:build linux && (amd64 || arm64)

package v4l2q

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mdella/go-v4l2q/internal/logging"
	"github.com/mdella/go-v4l2q/internal/transport"
	"github.com/mdella/go-v4l2q/internal/uapi"
)

// OpenConfig carries optional device opening settings
type OpenConfig struct {
	// NonBlocking opens the node with O_NONBLOCK: a dequeue with nothing
	// ready fails with a would-block error instead of blocking
	NonBlocking bool
}

// Device is an open V4L2 device node. It implements Transport and Mapper
// against the real kernel; hand it to NewQueue, or use the Queue helper.
// Methods are safe for concurrent use.
type Device struct {
	path        string
	nonBlocking bool
	log         *logging.Logger

	mu sync.Mutex
	fd int
}

// Open opens a video device node read-write in blocking mode.
func Open(path string) (*Device, error) {
	return OpenWith(path, OpenConfig{})
}

// OpenWith opens a video device node with explicit options.
func OpenWith(path string, cfg OpenConfig) (*Device, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if cfg.NonBlocking {
		flags |= unix.O_NONBLOCK
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, WrapError("open", err)
	}
	log := logging.Default().WithDevice(path)
	log.Debug("device opened", "fd", fd, "nonblocking", cfg.NonBlocking)
	return &Device{
		path:        path,
		nonBlocking: cfg.NonBlocking,
		log:         log,
		fd:          fd,
	}, nil
}

// Path returns the device node path this handle was opened from
func (d *Device) Path() string {
	return d.path
}

// Fd returns the underlying file descriptor, -1 after Close. Callers that
// need dequeue timeouts poll this fd for readiness before dequeuing.
func (d *Device) Fd() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd
}

// NonBlocking reports whether the node was opened with O_NONBLOCK
func (d *Device) NonBlocking() bool {
	return d.nonBlocking
}

// Close releases the device node. Calling it twice is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return WrapError("close", err)
	}
	d.log.Debug("device closed")
	return nil
}

// Queue returns a queue handle for one direction of this device.
func (d *Device) Queue(queueType QueueType, cfg QueueConfig) *Queue {
	return NewQueue(d, queueType, cfg)
}

// DeviceCaps is the V4L2 capability bit set of a device or device node.
type DeviceCaps uint32

// HasCapture reports capture support, single or multi-planar
func (c DeviceCaps) HasCapture() bool {
	return c&(uapi.V4L2_CAP_VIDEO_CAPTURE|uapi.V4L2_CAP_VIDEO_CAPTURE_MPLANE) != 0
}

// HasOutput reports output support, single or multi-planar
func (c DeviceCaps) HasOutput() bool {
	return c&(uapi.V4L2_CAP_VIDEO_OUTPUT|uapi.V4L2_CAP_VIDEO_OUTPUT_MPLANE) != 0
}

// HasM2M reports memory-to-memory (codec) support
func (c DeviceCaps) HasM2M() bool {
	return c&(uapi.V4L2_CAP_VIDEO_M2M|uapi.V4L2_CAP_VIDEO_M2M_MPLANE) != 0
}

// HasStreaming reports streaming I/O support; without it REQBUFS fails
func (c DeviceCaps) HasStreaming() bool {
	return c&uapi.V4L2_CAP_STREAMING != 0
}

// MultiPlanar reports whether any queue of the device uses the
// multi-planar API
func (c DeviceCaps) MultiPlanar() bool {
	return c&(uapi.V4L2_CAP_VIDEO_CAPTURE_MPLANE|
		uapi.V4L2_CAP_VIDEO_OUTPUT_MPLANE|
		uapi.V4L2_CAP_VIDEO_M2M_MPLANE) != 0
}

// Capability describes a device as reported by QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      string
	Capabilities DeviceCaps // the physical device as a whole
	DeviceCaps   DeviceCaps // this node, when the driver reports per-node caps
}

// NodeCaps returns the capability set that applies to the opened node:
// DeviceCaps when the driver distinguishes nodes, Capabilities otherwise.
func (c Capability) NodeCaps() DeviceCaps {
	if uint32(c.Capabilities)&uapi.V4L2_CAP_DEVICE_CAPS != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// Capability issues QUERYCAP and decodes the answer.
func (d *Device) Capability() (Capability, error) {
	raw, err := transport.QueryCap(d.Fd())
	if err != nil {
		return Capability{}, WrapError("QUERYCAP", err)
	}
	return Capability{
		Driver:  uapi.CString(raw.Driver[:]),
		Card:    uapi.CString(raw.Card[:]),
		BusInfo: uapi.CString(raw.BusInfo[:]),
		Version: fmt.Sprintf("%d.%d.%d",
			raw.Version>>16&0xff, raw.Version>>8&0xff, raw.Version&0xff),
		Capabilities: DeviceCaps(raw.Capabilities),
		DeviceCaps:   DeviceCaps(raw.DeviceCaps),
	}, nil
}

// GetFormat returns the format currently negotiated on one queue.
func (d *Device) GetFormat(queueType QueueType) (Format, error) {
	raw, err := transport.GFmt(d.Fd(), uint32(queueType))
	if err != nil {
		return Format{}, WrapError("G_FMT", err)
	}
	return formatFromUapi(&raw), nil
}

// SetFormat negotiates a format on one queue. The driver adjusts the
// request to the nearest configuration it supports; the adjusted format is
// returned and is the one to allocate buffers against.
func (d *Device) SetFormat(f Format) (Format, error) {
	raw := formatToUapi(f)
	if err := transport.SFmt(d.Fd(), &raw); err != nil {
		return Format{}, WrapError("S_FMT", err)
	}
	return formatFromUapi(&raw), nil
}

// EnumFormats lists every pixel format one queue supports.
func (d *Device) EnumFormats(queueType QueueType) ([]FormatDesc, error) {
	var out []FormatDesc
	for index := uint32(0); ; index++ {
		raw, err := transport.EnumFmt(d.Fd(), uint32(queueType), index)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				return out, nil
			}
			return nil, WrapError("ENUM_FMT", err)
		}
		out = append(out, FormatDesc{
			Index:       raw.Index,
			PixelFormat: FourCC(raw.PixelFormat),
			Description: uapi.CString(raw.Description[:]),
			Compressed:  raw.Flags&uapi.V4L2_FMT_FLAG_COMPRESSED != 0,
			Emulated:    raw.Flags&uapi.V4L2_FMT_FLAG_EMULATED != 0,
		})
	}
}

func formatFromUapi(raw *uapi.Format) Format {
	if uapi.IsMultiPlanar(raw.Type) {
		mp := raw.PixMP()
		f := Format{
			Type:        QueueType(raw.Type),
			Width:       mp.Width,
			Height:      mp.Height,
			PixelFormat: FourCC(mp.PixelFormat),
			Field:       mp.Field,
			Planes:      make([]PlaneFormat, mp.NumPlanes),
		}
		for i := range f.Planes {
			f.Planes[i] = PlaneFormat{
				SizeImage:    mp.PlaneFmt[i].SizeImage,
				BytesPerLine: mp.PlaneFmt[i].BytesPerLine,
			}
		}
		return f
	}
	pix := raw.Pix()
	return Format{
		Type:        QueueType(raw.Type),
		Width:       pix.Width,
		Height:      pix.Height,
		PixelFormat: FourCC(pix.PixelFormat),
		Field:       pix.Field,
		Planes: []PlaneFormat{{
			SizeImage:    pix.SizeImage,
			BytesPerLine: pix.BytesPerLine,
		}},
	}
}

func formatToUapi(f Format) uapi.Format {
	raw := uapi.Format{Type: uint32(f.Type)}
	if f.Type.IsMultiPlanar() {
		mp := raw.PixMP()
		mp.Width = f.Width
		mp.Height = f.Height
		mp.PixelFormat = uint32(f.PixelFormat)
		mp.Field = f.Field
		n := len(f.Planes)
		if n > uapi.VIDEO_MAX_PLANES {
			n = uapi.VIDEO_MAX_PLANES
		}
		mp.NumPlanes = uint8(n)
		for i := 0; i < n; i++ {
			mp.PlaneFmt[i] = uapi.PlanePixFormat{
				SizeImage:    f.Planes[i].SizeImage,
				BytesPerLine: f.Planes[i].BytesPerLine,
			}
		}
		return raw
	}
	pix := raw.Pix()
	pix.Width = f.Width
	pix.Height = f.Height
	pix.PixelFormat = uint32(f.PixelFormat)
	pix.Field = f.Field
	if len(f.Planes) > 0 {
		pix.SizeImage = f.Planes[0].SizeImage
		pix.BytesPerLine = f.Planes[0].BytesPerLine
	}
	return raw
}

// Transport implementation. These return raw errnos per the Transport
// contract; classification happens in the queue layer.

func (d *Device) RequestBuffers(queue QueueType, memory MemoryType, count uint32) (RequestBuffersResult, error) {
	granted, caps, err := transport.ReqBufs(d.Fd(), uint32(queue), uint32(memory), count)
	if err != nil {
		return RequestBuffersResult{}, err
	}
	return RequestBuffersResult{Count: granted, Capabilities: caps}, nil
}

func (d *Device) QueueBuffer(queue QueueType, memory MemoryType, index uint32, planes []PlaneDesc) error {
	qp := make([]transport.QueuePlane, len(planes))
	for i, p := range planes {
		qp[i] = transport.QueuePlane{
			BytesUsed:  p.BytesUsed,
			DataOffset: p.DataOffset,
			UserPtr:    p.UserPtr,
			Length:     p.Length,
		}
	}
	return transport.QBuf(d.Fd(), uint32(queue), uint32(memory), index, qp)
}

func (d *Device) DequeueBuffer(queue QueueType, memory MemoryType) (DequeueResult, error) {
	dq, err := transport.DQBuf(d.Fd(), uint32(queue), uint32(memory))
	if err != nil {
		return DequeueResult{}, err
	}
	res := DequeueResult{
		Index:    dq.Index,
		Flags:    BufferFlags(dq.Flags),
		Field:    dq.Field,
		Sequence: dq.Sequence,
		Planes:   make([]DequeuedPlaneInfo, len(dq.Planes)),
	}
	for i, p := range dq.Planes {
		res.Planes[i] = DequeuedPlaneInfo{
			Length:     p.Length,
			BytesUsed:  p.BytesUsed,
			DataOffset: p.DataOffset,
		}
	}
	return res, nil
}

func (d *Device) StreamOn(queue QueueType) error {
	return transport.StreamOn(d.Fd(), uint32(queue))
}

func (d *Device) StreamOff(queue QueueType) error {
	return transport.StreamOff(d.Fd(), uint32(queue))
}

// Mapper implementation.

func (d *Device) QueryBuffer(queue QueueType, memory MemoryType, index uint32) ([]PlaneInfo, error) {
	layouts, err := transport.QueryBuf(d.Fd(), uint32(queue), uint32(memory), index)
	if err != nil {
		return nil, err
	}
	out := make([]PlaneInfo, len(layouts))
	for i, l := range layouts {
		out[i] = PlaneInfo{Length: l.Length, Offset: l.Offset}
	}
	return out, nil
}

func (d *Device) MapPlane(offset, length uint32) ([]byte, error) {
	return unix.Mmap(d.Fd(), int64(offset), int(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *Device) UnmapPlane(data []byte) error {
	return unix.Munmap(data)
}

// Compile-time interface checks
var (
	_ Transport = (*Device)(nil)
	_ Mapper    = (*Device)(nil)
)
