package constants

// Default configuration constants
const (
	// DefaultBufferCount is the default number of buffers requested from
	// the driver when the caller does not specify a count
	DefaultBufferCount = 4

	// DefaultCaptureWidth is the default frame width in pixels
	DefaultCaptureWidth = 640

	// DefaultCaptureHeight is the default frame height in pixels
	DefaultCaptureHeight = 480

	// DefaultDevicePath is the device node opened when none is given
	DefaultDevicePath = "/dev/video0"
)
