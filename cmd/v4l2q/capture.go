//go:build linux && (amd64 || arm64)

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	v4l2q "github.com/mdella/go-v4l2q"
	"github.com/mdella/go-v4l2q/internal/logging"
)

type captureOptions struct {
	frames  uint32
	buffers uint32
	output  string
	width   uint32
	height  uint32
	format  fourccValue
}

func newCaptureCmd() *cobra.Command {
	var opts captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from a video device",
		Long: `Runs a mapped-buffer capture loop: negotiates a format, allocates and
maps driver buffers, streams until the requested frame count is reached
and reports queue statistics on exit.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCapture(opts)
		},
	}

	cmd.Flags().Uint32VarP(&opts.frames, "frames", "n", 60,
		"frames to capture, 0 to run until interrupted")
	cmd.Flags().Uint32Var(&opts.buffers, "buffers", v4l2q.DefaultBufferCount,
		"buffers to allocate")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "",
		"write raw frame payloads to this file instead of discarding them")
	cmd.Flags().Uint32Var(&opts.width, "width", 0,
		"requested frame width, 0 keeps the device's current format")
	cmd.Flags().Uint32Var(&opts.height, "height", 0,
		"requested frame height")
	cmd.Flags().Var(&opts.format, "format",
		"requested pixel format as a FourCC, e.g. YUYV or MJPG")

	return cmd
}

func runCapture(opts captureOptions) error {
	logger := logging.Default().WithDevice(devicePath)

	dev, err := v4l2q.Open(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	capability, err := dev.Capability()
	if err != nil {
		return err
	}
	node := capability.NodeCaps()
	if !node.HasStreaming() {
		return fmt.Errorf("device %s does not support streaming I/O", devicePath)
	}
	queueType, err := captureQueueType(node)
	if err != nil {
		return err
	}

	format, err := negotiateCaptureFormat(dev, queueType, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Capturing %s %dx%d from %s (%s per frame)\n",
		format.PixelFormat, format.Width, format.Height, devicePath,
		formatSize(int64(format.TotalSize())))

	metrics := v4l2q.NewMetrics()
	queue := dev.Queue(queueType, v4l2q.QueueConfig{
		Logger:   logger.WithQueue(queueType.String()),
		Observer: v4l2q.NewMetricsObserver(metrics),
	})

	aq, granted, err := queue.Allocate(v4l2q.MemoryMMAP, opts.buffers, format)
	if err != nil {
		return err
	}
	defer func() {
		if _, derr := aq.Deallocate(); derr != nil {
			logger.Warn("deallocate failed", "error", derr)
		}
	}()
	logger.Info("buffers allocated", "requested", opts.buffers, "granted", granted)

	maps := make([]*v4l2q.MappedBuffer, granted)
	defer func() {
		for _, m := range maps {
			if m != nil {
				m.Close()
			}
		}
	}()
	for i := uint32(0); i < granted; i++ {
		m, merr := aq.MapBuffer(i)
		if merr != nil {
			return merr
		}
		maps[i] = m
	}

	var sink *os.File
	if opts.output != "" {
		sink, err = os.Create(opts.output)
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	// Every buffer starts queued so the driver never starves
	for i := uint32(0); i < granted; i++ {
		builder, berr := aq.GetBuffer()
		if berr != nil {
			return berr
		}
		if serr := builder.AutoFill(); serr != nil {
			return serr
		}
	}

	if err := aq.StreamOn(); err != nil {
		return err
	}
	defer func() {
		if _, serr := aq.StreamOff(); serr != nil {
			logger.Warn("stream off failed", "error", serr)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// A dequeue blocked in the kernel only returns once the stream
	// stops, so the signal handler issues STREAMOFF itself; the sweep
	// also drops everything still in flight.
	stopping := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			close(stopping)
			if _, serr := aq.StreamOff(); serr != nil {
				logger.Warn("stream off failed", "error", serr)
			}
		case <-loopDone:
		}
	}()

	start := time.Now()
	var captured, totalBytes uint64
loop:
	for opts.frames == 0 || captured < uint64(opts.frames) {
		frame, derr := aq.Dequeue()
		if derr != nil {
			select {
			case <-stopping:
				break loop
			default:
			}
			close(loopDone)
			return derr
		}

		captured++
		totalBytes += uint64(frame.BytesUsed())

		if frame.Flags.Has(v4l2q.FlagError) {
			logger.Warn("device flagged a corrupt frame",
				"buffer", frame.Index, "sequence", frame.Sequence)
		}
		if sink != nil {
			if werr := writeFrame(sink, maps[frame.Index], frame); werr != nil {
				close(loopDone)
				return werr
			}
		}

		builder, berr := aq.GetBufferAt(frame.Index)
		if berr != nil {
			// The signal handler's sweep can win the race for this index
			select {
			case <-stopping:
				break loop
			default:
			}
			close(loopDone)
			return berr
		}
		if serr := builder.AutoFill(); serr != nil {
			select {
			case <-stopping:
				break loop
			default:
			}
			close(loopDone)
			return serr
		}
	}
	close(loopDone)
	elapsed := time.Since(start)

	metrics.Stop()
	printCaptureReport(captured, totalBytes, elapsed, metrics.Snapshot())
	return nil
}

// negotiateCaptureFormat applies any requested format changes and returns
// what the driver actually negotiated.
func negotiateCaptureFormat(dev *v4l2q.Device, queueType v4l2q.QueueType, opts captureOptions) (v4l2q.Format, error) {
	current, err := dev.GetFormat(queueType)
	if err != nil {
		return v4l2q.Format{}, err
	}
	if opts.width == 0 && opts.height == 0 && !opts.format.set {
		return current, nil
	}

	want := current
	if opts.width != 0 {
		want.Width = opts.width
	}
	if opts.height != 0 {
		want.Height = opts.height
	}
	if opts.format.set {
		want.PixelFormat = opts.format.fourcc
	}
	return dev.SetFormat(want)
}

// writeFrame appends one frame's payload, plane by plane, honoring the
// payload offset the device reported.
func writeFrame(sink *os.File, m *v4l2q.MappedBuffer, frame *v4l2q.DequeuedBuffer) error {
	for i, plane := range frame.Planes {
		data := m.Plane(i)
		if data == nil {
			continue
		}
		start := int(plane.DataOffset)
		end := start + int(plane.BytesUsed)
		if start > len(data) || end > len(data) {
			return fmt.Errorf("plane %d payload [%d:%d] exceeds mapping of %d bytes",
				i, start, end, len(data))
		}
		if _, err := sink.Write(data[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func printCaptureReport(frames, bytes uint64, elapsed time.Duration, snap v4l2q.MetricsSnapshot) {
	fps := 0.0
	if elapsed > 0 {
		fps = float64(frames) / elapsed.Seconds()
	}
	fmt.Printf("\nCaptured %d frames, %s in %s (%.1f fps, %s/s)\n",
		frames, formatSize(int64(bytes)), elapsed.Round(time.Millisecond),
		fps, formatSize(int64(snap.Throughput)))
	fmt.Printf("Queue ops: %d  dequeue ops: %d  error rate: %.1f%%\n",
		snap.QueueOps, snap.DequeueOps, snap.ErrorRate)
	fmt.Printf("Dequeue wait: avg %s  p50 %s  p99 %s  max in flight: %d\n",
		time.Duration(snap.AvgWaitNs), time.Duration(snap.WaitP50Ns),
		time.Duration(snap.WaitP99Ns), snap.MaxInFlight)
}

// fourccValue parses a four character format code like "YUYV" at flag
// parse time, so a bad code fails with usage instead of mid-stream.
type fourccValue struct {
	fourcc v4l2q.FourCC
	set    bool
}

var _ pflag.Value = (*fourccValue)(nil)

func (f *fourccValue) String() string {
	if !f.set {
		return ""
	}
	return f.fourcc.String()
}

func (f *fourccValue) Set(s string) error {
	if len(s) != 4 {
		return fmt.Errorf("pixel format %q must be exactly four characters", s)
	}
	f.fourcc = v4l2q.MakeFourCC(s[0], s[1], s[2], s[3])
	f.set = true
	return nil
}

func (f *fourccValue) Type() string {
	return "fourcc"
}
