//go:build linux && (amd64 || arm64)

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	v4l2q "github.com/mdella/go-v4l2q"
	"github.com/mdella/go-v4l2q/internal/constants"
	"github.com/mdella/go-v4l2q/internal/logging"
)

type encodeOptions struct {
	frames  uint32
	buffers uint32
	output  string
	width   uint32
	height  uint32
}

func newEncodeCmd() *cobra.Command {
	var opts encodeOptions

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Feed a test pattern through a memory-to-memory encoder",
		Long: `Drives both queues of a memory-to-memory codec such as vicodec:
generated RGB frames enter through the output queue from caller-owned
memory while encoded frames drain from the mapped capture queue.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runEncode(opts)
		},
	}

	cmd.Flags().Uint32VarP(&opts.frames, "frames", "n", 30,
		"frames to encode, 0 to run until interrupted")
	cmd.Flags().Uint32Var(&opts.buffers, "buffers", v4l2q.DefaultBufferCount,
		"buffers to allocate per queue")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "",
		"write the encoded bitstream to this file instead of discarding it")
	cmd.Flags().Uint32Var(&opts.width, "width", constants.DefaultCaptureWidth,
		"source frame width")
	cmd.Flags().Uint32Var(&opts.height, "height", constants.DefaultCaptureHeight,
		"source frame height")

	return cmd
}

func runEncode(opts encodeOptions) error {
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
	outType, capType, err := m2mQueueTypes(node)
	if err != nil {
		return err
	}

	// The raw source format goes on the output queue; the driver derives
	// the compressed capture format from it.
	srcFormat, err := dev.SetFormat(v4l2q.Format{
		Type:        outType,
		Width:       opts.width,
		Height:      opts.height,
		PixelFormat: v4l2q.PixFmtRGB24,
		Field:       v4l2q.FieldNone,
		Planes:      []v4l2q.PlaneFormat{{}},
	})
	if err != nil {
		return err
	}
	if srcFormat.PixelFormat != v4l2q.PixFmtRGB24 {
		logger.Warn("driver adjusted the source format", "format", srcFormat.PixelFormat.String())
	}
	encFormat, err := dev.GetFormat(capType)
	if err != nil {
		return err
	}
	fmt.Printf("Encoding %s %dx%d -> %s on %s\n",
		srcFormat.PixelFormat, srcFormat.Width, srcFormat.Height,
		encFormat.PixelFormat, devicePath)

	metrics := v4l2q.NewMetrics()
	outQueue := dev.Queue(outType, v4l2q.QueueConfig{
		Logger:   logger.WithQueue(outType.String()),
		Observer: v4l2q.NewMetricsObserver(metrics),
	})
	capQueue := dev.Queue(capType, v4l2q.QueueConfig{
		Logger:   logger.WithQueue(capType.String()),
		Observer: v4l2q.NewMetricsObserver(metrics),
	})

	outAq, outGranted, err := outQueue.Allocate(v4l2q.MemoryUserPtr, opts.buffers, srcFormat)
	if err != nil {
		return err
	}
	defer func() {
		if _, derr := outAq.Deallocate(); derr != nil {
			logger.Warn("output deallocate failed", "error", derr)
		}
	}()

	capAq, capGranted, err := capQueue.Allocate(v4l2q.MemoryMMAP, opts.buffers, encFormat)
	if err != nil {
		return err
	}
	defer func() {
		if _, derr := capAq.Deallocate(); derr != nil {
			logger.Warn("capture deallocate failed", "error", derr)
		}
	}()
	logger.Info("buffers allocated", "output", outGranted, "capture", capGranted)

	maps := make([]*v4l2q.MappedBuffer, capGranted)
	defer func() {
		for _, m := range maps {
			if m != nil {
				m.Close()
			}
		}
	}()
	for i := uint32(0); i < capGranted; i++ {
		m, merr := capAq.MapBuffer(i)
		if merr != nil {
			return merr
		}
		maps[i] = m
	}

	// One caller-owned source frame per output buffer slot
	srcFrames := make([][]byte, outGranted)
	for i := range srcFrames {
		srcFrames[i] = make([]byte, srcFormat.TotalSize())
	}

	var sink *os.File
	if opts.output != "" {
		sink, err = os.Create(opts.output)
		if err != nil {
			return err
		}
		defer sink.Close()
	}

	for i := uint32(0); i < capGranted; i++ {
		builder, berr := capAq.GetBuffer()
		if berr != nil {
			return berr
		}
		if serr := builder.AutoFill(); serr != nil {
			return serr
		}
	}

	if err := outAq.StreamOn(); err != nil {
		return err
	}
	defer func() {
		if _, serr := outAq.StreamOff(); serr != nil {
			logger.Warn("output stream off failed", "error", serr)
		}
	}()
	if err := capAq.StreamOn(); err != nil {
		return err
	}
	defer func() {
		if _, serr := capAq.StreamOff(); serr != nil {
			logger.Warn("capture stream off failed", "error", serr)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Stopping both streams wakes whichever dequeue the loop is blocked in
	stopping := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			close(stopping)
			if _, serr := capAq.StreamOff(); serr != nil {
				logger.Warn("capture stream off failed", "error", serr)
			}
			if _, serr := outAq.StreamOff(); serr != nil {
				logger.Warn("output stream off failed", "error", serr)
			}
		case <-loopDone:
		}
	}()
	interrupted := func() bool {
		select {
		case <-stopping:
			return true
		default:
			return false
		}
	}

	stride := srcFormat.Planes[0].BytesPerLine
	if stride < srcFormat.Width*3 {
		stride = srcFormat.Width * 3
	}

	start := time.Now()
	var encoded, totalBytes uint64
	for opts.frames == 0 || encoded < uint64(opts.frames) {
		// Fill the next source frame and hand it to the encoder. The
		// loop runs in lockstep, so a free output slot always exists.
		builder, berr := outAq.GetBuffer()
		if berr != nil {
			close(loopDone)
			if interrupted() {
				break
			}
			return berr
		}
		src := srcFrames[builder.Index()]
		fillRGBGradient(src, srcFormat.Width, srcFormat.Height, stride, int(encoded))
		handle := v4l2q.NewUserPtrHandle(src)
		if serr := builder.AddPlane(v4l2q.OutputPlane(handle, uint32(len(src)))).Submit(); serr != nil {
			close(loopDone)
			if interrupted() {
				break
			}
			return serr
		}

		// Drain the encoded frame
		enc, derr := capAq.Dequeue()
		if derr != nil {
			close(loopDone)
			if interrupted() {
				break
			}
			return derr
		}
		encoded++
		totalBytes += uint64(enc.BytesUsed())
		if enc.Flags.KeyFrame() {
			logger.Debug("keyframe", "sequence", enc.Sequence, "bytes", enc.BytesUsed())
		}
		if sink != nil {
			if werr := writeFrame(sink, maps[enc.Index], enc); werr != nil {
				close(loopDone)
				return werr
			}
		}
		if rberr := requeueCapture(capAq, enc.Index); rberr != nil {
			close(loopDone)
			if interrupted() {
				break
			}
			return rberr
		}

		// Reclaim the consumed source frame so its slot frees up
		if _, derr := outAq.Dequeue(); derr != nil {
			close(loopDone)
			if interrupted() {
				break
			}
			return derr
		}

		fmt.Printf("\rEncoded %d frames, %s", encoded, formatSize(int64(totalBytes)))
	}
	select {
	case <-loopDone:
	default:
		close(loopDone)
	}
	elapsed := time.Since(start)

	metrics.Stop()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(encoded) / elapsed.Seconds()
	}
	fmt.Printf("\rEncoded %d frames, %s in %s (%.1f fps)\n",
		encoded, formatSize(int64(totalBytes)), elapsed.Round(time.Millisecond), fps)
	return nil
}

func requeueCapture(aq *v4l2q.AllocatedQueue, index uint32) error {
	builder, err := aq.GetBufferAt(index)
	if err != nil {
		return err
	}
	return builder.AutoFill()
}

// m2mQueueTypes picks the queue type pair of a memory-to-memory device.
// Older mem-to-mem drivers advertise the two directions separately instead
// of the m2m capability bits.
func m2mQueueTypes(caps v4l2q.DeviceCaps) (v4l2q.QueueType, v4l2q.QueueType, error) {
	switch {
	case caps.HasM2M():
		if caps.MultiPlanar() {
			return v4l2q.OutputMplane, v4l2q.CaptureMplane, nil
		}
		return v4l2q.Output, v4l2q.Capture, nil
	case caps.HasCapture() && caps.HasOutput():
		outType, err := outputQueueType(caps)
		if err != nil {
			return 0, 0, err
		}
		capType, err := captureQueueType(caps)
		if err != nil {
			return 0, 0, err
		}
		return outType, capType, nil
	default:
		return 0, 0, fmt.Errorf("device %s is not a memory-to-memory device", devicePath)
	}
}
