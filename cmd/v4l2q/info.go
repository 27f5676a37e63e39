//go:build linux && (amd64 || arm64)

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	v4l2q "github.com/mdella/go-v4l2q"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show device capabilities and supported formats",
		Long: `Queries the device identity and capability bits, then enumerates the
pixel formats of every queue direction the node exposes along with the
currently negotiated format.`,
		RunE: func(_ *cobra.Command, _ []string) error {
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
			fmt.Printf("Driver:   %s\n", capability.Driver)
			fmt.Printf("Card:     %s\n", capability.Card)
			fmt.Printf("Bus:      %s\n", capability.BusInfo)
			fmt.Printf("Version:  %s\n", capability.Version)
			fmt.Printf("Device:   %s\n", capsString(capability.Capabilities))
			fmt.Printf("Node:     %s\n", capsString(node))

			if node.HasCapture() {
				queueType, err := captureQueueType(node)
				if err != nil {
					return err
				}
				if err := printQueueInfo(dev, queueType); err != nil {
					return err
				}
			}
			if node.HasOutput() {
				queueType, err := outputQueueType(node)
				if err != nil {
					return err
				}
				if err := printQueueInfo(dev, queueType); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// printQueueInfo lists one direction's formats, the format currently
// negotiated on it, and the buffer capabilities its driver reports.
func printQueueInfo(dev *v4l2q.Device, queueType v4l2q.QueueType) error {
	descs, err := dev.EnumFormats(queueType)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s formats:\n", queueType)
	for _, d := range descs {
		var note string
		if d.Compressed {
			note += "  (compressed)"
		}
		if d.Emulated {
			note += "  (emulated)"
		}
		fmt.Printf("  [%d] %s  %s%s\n", d.Index, d.PixelFormat, d.Description, note)
	}

	current, err := dev.GetFormat(queueType)
	if err != nil {
		return err
	}
	fmt.Printf("  current: %s %dx%d, %d plane(s), %s per frame\n",
		current.PixelFormat, current.Width, current.Height,
		current.NumPlanes(), formatSize(int64(current.TotalSize())))

	// Kernels before 5.0 report no capability bits here; skip the line
	// rather than print an empty set.
	queue := dev.Queue(queueType, v4l2q.QueueConfig{})
	if bufCaps, err := queue.ProbeCapabilities(v4l2q.MemoryMMAP); err == nil && bufCaps != 0 {
		fmt.Printf("  buffer caps: %s\n", bufferCapsString(bufCaps))
	}
	return nil
}

// captureQueueType picks the capture queue type the node exposes
func captureQueueType(caps v4l2q.DeviceCaps) (v4l2q.QueueType, error) {
	if !caps.HasCapture() {
		return 0, fmt.Errorf("device %s has no capture queue", devicePath)
	}
	if caps.MultiPlanar() {
		return v4l2q.CaptureMplane, nil
	}
	return v4l2q.Capture, nil
}

// outputQueueType picks the output queue type the node exposes
func outputQueueType(caps v4l2q.DeviceCaps) (v4l2q.QueueType, error) {
	if !caps.HasOutput() {
		return 0, fmt.Errorf("device %s has no output queue", devicePath)
	}
	if caps.MultiPlanar() {
		return v4l2q.OutputMplane, nil
	}
	return v4l2q.Output, nil
}

func capsString(c v4l2q.DeviceCaps) string {
	var parts []string
	if c.HasCapture() {
		parts = append(parts, "capture")
	}
	if c.HasOutput() {
		parts = append(parts, "output")
	}
	if c.HasM2M() {
		parts = append(parts, "m2m")
	}
	if c.MultiPlanar() {
		parts = append(parts, "mplane")
	}
	if c.HasStreaming() {
		parts = append(parts, "streaming")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func bufferCapsString(c v4l2q.BufferCapabilities) string {
	var parts []string
	if c.SupportsMMAP() {
		parts = append(parts, "mmap")
	}
	if c.SupportsUserPtr() {
		parts = append(parts, "userptr")
	}
	if c.SupportsDMABuf() {
		parts = append(parts, "dmabuf")
	}
	if c.SupportsRequests() {
		parts = append(parts, "requests")
	}
	if c.SupportsOrphanedBufs() {
		parts = append(parts, "orphaned-bufs")
	}
	if len(parts) == 0 {
		return "unreported"
	}
	return strings.Join(parts, " ")
}
