package v4l2q

import "testing"

func TestFourCC(t *testing.T) {
	if MakeFourCC('Y', 'U', 'Y', 'V') != PixFmtYUYV {
		t.Error("MakeFourCC does not match PixFmtYUYV")
	}

	tests := []struct {
		fourcc FourCC
		want   string
	}{
		{PixFmtYUYV, "YUYV"},
		{PixFmtNV12, "NV12"},
		{PixFmtNV12M, "NM12"},
		{PixFmtYUV420, "YU12"},
		{PixFmtRGB24, "RGB3"},
		{PixFmtMJPEG, "MJPG"},
		{PixFmtH264, "H264"},
	}
	for _, tt := range tests {
		if got := tt.fourcc.String(); got != tt.want {
			t.Errorf("FourCC(%#x).String() = %q, want %q", uint32(tt.fourcc), got, tt.want)
		}
	}
}

func TestQueueTypeProperties(t *testing.T) {
	tests := []struct {
		queueType QueueType
		str       string
		mplane    bool
		capture   bool
		output    bool
	}{
		{Capture, "capture", false, true, false},
		{Output, "output", false, false, true},
		{CaptureMplane, "capture-mplane", true, true, false},
		{OutputMplane, "output-mplane", true, false, true},
	}
	for _, tt := range tests {
		if got := tt.queueType.String(); got != tt.str {
			t.Errorf("%v.String() = %q, want %q", uint32(tt.queueType), got, tt.str)
		}
		if got := tt.queueType.IsMultiPlanar(); got != tt.mplane {
			t.Errorf("%s.IsMultiPlanar() = %v, want %v", tt.str, got, tt.mplane)
		}
		if got := tt.queueType.IsCapture(); got != tt.capture {
			t.Errorf("%s.IsCapture() = %v, want %v", tt.str, got, tt.capture)
		}
		if got := tt.queueType.IsOutput(); got != tt.output {
			t.Errorf("%s.IsOutput() = %v, want %v", tt.str, got, tt.output)
		}
	}

	if got := QueueType(99).String(); got != "queue(99)" {
		t.Errorf("unknown queue type String() = %q", got)
	}
}

func TestMemoryTypeString(t *testing.T) {
	if MemoryMMAP.String() != "mmap" {
		t.Errorf("MemoryMMAP.String() = %q", MemoryMMAP.String())
	}
	if MemoryUserPtr.String() != "userptr" {
		t.Errorf("MemoryUserPtr.String() = %q", MemoryUserPtr.String())
	}
	if MemoryDMABuf.String() != "dmabuf" {
		t.Errorf("MemoryDMABuf.String() = %q", MemoryDMABuf.String())
	}
	if got := MemoryType(9).String(); got != "memory(9)" {
		t.Errorf("unknown memory type String() = %q", got)
	}
}

func TestFormatSizes(t *testing.T) {
	f := Format{
		Type:        CaptureMplane,
		Width:       1920,
		Height:      1080,
		PixelFormat: PixFmtNV12M,
		Planes: []PlaneFormat{
			{SizeImage: 1920 * 1080, BytesPerLine: 1920},
			{SizeImage: 1920 * 1080 / 2, BytesPerLine: 1920},
		},
	}
	if f.NumPlanes() != 2 {
		t.Errorf("NumPlanes() = %d, want 2", f.NumPlanes())
	}
	want := uint32(1920*1080 + 1920*1080/2)
	if f.TotalSize() != want {
		t.Errorf("TotalSize() = %d, want %d", f.TotalSize(), want)
	}

	empty := Format{}
	if empty.NumPlanes() != 0 || empty.TotalSize() != 0 {
		t.Error("zero-value format should report no planes and no size")
	}
}
