package ffpipe

import (
	"strings"
	"testing"
)

func TestNewFrameCaptureValidates(t *testing.T) {
	if _, err := NewFrameCapture(Config{Input: "a.mp4", Width: 0, Height: 180, SampleFPS: 2}); err == nil {
		t.Fatal("expected error for zero width")
	}
	if _, err := NewFrameCapture(Config{Input: "a.mp4", Width: 320, Height: 180}); err == nil {
		t.Fatal("expected error for zero fps")
	}
	if _, err := NewFrameCapture(Config{Width: 320, Height: 180, SampleFPS: 2}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	fc, err := NewFrameCapture(Config{Input: "rec.mp4", Width: 320, Height: 180, SampleFPS: 2})
	if err != nil {
		t.Fatal(err)
	}
	if fc.FrameSize() != 320*180*3 {
		t.Fatalf("FrameSize() = %d", fc.FrameSize())
	}
	args := strings.Join(fc.buildFFmpegArgs(), " ")
	for _, want := range []string{"-pix_fmt rgb24", "fps=2,scale=320:180", "-i rec.mp4", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args missing %q: %s", want, args)
		}
	}
}

func TestFrameOffset(t *testing.T) {
	f := Frame{Index: 5, Offset: 5.0 / 2}
	if f.Offset != 2.5 {
		t.Fatalf("offset = %f", f.Offset)
	}
}
