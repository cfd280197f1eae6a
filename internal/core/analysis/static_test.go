package analysis

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gowvp/recap/pkg/ffpipe"
)

// fakeFrames 手工喂帧的采样来源
type fakeFrames struct {
	frames chan *ffpipe.Frame
	errs   chan error
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{frames: make(chan *ffpipe.Frame), errs: make(chan error, 1)}
}

func (f *fakeFrames) Start() error                 { return nil }
func (f *fakeFrames) Frames() <-chan *ffpipe.Frame { return f.frames }
func (f *fakeFrames) Error() <-chan error          { return f.errs }
func (f *fakeFrames) Stop() error                  { return nil }
func (f *fakeFrames) Log() []string                { return nil }

func newStaticDetector(src *fakeFrames) StaticDetector {
	return StaticDetector{
		Step:        500 * time.Millisecond,
		Threshold:   0.005,
		MinDuration: 2.0,
		newSource:   func(ffpipe.Config) (frameSource, error) { return src, nil },
	}
}

func TestStaticDetectRanges(t *testing.T) {
	src := newFakeFrames()
	d := newStaticDetector(src)

	go func() {
		defer close(src.frames)
		still := make([]byte, 320*180*3)
		white := bytes.Repeat([]byte{255}, 320*180*3)
		gray := bytes.Repeat([]byte{128}, 320*180*3)
		// 首帧活动，随后 5 帧定格（4 个静止窗口 = 2.0 秒，达到下限），再切画面
		for i, data := range [][]byte{white, still, still, still, still, still, gray} {
			src.frames <- &ffpipe.Frame{Index: uint64(i), Data: data}
		}
	}()

	ranges := d.Detect(context.Background(), "rec.mp4", 3.5)
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if ranges[0].Start != 1.0 || ranges[0].End != 3.0 {
		t.Fatalf("range = %+v, want [1.0, 3.0]", ranges[0])
	}
}

func TestStaticDetectCancelMidScan(t *testing.T) {
	src := newFakeFrames()
	d := newStaticDetector(src)
	ctx, cancel := context.WithCancel(context.Background())

	fed := make(chan struct{})
	go func() {
		data := make([]byte, 320*180*3)
		for i := range 3 {
			src.frames <- &ffpipe.Frame{Index: uint64(i), Data: data}
		}
		cancel()
		close(fed)
	}()

	got := d.Detect(ctx, "rec.mp4", 60)
	<-fed
	if got != nil {
		t.Fatalf("canceled detect = %+v, want empty", got)
	}

	// 取消后一次采样步内必须返回，不再消费后续帧
	start := time.Now()
	if d.Detect(ctx, "rec.mp4", 60) != nil {
		t.Fatal("detect with canceled ctx must be empty")
	}
	if elapsed := time.Since(start); elapsed > d.Step {
		t.Fatalf("detect took %s on canceled ctx, want immediate return", elapsed)
	}
}

func TestFrameDiff(t *testing.T) {
	black := make([]byte, 320*180*3)
	if d := frameDiff(black, bytes.Clone(black)); d != 0 {
		t.Fatalf("identical frames diff = %f, want 0", d)
	}

	white := bytes.Repeat([]byte{255}, 320*180*3)
	if d := frameDiff(black, white); d != 1 {
		t.Fatalf("black vs white diff = %f, want 1", d)
	}

	// 噪声幅度 1/255，远低于 0.005 阈值
	noisy := bytes.Clone(black)
	for i := range noisy {
		noisy[i] = 1
	}
	if d := frameDiff(black, noisy); d >= 0.005 {
		t.Fatalf("tiny noise diff = %f, should stay below threshold", d)
	}
}

func TestFrameDiffEmpty(t *testing.T) {
	if d := frameDiff(nil, nil); d != 1 {
		t.Fatalf("empty frames diff = %f, want 1 (treated as changed)", d)
	}
}
