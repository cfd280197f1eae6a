package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gowvp/recap/internal/conf"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// fakeEncoder 统计写入量，Close 时落一个假文件
type fakeEncoder struct {
	mu      sync.Mutex
	output  string
	frames  int
	samples int
	closed  bool
	failing bool

	stall     time.Duration // 首帧写入阻塞时长，模拟编码器背压
	stallOnce sync.Once
}

func (e *fakeEncoder) WriteFrame(*image.RGBA) error {
	if e.stall > 0 {
		e.stallOnce.Do(func() { time.Sleep(e.stall) })
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing {
		return fmt.Errorf("broken pipe")
	}
	e.frames++
	return nil
}

func (e *fakeEncoder) WritePCM(p []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failing {
		return fmt.Errorf("broken pipe")
	}
	e.samples += len(p)
	return nil
}

func (e *fakeEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if !e.failing {
		return os.WriteFile(e.output, []byte("fake media"), 0o644)
	}
	return nil
}

func (e *fakeEncoder) stats() (int, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames, e.samples, e.closed
}

// fakeStore 内存存储，只有 Add 有实际行为
type fakeStore struct {
	mu   sync.Mutex
	recs []*Recording
}

func (s *fakeStore) Recording() RecordingStorer { return s }

func (s *fakeStore) Find(context.Context, *[]*Recording, orm.Pager, ...orm.QueryOption) (int64, error) {
	return 0, nil
}
func (s *fakeStore) Get(context.Context, *Recording, ...orm.QueryOption) error { return nil }
func (s *fakeStore) Del(context.Context, *Recording, ...orm.QueryOption) error { return nil }
func (s *fakeStore) Edit(context.Context, *Recording, func(*Recording), ...orm.QueryOption) error {
	return nil
}
func (s *fakeStore) Session(context.Context, ...func(*gorm.DB) error) error { return nil }

func (s *fakeStore) Add(_ context.Context, rec *Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = int64(len(s.recs) + 1)
	s.recs = append(s.recs, rec)
	return nil
}

func newCaptureCore(t *testing.T, store Storer, failing bool) (Core, *fakeEncoder) {
	t.Helper()
	bc := conf.Bootstrap{}
	bc.SetDefault()
	bc.Server.Capture.StorageDir = t.TempDir()
	// 小画幅加快测试绘制
	bc.Server.Capture.Width = 320
	bc.Server.Capture.Height = 180

	enc := &fakeEncoder{failing: failing}
	core := NewCore(&bc, store,
		WithFormatProbe(func(context.Context, string) (Format, error) {
			return Format{VideoCodec: "libx264", AudioCodec: "aac", Ext: ".mp4", MimeType: "video/mp4"}, nil
		}),
		WithEncoderFactory(func(_ context.Context, output string, _ Format, _ EncodeParams) (Encoder, error) {
			enc.output = output
			return enc, nil
		}),
	)
	return core, enc
}

func TestSessionLifecycle(t *testing.T) {
	store := &fakeStore{}
	core, enc := newCaptureCore(t, store, false)

	scene := &fakeScene{
		theme: ThemeNone,
		video: &fakeVideo{ready: true, frame: solidImage(64, 36, color.NRGBA{255, 0, 0, 255})},
	}
	s, err := core.StartSession(context.Background(), scene)
	if err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st.State != StateRecording {
		t.Fatalf("state = %s, want recording", st.State)
	}

	// 录制中拒绝第二个会话
	if _, err := core.StartSession(context.Background(), scene); err == nil {
		t.Fatal("second session must be rejected")
	}

	// 中途接入再摘除一路音频源
	tone := &sliceSource{samples: make([]int16, 9600)}
	s.AttachAudio(tone)

	time.Sleep(250 * time.Millisecond)
	s.DetachAudio(tone)

	rec, err := core.StopSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == 0 || rec.MimeType != "video/mp4" {
		t.Fatalf("recording = %+v", rec)
	}
	if rec.Duration <= 0 {
		t.Fatalf("duration = %f, want > 0", rec.Duration)
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	// 视频从头播到尾，停止时开区间必须闭合
	if len(rec.Protected) != 1 {
		t.Fatalf("protected = %v, want one range", rec.Protected)
	}
	pr := rec.Protected[0]
	if pr.End <= pr.Start || pr.End > rec.Duration+0.1 {
		t.Fatalf("protected range = %+v, duration = %f", pr, rec.Duration)
	}

	frames, samples, closed := enc.stats()
	if frames == 0 || samples == 0 {
		t.Fatalf("frames = %d, samples = %d, want both > 0", frames, samples)
	}
	if !closed {
		t.Fatal("encoder not closed")
	}

	if len(store.recs) != 1 {
		t.Fatalf("store has %d recordings, want 1", len(store.recs))
	}
	if st := core.SessionStatus(); st.State != StateIdle {
		t.Fatalf("state after stop = %s, want idle", st.State)
	}

	// 重复停止返回同一结果
	again, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if again != rec {
		t.Fatal("repeated stop returned a different recording")
	}
}

func TestSessionKeepsPaceThroughEncoderStall(t *testing.T) {
	store := &fakeStore{}
	core, enc := newCaptureCore(t, store, false)
	enc.stall = 150 * time.Millisecond

	s, err := core.StartSession(context.Background(), &fakeScene{theme: ThemeNone})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	rec, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}

	// CFR 裸流输入下媒体时长 = 帧数/FPS，背压挤掉的 tick 必须补齐，
	// 否则视频轨比墙钟时长短
	frames, samples, _ := enc.stats()
	if got := float64(frames) / 30; got < rec.Duration-0.1 {
		t.Fatalf("video track %.2fs lags duration %.2fs (frames=%d)", got, rec.Duration, frames)
	}
	if got := float64(samples) / (48000 * 2); got < rec.Duration-0.15 {
		t.Fatalf("audio track %.2fs lags duration %.2fs (samples=%d)", got, rec.Duration, samples)
	}
}

func TestSessionEncoderFailure(t *testing.T) {
	core, enc := newCaptureCore(t, &fakeStore{}, true)

	s, err := core.StartSession(context.Background(), &fakeScene{theme: ThemeNone})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)

	if _, err := s.Stop(); err == nil {
		t.Fatal("expected error from failed encoder")
	}
	if st := s.Status(); st.State != StateErrored {
		t.Fatalf("state = %s, want errored", st.State)
	}
	if _, _, closed := enc.stats(); !closed {
		t.Fatal("encoder must be released even on failure")
	}
	if _, err := os.Stat(enc.output); !os.IsNotExist(err) {
		t.Fatal("failed recording file should be removed")
	}
}

func TestStartSessionWithoutEncoder(t *testing.T) {
	bc := conf.Bootstrap{}
	bc.SetDefault()
	bc.Server.Capture.StorageDir = t.TempDir()
	core := NewCore(&bc, &fakeStore{},
		WithFormatProbe(func(context.Context, string) (Format, error) {
			return Format{}, fmt.Errorf("no supported encoder combination")
		}),
	)
	if _, err := core.StartSession(context.Background(), &fakeScene{}); err == nil {
		t.Fatal("expected error when no encoder is available")
	}
}

func TestSessionWithoutVideoHasNoProtectedRanges(t *testing.T) {
	store := &fakeStore{}
	core, _ := newCaptureCore(t, store, false)

	s, err := core.StartSession(context.Background(), &fakeScene{
		theme: ThemeLight,
		text:  &TextContent{Title: "Quarterly Review", Points: []string{"revenue", "churn"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	rec, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Protected) != 0 {
		t.Fatalf("protected = %v, want empty", rec.Protected)
	}
}
