package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/pkg/ffpipe"
)

func newTestCore(t *testing.T, src *fakeFrames) Core {
	t.Helper()
	bc := conf.Bootstrap{}
	bc.SetDefault()
	return NewCore(&bc,
		WithDurationProbe(func(context.Context, string) (float64, error) {
			return 60, nil
		}),
		WithSilenceDecoder(func(context.Context, string, int) ([]int16, error) {
			// 60 秒纯静音
			return make([]int16, silenceSampleRate*60), nil
		}),
		WithStaticSource(func(ffpipe.Config) (frameSource, error) {
			return src, nil
		}),
	)
}

func TestRunCancelResolvesEmpty(t *testing.T) {
	// 帧来源不喂任何帧，画面检测会一直挂在取样上
	src := newFakeFrames()
	core := newTestCore(t, src)

	run := core.StartAnalysis("rec.mp4", nil)

	// 等静音阶段完成进入画面检测，再取消
	deadline := time.After(2 * time.Second)
	for run.Progress() < 50 {
		select {
		case <-deadline:
			t.Fatal("analysis never reached static phase")
		case <-time.After(5 * time.Millisecond):
		}
	}
	run.Cancel()
	<-run.Done()

	if !run.Canceled() {
		t.Fatal("run not marked canceled")
	}
	res, err := run.Result()
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || len(res.Segments) != 0 || res.DeadTotal != 0 {
		t.Fatalf("canceled result = %+v, want empty", res)
	}
}

func TestRunCompletes(t *testing.T) {
	// 帧来源立即读尽，画面全程活动，交集为空
	src := newFakeFrames()
	close(src.frames)
	core := newTestCore(t, src)

	run := core.StartAnalysis("rec.mp4", nil)
	<-run.Done()

	if run.Canceled() {
		t.Fatal("run should not be canceled")
	}
	if p := run.Progress(); p != 100 {
		t.Fatalf("progress = %d, want 100", p)
	}
	res, err := run.Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Segments) != 1 || res.DeadTotal != 0 {
		t.Fatalf("result = %+v, want full-span active", res)
	}
}

func TestRunResultWhileRunning(t *testing.T) {
	src := newFakeFrames()
	core := newTestCore(t, src)

	run := core.StartAnalysis("rec.mp4", nil)
	defer func() {
		run.Cancel()
		<-run.Done()
	}()

	if res, err := run.Result(); res != nil || err != nil {
		t.Fatalf("running result = (%+v, %v), want (nil, nil)", res, err)
	}
}
