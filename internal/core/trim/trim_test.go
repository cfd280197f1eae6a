package trim

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/timeline"
)

// fakeRunner 记录命令并伪造输出文件，不真正执行 ffmpeg
type fakeRunner struct {
	commands [][]string
	fail     bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.commands = append(f.commands, append([]string{name}, args...))
	if f.fail {
		return []byte("boom"), fmt.Errorf("exit status 1")
	}
	// 输出文件是最后一个参数
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("fake media"), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func newTestCore(t *testing.T, r Runner) *Core {
	t.Helper()
	bc := conf.Bootstrap{}
	bc.SetDefault()
	bc.Server.Trim.WorkDir = t.TempDir()
	return NewCore(&bc, WithRunner(r))
}

func writeInput(t *testing.T) string {
	t.Helper()
	input := filepath.Join(t.TempDir(), "rec.mp4")
	if err := os.WriteFile(input, []byte("source media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return input
}

func TestTrimSingleSegmentShortcut(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCore(t, runner)
	input := writeInput(t)

	res, err := c.Trim(context.Background(), input,
		[]timeline.Segment{{Start: 0, End: 20, Kind: timeline.KindActive}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.commands) != 0 {
		t.Fatalf("shortcut must not invoke ffmpeg, got %d commands", len(runner.commands))
	}
	if !res.Unchanged || res.OutputPath != input {
		t.Fatalf("result = %+v, want unchanged source", res)
	}
	if res.Duration != 20 {
		t.Fatalf("duration = %f, want 20", res.Duration)
	}
}

func TestTrimOrderPreservedWithShuffledInput(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCore(t, runner)
	input := writeInput(t)

	// 故意乱序传入，引擎必须按起点排序后提取
	segs := []timeline.Segment{
		{Start: 10, End: 12, Kind: timeline.KindActive},
		{Start: 2, End: 5, Kind: timeline.KindDead},
		{Start: 0, End: 2, Kind: timeline.KindActive},
		{Start: 8, End: 10, Kind: timeline.KindDead},
		{Start: 5, End: 8, Kind: timeline.KindActive},
	}

	var progress []int
	res, err := c.Trim(context.Background(), input, segs, func(p int) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	// 3 次提取 + 1 次拼接
	if len(runner.commands) != 4 {
		t.Fatalf("got %d commands, want 4", len(runner.commands))
	}
	wantStarts := []string{"00:00:00.000", "00:00:05.000", "00:00:10.000"}
	for i, want := range wantStarts {
		cmd := strings.Join(runner.commands[i], " ")
		if !strings.Contains(cmd, "-ss "+want) {
			t.Fatalf("extract %d: want -ss %s in %s", i, want, cmd)
		}
		if !strings.Contains(cmd, "-c copy") || !strings.Contains(cmd, "-avoid_negative_ts make_zero") {
			t.Fatalf("extract %d missing stream copy flags: %s", i, cmd)
		}
	}
	concat := strings.Join(runner.commands[3], " ")
	if !strings.Contains(concat, "-f concat") || !strings.Contains(concat, "-safe 0") {
		t.Fatalf("last command is not concat: %s", concat)
	}

	if math.Abs(res.Duration-7) > 1e-9 {
		t.Fatalf("duration = %f, want 7 (2+3+2)", res.Duration)
	}
	if _, err := os.Stat(res.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Fatalf("progress not monotonic: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Fatalf("final progress = %d, want 100", progress[len(progress)-1])
	}
}

func TestTrimSinglePieceAfterFiltering(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCore(t, runner)
	input := writeInput(t)

	segs := []timeline.Segment{
		{Start: 0, End: 3, Kind: timeline.KindDead},
		{Start: 3, End: 10, Kind: timeline.KindActive},
	}
	res, err := c.Trim(context.Background(), input, segs, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 仅一次提取，不需要拼接
	if len(runner.commands) != 1 {
		t.Fatalf("got %d commands, want 1", len(runner.commands))
	}
	if res.Unchanged {
		t.Fatal("result should not be unchanged")
	}
	if res.Duration != 7 {
		t.Fatalf("duration = %f, want 7", res.Duration)
	}
}

func TestTrimFailureCleansUp(t *testing.T) {
	runner := &fakeRunner{fail: true}
	bc := conf.Bootstrap{}
	bc.SetDefault()
	workDir := t.TempDir()
	bc.Server.Trim.WorkDir = workDir
	c := NewCore(&bc, WithRunner(runner))
	input := writeInput(t)

	segs := []timeline.Segment{
		{Start: 0, End: 3, Kind: timeline.KindActive},
		{Start: 3, End: 5, Kind: timeline.KindDead},
		{Start: 5, End: 8, Kind: timeline.KindActive},
	}
	if _, err := c.Trim(context.Background(), input, segs, nil); err == nil {
		t.Fatal("expected error")
	}

	// 临时目录必须清理干净
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp artifacts left behind: %v", entries)
	}
}

func TestTrimNoActiveSegments(t *testing.T) {
	c := newTestCore(t, &fakeRunner{})
	if _, err := c.Trim(context.Background(), "rec.mp4",
		[]timeline.Segment{{Start: 0, End: 5, Kind: timeline.KindDead}}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatTime(t *testing.T) {
	for _, tt := range []struct {
		in   float64
		want string
	}{
		{0, "00:00:00.000"},
		{4.3, "00:00:04.300"},
		{65.5, "00:01:05.500"},
		{3661.25, "01:01:01.250"},
	} {
		if got := formatTime(tt.in); got != tt.want {
			t.Fatalf("formatTime(%f) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
