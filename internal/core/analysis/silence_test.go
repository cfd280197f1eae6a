package analysis

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"
)

// makeSamples 生成指定秒数的采样，amplitude 为 0 时是纯静音
func makeSamples(rate int, seconds float64, amplitude int16) []int16 {
	n := int(float64(rate) * seconds)
	out := make([]int16, n)
	if amplitude == 0 {
		return out
	}
	for i := range out {
		// 方波足够触发 RMS
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestSilenceRanges(t *testing.T) {
	const rate = 16000
	samples := makeSamples(rate, 1, 5000)
	samples = append(samples, makeSamples(rate, 3, 0)...)
	samples = append(samples, makeSamples(rate, 1, 5000)...)

	ranges := silenceRanges(samples, rate, 100*time.Millisecond, 0.01, 2.0)
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if math.Abs(ranges[0].Start-1.0) > 0.11 || math.Abs(ranges[0].End-4.0) > 0.11 {
		t.Fatalf("range = %+v, want ~[1.0, 4.0]", ranges[0])
	}
}

func TestSilenceRangesTrailing(t *testing.T) {
	const rate = 16000
	samples := makeSamples(rate, 1, 5000)
	samples = append(samples, makeSamples(rate, 2.5, 0)...)

	ranges := silenceRanges(samples, rate, 100*time.Millisecond, 0.01, 2.0)
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if math.Abs(ranges[0].End-3.5) > 0.11 {
		t.Fatalf("trailing range not closed at sequence end: %+v", ranges[0])
	}
}

func TestSilenceRangesShortBlipDropped(t *testing.T) {
	const rate = 16000
	samples := makeSamples(rate, 2, 5000)
	samples = append(samples, makeSamples(rate, 1, 0)...) // 1 秒静音，低于 2 秒下限
	samples = append(samples, makeSamples(rate, 2, 5000)...)

	ranges := silenceRanges(samples, rate, 100*time.Millisecond, 0.01, 2.0)
	if len(ranges) != 0 {
		t.Fatalf("short silence should be dropped: %+v", ranges)
	}
}

func TestSilenceRangesEmptyInput(t *testing.T) {
	if got := silenceRanges(nil, 16000, 100*time.Millisecond, 0.01, 2.0); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestSilenceDetectDecodeFailure(t *testing.T) {
	d := SilenceDetector{
		Window:      100 * time.Millisecond,
		Threshold:   0.01,
		MinDuration: 2.0,
		decode: func(context.Context, string, int) ([]int16, error) {
			return nil, fmt.Errorf("no audio track")
		},
	}
	// 音轨损坏按整段无静音处理，不报错
	if got := d.Detect(context.Background(), "rec.mp4"); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestRangesFromFlags(t *testing.T) {
	// 0.5s 步长：4 个静止窗口 = 2 秒，刚好达到下限
	flags := []bool{false, true, true, true, true, false}
	ranges := rangesFromFlags(flags, 0.5, 2.0)
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1: %+v", len(ranges), ranges)
	}
	if ranges[0].Start != 0.5 || ranges[0].End != 2.5 {
		t.Fatalf("range = %+v, want [0.5, 2.5]", ranges[0])
	}
}
