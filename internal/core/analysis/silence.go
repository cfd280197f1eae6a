package analysis

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/gowvp/recap/pkg/ffpipe"
)

// 静音检测解码采样率，检测 RMS 能量足够，不需要原始采样率
const silenceSampleRate = 16000

// SilenceDetector 把录制音轨按固定窗口分类为静音/非静音
type SilenceDetector struct {
	FFmpegPath  string
	Window      time.Duration // 检测窗口，如 100ms
	Threshold   float64       // RMS 阈值，[-1,1] 归一化
	MinDuration float64       // 静音区间最短时长（秒）

	// decode 音轨解码，留空使用 ffpipe
	decode func(ctx context.Context, input string, sampleRate int) ([]int16, error)
}

// Detect 解码音轨并返回有序静音区间
// 音轨无法解码（损坏或缺失）时按“整段无静音”处理而非报错：
// 分析失败宁可少剪，不能让整次分析崩掉
func (d SilenceDetector) Detect(ctx context.Context, input string) []timeline.TimeRange {
	decode := d.decode
	if decode == nil {
		decode = func(ctx context.Context, input string, sampleRate int) ([]int16, error) {
			return ffpipe.DecodePCM(ctx, d.FFmpegPath, input, sampleRate)
		}
	}
	samples, err := decode(ctx, input, silenceSampleRate)
	if err != nil {
		slog.WarnContext(ctx, "音轨解码失败，按无静音处理", "input", input, "err", err)
		return nil
	}
	return silenceRanges(samples, silenceSampleRate, d.Window, d.Threshold, d.MinDuration)
}

// silenceRanges 对采样逐窗口计算 RMS，合并连续静音窗口
func silenceRanges(samples []int16, sampleRate int, window time.Duration, threshold, minDuration float64) []timeline.TimeRange {
	windowSize := int(float64(sampleRate) * window.Seconds())
	if windowSize <= 0 || len(samples) < windowSize {
		return nil
	}
	step := window.Seconds()

	totalWindows := len(samples) / windowSize
	flags := make([]bool, 0, totalWindows)
	for i := range totalWindows {
		var sumSquares float64
		for _, s := range samples[i*windowSize : (i+1)*windowSize] {
			v := float64(s) / 32768
			sumSquares += v * v
		}
		rms := math.Sqrt(sumSquares / float64(windowSize))
		flags = append(flags, rms < threshold)
	}

	return rangesFromFlags(flags, step, minDuration)
}

// rangesFromFlags 把逐窗口布尔标记合并为区间，丢弃短于 minDuration 的
// 末尾未闭合的区间在序列结束处闭合
func rangesFromFlags(flags []bool, step, minDuration float64) []timeline.TimeRange {
	var ranges []timeline.TimeRange
	rangeStart := -1.0

	for i, flagged := range flags {
		if flagged {
			if rangeStart < 0 {
				rangeStart = float64(i) * step
			}
			continue
		}
		if rangeStart >= 0 {
			end := float64(i) * step
			if end-rangeStart >= minDuration {
				ranges = append(ranges, timeline.TimeRange{Start: rangeStart, End: end})
			}
			rangeStart = -1
		}
	}
	if rangeStart >= 0 {
		end := float64(len(flags)) * step
		if end-rangeStart >= minDuration {
			ranges = append(ranges, timeline.TimeRange{Start: rangeStart, End: end})
		}
	}
	return ranges
}
