package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/gowvp/recap/pkg/ffpipe"
)

// 画面采样缩放分辨率，缩略图足以判断画面是否变化
const (
	staticSampleWidth  = 320
	staticSampleHeight = 180
)

// frameSource 帧采样来源，测试时替换为假实现
type frameSource interface {
	Start() error
	Frames() <-chan *ffpipe.Frame
	Error() <-chan error
	Stop() error
	Log() []string
}

// StaticDetector 按固定间隔采样视频帧，把时间分类为画面静止/活动
type StaticDetector struct {
	FFmpegPath  string
	Step        time.Duration // 采样间隔，如 500ms
	Threshold   float64       // 归一化像素差阈值
	MinDuration float64       // 静止区间最短时长（秒）
	OnProgress  func(sampled, total int)

	// newSource 构造帧采样来源，留空使用 ffpipe 解码
	newSource func(ffpipe.Config) (frameSource, error)
}

// Detect 返回有序的画面静止区间
// 调用方取消时立即停止采样并返回空结果；解码失败按“无静止区间”处理
func (d StaticDetector) Detect(ctx context.Context, input string, duration float64) []timeline.TimeRange {
	newSource := d.newSource
	if newSource == nil {
		newSource = func(cfg ffpipe.Config) (frameSource, error) {
			return ffpipe.NewFrameCapture(cfg)
		}
	}
	fc, err := newSource(ffpipe.Config{
		FFmpegPath: d.FFmpegPath,
		Input:      input,
		Width:      staticSampleWidth,
		Height:     staticSampleHeight,
		SampleFPS:  1 / d.Step.Seconds(),
	})
	if err != nil {
		slog.WarnContext(ctx, "创建帧采样失败，按无静止处理", "input", input, "err", err)
		return nil
	}
	if err := fc.Start(); err != nil {
		slog.WarnContext(ctx, "启动帧采样失败，按无静止处理", "input", input, "err", err)
		return nil
	}
	defer fc.Stop() //nolint:errcheck

	totalFrames := int(duration/d.Step.Seconds()) + 1
	step := d.Step.Seconds()

	var prev []byte
	flags := make([]bool, 0, totalFrames)
	for {
		// 每次取帧前检查取消，保证一次采样步内退出
		select {
		case <-ctx.Done():
			return nil
		case err := <-fc.Error():
			slog.WarnContext(ctx, "帧采样中断，按无静止处理", "input", input, "err", err, "log", fc.Log())
			return nil
		case frame, ok := <-fc.Frames():
			if !ok {
				return rangesFromFlags(flags, step, d.MinDuration)
			}
			if prev == nil {
				// 首帧没有对照，始终视为活动
				flags = append(flags, false)
			} else {
				flags = append(flags, frameDiff(frame.Data, prev) < d.Threshold)
			}
			prev = frame.Data
			if d.OnProgress != nil {
				d.OnProgress(len(flags), totalFrames)
			}
		}
	}
}

// frameDiff 计算两帧 RGB24 数据的平均每通道像素差，归一化到 [0,1]
func frameDiff(a, b []byte) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 1
	}
	var diff uint64
	for i := range n {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		diff += uint64(d)
	}
	return float64(diff) / (float64(n) * 255)
}
