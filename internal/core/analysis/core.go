package analysis

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/gowvp/recap/pkg/ffpipe"
)

// Core business domain
// 分析本身无持久状态，每次调用构造独立的 Run，允许多个录像并行分析
type Core struct {
	ffmpeg  string
	ffprobe string
	cfg     conf.Analysis

	probe         func(context.Context, string) (float64, error)
	silenceDecode func(context.Context, string, int) ([]int16, error)
	staticSource  func(ffpipe.Config) (frameSource, error)
}

type Option func(*Core)

// WithDurationProbe 替换时长探测，测试用
func WithDurationProbe(fn func(context.Context, string) (float64, error)) Option {
	return func(c *Core) { c.probe = fn }
}

// WithSilenceDecoder 替换静音检测的音轨解码，测试用
func WithSilenceDecoder(fn func(context.Context, string, int) ([]int16, error)) Option {
	return func(c *Core) { c.silenceDecode = fn }
}

// WithStaticSource 替换画面检测的帧采样来源，测试用
func WithStaticSource(fn func(ffpipe.Config) (frameSource, error)) Option {
	return func(c *Core) { c.staticSource = fn }
}

func NewCore(bc *conf.Bootstrap, opts ...Option) Core {
	c := Core{
		ffmpeg:  bc.Server.FFmpeg,
		ffprobe: bc.Server.FFprobe,
		cfg:     bc.Server.Analysis,
	}
	c.probe = func(ctx context.Context, input string) (float64, error) {
		return ffpipe.Duration(ctx, c.ffprobe, input)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Run 一次死区分析的全部状态：进度、取消标记、结果
// 结果每次重新计算，不与历史结果合并
type Run struct {
	progress atomic.Int64
	cancel   context.CancelFunc
	canceled atomic.Bool
	done     chan struct{}

	mu     sync.Mutex
	result *timeline.Result
	err    error
}

// StartAnalysis 启动一次分析，立即返回可轮询的 Run
// protected 为录制期间视频播放的时间段，这些时间永远不会被判为死区
func (c Core) StartAnalysis(input string, protected []timeline.TimeRange) *Run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		result, err := c.analyze(ctx, input, protected, r)
		r.mu.Lock()
		r.result, r.err = result, err
		r.mu.Unlock()
	}()
	return r
}

// analyze 三阶段：静音检测 0-50，画面检测 50-100，最后求解时间轴
func (c Core) analyze(ctx context.Context, input string, protected []timeline.TimeRange, r *Run) (*timeline.Result, error) {
	duration, err := c.probe(ctx, input)
	if err != nil {
		return nil, err
	}
	r.progress.Store(5)

	silence := SilenceDetector{
		FFmpegPath:  c.ffmpeg,
		Window:      c.cfg.SilenceWindow.Duration(),
		Threshold:   c.cfg.SilenceThreshold,
		MinDuration: c.cfg.MinDuration,
		decode:      c.silenceDecode,
	}.Detect(ctx, input)
	r.progress.Store(50)

	if ctx.Err() != nil {
		r.canceled.Store(true)
		return &timeline.Result{}, nil
	}

	static := StaticDetector{
		FFmpegPath:  c.ffmpeg,
		Step:        c.cfg.StaticStep.Duration(),
		Threshold:   c.cfg.StaticThreshold,
		MinDuration: c.cfg.MinDuration,
		OnProgress: func(sampled, total int) {
			if total > 0 {
				r.progress.Store(50 + int64(sampled*50/total))
			}
		},
		newSource: c.staticSource,
	}.Detect(ctx, input, duration)

	if ctx.Err() != nil {
		r.canceled.Store(true)
		return &timeline.Result{}, nil
	}

	result := timeline.Resolve(silence, static, protected, duration, timeline.Options{
		MinDuration: c.cfg.MinDuration,
		Padding:     c.cfg.Padding,
	})
	r.progress.Store(100)

	slog.InfoContext(ctx, "死区分析完成",
		"input", input,
		"duration", duration,
		"silence_ranges", len(silence),
		"static_ranges", len(static),
		"protected_ranges", len(protected),
		"dead_total", result.DeadTotal,
	)
	return &result, nil
}

// Progress 返回 0-100 的整数进度
func (r *Run) Progress() int {
	return int(min(r.progress.Load(), 100))
}

// Cancel 协作式取消，静止检测在一次采样步内停止
// 取消不是错误，Run 以空结果收尾
func (r *Run) Cancel() {
	r.cancel()
}

func (r *Run) Canceled() bool {
	return r.canceled.Load()
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result 在 Done 关闭后返回分析结果；运行中返回 (nil, nil)
func (r *Run) Result() (*timeline.Result, error) {
	select {
	case <-r.done:
	default:
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}
