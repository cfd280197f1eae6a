package trim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/timeline"
)

// Runner 执行外部命令，测试时可替换
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Core business domain
// 无损剪辑：按时间轴提取保留片段并拼接，全程流复制不转码
type Core struct {
	ffmpeg  string
	workDir string
	runner  Runner
	busy    atomic.Bool // 同一时间只允许一次剪辑，保证进度与临时文件命名无歧义
}

type Option func(*Core)

// WithRunner 替换命令执行器，测试用
func WithRunner(r Runner) Option {
	return func(c *Core) { c.runner = r }
}

func NewCore(bc *conf.Bootstrap, opts ...Option) *Core {
	c := Core{
		ffmpeg:  bc.Server.FFmpeg,
		workDir: bc.Server.Trim.WorkDir,
		runner:  execRunner{},
	}
	if c.ffmpeg == "" {
		c.ffmpeg = "ffmpeg"
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Result 一次剪辑的产物，新的剪辑会替换旧结果，不做版本管理
type Result struct {
	OutputPath string  `json:"output_path"`
	Duration   float64 `json:"duration"`
	Unchanged  bool    `json:"unchanged"` // 没有死区时源文件原样返回
}

// Trim 提取时间轴中的保留片段并按原始顺序拼接为一个输出文件
//
// 片段先按起点排序，调用方传入乱序列表也不会打乱时间线。
// 时间轴只有一个全程保留片段时直接返回源文件，不调用 ffmpeg。
// 失败时不产出任何文件，中间产物无论成败都会清理。
func (c *Core) Trim(ctx context.Context, input string, segments []timeline.Segment, onProgress func(int)) (*Result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("another trim is in progress")
	}
	defer c.busy.Store(false)

	progress := newProgress(onProgress)

	active := timeline.ActiveSegments(segments)
	if len(active) == 0 {
		return nil, fmt.Errorf("no active segments")
	}
	progress.set(10)

	// 整条时间轴就是一个保留片段：无死区，原样返回
	if len(segments) == 1 && len(active) == 1 {
		progress.set(100)
		return &Result{
			OutputPath: input,
			Duration:   active[0].Duration(),
			Unchanged:  true,
		}, nil
	}

	tmpDir, err := os.MkdirTemp(c.workDir, "trim-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			slog.Warn("清理剪辑临时目录失败", "dir", tmpDir, "err", err)
		}
	}()
	progress.set(15)

	ext := filepath.Ext(input)
	if ext == "" {
		ext = ".mp4"
	}

	// 逐段流复制提取
	pieces := make([]string, 0, len(active))
	for i, seg := range active {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		piece := filepath.Join(tmpDir, fmt.Sprintf("seg_%d%s", i, ext))
		out, err := c.runner.Run(ctx, c.ffmpeg,
			"-y",
			"-hide_banner",
			"-loglevel", "error",
			"-i", input,
			"-ss", formatTime(seg.Start),
			"-to", formatTime(seg.End),
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
			piece,
		)
		if err != nil {
			return nil, fmt.Errorf("extract segment [%s, %s]: %w, output: %s",
				formatTime(seg.Start), formatTime(seg.End), err, out)
		}
		pieces = append(pieces, piece)
		progress.set(15 + (i+1)*55/len(active))
	}

	var total float64
	for _, seg := range active {
		total += seg.Duration()
	}

	output := strings.TrimSuffix(input, ext) + ".trimmed" + ext

	// 只剩一段，提取结果即输出
	if len(pieces) == 1 {
		if err := moveFile(pieces[0], output); err != nil {
			return nil, err
		}
		progress.set(100)
		return &Result{OutputPath: output, Duration: total}, nil
	}

	// 多段走 concat demuxer 流复制拼接，顺序必须与时间轴一致
	listPath := filepath.Join(tmpDir, "list.txt")
	var list strings.Builder
	for _, p := range pieces {
		fmt.Fprintf(&list, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}
	progress.set(75)

	joined := filepath.Join(tmpDir, "output"+ext)
	out, err := c.runner.Run(ctx, c.ffmpeg,
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		joined,
	)
	if err != nil {
		return nil, fmt.Errorf("concat %d segments: %w, output: %s", len(pieces), err, out)
	}
	progress.set(90)

	if err := moveFile(joined, output); err != nil {
		return nil, err
	}
	progress.set(100)

	slog.InfoContext(ctx, "剪辑完成",
		"input", input,
		"output", output,
		"segments", len(pieces),
		"duration", total,
	)
	return &Result{OutputPath: output, Duration: total}, nil
}

// formatTime 秒数转 ffmpeg 时间格式 HH:MM:SS.mmm
func formatTime(seconds float64) string {
	h := int(seconds) / 3600
	m := int(seconds) % 3600 / 60
	s := math.Mod(seconds, 60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

// moveFile 优先 rename，跨设备时退化为复制
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}

// progressTracker 保证上报进度单调递增
type progressTracker struct {
	last int
	fn   func(int)
}

func newProgress(fn func(int)) *progressTracker {
	return &progressTracker{fn: fn}
}

func (p *progressTracker) set(v int) {
	if v <= p.last {
		return
	}
	p.last = v
	if p.fn != nil {
		p.fn(v)
	}
}
