package ffpipe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

type (
	// Config 帧采样配置
	Config struct {
		FFmpegPath    string  // 留空使用 "ffmpeg"
		Input         string  // 本地媒体文件路径
		Width, Height int     // 缩放后的采样分辨率
		SampleFPS     float64 // 采样帧率，如 2 表示每 500ms 取一帧
	}
	// Frame 一帧 RGB24 像素数据
	Frame struct {
		Index  uint64
		Offset float64 // 相对媒体起点的秒数
		Data   []byte
	}
	// FrameCapture 按固定间隔从媒体文件采样缩略帧
	// ffmpeg 解码后经 fps/scale 滤镜输出定长 RGB24 帧，从 stdout 按帧大小读取
	FrameCapture struct {
		config     Config
		frameSize  int
		FrameCh    chan *Frame
		errCh      chan error
		ctx        context.Context
		cancel     context.CancelFunc
		m          sync.Mutex
		started    bool
		cmd        *exec.Cmd
		wg         sync.WaitGroup
		ffmpegLog  *queue.CirQueue[string]
		frameCount uint64
	}
)

func NewFrameCapture(cfg Config) (*FrameCapture, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.SampleFPS <= 0 {
		return nil, fmt.Errorf("invalid sample fps: %f", cfg.SampleFPS)
	}
	if cfg.Input == "" {
		return nil, fmt.Errorf("input is required")
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FrameCapture{
		config:    cfg,
		frameSize: cfg.Width * cfg.Height * 3,
		FrameCh:   make(chan *Frame, 4),
		errCh:     make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
		ffmpegLog: queue.NewCirQueue[string](100),
	}, nil
}

func (fc *FrameCapture) FrameSize() int {
	return fc.frameSize
}

func (fc *FrameCapture) buildFFmpegArgs() []string {
	fps := strconv.FormatFloat(fc.config.SampleFPS, 'f', -1, 64)
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", fc.config.Input,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d", fps, fc.config.Width, fc.config.Height),
		"pipe:1",
	}
}

func (fc *FrameCapture) Start() error {
	fc.m.Lock()
	defer fc.m.Unlock()
	if fc.started {
		return fmt.Errorf("frame capture already started")
	}

	fc.cmd = exec.CommandContext(fc.ctx, fc.config.FFmpegPath, fc.buildFFmpegArgs()...)
	stdout, err := fc.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := fc.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := fc.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	fc.started = true

	fc.wg.Go(func() { fc.captureLoop(stdout) })
	fc.wg.Go(func() { fc.readStderr(stderr) })
	return nil
}

// captureLoop 从 ffmpeg 的 stdout 读取定长 RGB24 帧
// 文件解码结束时 stdout 关闭，正常 EOF 关闭 FrameCh 即可
func (fc *FrameCapture) captureLoop(stdout io.Reader) {
	defer close(fc.FrameCh)

	reader := bufio.NewReaderSize(stdout, fc.frameSize*4)
	for {
		select {
		case <-fc.ctx.Done():
			return
		default:
		}

		frameBytes := make([]byte, fc.frameSize)
		if _, err := io.ReadFull(reader, frameBytes); err != nil {
			if err == io.EOF {
				return
			}
			select {
			case fc.errCh <- fmt.Errorf("failed to read frame: %w", err):
			default:
			}
			return
		}

		idx := atomic.AddUint64(&fc.frameCount, 1) - 1
		frame := Frame{
			Index:  idx,
			Offset: float64(idx) / fc.config.SampleFPS,
			Data:   frameBytes,
		}

		select {
		case fc.FrameCh <- &frame:
		case <-fc.ctx.Done():
			return
		}
	}
}

// readStderr 读取 ffmpeg 的 stderr 输出用于日志记录
func (fc *FrameCapture) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		fc.ffmpegLog.Push(scan.Text())
	}
}

func (fc *FrameCapture) Frames() <-chan *Frame {
	return fc.FrameCh
}

func (fc *FrameCapture) Error() <-chan error {
	return fc.errCh
}

func (fc *FrameCapture) Log() []string {
	return fc.ffmpegLog.Range()
}

func (fc *FrameCapture) Stop() error {
	fc.m.Lock()
	if !fc.started {
		fc.m.Unlock()
		return nil
	}
	fc.m.Unlock()

	if cancel := fc.cancel; cancel != nil {
		cancel()
	}
	fc.wg.Wait()

	if fc.cmd != nil && fc.cmd.Process != nil {
		done := make(chan error, 1)
		defer close(done)
		go func() {
			done <- fc.cmd.Wait()
		}()

		select {
		case <-time.After(5 * time.Second):
			if err := fc.cmd.Process.Kill(); err != nil {
				return fmt.Errorf("failed to kill ffmpeg: %w", err)
			}
			<-done
		case <-done:
		}
	}
	return nil
}
