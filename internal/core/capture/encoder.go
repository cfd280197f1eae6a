package capture

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// Format 输出容器与编码器组合
type Format struct {
	VideoCodec string
	AudioCodec string
	Ext        string
	MimeType   string
}

// formatPreference 按质量从高到低的候选组合，取第一个本机 ffmpeg 支持的
var formatPreference = []Format{
	{VideoCodec: "libx264", AudioCodec: "aac", Ext: ".mp4", MimeType: "video/mp4"},
	{VideoCodec: "libvpx-vp9", AudioCodec: "libopus", Ext: ".webm", MimeType: "video/webm"},
	{VideoCodec: "mpeg4", AudioCodec: "aac", Ext: ".mp4", MimeType: "video/mp4"},
}

// ProbeFormat 查询本机 ffmpeg 支持的编码器并选择输出格式
func ProbeFormat(ctx context.Context, ffmpegPath string) (Format, error) {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Format{}, fmt.Errorf("probe encoders: %w", err)
	}
	return pickFormat(string(out))
}

// pickFormat 从 `ffmpeg -encoders` 输出中选首个视频音频编码器都可用的组合
func pickFormat(encoders string) (Format, error) {
	available := make(map[string]bool, 64)
	for _, line := range strings.Split(encoders, "\n") {
		// 形如 " V..... libx264    H.264 ..."，第二列是编码器名
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			available[fields[1]] = true
		}
	}
	for _, f := range formatPreference {
		if available[f.VideoCodec] && available[f.AudioCodec] {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("no supported encoder combination")
}

// Encoder 接收画面帧与 PCM 采样，封装成媒体文件
// Close 之后文件完整可播放，任何实现只允许 Close 一次
type Encoder interface {
	WriteFrame(frame *image.RGBA) error
	WritePCM(samples []int16) error
	Close() error
}

// EncoderFactory 创建编码器，测试时替换为假实现
type EncoderFactory func(ctx context.Context, output string, f Format, bc EncodeParams) (Encoder, error)

// EncodeParams 编码参数，来自采集配置
type EncodeParams struct {
	Width        int
	Height       int
	FPS          int
	VideoBitrate int // bit/s
	SampleRate   int
	Channels     int
}

// ffmpegEncoder 视频帧走 stdin、PCM 走 fd 3，两路裸流实时喂给 ffmpeg
type ffmpegEncoder struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	video    io.WriteCloser
	audio    *os.File
	logs     *queue.CirQueue[string]
	stderrWG sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegEncoder 启动 ffmpeg 编码进程
func NewFFmpegEncoder(ctx context.Context, ffmpegPath, output string, f Format, p EncodeParams) (Encoder, error) {
	audioR, audioW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("audio pipe: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", strconv.Itoa(p.FPS),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-i", "pipe:3",
		"-c:v", f.VideoCodec,
		"-b:v", strconv.Itoa(p.VideoBitrate),
		"-c:a", f.AudioCodec,
		"-pix_fmt", "yuv420p",
		output,
	}
	cmd := exec.CommandContext(cctx, ffmpegPath, args...)
	cmd.ExtraFiles = []*os.File{audioR} // fd 3

	video, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("video pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	e := ffmpegEncoder{
		cmd:    cmd,
		cancel: cancel,
		video:  video,
		audio:  audioW,
		logs:   queue.NewCirQueue[string](100),
	}

	if err := cmd.Start(); err != nil {
		cancel()
		audioR.Close()
		audioW.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	// 读端已由子进程持有
	audioR.Close()

	e.stderrWG.Add(1)
	go e.readStderr(stderr)

	return &e, nil
}

func (e *ffmpegEncoder) readStderr(r io.Reader) {
	defer e.stderrWG.Done()
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		e.logs.Push(scan.Text())
	}
}

func (e *ffmpegEncoder) WriteFrame(frame *image.RGBA) error {
	if _, err := e.video.Write(frame.Pix); err != nil {
		return fmt.Errorf("write frame: %w, ffmpeg: %s", err, e.tailLog())
	}
	return nil
}

func (e *ffmpegEncoder) WritePCM(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	if _, err := e.audio.Write(buf); err != nil {
		return fmt.Errorf("write pcm: %w, ffmpeg: %s", err, e.tailLog())
	}
	return nil
}

// Close 关闭两路输入让 ffmpeg 正常收尾，超时则杀掉进程
func (e *ffmpegEncoder) Close() error {
	e.closeOnce.Do(func() {
		e.video.Close()
		e.audio.Close()

		done := make(chan error, 1)
		go func() { done <- e.cmd.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				e.closeErr = fmt.Errorf("ffmpeg exit: %w, output: %s", err, e.tailLog())
			}
		case <-time.After(5 * time.Second):
			e.cancel()
			<-done
			e.closeErr = fmt.Errorf("ffmpeg did not finalize in time")
		}
		e.cancel()
		e.stderrWG.Wait()
	})
	return e.closeErr
}

func (e *ffmpegEncoder) tailLog() string {
	return strings.TrimSpace(strings.Join(e.logs.Range(), "\n"))
}
