package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/recap/internal/conf"
	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/orm"
)

// SessionState 录制会话状态
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateStarting  SessionState = "starting"
	StateRecording SessionState = "recording"
	StateStopping  SessionState = "stopping"
	StateErrored   SessionState = "errored"
)

// SessionStatus 会话状态快照
type SessionStatus struct {
	State     SessionState         `json:"state"`
	Duration  float64              `json:"duration"` // 秒，1 秒粒度刷新
	Output    string               `json:"output"`
	MimeType  string               `json:"mime_type"`
	Protected []timeline.TimeRange `json:"protected_ranges"`
}

// Session 一次录制会话：按帧率轮询场景绘制画面，混音后的 PCM 同步喂给编码器
// 会话是一次性的，停止后不能复用
type Session struct {
	cfg     conf.Capture
	comp    *Compositor
	mixer   *Mixer
	encoder Encoder
	format  Format
	output  string

	startedAt time.Time
	elapsedMS atomic.Int64

	mu        sync.Mutex
	state     SessionState
	err       error
	protected []timeline.TimeRange
	openAt    float64
	openSet   bool
	rec       *Recording

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool
	done     chan struct{}
}

func newSession(ctx context.Context, cfg conf.Capture, scene Scene, mixer *Mixer, format Format, output string, factory EncoderFactory, ffmpegPath string) (*Session, error) {
	s := Session{
		cfg:    cfg,
		mixer:  mixer,
		format: format,
		output: output,
		state:  StateStarting,
		done:   make(chan struct{}),
	}

	comp, err := NewCompositor(cfg.Width, cfg.Height, scene, s.videoEdge)
	if err != nil {
		return nil, err
	}
	s.comp = comp

	params := EncodeParams{
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		VideoBitrate: cfg.VideoBitrate,
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
	}
	if factory == nil {
		factory = func(ctx context.Context, output string, f Format, p EncodeParams) (Encoder, error) {
			return NewFFmpegEncoder(ctx, ffmpegPath, output, f, p)
		}
	}
	enc, err := factory(ctx, output, format, params)
	if err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	s.encoder = enc

	lctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startedAt = time.Now()
	s.state = StateRecording

	s.wg.Add(3)
	go s.paintLoop(lctx)
	go s.audioLoop(lctx)
	go s.durationLoop(lctx)

	return &s, nil
}

// paintLoop 按帧率绘制场景并写入编码器
// 以墙钟时间为准做帧号门控：编码器是 CFR 裸流输入，每写一帧媒体时间
// 固定前进 1/FPS 秒，所以定时器抖动既不能重复帧号，也不能丢帧号。
// 编码器短暂背压挤掉若干个 tick 时，用最后合成的画面补齐缺口帧
func (s *Session) paintLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Second / time.Duration(s.cfg.FPS)
	tick := time.NewTicker(interval)
	defer tick.Stop()

	lastFrame := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			idx := int64(time.Since(s.startedAt) / interval)
			if idx <= lastFrame {
				continue
			}
			frame := s.comp.Paint()
			for ; lastFrame < idx; lastFrame++ {
				if err := s.encoder.WriteFrame(frame); err != nil {
					s.fail(err)
					return
				}
			}
		}
	}
}

// audioLoop 每 100ms 从混音器取 PCM 写入编码器
// 与画面同样按墙钟块号补齐，保证已写采样数始终跟上实际时长；
// 混音器没有源时输出静音，音轨不中断
func (s *Session) audioLoop(ctx context.Context) {
	defer s.wg.Done()
	const chunkInterval = 100 * time.Millisecond
	chunk := make([]int16, s.cfg.SampleRate/10*s.cfg.Channels)
	tick := time.NewTicker(chunkInterval)
	defer tick.Stop()

	lastChunk := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			idx := int64(time.Since(s.startedAt) / chunkInterval)
			for ; lastChunk < idx; lastChunk++ {
				n, err := s.mixer.ReadPCM(chunk)
				if err != nil {
					s.fail(err)
					return
				}
				if err := s.encoder.WritePCM(chunk[:n]); err != nil {
					s.fail(err)
					return
				}
			}
		}
	}
}

// durationLoop 每秒刷新会话时长，供状态查询
func (s *Session) durationLoop(ctx context.Context) {
	defer s.wg.Done()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.elapsedMS.Store(time.Since(s.startedAt).Milliseconds())
		}
	}
}

// videoEdge 视频出现/消失的边沿，维护受保护时间段
// 上升沿开区间，下降沿闭合；录制停止时仍未闭合的区间在 Stop 中收尾
func (s *Session) videoEdge(visible bool) {
	at := time.Since(s.startedAt).Seconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	if visible {
		if !s.openSet {
			s.openAt = at
			s.openSet = true
		}
		return
	}
	if s.openSet {
		s.protected = append(s.protected, timeline.TimeRange{Start: s.openAt, End: at})
		s.openSet = false
	}
}

// AttachAudio 录制过程中接入一路音频源，如中途加入的代理语音
func (s *Session) AttachAudio(src AudioSource) {
	s.mixer.AddSource(src)
}

// DetachAudio 摘除一路音频源，之后该路以静音补齐
func (s *Session) DetachAudio(src AudioSource) {
	s.mixer.RemoveSource(src)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.state = StateErrored
	s.mu.Unlock()
	s.cancel()
	slog.Error("录制会话异常", "output", s.output, "err", err)
}

// Status 当前状态快照
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	protected := make([]timeline.TimeRange, len(s.protected))
	copy(protected, s.protected)
	return SessionStatus{
		State:     s.state,
		Duration:  float64(s.elapsedMS.Load()) / 1000,
		Output:    s.output,
		MimeType:  s.format.MimeType,
		Protected: protected,
	}
}

// Stop 停止录制并封装输出文件
//
// 幂等：并发或重复调用只会有一次真正执行停止流程，其余调用等待同一结果。
// 无论成败，编码器进程与两路管道都会被释放；失败时删除残缺文件。
func (s *Session) Stop() (*Recording, error) {
	if !s.stopping.CompareAndSwap(false, true) {
		<-s.done
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.rec, s.err
	}
	defer close(s.done)

	s.mu.Lock()
	if s.state == StateRecording {
		s.state = StateStopping
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	duration := time.Since(s.startedAt).Seconds()
	closeErr := s.encoder.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	// 停止时视频仍在播放，开区间在结束点闭合
	if s.openSet {
		s.protected = append(s.protected, timeline.TimeRange{Start: s.openAt, End: duration})
		s.openSet = false
	}

	if s.err == nil {
		s.err = closeErr
	}
	if s.err != nil {
		s.state = StateErrored
		if err := os.Remove(s.output); err != nil && !os.IsNotExist(err) {
			slog.Warn("清理失败录制文件", "path", s.output, "err", err)
		}
		return nil, s.err
	}

	var size int64
	if fi, err := os.Stat(s.output); err == nil {
		size = fi.Size()
	}

	s.state = StateIdle
	s.rec = &Recording{
		Path:      s.output,
		MimeType:  s.format.MimeType,
		StartedAt: orm.Time{Time: s.startedAt},
		EndedAt:   orm.Now(),
		Duration:  duration,
		Size:      size,
		Protected: s.protected,
	}
	return s.rec, nil
}
