package capture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gowvp/recap/internal/conf"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// RecordingStorer Instantiation interface
type RecordingStorer interface {
	Find(context.Context, *[]*Recording, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Recording, ...orm.QueryOption) error
	Add(context.Context, *Recording) error
	Edit(context.Context, *Recording, func(*Recording), ...orm.QueryOption) error
	Del(context.Context, *Recording, ...orm.QueryOption) error

	Session(context.Context, ...func(*gorm.DB) error) error
}

// Storer data persistence
type Storer interface {
	Recording() RecordingStorer
}

// Core business domain
// 管理录制会话与录像元数据，同一时间最多一个活动会话
type Core struct {
	store   Storer
	cfg     *conf.Capture
	ffmpeg  string
	factory EncoderFactory
	probe   func(context.Context, string) (Format, error)

	slot *sessionSlot
}

type sessionSlot struct {
	mu  sync.Mutex
	cur *Session
}

type Option func(*Core)

// WithEncoderFactory 替换编码器实现，测试用
func WithEncoderFactory(f EncoderFactory) Option {
	return func(c *Core) { c.factory = f }
}

// WithFormatProbe 替换格式探测，测试用
func WithFormatProbe(probe func(context.Context, string) (Format, error)) Option {
	return func(c *Core) { c.probe = probe }
}

// NewCore create business domain
func NewCore(bc *conf.Bootstrap, store Storer, opts ...Option) Core {
	c := Core{
		store:  store,
		cfg:    &bc.Server.Capture,
		ffmpeg: bc.Server.FFmpeg,
		probe:  ProbeFormat,
		slot:   &sessionSlot{},
	}
	if c.ffmpeg == "" {
		c.ffmpeg = "ffmpeg"
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// StartSession 开始录制
// 已有会话在录制中时拒绝，避免两个编码进程争抢同一输出目录
func (c Core) StartSession(ctx context.Context, scene Scene, sources ...AudioSource) (*Session, error) {
	c.slot.mu.Lock()
	defer c.slot.mu.Unlock()

	if cur := c.slot.cur; cur != nil {
		switch cur.Status().State {
		case StateRecording, StateStarting, StateStopping:
			return nil, reason.ErrBadRequest.Withf("recording already in progress")
		}
	}

	format, err := c.probe(ctx, c.ffmpeg)
	if err != nil {
		return nil, reason.ErrBadRequest.Withf("no usable encoder: %s", err.Error())
	}

	dir := c.cfg.StorageDir
	if dir == "" {
		dir = "./recordings"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reason.ErrBadRequest.Withf("create storage dir: %s", err.Error())
	}
	output := filepath.Join(dir, time.Now().Format("20060102_150405")+format.Ext)

	mixer := NewMixer()
	for _, src := range sources {
		mixer.AddSource(src)
	}

	s, err := newSession(ctx, *c.cfg, scene, mixer, format, output, c.factory, c.ffmpeg)
	if err != nil {
		return nil, err
	}
	c.slot.cur = s

	slog.InfoContext(ctx, "录制开始",
		"output", output,
		"mime", format.MimeType,
		"size", [2]int{c.cfg.Width, c.cfg.Height},
		"fps", c.cfg.FPS,
	)
	return s, nil
}

// CurrentSession 当前会话，没有时返回 nil
func (c Core) CurrentSession() *Session {
	c.slot.mu.Lock()
	defer c.slot.mu.Unlock()
	return c.slot.cur
}

// SessionStatus 当前会话状态，没有会话时是空闲态
func (c Core) SessionStatus() SessionStatus {
	if s := c.CurrentSession(); s != nil {
		return s.Status()
	}
	return SessionStatus{State: StateIdle}
}

// StopSession 停止当前会话并持久化录像元数据
func (c Core) StopSession(ctx context.Context) (*Recording, error) {
	s := c.CurrentSession()
	if s == nil {
		return nil, reason.ErrBadRequest.Withf("no recording in progress")
	}
	rec, err := s.Stop()
	if err != nil {
		return nil, reason.ErrBadRequest.Withf("stop recording: %s", err.Error())
	}
	if err := c.store.Recording().Add(ctx, rec); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	slog.InfoContext(ctx, "录制结束",
		"id", rec.ID,
		"path", rec.Path,
		"duration", rec.Duration,
		"protected", len(rec.Protected),
	)
	return rec, nil
}

// FindRecordings 分页查询录像列表，按开始时间倒序
func (c Core) FindRecordings(ctx context.Context, in *FindRecordingInput) ([]*Recording, int64, error) {
	query := orm.NewQuery(2).OrderBy("started_at DESC")
	if in.StartMs > 0 && in.EndMs > 0 {
		query.Where("started_at >= ? AND ended_at <= ?", in.StartAt(), in.EndAt())
	}

	items := make([]*Recording, 0, in.Limit())
	total, err := c.store.Recording().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetRecording Query a single object
func (c Core) GetRecording(ctx context.Context, id int64) (*Recording, error) {
	out := Recording{ID: id}
	if err := c.store.Recording().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// EditRecording Update object information
func (c Core) EditRecording(ctx context.Context, in *EditRecordingInput, id int64) (*Recording, error) {
	var out Recording
	if err := c.store.Recording().Edit(ctx, &out, func(b *Recording) {
		if err := copier.Copy(b, in); err != nil {
			slog.ErrorContext(ctx, "Copy", "err", err)
		}
	}, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// DelRecording 删除录像记录及其文件
func (c Core) DelRecording(ctx context.Context, id int64) (*Recording, error) {
	out := Recording{ID: id}
	if err := c.store.Recording().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	if err := c.store.Recording().Del(ctx, &out, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Del id[%v] err[%s]`, id, err.Error())
	}
	for _, p := range recordingFiles(&out) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "删除录像文件失败", "path", p, "err", err)
		}
	}
	return &out, nil
}

// recordingFiles 录像本体与剪辑产物的路径
func recordingFiles(rec *Recording) []string {
	ext := filepath.Ext(rec.Path)
	trimmed := rec.Path[:len(rec.Path)-len(ext)] + ".trimmed" + ext
	return []string{rec.Path, trimmed}
}
