package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration 支持 toml 文本解析的时长类型，如 "30s"、"5m"
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type Bootstrap struct {
	// BuildVersion 构建时通过 ldflags 注入
	BuildVersion string `toml:"-"`
	Debug        bool   `toml:"debug"`
	Server       Server `toml:"server"`
	Data         Data   `toml:"data"`
}

type Server struct {
	// FFmpeg 可执行文件路径，留空则从 PATH 查找
	FFmpeg   string   `toml:"ffmpeg"`
	FFprobe  string   `toml:"ffprobe"`
	HTTP     HTTP     `toml:"http"`
	Capture  Capture  `toml:"capture"`
	Analysis Analysis `toml:"analysis"`
	Trim     Trim     `toml:"trim"`
}

type HTTP struct {
	Port      int    `toml:"port"`
	JwtSecret string `toml:"jwt_secret"`
	PProf     PProf  `toml:"pprof"`
}

type PProf struct {
	Enabled   bool     `toml:"enabled"`
	AccessIps []string `toml:"access_ips"`
}

// Capture 录制配置
type Capture struct {
	Width        int    `toml:"width"`         // 画布宽度
	Height       int    `toml:"height"`        // 画布高度
	FPS          int    `toml:"fps"`           // 合成帧率
	VideoBitrate int    `toml:"video_bitrate"` // 视频码率 bps
	SampleRate   int    `toml:"sample_rate"`   // 混音采样率
	Channels     int    `toml:"channels"`      // 混音声道数
	StorageDir   string `toml:"storage_dir"`   // 录制文件输出目录
	RetainDays   int    `toml:"retain_days"`   // 录制文件保留天数，<=0 不清理
}

// Analysis 死区分析配置
type Analysis struct {
	SilenceThreshold float64  `toml:"silence_threshold"` // RMS 静音阈值，[-1,1] 归一化
	SilenceWindow    Duration `toml:"silence_window"`    // 静音检测窗口
	StaticThreshold  float64  `toml:"static_threshold"`  // 画面静止阈值，归一化像素差
	StaticStep       Duration `toml:"static_step"`       // 画面采样间隔
	MinDuration      float64  `toml:"min_duration"`      // 死区最短时长（秒）
	Padding          float64  `toml:"padding"`           // 死区边界内缩（秒）
}

// Trim 剪辑配置
type Trim struct {
	WorkDir string `toml:"work_dir"` // 临时切片目录，留空使用系统临时目录
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

// Load 读取 toml 配置文件，文件不存在时使用默认值
func Load(path string) (*Bootstrap, error) {
	var bc Bootstrap
	b, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(b, &bc); err != nil {
			return nil, fmt.Errorf("parse config [%s]: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	bc.SetDefault()
	return &bc, nil
}

// SetDefault 填充缺省配置
func (bc *Bootstrap) SetDefault() {
	svr := &bc.Server
	if svr.HTTP.Port <= 0 {
		svr.HTTP.Port = 15123
	}

	c := &svr.Capture
	if c.Width <= 0 {
		c.Width = 1920
	}
	if c.Height <= 0 {
		c.Height = 1080
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.VideoBitrate <= 0 {
		c.VideoBitrate = 5_000_000
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join("recordings")
	}

	a := &svr.Analysis
	if a.SilenceThreshold <= 0 {
		a.SilenceThreshold = 0.01
	}
	if a.SilenceWindow <= 0 {
		a.SilenceWindow = Duration(100 * time.Millisecond)
	}
	if a.StaticThreshold <= 0 {
		a.StaticThreshold = 0.005
	}
	if a.StaticStep <= 0 {
		a.StaticStep = Duration(500 * time.Millisecond)
	}
	if a.MinDuration <= 0 {
		a.MinDuration = 2.0
	}
	if a.Padding <= 0 {
		a.Padding = 0.3
	}

	if bc.Data.Database.Dsn == "" {
		bc.Data.Database.Dsn = "recap.db"
	}
	if bc.Data.Database.MaxIdleConns <= 0 {
		bc.Data.Database.MaxIdleConns = 2
	}
	if bc.Data.Database.MaxOpenConns <= 0 {
		bc.Data.Database.MaxOpenConns = 10
	}
	if bc.Data.Database.ConnMaxLifetime <= 0 {
		bc.Data.Database.ConnMaxLifetime = Duration(6 * time.Hour)
	}
	if bc.Data.Database.SlowThreshold <= 0 {
		bc.Data.Database.SlowThreshold = Duration(200 * time.Millisecond)
	}
}
