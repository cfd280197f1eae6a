package capture

import (
	"image"

	"github.com/gowvp/recap/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/orm"
)

// Theme 演示背景主题
type Theme string

const (
	ThemeNone  Theme = "none"  // 纯黑背景
	ThemeDots  Theme = "dots"  // 点阵
	ThemeLines Theme = "lines" // 动态线条，由宿主 UI 绘制
	ThemeLight Theme = "light" // 浅色背景深色文字
)

// IsLight 浅色主题使用深色前景
func (t Theme) IsLight() bool {
	return t == ThemeLight
}

// Scene 宿主提供的只读演示场景，合成器每帧轮询一次
// 实现方保证并发读安全，合成器不会修改场景
type Scene interface {
	Theme() Theme
	// Video 当前展示的视频内容，没有时返回 nil
	Video() VideoContent
	// Image 当前展示的图片，没有时返回 nil
	Image() image.Image
	// Text 当前展示的文字内容，没有时返回 nil
	Text() *TextContent
	// PatternFrame lines 主题的动画画布当前帧，由宿主 UI 驱动动画，
	// 合成器只复制像素，不拥有动画；没有时返回 nil
	PatternFrame() image.Image
}

// VideoContent 场景中的视频内容
// 判断“正在播放”必须依据解码就绪且尺寸非零，而不是内容存在与否，
// 避免把还在加载的视频误判为播放中
type VideoContent interface {
	// Ready 是否有足够的解码数据可以绘制
	Ready() bool
	// Frame 当前帧，未就绪时可能为 nil
	Frame() image.Image
}

// TextContent 结构化文字内容：标题、正文、要点列表
type TextContent struct {
	Title  string
	Body   string
	Points []string
}

// AudioSource 提供 s16le 交错 PCM 采样，读尽返回 io.EOF
type AudioSource interface {
	ReadPCM(p []int16) (int, error)
}

// Recording 一次录制会话产出的元数据
type Recording struct {
	ID        int64                `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string               `json:"name" gorm:"size:128"`      // 展示名称
	Path      string               `json:"path" gorm:"size:512"`      // 文件路径
	MimeType  string               `json:"mime_type" gorm:"size:64"`  // 容器类型
	StartedAt orm.Time             `json:"started_at"`                // 录制开始时间
	EndedAt   orm.Time             `json:"ended_at"`                  // 录制结束时间
	Duration  float64              `json:"duration"`                  // 时长（秒）
	Size      int64                `json:"size"`                      // 文件大小（字节）
	Protected []timeline.TimeRange `json:"protected_ranges" gorm:"serializer:json"` // 录制期间视频播放的时间段
}

func (Recording) TableName() string {
	return "recordings"
}
