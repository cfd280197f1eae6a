package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// 画面布局常量，与前端演示样式一一对应
const (
	mediaMargin  = 40 // 媒体内容四周安全边距
	mediaRadius  = 12 // 媒体圆角半径
	dotSpacing   = 20 // 点阵间距
	titleLine    = 80 // 标题行高
	bodyLine     = 48 // 正文行高
	pointLine    = 40 // 要点行高
	pointIndent  = 40 // 要点文字相对圆点的缩进
	titleGap     = 30 // 标题与正文间距
	bodyGap      = 20 // 正文与要点间距
	pointGap     = 20 // 要点之间的间距
)

var (
	dotColor       = color.NRGBA{0x33, 0x33, 0x33, 178} // #333 @ 0.7
	markerColor    = color.NRGBA{0x00, 0x7a, 0xff, 255} // 要点圆点 #007aff
	darkBackground = color.NRGBA{0x00, 0x00, 0x00, 255}
	lightBack      = color.NRGBA{0xf5, 0xf5, 0xf5, 255}
	darkTitle      = color.NRGBA{0x1a, 0x1a, 0x1a, 255}
	darkBody       = color.NRGBA{0x33, 0x33, 0x33, 255}
	lightTitle     = color.NRGBA{0xe0, 0xe0, 0xe0, 255}
	lightBody      = color.NRGBA{0xcc, 0xcc, 0xcc, 255}
)

// Compositor 把当前演示场景绘制成一帧画面
// 内容优先级严格为 视频 > 图片 > 文字，只画第一个命中的，不做叠加
type Compositor struct {
	width, height int
	scene         Scene
	frame         *image.RGBA
	videoVisible  bool
	// 视频出现/消失的边沿回调，供会话记录受保护区间
	onVideoEdge func(visible bool)

	titleFace  font.Face
	bodyFace   font.Face
	pointFace  font.Face
	markerFace font.Face
}

func NewCompositor(width, height int, scene Scene, onVideoEdge func(bool)) (*Compositor, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}

	newFace := func(f *opentype.Font, size float64) (font.Face, error) {
		return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	}
	titleFace, err := newFace(bold, 64)
	if err != nil {
		return nil, fmt.Errorf("title face: %w", err)
	}
	bodyFace, err := newFace(regular, 32)
	if err != nil {
		return nil, fmt.Errorf("body face: %w", err)
	}
	pointFace, err := newFace(regular, 28)
	if err != nil {
		return nil, fmt.Errorf("point face: %w", err)
	}
	markerFace, err := newFace(bold, 28)
	if err != nil {
		return nil, fmt.Errorf("marker face: %w", err)
	}

	return &Compositor{
		width:       width,
		height:      height,
		scene:       scene,
		frame:       image.NewRGBA(image.Rect(0, 0, width, height)),
		onVideoEdge: onVideoEdge,
		titleFace:   titleFace,
		bodyFace:    bodyFace,
		pointFace:   pointFace,
		markerFace:  markerFace,
	}, nil
}

// Paint 绘制一帧：主题背景、主题纹理、前景内容
// 场景缺失时只画背景，不算错误
func (p *Compositor) Paint() *image.RGBA {
	theme := ThemeNone
	if p.scene != nil {
		theme = p.scene.Theme()
	}

	bg := darkBackground
	if theme.IsLight() {
		bg = lightBack
	}
	draw.Draw(p.frame, p.frame.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	switch theme {
	case ThemeDots:
		p.paintDots()
	case ThemeLines:
		p.paintLines()
	}

	if p.scene == nil {
		p.closeVideoEdge()
		return p.frame
	}

	// 视频必须解码就绪且有非零尺寸才算“正在播放”
	if v := p.scene.Video(); v != nil && v.Ready() {
		if frame := v.Frame(); frame != nil && !frame.Bounds().Empty() {
			p.drawMediaContained(frame)
			if !p.videoVisible {
				p.videoVisible = true
				if p.onVideoEdge != nil {
					p.onVideoEdge(true)
				}
			}
			return p.frame
		}
	}
	p.closeVideoEdge()

	if img := p.scene.Image(); img != nil && !img.Bounds().Empty() {
		p.drawMediaContained(img)
		return p.frame
	}
	if txt := p.scene.Text(); txt != nil {
		p.drawTextContent(txt, theme.IsLight())
	}
	return p.frame
}

// closeVideoEdge 视频从画面消失时上报下降沿
func (p *Compositor) closeVideoEdge() {
	if p.videoVisible {
		p.videoVisible = false
		if p.onVideoEdge != nil {
			p.onVideoEdge(false)
		}
	}
}

// paintDots 点阵纹理：固定间距、1 像素半径、70% 透明度
func (p *Compositor) paintDots() {
	src := &image.Uniform{dotColor}
	for x := dotSpacing; x < p.width; x += dotSpacing {
		for y := dotSpacing; y < p.height; y += dotSpacing {
			m := &circleMask{center: image.Pt(x, y), radius: 1}
			draw.DrawMask(p.frame, m.Bounds(), src, image.Point{}, m, m.Bounds().Min, draw.Over)
		}
	}
}

// paintLines 复制宿主 UI 独立动画的线条画布当前帧
func (p *Compositor) paintLines() {
	pattern := p.scene.PatternFrame()
	if pattern == nil || pattern.Bounds().Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(p.frame, p.frame.Bounds(), pattern, pattern.Bounds(), xdraw.Over, nil)
}

// drawMediaContained 等比缩放居中绘制，带圆角裁剪（等效 object-fit: contain）
func (p *Compositor) drawMediaContained(src image.Image) {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	scale := min(
		float64(p.width-2*mediaMargin)/float64(sw),
		float64(p.height-2*mediaMargin)/float64(sh),
	)
	w := int(float64(sw) * scale)
	h := int(float64(sh) * scale)
	if w <= 0 || h <= 0 {
		return
	}
	x := (p.width - w) / 2
	y := (p.height - h) / 2

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, sb, xdraw.Src, nil)

	dst := image.Rect(x, y, x+w, y+h)
	mask := &roundedMask{rect: dst, radius: mediaRadius}
	draw.DrawMask(p.frame, dst, scaled, image.Point{}, mask, dst.Min, draw.Over)
}

// drawTextContent 绘制标题、正文、要点，按主题取对比色
func (p *Compositor) drawTextContent(txt *TextContent, isLight bool) {
	titleColor, bodyColor := lightTitle, lightBody
	if isLight {
		titleColor, bodyColor = darkTitle, darkBody
	}

	yPos := p.height * 3 / 10

	if title := strings.TrimSpace(txt.Title); title != "" {
		for _, line := range wrapText(p.titleFace, title, p.width*8/10) {
			p.drawCentered(p.titleFace, line, titleColor, yPos)
			yPos += titleLine
		}
		yPos += titleGap
	}

	if body := strings.TrimSpace(txt.Body); body != "" {
		for _, line := range wrapText(p.bodyFace, body, p.width*3/4) {
			p.drawCentered(p.bodyFace, line, bodyColor, yPos)
			yPos += bodyLine
		}
		yPos += bodyGap
	}

	if len(txt.Points) > 0 {
		startX := p.width * 18 / 100
		maxWidth := p.width * 64 / 100
		for _, point := range txt.Points {
			p.drawAt(p.markerFace, "•", markerColor, startX, yPos)
			lines := wrapText(p.pointFace, strings.TrimSpace(point), maxWidth)
			for i, line := range lines {
				p.drawAt(p.pointFace, line, bodyColor, startX+pointIndent, yPos+i*pointLine)
			}
			yPos += max(len(lines), 1)*pointLine + pointGap
		}
	}
}

func (p *Compositor) drawCentered(face font.Face, s string, c color.Color, y int) {
	w := font.MeasureString(face, s).Ceil()
	p.drawAt(face, s, c, (p.width-w)/2, y)
}

func (p *Compositor) drawAt(face font.Face, s string, c color.Color, x, y int) {
	d := font.Drawer{
		Dst:  p.frame,
		Src:  &image.Uniform{c},
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// wrapText 按空格分词折行，保证每行宽度不超过 maxWidth
// 单词本身超宽时独占一行
func wrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	lines := make([]string, 0, 4)
	current := ""
	for _, word := range words {
		test := word
		if current != "" {
			test = current + " " + word
		}
		if font.MeasureString(face, test).Ceil() > maxWidth && current != "" {
			lines = append(lines, current)
			current = word
			continue
		}
		current = test
	}
	return append(lines, current)
}

// circleMask 圆形透明度蒙版
type circleMask struct {
	center image.Point
	radius int
}

func (c *circleMask) ColorModel() color.Model { return color.AlphaModel }

func (c *circleMask) Bounds() image.Rectangle {
	return image.Rect(c.center.X-c.radius, c.center.Y-c.radius, c.center.X+c.radius+1, c.center.Y+c.radius+1)
}

func (c *circleMask) At(x, y int) color.Color {
	dx, dy := x-c.center.X, y-c.center.Y
	if dx*dx+dy*dy <= c.radius*c.radius {
		return color.Alpha{255}
	}
	return color.Alpha{0}
}

// roundedMask 圆角矩形透明度蒙版
type roundedMask struct {
	rect   image.Rectangle
	radius int
}

func (r *roundedMask) ColorModel() color.Model { return color.AlphaModel }

func (r *roundedMask) Bounds() image.Rectangle { return r.rect }

func (r *roundedMask) At(x, y int) color.Color {
	if !image.Pt(x, y).In(r.rect) {
		return color.Alpha{0}
	}
	rad := r.radius
	// 距四角圆心的偏移，只有落在角区且在圆外的点透明
	cx, cy := x, y
	switch {
	case x < r.rect.Min.X+rad && y < r.rect.Min.Y+rad:
		cx, cy = r.rect.Min.X+rad, r.rect.Min.Y+rad
	case x >= r.rect.Max.X-rad && y < r.rect.Min.Y+rad:
		cx, cy = r.rect.Max.X-rad-1, r.rect.Min.Y+rad
	case x < r.rect.Min.X+rad && y >= r.rect.Max.Y-rad:
		cx, cy = r.rect.Min.X+rad, r.rect.Max.Y-rad-1
	case x >= r.rect.Max.X-rad && y >= r.rect.Max.Y-rad:
		cx, cy = r.rect.Max.X-rad-1, r.rect.Max.Y-rad-1
	default:
		return color.Alpha{255}
	}
	dx, dy := x-cx, y-cy
	if dx*dx+dy*dy <= rad*rad {
		return color.Alpha{255}
	}
	return color.Alpha{0}
}
