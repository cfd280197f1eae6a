package timeline

import (
	"fmt"

	"github.com/grafov/m3u8"
)

// Playlist 将保留片段生成 m3u8 预览播放列表
// 每个保留片段作为一条媒体片段，URI 使用 Media Fragment 语法指向源文件片段，
// 前端可以按列表顺序预览剪辑后的效果
func Playlist(segments []Segment, mediaURI string) (string, error) {
	active := ActiveSegments(segments)
	if len(active) == 0 {
		return "", fmt.Errorf("no active segments")
	}

	pl, err := m3u8.NewMediaPlaylist(uint(len(active)), uint(len(active)))
	if err != nil {
		return "", fmt.Errorf("create playlist: %w", err)
	}
	pl.MediaType = m3u8.VOD

	for _, seg := range active {
		uri := fmt.Sprintf("%s#t=%.3f,%.3f", mediaURI, seg.Start, seg.End)
		if err := pl.Append(uri, seg.Duration(), ""); err != nil {
			return "", fmt.Errorf("append segment [%.3f, %.3f]: %w", seg.Start, seg.End, err)
		}
	}
	pl.Close()
	return pl.Encode().String(), nil
}
