package ffpipe

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Duration 通过 ffprobe 获取媒体文件总时长（秒）
func Duration(ctx context.Context, ffprobePath, input string) (float64, error) {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration [%s]: %w", strings.TrimSpace(string(out)), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration: %f", d)
	}
	return d, nil
}
