package ffpipe

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// DecodePCM 将媒体文件的音轨解码为 s16le 单声道采样
// 音轨损坏或缺失时返回错误，由调用方决定失败策略
func DecodePCM(ctx context.Context, ffmpegPath, input string, sampleRate int) ([]int16, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-loglevel", "warning",
		"-i", input,
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	samples := make([]int16, 0, sampleRate*8)
	reader := bufio.NewReaderSize(stdout, 64<<10)
	var buf [2]byte
	for {
		if _, err := io.ReadFull(reader, buf[:]); err != nil {
			if err == io.EOF {
				break
			}
			_ = cmd.Wait()
			return nil, fmt.Errorf("failed to read pcm: %w", err)
		}
		samples = append(samples, int16(binary.LittleEndian.Uint16(buf[:])))
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w, stderr: %s", err, tail(stderr.String(), 512))
	}
	return samples, nil
}

// tail 取字符串末尾 n 字节，错误信息只需要 ffmpeg 输出的结尾部分
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
