package capture

import (
	"errors"
	"io"
	"sync"
)

// Mixer 把多路 PCM 源叠加成一路录制用音频
// 麦克风与视频声音各自作为一路源接入，任意一路读尽后自动摘除，
// 没有任何源时输出静音，录制不中断
type Mixer struct {
	mu      sync.Mutex
	sources []AudioSource
	scratch []int16
}

func NewMixer() *Mixer {
	return &Mixer{}
}

// AddSource 接入一路音频源，录制过程中可随时接入
func (m *Mixer) AddSource(src AudioSource) {
	if src == nil {
		return
	}
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
}

// RemoveSource 摘除一路音频源
func (m *Mixer) RemoveSource(src AudioSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sources {
		if s == src {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			return
		}
	}
}

// ReadPCM 叠加所有源的采样并饱和截断，永远填满整个缓冲区
func (m *Mixer) ReadPCM(p []int16) (int, error) {
	for i := range p {
		p[i] = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cap(m.scratch) < len(p) {
		m.scratch = make([]int16, len(p))
	}
	scratch := m.scratch[:len(p)]

	for i := 0; i < len(m.sources); {
		src := m.sources[i]
		n, err := src.ReadPCM(scratch)
		for j := 0; j < n; j++ {
			p[j] = saturateAdd(p[j], scratch[j])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return 0, err
			}
			// 读尽的源摘除，剩余部分保持静音
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			continue
		}
		i++
	}
	return len(p), nil
}

func saturateAdd(a, b int16) int16 {
	sum := int32(a) + int32(b)
	if sum > 32767 {
		return 32767
	}
	if sum < -32768 {
		return -32768
	}
	return int16(sum)
}
