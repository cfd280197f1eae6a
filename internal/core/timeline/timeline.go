package timeline

import (
	"fmt"
	"sort"
)

// TimeRange 时间范围（秒），约定 End > Start >= 0
// 静音区间、画面静止区间、受保护区间共用该类型
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Overlaps 判断两个区间是否有交集（含部分重叠）
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && r.End > o.Start
}

type SegmentKind string

const (
	KindActive SegmentKind = "active" // 保留片段
	KindDead   SegmentKind = "dead"   // 可剪除片段
)

// Segment 时间轴片段，同一时间轴的片段连续、不重叠、按 Start 升序，
// 并集恰好覆盖 [0, duration]
type Segment struct {
	Start float64     `json:"start"`
	End   float64     `json:"end"`
	Kind  SegmentKind `json:"kind"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Result 一次死区解析的结果，每次解析重新计算，不做增量合并
type Result struct {
	Segments  []Segment `json:"segments"`
	DeadTotal float64   `json:"dead_time_total_seconds"`
}

// Options 死区解析参数
type Options struct {
	MinDuration float64 // 死区最短时长（秒），含边界内缩之后
	Padding     float64 // 边界内缩（秒），避免在信号检测边缘硬切
}

// Resolve 求静音与画面静止区间的交集，剔除与受保护区间重叠的候选，
// 输出覆盖整个时长的有序片段列表
//
// 处理顺序：
//  1. 两两求交集，丢弃短于 MinDuration 的
//  2. 两端各内缩 Padding 并夹取到 [0, duration]
//  3. 内缩后重新按 MinDuration 过滤
//  4. 与任一受保护区间有交集（哪怕部分）的候选整体剔除
//  5. 合并互相重叠的候选，避免同一段时间被重复计入 DeadTotal
func Resolve(silence, static, protected []TimeRange, duration float64, opt Options) Result {
	dead := make([]TimeRange, 0, len(silence))
	for _, s := range silence {
		for _, v := range static {
			start := max(s.Start, v.Start)
			end := min(s.End, v.End)
			if end-start < opt.MinDuration {
				continue
			}
			padded := TimeRange{
				Start: max(0, start+opt.Padding),
				End:   min(duration, end-opt.Padding),
			}
			if padded.Duration() >= opt.MinDuration {
				dead = append(dead, padded)
			}
		}
	}

	dead = excludeProtected(dead, protected)
	dead = mergeRanges(dead)

	var total float64
	for _, d := range dead {
		total += d.Duration()
	}
	return Result{
		Segments:  buildSegments(dead, duration),
		DeadTotal: total,
	}
}

// excludeProtected 剔除与受保护区间重叠的死区候选
// 受保护内容（如录制时正在播放的视频）无论信号如何都不可剪
func excludeProtected(dead, protected []TimeRange) []TimeRange {
	if len(protected) == 0 {
		return dead
	}
	out := dead[:0]
	for _, d := range dead {
		overlapped := false
		for _, p := range protected {
			if d.Overlaps(p) {
				overlapped = true
				break
			}
		}
		if !overlapped {
			out = append(out, d)
		}
	}
	return out
}

// mergeRanges 按起点排序并合并重叠区间
// 同一静止区间可能与多个静音区间相交出两个重叠候选，不合并会导致重复统计
func mergeRanges(ranges []TimeRange) []TimeRange {
	if len(ranges) <= 1 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// buildSegments 由死区列表生成覆盖 [0, duration] 的完整片段列表
func buildSegments(dead []TimeRange, duration float64) []Segment {
	if len(dead) == 0 {
		return []Segment{{Start: 0, End: duration, Kind: KindActive}}
	}

	out := make([]Segment, 0, len(dead)*2+1)
	cursor := 0.0
	for _, d := range dead {
		if d.Start > cursor {
			out = append(out, Segment{Start: cursor, End: d.Start, Kind: KindActive})
		}
		out = append(out, Segment{Start: d.Start, End: d.End, Kind: KindDead})
		cursor = d.End
	}
	if cursor < duration {
		out = append(out, Segment{Start: cursor, End: duration, Kind: KindActive})
	}
	return out
}

// Validate 校验片段列表满足时间轴不变量：连续、有序、不重叠、恰好覆盖全时长
func Validate(segments []Segment, duration float64) error {
	if len(segments) == 0 {
		return fmt.Errorf("empty segment list")
	}
	if segments[0].Start != 0 {
		return fmt.Errorf("first segment starts at %f, want 0", segments[0].Start)
	}
	for i, s := range segments {
		if s.End <= s.Start {
			return fmt.Errorf("segment %d has non-positive duration [%f, %f]", i, s.Start, s.End)
		}
		if i > 0 && s.Start != segments[i-1].End {
			return fmt.Errorf("gap or overlap between segment %d and %d: %f != %f",
				i-1, i, segments[i-1].End, s.Start)
		}
	}
	if last := segments[len(segments)-1].End; last != duration {
		return fmt.Errorf("last segment ends at %f, want %f", last, duration)
	}
	return nil
}

// ActiveSegments 按起点升序返回保留片段
func ActiveSegments(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Kind == KindActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
