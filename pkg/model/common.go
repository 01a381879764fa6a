// Package model 定义排课引擎的核心数据模型
package model

import (
	"time"
)

// DateLayout 日期格式
const DateLayout = "2006-01-02"

// Week 多期课程相邻两期之间的间隔
const Week = 7 * 24 * time.Hour

// Interval 时间区间
// 类型本身不强制 Start <= End，但所有使用方都以此为前提
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval 创建时间区间
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Duration 返回区间时长
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps 检查两个区间是否重叠
// 首尾相接（A.End == B.Start）不算重叠
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains 检查区间是否包含某个时间点（左闭右开）
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Covers 检查闭区间 [Start, End] 是否包含某个时间点
func (iv Interval) Covers(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// Shift 整体平移区间
func (iv Interval) Shift(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(d), End: iv.End.Add(d)}
}

// NamedInterval 带占用者名称的区间，用于冲突提示
type NamedInterval struct {
	Interval
	Name string `json:"name"`
}

// SameDate 判断两个时间在指定时区下是否为同一天
func SameDate(a, b time.Time, loc *time.Location) bool {
	if loc != nil {
		a, b = a.In(loc), b.In(loc)
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateOf 返回时间所在日期的字符串
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseTime 解析 RFC3339 时间或 YYYY-MM-DD 日期
// 纯日期按 loc 解析为当天零点，dateOnly 为 true
func ParseTime(s string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err = time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
