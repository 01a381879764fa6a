package model

import (
	"sort"
	"time"
)

// ClassTemplate 可排课的课程模板
// 一次排课运行期间不可变
type ClassTemplate struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Hours       float64       `json:"hours" db:"hours"`       // 单次课时长（小时）
	Sessions    int           `json:"sessions" db:"sessions"` // 期数，多周集训课大于1
	Areas       []string      `json:"areas" db:"areas"`
	Score       float64       `json:"score" db:"score"`   // 期望得分（非负）
	Period      time.Duration `json:"period" db:"period"` // 重复开课的最小间隔
	Instructors []string      `json:"instructors,omitempty" db:"instructors"`
	Approved    bool          `json:"approved" db:"approved"`
	Schedulable bool          `json:"schedulable" db:"schedulable"`
	Clearances  []string      `json:"clearances,omitempty" db:"clearances"`
}

// SessionLength 返回单次课的时长
func (c *ClassTemplate) SessionLength() time.Duration {
	return time.Duration(c.Hours * float64(time.Hour))
}

// SessionCount 返回期数（至少1期）
func (c *ClassTemplate) SessionCount() int {
	if c.Sessions < 1 {
		return 1
	}
	return c.Sessions
}

// SessionIntervals 以 start 为第一期开始时间，展开所有期的上课区间
// 第 k 期开始于 start + 7k 天
func (c *ClassTemplate) SessionIntervals(start time.Time) []Interval {
	n := c.SessionCount()
	length := c.SessionLength()
	out := make([]Interval, n)
	for k := 0; k < n; k++ {
		s := start.AddDate(0, 0, 7*k)
		out[k] = Interval{Start: s, End: s.Add(length)}
	}
	return out
}

// IsSchedulable 检查课程是否已审批且可排
func (c *ClassTemplate) IsSchedulable() bool {
	return c.Approved && c.Schedulable
}

// OccupiesArea 检查课程是否占用某区域
func (c *ClassTemplate) OccupiesArea(area string) bool {
	for _, a := range c.Areas {
		if a == area {
			return true
		}
	}
	return false
}

// AllowsInstructor 检查讲师是否在课程的审批名单内
// 名单为空表示不限制
func (c *ClassTemplate) AllowsInstructor(instructorID string) bool {
	if len(c.Instructors) == 0 {
		return true
	}
	for _, id := range c.Instructors {
		if id == instructorID {
			return true
		}
	}
	return false
}

// Instructor 讲师
type Instructor struct {
	ID           string      `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	Capabilities []string    `json:"capabilities"` // 可授课程ID
	Availability []time.Time `json:"availability"` // 可用的开课时间
	MaxClasses   *int        `json:"max_classes,omitempty"`
}

// CanTeach 检查讲师是否可以教授某课程
func (i *Instructor) CanTeach(classID string) bool {
	for _, c := range i.Capabilities {
		if c == classID {
			return true
		}
	}
	return false
}

// IsAvailable 检查讲师在某时间是否可用
func (i *Instructor) IsAvailable(t time.Time) bool {
	for _, a := range i.Availability {
		if a.Equal(t) {
			return true
		}
	}
	return false
}

// HasLoadCap 检查讲师是否设置了课程数上限
func (i *Instructor) HasLoadCap() bool {
	return i.MaxClasses != nil
}

// ScheduledRun 已发布的一次开课（包含所有期）
type ScheduledRun struct {
	ClassID      string     `json:"class_id" db:"class_id"`
	ClassName    string     `json:"class_name" db:"class_name"`
	InstructorID string     `json:"instructor_id" db:"instructor_id"`
	Sessions     []Interval `json:"sessions"`
}

// Bounds 返回第一期与最后一期
func (r *ScheduledRun) Bounds() (first, last Interval, ok bool) {
	if len(r.Sessions) == 0 {
		return Interval{}, Interval{}, false
	}
	sorted := make([]Interval, len(r.Sessions))
	copy(sorted, r.Sessions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return sorted[0], sorted[len(sorted)-1], true
}

// Reservation 独立的资源预约
type Reservation struct {
	ResourceID string   `json:"resource_id" db:"resource_id"`
	Interval   Interval `json:"interval"` // 已含缓冲时间
	Label      string   `json:"label" db:"label"`
}
