package model

import (
	"time"
)

// Exclusion 禁排窗口
// 由某次具体开课推导，窗口内不能再次排同一课程（或相关资质）
type Exclusion struct {
	Interval
	AnchorDate time.Time `json:"anchor_date"` // 产生该窗口的开课日期
	OriginName string    `json:"origin_name"`
}

// OccupancyEnvironment 占用环境
// 每次排课运行基于时间窗口 [Start, End] 重新构建，构建后只读
type OccupancyEnvironment struct {
	Start               time.Time                  `json:"start"`
	End                 time.Time                  `json:"end"`
	ClassExclusions     map[string][]Exclusion     `json:"class_exclusions"`
	ClearanceExclusions map[string][]Exclusion     `json:"clearance_exclusions"`
	Areas               map[string][]NamedInterval `json:"areas"`
	Instructors         map[string][]NamedInterval `json:"instructors"`
}

// NewOccupancyEnvironment 创建空的占用环境
func NewOccupancyEnvironment(start, end time.Time) *OccupancyEnvironment {
	return &OccupancyEnvironment{
		Start:               start,
		End:                 end,
		ClassExclusions:     make(map[string][]Exclusion),
		ClearanceExclusions: make(map[string][]Exclusion),
		Areas:               make(map[string][]NamedInterval),
		Instructors:         make(map[string][]NamedInterval),
	}
}

// Window 返回构建窗口
func (e *OccupancyEnvironment) Window() Interval {
	return Interval{Start: e.Start, End: e.End}
}

// AreaBusy 获取区域的占用列表
func (e *OccupancyEnvironment) AreaBusy(area string) []NamedInterval {
	if e == nil {
		return nil
	}
	return e.Areas[area]
}

// InstructorBusy 获取讲师的占用列表
func (e *OccupancyEnvironment) InstructorBusy(instructorID string) []NamedInterval {
	if e == nil {
		return nil
	}
	return e.Instructors[instructorID]
}

// ExclusionsFor 获取课程的重复开课禁排窗口
func (e *OccupancyEnvironment) ExclusionsFor(classID string) []Exclusion {
	if e == nil {
		return nil
	}
	return e.ClassExclusions[classID]
}

// ClearanceExclusionsFor 获取资质的禁排窗口
func (e *OccupancyEnvironment) ClearanceExclusionsFor(clearanceID string) []Exclusion {
	if e == nil {
		return nil
	}
	return e.ClearanceExclusions[clearanceID]
}

// Assignment 求解器的决策单元：(课程, 讲师, 开课时间)
type Assignment struct {
	ClassID      string    `json:"class_id"`
	ClassName    string    `json:"class_name"`
	InstructorID string    `json:"instructor_id"`
	Start        time.Time `json:"start"`
	Score        float64   `json:"score"`
}

// Plan 排课结果
type Plan struct {
	ByInstructor map[string][]Assignment `json:"by_instructor"`
	Score        float64                 `json:"score"`
	Optimal      bool                    `json:"optimal"`
	Variables    int                     `json:"variables"`
	Nodes        int                     `json:"nodes"`
	Duration     time.Duration           `json:"duration"`
}

// NewPlan 创建空的排课结果
func NewPlan() *Plan {
	return &Plan{ByInstructor: make(map[string][]Assignment)}
}

// Assignments 返回所有分配
func (p *Plan) Assignments() []Assignment {
	var out []Assignment
	for _, list := range p.ByInstructor {
		out = append(out, list...)
	}
	return out
}

// Count 返回分配数量
func (p *Plan) Count() int {
	n := 0
	for _, list := range p.ByInstructor {
		n += len(list)
	}
	return n
}
