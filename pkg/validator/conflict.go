// Package validator 提供单次开课提案的冲突校验
package validator

import (
	"fmt"
	"time"

	"github.com/paiban/classplan/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictSessionCount  ConflictType = "session_count"  // 期数不符
	ConflictDuration      ConflictType = "duration"       // 时长不符
	ConflictBusinessHours ConflictType = "business_hours" // 超出营业时间
	ConflictHoliday       ConflictType = "holiday"        // 节假日
	ConflictInstructor    ConflictType = "instructor"     // 讲师当天已有安排
	ConflictArea          ConflictType = "area"           // 区域被占用
	ConflictExclusion     ConflictType = "exclusion"      // 处于禁排窗口
)

// Conflict 冲突信息
type Conflict struct {
	Type    ConflictType `json:"type"`
	Session int          `json:"session"` // 第几期（从0开始），-1 表示整体
	Message string       `json:"message"`
}

// Config 校验器配置
type Config struct {
	OpenHour    int            // 营业开始（时）
	CloseHour   int            // 营业结束（时）
	Location    *time.Location // 判断日期与营业时间使用的时区
	StopAtFirst bool           // 每期只保留第一个冲突
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		OpenHour:  10,
		CloseHour: 22,
		Location:  time.Local,
	}
}

// candidate 单期待校验的上课时段
type candidate struct {
	index        int
	session      model.Interval
	instructorID string
	class        *model.ClassTemplate
	env          *model.OccupancyEnvironment
}

// rule 校验规则：按顺序统一执行
type rule struct {
	typ   ConflictType
	check func(v *Validator, c *candidate) string
}

// rules 规则顺序即冲突提示的优先级
var rules = []rule{
	{typ: ConflictDuration, check: (*Validator).checkDuration},
	{typ: ConflictBusinessHours, check: (*Validator).checkBusinessHours},
	{typ: ConflictHoliday, check: (*Validator).checkHoliday},
	{typ: ConflictInstructor, check: (*Validator).checkInstructor},
	{typ: ConflictArea, check: (*Validator).checkArea},
	{typ: ConflictExclusion, check: (*Validator).checkExclusion},
}

// Validator 开课提案校验器
// 只读访问占用环境，可并发调用
type Validator struct {
	config   *Config
	holidays HolidayCalendar
}

// NewValidator 创建校验器
func NewValidator(config *Config, holidays HolidayCalendar) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if holidays == nil {
		holidays = NoHolidays{}
	}
	return &Validator{config: config, holidays: holidays}
}

// Check 校验一个完整的多期提案，返回结构化冲突
func (v *Validator) Check(instructorID string, sessions []model.Interval, class *model.ClassTemplate, env *model.OccupancyEnvironment) []Conflict {
	var conflicts []Conflict

	if len(sessions) != class.SessionCount() {
		conflicts = append(conflicts, Conflict{
			Type:    ConflictSessionCount,
			Session: -1,
			Message: fmt.Sprintf("课程 %s 需要 %d 期，提交了 %d 期", class.Name, class.SessionCount(), len(sessions)),
		})
	}

	for i, s := range sessions {
		c := &candidate{index: i, session: s, instructorID: instructorID, class: class, env: env}
		for _, r := range rules {
			msg := r.check(v, c)
			if msg == "" {
				continue
			}
			conflicts = append(conflicts, Conflict{Type: r.typ, Session: i, Message: msg})
			if v.config.StopAtFirst {
				break
			}
		}
	}

	return conflicts
}

// Validate 校验提案，返回可读的冲突原因（为空表示通过）
func (v *Validator) Validate(instructorID string, sessions []model.Interval, class *model.ClassTemplate, env *model.OccupancyEnvironment) []string {
	conflicts := v.Check(instructorID, sessions, class, env)
	reasons := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		reasons = append(reasons, c.Message)
	}
	return reasons
}

// Accepts 判断以 start 开课是否没有任何冲突
func (v *Validator) Accepts(instructorID string, start time.Time, class *model.ClassTemplate, env *model.OccupancyEnvironment) bool {
	sessions := class.SessionIntervals(start)
	for i, s := range sessions {
		c := &candidate{index: i, session: s, instructorID: instructorID, class: class, env: env}
		for _, r := range rules {
			if r.check(v, c) != "" {
				return false
			}
		}
	}
	return true
}

// checkDuration 时长必须与课程课时完全一致
func (v *Validator) checkDuration(c *candidate) string {
	actual := c.session.Duration()
	expected := c.class.SessionLength()
	if actual != expected {
		return fmt.Sprintf("第 %d 期时长 %s，应为 %s", c.index+1, actual, expected)
	}
	return ""
}

// checkBusinessHours 开始与结束都必须在开课当天的营业时间内
func (v *Validator) checkBusinessHours(c *candidate) string {
	start := c.session.Start.In(v.config.Location)
	end := c.session.End.In(v.config.Location)

	y, m, d := start.Date()
	open := time.Date(y, m, d, v.config.OpenHour, 0, 0, 0, v.config.Location)
	closing := time.Date(y, m, d, v.config.CloseHour, 0, 0, 0, v.config.Location)

	if start.Before(open) || start.After(closing) || end.Before(open) || end.After(closing) {
		return fmt.Sprintf("第 %d 期 %s-%s 超出营业时间 %02d:00-%02d:00",
			c.index+1, start.Format("2006-01-02 15:04"), end.Format("15:04"), v.config.OpenHour, v.config.CloseHour)
	}
	return ""
}

// checkHoliday 开课日期不能是节假日
func (v *Validator) checkHoliday(c *candidate) string {
	date := c.session.Start.In(v.config.Location)
	if name, ok := v.holidays.Holiday(date); ok {
		return fmt.Sprintf("第 %d 期 %s 是节假日（%s）", c.index+1, date.Format(model.DateLayout), name)
	}
	return ""
}

// checkInstructor 讲师当天不能有其他安排
func (v *Validator) checkInstructor(c *candidate) string {
	for _, busy := range c.env.InstructorBusy(c.instructorID) {
		if model.SameDate(busy.Start, c.session.Start, v.config.Location) {
			return fmt.Sprintf("讲师 %s 在 %s 已有课程 %s",
				c.instructorID, c.session.Start.In(v.config.Location).Format(model.DateLayout), busy.Name)
		}
	}
	return ""
}

// checkArea 课程占用的每个区域都不能与已有占用重叠
func (v *Validator) checkArea(c *candidate) string {
	for _, area := range c.class.Areas {
		for _, busy := range c.env.AreaBusy(area) {
			if busy.Overlaps(c.session) {
				return fmt.Sprintf("第 %d 期区域 %s 被 %s 占用（%s-%s）",
					c.index+1, area, busy.Name,
					busy.Start.In(v.config.Location).Format("2006-01-02 15:04"),
					busy.End.In(v.config.Location).Format("15:04"))
			}
		}
	}
	return ""
}

// checkExclusion 开课时间不能落在该课程的禁排窗口内
func (v *Validator) checkExclusion(c *candidate) string {
	for _, excl := range c.env.ExclusionsFor(c.class.ID) {
		if excl.Covers(c.session.Start) {
			return fmt.Sprintf("第 %d 期处于 %s（%s 开课）的禁排期 %s 至 %s",
				c.index+1, excl.OriginName,
				excl.AnchorDate.In(v.config.Location).Format(model.DateLayout),
				excl.Start.In(v.config.Location).Format(model.DateLayout),
				excl.End.In(v.config.Location).Format(model.DateLayout))
		}
	}
	return ""
}
