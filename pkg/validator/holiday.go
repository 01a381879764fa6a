package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/paiban/classplan/pkg/model"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

// HolidayCalendar 节假日日历
// 以只读配置注入校验器，测试可以替换
type HolidayCalendar interface {
	// Holiday 返回该日期对应的节假日名称
	Holiday(date time.Time) (name string, ok bool)
}

// NoHolidays 没有任何节假日的日历
type NoHolidays struct{}

// Holiday 实现 HolidayCalendar
func (NoHolidays) Holiday(time.Time) (string, bool) { return "", false }

// Calendar 公共假日 + 机构自定义假日
type Calendar struct {
	public *cal.BusinessCalendar
	dates  map[string]string // YYYY-MM-DD -> 名称
}

// NewCalendar 创建日历，public 为空时不包含公共假日
func NewCalendar(public ...*cal.Holiday) *Calendar {
	c := &Calendar{
		public: cal.NewBusinessCalendar(),
		dates:  make(map[string]string),
	}
	c.public.AddHoliday(public...)
	return c
}

// NewUSCalendar 创建包含美国联邦假日的日历
func NewUSCalendar() *Calendar {
	return NewCalendar(us.Holidays...)
}

// AddDate 添加机构的单日假日
func (c *Calendar) AddDate(date time.Time, name string) {
	c.dates[model.DateOf(date)] = name
}

// AddAnnual 添加每年固定月日的机构假日
func (c *Calendar) AddAnnual(month time.Month, day int, name string) {
	c.public.AddHoliday(&cal.Holiday{
		Name:  name,
		Type:  cal.ObservanceOther,
		Month: month,
		Day:   day,
		Func:  cal.CalcDayOfMonth,
	})
}

// Holiday 实现 HolidayCalendar
func (c *Calendar) Holiday(date time.Time) (string, bool) {
	if name, ok := c.dates[model.DateOf(date)]; ok {
		return name, true
	}
	y, m, d := date.Date()
	actual, observed, h := c.public.IsHoliday(time.Date(y, m, d, 12, 0, 0, 0, time.UTC))
	if (actual || observed) && h != nil {
		return h.Name, true
	}
	return "", false
}

// ParseOrgHolidays 解析机构假日配置
// 格式：逗号分隔，每项为 "YYYY-MM-DD=名称"（单日）或 "MM-DD=名称"（每年）
func ParseOrgHolidays(c *Calendar, raw string) error {
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, name, found := strings.Cut(item, "=")
		if !found || name == "" {
			return fmt.Errorf("假日配置格式错误: %q", item)
		}
		key = strings.TrimSpace(key)
		name = strings.TrimSpace(name)

		if d, err := time.Parse(model.DateLayout, key); err == nil {
			c.AddDate(d, name)
			continue
		}
		md, err := time.Parse("01-02", key)
		if err != nil {
			return fmt.Errorf("假日日期无效: %q", key)
		}
		c.AddAnnual(md.Month(), md.Day(), name)
	}
	return nil
}
