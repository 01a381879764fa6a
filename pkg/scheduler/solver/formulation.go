package solver

import (
	"fmt"
	"sort"
	"time"

	"github.com/paiban/classplan/pkg/model"
	"github.com/paiban/classplan/pkg/scheduler/mip"
	"github.com/samber/lo"
)

// variable 一个可行的 (课程, 讲师, 开课时间) 三元组
type variable struct {
	class      *model.ClassTemplate
	instructor *model.Instructor
	start      time.Time
	sessions   []model.Interval
}

// active 判断该三元组在 t 时刻是否正在上课
func (v *variable) active(t time.Time) bool {
	for _, s := range v.sessions {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// formulation 求解模型及变量映射
type formulation struct {
	vars     []variable
	problem  *mip.Problem
	filtered int // 被校验器排除的三元组
}

// buildFormulation 构建 0/1 整数规划
func buildFormulation(classes []*model.ClassTemplate, instructors []*model.Instructor, opts Options) *formulation {
	f := &formulation{}
	catalog := lo.KeyBy(classes, func(c *model.ClassTemplate) string { return c.ID })

	for _, inst := range instructors {
		starts := lo.UniqBy(inst.Availability, func(t time.Time) int64 { return t.UnixNano() })
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

		for _, classID := range lo.Uniq(inst.Capabilities) {
			class, ok := catalog[classID]
			if !ok || !class.AllowsInstructor(inst.ID) {
				continue
			}
			for _, start := range starts {
				if opts.Validator != nil && opts.Environment != nil &&
					!opts.Validator.Accepts(inst.ID, start, class, opts.Environment) {
					f.filtered++
					continue
				}
				f.vars = append(f.vars, variable{
					class:      class,
					instructor: inst,
					start:      start,
					sessions:   class.SessionIntervals(start),
				})
			}
		}
	}

	objective := make([]float64, len(f.vars))
	for i, v := range f.vars {
		objective[i] = v.class.Score
	}
	f.problem = mip.NewProblem(objective)

	f.addAreaRows()
	f.addRunOnceRows(classes)
	f.addInstructorRows(instructors)
	f.addLoadCapRows(instructors)

	return f
}

// addAreaRows 每个区域在每个上课时刻最多一门课
// 两个区间重叠当且仅当其中一个的开始时刻落在另一个之内，所以只需检查所有期的开始时刻
func (f *formulation) addAreaRows() {
	byArea := make(map[string][]int)
	for i, v := range f.vars {
		for _, area := range lo.Uniq(v.class.Areas) {
			byArea[area] = append(byArea[area], i)
		}
	}
	for _, area := range sortedKeys(byArea) {
		f.addInstantRows("area:"+area, byArea[area])
	}
}

// addInstructorRows 讲师在每个上课时刻最多一门课
func (f *formulation) addInstructorRows(instructors []*model.Instructor) {
	byInstructor := make(map[string][]int)
	for i, v := range f.vars {
		byInstructor[v.instructor.ID] = append(byInstructor[v.instructor.ID], i)
	}
	for _, inst := range instructors {
		if idx, ok := byInstructor[inst.ID]; ok {
			f.addInstantRows("instructor:"+inst.ID, idx)
			delete(byInstructor, inst.ID)
		}
	}
}

// addRunOnceRows 每门课最多开一次
func (f *formulation) addRunOnceRows(classes []*model.ClassTemplate) {
	byClass := lo.GroupBy(lo.Range(len(f.vars)), func(i int) string { return f.vars[i].class.ID })
	for _, c := range classes {
		if idx, ok := byClass[c.ID]; ok {
			f.problem.AddRow("class:"+c.ID, idx, 1)
			delete(byClass, c.ID)
		}
	}
}

// addLoadCapRows 讲师本次最多分配的课程数
func (f *formulation) addLoadCapRows(instructors []*model.Instructor) {
	for _, inst := range instructors {
		if !inst.HasLoadCap() {
			continue
		}
		var idx []int
		for i, v := range f.vars {
			if v.instructor.ID == inst.ID {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			continue
		}
		f.problem.AddRow("cap:"+inst.ID, idx, max(*inst.MaxClasses, 0))
	}
}

// addInstantRows 对一组变量，在每个上课开始时刻加一行 Σ ≤ 1
func (f *formulation) addInstantRows(prefix string, idx []int) {
	var instants []time.Time
	for _, i := range idx {
		for _, s := range f.vars[i].sessions {
			instants = append(instants, s.Start)
		}
	}
	instants = lo.UniqBy(instants, func(t time.Time) int64 { return t.UnixNano() })
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	for _, t := range instants {
		row := lo.Filter(idx, func(i int, _ int) bool { return f.vars[i].active(t) })
		if len(row) > 1 {
			f.problem.AddRow(fmt.Sprintf("%s@%s", prefix, t.Format(time.RFC3339)), row, 1)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
