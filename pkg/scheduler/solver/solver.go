// Package solver 提供开课分配求解器
package solver

import (
	"context"
	"sort"
	"time"

	"github.com/paiban/classplan/pkg/errors"
	"github.com/paiban/classplan/pkg/logger"
	"github.com/paiban/classplan/pkg/model"
	"github.com/paiban/classplan/pkg/scheduler/mip"
	"github.com/paiban/classplan/pkg/validator"
)

// Options 求解选项
type Options struct {
	// Environment 与 Validator 同时提供时，校验器拒绝的三元组不进入模型
	Environment *model.OccupancyEnvironment
	Validator   *validator.Validator

	Timeout  time.Duration // 求解时间预算，0 表示只受 ctx 限制
	MaxNodes int
}

// Solver 开课分配求解器
// 无共享可变状态，可以并发求解不同的时间窗口
type Solver struct {
	logger *logger.SchedulerLogger
}

// NewSolver 创建求解器
func NewSolver() *Solver {
	return &Solver{logger: logger.NewSchedulerLogger("solver")}
}

// Name 返回求解器名称
func (s *Solver) Name() string {
	return "MIPSolver"
}

// Solve 求解最大得分且无冲突的分配
// 超时或达到节点上限时返回当前最好的方案，Plan.Optimal 为 false
func (s *Solver) Solve(ctx context.Context, classes []*model.ClassTemplate, instructors []*model.Instructor, opts Options) (*model.Plan, error) {
	startTime := time.Now()

	classes = s.cleanClasses(classes)
	instructors = s.cleanInstructors(classes, instructors)

	f := buildFormulation(classes, instructors, opts)
	s.logger.StartSolve(len(classes), len(instructors), len(f.vars), len(f.problem.Rows))
	if f.filtered > 0 {
		s.logger.Logger().Debug().Int("filtered", f.filtered).Msg("校验器排除了部分候选")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sol, err := mip.NewSolver(mip.Options{MaxNodes: opts.MaxNodes}).Solve(ctx, f.problem)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSolverFailed, "排课模型无效")
	}

	plan := extract(f, sol)
	plan.Duration = time.Since(startTime)

	s.logger.SolveComplete(plan.Duration, plan.Score, plan.Count(), plan.Optimal)
	return plan, nil
}

// cleanClasses 只保留已审批、可排且课时有效的课程
func (s *Solver) cleanClasses(classes []*model.ClassTemplate) []*model.ClassTemplate {
	out := make([]*model.ClassTemplate, 0, len(classes))
	seen := make(map[string]bool)
	for _, c := range classes {
		if c == nil || seen[c.ID] {
			continue
		}
		if !c.IsSchedulable() {
			continue
		}
		if c.SessionLength() <= 0 || c.Score < 0 {
			s.logger.Logger().Warn().Str("class_id", c.ID).Msg("课程课时或得分无效，跳过")
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// cleanInstructors 去掉指向未知课程的能力项
func (s *Solver) cleanInstructors(classes []*model.ClassTemplate, instructors []*model.Instructor) []*model.Instructor {
	known := make(map[string]bool, len(classes))
	for _, c := range classes {
		known[c.ID] = true
	}

	out := make([]*model.Instructor, 0, len(instructors))
	for _, inst := range instructors {
		if inst == nil {
			continue
		}
		caps := make([]string, 0, len(inst.Capabilities))
		for _, id := range inst.Capabilities {
			if known[id] {
				caps = append(caps, id)
				continue
			}
			s.logger.Logger().Warn().
				Str("instructor_id", inst.ID).
				Str("class_id", id).
				Msg("讲师能力指向未知或不可排的课程，已忽略")
		}
		cleaned := *inst
		cleaned.Capabilities = caps
		out = append(out, &cleaned)
	}
	return out
}

// extract 把取值为 1 的变量转换为按讲师分组的分配
func extract(f *formulation, sol *mip.Solution) *model.Plan {
	plan := model.NewPlan()
	plan.Optimal = sol.Optimal
	plan.Nodes = sol.Nodes
	plan.Variables = len(f.vars)

	for _, i := range sol.Selected() {
		v := f.vars[i]
		plan.ByInstructor[v.instructor.ID] = append(plan.ByInstructor[v.instructor.ID], model.Assignment{
			ClassID:      v.class.ID,
			ClassName:    v.class.Name,
			InstructorID: v.instructor.ID,
			Start:        v.start,
			Score:        v.class.Score,
		})
		plan.Score += v.class.Score
	}

	for _, list := range plan.ByInstructor {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	}
	return plan
}
