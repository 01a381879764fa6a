// Package service 组合占用环境、校验器与求解器
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/paiban/classplan/internal/metrics"
	"github.com/paiban/classplan/internal/repository"
	"github.com/paiban/classplan/pkg/errors"
	"github.com/paiban/classplan/pkg/logger"
	"github.com/paiban/classplan/pkg/model"
	"github.com/paiban/classplan/pkg/scheduler/solver"
	"github.com/paiban/classplan/pkg/validator"
	"golang.org/x/sync/errgroup"
)

// EnvironmentBuilder 占用环境构建
type EnvironmentBuilder interface {
	Build(ctx context.Context, start, end time.Time) (*model.OccupancyEnvironment, error)
}

// Catalog 课程目录与讲师
type Catalog interface {
	GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error)
	SchedulableTemplates(ctx context.Context) ([]*model.ClassTemplate, error)
	Instructors(ctx context.Context, start, end time.Time) ([]*model.Instructor, error)
}

// PlanStore 排课方案存储
type PlanStore interface {
	SavePlan(ctx context.Context, plan *model.Plan, window model.Interval) (*repository.PlanRecord, error)
}

// Options 规划选项
type Options struct {
	Timeout  time.Duration
	MaxNodes int
}

// Planner 排课规划服务
type Planner struct {
	builder   EnvironmentBuilder
	catalog   Catalog
	store     PlanStore // 为 nil 时不保存
	validator *validator.Validator
	solver    *solver.Solver
	location  *time.Location
	opts      Options
	metrics   *metrics.Registry
	logger    *logger.SchedulerLogger
}

// NewPlanner 创建规划服务
func NewPlanner(builder EnvironmentBuilder, catalog Catalog, store PlanStore, v *validator.Validator, loc *time.Location, opts Options, m *metrics.Registry) *Planner {
	if loc == nil {
		loc = time.Local
	}
	if m == nil {
		m = metrics.GetRegistry()
	}
	return &Planner{
		builder:   builder,
		catalog:   catalog,
		store:     store,
		validator: v,
		solver:    solver.NewSolver(),
		location:  loc,
		opts:      opts,
		metrics:   m,
		logger:    logger.NewSchedulerLogger("planner"),
	}
}

// Environment 构建 [start, end] 的占用环境
func (p *Planner) Environment(ctx context.Context, start, end time.Time) (*model.OccupancyEnvironment, error) {
	if end.Before(start) {
		return nil, errors.InvalidTimeRange(start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	begin := time.Now()
	env, err := p.builder.Build(ctx, start, end)
	if err != nil {
		return nil, errors.CatalogUnavailable("占用环境", err)
	}
	p.metrics.ObserveEnvironmentBuild(time.Since(begin))
	return env, nil
}

// Proposal 单次开课提案
type Proposal struct {
	ClassID      string
	InstructorID string
	Sessions     []model.Interval
}

// ValidationResult 提案校验结果
type ValidationResult struct {
	Valid     bool                 `json:"valid"`
	Reasons   []string             `json:"reasons"`
	Conflicts []validator.Conflict `json:"conflicts"`
}

// ValidateProposal 校验一个提案
// 业务冲突以原因列表返回；课程模板不存在才返回错误
func (p *Planner) ValidateProposal(ctx context.Context, proposal Proposal) (*ValidationResult, error) {
	if len(proposal.Sessions) == 0 {
		return nil, errors.InvalidInput("sessions", "至少需要一期")
	}
	for _, s := range proposal.Sessions {
		if s.End.Before(s.Start) {
			return nil, errors.InvalidTimeRange(s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
		}
	}

	class, err := p.catalog.GetTemplate(ctx, proposal.ClassID)
	if err != nil {
		return nil, errors.CatalogUnavailable("课程模板", err)
	}
	if class == nil {
		return nil, errors.UnknownClass(proposal.ClassID)
	}

	// 讲师同日检查需要整天的占用
	first, last := proposalBounds(proposal.Sessions)
	env, err := p.Environment(ctx, p.startOfDay(first), p.startOfDay(last).AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	conflicts := p.validator.Check(proposal.InstructorID, proposal.Sessions, class, env)

	result := &ValidationResult{
		Valid:     len(conflicts) == 0,
		Reasons:   make([]string, 0, len(conflicts)),
		Conflicts: conflicts,
	}
	types := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		result.Reasons = append(result.Reasons, c.Message)
		types = append(types, string(c.Type))
	}
	p.metrics.ObserveValidation(types)

	return result, nil
}

// PlannedClass 方案中的一次开课
type PlannedClass struct {
	ClassID   string `json:"class_id"`
	ClassName string `json:"class_name"`
	Start     string `json:"start"` // ISO-8601
}

// GeneratedPlan 对外输出的排课方案，按讲师姓名分组
type GeneratedPlan struct {
	ID          *uuid.UUID                `json:"id,omitempty"`
	Start       time.Time                 `json:"start"`
	End         time.Time                 `json:"end"`
	Instructors map[string][]PlannedClass `json:"instructors"`
	Score       float64                   `json:"score"`
	Optimal     bool                      `json:"optimal"`
	Assigned    int                       `json:"assigned"`
	Variables   int                       `json:"variables"`
	Nodes       int                       `json:"nodes"`
	Duration    string                    `json:"duration"`
}

// Generate 为 [start, end] 生成最大得分的排课方案
func (p *Planner) Generate(ctx context.Context, start, end time.Time) (*GeneratedPlan, error) {
	if !end.After(start) {
		return nil, errors.InvalidTimeRange(start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	begin := time.Now()

	var (
		classes     []*model.ClassTemplate
		instructors []*model.Instructor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if classes, err = p.catalog.SchedulableTemplates(gctx); err != nil {
			return errors.CatalogUnavailable("课程目录", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if instructors, err = p.catalog.Instructors(gctx, start, end); err != nil {
			return errors.CatalogUnavailable("讲师", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		p.metrics.ObservePlan(false, false, 0, 0, time.Since(begin))
		return nil, err
	}

	// 多期课程的后几期可能落在窗口之后
	env, err := p.Environment(ctx, start, end.Add(horizon(classes)))
	if err != nil {
		p.metrics.ObservePlan(false, false, 0, 0, time.Since(begin))
		return nil, err
	}

	plan, err := p.solver.Solve(ctx, classes, instructors, solver.Options{
		Environment: env,
		Validator:   p.validator,
		Timeout:     p.opts.Timeout,
		MaxNodes:    p.opts.MaxNodes,
	})
	if err != nil {
		p.metrics.ObservePlan(false, false, 0, 0, time.Since(begin))
		return nil, err
	}
	p.metrics.ObservePlan(true, plan.Optimal, plan.Score, plan.Nodes, time.Since(begin))

	out := p.present(plan, instructors, start, end)

	if p.store != nil {
		record, err := p.store.SavePlan(ctx, plan, model.NewInterval(start, end))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabaseError, "保存排课方案失败")
		}
		out.ID = &record.ID
	}

	p.logger.Logger().Info().
		Time("start", start).
		Time("end", end).
		Int("assigned", out.Assigned).
		Float64("score", out.Score).
		Bool("optimal", out.Optimal).
		Msg("排课方案已生成")

	return out, nil
}

// present 把求解结果转换为按讲师姓名分组的输出，重名时姓名后附ID
func (p *Planner) present(plan *model.Plan, instructors []*model.Instructor, start, end time.Time) *GeneratedPlan {
	names := displayNames(instructors)

	out := &GeneratedPlan{
		Start:       start,
		End:         end,
		Instructors: make(map[string][]PlannedClass, len(plan.ByInstructor)),
		Score:       plan.Score,
		Optimal:     plan.Optimal,
		Assigned:    plan.Count(),
		Variables:   plan.Variables,
		Nodes:       plan.Nodes,
		Duration:    plan.Duration.String(),
	}
	for id, list := range plan.ByInstructor {
		name := names[id]
		if name == "" {
			name = id
		}
		for _, a := range list {
			out.Instructors[name] = append(out.Instructors[name], PlannedClass{
				ClassID:   a.ClassID,
				ClassName: a.ClassName,
				Start:     a.Start.In(p.location).Format(time.RFC3339),
			})
		}
	}
	return out
}

// displayNames 讲师ID -> 输出用姓名，重名的讲师附加ID
func displayNames(instructors []*model.Instructor) map[string]string {
	seen := make(map[string]int, len(instructors))
	for _, inst := range instructors {
		seen[inst.Name]++
	}
	names := make(map[string]string, len(instructors))
	for _, inst := range instructors {
		if seen[inst.Name] > 1 {
			names[inst.ID] = fmt.Sprintf("%s (%s)", inst.Name, inst.ID)
			continue
		}
		names[inst.ID] = inst.Name
	}
	return names
}

// horizon 返回最长课程从第一期开始到最后一期结束的跨度
func horizon(classes []*model.ClassTemplate) time.Duration {
	var longest time.Duration
	for _, c := range classes {
		span := time.Duration(c.SessionCount()-1)*model.Week + c.SessionLength()
		if span > longest {
			longest = span
		}
	}
	return longest
}

func (p *Planner) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(p.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, p.location)
}

func proposalBounds(sessions []model.Interval) (time.Time, time.Time) {
	sorted := make([]model.Interval, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	first := sorted[0].Start
	last := sorted[0].End
	for _, s := range sorted {
		if s.End.After(last) {
			last = s.End
		}
	}
	return first, last
}
