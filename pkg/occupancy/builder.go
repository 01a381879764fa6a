// Package occupancy 根据已发布课程与资源预约构建占用环境
package occupancy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiban/classplan/pkg/logger"
	"github.com/paiban/classplan/pkg/model"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Inclusion 禁排窗口是否纳入环境的判定方式
type Inclusion string

const (
	// InclusionOverlap 窗口与构建区间真正相交才纳入
	InclusionOverlap Inclusion = "overlap"
	// InclusionLegacyAny 旧判定：start <= 区间结束 或 end >= 区间开始
	InclusionLegacyAny Inclusion = "legacy_any"
)

// DefaultBypassCutoff 资质禁排窗口的默认半宽
const DefaultBypassCutoff = 14 * 24 * time.Hour

// Options 构建选项
type Options struct {
	BypassCutoff time.Duration
	Inclusion    Inclusion
}

// DefaultOptions 返回默认构建选项
func DefaultOptions() Options {
	return Options{
		BypassCutoff: DefaultBypassCutoff,
		Inclusion:    InclusionOverlap,
	}
}

// ScheduleSource 已发布课程的数据来源
type ScheduleSource interface {
	ScheduledRuns(ctx context.Context, start, end time.Time) ([]model.ScheduledRun, error)
}

// ReservationSource 资源预约的数据来源
type ReservationSource interface {
	Reservations(ctx context.Context, start, end time.Time) ([]model.Reservation, error)
	ResourceAreas(ctx context.Context) (map[string]string, error)
}

// TemplateSource 课程模板的数据来源
type TemplateSource interface {
	ClassTemplates(ctx context.Context) ([]*model.ClassTemplate, error)
}

// Snapshot 上游数据快照，构建期间视为不可变
type Snapshot struct {
	Runs          []model.ScheduledRun
	Reservations  []model.Reservation
	ResourceAreas map[string]string
	Templates     map[string]*model.ClassTemplate
}

// Builder 占用环境构建器
type Builder struct {
	schedules    ScheduleSource
	reservations ReservationSource
	templates    TemplateSource
	opts         Options
	logger       *logger.SchedulerLogger
}

// NewBuilder 创建占用环境构建器
func NewBuilder(schedules ScheduleSource, reservations ReservationSource, templates TemplateSource, opts Options) *Builder {
	if opts.Inclusion == "" {
		opts.Inclusion = InclusionOverlap
	}
	return &Builder{
		schedules:    schedules,
		reservations: reservations,
		templates:    templates,
		opts:         opts,
		logger:       logger.NewSchedulerLogger("occupancy"),
	}
}

// Build 并发读取上游数据后构建 [start, end] 的占用环境
func (b *Builder) Build(ctx context.Context, start, end time.Time) (*model.OccupancyEnvironment, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("构建区间无效: %s 晚于 %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	snap, err := b.fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}

	return assemble(model.NewInterval(start, end), snap, b.opts, b.logger), nil
}

// fetch 并发读取三类上游数据
func (b *Builder) fetch(ctx context.Context, start, end time.Time) (*Snapshot, error) {
	snap := &Snapshot{}
	var templates []*model.ClassTemplate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runs, err := b.schedules.ScheduledRuns(gctx, start, end)
		if err != nil {
			return fmt.Errorf("读取已排课程失败: %w", err)
		}
		snap.Runs = runs
		return nil
	})
	g.Go(func() error {
		reservations, err := b.reservations.Reservations(gctx, start, end)
		if err != nil {
			return fmt.Errorf("读取资源预约失败: %w", err)
		}
		snap.Reservations = reservations
		return nil
	})
	g.Go(func() error {
		areas, err := b.reservations.ResourceAreas(gctx)
		if err != nil {
			return fmt.Errorf("读取资源区域映射失败: %w", err)
		}
		snap.ResourceAreas = areas
		return nil
	})
	g.Go(func() error {
		list, err := b.templates.ClassTemplates(gctx)
		if err != nil {
			return fmt.Errorf("读取课程模板失败: %w", err)
		}
		templates = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Templates = lo.KeyBy(templates, func(c *model.ClassTemplate) string { return c.ID })
	return snap, nil
}

// Assemble 由快照构建占用环境（纯函数）
func Assemble(window model.Interval, snap *Snapshot, opts Options) *model.OccupancyEnvironment {
	if opts.Inclusion == "" {
		opts.Inclusion = InclusionOverlap
	}
	return assemble(window, snap, opts, logger.NewSchedulerLogger("occupancy"))
}

func assemble(window model.Interval, snap *Snapshot, opts Options, log *logger.SchedulerLogger) *model.OccupancyEnvironment {
	env := model.NewOccupancyEnvironment(window.Start, window.End)
	skipped := 0

	for i := range snap.Runs {
		run := &snap.Runs[i]
		if reason := addRun(env, window, run, snap.Templates[run.ClassID], opts); reason != "" {
			skipped++
			log.SkipRun(run.ClassID, run.InstructorID, reason)
		}
	}

	reservations := 0
	for _, r := range snap.Reservations {
		area, ok := snap.ResourceAreas[r.ResourceID]
		if !ok {
			log.Logger().Debug().Str("resource_id", r.ResourceID).Msg("资源未映射到区域，忽略预约")
			continue
		}
		if !r.Interval.Overlaps(window) {
			continue
		}
		env.Areas[area] = append(env.Areas[area], model.NamedInterval{Interval: r.Interval, Name: r.Label})
		reservations++
	}

	for area := range env.Areas {
		sortByEnd(env.Areas[area])
	}
	for id := range env.Instructors {
		sortByEnd(env.Instructors[id])
	}
	for id := range env.ClassExclusions {
		sortByStart(env.ClassExclusions[id])
	}
	for id := range env.ClearanceExclusions {
		sortByStart(env.ClearanceExclusions[id])
	}

	log.EnvironmentBuilt(window.Start, window.End, len(snap.Runs), skipped, reservations)
	return env
}

// addRun 把一次已排课程并入环境，返回非空字符串表示跳过原因
func addRun(env *model.OccupancyEnvironment, window model.Interval, run *model.ScheduledRun, tmpl *model.ClassTemplate, opts Options) string {
	if tmpl == nil {
		return "课程模板不存在"
	}
	first, last, ok := run.Bounds()
	if !ok {
		return "没有上课时段"
	}
	if tmpl.Period <= 0 {
		return "缺少重复开课间隔"
	}
	if tmpl.Hours <= 0 {
		return "缺少课时"
	}

	name := run.ClassName
	if name == "" {
		name = tmpl.Name
	}
	anchor := first.Start

	repeat := model.NewInterval(first.Start.Add(-tmpl.Period), last.End.Add(tmpl.Period))
	if included(repeat, window, opts.Inclusion) {
		env.ClassExclusions[tmpl.ID] = append(env.ClassExclusions[tmpl.ID], model.Exclusion{
			Interval:   repeat,
			AnchorDate: anchor,
			OriginName: name,
		})
	}

	clearance := model.NewInterval(first.Start.Add(-opts.BypassCutoff), first.Start.Add(opts.BypassCutoff))
	if included(clearance, window, opts.Inclusion) {
		for _, c := range tmpl.Clearances {
			env.ClearanceExclusions[c] = append(env.ClearanceExclusions[c], model.Exclusion{
				Interval:   clearance,
				AnchorDate: anchor,
				OriginName: name,
			})
		}
	}

	for _, s := range run.Sessions {
		if !s.Overlaps(window) {
			continue
		}
		busy := model.NamedInterval{Interval: s, Name: name}
		for _, area := range tmpl.Areas {
			env.Areas[area] = append(env.Areas[area], busy)
		}
		if run.InstructorID != "" {
			env.Instructors[run.InstructorID] = append(env.Instructors[run.InstructorID], busy)
		}
	}
	return ""
}

// included 判断禁排窗口是否与构建区间相关
func included(excl, window model.Interval, mode Inclusion) bool {
	startsBeforeEnd := !excl.Start.After(window.End)
	endsAfterStart := !excl.End.Before(window.Start)
	if mode == InclusionLegacyAny {
		return startsBeforeEnd || endsAfterStart
	}
	return startsBeforeEnd && endsAfterStart
}

func sortByEnd(list []model.NamedInterval) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].End.Before(list[j].End)
	})
}

func sortByStart(list []model.Exclusion) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Start.Before(list[j].Start)
	})
}
