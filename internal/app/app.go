// Package app 按配置组装数据库、仓储与规划服务
package app

import (
	"fmt"

	"github.com/paiban/classplan/internal/config"
	"github.com/paiban/classplan/internal/database"
	"github.com/paiban/classplan/internal/metrics"
	"github.com/paiban/classplan/internal/repository"
	"github.com/paiban/classplan/internal/service"
	"github.com/paiban/classplan/pkg/occupancy"
	"github.com/paiban/classplan/pkg/validator"
)

// App 组装好的服务
type App struct {
	Config    *config.Config
	DB        *database.DB
	Schedules *repository.ScheduleRepository
	Planner   *service.Planner
	Metrics   *metrics.Registry
}

// New 连接数据库并组装规划服务
func New(cfg *config.Config, m *metrics.Registry) (*App, error) {
	if m == nil {
		m = metrics.GetRegistry()
	}
	db, err := database.New(&cfg.Database, m)
	if err != nil {
		return nil, err
	}
	a, err := Assemble(cfg, db, m)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Assemble 在已有连接上组装规划服务
func Assemble(cfg *config.Config, db *database.DB, m *metrics.Registry) (*App, error) {
	schedules := repository.NewScheduleRepository(db)
	reservations := repository.NewReservationRepository(db)
	catalog := repository.NewCatalogRepository(db)

	builder := occupancy.NewBuilder(schedules, reservations, catalog, cfg.Scheduler.OccupancyOptions())

	calendar, err := cfg.Scheduler.Calendar()
	if err != nil {
		return nil, fmt.Errorf("加载节假日失败: %w", err)
	}
	checker := validator.NewValidator(cfg.Scheduler.ValidatorConfig(), calendar)

	var store service.PlanStore
	if cfg.Scheduler.SavePlans {
		store = schedules
	}
	planner := service.NewPlanner(builder, catalog, store, checker, cfg.Scheduler.Location(), service.Options{
		Timeout:  cfg.Scheduler.Timeout,
		MaxNodes: cfg.Scheduler.MaxNodes,
	}, m)

	return &App{
		Config:    cfg,
		DB:        db,
		Schedules: schedules,
		Planner:   planner,
		Metrics:   m,
	}, nil
}

// Close 关闭数据库连接
func (a *App) Close() error {
	return a.DB.Close()
}
