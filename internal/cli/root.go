// Package cli 提供离线排课命令行
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/paiban/classplan/internal/app"
	"github.com/paiban/classplan/internal/config"
	"github.com/paiban/classplan/internal/service"
	"github.com/paiban/classplan/pkg/logger"
	"github.com/paiban/classplan/pkg/model"
	"github.com/spf13/cobra"
)

// Planner 命令行用到的规划能力
type Planner interface {
	Environment(ctx context.Context, start, end time.Time) (*model.OccupancyEnvironment, error)
	ValidateProposal(ctx context.Context, proposal service.Proposal) (*service.ValidationResult, error)
	Generate(ctx context.Context, start, end time.Time) (*service.GeneratedPlan, error)
}

// Opener 按配置打开规划服务，返回释放函数
type Opener func(cfg *config.Config) (Planner, func() error, error)

// DefaultOpener 连接数据库并组装规划服务
func DefaultOpener(cfg *config.Config) (Planner, func() error, error) {
	a, err := app.New(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return a.Planner, a.Close, nil
}

type rootOptions struct {
	envFile  string
	logLevel string
	output   string

	open Opener
	cfg  *config.Config
}

// withPlanner 打开规划服务执行 fn
func (o *rootOptions) withPlanner(fn func(Planner) error) error {
	p, closeFn, err := o.open(o.cfg)
	if err != nil {
		return fmt.Errorf("打开规划服务失败: %w", err)
	}
	defer closeFn()
	return fn(p)
}

// NewRootCmd 创建根命令
func NewRootCmd(open Opener) *cobra.Command {
	if open == nil {
		open = DefaultOpener
	}
	opts := &rootOptions{open: open}

	root := &cobra.Command{
		Use:   "classplan",
		Short: "ClassPlan 排课命令行",
		Long:  "ClassPlan 直接读取数据库，离线校验开课提案、生成排课方案。",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "json" && opts.output != "yaml" {
				return fmt.Errorf("不支持的输出格式: %s", opts.output)
			}
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logger.Init(logger.Config{
				Level:  opts.logLevel,
				Format: "console",
				Output: "stderr",
			})
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "环境变量文件")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "日志级别 (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "输出格式 (json, yaml)")

	root.AddCommand(
		newGenerateCmd(opts),
		newValidateCmd(opts),
		newEnvironmentCmd(opts),
		newHolidaysCmd(opts),
	)

	return root
}

// parseWindow 解析命令行时间窗口，纯日期的结束日包含当天
func parseWindow(rawStart, rawEnd string, loc *time.Location) (time.Time, time.Time, error) {
	start, _, err := model.ParseTime(rawStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start 无效: %w", err)
	}
	end, dateOnly, err := model.ParseTime(rawEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end 无效: %w", err)
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("时间范围无效: %s ~ %s", rawStart, rawEnd)
	}
	return start, end, nil
}
