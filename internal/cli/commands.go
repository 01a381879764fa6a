package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/paiban/classplan/internal/service"
	"github.com/paiban/classplan/pkg/model"
	"github.com/spf13/cobra"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "为时间窗口生成排课方案",
		Example: "  classplan generate --start 2026-09-01 --end 2026-09-30\n" +
			"  classplan generate --start 2026-09-01 --end 2026-09-30 -o yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseWindow(start, end, opts.cfg.Scheduler.Location())
			if err != nil {
				return err
			}
			return opts.withPlanner(func(p Planner) error {
				plan, err := p.Generate(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, plan)
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "窗口开始 (YYYY-MM-DD 或 RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "窗口结束 (YYYY-MM-DD 或 RFC3339)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var classID, instructorID string
	var sessions []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "校验一个开课提案",
		Long: "校验一个开课提案。每期用 --session 给出，格式为 开始/时长 或 开始/结束，\n" +
			"例如 2026-09-13T18:00:00-04:00/3h。",
		Example: "  classplan validate --class lathe-1 --instructor ada --session 2026-09-13T18:00:00-04:00/3h",
		RunE: func(cmd *cobra.Command, args []string) error {
			proposal := service.Proposal{ClassID: classID, InstructorID: instructorID}
			for _, raw := range sessions {
				iv, err := parseSession(raw)
				if err != nil {
					return err
				}
				proposal.Sessions = append(proposal.Sessions, iv)
			}

			return opts.withPlanner(func(p Planner) error {
				result, err := p.ValidateProposal(cmd.Context(), proposal)
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), opts.output, result); err != nil {
					return err
				}
				if !result.Valid {
					return fmt.Errorf("提案未通过校验: %d 条冲突", len(result.Reasons))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&classID, "class", "", "课程模板ID")
	cmd.Flags().StringVar(&instructorID, "instructor", "", "讲师ID")
	cmd.Flags().StringArrayVar(&sessions, "session", nil, "一期的时间，可重复")
	cmd.MarkFlagRequired("class")
	cmd.MarkFlagRequired("instructor")
	cmd.MarkFlagRequired("session")
	return cmd
}

// parseSession 解析 开始/时长 或 开始/结束
func parseSession(raw string) (model.Interval, error) {
	startRaw, rest, found := strings.Cut(raw, "/")
	if !found {
		return model.Interval{}, fmt.Errorf("--session 格式错误: %q", raw)
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return model.Interval{}, fmt.Errorf("--session 开始时间无效: %w", err)
	}
	if d, err := time.ParseDuration(rest); err == nil {
		return model.NewInterval(start, start.Add(d)), nil
	}
	end, err := time.Parse(time.RFC3339, rest)
	if err != nil {
		return model.Interval{}, fmt.Errorf("--session 结束时间无效: %q", rest)
	}
	return model.NewInterval(start, end), nil
}

func newEnvironmentCmd(opts *rootOptions) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "environment",
		Short: "输出时间窗口内的占用环境",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseWindow(start, end, opts.cfg.Scheduler.Location())
			if err != nil {
				return err
			}
			return opts.withPlanner(func(p Planner) error {
				env, err := p.Environment(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, env)
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "窗口开始 (YYYY-MM-DD 或 RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "窗口结束 (YYYY-MM-DD 或 RFC3339)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

// holiday 一个休息日
type holiday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

func newHolidaysCmd(opts *rootOptions) *cobra.Command {
	var year int

	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "列出某年不开课的节假日",
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := opts.cfg.Scheduler.Calendar()
			if err != nil {
				return err
			}
			if year == 0 {
				year = time.Now().In(opts.cfg.Scheduler.Location()).Year()
			}

			var out []holiday
			day := time.Date(year, time.January, 1, 12, 0, 0, 0, time.UTC)
			for day.Year() == year {
				if name, ok := cal.Holiday(day); ok {
					out = append(out, holiday{Date: model.DateOf(day), Name: name})
				}
				day = day.AddDate(0, 0, 1)
			}
			return render(cmd.OutOrStdout(), opts.output, out)
		},
	}

	cmd.Flags().IntVar(&year, "year", 0, "年份，默认今年")
	return cmd
}
