// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paiban/classplan/internal/repository"
	"github.com/paiban/classplan/internal/service"
	"github.com/paiban/classplan/pkg/errors"
	"github.com/paiban/classplan/pkg/logger"
	"github.com/paiban/classplan/pkg/model"
)

// Planner 规划服务
type Planner interface {
	Environment(ctx context.Context, start, end time.Time) (*model.OccupancyEnvironment, error)
	ValidateProposal(ctx context.Context, proposal service.Proposal) (*service.ValidationResult, error)
	Generate(ctx context.Context, start, end time.Time) (*service.GeneratedPlan, error)
}

// PlanLister 已保存方案查询
type PlanLister interface {
	ListPlans(ctx context.Context, filter repository.ListFilter) ([]*repository.PlanRecord, error)
}

// ScheduleHandler 排课处理器
type ScheduleHandler struct {
	planner  Planner
	plans    PlanLister // 为 nil 时不提供方案查询
	location *time.Location
	validate *validator.Validate
}

// NewScheduleHandler 创建排课处理器
func NewScheduleHandler(planner Planner, plans PlanLister, loc *time.Location) *ScheduleHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ScheduleHandler{
		planner:  planner,
		plans:    plans,
		location: loc,
		validate: validator.New(),
	}
}

// SessionInput 单期时间
type SessionInput struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

// ValidateRequest 开课提案校验请求
type ValidateRequest struct {
	ClassID      string         `json:"class_id" validate:"required"`
	InstructorID string         `json:"instructor_id" validate:"required"`
	Sessions     []SessionInput `json:"sessions" validate:"required,min=1,dive"`
}

// GenerateRequest 排课生成请求
// 日期可以是 RFC3339 时间或 YYYY-MM-DD
type GenerateRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// EnvironmentResponse 占用环境概要
type EnvironmentResponse struct {
	Start               time.Time                   `json:"start"`
	End                 time.Time                   `json:"end"`
	Areas               map[string]int              `json:"areas"`                // 区域 -> 占用段数
	Instructors         map[string]int              `json:"instructors"`          // 讲师 -> 占用段数
	ClassExclusions     map[string]int              `json:"class_exclusions"`     // 课程 -> 禁排窗口数
	ClearanceExclusions map[string]int              `json:"clearance_exclusions"` // 资质 -> 禁排窗口数
	Environment         *model.OccupancyEnvironment `json:"environment,omitempty"`
}

// Validate 校验一个开课提案
func (h *ScheduleHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败"))
		return
	}
	if err := h.check(&req); err != nil {
		respondError(w, err)
		return
	}

	proposal := service.Proposal{
		ClassID:      req.ClassID,
		InstructorID: req.InstructorID,
		Sessions:     make([]model.Interval, 0, len(req.Sessions)),
	}
	for _, s := range req.Sessions {
		proposal.Sessions = append(proposal.Sessions, model.NewInterval(s.Start, s.End))
	}

	result, err := h.planner.ValidateProposal(r.Context(), proposal)
	if err != nil {
		appErr := toAppError(err, "校验失败")
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.WithError(r.Context(), err).Str("class_id", req.ClassID).Msg("校验提案失败")
		}
		respondError(w, appErr)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Generate 为时间窗口生成排课方案
func (h *ScheduleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败"))
		return
	}
	if err := h.check(&req); err != nil {
		respondError(w, err)
		return
	}
	start, end, appErr := h.parseWindow(req.Start, req.End)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	plan, err := h.planner.Generate(r.Context(), start, end)
	if err != nil {
		appErr := toAppError(err, "排课失败")
		logger.WithError(r.Context(), err).
			Str("code", string(appErr.Code)).
			Time("start", start).
			Time("end", end).
			Msg("排课失败")
		respondError(w, appErr)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// Environment 查询时间窗口内的占用环境概要
func (h *ScheduleHandler) Environment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}

	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		respondError(w, errors.InvalidInput("start/end", "不能为空"))
		return
	}
	start, end, appErr := h.parseWindow(q.Get("start"), q.Get("end"))
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	env, err := h.planner.Environment(r.Context(), start, end)
	if err != nil {
		logger.WithError(r.Context(), err).Msg("构建占用环境失败")
		respondError(w, toAppError(err, "构建占用环境失败"))
		return
	}

	resp := EnvironmentResponse{
		Start:               env.Start,
		End:                 env.End,
		Areas:               countEach(env.Areas),
		Instructors:         countEach(env.Instructors),
		ClassExclusions:     countEach(env.ClassExclusions),
		ClearanceExclusions: countEach(env.ClearanceExclusions),
	}
	if q.Get("detail") == "true" {
		resp.Environment = env
	}
	respondJSON(w, http.StatusOK, resp)
}

// Plans 查询已保存的排课方案
func (h *ScheduleHandler) Plans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}
	if h.plans == nil {
		respondError(w, errors.NotFound("排课方案", "*").WithDetails("未启用方案保存 (SCHEDULER_SAVE_PLANS)"))
		return
	}

	q := r.URL.Query()
	filter := repository.DefaultListFilter()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, errors.InvalidInput("limit", "必须是 1~100 的整数"))
			return
		}
		filter = filter.WithLimit(n)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, errors.InvalidInput("offset", "必须是非负整数"))
			return
		}
		filter = filter.WithOffset(n)
	}
	if q.Get("start") != "" && q.Get("end") != "" {
		start, end, appErr := h.parseWindow(q.Get("start"), q.Get("end"))
		if appErr != nil {
			respondError(w, appErr)
			return
		}
		filter = filter.WithRange(start, end)
	}

	records, err := h.plans.ListPlans(r.Context(), filter)
	if err != nil {
		logger.WithError(r.Context(), err).Msg("查询排课方案失败")
		respondError(w, errors.Wrap(err, errors.CodeDatabaseError, "查询排课方案失败"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"plans": records,
		"count": len(records),
	})
}

func countEach[V any](m map[string][]V) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = len(v)
	}
	return out
}

// check 按结构体标签校验请求
func (h *ScheduleHandler) check(req interface{}) *errors.AppError {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Wrap(err, errors.CodeInvalidInput, "请求无效")
	}
	ve := &errors.ValidationErrors{}
	for _, fe := range fieldErrs {
		ve.Add(fe.Namespace(), fe.Tag())
	}
	return ve.ToAppError()
}

// parseWindow 解析时间窗口，纯日期的结束日包含当天
func (h *ScheduleHandler) parseWindow(rawStart, rawEnd string) (time.Time, time.Time, *errors.AppError) {
	start, _, err := model.ParseTime(rawStart, h.location)
	if err != nil {
		return time.Time{}, time.Time{}, errors.InvalidInput("start", err.Error())
	}
	end, dateOnly, err := model.ParseTime(rawEnd, h.location)
	if err != nil {
		return time.Time{}, time.Time{}, errors.InvalidInput("end", err.Error())
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1).Add(-time.Second)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.InvalidTimeRange(rawStart, rawEnd)
	}
	return start, end, nil
}

// toAppError 把服务层错误转为 AppError
func toAppError(err error, message string) *errors.AppError {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Timeout("请求", err)
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.CodeInternal, "请求已取消")
	}
	return errors.Wrap(err, errors.CodeInternal, message)
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, err *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
		"fields":  err.Fields,
	})
}
