// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

type ctxKey struct{}

// WithRequestID 把请求ID放入上下文
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID 从上下文读取请求ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	if reqID := RequestID(ctx); reqID != "" {
		l = l.With().Str("request_id", reqID).Logger()
	}
	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 以请求上下文记录错误
func WithError(ctx context.Context, err error) *zerolog.Event {
	return WithContext(ctx).Error().Err(err)
}

// SchedulerLogger 排课引擎专用日志器
type SchedulerLogger struct {
	base *zerolog.Logger
}

// NewSchedulerLogger 创建排课引擎日志器
func NewSchedulerLogger(component string) *SchedulerLogger {
	l := Get().With().Str("component", component).Logger()
	return &SchedulerLogger{base: &l}
}

// Logger 返回底层日志器
func (l *SchedulerLogger) Logger() *zerolog.Logger {
	return l.base
}

// SkipRun 记录被跳过的已排课程
func (l *SchedulerLogger) SkipRun(classID, instructorID, reason string) {
	l.base.Warn().
		Str("class_id", classID).
		Str("instructor_id", instructorID).
		Str("reason", reason).
		Msg("跳过已排课程")
}

// EnvironmentBuilt 记录占用环境构建完成
func (l *SchedulerLogger) EnvironmentBuilt(start, end time.Time, runs, skipped, reservations int) {
	l.base.Info().
		Time("start", start).
		Time("end", end).
		Int("runs", runs).
		Int("skipped", skipped).
		Int("reservations", reservations).
		Msg("占用环境构建完成")
}

// StartSolve 记录求解开始
func (l *SchedulerLogger) StartSolve(classes, instructors, variables, rows int) {
	l.base.Info().
		Int("classes", classes).
		Int("instructors", instructors).
		Int("variables", variables).
		Int("rows", rows).
		Msg("开始求解排课模型")
}

// SolveComplete 记录求解完成
func (l *SchedulerLogger) SolveComplete(duration time.Duration, score float64, assigned int, optimal bool) {
	l.base.Info().
		Dur("duration", duration).
		Float64("score", score).
		Int("assigned", assigned).
		Bool("optimal", optimal).
		Msg("排课求解完成")
}
