// ClassPlan 排课引擎服务
// 主程序入口

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paiban/classplan/internal/app"
	"github.com/paiban/classplan/internal/config"
	"github.com/paiban/classplan/internal/handler"
	"github.com/paiban/classplan/internal/metrics"
	"github.com/paiban/classplan/internal/middleware"
	"github.com/paiban/classplan/pkg/logger"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	format := "json"
	if cfg.App.Env == "development" {
		format = "console"
	}
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: format,
	})

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("ClassPlan 排课引擎")
	logger.Debug().
		Dur("timeout", cfg.Scheduler.Timeout).
		Int("max_nodes", cfg.Scheduler.MaxNodes).
		Dur("bypass_cutoff", cfg.Scheduler.BypassCutoff).
		Str("inclusion", string(cfg.Scheduler.Inclusion)).
		Str("timezone", cfg.Scheduler.Timezone).
		Bool("save_plans", cfg.Scheduler.SavePlans).
		Msg("排课配置")

	reg := metrics.GetRegistry()

	a, err := app.New(cfg, reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化服务失败")
	}
	defer a.Close()
	db := a.DB

	var plans handler.PlanLister
	if cfg.Scheduler.SavePlans {
		plans = a.Schedules
	}
	scheduleHandler := handler.NewScheduleHandler(a.Planner, plans, cfg.Scheduler.Location())

	mux := http.NewServeMux()

	// ========================================
	// 系统端点
	// ========================================

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.Health(ctx); err != nil {
			logger.WithContext(r.Context()).Warn().Err(err).Msg("健康检查失败")
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status, "service": cfg.App.Name})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","build_time":"%s","git_commit":"%s"}`, Version, BuildTime, GitCommit)
	})

	// ========================================
	// API v1 端点
	// ========================================

	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"message": "ClassPlan 排课引擎 API v1",
			"endpoints": {
				"classes": {
					"validate": "POST /api/v1/classes/validate",
					"generate": "POST /api/v1/classes/generate"
				},
				"environment": "GET /api/v1/environment?start=&end=",
				"plans": "GET /api/v1/plans"
			}
		}`))
	})

	mux.HandleFunc("/api/v1/classes/validate", scheduleHandler.Validate)
	mux.HandleFunc("/api/v1/classes/generate", scheduleHandler.Generate)
	mux.HandleFunc("/api/v1/environment", scheduleHandler.Environment)
	mux.HandleFunc("/api/v1/plans", scheduleHandler.Plans)

	// ========================================
	// 监控端点
	// ========================================

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, reg.Handler())
	}

	// ========================================
	// 中间件
	// ========================================

	var limiter *middleware.RateLimiter
	if cfg.API.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(float64(cfg.API.RateLimit))
	}
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Recovery,
		middleware.RateLimit(limiter),
	}
	if cfg.API.CORS.Enabled {
		mws = append(mws, middleware.CORS(cfg.API.CORS.Origins))
	}
	mws = append(mws, middleware.Logging(reg), middleware.Timeout(cfg.API.Timeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.API.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("env", cfg.App.Env).
			Str("timezone", cfg.Scheduler.Timezone).
			Str("api_docs", fmt.Sprintf("http://localhost:%d/api/v1/", cfg.App.Port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		os.Exit(1)
	}

	logger.Info().Msg("服务器已关闭")
}
