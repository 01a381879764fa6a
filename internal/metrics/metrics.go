// Package metrics 提供Prometheus监控指标
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 指标注册表
type Registry struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestTotal     *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	planTotal        *prometheus.CounterVec
	planDuration     *prometheus.HistogramVec
	solverNodes      prometheus.Histogram
	solutionScore    prometheus.Gauge
	validations      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	dbQueryDuration  *prometheus.HistogramVec
	dbConnections    *prometheus.GaugeVec
	environmentBuild prometheus.Histogram
}

var (
	registry *Registry
	once     sync.Once
)

// GetRegistry 获取全局注册表
func GetRegistry() *Registry {
	once.Do(func() {
		registry = NewRegistry()
	})
	return registry
}

// NewRegistry 创建独立的注册表
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classplan_http_requests_total",
		Help: "HTTP请求总数",
	}, []string{"method", "path", "status"})

	r.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classplan_http_request_duration_seconds",
		Help:    "HTTP请求延迟",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"method", "path"})

	r.planTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classplan_plan_generation_total",
		Help: "排课方案生成次数",
	}, []string{"status"})

	r.planDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classplan_plan_generation_duration_seconds",
		Help:    "排课方案生成延迟",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"optimal"})

	r.solverNodes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classplan_solver_nodes",
		Help:    "每次求解的分支定界节点数",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	r.solutionScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classplan_solution_score",
		Help: "最近一次排课方案的得分",
	})

	r.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classplan_validations_total",
		Help: "开课提案校验次数",
	}, []string{"result"})

	r.conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classplan_validation_conflicts_total",
		Help: "按类型统计的校验冲突",
	}, []string{"type"})

	r.dbQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classplan_db_query_duration_seconds",
		Help:    "数据库查询耗时",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.dbConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "classplan_db_connections",
		Help: "数据库连接数",
	}, []string{"state"})

	r.environmentBuild = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classplan_environment_build_seconds",
		Help:    "占用环境构建耗时",
		Buckets: prometheus.DefBuckets,
	})

	r.registry.MustRegister(
		r.requestTotal, r.requestDuration,
		r.planTotal, r.planDuration, r.solverNodes, r.solutionScore,
		r.validations, r.conflicts,
		r.dbQueryDuration, r.dbConnections, r.environmentBuild,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.handler = promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return r
}

// Handler 返回Prometheus格式的指标HTTP处理器
func (r *Registry) Handler() http.Handler {
	return r.handler
}

// Gatherer 返回底层采集器
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveRequest 记录请求指标
func (r *Registry) ObserveRequest(method, path string, status int, duration time.Duration) {
	r.requestTotal.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObservePlan 记录一次方案生成
func (r *Registry) ObservePlan(success, optimal bool, score float64, nodes int, duration time.Duration) {
	if !success {
		r.planTotal.WithLabelValues("failure").Inc()
		return
	}
	r.planTotal.WithLabelValues("success").Inc()
	r.planDuration.WithLabelValues(fmt.Sprintf("%t", optimal)).Observe(duration.Seconds())
	r.solverNodes.Observe(float64(nodes))
	r.solutionScore.Set(score)
}

// ObserveValidation 记录一次提案校验及其冲突类型
func (r *Registry) ObserveValidation(conflictTypes []string) {
	if len(conflictTypes) == 0 {
		r.validations.WithLabelValues("accepted").Inc()
		return
	}
	r.validations.WithLabelValues("rejected").Inc()
	for _, t := range conflictTypes {
		r.conflicts.WithLabelValues(t).Inc()
	}
}

// ObserveEnvironmentBuild 记录占用环境构建耗时
func (r *Registry) ObserveEnvironmentBuild(duration time.Duration) {
	r.environmentBuild.Observe(duration.Seconds())
}

// ObserveDBQuery 记录数据库查询耗时
func (r *Registry) ObserveDBQuery(operation string, duration time.Duration) {
	r.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetDBConnections 设置连接池状态
func (r *Registry) SetDBConnections(open, inUse, idle int) {
	r.dbConnections.WithLabelValues("open").Set(float64(open))
	r.dbConnections.WithLabelValues("in_use").Set(float64(inUse))
	r.dbConnections.WithLabelValues("idle").Set(float64(idle))
}

// Handler 返回全局注册表的HTTP处理器
func Handler() http.Handler {
	return GetRegistry().Handler()
}

// RecordRequestMetrics 记录请求指标
func RecordRequestMetrics(method, path string, status int, duration time.Duration) {
	GetRegistry().ObserveRequest(method, path, status, duration)
}
