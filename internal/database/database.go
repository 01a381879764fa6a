// Package database 提供数据库连接和管理
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/paiban/classplan/internal/config"
	"github.com/paiban/classplan/internal/metrics"
	"github.com/paiban/classplan/pkg/logger"

	_ "github.com/lib/pq" // PostgreSQL 驱动
)

const slowQuery = 100 * time.Millisecond

// DB 数据库连接封装
type DB struct {
	*sql.DB
	cfg     *config.DatabaseConfig
	metrics *metrics.Registry
}

// New 创建新的数据库连接
func New(cfg *config.DatabaseConfig, m *metrics.Registry) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	// 配置连接池
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("数据库连接成功")

	return Wrap(db, cfg, m), nil
}

// Wrap 包装已打开的连接
func Wrap(db *sql.DB, cfg *config.DatabaseConfig, m *metrics.Registry) *DB {
	if m == nil {
		m = metrics.GetRegistry()
	}
	return &DB{DB: db, cfg: cfg, metrics: m}
}

// Close 关闭数据库连接
func (db *DB) Close() error {
	if db.DB != nil {
		logger.Info().Msg("关闭数据库连接")
		return db.DB.Close()
	}
	return nil
}

// Health 健康检查，同时刷新连接池指标
func (db *DB) Health(ctx context.Context) error {
	s := db.DB.Stats()
	db.metrics.SetDBConnections(s.OpenConnections, s.InUse, s.Idle)
	return db.PingContext(ctx)
}

// ExecContext 执行SQL语句
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.DB.ExecContext(ctx, query, args...)
	db.observe(query, time.Since(start))
	return result, err
}

// QueryContext 执行查询
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.observe(query, time.Since(start))
	return rows, err
}

// QueryRowContext 执行单行查询
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.observe(query, time.Since(start))
	return row
}

// observe 记录查询耗时，慢查询打警告
func (db *DB) observe(query string, duration time.Duration) {
	db.metrics.ObserveDBQuery(operation(query), duration)
	if duration > slowQuery {
		logger.Warn().
			Str("query", truncateQuery(query)).
			Dur("duration", duration).
			Msg("慢SQL查询")
	}
}

// operation 取语句的第一个关键字作为指标标签
func operation(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// truncateQuery 截断长查询
func truncateQuery(query string) string {
	if len(query) > 200 {
		return query[:200] + "..."
	}
	return query
}
