// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ListFilter 列表查询过滤器
type ListFilter struct {
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	Offset int        `json:"offset"`
	Limit  int        `json:"limit"`
}

// DefaultListFilter 返回默认过滤器
func DefaultListFilter() ListFilter {
	return ListFilter{
		Offset: 0,
		Limit:  20,
	}
}

// WithLimit 设置限制
func (f ListFilter) WithLimit(limit int) ListFilter {
	f.Limit = limit
	return f
}

// WithOffset 设置偏移
func (f ListFilter) WithOffset(offset int) ListFilter {
	f.Offset = offset
	return f
}

// WithRange 设置时间范围
func (f ListFilter) WithRange(start, end time.Time) ListFilter {
	f.Start = &start
	f.End = &end
	return f
}

// DB 数据库接口
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxDB 支持事务的数据库接口
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Scanner 行扫描接口
type Scanner interface {
	Scan(dest ...interface{}) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
