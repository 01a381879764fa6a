package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paiban/classplan/pkg/model"
)

// DefaultRunMargin 读取已排课程时向窗口两侧扩展的范围
// 窗口外的开课仍可能产生落在窗口内的禁排期
const DefaultRunMargin = 180 * 24 * time.Hour

// PlanRecord 生成的排课方案记录
type PlanRecord struct {
	ID          uuid.UUID      `json:"id"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Score       float64        `json:"score"`
	Optimal     bool           `json:"optimal"`
	Assigned    int            `json:"assigned"`
	Status      string         `json:"status"` // draft/published
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ScheduleRepository 已发布课表与排课方案仓储
type ScheduleRepository struct {
	db     TxDB
	margin time.Duration
}

// NewScheduleRepository 创建课表仓储
func NewScheduleRepository(db TxDB) *ScheduleRepository {
	return &ScheduleRepository{db: db, margin: DefaultRunMargin}
}

// WithMargin 设置读取已排课程的扩展范围
func (r *ScheduleRepository) WithMargin(margin time.Duration) *ScheduleRepository {
	r.margin = margin
	return r
}

// ScheduledRuns 获取与窗口相关的已发布开课（含所有期）
func (r *ScheduleRepository) ScheduledRuns(ctx context.Context, start, end time.Time) ([]model.ScheduledRun, error) {
	query := `
		SELECT r.id, r.class_id, r.class_name, r.instructor_id, s.starts_at, s.ends_at
		FROM class_runs r
		JOIN class_sessions s ON s.run_id = r.id
		WHERE r.status = 'published'
			AND r.id IN (
				SELECT run_id FROM class_sessions
				WHERE starts_at <= $2 AND ends_at >= $1
			)
		ORDER BY r.id, s.starts_at
	`

	rows, err := r.db.QueryContext(ctx, query, start.Add(-r.margin), end.Add(r.margin))
	if err != nil {
		return nil, fmt.Errorf("查询已排课程失败: %w", err)
	}
	defer rows.Close()

	var runs []model.ScheduledRun
	lastID := ""
	for rows.Next() {
		var (
			runID    string
			run      model.ScheduledRun
			from, to time.Time
		)
		if err := rows.Scan(&runID, &run.ClassID, &run.ClassName, &run.InstructorID, &from, &to); err != nil {
			return nil, fmt.Errorf("扫描已排课程失败: %w", err)
		}
		if runID != lastID {
			runs = append(runs, run)
			lastID = runID
		}
		cur := &runs[len(runs)-1]
		cur.Sessions = append(cur.Sessions, model.NewInterval(from, to))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取已排课程失败: %w", err)
	}

	return runs, nil
}

// SavePlan 在一个事务中保存排课方案及其分配
func (r *ScheduleRepository) SavePlan(ctx context.Context, plan *model.Plan, window model.Interval) (*PlanRecord, error) {
	record := &PlanRecord{
		ID:          uuid.New(),
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Score:       plan.Score,
		Optimal:     plan.Optimal,
		Assigned:    plan.Count(),
		Status:      "draft",
		Metadata: map[string]any{
			"variables": plan.Variables,
			"nodes":     plan.Nodes,
			"duration":  plan.Duration.String(),
		},
		CreatedAt: time.Now(),
	}
	metadataJSON, _ := json.Marshal(record.Metadata)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO class_plans (
			id, window_start, window_end, score, optimal, assigned, status, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		record.ID, record.WindowStart, record.WindowEnd, record.Score, record.Optimal,
		record.Assigned, record.Status, metadataJSON, record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("创建排课方案失败: %w", err)
	}

	for _, a := range plan.Assignments() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO class_plan_assignments (
				id, plan_id, class_id, class_name, instructor_id, starts_at, score
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), record.ID, a.ClassID, a.ClassName, a.InstructorID, a.Start, a.Score)
		if err != nil {
			return nil, fmt.Errorf("创建排课分配失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("事务提交失败: %w", err)
	}
	return record, nil
}

// ListPlans 列出排课方案，按创建时间倒序
func (r *ScheduleRepository) ListPlans(ctx context.Context, filter ListFilter) ([]*PlanRecord, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Start != nil {
		conditions = append(conditions, fmt.Sprintf("window_end >= $%d", argNum))
		args = append(args, *filter.Start)
		argNum++
	}
	if filter.End != nil {
		conditions = append(conditions, fmt.Sprintf("window_start <= $%d", argNum))
		args = append(args, *filter.End)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, window_start, window_end, score, optimal, assigned, status, metadata, created_at
		FROM class_plans %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询排课方案失败: %w", err)
	}
	defer rows.Close()

	var plans []*PlanRecord
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// scanPlan 扫描单行方案
func scanPlan(row Scanner) (*PlanRecord, error) {
	p := &PlanRecord{}
	var metadataJSON []byte

	err := row.Scan(
		&p.ID, &p.WindowStart, &p.WindowEnd, &p.Score, &p.Optimal,
		&p.Assigned, &p.Status, &metadataJSON, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描排课方案失败: %w", err)
	}

	if len(metadataJSON) > 0 {
		json.Unmarshal(metadataJSON, &p.Metadata)
	}
	return p, nil
}
