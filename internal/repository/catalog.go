package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/paiban/classplan/pkg/model"
)

// CatalogRepository 课程目录与讲师仓储
type CatalogRepository struct {
	db DB
}

// NewCatalogRepository 创建目录仓储
func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const templateColumns = `id, name, hours, sessions, areas, score, period_days,
	instructors, approved, schedulable, clearances`

// ClassTemplates 获取全部课程模板（包括已停排的，用于推导历史开课的禁排期）
func (r *CatalogRepository) ClassTemplates(ctx context.Context) ([]*model.ClassTemplate, error) {
	return r.queryTemplates(ctx, "SELECT "+templateColumns+" FROM class_templates ORDER BY id")
}

// SchedulableTemplates 获取已审批且可排的课程模板
func (r *CatalogRepository) SchedulableTemplates(ctx context.Context) ([]*model.ClassTemplate, error) {
	return r.queryTemplates(ctx,
		"SELECT "+templateColumns+" FROM class_templates WHERE approved AND schedulable ORDER BY id")
}

// GetTemplate 根据ID获取课程模板，不存在时返回 nil
func (r *CatalogRepository) GetTemplate(ctx context.Context, id string) (*model.ClassTemplate, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+templateColumns+" FROM class_templates WHERE id = $1", id)
	t, err := scanTemplate(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *CatalogRepository) queryTemplates(ctx context.Context, query string) ([]*model.ClassTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询课程模板失败: %w", err)
	}
	defer rows.Close()

	var templates []*model.ClassTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取课程模板失败: %w", err)
	}
	return templates, nil
}

// scanTemplate 扫描课程模板
func scanTemplate(row Scanner) (*model.ClassTemplate, error) {
	t := &model.ClassTemplate{}
	var periodDays int
	err := row.Scan(
		&t.ID, &t.Name, &t.Hours, &t.Sessions, pq.Array(&t.Areas), &t.Score, &periodDays,
		pq.Array(&t.Instructors), &t.Approved, &t.Schedulable, pq.Array(&t.Clearances),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("扫描课程模板失败: %w", err)
	}
	t.Period = time.Duration(periodDays) * 24 * time.Hour
	return t, nil
}

// scanInstructors 读取讲师列表并关闭 rows
func scanInstructors(rows *sql.Rows) ([]*model.Instructor, map[string]*model.Instructor, error) {
	defer rows.Close()

	var all []*model.Instructor
	byID := make(map[string]*model.Instructor)
	for rows.Next() {
		inst := &model.Instructor{}
		if err := rows.Scan(&inst.ID, &inst.Name); err != nil {
			return nil, nil, fmt.Errorf("扫描讲师失败: %w", err)
		}
		all = append(all, inst)
		byID[inst.ID] = inst
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("读取讲师失败: %w", err)
	}
	return all, byID, nil
}

// Instructors 组装讲师：窗口内的可用开课时间 ∩ 能力，附带当月课程数上限
// 没有可用时间或没有能力的讲师不返回
func (r *CatalogRepository) Instructors(ctx context.Context, start, end time.Time) ([]*model.Instructor, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM instructors WHERE active ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("查询讲师失败: %w", err)
	}
	all, byID, err := scanInstructors(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadCapabilities(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.loadAvailability(ctx, byID, start, end); err != nil {
		return nil, err
	}
	if err := r.loadCaps(ctx, byID, monthOf(start)); err != nil {
		return nil, err
	}

	out := make([]*model.Instructor, 0, len(all))
	for _, inst := range all {
		if len(inst.Capabilities) > 0 && len(inst.Availability) > 0 {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *CatalogRepository) loadCapabilities(ctx context.Context, byID map[string]*model.Instructor) error {
	rows, err := r.db.QueryContext(ctx, "SELECT instructor_id, class_id FROM instructor_capabilities ORDER BY instructor_id, class_id")
	if err != nil {
		return fmt.Errorf("查询讲师能力失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var instructorID, classID string
		if err := rows.Scan(&instructorID, &classID); err != nil {
			return fmt.Errorf("扫描讲师能力失败: %w", err)
		}
		if inst, ok := byID[instructorID]; ok {
			inst.Capabilities = append(inst.Capabilities, classID)
		}
	}
	return rows.Err()
}

func (r *CatalogRepository) loadAvailability(ctx context.Context, byID map[string]*model.Instructor, start, end time.Time) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instructor_id, starts_at FROM instructor_availability
		WHERE starts_at >= $1 AND starts_at <= $2
		ORDER BY starts_at
	`, start, end)
	if err != nil {
		return fmt.Errorf("查询讲师可用时间失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var instructorID string
		var at time.Time
		if err := rows.Scan(&instructorID, &at); err != nil {
			return fmt.Errorf("扫描讲师可用时间失败: %w", err)
		}
		if inst, ok := byID[instructorID]; ok {
			inst.Availability = append(inst.Availability, at)
		}
	}
	return rows.Err()
}

func (r *CatalogRepository) loadCaps(ctx context.Context, byID map[string]*model.Instructor, month time.Time) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT instructor_id, max_classes FROM instructor_load_caps WHERE month = $1", month)
	if err != nil {
		return fmt.Errorf("查询讲师课程上限失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var instructorID string
		var limit int
		if err := rows.Scan(&instructorID, &limit); err != nil {
			return fmt.Errorf("扫描讲师课程上限失败: %w", err)
		}
		if inst, ok := byID[instructorID]; ok {
			inst.MaxClasses = &limit
		}
	}
	return rows.Err()
}

// monthOf 返回所在月份的第一天
func monthOf(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
