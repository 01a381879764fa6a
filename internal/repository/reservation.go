package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/paiban/classplan/pkg/model"
)

// ReservationRepository 设备预约仓储
type ReservationRepository struct {
	db DB
}

// NewReservationRepository 创建预约仓储
func NewReservationRepository(db DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Reservations 获取窗口内的有效预约，区间已加上前后缓冲
func (r *ReservationRepository) Reservations(ctx context.Context, start, end time.Time) ([]model.Reservation, error) {
	query := `
		SELECT resource_id, starts_at, ends_at, buffer_minutes, label
		FROM reservations
		WHERE status <> 'cancelled'
			AND starts_at - make_interval(mins => buffer_minutes) <= $2
			AND ends_at + make_interval(mins => buffer_minutes) >= $1
		ORDER BY starts_at
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("查询设备预约失败: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var (
			res      model.Reservation
			from, to time.Time
			buffer   int
		)
		if err := rows.Scan(&res.ResourceID, &from, &to, &buffer, &res.Label); err != nil {
			return nil, fmt.Errorf("扫描设备预约失败: %w", err)
		}
		pad := time.Duration(buffer) * time.Minute
		res.Interval = model.NewInterval(from.Add(-pad), to.Add(pad))
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取设备预约失败: %w", err)
	}

	return out, nil
}

// ResourceAreas 获取设备到区域的映射
func (r *ReservationRepository) ResourceAreas(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, area_id FROM resources WHERE area_id IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("查询设备区域失败: %w", err)
	}
	defer rows.Close()

	areas := make(map[string]string)
	for rows.Next() {
		var id, area string
		if err := rows.Scan(&id, &area); err != nil {
			return nil, fmt.Errorf("扫描设备区域失败: %w", err)
		}
		areas[id] = area
	}
	return areas, rows.Err()
}
