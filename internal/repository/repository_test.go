package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/paiban/classplan/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var base = time.Date(2026, 8, 4, 18, 0, 0, 0, time.UTC)

func TestScheduleRepository_ScheduledRunsGroupsSessions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepository(db).WithMargin(24 * time.Hour)
	start, end := base, base.AddDate(0, 0, 30)

	rows := sqlmock.NewRows([]string{"id", "class_id", "class_name", "instructor_id", "starts_at", "ends_at"}).
		AddRow("run-1", "cnc-2", "数控集训", "ada", base, base.Add(3*time.Hour)).
		AddRow("run-1", "cnc-2", "数控集训", "ada", base.AddDate(0, 0, 7), base.AddDate(0, 0, 7).Add(3*time.Hour)).
		AddRow("run-2", "lathe-1", "车床基础", "bob", base.AddDate(0, 0, 2), base.AddDate(0, 0, 2).Add(3*time.Hour))
	mock.ExpectQuery("FROM class_runs r").
		WithArgs(start.Add(-24*time.Hour), end.Add(24*time.Hour)).
		WillReturnRows(rows)

	runs, err := repo.ScheduledRuns(context.Background(), start, end)
	require.NoError(t, err)

	require.Len(t, runs, 2)
	assert.Equal(t, "cnc-2", runs[0].ClassID)
	assert.Len(t, runs[0].Sessions, 2)
	assert.Equal(t, "bob", runs[1].InstructorID)
	assert.Len(t, runs[1].Sessions, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_ScheduledRunsError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM class_runs r").WillReturnError(errors.New("connection refused"))

	_, err := NewScheduleRepository(db).ScheduledRuns(context.Background(), base, base)
	assert.ErrorContains(t, err, "connection refused")
}

func TestScheduleRepository_SavePlan(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepository(db)

	plan := model.NewPlan()
	plan.ByInstructor["ada"] = []model.Assignment{
		{ClassID: "lathe-1", ClassName: "车床基础", InstructorID: "ada", Start: base, Score: 0.8},
	}
	plan.Score = 0.8
	plan.Optimal = true

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO class_plans").
		WithArgs(sqlmock.AnyArg(), base, base.AddDate(0, 1, 0), 0.8, true, 1, "draft", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO class_plan_assignments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "lathe-1", "车床基础", "ada", base, 0.8).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.SavePlan(context.Background(), plan, model.NewInterval(base, base.AddDate(0, 1, 0)))
	require.NoError(t, err)

	assert.Equal(t, 1, record.Assigned)
	assert.Equal(t, "draft", record.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_SavePlanRollsBack(t *testing.T) {
	db, mock := newMock(t)

	plan := model.NewPlan()
	plan.ByInstructor["ada"] = []model.Assignment{{ClassID: "lathe-1", InstructorID: "ada", Start: base}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO class_plans").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO class_plan_assignments").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := NewScheduleRepository(db).SavePlan(context.Background(), plan, model.NewInterval(base, base))
	assert.ErrorContains(t, err, "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_ListPlans(t *testing.T) {
	db, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "window_start", "window_end", "score", "optimal", "assigned", "status", "metadata", "created_at"}).
		AddRow("6f1c1d7e-8a55-4e0b-9a57-5f4a1d0d2a11", base, base.AddDate(0, 1, 0), 2.5, false, 3, "draft", []byte(`{"nodes":12}`), now)
	mock.ExpectQuery("FROM class_plans WHERE window_end >= \\$1 AND window_start <= \\$2").
		WithArgs(base, base.AddDate(0, 1, 0), 20, 0).
		WillReturnRows(rows)

	plans, err := NewScheduleRepository(db).ListPlans(context.Background(),
		DefaultListFilter().WithRange(base, base.AddDate(0, 1, 0)))
	require.NoError(t, err)

	require.Len(t, plans, 1)
	assert.Equal(t, 3, plans[0].Assigned)
	assert.EqualValues(t, 12, plans[0].Metadata["nodes"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepository_AppliesBuffer(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepository(db)

	rows := sqlmock.NewRows([]string{"resource_id", "starts_at", "ends_at", "buffer_minutes", "label"}).
		AddRow("mill-2", base, base.Add(2*time.Hour), 30, "铣床私人预约")
	mock.ExpectQuery("FROM reservations").WithArgs(base, base.AddDate(0, 0, 7)).WillReturnRows(rows)

	res, err := repo.Reservations(context.Background(), base, base.AddDate(0, 0, 7))
	require.NoError(t, err)

	require.Len(t, res, 1)
	assert.Equal(t, base.Add(-30*time.Minute), res[0].Interval.Start)
	assert.Equal(t, base.Add(150*time.Minute), res[0].Interval.End)
	assert.Equal(t, "铣床私人预约", res[0].Label)
}

func TestReservationRepository_ResourceAreas(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT id, area_id FROM resources").
		WillReturnRows(sqlmock.NewRows([]string{"id", "area_id"}).AddRow("mill-2", "metal").AddRow("saw-1", "wood"))

	areas, err := NewReservationRepository(db).ResourceAreas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mill-2": "metal", "saw-1": "wood"}, areas)
}

func templateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "hours", "sessions", "areas", "score", "period_days",
		"instructors", "approved", "schedulable", "clearances"})
}

func TestCatalogRepository_SchedulableTemplates(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("FROM class_templates WHERE approved AND schedulable").
		WillReturnRows(templateRows().
			AddRow("lathe-1", "车床基础", 3.0, 1, "{metal}", 0.8, 30, "{}", true, true, "{lathe}").
			AddRow("cnc-2", "数控集训", 2.5, 2, "{metal,cnc}", 1.2, 60, "{ada,bob}", true, true, "{}"))

	templates, err := NewCatalogRepository(db).SchedulableTemplates(context.Background())
	require.NoError(t, err)

	require.Len(t, templates, 2)
	assert.Equal(t, []string{"metal"}, templates[0].Areas)
	assert.Equal(t, []string{"lathe"}, templates[0].Clearances)
	assert.Equal(t, 30*24*time.Hour, templates[0].Period)
	assert.Equal(t, []string{"ada", "bob"}, templates[1].Instructors)
	assert.Equal(t, 2, templates[1].SessionCount())
}

func TestCatalogRepository_GetTemplateMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("FROM class_templates WHERE id = \\$1").WithArgs("ghost").WillReturnRows(templateRows())

	tpl, err := NewCatalogRepository(db).GetTemplate(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, tpl)
}

func TestCatalogRepository_Instructors(t *testing.T) {
	db, mock := newMock(t)
	start := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)

	mock.ExpectQuery("SELECT id, name FROM instructors").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("ada", "Ada").AddRow("bob", "Bob").AddRow("cy", "Cy"))
	mock.ExpectQuery("FROM instructor_capabilities").
		WillReturnRows(sqlmock.NewRows([]string{"instructor_id", "class_id"}).
			AddRow("ada", "lathe-1").AddRow("ada", "cnc-2").AddRow("bob", "lathe-1"))
	mock.ExpectQuery("FROM instructor_availability").WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"instructor_id", "starts_at"}).
			AddRow("ada", start.Add(18*time.Hour)).
			AddRow("cy", start.Add(42*time.Hour)))
	mock.ExpectQuery("FROM instructor_load_caps WHERE month = \\$1").
		WithArgs(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"instructor_id", "max_classes"}).AddRow("ada", 2))

	list, err := NewCatalogRepository(db).Instructors(context.Background(), start, end)
	require.NoError(t, err)

	// bob 没有可用时间，cy 没有能力
	require.Len(t, list, 1)
	ada := list[0]
	assert.Equal(t, []string{"lathe-1", "cnc-2"}, ada.Capabilities)
	assert.Len(t, ada.Availability, 1)
	require.True(t, ada.HasLoadCap())
	assert.Equal(t, 2, *ada.MaxClasses)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_InstructorsRowError(t *testing.T) {
	db, mock := newMock(t)
	start := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name FROM instructors").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("ada", "Ada").AddRow("bob", "Bob").
			RowError(1, errors.New("conn reset")))

	list, err := NewCatalogRepository(db).Instructors(context.Background(), start, start.AddDate(0, 0, 14))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "读取讲师失败")
	assert.Contains(t, err.Error(), "conn reset")
	assert.Nil(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}
