package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paiban/classplan/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, hour int) time.Time {
	return time.Date(2026, 6, 1, hour, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

type fakeSource struct {
	runs         []model.ScheduledRun
	reservations []model.Reservation
	areas        map[string]string
	templates    []*model.ClassTemplate
	err          error
}

func (f *fakeSource) ScheduledRuns(ctx context.Context, start, end time.Time) ([]model.ScheduledRun, error) {
	return f.runs, f.err
}

func (f *fakeSource) Reservations(ctx context.Context, start, end time.Time) ([]model.Reservation, error) {
	return f.reservations, nil
}

func (f *fakeSource) ResourceAreas(ctx context.Context) (map[string]string, error) {
	return f.areas, nil
}

func (f *fakeSource) ClassTemplates(ctx context.Context) ([]*model.ClassTemplate, error) {
	return f.templates, nil
}

func woodworking() *model.ClassTemplate {
	return &model.ClassTemplate{
		ID:         "wood-101",
		Name:       "木工入门",
		Hours:      3,
		Sessions:   2,
		Areas:      []string{"wood", "assembly"},
		Period:     30 * 24 * time.Hour,
		Clearances: []string{"table-saw"},
	}
}

func newFixture() *fakeSource {
	return &fakeSource{
		runs: []model.ScheduledRun{
			{
				ClassID:      "wood-101",
				ClassName:    "木工入门 6月班",
				InstructorID: "ada",
				Sessions: []model.Interval{
					model.NewInterval(day(7, 18), day(7, 21)),
					model.NewInterval(day(0, 18), day(0, 21)),
				},
			},
		},
		reservations: []model.Reservation{
			{ResourceID: "saw-1", Interval: model.NewInterval(day(3, 9), day(3, 12)), Label: "锯台维护"},
			{ResourceID: "laser-9", Interval: model.NewInterval(day(3, 9), day(3, 12)), Label: "未知资源"},
		},
		areas:     map[string]string{"saw-1": "wood"},
		templates: []*model.ClassTemplate{woodworking()},
	}
}

func TestBuilder_Build(t *testing.T) {
	src := newFixture()
	b := NewBuilder(src, src, src, DefaultOptions())

	env, err := b.Build(context.Background(), day(0, 0), day(14, 0))
	require.NoError(t, err)

	excl := env.ExclusionsFor("wood-101")
	require.Len(t, excl, 1)
	assert.Equal(t, day(0, 18).Add(-30*24*time.Hour), excl[0].Start)
	assert.Equal(t, day(7, 21).Add(30*24*time.Hour), excl[0].End)
	assert.Equal(t, day(0, 18), excl[0].AnchorDate)
	assert.Equal(t, "木工入门 6月班", excl[0].OriginName)

	saw := env.ClearanceExclusionsFor("table-saw")
	require.Len(t, saw, 1)
	assert.Equal(t, day(0, 18).Add(-DefaultBypassCutoff), saw[0].Start)
	assert.Equal(t, day(0, 18).Add(DefaultBypassCutoff), saw[0].End)

	// 两期课 + 一条已映射的预约，按结束时间排序
	wood := env.AreaBusy("wood")
	require.Len(t, wood, 3)
	assert.Equal(t, day(0, 21), wood[0].End)
	assert.Equal(t, "锯台维护", wood[1].Name)
	assert.Equal(t, day(7, 21), wood[2].End)

	assert.Len(t, env.AreaBusy("assembly"), 2)
	assert.Len(t, env.InstructorBusy("ada"), 2)
}

func TestBuilder_SessionsOutsideWindow(t *testing.T) {
	src := newFixture()
	b := NewBuilder(src, src, src, DefaultOptions())

	env, err := b.Build(context.Background(), day(5, 0), day(10, 0))
	require.NoError(t, err)

	// 只有第二期落在窗口内
	assert.Len(t, env.InstructorBusy("ada"), 1)
	assert.Len(t, env.ExclusionsFor("wood-101"), 1)
}

func TestBuilder_SkipsMalformedRuns(t *testing.T) {
	src := newFixture()
	noPeriod := woodworking()
	noPeriod.ID = "metal-1"
	noPeriod.Period = 0
	src.templates = append(src.templates, noPeriod)
	src.runs = append(src.runs,
		model.ScheduledRun{ClassID: "ghost", InstructorID: "bob", Sessions: []model.Interval{model.NewInterval(day(1, 18), day(1, 21))}},
		model.ScheduledRun{ClassID: "metal-1", InstructorID: "bob", Sessions: []model.Interval{model.NewInterval(day(1, 18), day(1, 21))}},
		model.ScheduledRun{ClassID: "wood-101", InstructorID: "bob"},
	)
	b := NewBuilder(src, src, src, DefaultOptions())

	env, err := b.Build(context.Background(), day(0, 0), day(14, 0))
	require.NoError(t, err)

	assert.Empty(t, env.InstructorBusy("bob"))
	assert.Empty(t, env.ExclusionsFor("metal-1"))
	assert.Len(t, env.ExclusionsFor("wood-101"), 1)
}

func TestBuilder_UpstreamFailure(t *testing.T) {
	src := newFixture()
	src.err = errors.New("connection refused")
	b := NewBuilder(src, src, src, DefaultOptions())

	_, err := b.Build(context.Background(), day(0, 0), day(14, 0))
	assert.ErrorContains(t, err, "connection refused")

	_, err = b.Build(context.Background(), day(14, 0), day(0, 0))
	assert.Error(t, err)
}

func TestBuilder_Idempotent(t *testing.T) {
	src := newFixture()
	b := NewBuilder(src, src, src, DefaultOptions())

	first, err := b.Build(context.Background(), day(0, 0), day(14, 0))
	require.NoError(t, err)
	second, err := b.Build(context.Background(), day(0, 0), day(14, 0))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIncluded(t *testing.T) {
	window := model.NewInterval(day(100, 0), day(110, 0))
	farPast := model.NewInterval(day(0, 0), day(10, 0))
	touching := model.NewInterval(day(90, 0), day(100, 0))

	assert.False(t, included(farPast, window, InclusionOverlap))
	assert.True(t, included(farPast, window, InclusionLegacyAny))
	assert.True(t, included(touching, window, InclusionOverlap))
}

func TestAssemble_LegacyInclusion(t *testing.T) {
	src := newFixture()
	snap := &Snapshot{
		Runs:      src.runs,
		Templates: map[string]*model.ClassTemplate{"wood-101": woodworking()},
	}
	window := model.NewInterval(day(200, 0), day(210, 0))

	strict := Assemble(window, snap, DefaultOptions())
	legacy := Assemble(window, snap, Options{BypassCutoff: DefaultBypassCutoff, Inclusion: InclusionLegacyAny})

	assert.Empty(t, strict.ExclusionsFor("wood-101"))
	assert.Len(t, legacy.ExclusionsFor("wood-101"), 1)
	assert.Empty(t, legacy.InstructorBusy("ada"))
}
