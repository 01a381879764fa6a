package solver

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/paiban/classplan/pkg/model"
	"github.com/paiban/classplan/pkg/occupancy"
	"github.com/paiban/classplan/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var anchor = time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC)

func at(d, hour int) time.Time {
	return anchor.AddDate(0, 0, d).Add(time.Duration(hour) * time.Hour)
}

func class(id string, score float64, areas ...string) *model.ClassTemplate {
	return &model.ClassTemplate{
		ID:          id,
		Name:        "课程 " + id,
		Hours:       3,
		Sessions:    1,
		Areas:       areas,
		Score:       score,
		Period:      30 * 24 * time.Hour,
		Approved:    true,
		Schedulable: true,
	}
}

func instructor(id string, caps []string, avail ...time.Time) *model.Instructor {
	return &model.Instructor{ID: id, Name: "讲师 " + id, Capabilities: caps, Availability: avail}
}

func solve(t *testing.T, classes []*model.ClassTemplate, instructors []*model.Instructor, opts Options) *model.Plan {
	t.Helper()
	plan, err := NewSolver().Solve(context.Background(), classes, instructors, opts)
	require.NoError(t, err)
	return plan
}

func TestSolve_HigherScoreWins(t *testing.T) {
	classes := []*model.ClassTemplate{class("c1", 0.7, "metal"), class("c2", 0.8, "metal")}
	instructors := []*model.Instructor{
		instructor("a", []string{"c1"}, at(40, 18)),
		instructor("b", []string{"c2"}, at(40, 18)),
	}

	plan := solve(t, classes, instructors, Options{})

	require.Equal(t, 1, plan.Count())
	require.Len(t, plan.ByInstructor["b"], 1)
	assert.Equal(t, "c2", plan.ByInstructor["b"][0].ClassID)
	assert.InDelta(t, 0.8, plan.Score, 1e-9)
	assert.True(t, plan.Optimal)
}

func TestSolve_ZeroScoreNotAssigned(t *testing.T) {
	classes := []*model.ClassTemplate{class("c0", 0, "metal"), class("c1", 0.5, "wood")}
	instructors := []*model.Instructor{
		instructor("a", []string{"c0"}, at(40, 18)),
		instructor("b", []string{"c1"}, at(41, 18)),
	}

	plan := solve(t, classes, instructors, Options{})

	assert.Equal(t, 1, plan.Count())
	assert.Empty(t, plan.ByInstructor["a"])
	assert.InDelta(t, 0.5, plan.Score, 1e-9)
}

func TestSolve_RunOnce(t *testing.T) {
	classes := []*model.ClassTemplate{class("c1", 1, "metal")}
	instructors := []*model.Instructor{
		instructor("a", []string{"c1"}, at(40, 10), at(41, 10)),
		instructor("b", []string{"c1"}, at(42, 10)),
	}

	plan := solve(t, classes, instructors, Options{})

	assert.Equal(t, 1, plan.Count())
	assert.InDelta(t, 1.0, plan.Score, 1e-9)
}

func TestSolve_NoDoubleBooking(t *testing.T) {
	classes := []*model.ClassTemplate{class("c1", 1, "metal"), class("c2", 1, "wood")}

	plan := solve(t, classes, []*model.Instructor{
		instructor("a", []string{"c1", "c2"}, at(40, 10)),
	}, Options{})
	assert.Equal(t, 1, plan.Count())

	// 13:00 开始与 10:00-13:00 首尾相接，可以都排
	plan = solve(t, classes, []*model.Instructor{
		instructor("a", []string{"c1", "c2"}, at(40, 10), at(40, 13)),
	}, Options{})
	assert.Equal(t, 2, plan.Count())
	list := plan.ByInstructor["a"]
	require.Len(t, list, 2)
	assert.True(t, list[0].Start.Before(list[1].Start))
}

func TestSolve_MultiSessionAreaConflict(t *testing.T) {
	long := class("long", 1, "metal")
	long.Sessions = 2
	classes := []*model.ClassTemplate{long, class("week2", 0.5, "metal"), class("week3", 0.4, "metal")}
	instructors := []*model.Instructor{
		instructor("a", []string{"long"}, at(40, 18)),
		instructor("b", []string{"week2"}, at(47, 19)),
		instructor("c", []string{"week3"}, at(54, 18)),
	}

	plan := solve(t, classes, instructors, Options{})

	// long 第二期在第47天 18:00-21:00，与 week2 冲突
	assert.Len(t, plan.ByInstructor["a"], 1)
	assert.Empty(t, plan.ByInstructor["b"])
	assert.Len(t, plan.ByInstructor["c"], 1)
	assert.InDelta(t, 1.4, plan.Score, 1e-9)
}

func TestSolve_LoadCap(t *testing.T) {
	classes := []*model.ClassTemplate{class("c1", 1, "x"), class("c2", 1, "y"), class("c3", 1, "z")}
	caps := []string{"c1", "c2", "c3"}
	avail := []time.Time{at(40, 10), at(41, 10), at(42, 10)}

	one := 1
	inst := instructor("a", caps, avail...)
	inst.MaxClasses = &one
	assert.Equal(t, 1, solve(t, classes, []*model.Instructor{inst}, Options{}).Count())

	zero := 0
	inst.MaxClasses = &zero
	assert.Equal(t, 0, solve(t, classes, []*model.Instructor{inst}, Options{}).Count())

	inst.MaxClasses = nil
	assert.Equal(t, 3, solve(t, classes, []*model.Instructor{inst}, Options{}).Count())
}

func TestSolve_FiltersCatalog(t *testing.T) {
	hidden := class("hidden", 5, "metal")
	hidden.Schedulable = false
	restricted := class("restricted", 4, "wood")
	restricted.Instructors = []string{"b"}

	classes := []*model.ClassTemplate{hidden, restricted, class("ok", 1, "paint")}
	instructors := []*model.Instructor{
		instructor("a", []string{"hidden", "restricted", "ghost", "ok"}, at(40, 10)),
	}

	plan := solve(t, classes, instructors, Options{})

	require.Equal(t, 1, plan.Count())
	assert.Equal(t, "ok", plan.ByInstructor["a"][0].ClassID)
	assert.Equal(t, []string{"hidden", "restricted", "ghost", "ok"}, instructors[0].Capabilities)
}

func TestSolve_ValidatorPrefilter(t *testing.T) {
	lathe := class("lathe-1", 1, "metal")
	snap := &occupancy.Snapshot{
		Runs: []model.ScheduledRun{{
			ClassID:      "lathe-1",
			ClassName:    "车床基础 8月班",
			InstructorID: "ada",
			Sessions:     []model.Interval{model.NewInterval(at(0, 18), at(0, 21))},
		}},
		Templates: map[string]*model.ClassTemplate{"lathe-1": lathe},
	}
	env := occupancy.Assemble(model.NewInterval(at(-60, 0), at(90, 0)), snap, occupancy.DefaultOptions())
	cfg := validator.DefaultConfig()
	cfg.Location = time.UTC

	plan := solve(t, []*model.ClassTemplate{lathe}, []*model.Instructor{
		instructor("bob", []string{"lathe-1"}, at(10, 18), at(40, 18)),
	}, Options{Environment: env, Validator: validator.NewValidator(cfg, nil)})

	require.Equal(t, 1, plan.Count())
	assert.True(t, plan.ByInstructor["bob"][0].Start.Equal(at(40, 18)))
	assert.Equal(t, 1, plan.Variables)
}

func TestSolve_Empty(t *testing.T) {
	plan := solve(t, nil, nil, Options{})

	assert.Zero(t, plan.Count())
	assert.Zero(t, plan.Score)
	assert.True(t, plan.Optimal)
}

func TestSolve_Timeout(t *testing.T) {
	classes, instructors := randomCatalog(rand.New(rand.NewSource(11)), 30, 8)

	plan := solve(t, classes, instructors, Options{Timeout: time.Nanosecond})

	checkInvariants(t, classes, instructors, plan)
}

func TestSolve_Invariants(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 10; i++ {
		classes, instructors := randomCatalog(r, 12, 4)
		plan := solve(t, classes, instructors, Options{})
		checkInvariants(t, classes, instructors, plan)
	}
}

func randomCatalog(r *rand.Rand, nClasses, nInstructors int) ([]*model.ClassTemplate, []*model.Instructor) {
	areas := []string{"metal", "wood", "textile"}
	var classes []*model.ClassTemplate
	for i := 0; i < nClasses; i++ {
		c := class(fmt.Sprintf("c%d", i), float64(1+r.Intn(9))/10, areas[r.Intn(len(areas))])
		c.Hours = float64(1 + r.Intn(4))
		c.Sessions = 1 + r.Intn(2)
		classes = append(classes, c)
	}

	var instructors []*model.Instructor
	for i := 0; i < nInstructors; i++ {
		var caps []string
		for _, c := range classes {
			if r.Intn(3) == 0 {
				caps = append(caps, c.ID)
			}
		}
		var avail []time.Time
		for k := 0; k < 6; k++ {
			avail = append(avail, at(40+r.Intn(14), 10+r.Intn(8)))
		}
		inst := instructor(fmt.Sprintf("i%d", i), caps, avail...)
		if r.Intn(2) == 0 {
			limit := 1 + r.Intn(2)
			inst.MaxClasses = &limit
		}
		instructors = append(instructors, inst)
	}
	return classes, instructors
}

func checkInvariants(t *testing.T, classes []*model.ClassTemplate, instructors []*model.Instructor, plan *model.Plan) {
	t.Helper()
	byID := make(map[string]*model.ClassTemplate)
	for _, c := range classes {
		byID[c.ID] = c
	}
	instByID := make(map[string]*model.Instructor)
	for _, inst := range instructors {
		instByID[inst.ID] = inst
	}

	all := plan.Assignments()
	seen := make(map[string]bool)
	var total float64
	for _, a := range all {
		assert.False(t, seen[a.ClassID], "课程 %s 被排了多次", a.ClassID)
		seen[a.ClassID] = true
		total += byID[a.ClassID].Score

		inst := instByID[a.InstructorID]
		require.NotNil(t, inst)
		assert.True(t, inst.CanTeach(a.ClassID))
		assert.True(t, inst.IsAvailable(a.Start))
	}
	assert.InDelta(t, total, plan.Score, 1e-9)

	for id, list := range plan.ByInstructor {
		if inst := instByID[id]; inst.HasLoadCap() {
			assert.LessOrEqual(t, len(list), *inst.MaxClasses)
		}
	}

	for i := range all {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			ca, cb := byID[a.ClassID], byID[b.ClassID]
			overlap := false
			for _, sa := range ca.SessionIntervals(a.Start) {
				for _, sb := range cb.SessionIntervals(b.Start) {
					if sa.Overlaps(sb) {
						overlap = true
					}
				}
			}
			if !overlap {
				continue
			}
			assert.NotEqual(t, a.InstructorID, b.InstructorID, "讲师 %s 重复排课", a.InstructorID)
			for _, area := range ca.Areas {
				assert.False(t, cb.OccupiesArea(area), "区域 %s 重叠", area)
			}
		}
	}
}
