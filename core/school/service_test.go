package school_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/tests"
)

func TestService_SchoolYears(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	_, err := env.School.ActiveSchoolYear(ctx)
	assert.Equal(t, core.ErrNotFound, errors.Cause(err))

	sy1, periods := testutil.CreateSchoolYear(t, env, "2023-2024", true)
	sy2, _ := testutil.CreateSchoolYear(t, env, "2024-2025", false)

	require.Len(t, periods, 4)
	for i, gp := range periods {
		assert.Equal(t, grading.SemesterOf(i+1), gp.Semester)
	}
	assert.True(t, periods[0].IsActive)

	_, err = env.School.CreateSchoolYear(ctx, school.NewSchoolYear{
		YearCode:  "2024-2025",
		StartDate: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.May, 31, 0, 0, 0, 0, time.UTC),
	}, "")
	assert.Equal(t, school.ErrYearCodeExists, err)

	_, err = env.School.CreateGradingPeriod(ctx, school.NewGradingPeriod{
		SchoolYearID: sy1.ID,
		PeriodNumber: 2,
		StartDate:    sy1.StartDate,
		EndDate:      sy1.EndDate,
	}, "")
	assert.Equal(t, school.ErrPeriodExists, err)

	active, err := env.School.ActiveSchoolYear(ctx)
	require.NoError(t, err)
	assert.Equal(t, sy1.ID, active.ID)

	_, err = env.School.SetActiveSchoolYear(ctx, sy2.ID, "")
	require.NoError(t, err)

	years, err := env.School.QuerySchoolYears(ctx)
	require.NoError(t, err)
	require.Len(t, years, 2)
	assert.Equal(t, sy2.ID, years[0].ID, "newest first")
	assert.True(t, years[0].IsActive)
	assert.False(t, years[1].IsActive, "only one active school year")

	gp, err := env.School.SetActiveGradingPeriod(ctx, periods[2].ID, "")
	require.NoError(t, err)
	assert.True(t, gp.IsActive)
	periods, err = env.School.QueryGradingPeriods(ctx, sy1.ID)
	require.NoError(t, err)
	for _, p := range periods {
		assert.Equal(t, p.ID == gp.ID, p.IsActive)
	}

	_, err = env.School.GetSchoolYear(ctx, "lol")
	assert.Equal(t, core.ErrNotFound, err)
}

func TestService_Subjects(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	math := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	testutil.CreateSubject(t, env, "SCI11", "Earth Science")

	_, err := env.School.CreateSubject(ctx, school.NewSubject{Code: "math11", Name: "Dup"})
	assert.Equal(t, school.ErrSubjectCodeExists, err, "codes are case-insensitive")

	subjects, err := env.School.QuerySubjects(ctx, school.SubjectFilter{Search: "math"})
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, math.ID, subjects[0].ID)

	updated, err := env.School.UpdateSubject(ctx, math, school.NewSubject{Code: "MATH11", Name: "Gen Math"})
	require.NoError(t, err)
	assert.Equal(t, "Gen Math", updated.Name)

	_, err = env.School.UpdateSubject(ctx, math, school.NewSubject{Code: "SCI11", Name: "Gen Math"})
	assert.Equal(t, school.ErrSubjectCodeExists, err)
}

func TestService_UpdateSettings(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	s, err := env.School.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, grading.DefaultPolicy(), s.Policy)

	_, err = env.Cache.Get(ctx, "settings:all")
	require.NoError(t, err, "settings are cached once read")

	tests := []struct {
		name    string
		us      school.UpdateSettings
		wantErr bool
	}{
		{name: "unknown key", us: school.UpdateSettings{"lol": "1"}, wantErr: true},
		{name: "not a number", us: school.UpdateSettings{school.KeyPassingGrade: "abc"}, wantErr: true},
		{name: "out of range", us: school.UpdateSettings{school.KeyPassingGrade: "101"}, wantErr: true},
		{name: "weights sum", us: school.UpdateSettings{school.KeyWrittenWorkWeight: "40"}, wantErr: true},
		{name: "thresholds order", us: school.UpdateSettings{school.KeyHonorsThreshold: "99"}, wantErr: true},
		{
			name: "valid",
			us: school.UpdateSettings{
				school.KeySchoolName:            "  Rizal National High School ",
				school.KeyWrittenWorkWeight:     "25",
				school.KeyPerformanceTaskWeight: "50",
				school.KeyQuarterlyAssessWeight: "25",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.School.UpdateSettings(ctx, tt.us, "")
			if tt.wantErr {
				var verr *core.ValidationError
				assert.True(t, errors.As(err, &verr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}

	_, err = env.Cache.Get(ctx, "settings:all")
	assert.Equal(t, core.ErrCacheMiss, err, "updates invalidate the cache")

	s, err = env.School.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Rizal National High School", s.SchoolName)
	assert.Equal(t, grading.Weights{WrittenWork: 25, PerformanceTask: 50, QuarterlyAssessment: 25}, s.Policy.Weights)
	assert.Equal(t, float64(75), s.Policy.PassingGrade)
}
