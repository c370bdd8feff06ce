package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

func f(v float64) null.Float64 { return null.Float64From(v) }

func components(wws, wwt, pts, ptt, qas, qat null.Float64) Components {
	return Components{
		WrittenWorkScore:         wws,
		WrittenWorkTotal:         wwt,
		PerformanceTaskScore:     pts,
		PerformanceTaskTotal:     ptt,
		QuarterlyAssessmentScore: qas,
		QuarterlyAssessmentTotal: qat,
	}
}

func TestQuarterlyGrade(t *testing.T) {
	tests := []struct {
		name    string
		comps   Components
		weights Weights
		want    null.Float64
	}{
		{
			name:    "default weights",
			comps:   components(f(40), f(50), f(45), f(50), f(35), f(50)),
			weights: DefaultWeights(),
			want:    f(83),
		},
		{
			name:    "mixed totals",
			comps:   components(f(17), f(20), f(88), f(100), f(41), f(50)),
			weights: DefaultWeights(),
			want:    f(85.9),
		},
		{
			name:    "rounded to 2 decimals",
			comps:   components(f(1), f(3), f(2), f(3), f(1), f(1)),
			weights: DefaultWeights(),
			want:    f(63.33),
		},
		{
			name:    "perfect scores",
			comps:   components(f(20), f(20), f(50), f(50), f(30), f(30)),
			weights: DefaultWeights(),
			want:    f(100),
		},
		{
			name:    "custom weights",
			comps:   components(f(40), f(50), f(45), f(50), f(35), f(50)),
			weights: Weights{WrittenWork: 25, PerformanceTask: 45, QuarterlyAssessment: 30},
			want:    f(81.5),
		},
		{
			name:    "missing score",
			comps:   components(null.Float64{}, f(50), f(45), f(50), f(35), f(50)),
			weights: DefaultWeights(),
		},
		{
			name:    "missing total",
			comps:   components(f(40), f(50), f(45), null.Float64{}, f(35), f(50)),
			weights: DefaultWeights(),
		},
		{
			name:    "zero total",
			comps:   components(f(40), f(50), f(45), f(50), f(0), f(0)),
			weights: DefaultWeights(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuarterlyGrade(tt.comps, tt.weights)
			assert.Equal(t, tt.want.Valid, got.Valid)
			if tt.want.Valid {
				assert.InDelta(t, tt.want.Float64, got.Float64, 1e-9)
			}
		})
	}
}

func TestFinalGradeAndGeneralAverage(t *testing.T) {
	assert.Equal(t, f(87.75), FinalGrade(f(85.5), f(90)))
	assert.Equal(t, f(85.5), FinalGrade(f(85.5), null.Float64{}))
	assert.False(t, FinalGrade(null.Float64{}, null.Float64{}).Valid)
	assert.False(t, FinalGrade().Valid)

	assert.Equal(t, f(86.75), GeneralAverage(f(87.75), f(92.5), f(80)))
	assert.Equal(t, f(86.67), GeneralAverage(f(90), f(85), f(85)))
	assert.False(t, GeneralAverage().Valid)
}

func TestPolicy_RemarksAndHonors(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		avg         float64
		wantRemarks string
		wantHonors  string
	}{
		{avg: 74.99, wantRemarks: Failed},
		{avg: 75, wantRemarks: Passed},
		{avg: 89.99, wantRemarks: Passed},
		{avg: 90, wantRemarks: Passed, wantHonors: WithHonors},
		{avg: 94.99, wantRemarks: Passed, wantHonors: WithHonors},
		{avg: 95, wantRemarks: Passed, wantHonors: WithHighHonors},
		{avg: 97.99, wantRemarks: Passed, wantHonors: WithHighHonors},
		{avg: 98, wantRemarks: Passed, wantHonors: WithHighestHonors},
		{avg: 100, wantRemarks: Passed, wantHonors: WithHighestHonors},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantRemarks, p.Remarks(tt.avg), "remarks(%v)", tt.avg)
		assert.Equal(t, tt.wantHonors, p.Honors(tt.avg), "honors(%v)", tt.avg)
	}

	st := p.NewStanding(true, f(96.2))
	assert.Equal(t, Standing{Finalized: true, GeneralAverage: f(96.2), Remarks: Passed, Honors: WithHighHonors}, st)
	assert.Equal(t, Standing{}, p.NewStanding(false, null.Float64{}))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr error
	}{
		{name: "default", mutate: func(p *Policy) {}},
		{name: "weights do not add up", mutate: func(p *Policy) { p.WrittenWork = 40 }, wantErr: ErrWeightsSum},
		{name: "negative weight", mutate: func(p *Policy) { p.WrittenWork, p.PerformanceTask = -10, 90 }, wantErr: ErrNegativeWeight},
		{name: "honors below passing", mutate: func(p *Policy) { p.HonorsThreshold = 70 }, wantErr: ErrThresholdsOrdering},
		{name: "highest above 100", mutate: func(p *Policy) { p.HighestHonorsThreshold = 101 }, wantErr: ErrThresholdsOrdering},
		{name: "high above highest", mutate: func(p *Policy) { p.HighHonorsThreshold = 99 }, wantErr: ErrThresholdsOrdering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Equal(t, tt.wantErr, p.Validate())
		})
	}
}

func TestSemesterOf(t *testing.T) {
	assert.Equal(t, FirstSemester, SemesterOf(1))
	assert.Equal(t, FirstSemester, SemesterOf(2))
	assert.Equal(t, SecondSemester, SemesterOf(3))
	assert.Equal(t, SecondSemester, SemesterOf(4))
	assert.Equal(t, []int{1, 2}, PeriodsOf(FirstSemester))
	assert.Equal(t, []int{3, 4}, PeriodsOf(SecondSemester))
}
