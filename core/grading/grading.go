// Package grading holds the DepEd grade computation rules: weighted quarterly grades,
// semester final grades, general averages, remarks and honors.
package grading

import (
	"math"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// Remarks
const (
	Passed = "PASSED"
	Failed = "FAILED"
)

// Honors designations
const (
	WithHonors        = "With Honors"
	WithHighHonors    = "With High Honors"
	WithHighestHonors = "With Highest Honors"
)

var (
	ErrWeightsSum         = errors.New("component weights must add up to 100")
	ErrNegativeWeight     = errors.New("component weights cannot be negative")
	ErrThresholdsOrdering = errors.New("thresholds must satisfy passing <= honors <= high honors <= highest honors <= 100")
)

// Weights are component percentages. They must add up to 100.
type Weights struct {
	WrittenWork         float64 `json:"written_work_percentage"`
	PerformanceTask     float64 `json:"performance_task_percentage"`
	QuarterlyAssessment float64 `json:"quarterly_assessment_percentage"`
}

func DefaultWeights() Weights {
	return Weights{WrittenWork: 30, PerformanceTask: 50, QuarterlyAssessment: 20}
}

func (w Weights) Validate() error {
	if w.WrittenWork < 0 || w.PerformanceTask < 0 || w.QuarterlyAssessment < 0 {
		return ErrNegativeWeight
	}
	if math.Abs(w.WrittenWork+w.PerformanceTask+w.QuarterlyAssessment-100) > 1e-9 {
		return ErrWeightsSum
	}
	return nil
}

// Policy gathers everything needed to grade a student.
type Policy struct {
	Weights
	PassingGrade           float64 `json:"passing_grade"`
	HonorsThreshold        float64 `json:"honors_threshold"`
	HighHonorsThreshold    float64 `json:"high_honors_threshold"`
	HighestHonorsThreshold float64 `json:"highest_honors_threshold"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights:                DefaultWeights(),
		PassingGrade:           75,
		HonorsThreshold:        90,
		HighHonorsThreshold:    95,
		HighestHonorsThreshold: 98,
	}
}

func (p Policy) Validate() error {
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	if !(0 <= p.PassingGrade &&
		p.PassingGrade <= p.HonorsThreshold &&
		p.HonorsThreshold <= p.HighHonorsThreshold &&
		p.HighHonorsThreshold <= p.HighestHonorsThreshold &&
		p.HighestHonorsThreshold <= 100) {
		return ErrThresholdsOrdering
	}
	return nil
}

// Remarks returns PASSED when avg reaches the passing grade.
func (p Policy) Remarks(avg float64) string {
	if avg >= p.PassingGrade {
		return Passed
	}
	return Failed
}

// Honors returns the honors designation earned with avg, if any.
func (p Policy) Honors(avg float64) string {
	switch {
	case avg >= p.HighestHonorsThreshold:
		return WithHighestHonors
	case avg >= p.HighHonorsThreshold:
		return WithHighHonors
	case avg >= p.HonorsThreshold:
		return WithHonors
	}
	return ""
}

// Components are the raw scores of a quarter.
type Components struct {
	WrittenWorkScore         null.Float64 `json:"written_work_score" db:"written_work_score"`
	WrittenWorkTotal         null.Float64 `json:"written_work_total" db:"written_work_total"`
	PerformanceTaskScore     null.Float64 `json:"performance_task_score" db:"performance_task_score"`
	PerformanceTaskTotal     null.Float64 `json:"performance_task_total" db:"performance_task_total"`
	QuarterlyAssessmentScore null.Float64 `json:"quarterly_assessment_score" db:"quarterly_assessment_score"`
	QuarterlyAssessmentTotal null.Float64 `json:"quarterly_assessment_total" db:"quarterly_assessment_total"`
}

// IsComplete reports whether every score and total is set and every total is positive.
func (c Components) IsComplete() bool {
	for _, f := range []null.Float64{c.WrittenWorkScore, c.PerformanceTaskScore, c.QuarterlyAssessmentScore} {
		if !f.Valid {
			return false
		}
	}
	for _, f := range []null.Float64{c.WrittenWorkTotal, c.PerformanceTaskTotal, c.QuarterlyAssessmentTotal} {
		if !f.Valid || f.Float64 <= 0 {
			return false
		}
	}
	return true
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// QuarterlyGrade applies the weighted formula. It is null while components are incomplete.
func QuarterlyGrade(c Components, w Weights) null.Float64 {
	if !c.IsComplete() {
		return null.Float64{}
	}
	ww := c.WrittenWorkScore.Float64 / c.WrittenWorkTotal.Float64 * 100
	pt := c.PerformanceTaskScore.Float64 / c.PerformanceTaskTotal.Float64 * 100
	qa := c.QuarterlyAssessmentScore.Float64 / c.QuarterlyAssessmentTotal.Float64 * 100

	grade := ww*w.WrittenWork/100 + pt*w.PerformanceTask/100 + qa*w.QuarterlyAssessment/100
	return null.Float64From(Round2(grade))
}

// mean of the valid values, rounded. Null when there are none.
func mean(vals []null.Float64) null.Float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if v.Valid {
			sum += v.Float64
			n++
		}
	}
	if n == 0 {
		return null.Float64{}
	}
	return null.Float64From(Round2(sum / float64(n)))
}

// FinalGrade is the mean of the available quarterly grades of a subject.
func FinalGrade(quarters ...null.Float64) null.Float64 {
	return mean(quarters)
}

// GeneralAverage is the mean of the available subject final grades.
func GeneralAverage(finals ...null.Float64) null.Float64 {
	return mean(finals)
}

// Semesters
const (
	FirstSemester  = 1
	SecondSemester = 2
)

// SemesterOf maps a grading period (quarter) number to its semester.
func SemesterOf(periodNumber int) int {
	if periodNumber >= 3 {
		return SecondSemester
	}
	return FirstSemester
}

// PeriodsOf returns the grading period numbers of a semester.
func PeriodsOf(semester int) []int {
	if semester == SecondSemester {
		return []int{3, 4}
	}
	return []int{1, 2}
}

// Standing summarizes how a student stands at the end of a term.
type Standing struct {
	Finalized      bool         `json:"is_finalized"`
	GeneralAverage null.Float64 `json:"general_average"`
	Remarks        string       `json:"remarks"`
	Honors         string       `json:"honors"`
}

// NewStanding derives remarks and honors from avg.
func (p Policy) NewStanding(finalized bool, avg null.Float64) Standing {
	s := Standing{Finalized: finalized, GeneralAverage: avg}
	if avg.Valid {
		s.Remarks = p.Remarks(avg.Float64)
		s.Honors = p.Honors(avg.Float64)
	}
	return s
}
