package grade

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/core/student"
)

// Unlock request statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

type Grade struct {
	ID              string      `json:"id" db:"id"`
	StudentID       string      `json:"student_id" db:"student_id"`
	SubjectID       string      `json:"subject_id" db:"subject_id"`
	ClassID         null.String `json:"class_id" db:"class_id"`
	TeacherID       null.String `json:"teacher_id" db:"teacher_id"`
	SchoolYearID    string      `json:"school_year_id" db:"school_year_id"`
	GradingPeriodID string      `json:"grading_period_id" db:"grading_period_id"`
	grading.Components
	QuarterlyGrade null.Float64 `json:"quarterly_grade" db:"quarterly_grade"`
	Remarks        null.String  `json:"remarks" db:"remarks"`
	EnteredBy      null.String  `json:"entered_by" db:"entered_by"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// GradeView is a Grade with its subject and period resolved.
type GradeView struct {
	Grade
	SubjectCode  string `json:"subject_code"`
	SubjectName  string `json:"subject_name"`
	PeriodNumber int    `json:"period_number"`
	Semester     int    `json:"semester"`
}

type FinalGrade struct {
	ID           string       `json:"id" db:"id"`
	StudentID    string       `json:"student_id" db:"student_id"`
	SubjectID    string       `json:"subject_id" db:"subject_id"`
	SchoolYearID string       `json:"school_year_id" db:"school_year_id"`
	Semester     int          `json:"semester" db:"semester"`
	Q1           null.Float64 `json:"q1" db:"q1"`
	Q2           null.Float64 `json:"q2" db:"q2"`
	Q3           null.Float64 `json:"q3" db:"q3"`
	Q4           null.Float64 `json:"q4" db:"q4"`
	FinalGrade   null.Float64 `json:"final_grade" db:"final_grade"`
	Remarks      string       `json:"remarks" db:"remarks"`
	ComputedAt   time.Time    `json:"computed_at" db:"computed_at"`
}

func (fg *FinalGrade) setQuarter(n int, v null.Float64) {
	switch n {
	case 1:
		fg.Q1 = v
	case 2:
		fg.Q2 = v
	case 3:
		fg.Q3 = v
	case 4:
		fg.Q4 = v
	}
}

func (fg FinalGrade) quarters() []null.Float64 {
	return []null.Float64{fg.Q1, fg.Q2, fg.Q3, fg.Q4}
}

type FinalGradeView struct {
	FinalGrade
	SubjectCode string `json:"subject_code"`
	SubjectName string `json:"subject_name"`
}

type FinalizationStatus struct {
	ID             string       `json:"id" db:"id"`
	StudentID      string       `json:"student_id" db:"student_id"`
	SchoolYearID   string       `json:"school_year_id" db:"school_year_id"`
	Semester       int          `json:"semester" db:"semester"`
	IsFinalized    bool         `json:"is_finalized" db:"is_finalized"`
	GeneralAverage null.Float64 `json:"general_average" db:"general_average"`
	FinalizedBy    null.String  `json:"finalized_by" db:"finalized_by"`
	FinalizedAt    null.Time    `json:"finalized_at" db:"finalized_at"`
	UnlockCount    int          `json:"unlock_count" db:"unlock_count"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

type UnlockRequest struct {
	ID           string      `json:"id" db:"id"`
	StudentID    string      `json:"student_id" db:"student_id"`
	SchoolYearID string      `json:"school_year_id" db:"school_year_id"`
	Semester     int         `json:"semester" db:"semester"`
	ClassID      null.String `json:"class_id" db:"class_id"`
	RequestedBy  null.String `json:"requested_by" db:"requested_by"`
	Reason       string      `json:"reason" db:"reason"`
	Status       string      `json:"status" db:"status"`
	ReviewedBy   null.String `json:"reviewed_by" db:"reviewed_by"`
	ReviewedAt   null.Time   `json:"reviewed_at" db:"reviewed_at"`
	ReviewNote   string      `json:"review_note" db:"review_note"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

type UnlockRequestView struct {
	UnlockRequest
	StudentName   string `json:"student_name"`
	LRN           string `json:"lrn"`
	YearCode      string `json:"year_code"`
	RequesterName string `json:"requester_name"`
}

// SheetEntry is a row of a class grade sheet. Grade.ID is empty until grades are saved.
type SheetEntry struct {
	Student   student.Student `json:"student"`
	Grade     Grade           `json:"grade"`
	Finalized bool            `json:"is_finalized"`
}

// StudentStatus is the finalization status of an enrolled student.
type StudentStatus struct {
	StudentID   string             `json:"student_id"`
	StudentName string             `json:"student_name"`
	LRN         string             `json:"lrn"`
	Status      FinalizationStatus `json:"status"`
}

// FinalizeResult lists the students finalized and those skipped because they already were.
type FinalizeResult struct {
	Finalized []string `json:"finalized"`
	Skipped   []string `json:"skipped"`
}

// YearStanding is the finalized standing of a student over a school year.
type YearStanding struct {
	grading.Standing
	SchoolYearID string               `json:"school_year_id"`
	Semesters    []FinalizationStatus `json:"semesters"`
}

// YearReport gathers the grades of a student for a school year.
type YearReport struct {
	Grades      []GradeView      `json:"grades"`
	FinalGrades []FinalGradeView `json:"final_grades"`
	Standing    YearStanding     `json:"standing"`
}

// SaveGrade holds the component scores entered for a student of a class.
type SaveGrade struct {
	StudentID                string       `json:"student_id" validate:"required,uuid"`
	WrittenWorkScore         null.Float64 `json:"written_work_score" validate:"omitempty,score"`
	WrittenWorkTotal         null.Float64 `json:"written_work_total" validate:"omitempty,score"`
	PerformanceTaskScore     null.Float64 `json:"performance_task_score" validate:"omitempty,score"`
	PerformanceTaskTotal     null.Float64 `json:"performance_task_total" validate:"omitempty,score"`
	QuarterlyAssessmentScore null.Float64 `json:"quarterly_assessment_score" validate:"omitempty,score"`
	QuarterlyAssessmentTotal null.Float64 `json:"quarterly_assessment_total" validate:"omitempty,score"`
}

func (sg SaveGrade) Components() grading.Components {
	return grading.Components{
		WrittenWorkScore:         sg.WrittenWorkScore,
		WrittenWorkTotal:         sg.WrittenWorkTotal,
		PerformanceTaskScore:     sg.PerformanceTaskScore,
		PerformanceTaskTotal:     sg.PerformanceTaskTotal,
		QuarterlyAssessmentScore: sg.QuarterlyAssessmentScore,
		QuarterlyAssessmentTotal: sg.QuarterlyAssessmentTotal,
	}
}

// Validate runs the tag checks, then checks that no score exceeds its total.
func (sg *SaveGrade) Validate(validate *validator.Validate) error {
	if err := validate.Struct(sg); err != nil {
		return err
	}
	var fields []core.FieldError
	check := func(field string, score, total null.Float64) {
		if score.Valid && total.Valid && score.Float64 > total.Float64 {
			fields = append(fields, core.FieldError{Field: field, Error: "score cannot exceed the total"})
		}
	}
	check("written_work_score", sg.WrittenWorkScore, sg.WrittenWorkTotal)
	check("performance_task_score", sg.PerformanceTaskScore, sg.PerformanceTaskTotal)
	check("quarterly_assessment_score", sg.QuarterlyAssessmentScore, sg.QuarterlyAssessmentTotal)
	if len(fields) > 0 {
		return core.NewValidationError(errors.New("invalid scores"), fields...)
	}
	return nil
}

type NewUnlockRequest struct {
	StudentID    string `json:"student_id" validate:"required,uuid"`
	SchoolYearID string `json:"school_year_id" validate:"required,uuid"`
	Semester     int    `json:"semester" validate:"required,oneof=1 2"`
	ClassID      string `json:"class_id" validate:"omitempty,uuid"`
	Reason       string `json:"reason" validate:"required,min=10"`
}

func (nr *NewUnlockRequest) Validate(validate *validator.Validate) error {
	nr.Reason = core.CleanString(nr.Reason)
	return validate.Struct(nr)
}

type ReviewUnlock struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Note   string `json:"note"`
}

func (rv *ReviewUnlock) Validate(validate *validator.Validate) error {
	rv.Note = core.CleanString(rv.Note)
	return validate.Struct(rv)
}

type GradeFilter struct {
	StudentIDs       []string
	SubjectID        string
	SchoolYearID     string
	GradingPeriodIDs []string
}

type StatusFilter struct {
	StudentIDs   []string
	SchoolYearID string
	Semester     int
}

type UnlockFilter struct {
	Status      string `query:"status"`
	StudentID   string `query:"student_id"`
	RequestedBy string
}
