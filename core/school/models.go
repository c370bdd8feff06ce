// Package school manages the school calendar (school years and grading periods), the subject
// catalog and the system settings, grading policy included.
package school

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grading"
)

type SchoolYear struct {
	ID        string    `json:"id" db:"id"`
	YearCode  string    `json:"year_code" db:"year_code"`
	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FirstYear returns the first calendar year of the code, e.g. 2024 for "2024-2025".
func (sy SchoolYear) FirstYear() string {
	if len(sy.YearCode) >= 4 {
		return sy.YearCode[:4]
	}
	return strconv.Itoa(sy.StartDate.Year())
}

type NewSchoolYear struct {
	YearCode  string    `json:"year_code" yaml:"year_code" validate:"required,schoolyear"`
	StartDate time.Time `json:"start_date" yaml:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" yaml:"end_date" validate:"required,gtfield=StartDate"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
}

func (ny *NewSchoolYear) Validate(validate *validator.Validate) error {
	ny.YearCode = core.CleanString(ny.YearCode)
	return validate.Struct(ny)
}

type UpdateSchoolYear struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

func (uy *UpdateSchoolYear) Validate(validate *validator.Validate) error {
	return validate.Struct(uy)
}

type GradingPeriod struct {
	ID           string    `json:"id" db:"id"`
	SchoolYearID string    `json:"school_year_id" db:"school_year_id"`
	PeriodNumber int       `json:"period_number" db:"period_number"`
	Semester     int       `json:"semester" db:"semester"`
	StartDate    time.Time `json:"start_date" db:"start_date"`
	EndDate      time.Time `json:"end_date" db:"end_date"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

type NewGradingPeriod struct {
	SchoolYearID string    `json:"school_year_id" yaml:"school_year_id" validate:"required,uuid"`
	PeriodNumber int       `json:"period_number" yaml:"period_number" validate:"required,min=1,max=4"`
	StartDate    time.Time `json:"start_date" yaml:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" yaml:"end_date" validate:"required,gtfield=StartDate"`
	IsActive     bool      `json:"is_active" yaml:"is_active"`
}

func (np *NewGradingPeriod) Validate(validate *validator.Validate) error {
	return validate.Struct(np)
}

type Subject struct {
	ID          string    `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	GradeLevel  null.Int  `json:"grade_level" db:"grade_level"`
	Track       string    `json:"track" db:"track"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

type NewSubject struct {
	Code        string   `json:"code" yaml:"code" validate:"required,max=32"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Description string   `json:"description" yaml:"description"`
	GradeLevel  null.Int `json:"grade_level" yaml:"grade_level" validate:"omitempty,min=1,max=12"`
	Track       string   `json:"track" yaml:"track"`
}

func (ns *NewSubject) Validate(validate *validator.Validate) error {
	ns.Code = core.CleanString(ns.Code)
	ns.Name = core.CleanString(ns.Name)
	ns.Description = core.CleanString(ns.Description)
	ns.Track = core.CleanString(ns.Track)
	return validate.Struct(ns)
}

type SubjectFilter struct {
	Search     string `query:"search"`
	GradeLevel int    `query:"grade_level"`
	Track      string `query:"track"`
}

// Setting keys
const (
	KeySchoolName             = "school_name"
	KeySchoolID               = "school_id"
	KeySchoolLogo             = "school_logo"
	KeyPrincipalName          = "principal_name"
	KeySuperintendentName     = "superintendent_name"
	KeyCertificateBody        = "certificate_body"
	KeyWrittenWorkWeight      = "written_work_percentage"
	KeyPerformanceTaskWeight  = "performance_task_percentage"
	KeyQuarterlyAssessWeight  = "quarterly_assessment_percentage"
	KeyPassingGrade           = "passing_grade"
	KeyHonorsThreshold        = "honors_threshold"
	KeyHighHonorsThreshold    = "high_honors_threshold"
	KeyHighestHonorsThreshold = "highest_honors_threshold"
)

var (
	textKeys    = []string{KeySchoolName, KeySchoolID, KeySchoolLogo, KeyPrincipalName, KeySuperintendentName, KeyCertificateBody}
	numericKeys = []string{
		KeyWrittenWorkWeight, KeyPerformanceTaskWeight, KeyQuarterlyAssessWeight,
		KeyPassingGrade, KeyHonorsThreshold, KeyHighHonorsThreshold, KeyHighestHonorsThreshold,
	}
)

// Settings is the typed view of the system_settings table.
type Settings struct {
	SchoolName         string         `json:"school_name"`
	SchoolID           string         `json:"school_id"`
	SchoolLogo         string         `json:"school_logo"`
	PrincipalName      string         `json:"principal_name"`
	SuperintendentName string         `json:"superintendent_name"`
	CertificateBody    string         `json:"certificate_body"`
	Policy             grading.Policy `json:"grading"`
}

// GradingPolicy returns the grading rules in effect.
func (s Settings) GradingPolicy() grading.Policy { return s.Policy }

// settingsFromValues overlays raw values on top of the defaults.
func settingsFromValues(values map[string]string, defaults grading.Policy) Settings {
	s := Settings{
		SchoolName:         values[KeySchoolName],
		SchoolID:           values[KeySchoolID],
		SchoolLogo:         values[KeySchoolLogo],
		PrincipalName:      values[KeyPrincipalName],
		SuperintendentName: values[KeySuperintendentName],
		CertificateBody:    values[KeyCertificateBody],
		Policy:             defaults,
	}
	num := func(key string, dst *float64) {
		if raw, ok := values[key]; ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				*dst = f
			}
		}
	}
	num(KeyWrittenWorkWeight, &s.Policy.WrittenWork)
	num(KeyPerformanceTaskWeight, &s.Policy.PerformanceTask)
	num(KeyQuarterlyAssessWeight, &s.Policy.QuarterlyAssessment)
	num(KeyPassingGrade, &s.Policy.PassingGrade)
	num(KeyHonorsThreshold, &s.Policy.HonorsThreshold)
	num(KeyHighHonorsThreshold, &s.Policy.HighHonorsThreshold)
	num(KeyHighestHonorsThreshold, &s.Policy.HighestHonorsThreshold)
	return s
}

func (s Settings) values() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]string{
		KeySchoolName:             s.SchoolName,
		KeySchoolID:               s.SchoolID,
		KeySchoolLogo:             s.SchoolLogo,
		KeyPrincipalName:          s.PrincipalName,
		KeySuperintendentName:     s.SuperintendentName,
		KeyCertificateBody:        s.CertificateBody,
		KeyWrittenWorkWeight:      f(s.Policy.WrittenWork),
		KeyPerformanceTaskWeight:  f(s.Policy.PerformanceTask),
		KeyQuarterlyAssessWeight:  f(s.Policy.QuarterlyAssessment),
		KeyPassingGrade:           f(s.Policy.PassingGrade),
		KeyHonorsThreshold:        f(s.Policy.HonorsThreshold),
		KeyHighHonorsThreshold:    f(s.Policy.HighHonorsThreshold),
		KeyHighestHonorsThreshold: f(s.Policy.HighestHonorsThreshold),
	}
}

// UpdateSettings holds a partial settings update. Unknown keys are rejected.
type UpdateSettings map[string]string

// Validate checks keys and numeric values, then the resulting policy.
func (us UpdateSettings) Validate(current Settings) (Settings, error) {
	var fields []core.FieldError
	known := make(map[string]bool, len(textKeys)+len(numericKeys))
	for _, k := range textKeys {
		known[k] = true
	}
	numeric := make(map[string]bool, len(numericKeys))
	for _, k := range numericKeys {
		known[k] = true
		numeric[k] = true
	}

	for k, v := range us {
		if !known[k] {
			fields = append(fields, core.FieldError{Field: k, Error: "unknown setting"})
			continue
		}
		if numeric[k] {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 100 {
				fields = append(fields, core.FieldError{Field: k, Error: "must be a number between 0 and 100"})
			}
		}
	}
	if len(fields) > 0 {
		return Settings{}, core.NewValidationError(errors.New("invalid settings"), fields...)
	}

	merged := current.values()
	for k, v := range us {
		merged[k] = core.CleanString(v)
	}
	next := settingsFromValues(merged, current.Policy)
	if err := next.Policy.Validate(); err != nil {
		return Settings{}, core.NewValidationError(err)
	}
	return next, nil
}
