package document

import (
	"encoding/json"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
)

// Document types
const (
	TypeSF9  = "SF9"  // report card
	TypeSF10 = "SF10" // permanent record
)

func IsValidType(t string) bool { return t == TypeSF9 || t == TypeSF10 }

// Metadata holds the editable fields printed on a document (adviser, attendance, ...).
type Metadata struct {
	ID           string      `json:"id" db:"id"`
	StudentID    string      `json:"student_id" db:"student_id"`
	DocumentType string      `json:"document_type" db:"document_type"`
	SchoolYearID null.String `json:"school_year_id" db:"school_year_id"`
	Data         null.JSON   `json:"-" db:"metadata"`
	UpdatedBy    null.String `json:"updated_by" db:"updated_by"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Values decodes Data. Invalid or empty data reads as no values.
func (m Metadata) Values() map[string]string {
	values := make(map[string]string)
	if m.Data.Valid {
		_ = json.Unmarshal(m.Data.JSON, &values)
	}
	return values
}

func (m *Metadata) setValues(values map[string]string) {
	data, _ := json.Marshal(values)
	m.Data = null.JSONFrom(data)
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	type alias Metadata
	return json.Marshal(struct {
		alias
		Metadata map[string]string `json:"metadata"`
	}{alias(m), m.Values()})
}

// Edit records a change of one metadata field.
type Edit struct {
	ID         string      `json:"id" db:"id"`
	MetadataID string      `json:"metadata_id" db:"metadata_id"`
	FieldName  string      `json:"field_name" db:"field_name"`
	OldValue   null.String `json:"old_value" db:"old_value"`
	NewValue   null.String `json:"new_value" db:"new_value"`
	EditedBy   null.String `json:"edited_by" db:"edited_by"`
	EditedAt   time.Time   `json:"edited_at" db:"edited_at"`
}

// MetadataHistory is the current metadata and its edit log, newest first.
type MetadataHistory struct {
	Metadata Metadata `json:"metadata"`
	Edits    []Edit   `json:"edits"`
}

type UpdateMetadata struct {
	DocumentType string            `json:"document_type" validate:"required,oneof=SF9 SF10"`
	SchoolYearID string            `json:"school_year_id" validate:"omitempty,uuid"`
	Values       map[string]string `json:"metadata" validate:"required"`
}

// Document is a stored, client rendered PDF.
type Document struct {
	ID           string      `json:"id" db:"id"`
	StudentID    string      `json:"student_id" db:"student_id"`
	SchoolYearID null.String `json:"school_year_id" db:"school_year_id"`
	DocumentType string      `json:"document_type" db:"document_type"`
	FilePath     string      `json:"file_path" db:"file_path"`
	FileURL      string      `json:"file_url" db:"file_url"`
	FileSize     int64       `json:"file_size" db:"file_size"`
	GeneratedBy  null.String `json:"generated_by" db:"generated_by"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

type Filter struct {
	StudentID    string
	DocumentType string `query:"document_type"`
	SchoolYearID string `query:"school_year_id"`
}

// Header is the school information printed on documents.
type Header struct {
	SchoolName         string `json:"school_name"`
	SchoolID           string `json:"school_id"`
	SchoolLogo         string `json:"school_logo"`
	PrincipalName      string `json:"principal_name"`
	SuperintendentName string `json:"superintendent_name"`
}

func headerOf(s school.Settings) Header {
	return Header{
		SchoolName:         s.SchoolName,
		SchoolID:           s.SchoolID,
		SchoolLogo:         s.SchoolLogo,
		PrincipalName:      s.PrincipalName,
		SuperintendentName: s.SuperintendentName,
	}
}

// SF9 is the data of a report card.
type SF9 struct {
	Header     Header                 `json:"school"`
	Student    student.Student        `json:"student"`
	SchoolYear school.SchoolYear      `json:"school_year"`
	Subjects   []grade.FinalGradeView `json:"subjects"`
	Standing   grade.YearStanding     `json:"standing"`
	Metadata   map[string]string      `json:"metadata"`
}

// SF10Year is a school year of a permanent record.
type SF10Year struct {
	SchoolYear school.SchoolYear      `json:"school_year"`
	Subjects   []grade.FinalGradeView `json:"subjects"`
	Standing   grade.YearStanding     `json:"standing"`
}

// SF10 is the data of a permanent record.
type SF10 struct {
	Header   Header            `json:"school"`
	Student  student.Student   `json:"student"`
	Years    []SF10Year        `json:"years"`
	Metadata map[string]string `json:"metadata"`
}

// Available is a document that can be generated for a student.
type Available struct {
	DocumentType string `json:"document_type"`
	SchoolYearID string `json:"school_year_id,omitempty"`
	YearCode     string `json:"year_code,omitempty"`
}
