package certificate

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
)

// Certificate types
const (
	TypeHonors     = "honors"
	TypeGoodMoral  = "good_moral"
	TypeCompletion = "completion"
)

var typeTitles = map[string]string{
	TypeHonors:     "Certificate of Honors",
	TypeGoodMoral:  "Certificate of Good Moral Character",
	TypeCompletion: "Certificate of Completion",
}

type Certificate struct {
	ID               string      `json:"id" db:"id"`
	StudentID        string      `json:"student_id" db:"student_id"`
	SchoolYearID     string      `json:"school_year_id" db:"school_year_id"`
	CertificateType  string      `json:"certificate_type" db:"certificate_type"`
	IssuedDate       time.Time   `json:"issued_date" db:"issued_date"`
	VerificationCode string      `json:"verification_code" db:"verification_code"`
	PDFPath          null.String `json:"pdf_path" db:"pdf_path"`
	PDFURL           null.String `json:"pdf_url" db:"pdf_url"`
	IsRevoked        bool        `json:"is_revoked" db:"is_revoked"`
	RevokedBy        null.String `json:"revoked_by" db:"revoked_by"`
	RevokedAt        null.Time   `json:"revoked_at" db:"revoked_at"`
	RevocationReason null.String `json:"revocation_reason" db:"revocation_reason"`
	GeneratedBy      null.String `json:"generated_by" db:"generated_by"`
	GeneratedAt      time.Time   `json:"generated_at" db:"generated_at"`
}

// View is a Certificate with the student and standing it was issued for.
type View struct {
	Certificate
	StudentName    string       `json:"student_name"`
	LRN            string       `json:"lrn"`
	YearCode       string       `json:"year_code"`
	GeneralAverage null.Float64 `json:"general_average"`
	Honors         string       `json:"honors"`
}

// Verification is the public answer to a verification code lookup.
type Verification struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message,omitempty"`
	Certificate *View  `json:"certificate,omitempty"`
}

type NewCertificate struct {
	StudentID       string    `json:"student_id" validate:"required,uuid"`
	SchoolYearID    string    `json:"school_year_id" validate:"required,uuid"`
	CertificateType string    `json:"certificate_type" validate:"required,oneof=honors good_moral completion"`
	IssuedDate      time.Time `json:"issued_date"`
}

func (nc *NewCertificate) Validate(validate *validator.Validate) error {
	return validate.Struct(nc)
}

type Revoke struct {
	Reason string `json:"reason"`
}

type Filter struct {
	StudentID       string `query:"student_id"`
	SchoolYearID    string `query:"school_year_id"`
	CertificateType string `query:"certificate_type"`
	IncludeRevoked  bool   `query:"include_revoked"`
}
