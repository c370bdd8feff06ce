// Package audit records who changed what, and when.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
)

// Actions
const (
	ActionUserCreated       = "user_created"
	ActionUserUpdated       = "user_updated"
	ActionUserDeleted       = "user_deleted"
	ActionUserDeactivated   = "user_deactivated"
	ActionTeacherApproved   = "teacher_approved"
	ActionPasswordReset     = "password_reset"
	ActionSettingsUpdated   = "settings_updated"
	ActionSchoolYearCreated = "school_year_created"
	ActionSchoolYearUpdated = "school_year_updated"
	ActionSchoolYearDeleted = "school_year_deleted"
	ActionSchoolYearActive  = "school_year_activated"
	ActionPeriodActive      = "grading_period_activated"
	ActionStudentCreated    = "student_created"
	ActionStudentUpdated    = "student_updated"
	ActionStudentDeleted    = "student_deleted"
	ActionClassCreated      = "class_created"
	ActionClassUpdated      = "class_updated"
	ActionClassDeleted      = "class_deleted"
	ActionStudentEnrolled   = "student_enrolled"
	ActionStudentUnenrolled = "student_unenrolled"
	ActionGradeSaved        = "grade_saved"
	ActionGradesFinalized   = "grades_finalized"
	ActionUnlockRequested   = "unlock_requested"
	ActionUnlockApproved    = "unlock_approved"
	ActionUnlockRejected    = "unlock_rejected"
	ActionMetadataUpdated   = "document_metadata_updated"
	ActionDocumentUploaded  = "document_uploaded"
	ActionDocumentDeleted   = "document_deleted"
	ActionCertGenerated     = "certificate_generated"
	ActionCertPDFAttached   = "certificate_pdf_attached"
	ActionCertRevoked       = "certificate_revoked"
	ActionCertDeleted       = "certificate_deleted"
)

type Entry struct {
	ID        string      `json:"id" db:"id"`
	UserID    null.String `json:"user_id" db:"user_id"`
	Action    string      `json:"action" db:"action"`
	TableName string      `json:"table_name" db:"table_name"`
	RecordID  string      `json:"record_id" db:"record_id"`
	OldValues null.JSON   `json:"old_values" db:"old_values"`
	NewValues null.JSON   `json:"new_values" db:"new_values"`
	Metadata  null.JSON   `json:"metadata" db:"metadata"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// LogEntry is an Entry joined with its author.
type LogEntry struct {
	Entry
	UserFirstName null.String `json:"user_first_name" db:"user_first_name"`
	UserLastName  null.String `json:"user_last_name" db:"user_last_name"`
	UserEmail     null.String `json:"user_email" db:"user_email"`
}

// NewEntry starts an entry; actorID may be empty for system actions.
func NewEntry(actorID, action, table, recordID string) Entry {
	return Entry{
		UserID:    null.NewString(actorID, actorID != ""),
		Action:    action,
		TableName: table,
		RecordID:  recordID,
	}
}

func (e Entry) WithOld(v interface{}) Entry { e.OldValues = toJSON(v); return e }
func (e Entry) WithNew(v interface{}) Entry { e.NewValues = toJSON(v); return e }
func (e Entry) WithMeta(v interface{}) Entry {
	e.Metadata = toJSON(v)
	return e
}

func toJSON(v interface{}) null.JSON {
	if v == nil {
		return null.JSON{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return null.JSON{}
	}
	return null.JSONFrom(data)
}

type Filter struct {
	UserID    string `query:"user_id"`
	Action    string `query:"action"`
	TableName string `query:"table_name"`
	RecordID  string `query:"record_id"`
}

type Page struct {
	Data  []LogEntry `json:"data"`
	Total int        `json:"total"`
}

type (
	// Recorder appends entries. It joins the caller's transaction when there is one.
	Recorder interface {
		Record(ctx context.Context, e Entry) error
	}

	Repository interface {
		CreateEntry(ctx context.Context, e Entry) error
		QueryEntries(ctx context.Context, filter Filter, page core.Page) ([]LogEntry, int, error)
		GetEntry(ctx context.Context, id string) (LogEntry, error)
	}

	Service struct {
		repo Repository
	}
)

var _ Recorder = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Record(ctx context.Context, e Entry) error {
	e.ID = uuid.New().String()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return errors.Wrap(svc.repo.CreateEntry(ctx, e), "recording audit entry")
}

// Query returns a page of entries, newest first.
func (svc *Service) Query(ctx context.Context, filter Filter, page core.Page) (Page, error) {
	page.Clean()
	entries, total, err := svc.repo.QueryEntries(ctx, filter, page)
	if err != nil {
		return Page{}, errors.Wrap(err, "querying audit entries")
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return Page{Data: entries, Total: total}, nil
}

func (svc *Service) Get(ctx context.Context, id string) (LogEntry, error) {
	return svc.repo.GetEntry(ctx, id)
}
