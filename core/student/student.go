// Package student manages learner records, keyed by their 12 digit LRN.
package student

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
)

const table = "students"

var ErrLRNExists = core.NewValidationError(
	errors.New("a student with this LRN already exists"),
	core.FieldError{Field: "lrn", Error: "a student with this LRN already exists"},
)

type Student struct {
	ID            string      `json:"id" db:"id"`
	UserID        null.String `json:"user_id" db:"user_id"`
	LRN           string      `json:"lrn" db:"lrn"`
	FirstName     string      `json:"first_name" db:"first_name"`
	MiddleName    string      `json:"middle_name" db:"middle_name"`
	LastName      string      `json:"last_name" db:"last_name"`
	Suffix        string      `json:"suffix" db:"suffix"`
	GradeLevel    int         `json:"grade_level" db:"grade_level"`
	Track         string      `json:"track" db:"track"`
	Strand        string      `json:"strand" db:"strand"`
	Section       string      `json:"section" db:"section"`
	Birthdate     null.Time   `json:"birthdate" db:"birthdate"`
	Gender        string      `json:"gender" db:"gender"`
	Address       string      `json:"address" db:"address"`
	GuardianName  string      `json:"guardian_name" db:"guardian_name"`
	ContactNumber string      `json:"contact_number" db:"contact_number"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// FullName renders "Last, First Middle Suffix".
func (s Student) FullName() string {
	name := s.LastName + ", " + s.FirstName
	if s.MiddleName != "" {
		name += " " + s.MiddleName
	}
	if s.Suffix != "" {
		name += " " + s.Suffix
	}
	return name
}

// DisplayName renders "First Middle-initial. Last Suffix".
func (s Student) DisplayName() string {
	parts := []string{s.FirstName}
	if s.MiddleName != "" {
		parts = append(parts, string([]rune(s.MiddleName)[0])+".")
	}
	parts = append(parts, s.LastName)
	if s.Suffix != "" {
		parts = append(parts, s.Suffix)
	}
	return strings.Join(parts, " ")
}

// NewStudent contains information needed to create a new Student.
type NewStudent struct {
	UserID        null.String `json:"user_id" yaml:"user_id" validate:"omitempty,uuid"`
	LRN           string      `json:"lrn" yaml:"lrn" validate:"required,lrn"`
	FirstName     string      `json:"first_name" yaml:"first_name" validate:"required"`
	MiddleName    string      `json:"middle_name" yaml:"middle_name"`
	LastName      string      `json:"last_name" yaml:"last_name" validate:"required"`
	Suffix        string      `json:"suffix" yaml:"suffix"`
	GradeLevel    int         `json:"grade_level" yaml:"grade_level" validate:"required,min=1,max=12"`
	Track         string      `json:"track" yaml:"track"`
	Strand        string      `json:"strand" yaml:"strand"`
	Section       string      `json:"section" yaml:"section"`
	Birthdate     null.Time   `json:"birthdate" yaml:"birthdate"`
	Gender        string      `json:"gender" yaml:"gender" validate:"omitempty,oneof=Male Female"`
	Address       string      `json:"address" yaml:"address"`
	GuardianName  string      `json:"guardian_name" yaml:"guardian_name"`
	ContactNumber string      `json:"contact_number" yaml:"contact_number"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.LRN = core.CleanString(ns.LRN)
	ns.FirstName = core.CleanString(ns.FirstName)
	ns.MiddleName = core.CleanString(ns.MiddleName)
	ns.LastName = core.CleanString(ns.LastName)
	ns.Suffix = core.CleanString(ns.Suffix)
	ns.Track = core.CleanString(ns.Track)
	ns.Strand = core.CleanString(ns.Strand)
	ns.Section = core.CleanString(ns.Section)
	ns.Address = core.CleanString(ns.Address)
	ns.GuardianName = core.CleanString(ns.GuardianName)
	ns.ContactNumber = core.CleanString(ns.ContactNumber)
	return validate.Struct(ns)
}

func (ns NewStudent) apply(s Student) Student {
	s.UserID = ns.UserID
	s.LRN = ns.LRN
	s.FirstName = ns.FirstName
	s.MiddleName = ns.MiddleName
	s.LastName = ns.LastName
	s.Suffix = ns.Suffix
	s.GradeLevel = ns.GradeLevel
	s.Track = ns.Track
	s.Strand = ns.Strand
	s.Section = ns.Section
	s.Birthdate = ns.Birthdate
	s.Gender = ns.Gender
	s.Address = ns.Address
	s.GuardianName = ns.GuardianName
	s.ContactNumber = ns.ContactNumber
	return s
}

type QueryFilter struct {
	// Search matches the LRN prefix or a case-insensitive part of the names.
	Search     string `query:"search"`
	GradeLevel int    `query:"grade_level"`
	Section    string `query:"section"`
	IDs        []string
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Section = core.CleanString(qf.Section)
}

type (
	Repository interface {
		CreateStudent(ctx context.Context, s Student) (Student, error)
		QueryStudents(ctx context.Context, filter QueryFilter) ([]Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		GetStudentByLRN(ctx context.Context, lrn string) (Student, error)
		GetStudentByUser(ctx context.Context, userID string) (Student, error)
		UpdateStudent(ctx context.Context, s Student) (Student, error)
		DeleteStudent(ctx context.Context, id string) error
		LRNExists(ctx context.Context, lrn string, excludedIDs ...string) (bool, error)
	}

	Service struct {
		repo  Repository
		tx    core.Transactor
		audit audit.Recorder
	}
)

func NewService(repo Repository, tx core.Transactor, auditor audit.Recorder) *Service {
	return &Service{repo: repo, tx: tx, audit: auditor}
}

func (svc *Service) checkLRN(ctx context.Context, lrn string, excludedIDs ...string) error {
	exists, err := svc.repo.LRNExists(ctx, lrn, excludedIDs...)
	if err != nil {
		return errors.Wrap(err, "checking LRN uniqueness")
	}
	if exists {
		return ErrLRNExists
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, ns NewStudent, actorID string) (Student, error) {
	if err := svc.checkLRN(ctx, ns.LRN); err != nil {
		return Student{}, err
	}

	now := time.Now().UTC()
	s := ns.apply(Student{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now})
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if s, err = svc.repo.CreateStudent(ctx, s); err != nil {
			return errors.Wrap(err, "inserting student")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionStudentCreated, table, s.ID).WithNew(s))
	})
	return s, err
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Student, error) {
	filter.Clean()
	return svc.repo.QueryStudents(ctx, filter)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Student{}, core.ErrNotFound
	}
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) GetByLRN(ctx context.Context, lrn string) (Student, error) {
	if !core.IsValidLRN(lrn) {
		return Student{}, core.ErrNotFound
	}
	return svc.repo.GetStudentByLRN(ctx, lrn)
}

// GetByUser returns the record linked to a student account.
func (svc *Service) GetByUser(ctx context.Context, userID string) (Student, error) {
	return svc.repo.GetStudentByUser(ctx, userID)
}

func (svc *Service) Update(ctx context.Context, s Student, ns NewStudent, actorID string) (Student, error) {
	if ns.LRN != s.LRN {
		if err := svc.checkLRN(ctx, ns.LRN, s.ID); err != nil {
			return Student{}, err
		}
	}

	old := s
	s = ns.apply(s)
	s.UpdatedAt = time.Now().UTC()
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if s, err = svc.repo.UpdateStudent(ctx, s); err != nil {
			return errors.Wrap(err, "updating student")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionStudentUpdated, table, s.ID).WithOld(old).WithNew(s))
	})
	return s, err
}

func (svc *Service) Delete(ctx context.Context, id, actorID string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteStudent(ctx, id); err != nil {
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionStudentDeleted, table, id))
	})
}

// SortStudents orders by last name, then first name.
func SortStudents(students []Student) {
	sort.SliceStable(students, func(i, j int) bool {
		li, lj := strings.ToLower(students[i].LastName), strings.ToLower(students[j].LastName)
		if li != lj {
			return li < lj
		}
		return strings.ToLower(students[i].FirstName) < strings.ToLower(students[j].FirstName)
	})
}
