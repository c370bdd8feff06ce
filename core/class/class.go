// Package class manages class assignments (a teacher teaching a subject to a section during a
// grading period) and their enrollments.
package class

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
)

const table = "class_assignments"

var (
	ErrDuplicateClass  = core.NewConflictError("You already have a class with this subject, section, and grading period")
	ErrAlreadyEnrolled = core.NewConflictError("Student is already enrolled in this class")
	ErrNotEnrolled     = errors.Wrap(core.ErrNotFound, "student is not enrolled in this class")
	ErrClassFull       = core.NewValidationError(errors.New("class has reached its capacity"))
	ErrInvalidTeacher  = core.NewFieldError("teacher_id", "teacher must be an approved teacher account")
)

type Class struct {
	ID            string      `json:"id" db:"id"`
	TeacherID     null.String `json:"teacher_id" db:"teacher_id"`
	SubjectID     string      `json:"subject_id" db:"subject_id"`
	Section       string      `json:"section" db:"section"`
	SchoolYearID  string      `json:"school_year_id" db:"school_year_id"`
	GradingPeriod int         `json:"grading_period" db:"grading_period"`
	Room          string      `json:"room" db:"room"`
	Capacity      null.Int    `json:"capacity" db:"capacity"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// OwnedBy reports whether userID teaches the class.
func (c Class) OwnedBy(userID string) bool {
	return c.TeacherID.Valid && c.TeacherID.String == userID
}

// Detail is a Class joined with its subject, school year and enrollment count.
type Detail struct {
	Class
	SubjectCode  string `json:"subject_code"`
	SubjectName  string `json:"subject_name"`
	YearCode     string `json:"year_code"`
	TeacherName  string `json:"teacher_name"`
	StudentCount int    `json:"student_count"`
}

type Enrollment struct {
	ID         string    `json:"id" db:"id"`
	ClassID    string    `json:"class_id" db:"class_id"`
	StudentID  string    `json:"student_id" db:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at" db:"enrolled_at"`
}

type NewClass struct {
	TeacherID     string   `json:"teacher_id" validate:"omitempty,uuid"`
	SubjectID     string   `json:"subject_id" validate:"required,uuid"`
	Section       string   `json:"section" validate:"required"`
	SchoolYearID  string   `json:"school_year_id" validate:"required,uuid"`
	GradingPeriod int      `json:"grading_period" validate:"required,min=1,max=4"`
	Room          string   `json:"room"`
	Capacity      null.Int `json:"capacity" validate:"omitempty,min=1"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Section = core.CleanString(nc.Section)
	nc.Room = core.CleanString(nc.Room)
	return validate.Struct(nc)
}

type Filter struct {
	TeacherID     string `query:"teacher_id"`
	SchoolYearID  string `query:"school_year_id"`
	SubjectID     string `query:"subject_id"`
	Section       string `query:"section"`
	GradingPeriod int    `query:"grading_period"`
}

type (
	Repository interface {
		CreateClass(ctx context.Context, c Class) (Class, error)
		QueryClasses(ctx context.Context, filter Filter) ([]Class, error)
		GetClass(ctx context.Context, id string) (Class, error)
		// LockClass reads a class and holds its row until the transaction ends.
		LockClass(ctx context.Context, id string) (Class, error)
		UpdateClass(ctx context.Context, c Class) (Class, error)
		DeleteClass(ctx context.Context, id string) error
		// ClassExists looks for a class with the same teacher, subject, section, year and period.
		ClassExists(ctx context.Context, c Class) (bool, error)

		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		DeleteEnrollment(ctx context.Context, classID, studentID string) error
		QueryEnrollments(ctx context.Context, classID string) ([]Enrollment, error)
		CountEnrollments(ctx context.Context, classIDs ...string) (map[string]int, error)
	}

	SchoolReader interface {
		GetSubject(ctx context.Context, id string) (school.Subject, error)
		GetSchoolYear(ctx context.Context, id string) (school.SchoolYear, error)
	}

	StudentReader interface {
		GetByID(ctx context.Context, id string) (student.Student, error)
		Query(ctx context.Context, filter student.QueryFilter) ([]student.Student, error)
	}

	UserReader interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo     Repository
		tx       core.Transactor
		audit    audit.Recorder
		school   SchoolReader
		students StudentReader
		users    UserReader
	}
)

func NewService(repo Repository, tx core.Transactor, auditor audit.Recorder, schoolSvc SchoolReader, studentSvc StudentReader, userSvc UserReader) *Service {
	return &Service{repo: repo, tx: tx, audit: auditor, school: schoolSvc, students: studentSvc, users: userSvc}
}

func (svc *Service) checkRefs(ctx context.Context, nc NewClass) error {
	if _, err := svc.school.GetSubject(ctx, nc.SubjectID); err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return core.NewFieldError("subject_id", "subject does not exist")
		}
		return err
	}
	if _, err := svc.school.GetSchoolYear(ctx, nc.SchoolYearID); err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return core.NewFieldError("school_year_id", "school year does not exist")
		}
		return err
	}
	if nc.TeacherID != "" {
		usr, err := svc.users.GetByID(ctx, nc.TeacherID)
		if err != nil {
			if errors.Cause(err) == core.ErrNotFound {
				return ErrInvalidTeacher
			}
			return err
		}
		if !usr.IsTeacher() || !usr.IsApproved || !usr.IsActive {
			return ErrInvalidTeacher
		}
	}
	return nil
}

// Create creates a class. Teachers always own the classes they create.
func (svc *Service) Create(ctx context.Context, nc NewClass, actor user.User) (Class, error) {
	if !actor.IsAdmin() || nc.TeacherID == "" {
		nc.TeacherID = actor.ID
	}
	if err := svc.checkRefs(ctx, nc); err != nil {
		return Class{}, err
	}

	now := time.Now().UTC()
	c := Class{
		ID:            uuid.New().String(),
		TeacherID:     null.StringFrom(nc.TeacherID),
		SubjectID:     nc.SubjectID,
		Section:       nc.Section,
		SchoolYearID:  nc.SchoolYearID,
		GradingPeriod: nc.GradingPeriod,
		Room:          nc.Room,
		Capacity:      nc.Capacity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := svc.repo.ClassExists(ctx, c)
		if err != nil {
			return errors.Wrap(err, "checking duplicate class")
		}
		if exists {
			return ErrDuplicateClass
		}
		if c, err = svc.repo.CreateClass(ctx, c); err != nil {
			if core.IsConflict(err) {
				return ErrDuplicateClass
			}
			return errors.Wrap(err, "inserting class")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actor.ID, audit.ActionClassCreated, table, c.ID).WithNew(c))
	})
	return c, err
}

func (svc *Service) Get(ctx context.Context, id string) (Class, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Class{}, core.ErrNotFound
	}
	return svc.repo.GetClass(ctx, id)
}

// GetFor returns the class when actor may manage it.
func (svc *Service) GetFor(ctx context.Context, id string, actor user.User) (Class, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if !actor.IsAdmin() && !c.OwnedBy(actor.ID) {
		return Class{}, core.ErrForbidden
	}
	return c, nil
}

// Query lists classes. Non admins only see their own.
func (svc *Service) Query(ctx context.Context, filter Filter, actor user.User) ([]Detail, error) {
	if !actor.IsAdmin() {
		filter.TeacherID = actor.ID
	}
	filter.Section = core.CleanString(filter.Section)
	classes, err := svc.repo.QueryClasses(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	return svc.Details(ctx, classes...)
}

// Details joins classes with their subject, year, teacher and student count.
func (svc *Service) Details(ctx context.Context, classes ...Class) ([]Detail, error) {
	ids := make([]string, 0, len(classes))
	for _, c := range classes {
		ids = append(ids, c.ID)
	}
	counts, err := svc.repo.CountEnrollments(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "counting enrollments")
	}

	subjects := make(map[string]school.Subject)
	years := make(map[string]school.SchoolYear)
	teachers := make(map[string]string)
	details := make([]Detail, 0, len(classes))
	for _, c := range classes {
		d := Detail{Class: c, StudentCount: counts[c.ID]}

		sub, ok := subjects[c.SubjectID]
		if !ok {
			if sub, err = svc.school.GetSubject(ctx, c.SubjectID); err != nil {
				return nil, errors.Wrap(err, "getting subject")
			}
			subjects[c.SubjectID] = sub
		}
		d.SubjectCode, d.SubjectName = sub.Code, sub.Name

		sy, ok := years[c.SchoolYearID]
		if !ok {
			if sy, err = svc.school.GetSchoolYear(ctx, c.SchoolYearID); err != nil {
				return nil, errors.Wrap(err, "getting school year")
			}
			years[c.SchoolYearID] = sy
		}
		d.YearCode = sy.YearCode

		if c.TeacherID.Valid {
			name, ok := teachers[c.TeacherID.String]
			if !ok {
				if usr, err := svc.users.GetByID(ctx, c.TeacherID.String); err == nil {
					name = usr.FullName()
				}
				teachers[c.TeacherID.String] = name
			}
			d.TeacherName = name
		}
		details = append(details, d)
	}
	return details, nil
}

// Update edits a class. Only admins may reassign its teacher.
func (svc *Service) Update(ctx context.Context, c Class, nc NewClass, actor user.User) (Class, error) {
	if !actor.IsAdmin() || nc.TeacherID == "" {
		nc.TeacherID = c.TeacherID.String
	}
	if err := svc.checkRefs(ctx, nc); err != nil {
		return Class{}, err
	}

	old := c
	c.TeacherID = null.NewString(nc.TeacherID, nc.TeacherID != "")
	c.SubjectID = nc.SubjectID
	c.Section = nc.Section
	c.SchoolYearID = nc.SchoolYearID
	c.GradingPeriod = nc.GradingPeriod
	c.Room = nc.Room
	c.Capacity = nc.Capacity
	c.UpdatedAt = time.Now().UTC()

	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = svc.repo.UpdateClass(ctx, c); err != nil {
			if core.IsConflict(err) {
				return ErrDuplicateClass
			}
			return errors.Wrap(err, "updating class")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actor.ID, audit.ActionClassUpdated, table, c.ID).WithOld(old).WithNew(c))
	})
	return c, err
}

func (svc *Service) Delete(ctx context.Context, c Class, actorID string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteClass(ctx, c.ID); err != nil {
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionClassDeleted, table, c.ID).WithOld(c))
	})
}

// Enroll adds a student to a class, within its capacity.
func (svc *Service) Enroll(ctx context.Context, c Class, studentID, actorID string) (Enrollment, error) {
	if _, err := svc.students.GetByID(ctx, studentID); err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return Enrollment{}, core.NewFieldError("student_id", "student does not exist")
		}
		return Enrollment{}, err
	}

	e := Enrollment{ID: uuid.New().String(), ClassID: c.ID, StudentID: studentID, EnrolledAt: time.Now().UTC()}
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		// concurrent enrollments into the same class queue up on its row
		locked, err := svc.repo.LockClass(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "locking class")
		}
		enrolled, err := svc.repo.QueryEnrollments(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "querying enrollments")
		}
		for _, en := range enrolled {
			if en.StudentID == studentID {
				return ErrAlreadyEnrolled
			}
		}
		if locked.Capacity.Valid && len(enrolled) >= locked.Capacity.Int {
			return ErrClassFull
		}

		if e, err = svc.repo.CreateEnrollment(ctx, e); err != nil {
			if core.IsConflict(err) {
				return ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "inserting enrollment")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionStudentEnrolled, "class_enrollments", e.ID).WithNew(e))
	})
	return e, err
}

func (svc *Service) Unenroll(ctx context.Context, c Class, studentID, actorID string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteEnrollment(ctx, c.ID, studentID); err != nil {
			if errors.Cause(err) == core.ErrNotFound {
				return ErrNotEnrolled
			}
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionStudentUnenrolled, "class_enrollments", c.ID).
			WithMeta(map[string]string{"student_id": studentID}))
	})
}

// Students returns the students enrolled in a class, sorted by name.
func (svc *Service) Students(ctx context.Context, classID string) ([]student.Student, error) {
	enrolled, err := svc.repo.QueryEnrollments(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	if len(enrolled) == 0 {
		return []student.Student{}, nil
	}
	ids := make([]string, 0, len(enrolled))
	for _, e := range enrolled {
		ids = append(ids, e.StudentID)
	}
	students, err := svc.students.Query(ctx, student.QueryFilter{IDs: ids})
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	student.SortStudents(students)
	return students, nil
}

// Teaches reports whether studentID is enrolled in one of the teacher's classes.
func (svc *Service) Teaches(ctx context.Context, teacherID, studentID string) (bool, error) {
	classes, err := svc.repo.QueryClasses(ctx, Filter{TeacherID: teacherID})
	if err != nil {
		return false, errors.Wrap(err, "querying classes")
	}
	for _, c := range classes {
		enrolled, err := svc.IsEnrolled(ctx, c.ID, studentID)
		if err != nil || enrolled {
			return enrolled, err
		}
	}
	return false, nil
}

func (svc *Service) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	enrolled, err := svc.repo.QueryEnrollments(ctx, classID)
	if err != nil {
		return false, errors.Wrap(err, "querying enrollments")
	}
	for _, e := range enrolled {
		if e.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}
