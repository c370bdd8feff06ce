// Package testutil wires the services on the in-memory database and creates fixtures.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	blobsvc "github.com/ampayon/gradebook/services/blob"
	cachesvc "github.com/ampayon/gradebook/services/cache"
	emailsvc "github.com/ampayon/gradebook/services/email"
	logsvc "github.com/ampayon/gradebook/services/logger"
	inmemdb "github.com/ampayon/gradebook/storage/database/inmem"
)

const DefaultPassword = "Passw0rd!Safe"

type Env struct {
	Conf   *core.Config
	DB     *inmemdb.DB
	Cache  *cachesvc.MemoryCache
	Blob   *blobsvc.FSStore
	Logger core.Logger
	Mail   core.EmailService

	UserRepo user.Repository

	Audit        *audit.Service
	Users        *user.Service
	School       *school.Service
	Students     *student.Service
	Classes      *class.Service
	Grades       *grade.Service
	Documents    *document.Service
	Certificates *certificate.Service
}

// NewConfig returns a TEST configuration that does not depend on the environment.
func NewConfig(t *testing.T) *core.Config {
	return &core.Config{
		AppName:                   "Gradebook",
		Env:                       "TEST",
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		DefaultFromEmail:          mail.Address{Name: "Gradebook", Address: "noreply@test.ph"},
		FrontendBaseURL:           "http://frontend.test",
		PasswordResetTimeoutDelta: 24 * time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 24 * time.Hour,
			DisableReqLogs:            true,
		},
		Auth:    core.AuthConfig{StaffEmailDomain: "deped.gov.ph"},
		Redis:   core.RedisConfig{CacheTTL: time.Minute},
		Email:   core.EmailConfig{Provider: "console"},
		Storage: core.StorageConfig{Root: t.TempDir(), PublicBaseURL: "http://files.test"},
		Grading: core.GradingConfig{
			WrittenWorkWeight:         30,
			PerformanceTaskWeight:     50,
			QuarterlyAssessmentWeight: 20,
			PassingGrade:              75,
			HonorsThreshold:           90,
			HighHonorsThreshold:       95,
			HighestHonorsThreshold:    98,
		},
	}
}

// NewEnv wires every service on a fresh in-memory database.
func NewEnv(t *testing.T) *Env {
	conf := NewConfig(t)
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ResetSent()

	blob, err := blobsvc.NewFSStore(conf)
	if err != nil {
		t.Fatalf("NewFSStore() failed: %v", err)
	}

	env := &Env{
		Conf:   conf,
		DB:     inmemdb.NewDB(),
		Cache:  cachesvc.NewMemoryCache(),
		Blob:   blob,
		Logger: logger,
		Mail:   emailsvc.NewConsoleServiceMock(conf, logger),
	}
	env.UserRepo = inmemdb.NewUserRepository(env.DB)
	env.Audit = audit.NewService(inmemdb.NewAuditRepository(env.DB))
	env.Users = user.NewService(env.UserRepo, env.DB, env.Mail, env.Audit, conf)
	env.School = school.NewService(inmemdb.NewSchoolRepository(env.DB), env.DB, env.Cache, env.Audit, conf, logger)
	env.Students = student.NewService(inmemdb.NewStudentRepository(env.DB), env.DB, env.Audit)
	env.Classes = class.NewService(inmemdb.NewClassRepository(env.DB), env.DB, env.Audit, env.School, env.Students, env.Users)
	env.Grades = grade.NewService(
		inmemdb.NewGradeRepository(env.DB), env.DB, env.Classes, env.Students, env.School, env.Users, env.Audit, env.Mail, logger,
	)
	env.Documents = document.NewService(
		inmemdb.NewDocumentRepository(env.DB), env.DB, env.Blob, env.Grades, env.Students, env.School, env.Audit,
	)
	env.Certificates = certificate.NewService(
		inmemdb.NewCertificateRepository(env.DB), env.DB, env.Blob, env.Cache, env.Grades, env.Students, env.School, env.Audit, conf, logger,
	)
	return env
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	first, last, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:         uuid.New().String(),
		FirstName:  first,
		LastName:   last,
		Email:      email,
		Roles:      roles,
		IsActive:   isActive,
		IsApproved: true,
		CreatedAt:  tstamp,
		UpdatedAt:  tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateAdmin(t *testing.T, env *Env) user.User {
	return CreateUser(t, env.UserRepo, "Ada", "Registrar", uniqueEmail("admin"), DefaultPassword, []string{user.RoleAdmin}, true)
}

func CreateTeacher(t *testing.T, env *Env, first, last string) user.User {
	return CreateUser(t, env.UserRepo, first, last, uniqueEmail("teacher"), DefaultPassword, []string{user.RoleTeacher}, true)
}

// CreateSchoolYear creates the school year code (e.g. "2024-2025") with its 4 grading periods.
func CreateSchoolYear(t *testing.T, env *Env, code string, active bool) (school.SchoolYear, []school.GradingPeriod) {
	ctx := context.Background()
	var first int
	if _, err := fmt.Sscanf(code, "%d-", &first); err != nil {
		t.Fatalf("CreateSchoolYear(%q) failed: %v", code, err)
	}
	start := time.Date(first, time.June, 1, 0, 0, 0, 0, time.UTC)
	sy, err := env.School.CreateSchoolYear(ctx, school.NewSchoolYear{
		YearCode:  code,
		StartDate: start,
		EndDate:   start.AddDate(1, 0, -1),
		IsActive:  active,
	}, "")
	if err != nil {
		t.Fatalf("CreateSchoolYear() failed: %v", err)
	}

	periods := make([]school.GradingPeriod, 0, 4)
	for n := 1; n <= 4; n++ {
		from := start.AddDate(0, (n-1)*3, 0)
		gp, err := env.School.CreateGradingPeriod(ctx, school.NewGradingPeriod{
			SchoolYearID: sy.ID,
			PeriodNumber: n,
			StartDate:    from,
			EndDate:      from.AddDate(0, 3, -1),
			IsActive:     active && n == 1,
		}, "")
		if err != nil {
			t.Fatalf("CreateGradingPeriod() failed: %v", err)
		}
		periods = append(periods, gp)
	}
	return sy, periods
}

func CreateSubject(t *testing.T, env *Env, code, name string) school.Subject {
	sub, err := env.School.CreateSubject(context.Background(), school.NewSubject{Code: code, Name: name})
	if err != nil {
		t.Fatalf("CreateSubject() failed: %v", err)
	}
	return sub
}

func CreateStudent(t *testing.T, env *Env, lrn, first, last string) student.Student {
	s, err := env.Students.Create(context.Background(), student.NewStudent{
		LRN:        lrn,
		FirstName:  first,
		LastName:   last,
		GradeLevel: 11,
		Section:    "Rizal",
	}, "")
	if err != nil {
		t.Fatalf("CreateStudent() failed: %v", err)
	}
	return s
}

// CreateClass creates a class owned by teacher and enrolls students in it.
func CreateClass(
	t *testing.T,
	env *Env,
	teacher user.User,
	subjectID, schoolYearID string,
	period int,
	students ...student.Student,
) class.Class {
	ctx := context.Background()
	c, err := env.Classes.Create(ctx, class.NewClass{
		SubjectID:     subjectID,
		Section:       "Rizal",
		SchoolYearID:  schoolYearID,
		GradingPeriod: period,
		Capacity:      null.IntFrom(40),
	}, teacher)
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	for _, s := range students {
		if _, err = env.Classes.Enroll(ctx, c, s.ID, teacher.ID); err != nil {
			t.Fatalf("Enroll() failed: %v", err)
		}
	}
	return c
}

// Scores returns component scores out of 100.
func Scores(studentID string, ww, pt, qa float64) grade.SaveGrade {
	total := null.Float64From(100)
	return grade.SaveGrade{
		StudentID:                studentID,
		WrittenWorkScore:         null.Float64From(ww),
		WrittenWorkTotal:         total,
		PerformanceTaskScore:     null.Float64From(pt),
		PerformanceTaskTotal:     total,
		QuarterlyAssessmentScore: null.Float64From(qa),
		QuarterlyAssessmentTotal: total,
	}
}

// SaveGrade stores the same percentage for every component, so the quarterly grade equals pct.
func SaveGrade(t *testing.T, env *Env, c class.Class, s student.Student, actor user.User, pct float64) grade.Grade {
	g, err := env.Grades.SaveGrade(context.Background(), c.ID, Scores(s.ID, pct, pct, pct), actor)
	if err != nil {
		t.Fatalf("SaveGrade() failed: %v", err)
	}
	return g
}

// FinalizeYear grades s in one subject for the four quarters and finalizes both semesters.
func FinalizeYear(t *testing.T, env *Env, teacher user.User, sy school.SchoolYear, sub school.Subject, s student.Student, pct float64) {
	ctx := context.Background()
	for n := 1; n <= 4; n++ {
		c, err := env.Classes.Create(ctx, class.NewClass{
			SubjectID:     sub.ID,
			Section:       fmt.Sprintf("Q%d-%s", n, s.LRN),
			SchoolYearID:  sy.ID,
			GradingPeriod: n,
		}, teacher)
		if err != nil {
			t.Fatalf("FinalizeYear() failed: %v", err)
		}
		if _, err = env.Classes.Enroll(ctx, c, s.ID, teacher.ID); err != nil {
			t.Fatalf("FinalizeYear() failed: %v", err)
		}
		SaveGrade(t, env, c, s, teacher, pct)
		if n == 2 || n == 4 {
			if _, err = env.Grades.FinalizeClass(ctx, c.ID, teacher); err != nil {
				t.Fatalf("FinalizeYear() failed: %v", err)
			}
		}
	}
}

var emailCount int

func uniqueEmail(prefix string) string {
	emailCount++
	return fmt.Sprintf("%s%d@deped.gov.ph", prefix, emailCount)
}
