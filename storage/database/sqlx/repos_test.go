package sqlxrepos_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	"github.com/ampayon/gradebook/storage/database"
	sqlxrepos "github.com/ampayon/gradebook/storage/database/sqlx"
)

// openDB connects to the TEST database, migrates it and empties it.
// Set TEST_DATABASE_HOST to run these tests.
func openDB(t *testing.T) *sqlxrepos.DB {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST is not set")
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()

	require.NoError(t, database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db))
	require.NoError(t, database.Reset(ctx, db))
	return sqlxrepos.NewDB(db)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestUserRepository(t *testing.T) {
	db := openDB(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	usr := user.User{
		ID:        uuid.New().String(),
		FirstName: "Juan",
		LastName:  "Dela Cruz",
		Email:     "juan@deped.gov.ph",
		Roles:     []string{user.RoleTeacherAdviser},
		IsActive:  true,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	_, err := repo.CreateUser(ctx, usr)
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, usr)
	assert.True(t, core.IsConflict(err))

	got, err := repo.GetUser(ctx, user.GetFilter{Email: usr.Email})
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleTeacherAdviser}, got.Roles)

	teachers, err := repo.QueryUsers(ctx, &user.QueryFilter{Roles: []string{user.RoleTeacher}}, nil)
	require.NoError(t, err)
	assert.Len(t, teachers, 1)

	admins, err := repo.QueryUsers(ctx, &user.QueryFilter{Roles: []string{user.RoleAdmin}}, nil)
	require.NoError(t, err)
	assert.Empty(t, admins)

	exists, err := repo.EmailExists(ctx, "JUAN@deped.gov.ph")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.EmailExists(ctx, usr.Email, usr.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, core.ErrNotFound, err)

	n, err := repo.DeleteUsersByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func seedStudentYear(t *testing.T, db *sqlxrepos.DB) (student.Student, school.SchoolYear, school.GradingPeriod, school.Subject) {
	t.Helper()
	ctx := context.Background()
	schools := sqlxrepos.NewSchoolRepository(db)

	sy, err := schools.CreateSchoolYear(ctx, school.SchoolYear{
		ID:        uuid.New().String(),
		YearCode:  "2024-2025",
		StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
		CreatedAt: now(),
		UpdatedAt: now(),
	})
	require.NoError(t, err)
	gp, err := schools.CreateGradingPeriod(ctx, school.GradingPeriod{
		ID:           uuid.New().String(),
		SchoolYearID: sy.ID,
		PeriodNumber: 1,
		Semester:     1,
		StartDate:    sy.StartDate,
		EndDate:      sy.StartDate.AddDate(0, 2, 0),
		IsActive:     true,
		CreatedAt:    now(),
		UpdatedAt:    now(),
	})
	require.NoError(t, err)
	sub, err := schools.CreateSubject(ctx, school.Subject{
		ID:        uuid.New().String(),
		Code:      "MATH11",
		Name:      "General Mathematics",
		CreatedAt: now(),
		UpdatedAt: now(),
	})
	require.NoError(t, err)

	s, err := sqlxrepos.NewStudentRepository(db).CreateStudent(ctx, student.Student{
		ID:         uuid.New().String(),
		LRN:        "123456789012",
		FirstName:  "Maria",
		LastName:   "Clara",
		GradeLevel: 11,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	})
	require.NoError(t, err)
	return s, sy, gp, sub
}

func TestGradeRepository(t *testing.T) {
	db := openDB(t)
	s, sy, gp, sub := seedStudentYear(t, db)
	repo := sqlxrepos.NewGradeRepository(db)
	ctx := context.Background()

	first, err := repo.UpsertGrade(ctx, grade.Grade{
		ID:              uuid.New().String(),
		StudentID:       s.ID,
		SubjectID:       sub.ID,
		SchoolYearID:    sy.ID,
		GradingPeriodID: gp.ID,
		QuarterlyGrade:  null.Float64From(80),
		CreatedAt:       now(),
		UpdatedAt:       now(),
	})
	require.NoError(t, err)

	second, err := repo.UpsertGrade(ctx, grade.Grade{
		ID:              uuid.New().String(),
		StudentID:       s.ID,
		SubjectID:       sub.ID,
		SchoolYearID:    sy.ID,
		GradingPeriodID: gp.ID,
		QuarterlyGrade:  null.Float64From(85.5),
		CreatedAt:       now(),
		UpdatedAt:       now(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	g, err := repo.GetGrade(ctx, s.ID, sub.ID, gp.ID)
	require.NoError(t, err)
	assert.Equal(t, 85.5, g.QuarterlyGrade.Float64)

	grades, err := repo.QueryGrades(ctx, grade.GradeFilter{StudentIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, grades)

	err = db.WithinTx(ctx, func(ctx context.Context) error {
		status, err := repo.LockFinalizationStatus(ctx, s.ID, sy.ID, 1)
		if err != nil {
			return err
		}
		status.IsFinalized = true
		status.GeneralAverage = null.Float64From(85.5)
		_, err = repo.UpdateFinalizationStatus(ctx, status)
		return err
	})
	require.NoError(t, err)

	statuses, err := repo.QueryFinalizationStatuses(ctx, grade.StatusFilter{StudentIDs: []string{s.ID}})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsFinalized)

	pending := grade.UnlockRequest{
		ID:           uuid.New().String(),
		StudentID:    s.ID,
		SchoolYearID: sy.ID,
		Semester:     1,
		Reason:       "Encoding error on written works",
		Status:       grade.StatusPending,
		CreatedAt:    now(),
	}
	_, err = repo.CreateUnlockRequest(ctx, pending)
	require.NoError(t, err)
	pending.ID = uuid.New().String()
	_, err = repo.CreateUnlockRequest(ctx, pending)
	assert.True(t, core.IsConflict(err))
}

func TestClassRepository_enrollWithinCapacity(t *testing.T) {
	db := openDB(t)
	first, sy, _, sub := seedStudentYear(t, db)
	repo := sqlxrepos.NewClassRepository(db)
	students := sqlxrepos.NewStudentRepository(db)
	ctx := context.Background()

	c, err := repo.CreateClass(ctx, class.Class{
		ID:            uuid.New().String(),
		SubjectID:     sub.ID,
		Section:       "Rizal",
		SchoolYearID:  sy.ID,
		GradingPeriod: 1,
		Capacity:      null.IntFrom(1),
		CreatedAt:     now(),
		UpdatedAt:     now(),
	})
	require.NoError(t, err)
	second, err := students.CreateStudent(ctx, student.Student{
		ID:         uuid.New().String(),
		LRN:        "123456789013",
		FirstName:  "Juan",
		LastName:   "Luna",
		GradeLevel: 11,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	})
	require.NoError(t, err)

	_, err = repo.LockClass(ctx, uuid.New().String())
	assert.Equal(t, core.ErrNotFound, err)

	auditSvc := audit.NewService(sqlxrepos.NewAuditRepository(db))
	svc := class.NewService(repo, db, auditSvc, nil, student.NewService(students, db, auditSvc), nil)

	// both enrollments race for the last seat
	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, s := range []student.Student{first, second} {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(ctx, c, studentID, "")
		}(i, s.ID)
	}
	wg.Wait()

	var full int
	for _, err := range errs {
		if err != nil {
			assert.Equal(t, class.ErrClassFull, err)
			full++
		}
	}
	assert.Equal(t, 1, full)

	counts, err := repo.CountEnrollments(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[c.ID])
}

func TestDocumentRepository(t *testing.T) {
	db := openDB(t)
	s, sy, _, _ := seedStudentYear(t, db)
	repo := sqlxrepos.NewDocumentRepository(db)
	ctx := context.Background()

	sf10, err := repo.CreateMetadata(ctx, document.Metadata{
		ID:           uuid.New().String(),
		StudentID:    s.ID,
		DocumentType: document.TypeSF10,
		Data:         null.JSONFrom([]byte(`{"remarks":"promoted"}`)),
		CreatedAt:    now(),
		UpdatedAt:    now(),
	})
	require.NoError(t, err)
	_, err = repo.CreateMetadata(ctx, document.Metadata{
		ID:           uuid.New().String(),
		StudentID:    s.ID,
		DocumentType: document.TypeSF9,
		SchoolYearID: null.StringFrom(sy.ID),
		CreatedAt:    now(),
		UpdatedAt:    now(),
	})
	require.NoError(t, err)

	got, err := repo.GetMetadata(ctx, s.ID, document.TypeSF10, "")
	require.NoError(t, err)
	assert.Equal(t, sf10.ID, got.ID)
	assert.JSONEq(t, `{"remarks":"promoted"}`, string(got.Data.JSON))

	_, err = repo.GetMetadata(ctx, s.ID, document.TypeSF10, sy.ID)
	assert.Equal(t, core.ErrNotFound, err)
}

func TestAuditRepository(t *testing.T) {
	db := openDB(t)
	repo := sqlxrepos.NewAuditRepository(db)
	svc := audit.NewService(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := audit.NewEntry("", audit.ActionSettingsUpdated, "system_settings", "").WithMeta(map[string]int{"n": i})
		e.CreatedAt = now().Add(time.Duration(i) * time.Second)
		require.NoError(t, svc.Record(ctx, e))
	}

	page, err := svc.Query(ctx, audit.Filter{Action: audit.ActionSettingsUpdated}, core.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	assert.JSONEq(t, `{"n":2}`, string(page.Data[0].Metadata.JSON))

	err = db.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.Record(ctx, audit.NewEntry("", audit.ActionSettingsUpdated, "system_settings", "")); err != nil {
			return err
		}
		return core.ErrConflict
	})
	assert.Equal(t, core.ErrConflict, err)
	page, err = svc.Query(ctx, audit.Filter{}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}
