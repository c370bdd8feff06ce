// Package grade handles grade entry, semester finalization and the unlock workflow that
// reopens finalized grades.
package grade

import (
	"context"
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
)

var (
	ErrGradesFinalized  = errors.New("Cannot modify finalized grades. Request unlock from admin.")
	ErrNotFinalized     = core.NewValidationError(errors.New("grades are not finalized"))
	ErrUnlockPending    = core.NewConflictError("an unlock request is already pending for this student")
	ErrAlreadyReviewed  = core.NewConflictError("unlock request has already been reviewed")
	ErrNotEnrolled      = core.NewFieldError("student_id", "student is not enrolled in this class")
	ErrPeriodNotDefined = core.NewValidationError(errors.New("the grading period of this class is not configured for its school year"))
)

// IncompleteGradesError is returned when a class cannot be finalized.
type IncompleteGradesError struct {
	Count      int
	StudentIDs []string
}

func (err IncompleteGradesError) Error() string {
	return fmt.Sprintf("Cannot finalize: %d student(s) have incomplete grades", err.Count)
}

type (
	Repository interface {
		GetGrade(ctx context.Context, studentID, subjectID, gradingPeriodID string) (Grade, error)
		UpsertGrade(ctx context.Context, g Grade) (Grade, error)
		QueryGrades(ctx context.Context, filter GradeFilter) ([]Grade, error)

		UpsertFinalGrade(ctx context.Context, fg FinalGrade) (FinalGrade, error)
		QueryFinalGrades(ctx context.Context, studentID, schoolYearID string, semester int) ([]FinalGrade, error)

		// LockFinalizationStatus creates the status row if missing, then locks it until the transaction ends.
		LockFinalizationStatus(ctx context.Context, studentID, schoolYearID string, semester int) (FinalizationStatus, error)
		UpdateFinalizationStatus(ctx context.Context, fs FinalizationStatus) (FinalizationStatus, error)
		QueryFinalizationStatuses(ctx context.Context, filter StatusFilter) ([]FinalizationStatus, error)

		CreateUnlockRequest(ctx context.Context, ur UnlockRequest) (UnlockRequest, error)
		// GetUnlockRequest locks the row when called inside a transaction.
		GetUnlockRequest(ctx context.Context, id string) (UnlockRequest, error)
		UpdateUnlockRequest(ctx context.Context, ur UnlockRequest) (UnlockRequest, error)
		QueryUnlockRequests(ctx context.Context, filter UnlockFilter) ([]UnlockRequest, error)
		PendingUnlockExists(ctx context.Context, studentID, schoolYearID string, semester int) (bool, error)
	}

	ClassReader interface {
		GetFor(ctx context.Context, id string, actor user.User) (class.Class, error)
		Students(ctx context.Context, classID string) ([]student.Student, error)
		IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
		Teaches(ctx context.Context, teacherID, studentID string) (bool, error)
	}

	StudentReader interface {
		GetByID(ctx context.Context, id string) (student.Student, error)
	}

	SchoolReader interface {
		GetSubject(ctx context.Context, id string) (school.Subject, error)
		GetSchoolYear(ctx context.Context, id string) (school.SchoolYear, error)
		GradingPeriodByNumber(ctx context.Context, schoolYearID string, number int) (school.GradingPeriod, error)
		QueryGradingPeriods(ctx context.Context, schoolYearID string) ([]school.GradingPeriod, error)
		GradingPolicy(ctx context.Context) (grading.Policy, error)
	}

	UserReader interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo     Repository
		tx       core.Transactor
		classes  ClassReader
		students StudentReader
		school   SchoolReader
		users    UserReader
		audit    audit.Recorder
		mailSvc  core.EmailService
		logger   core.Logger
		locks    *keyedMutex
	}
)

func NewService(
	repo Repository,
	tx core.Transactor,
	classes ClassReader,
	students StudentReader,
	schoolSvc SchoolReader,
	users UserReader,
	auditor audit.Recorder,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		classes:  classes,
		students: students,
		school:   schoolSvc,
		users:    users,
		audit:    auditor,
		mailSvc:  mailSvc,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

func (svc *Service) lockStudent(studentID string) func() {
	return svc.locks.Lock(studentID)
}

// classPeriod resolves the grading period row of a class.
func (svc *Service) classPeriod(ctx context.Context, c class.Class) (school.GradingPeriod, error) {
	gp, err := svc.school.GradingPeriodByNumber(ctx, c.SchoolYearID, c.GradingPeriod)
	if errors.Cause(err) == core.ErrNotFound {
		return school.GradingPeriod{}, ErrPeriodNotDefined
	}
	return gp, err
}

// ClassSheet returns one entry per enrolled student, with empty grades for students without any.
func (svc *Service) ClassSheet(ctx context.Context, classID string, actor user.User) ([]SheetEntry, error) {
	c, err := svc.classes.GetFor(ctx, classID, actor)
	if err != nil {
		return nil, err
	}
	gp, err := svc.classPeriod(ctx, c)
	if err != nil {
		return nil, err
	}
	students, err := svc.classes.Students(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{
		StudentIDs:       ids,
		SubjectID:        c.SubjectID,
		GradingPeriodIDs: []string{gp.ID},
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	byStudent := make(map[string]Grade, len(grades))
	for _, g := range grades {
		byStudent[g.StudentID] = g
	}
	finalized, err := svc.finalizedStudents(ctx, ids, c.SchoolYearID, gp.Semester)
	if err != nil {
		return nil, err
	}

	sheet := make([]SheetEntry, 0, len(students))
	for _, s := range students {
		g, ok := byStudent[s.ID]
		if !ok {
			g = Grade{
				StudentID:       s.ID,
				SubjectID:       c.SubjectID,
				ClassID:         null.StringFrom(c.ID),
				SchoolYearID:    c.SchoolYearID,
				GradingPeriodID: gp.ID,
			}
		}
		sheet = append(sheet, SheetEntry{Student: s, Grade: g, Finalized: finalized[s.ID]})
	}
	return sheet, nil
}

func (svc *Service) finalizedStudents(ctx context.Context, ids []string, schoolYearID string, semester int) (map[string]bool, error) {
	statuses, err := svc.repo.QueryFinalizationStatuses(ctx, StatusFilter{StudentIDs: ids, SchoolYearID: schoolYearID, Semester: semester})
	if err != nil {
		return nil, errors.Wrap(err, "querying finalization statuses")
	}
	finalized := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		finalized[st.StudentID] = st.IsFinalized
	}
	return finalized, nil
}

// SaveGrade stores the component scores of a student and recomputes the quarterly grade.
// Finalized semesters are read-only.
func (svc *Service) SaveGrade(ctx context.Context, classID string, sg SaveGrade, actor user.User) (Grade, error) {
	c, err := svc.classes.GetFor(ctx, classID, actor)
	if err != nil {
		return Grade{}, err
	}
	enrolled, err := svc.classes.IsEnrolled(ctx, c.ID, sg.StudentID)
	if err != nil {
		return Grade{}, err
	}
	if !enrolled {
		return Grade{}, ErrNotEnrolled
	}
	gp, err := svc.classPeriod(ctx, c)
	if err != nil {
		return Grade{}, err
	}
	policy, err := svc.school.GradingPolicy(ctx)
	if err != nil {
		return Grade{}, err
	}

	defer svc.lockStudent(sg.StudentID)()

	var g Grade
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		status, err := svc.repo.LockFinalizationStatus(ctx, sg.StudentID, c.SchoolYearID, gp.Semester)
		if err != nil {
			return errors.Wrap(err, "locking finalization status")
		}
		if status.IsFinalized {
			return ErrGradesFinalized
		}

		old, err := svc.repo.GetGrade(ctx, sg.StudentID, c.SubjectID, gp.ID)
		isNew := errors.Cause(err) == core.ErrNotFound
		if err != nil && !isNew {
			return errors.Wrap(err, "getting grade")
		}

		now := time.Now().UTC()
		g = old
		if isNew {
			g = Grade{
				ID:              uuid.New().String(),
				StudentID:       sg.StudentID,
				SubjectID:       c.SubjectID,
				SchoolYearID:    c.SchoolYearID,
				GradingPeriodID: gp.ID,
				CreatedAt:       now,
			}
		}
		g.ClassID = null.StringFrom(c.ID)
		g.TeacherID = c.TeacherID
		g.Components = sg.Components()
		g.QuarterlyGrade = grading.QuarterlyGrade(g.Components, policy.Weights)
		g.Remarks = null.String{}
		if g.QuarterlyGrade.Valid {
			g.Remarks = null.StringFrom(policy.Remarks(g.QuarterlyGrade.Float64))
		}
		g.EnteredBy = null.StringFrom(actor.ID)
		g.UpdatedAt = now

		if g, err = svc.repo.UpsertGrade(ctx, g); err != nil {
			return errors.Wrap(err, "saving grade")
		}
		entry := audit.NewEntry(actor.ID, audit.ActionGradeSaved, "grades", g.ID).WithNew(g)
		if !isNew {
			entry = entry.WithOld(old)
		}
		return svc.audit.Record(ctx, entry)
	})
	return g, err
}

// FinalizeClass finalizes the semester of every student enrolled in a class.
// It refuses to finalize anything while one of them lacks a quarterly grade.
func (svc *Service) FinalizeClass(ctx context.Context, classID string, actor user.User) (FinalizeResult, error) {
	c, err := svc.classes.GetFor(ctx, classID, actor)
	if err != nil {
		return FinalizeResult{}, err
	}
	gp, err := svc.classPeriod(ctx, c)
	if err != nil {
		return FinalizeResult{}, err
	}
	students, err := svc.classes.Students(ctx, c.ID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if len(students) == 0 {
		return FinalizeResult{}, core.NewValidationError(errors.New("Cannot finalize: class has no enrolled students"))
	}

	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{StudentIDs: ids, SubjectID: c.SubjectID, GradingPeriodIDs: []string{gp.ID}})
	if err != nil {
		return FinalizeResult{}, errors.Wrap(err, "querying grades")
	}
	complete := make(map[string]bool, len(grades))
	for _, g := range grades {
		complete[g.StudentID] = g.QuarterlyGrade.Valid
	}
	var incomplete []string
	for _, id := range ids {
		if !complete[id] {
			incomplete = append(incomplete, id)
		}
	}
	if len(incomplete) > 0 {
		return FinalizeResult{}, core.NewValidationError(IncompleteGradesError{Count: len(incomplete), StudentIDs: incomplete})
	}

	periods, err := svc.school.QueryGradingPeriods(ctx, c.SchoolYearID)
	if err != nil {
		return FinalizeResult{}, errors.Wrap(err, "querying grading periods")
	}
	policy, err := svc.school.GradingPolicy(ctx)
	if err != nil {
		return FinalizeResult{}, err
	}

	res := FinalizeResult{Finalized: []string{}, Skipped: []string{}}
	for _, id := range ids {
		finalized, err := svc.finalizeStudent(ctx, id, c.SchoolYearID, gp.Semester, periods, policy, actor.ID, c.ID)
		if err != nil {
			return res, err
		}
		if finalized {
			res.Finalized = append(res.Finalized, id)
		} else {
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res, nil
}

// finalizeStudent recomputes the final grades of a semester and marks it finalized.
// It reports false when the semester was already finalized.
func (svc *Service) finalizeStudent(
	ctx context.Context,
	studentID, schoolYearID string,
	semester int,
	periods []school.GradingPeriod,
	policy grading.Policy,
	actorID, classID string,
) (bool, error) {
	defer svc.lockStudent(studentID)()

	numbers := make(map[string]int, len(periods))
	var periodIDs []string
	for _, p := range periods {
		if grading.SemesterOf(p.PeriodNumber) == semester {
			numbers[p.ID] = p.PeriodNumber
			periodIDs = append(periodIDs, p.ID)
		}
	}

	var finalized bool
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		status, err := svc.repo.LockFinalizationStatus(ctx, studentID, schoolYearID, semester)
		if err != nil {
			return errors.Wrap(err, "locking finalization status")
		}
		if status.IsFinalized {
			return nil
		}

		grades, err := svc.repo.QueryGrades(ctx, GradeFilter{
			StudentIDs:       []string{studentID},
			SchoolYearID:     schoolYearID,
			GradingPeriodIDs: periodIDs,
		})
		if err != nil {
			return errors.Wrap(err, "querying grades")
		}

		now := time.Now().UTC()
		finals := make(map[string]*FinalGrade)
		var subjectIDs []string
		for _, g := range grades {
			fg, ok := finals[g.SubjectID]
			if !ok {
				fg = &FinalGrade{
					ID:           uuid.New().String(),
					StudentID:    studentID,
					SubjectID:    g.SubjectID,
					SchoolYearID: schoolYearID,
					Semester:     semester,
				}
				finals[g.SubjectID] = fg
				subjectIDs = append(subjectIDs, g.SubjectID)
			}
			fg.setQuarter(numbers[g.GradingPeriodID], g.QuarterlyGrade)
		}
		sort.Strings(subjectIDs)

		averages := make([]null.Float64, 0, len(finals))
		for _, subjectID := range subjectIDs {
			fg := finals[subjectID]
			fg.FinalGrade = grading.FinalGrade(fg.quarters()...)
			fg.Remarks = ""
			if fg.FinalGrade.Valid {
				fg.Remarks = policy.Remarks(fg.FinalGrade.Float64)
			}
			fg.ComputedAt = now
			if _, err = svc.repo.UpsertFinalGrade(ctx, *fg); err != nil {
				return errors.Wrap(err, "saving final grade")
			}
			averages = append(averages, fg.FinalGrade)
		}

		old := status
		status.IsFinalized = true
		status.GeneralAverage = grading.GeneralAverage(averages...)
		status.FinalizedBy = null.StringFrom(actorID)
		status.FinalizedAt = null.TimeFrom(now)
		status.UpdatedAt = now
		if status, err = svc.repo.UpdateFinalizationStatus(ctx, status); err != nil {
			return errors.Wrap(err, "updating finalization status")
		}
		finalized = true

		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionGradesFinalized, "grade_finalization_status", status.ID).
			WithOld(old).WithNew(status).WithMeta(map[string]string{"class_id": classID}))
	})
	return finalized, err
}

// Status returns the finalization status of a student's semester. Missing rows read as not finalized.
func (svc *Service) Status(ctx context.Context, studentID, schoolYearID string, semester int) (FinalizationStatus, error) {
	statuses, err := svc.repo.QueryFinalizationStatuses(ctx, StatusFilter{
		StudentIDs:   []string{studentID},
		SchoolYearID: schoolYearID,
		Semester:     semester,
	})
	if err != nil {
		return FinalizationStatus{}, errors.Wrap(err, "querying finalization statuses")
	}
	if len(statuses) == 0 {
		return FinalizationStatus{StudentID: studentID, SchoolYearID: schoolYearID, Semester: semester}, nil
	}
	return statuses[0], nil
}

// ClassStatuses returns the finalization status of every student enrolled in a class.
func (svc *Service) ClassStatuses(ctx context.Context, classID string, actor user.User) ([]StudentStatus, error) {
	c, err := svc.classes.GetFor(ctx, classID, actor)
	if err != nil {
		return nil, err
	}
	students, err := svc.classes.Students(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	semester := grading.SemesterOf(c.GradingPeriod)
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	statuses, err := svc.repo.QueryFinalizationStatuses(ctx, StatusFilter{StudentIDs: ids, SchoolYearID: c.SchoolYearID, Semester: semester})
	if err != nil {
		return nil, errors.Wrap(err, "querying finalization statuses")
	}
	byStudent := make(map[string]FinalizationStatus, len(statuses))
	for _, st := range statuses {
		byStudent[st.StudentID] = st
	}

	res := make([]StudentStatus, 0, len(students))
	for _, s := range students {
		st, ok := byStudent[s.ID]
		if !ok {
			st = FinalizationStatus{StudentID: s.ID, SchoolYearID: c.SchoolYearID, Semester: semester}
		}
		res = append(res, StudentStatus{StudentID: s.ID, StudentName: s.FullName(), LRN: s.LRN, Status: st})
	}
	return res, nil
}

// YearStanding is finalized when the student has at least one semester and all of them are finalized.
// Its general average is the mean of the finalized semester averages.
func (svc *Service) YearStanding(ctx context.Context, studentID, schoolYearID string) (YearStanding, error) {
	statuses, err := svc.repo.QueryFinalizationStatuses(ctx, StatusFilter{StudentIDs: []string{studentID}, SchoolYearID: schoolYearID})
	if err != nil {
		return YearStanding{}, errors.Wrap(err, "querying finalization statuses")
	}
	policy, err := svc.school.GradingPolicy(ctx)
	if err != nil {
		return YearStanding{}, err
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Semester < statuses[j].Semester })

	finalized := len(statuses) > 0
	averages := make([]null.Float64, 0, len(statuses))
	for _, st := range statuses {
		if !st.IsFinalized {
			// an unlocked semester keeps its last average until it is finalized again
			finalized = false
			continue
		}
		averages = append(averages, st.GeneralAverage)
	}
	return YearStanding{
		Standing:     policy.NewStanding(finalized, grading.GeneralAverage(averages...)),
		SchoolYearID: schoolYearID,
		Semesters:    statuses,
	}, nil
}

// FinalGrades returns the final grades of a student for a school year, with their subjects.
func (svc *Service) FinalGrades(ctx context.Context, studentID, schoolYearID string) ([]FinalGradeView, error) {
	finals, err := svc.repo.QueryFinalGrades(ctx, studentID, schoolYearID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "querying final grades")
	}
	views := make([]FinalGradeView, 0, len(finals))
	subjects := make(map[string]school.Subject)
	for _, fg := range finals {
		sub, err := svc.subject(ctx, subjects, fg.SubjectID)
		if err != nil {
			return nil, err
		}
		views = append(views, FinalGradeView{FinalGrade: fg, SubjectCode: sub.Code, SubjectName: sub.Name})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Semester != views[j].Semester {
			return views[i].Semester < views[j].Semester
		}
		return views[i].SubjectName < views[j].SubjectName
	})
	return views, nil
}

// ReportFor is YearReport for staff. Teachers only see students enrolled in one of their classes.
func (svc *Service) ReportFor(ctx context.Context, studentID, schoolYearID string, actor user.User) (YearReport, error) {
	if !actor.IsAdmin() {
		teaches, err := svc.classes.Teaches(ctx, actor.ID, studentID)
		if err != nil {
			return YearReport{}, err
		}
		if !teaches {
			return YearReport{}, core.ErrForbidden
		}
	}
	return svc.YearReport(ctx, studentID, schoolYearID)
}

// YearReport gathers the quarterly grades, final grades and standing of a student for a school year.
func (svc *Service) YearReport(ctx context.Context, studentID, schoolYearID string) (YearReport, error) {
	periods, err := svc.school.QueryGradingPeriods(ctx, schoolYearID)
	if err != nil {
		return YearReport{}, errors.Wrap(err, "querying grading periods")
	}
	byPeriod := make(map[string]school.GradingPeriod, len(periods))
	for _, p := range periods {
		byPeriod[p.ID] = p
	}

	grades, err := svc.repo.QueryGrades(ctx, GradeFilter{StudentIDs: []string{studentID}, SchoolYearID: schoolYearID})
	if err != nil {
		return YearReport{}, errors.Wrap(err, "querying grades")
	}
	subjects := make(map[string]school.Subject)
	views := make([]GradeView, 0, len(grades))
	for _, g := range grades {
		sub, err := svc.subject(ctx, subjects, g.SubjectID)
		if err != nil {
			return YearReport{}, err
		}
		p := byPeriod[g.GradingPeriodID]
		views = append(views, GradeView{
			Grade:        g,
			SubjectCode:  sub.Code,
			SubjectName:  sub.Name,
			PeriodNumber: p.PeriodNumber,
			Semester:     p.Semester,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].PeriodNumber != views[j].PeriodNumber {
			return views[i].PeriodNumber < views[j].PeriodNumber
		}
		return views[i].SubjectName < views[j].SubjectName
	})

	finals, err := svc.FinalGrades(ctx, studentID, schoolYearID)
	if err != nil {
		return YearReport{}, err
	}
	standing, err := svc.YearStanding(ctx, studentID, schoolYearID)
	if err != nil {
		return YearReport{}, err
	}
	return YearReport{Grades: views, FinalGrades: finals, Standing: standing}, nil
}

func (svc *Service) subject(ctx context.Context, cache map[string]school.Subject, id string) (school.Subject, error) {
	if sub, ok := cache[id]; ok {
		return sub, nil
	}
	sub, err := svc.school.GetSubject(ctx, id)
	if err != nil {
		return school.Subject{}, errors.Wrap(err, "getting subject")
	}
	cache[id] = sub
	return sub, nil
}

// RequestUnlock asks an admin to reopen a finalized semester. Teachers must name one of their classes
// the student is enrolled in.
func (svc *Service) RequestUnlock(ctx context.Context, nr NewUnlockRequest, actor user.User) (UnlockRequest, error) {
	if _, err := svc.students.GetByID(ctx, nr.StudentID); err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return UnlockRequest{}, core.NewFieldError("student_id", "student does not exist")
		}
		return UnlockRequest{}, err
	}
	if !actor.IsAdmin() {
		if nr.ClassID == "" {
			return UnlockRequest{}, core.NewFieldError("class_id", "this field is required")
		}
		c, err := svc.classes.GetFor(ctx, nr.ClassID, actor)
		if err != nil {
			return UnlockRequest{}, err
		}
		enrolled, err := svc.classes.IsEnrolled(ctx, c.ID, nr.StudentID)
		if err != nil {
			return UnlockRequest{}, err
		}
		if !enrolled {
			return UnlockRequest{}, ErrNotEnrolled
		}
	}

	status, err := svc.Status(ctx, nr.StudentID, nr.SchoolYearID, nr.Semester)
	if err != nil {
		return UnlockRequest{}, err
	}
	if !status.IsFinalized {
		return UnlockRequest{}, ErrNotFinalized
	}

	ur := UnlockRequest{
		ID:           uuid.New().String(),
		StudentID:    nr.StudentID,
		SchoolYearID: nr.SchoolYearID,
		Semester:     nr.Semester,
		ClassID:      null.NewString(nr.ClassID, nr.ClassID != ""),
		RequestedBy:  null.StringFrom(actor.ID),
		Reason:       nr.Reason,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		pending, err := svc.repo.PendingUnlockExists(ctx, nr.StudentID, nr.SchoolYearID, nr.Semester)
		if err != nil {
			return errors.Wrap(err, "checking pending unlock requests")
		}
		if pending {
			return ErrUnlockPending
		}
		if ur, err = svc.repo.CreateUnlockRequest(ctx, ur); err != nil {
			if core.IsConflict(err) {
				return ErrUnlockPending
			}
			return errors.Wrap(err, "inserting unlock request")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actor.ID, audit.ActionUnlockRequested, "grade_unlock_requests", ur.ID).WithNew(ur))
	})
	return ur, err
}

// ReviewUnlock approves or rejects a pending request. Approval reopens the semester.
func (svc *Service) ReviewUnlock(ctx context.Context, id string, rv ReviewUnlock, adminID string) (UnlockRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return UnlockRequest{}, core.ErrNotFound
	}
	ur, err := svc.repo.GetUnlockRequest(ctx, id)
	if err != nil {
		return UnlockRequest{}, err
	}

	defer svc.lockStudent(ur.StudentID)()

	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ur, err = svc.repo.GetUnlockRequest(ctx, id); err != nil {
			return err
		}
		if ur.Status != StatusPending {
			return ErrAlreadyReviewed
		}

		old := ur
		now := time.Now().UTC()
		ur.Status = rv.Status
		ur.ReviewedBy = null.StringFrom(adminID)
		ur.ReviewedAt = null.TimeFrom(now)
		ur.ReviewNote = rv.Note
		if ur, err = svc.repo.UpdateUnlockRequest(ctx, ur); err != nil {
			return errors.Wrap(err, "updating unlock request")
		}

		action := audit.ActionUnlockRejected
		if ur.Status == StatusApproved {
			action = audit.ActionUnlockApproved
			status, err := svc.repo.LockFinalizationStatus(ctx, ur.StudentID, ur.SchoolYearID, ur.Semester)
			if err != nil {
				return errors.Wrap(err, "locking finalization status")
			}
			status.IsFinalized = false
			status.FinalizedBy = null.String{}
			status.FinalizedAt = null.Time{}
			status.UnlockCount++
			status.UpdatedAt = now
			if _, err = svc.repo.UpdateFinalizationStatus(ctx, status); err != nil {
				return errors.Wrap(err, "updating finalization status")
			}
		}
		return svc.audit.Record(ctx, audit.NewEntry(adminID, action, "grade_unlock_requests", ur.ID).WithOld(old).WithNew(ur))
	})
	if err != nil {
		return UnlockRequest{}, err
	}

	svc.notifyRequester(ctx, ur)
	return ur, nil
}

func (svc *Service) notifyRequester(ctx context.Context, ur UnlockRequest) {
	if !ur.RequestedBy.Valid {
		return
	}
	requester, err := svc.users.GetByID(ctx, ur.RequestedBy.String)
	if err != nil {
		svc.logger.Warn("getting unlock requester", err)
		return
	}
	data := map[string]interface{}{
		"Name":       requester.FirstName,
		"Semester":   ur.Semester,
		"Approved":   ur.Status == StatusApproved,
		"Note":       ur.ReviewNote,
		"SchoolYear": "",
	}
	if s, err := svc.students.GetByID(ctx, ur.StudentID); err == nil {
		data["StudentName"] = s.FullName()
	}
	if sy, err := svc.school.GetSchoolYear(ctx, ur.SchoolYearID); err == nil {
		data["SchoolYear"] = sy.YearCode
	}
	subject := "Grade unlock request rejected"
	if ur.Status == StatusApproved {
		subject = "Grade unlock request approved"
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: requester.FullName(), Address: requester.Email}},
		Subject:      subject,
		TemplateName: "unlock_reviewed",
		TemplateData: data,
	})
}

// UnlockRequests lists requests with their student, year and requester names. Non admins only
// see their own requests.
func (svc *Service) UnlockRequests(ctx context.Context, filter UnlockFilter, actor user.User) ([]UnlockRequestView, error) {
	if !actor.IsAdmin() {
		filter.RequestedBy = actor.ID
	}
	reqs, err := svc.repo.QueryUnlockRequests(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying unlock requests")
	}

	views := make([]UnlockRequestView, 0, len(reqs))
	for _, ur := range reqs {
		v := UnlockRequestView{UnlockRequest: ur}
		if s, err := svc.students.GetByID(ctx, ur.StudentID); err == nil {
			v.StudentName, v.LRN = s.FullName(), s.LRN
		}
		if sy, err := svc.school.GetSchoolYear(ctx, ur.SchoolYearID); err == nil {
			v.YearCode = sy.YearCode
		}
		if ur.RequestedBy.Valid {
			if usr, err := svc.users.GetByID(ctx, ur.RequestedBy.String); err == nil {
				v.RequesterName = usr.FullName()
			}
		}
		views = append(views, v)
	}
	return views, nil
}
