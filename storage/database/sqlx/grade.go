package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grade"
)

const (
	gradeColumns = `id, student_id, subject_id, class_id, teacher_id, school_year_id, grading_period_id,
	written_work_score, written_work_total, performance_task_score, performance_task_total,
	quarterly_assessment_score, quarterly_assessment_total, quarterly_grade, remarks, entered_by,
	created_at, updated_at`
	finalGradeColumns = "id, student_id, subject_id, school_year_id, semester, q1, q2, q3, q4, final_grade, remarks, computed_at"
	statusColumns     = `id, student_id, school_year_id, semester, is_finalized, general_average, finalized_by,
	finalized_at, unlock_count, updated_at`
	unlockColumns = `id, student_id, school_year_id, semester, class_id, requested_by, reason, status, reviewed_by,
	reviewed_at, review_note, created_at`
)

type gradeRepository struct {
	db *DB
}

var _ grade.Repository = (*gradeRepository)(nil)

func NewGradeRepository(db *DB) grade.Repository {
	return &gradeRepository{db: db}
}

// Grades

func (repo *gradeRepository) GetGrade(ctx context.Context, studentID, subjectID, gradingPeriodID string) (grade.Grade, error) {
	var g grade.Grade
	err := repo.db.get(
		ctx, &g,
		"SELECT "+gradeColumns+" FROM grades WHERE student_id = $1 AND subject_id = $2 AND grading_period_id = $3",
		studentID, subjectID, gradingPeriodID,
	)
	return g, core.TranslateDBError(err, "selecting grade")
}

// UpsertGrade replaces the grade of the same student, subject and period, keeping its ID and creation time.
func (repo *gradeRepository) UpsertGrade(ctx context.Context, g grade.Grade) (grade.Grade, error) {
	const q = `
		INSERT INTO grades (` + gradeColumns + `)
		VALUES (:id, :student_id, :subject_id, :class_id, :teacher_id, :school_year_id, :grading_period_id,
			:written_work_score, :written_work_total, :performance_task_score, :performance_task_total,
			:quarterly_assessment_score, :quarterly_assessment_total, :quarterly_grade, :remarks, :entered_by,
			:created_at, :updated_at)
		ON CONFLICT (student_id, subject_id, grading_period_id) DO UPDATE SET
			class_id = EXCLUDED.class_id, teacher_id = EXCLUDED.teacher_id,
			written_work_score = EXCLUDED.written_work_score, written_work_total = EXCLUDED.written_work_total,
			performance_task_score = EXCLUDED.performance_task_score,
			performance_task_total = EXCLUDED.performance_task_total,
			quarterly_assessment_score = EXCLUDED.quarterly_assessment_score,
			quarterly_assessment_total = EXCLUDED.quarterly_assessment_total,
			quarterly_grade = EXCLUDED.quarterly_grade, remarks = EXCLUDED.remarks,
			entered_by = EXCLUDED.entered_by, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	var kept struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := repo.db.namedGet(ctx, &kept, q, g); err != nil {
		return grade.Grade{}, core.TranslateDBError(err, "upserting grade")
	}
	g.ID, g.CreatedAt = kept.ID, kept.CreatedAt
	return g, nil
}

func (repo *gradeRepository) QueryGrades(ctx context.Context, filter grade.GradeFilter) ([]grade.Grade, error) {
	var w where
	if filter.StudentIDs != nil {
		w.add("student_id::text = ANY(?)", pq.Array(filter.StudentIDs))
	}
	if filter.SubjectID != "" {
		w.add("subject_id::text = ?", filter.SubjectID)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id::text = ?", filter.SchoolYearID)
	}
	if filter.GradingPeriodIDs != nil {
		w.add("grading_period_id::text = ANY(?)", pq.Array(filter.GradingPeriodIDs))
	}

	q, args, err := build("SELECT "+gradeColumns+" FROM grades"+w.String()+" ORDER BY created_at", w.args...)
	if err != nil {
		return nil, err
	}
	grades := make([]grade.Grade, 0)
	err = repo.db.selectAll(ctx, &grades, q, args...)
	return grades, core.TranslateDBError(err, "selecting grades")
}

// Final grades

func (repo *gradeRepository) UpsertFinalGrade(ctx context.Context, fg grade.FinalGrade) (grade.FinalGrade, error) {
	const q = `
		INSERT INTO final_grades (` + finalGradeColumns + `)
		VALUES (:id, :student_id, :subject_id, :school_year_id, :semester, :q1, :q2, :q3, :q4, :final_grade,
			:remarks, :computed_at)
		ON CONFLICT (student_id, subject_id, school_year_id, semester) DO UPDATE SET
			q1 = EXCLUDED.q1, q2 = EXCLUDED.q2, q3 = EXCLUDED.q3, q4 = EXCLUDED.q4,
			final_grade = EXCLUDED.final_grade, remarks = EXCLUDED.remarks, computed_at = EXCLUDED.computed_at
		RETURNING id`
	if err := repo.db.namedGet(ctx, &fg.ID, q, fg); err != nil {
		return grade.FinalGrade{}, core.TranslateDBError(err, "upserting final grade")
	}
	return fg, nil
}

func (repo *gradeRepository) QueryFinalGrades(ctx context.Context, studentID, schoolYearID string, semester int) ([]grade.FinalGrade, error) {
	finals := make([]grade.FinalGrade, 0)
	err := repo.db.selectAll(
		ctx, &finals,
		`SELECT `+finalGradeColumns+` FROM final_grades
		WHERE student_id = $1 AND school_year_id = $2 AND ($3 = 0 OR semester = $3)
		ORDER BY semester, subject_id`,
		studentID, schoolYearID, semester,
	)
	return finals, core.TranslateDBError(err, "selecting final grades")
}

// Finalization status

func (repo *gradeRepository) LockFinalizationStatus(ctx context.Context, studentID, schoolYearID string, semester int) (grade.FinalizationStatus, error) {
	_, err := repo.db.exec(
		ctx,
		`INSERT INTO grade_finalization_status (id, student_id, school_year_id, semester, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, school_year_id, semester) DO NOTHING`,
		uuid.New().String(), studentID, schoolYearID, semester, time.Now().UTC(),
	)
	if err != nil {
		return grade.FinalizationStatus{}, core.TranslateDBError(err, "inserting finalization status")
	}

	var status grade.FinalizationStatus
	err = repo.db.get(
		ctx, &status,
		`SELECT `+statusColumns+` FROM grade_finalization_status
		WHERE student_id = $1 AND school_year_id = $2 AND semester = $3
		FOR UPDATE`,
		studentID, schoolYearID, semester,
	)
	return status, core.TranslateDBError(err, "locking finalization status")
}

func (repo *gradeRepository) UpdateFinalizationStatus(ctx context.Context, fs grade.FinalizationStatus) (grade.FinalizationStatus, error) {
	const q = `
		UPDATE grade_finalization_status SET
			is_finalized = :is_finalized, general_average = :general_average, finalized_by = :finalized_by,
			finalized_at = :finalized_at, unlock_count = :unlock_count, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, fs)
	if err != nil {
		return grade.FinalizationStatus{}, core.TranslateDBError(err, "updating finalization status")
	}
	if n == 0 {
		return grade.FinalizationStatus{}, core.ErrNotFound
	}
	return fs, nil
}

func (repo *gradeRepository) QueryFinalizationStatuses(ctx context.Context, filter grade.StatusFilter) ([]grade.FinalizationStatus, error) {
	var w where
	if filter.StudentIDs != nil {
		w.add("student_id::text = ANY(?)", pq.Array(filter.StudentIDs))
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id::text = ?", filter.SchoolYearID)
	}
	if filter.Semester != 0 {
		w.add("semester = ?", filter.Semester)
	}

	q, args, err := build("SELECT "+statusColumns+" FROM grade_finalization_status"+w.String()+" ORDER BY semester", w.args...)
	if err != nil {
		return nil, err
	}
	statuses := make([]grade.FinalizationStatus, 0)
	err = repo.db.selectAll(ctx, &statuses, q, args...)
	return statuses, core.TranslateDBError(err, "selecting finalization statuses")
}

// Unlock requests

func (repo *gradeRepository) CreateUnlockRequest(ctx context.Context, ur grade.UnlockRequest) (grade.UnlockRequest, error) {
	const q = `
		INSERT INTO grade_unlock_requests (` + unlockColumns + `)
		VALUES (:id, :student_id, :school_year_id, :semester, :class_id, :requested_by, :reason, :status,
			:reviewed_by, :reviewed_at, :review_note, :created_at)`
	_, err := repo.db.namedExec(ctx, q, ur)
	return ur, core.TranslateDBError(err, "inserting unlock request")
}

func (repo *gradeRepository) GetUnlockRequest(ctx context.Context, id string) (grade.UnlockRequest, error) {
	q := "SELECT " + unlockColumns + " FROM grade_unlock_requests WHERE id = $1"
	if inTx(ctx) {
		q += " FOR UPDATE"
	}
	var ur grade.UnlockRequest
	err := repo.db.get(ctx, &ur, q, id)
	return ur, core.TranslateDBError(err, "selecting unlock request")
}

func (repo *gradeRepository) UpdateUnlockRequest(ctx context.Context, ur grade.UnlockRequest) (grade.UnlockRequest, error) {
	const q = `
		UPDATE grade_unlock_requests SET
			status = :status, reviewed_by = :reviewed_by, reviewed_at = :reviewed_at, review_note = :review_note
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, ur)
	if err != nil {
		return grade.UnlockRequest{}, core.TranslateDBError(err, "updating unlock request")
	}
	if n == 0 {
		return grade.UnlockRequest{}, core.ErrNotFound
	}
	return ur, nil
}

func (repo *gradeRepository) QueryUnlockRequests(ctx context.Context, filter grade.UnlockFilter) ([]grade.UnlockRequest, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.RequestedBy != "" {
		w.add("requested_by::text = ?", filter.RequestedBy)
	}

	q, args, err := build("SELECT "+unlockColumns+" FROM grade_unlock_requests"+w.String()+" ORDER BY created_at DESC", w.args...)
	if err != nil {
		return nil, err
	}
	reqs := make([]grade.UnlockRequest, 0)
	err = repo.db.selectAll(ctx, &reqs, q, args...)
	return reqs, core.TranslateDBError(err, "selecting unlock requests")
}

func (repo *gradeRepository) PendingUnlockExists(ctx context.Context, studentID, schoolYearID string, semester int) (bool, error) {
	found, err := repo.db.exists(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM grade_unlock_requests
			WHERE status = 'pending' AND student_id = $1 AND school_year_id = $2 AND semester = $3
		)`,
		studentID, schoolYearID, semester,
	)
	return found, core.TranslateDBError(err, "checking pending unlock requests")
}
