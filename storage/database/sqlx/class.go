package sqlxrepos

import (
	"context"

	"github.com/lib/pq"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/class"
)

const (
	classColumns = `id, teacher_id, subject_id, section, school_year_id, grading_period, room, capacity,
	created_at, updated_at`
	enrollmentColumns = "id, class_id, student_id, enrolled_at"
)

type classRepository struct {
	db *DB
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *DB) class.Repository {
	return &classRepository{db: db}
}

func (repo *classRepository) CreateClass(ctx context.Context, c class.Class) (class.Class, error) {
	const q = `
		INSERT INTO class_assignments (` + classColumns + `)
		VALUES (:id, :teacher_id, :subject_id, :section, :school_year_id, :grading_period, :room, :capacity,
			:created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, c)
	return c, core.TranslateDBError(err, "inserting class")
}

func (repo *classRepository) QueryClasses(ctx context.Context, filter class.Filter) ([]class.Class, error) {
	var w where
	if filter.TeacherID != "" {
		w.add("teacher_id::text = ?", filter.TeacherID)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id::text = ?", filter.SchoolYearID)
	}
	if filter.SubjectID != "" {
		w.add("subject_id::text = ?", filter.SubjectID)
	}
	if filter.Section != "" {
		w.add("section = ?", filter.Section)
	}
	if filter.GradingPeriod != 0 {
		w.add("grading_period = ?", filter.GradingPeriod)
	}

	q, args, err := build(
		"SELECT "+classColumns+" FROM class_assignments"+w.String()+" ORDER BY section, grading_period, created_at",
		w.args...,
	)
	if err != nil {
		return nil, err
	}
	classes := make([]class.Class, 0)
	err = repo.db.selectAll(ctx, &classes, q, args...)
	return classes, core.TranslateDBError(err, "selecting classes")
}

func (repo *classRepository) GetClass(ctx context.Context, id string) (class.Class, error) {
	var c class.Class
	err := repo.db.get(ctx, &c, "SELECT "+classColumns+" FROM class_assignments WHERE id = $1", id)
	return c, core.TranslateDBError(err, "selecting class")
}

func (repo *classRepository) LockClass(ctx context.Context, id string) (class.Class, error) {
	var c class.Class
	err := repo.db.get(ctx, &c, "SELECT "+classColumns+" FROM class_assignments WHERE id = $1 FOR UPDATE", id)
	return c, core.TranslateDBError(err, "locking class")
}

func (repo *classRepository) UpdateClass(ctx context.Context, c class.Class) (class.Class, error) {
	const q = `
		UPDATE class_assignments SET
			teacher_id = :teacher_id, subject_id = :subject_id, section = :section,
			school_year_id = :school_year_id, grading_period = :grading_period, room = :room,
			capacity = :capacity, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, c)
	if err != nil {
		return class.Class{}, core.TranslateDBError(err, "updating class")
	}
	if n == 0 {
		return class.Class{}, core.ErrNotFound
	}
	return c, nil
}

func (repo *classRepository) DeleteClass(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM class_assignments WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting class")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *classRepository) ClassExists(ctx context.Context, c class.Class) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM class_assignments
			WHERE teacher_id IS NOT DISTINCT FROM $1 AND subject_id = $2 AND section = $3
				AND school_year_id = $4 AND grading_period = $5 AND id::text <> $6
		)`
	found, err := repo.db.exists(ctx, q, c.TeacherID, c.SubjectID, c.Section, c.SchoolYearID, c.GradingPeriod, c.ID)
	return found, core.TranslateDBError(err, "checking class")
}

func (repo *classRepository) CreateEnrollment(ctx context.Context, e class.Enrollment) (class.Enrollment, error) {
	const q = `
		INSERT INTO class_enrollments (` + enrollmentColumns + `)
		VALUES (:id, :class_id, :student_id, :enrolled_at)`
	_, err := repo.db.namedExec(ctx, q, e)
	return e, core.TranslateDBError(err, "inserting enrollment")
}

func (repo *classRepository) DeleteEnrollment(ctx context.Context, classID, studentID string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM class_enrollments WHERE class_id = $1 AND student_id = $2", classID, studentID)
	if err != nil {
		return core.TranslateDBError(err, "deleting enrollment")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *classRepository) QueryEnrollments(ctx context.Context, classID string) ([]class.Enrollment, error) {
	enrollments := make([]class.Enrollment, 0)
	err := repo.db.selectAll(
		ctx, &enrollments,
		"SELECT "+enrollmentColumns+" FROM class_enrollments WHERE class_id = $1 ORDER BY enrolled_at",
		classID,
	)
	return enrollments, core.TranslateDBError(err, "selecting enrollments")
}

func (repo *classRepository) CountEnrollments(ctx context.Context, classIDs ...string) (map[string]int, error) {
	var rows []struct {
		ClassID string `db:"class_id"`
		Count   int    `db:"count"`
	}
	err := repo.db.selectAll(
		ctx, &rows,
		"SELECT class_id, COUNT(*) AS count FROM class_enrollments WHERE class_id::text = ANY($1) GROUP BY class_id",
		pq.Array(classIDs),
	)
	if err != nil {
		return nil, core.TranslateDBError(err, "counting enrollments")
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ClassID] = r.Count
	}
	return counts, nil
}
