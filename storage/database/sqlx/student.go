package sqlxrepos

import (
	"context"

	"github.com/lib/pq"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/student"
)

const studentColumns = `id, user_id, lrn, first_name, middle_name, last_name, suffix, grade_level, track,
	strand, section, birthdate, gender, address, guardian_name, contact_number, created_at, updated_at`

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil)

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	const q = `
		INSERT INTO students (` + studentColumns + `)
		VALUES (:id, :user_id, :lrn, :first_name, :middle_name, :last_name, :suffix, :grade_level, :track,
			:strand, :section, :birthdate, :gender, :address, :guardian_name, :contact_number, :created_at,
			:updated_at)`
	_, err := repo.db.namedExec(ctx, q, s)
	return s, core.TranslateDBError(err, "inserting student")
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter student.QueryFilter) ([]student.Student, error) {
	var w where
	if filter.Search != "" {
		s := "%" + filter.Search + "%"
		w.add(
			"(lrn LIKE ? OR first_name ILIKE ? OR middle_name ILIKE ? OR last_name ILIKE ?)",
			filter.Search+"%", s, s, s,
		)
	}
	if filter.GradeLevel != 0 {
		w.add("grade_level = ?", filter.GradeLevel)
	}
	if filter.Section != "" {
		w.add("lower(section) = lower(?)", filter.Section)
	}
	if filter.IDs != nil {
		w.add("id::text = ANY(?)", pq.Array(filter.IDs))
	}

	q, args, err := build(
		"SELECT "+studentColumns+" FROM students"+w.String()+" ORDER BY lower(last_name), lower(first_name)",
		w.args...,
	)
	if err != nil {
		return nil, err
	}
	students := make([]student.Student, 0)
	err = repo.db.selectAll(ctx, &students, q, args...)
	return students, core.TranslateDBError(err, "selecting students")
}

func (repo *studentRepository) getBy(ctx context.Context, column, value string) (student.Student, error) {
	var s student.Student
	err := repo.db.get(ctx, &s, "SELECT "+studentColumns+" FROM students WHERE "+column+" = $1", value)
	return s, core.TranslateDBError(err, "selecting student")
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string) (student.Student, error) {
	return repo.getBy(ctx, "id", id)
}

func (repo *studentRepository) GetStudentByLRN(ctx context.Context, lrn string) (student.Student, error) {
	return repo.getBy(ctx, "lrn", lrn)
}

func (repo *studentRepository) GetStudentByUser(ctx context.Context, userID string) (student.Student, error) {
	return repo.getBy(ctx, "user_id", userID)
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	const q = `
		UPDATE students SET
			user_id = :user_id, lrn = :lrn, first_name = :first_name, middle_name = :middle_name,
			last_name = :last_name, suffix = :suffix, grade_level = :grade_level, track = :track,
			strand = :strand, section = :section, birthdate = :birthdate, gender = :gender,
			address = :address, guardian_name = :guardian_name, contact_number = :contact_number,
			updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, s)
	if err != nil {
		return student.Student{}, core.TranslateDBError(err, "updating student")
	}
	if n == 0 {
		return student.Student{}, core.ErrNotFound
	}
	return s, nil
}

func (repo *studentRepository) DeleteStudent(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM students WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting student")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *studentRepository) LRNExists(ctx context.Context, lrn string, excludedIDs ...string) (bool, error) {
	found, err := repo.db.exists(
		ctx,
		"SELECT EXISTS (SELECT 1 FROM students WHERE lrn = $1 AND NOT (id::text = ANY($2)))",
		lrn, pq.Array(excludedIDs),
	)
	return found, core.TranslateDBError(err, "checking LRN")
}
