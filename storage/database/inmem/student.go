package inmemdb

import (
	"context"
	"strings"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/student"
)

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil)

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db}
}

func uniqueStudent(t *tables, s student.Student) error {
	for _, o := range t.students {
		if o.ID == s.ID {
			continue
		}
		if o.LRN == s.LRN || (s.UserID.Valid && o.UserID.Valid && o.UserID.String == s.UserID.String) {
			return errDuplicate
		}
	}
	return nil
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if err := uniqueStudent(t, s); err != nil {
			return err
		}
		t.students[s.ID] = s
		return nil
	})
	return s, err
}

func matchStudent(s student.Student, filter student.QueryFilter) bool {
	if filter.Search != "" {
		q := strings.ToLower(filter.Search)
		if !strings.HasPrefix(s.LRN, filter.Search) &&
			!strings.Contains(strings.ToLower(s.FirstName), q) &&
			!strings.Contains(strings.ToLower(s.MiddleName), q) &&
			!strings.Contains(strings.ToLower(s.LastName), q) {
			return false
		}
	}
	if filter.GradeLevel != 0 && s.GradeLevel != filter.GradeLevel {
		return false
	}
	if filter.Section != "" && !strings.EqualFold(s.Section, filter.Section) {
		return false
	}
	if filter.IDs != nil && !contains(filter.IDs, s.ID) {
		return false
	}
	return true
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter student.QueryFilter) ([]student.Student, error) {
	students := make([]student.Student, 0)
	repo.db.read(func(t *tables) {
		for _, s := range t.students {
			if matchStudent(s, filter) {
				students = append(students, s)
			}
		}
	})
	student.SortStudents(students)
	return students, nil
}

func (repo *studentRepository) get(match func(s student.Student) bool) (student.Student, error) {
	var (
		found student.Student
		ok    bool
	)
	repo.db.read(func(t *tables) {
		for _, s := range t.students {
			if match(s) {
				found, ok = s, true
				return
			}
		}
	})
	if !ok {
		return student.Student{}, core.ErrNotFound
	}
	return found, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, id string) (student.Student, error) {
	return repo.get(func(s student.Student) bool { return s.ID == id })
}

func (repo *studentRepository) GetStudentByLRN(_ context.Context, lrn string) (student.Student, error) {
	return repo.get(func(s student.Student) bool { return s.LRN == lrn })
}

func (repo *studentRepository) GetStudentByUser(_ context.Context, userID string) (student.Student, error) {
	return repo.get(func(s student.Student) bool { return s.UserID.Valid && s.UserID.String == userID })
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.students[s.ID]; !ok {
			return core.ErrNotFound
		}
		if err := uniqueStudent(t, s); err != nil {
			return err
		}
		t.students[s.ID] = s
		return nil
	})
	return s, err
}

func (repo *studentRepository) DeleteStudent(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.students[id]; !ok {
			return core.ErrNotFound
		}
		delete(t.students, id)

		// ON DELETE CASCADE
		for k, e := range t.enrollments {
			if e.StudentID == id {
				delete(t.enrollments, k)
			}
		}
		for k, g := range t.grades {
			if g.StudentID == id {
				delete(t.grades, k)
			}
		}
		for k, fg := range t.finalGrades {
			if fg.StudentID == id {
				delete(t.finalGrades, k)
			}
		}
		for k, st := range t.statuses {
			if st.StudentID == id {
				delete(t.statuses, k)
			}
		}
		for k, ur := range t.unlocks {
			if ur.StudentID == id {
				delete(t.unlocks, k)
			}
		}
		for k, m := range t.metadata {
			if m.StudentID == id {
				delete(t.metadata, k)
			}
		}
		for k, d := range t.documents {
			if d.StudentID == id {
				delete(t.documents, k)
			}
		}
		for k, c := range t.certificates {
			if c.StudentID == id {
				delete(t.certificates, k)
			}
		}
		return nil
	})
}

func (repo *studentRepository) LRNExists(_ context.Context, lrn string, excludedIDs ...string) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, s := range t.students {
			if s.LRN == lrn && !excluded(s.ID, excludedIDs) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}
