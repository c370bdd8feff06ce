package inmemdb

import (
	"context"
	"sort"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/class"
)

type classRepository struct {
	db *DB
}

var _ class.Repository = (*classRepository)(nil)

func NewClassRepository(db *DB) class.Repository {
	return &classRepository{db: db}
}

func sameClass(a, b class.Class) bool {
	return a.TeacherID == b.TeacherID && a.SubjectID == b.SubjectID && a.Section == b.Section &&
		a.SchoolYearID == b.SchoolYearID && a.GradingPeriod == b.GradingPeriod
}

func (repo *classRepository) CreateClass(ctx context.Context, c class.Class) (class.Class, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, o := range t.classes {
			if c.TeacherID.Valid && sameClass(o, c) {
				return errDuplicate
			}
		}
		t.classes[c.ID] = c
		return nil
	})
	return c, err
}

func (repo *classRepository) QueryClasses(_ context.Context, filter class.Filter) ([]class.Class, error) {
	classes := make([]class.Class, 0)
	repo.db.read(func(t *tables) {
		for _, c := range t.classes {
			if filter.TeacherID != "" && (!c.TeacherID.Valid || c.TeacherID.String != filter.TeacherID) {
				continue
			}
			if filter.SchoolYearID != "" && c.SchoolYearID != filter.SchoolYearID {
				continue
			}
			if filter.SubjectID != "" && c.SubjectID != filter.SubjectID {
				continue
			}
			if filter.Section != "" && c.Section != filter.Section {
				continue
			}
			if filter.GradingPeriod != 0 && c.GradingPeriod != filter.GradingPeriod {
				continue
			}
			classes = append(classes, c)
		}
	})
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Section != classes[j].Section {
			return classes[i].Section < classes[j].Section
		}
		if classes[i].GradingPeriod != classes[j].GradingPeriod {
			return classes[i].GradingPeriod < classes[j].GradingPeriod
		}
		return classes[i].CreatedAt.Before(classes[j].CreatedAt)
	})
	return classes, nil
}

func (repo *classRepository) GetClass(_ context.Context, id string) (class.Class, error) {
	var (
		c  class.Class
		ok bool
	)
	repo.db.read(func(t *tables) { c, ok = t.classes[id] })
	if !ok {
		return class.Class{}, core.ErrNotFound
	}
	return c, nil
}

// LockClass needs no row lock: in-memory transactions are serialized.
func (repo *classRepository) LockClass(ctx context.Context, id string) (class.Class, error) {
	return repo.GetClass(ctx, id)
}

func (repo *classRepository) UpdateClass(ctx context.Context, c class.Class) (class.Class, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.classes[c.ID]; !ok {
			return core.ErrNotFound
		}
		for _, o := range t.classes {
			if o.ID != c.ID && c.TeacherID.Valid && sameClass(o, c) {
				return errDuplicate
			}
		}
		t.classes[c.ID] = c
		return nil
	})
	return c, err
}

func (repo *classRepository) DeleteClass(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.classes[id]; !ok {
			return core.ErrNotFound
		}
		delete(t.classes, id)
		for k, e := range t.enrollments {
			if e.ClassID == id {
				delete(t.enrollments, k)
			}
		}
		for k, g := range t.grades {
			if g.ClassID.Valid && g.ClassID.String == id {
				g.ClassID.Valid = false
				g.ClassID.String = ""
				t.grades[k] = g
			}
		}
		return nil
	})
}

func (repo *classRepository) ClassExists(_ context.Context, c class.Class) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, o := range t.classes {
			if o.ID != c.ID && sameClass(o, c) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

func (repo *classRepository) CreateEnrollment(ctx context.Context, e class.Enrollment) (class.Enrollment, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.classes[e.ClassID]; !ok {
			return core.ErrNotFound
		}
		if _, ok := t.students[e.StudentID]; !ok {
			return core.NewFieldError("student_id", "student does not exist")
		}
		for _, o := range t.enrollments {
			if o.ClassID == e.ClassID && o.StudentID == e.StudentID {
				return errDuplicate
			}
		}
		t.enrollments[e.ID] = e
		return nil
	})
	return e, err
}

func (repo *classRepository) DeleteEnrollment(ctx context.Context, classID, studentID string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for k, e := range t.enrollments {
			if e.ClassID == classID && e.StudentID == studentID {
				delete(t.enrollments, k)
				return nil
			}
		}
		return core.ErrNotFound
	})
}

func (repo *classRepository) QueryEnrollments(_ context.Context, classID string) ([]class.Enrollment, error) {
	enrollments := make([]class.Enrollment, 0)
	repo.db.read(func(t *tables) {
		for _, e := range t.enrollments {
			if e.ClassID == classID {
				enrollments = append(enrollments, e)
			}
		}
	})
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].EnrolledAt.Before(enrollments[j].EnrolledAt) })
	return enrollments, nil
}

func (repo *classRepository) CountEnrollments(_ context.Context, classIDs ...string) (map[string]int, error) {
	counts := make(map[string]int, len(classIDs))
	repo.db.read(func(t *tables) {
		for _, e := range t.enrollments {
			if contains(classIDs, e.ClassID) {
				counts[e.ClassID]++
			}
		}
	})
	return counts, nil
}
