package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db}
}

// School years

func (repo *schoolRepository) CreateSchoolYear(ctx context.Context, sy school.SchoolYear) (school.SchoolYear, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, y := range t.schoolYears {
			if y.YearCode == sy.YearCode || (sy.IsActive && y.IsActive) {
				return errDuplicate
			}
		}
		t.schoolYears[sy.ID] = sy
		return nil
	})
	return sy, err
}

func (repo *schoolRepository) QuerySchoolYears(context.Context) ([]school.SchoolYear, error) {
	years := make([]school.SchoolYear, 0)
	repo.db.read(func(t *tables) {
		for _, y := range t.schoolYears {
			years = append(years, y)
		}
	})
	sort.Slice(years, func(i, j int) bool { return years[i].StartDate.After(years[j].StartDate) })
	return years, nil
}

func (repo *schoolRepository) GetSchoolYear(_ context.Context, id string) (school.SchoolYear, error) {
	var (
		sy school.SchoolYear
		ok bool
	)
	repo.db.read(func(t *tables) { sy, ok = t.schoolYears[id] })
	if !ok {
		return school.SchoolYear{}, core.ErrNotFound
	}
	return sy, nil
}

func (repo *schoolRepository) GetActiveSchoolYear(context.Context) (school.SchoolYear, error) {
	var (
		sy school.SchoolYear
		ok bool
	)
	repo.db.read(func(t *tables) {
		for _, y := range t.schoolYears {
			if y.IsActive {
				sy, ok = y, true
				return
			}
		}
	})
	if !ok {
		return school.SchoolYear{}, core.ErrNotFound
	}
	return sy, nil
}

func (repo *schoolRepository) UpdateSchoolYear(ctx context.Context, sy school.SchoolYear) (school.SchoolYear, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.schoolYears[sy.ID]; !ok {
			return core.ErrNotFound
		}
		for _, y := range t.schoolYears {
			if y.ID != sy.ID && (y.YearCode == sy.YearCode || (sy.IsActive && y.IsActive)) {
				return errDuplicate
			}
		}
		t.schoolYears[sy.ID] = sy
		return nil
	})
	return sy, err
}

func (repo *schoolRepository) DeleteSchoolYear(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.schoolYears[id]; !ok {
			return core.ErrNotFound
		}
		for _, c := range t.classes {
			if c.SchoolYearID == id {
				return errRestrict
			}
		}
		for _, g := range t.grades {
			if g.SchoolYearID == id {
				return errRestrict
			}
		}
		for _, c := range t.certificates {
			if c.SchoolYearID == id {
				return errRestrict
			}
		}
		delete(t.schoolYears, id)
		for pid, p := range t.periods {
			if p.SchoolYearID == id {
				delete(t.periods, pid)
			}
		}
		return nil
	})
}

func (repo *schoolRepository) DeactivateSchoolYears(ctx context.Context, exceptID string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for id, y := range t.schoolYears {
			if id != exceptID && y.IsActive {
				y.IsActive = false
				t.schoolYears[id] = y
			}
		}
		return nil
	})
}

func (repo *schoolRepository) YearCodeExists(_ context.Context, code string) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, y := range t.schoolYears {
			if y.YearCode == code {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

// Grading periods

func (repo *schoolRepository) CreateGradingPeriod(ctx context.Context, gp school.GradingPeriod) (school.GradingPeriod, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.schoolYears[gp.SchoolYearID]; !ok {
			return core.NewFieldError("school_year_id", "school year does not exist")
		}
		for _, p := range t.periods {
			if p.SchoolYearID == gp.SchoolYearID && p.PeriodNumber == gp.PeriodNumber {
				return errDuplicate
			}
		}
		t.periods[gp.ID] = gp
		return nil
	})
	return gp, err
}

func (repo *schoolRepository) QueryGradingPeriods(_ context.Context, schoolYearID string) ([]school.GradingPeriod, error) {
	periods := make([]school.GradingPeriod, 0, 4)
	repo.db.read(func(t *tables) {
		for _, p := range t.periods {
			if p.SchoolYearID == schoolYearID {
				periods = append(periods, p)
			}
		}
	})
	sort.Slice(periods, func(i, j int) bool { return periods[i].PeriodNumber < periods[j].PeriodNumber })
	return periods, nil
}

func (repo *schoolRepository) GetGradingPeriod(_ context.Context, id string) (school.GradingPeriod, error) {
	var (
		gp school.GradingPeriod
		ok bool
	)
	repo.db.read(func(t *tables) { gp, ok = t.periods[id] })
	if !ok {
		return school.GradingPeriod{}, core.ErrNotFound
	}
	return gp, nil
}

func (repo *schoolRepository) GetGradingPeriodByNumber(_ context.Context, schoolYearID string, number int) (school.GradingPeriod, error) {
	var (
		gp school.GradingPeriod
		ok bool
	)
	repo.db.read(func(t *tables) {
		for _, p := range t.periods {
			if p.SchoolYearID == schoolYearID && p.PeriodNumber == number {
				gp, ok = p, true
				return
			}
		}
	})
	if !ok {
		return school.GradingPeriod{}, core.ErrNotFound
	}
	return gp, nil
}

func (repo *schoolRepository) UpdateGradingPeriod(ctx context.Context, gp school.GradingPeriod) (school.GradingPeriod, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.periods[gp.ID]; !ok {
			return core.ErrNotFound
		}
		t.periods[gp.ID] = gp
		return nil
	})
	return gp, err
}

func (repo *schoolRepository) DeactivateGradingPeriods(ctx context.Context, schoolYearID, exceptID string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for id, p := range t.periods {
			if p.SchoolYearID == schoolYearID && id != exceptID && p.IsActive {
				p.IsActive = false
				t.periods[id] = p
			}
		}
		return nil
	})
}

// Subjects

func (repo *schoolRepository) CreateSubject(ctx context.Context, sub school.Subject) (school.Subject, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, s := range t.subjects {
			if strings.EqualFold(s.Code, sub.Code) {
				return errDuplicate
			}
		}
		t.subjects[sub.ID] = sub
		return nil
	})
	return sub, err
}

func (repo *schoolRepository) QuerySubjects(_ context.Context, filter school.SubjectFilter) ([]school.Subject, error) {
	search := strings.ToLower(filter.Search)
	subjects := make([]school.Subject, 0)
	repo.db.read(func(t *tables) {
		for _, s := range t.subjects {
			if search != "" && !strings.Contains(strings.ToLower(s.Code), search) && !strings.Contains(strings.ToLower(s.Name), search) {
				continue
			}
			if filter.GradeLevel != 0 && (!s.GradeLevel.Valid || s.GradeLevel.Int != filter.GradeLevel) {
				continue
			}
			if filter.Track != "" && !strings.EqualFold(s.Track, filter.Track) {
				continue
			}
			subjects = append(subjects, s)
		}
	})
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Code < subjects[j].Code })
	return subjects, nil
}

func (repo *schoolRepository) GetSubject(_ context.Context, id string) (school.Subject, error) {
	var (
		sub school.Subject
		ok  bool
	)
	repo.db.read(func(t *tables) { sub, ok = t.subjects[id] })
	if !ok {
		return school.Subject{}, core.ErrNotFound
	}
	return sub, nil
}

func (repo *schoolRepository) UpdateSubject(ctx context.Context, sub school.Subject) (school.Subject, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.subjects[sub.ID]; !ok {
			return core.ErrNotFound
		}
		for _, s := range t.subjects {
			if s.ID != sub.ID && strings.EqualFold(s.Code, sub.Code) {
				return errDuplicate
			}
		}
		t.subjects[sub.ID] = sub
		return nil
	})
	return sub, err
}

func (repo *schoolRepository) DeleteSubject(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.subjects[id]; !ok {
			return core.ErrNotFound
		}
		for _, c := range t.classes {
			if c.SubjectID == id {
				return errRestrict
			}
		}
		for _, g := range t.grades {
			if g.SubjectID == id {
				return errRestrict
			}
		}
		delete(t.subjects, id)
		return nil
	})
}

func (repo *schoolRepository) SubjectCodeExists(_ context.Context, code string, excludedIDs ...string) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, s := range t.subjects {
			if strings.EqualFold(s.Code, code) && !excluded(s.ID, excludedIDs) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}

// Settings

func (repo *schoolRepository) GetSettingValues(context.Context) (map[string]string, error) {
	var values map[string]string
	repo.db.read(func(t *tables) {
		values = make(map[string]string, len(t.settings))
		for k, v := range t.settings {
			values[k] = v
		}
	})
	return values, nil
}

func (repo *schoolRepository) UpsertSettingValues(ctx context.Context, values map[string]string, _ string) error {
	return repo.db.write(ctx, func(t *tables) error {
		for k, v := range values {
			t.settings[k] = v
		}
		return nil
	})
}
