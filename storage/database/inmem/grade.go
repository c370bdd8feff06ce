package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grade"
)

type gradeRepository struct {
	db *DB
}

var _ grade.Repository = (*gradeRepository)(nil)

func NewGradeRepository(db *DB) grade.Repository {
	return &gradeRepository{db: db}
}

// Grades

func (repo *gradeRepository) GetGrade(_ context.Context, studentID, subjectID, gradingPeriodID string) (grade.Grade, error) {
	var (
		g  grade.Grade
		ok bool
	)
	repo.db.read(func(t *tables) {
		for _, o := range t.grades {
			if o.StudentID == studentID && o.SubjectID == subjectID && o.GradingPeriodID == gradingPeriodID {
				g, ok = o, true
				return
			}
		}
	})
	if !ok {
		return grade.Grade{}, core.ErrNotFound
	}
	return g, nil
}

// UpsertGrade replaces the grade of the same student, subject and period, keeping its ID and creation time.
func (repo *gradeRepository) UpsertGrade(ctx context.Context, g grade.Grade) (grade.Grade, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for id, o := range t.grades {
			if o.StudentID == g.StudentID && o.SubjectID == g.SubjectID && o.GradingPeriodID == g.GradingPeriodID {
				g.ID, g.CreatedAt = id, o.CreatedAt
				break
			}
		}
		t.grades[g.ID] = g
		return nil
	})
	return g, err
}

func (repo *gradeRepository) QueryGrades(_ context.Context, filter grade.GradeFilter) ([]grade.Grade, error) {
	grades := make([]grade.Grade, 0)
	repo.db.read(func(t *tables) {
		for _, g := range t.grades {
			if filter.StudentIDs != nil && !contains(filter.StudentIDs, g.StudentID) {
				continue
			}
			if filter.SubjectID != "" && g.SubjectID != filter.SubjectID {
				continue
			}
			if filter.SchoolYearID != "" && g.SchoolYearID != filter.SchoolYearID {
				continue
			}
			if filter.GradingPeriodIDs != nil && !contains(filter.GradingPeriodIDs, g.GradingPeriodID) {
				continue
			}
			grades = append(grades, g)
		}
	})
	sort.Slice(grades, func(i, j int) bool { return grades[i].CreatedAt.Before(grades[j].CreatedAt) })
	return grades, nil
}

// Final grades

func (repo *gradeRepository) UpsertFinalGrade(ctx context.Context, fg grade.FinalGrade) (grade.FinalGrade, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for id, o := range t.finalGrades {
			if o.StudentID == fg.StudentID && o.SubjectID == fg.SubjectID && o.SchoolYearID == fg.SchoolYearID && o.Semester == fg.Semester {
				fg.ID = id
				break
			}
		}
		t.finalGrades[fg.ID] = fg
		return nil
	})
	return fg, err
}

func (repo *gradeRepository) QueryFinalGrades(_ context.Context, studentID, schoolYearID string, semester int) ([]grade.FinalGrade, error) {
	finals := make([]grade.FinalGrade, 0)
	repo.db.read(func(t *tables) {
		for _, fg := range t.finalGrades {
			if fg.StudentID != studentID || fg.SchoolYearID != schoolYearID {
				continue
			}
			if semester != 0 && fg.Semester != semester {
				continue
			}
			finals = append(finals, fg)
		}
	})
	sort.Slice(finals, func(i, j int) bool {
		if finals[i].Semester != finals[j].Semester {
			return finals[i].Semester < finals[j].Semester
		}
		return finals[i].SubjectID < finals[j].SubjectID
	})
	return finals, nil
}

// Finalization status

func (repo *gradeRepository) LockFinalizationStatus(ctx context.Context, studentID, schoolYearID string, semester int) (grade.FinalizationStatus, error) {
	var status grade.FinalizationStatus
	err := repo.db.write(ctx, func(t *tables) error {
		for _, st := range t.statuses {
			if st.StudentID == studentID && st.SchoolYearID == schoolYearID && st.Semester == semester {
				status = st
				return nil
			}
		}
		status = grade.FinalizationStatus{
			ID:           uuid.New().String(),
			StudentID:    studentID,
			SchoolYearID: schoolYearID,
			Semester:     semester,
			UpdatedAt:    time.Now().UTC(),
		}
		t.statuses[status.ID] = status
		return nil
	})
	return status, err
}

func (repo *gradeRepository) UpdateFinalizationStatus(ctx context.Context, fs grade.FinalizationStatus) (grade.FinalizationStatus, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.statuses[fs.ID]; !ok {
			return core.ErrNotFound
		}
		t.statuses[fs.ID] = fs
		return nil
	})
	return fs, err
}

func (repo *gradeRepository) QueryFinalizationStatuses(_ context.Context, filter grade.StatusFilter) ([]grade.FinalizationStatus, error) {
	statuses := make([]grade.FinalizationStatus, 0)
	repo.db.read(func(t *tables) {
		for _, st := range t.statuses {
			if filter.StudentIDs != nil && !contains(filter.StudentIDs, st.StudentID) {
				continue
			}
			if filter.SchoolYearID != "" && st.SchoolYearID != filter.SchoolYearID {
				continue
			}
			if filter.Semester != 0 && st.Semester != filter.Semester {
				continue
			}
			statuses = append(statuses, st)
		}
	})
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Semester < statuses[j].Semester })
	return statuses, nil
}

// Unlock requests

func (repo *gradeRepository) CreateUnlockRequest(ctx context.Context, ur grade.UnlockRequest) (grade.UnlockRequest, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if ur.Status == grade.StatusPending {
			for _, o := range t.unlocks {
				if o.Status == grade.StatusPending && o.StudentID == ur.StudentID &&
					o.SchoolYearID == ur.SchoolYearID && o.Semester == ur.Semester {
					return errDuplicate
				}
			}
		}
		t.unlocks[ur.ID] = ur
		return nil
	})
	return ur, err
}

func (repo *gradeRepository) GetUnlockRequest(_ context.Context, id string) (grade.UnlockRequest, error) {
	var (
		ur grade.UnlockRequest
		ok bool
	)
	repo.db.read(func(t *tables) { ur, ok = t.unlocks[id] })
	if !ok {
		return grade.UnlockRequest{}, core.ErrNotFound
	}
	return ur, nil
}

func (repo *gradeRepository) UpdateUnlockRequest(ctx context.Context, ur grade.UnlockRequest) (grade.UnlockRequest, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.unlocks[ur.ID]; !ok {
			return core.ErrNotFound
		}
		t.unlocks[ur.ID] = ur
		return nil
	})
	return ur, err
}

func (repo *gradeRepository) QueryUnlockRequests(_ context.Context, filter grade.UnlockFilter) ([]grade.UnlockRequest, error) {
	reqs := make([]grade.UnlockRequest, 0)
	repo.db.read(func(t *tables) {
		for _, ur := range t.unlocks {
			if filter.Status != "" && ur.Status != filter.Status {
				continue
			}
			if filter.StudentID != "" && ur.StudentID != filter.StudentID {
				continue
			}
			if filter.RequestedBy != "" && (!ur.RequestedBy.Valid || ur.RequestedBy.String != filter.RequestedBy) {
				continue
			}
			reqs = append(reqs, ur)
		}
	})
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.After(reqs[j].CreatedAt) })
	return reqs, nil
}

func (repo *gradeRepository) PendingUnlockExists(_ context.Context, studentID, schoolYearID string, semester int) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, ur := range t.unlocks {
			if ur.Status == grade.StatusPending && ur.StudentID == studentID &&
				ur.SchoolYearID == schoolYearID && ur.Semester == semester {
				exists = true
				return
			}
		}
	})
	return exists, nil
}
