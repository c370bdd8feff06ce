package school

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/grading"
)

const settingsCacheKey = "settings:all"

var (
	ErrYearCodeExists     = core.NewConflictError("a school year with this code already exists")
	ErrSubjectCodeExists  = core.NewConflictError("a subject with this code already exists")
	ErrPeriodExists       = core.NewConflictError("this grading period already exists for the school year")
	ErrNoActiveSchoolYear = errors.Wrap(core.ErrNotFound, "no active school year")
)

type (
	Repository interface {
		CreateSchoolYear(ctx context.Context, sy SchoolYear) (SchoolYear, error)
		QuerySchoolYears(ctx context.Context) ([]SchoolYear, error)
		GetSchoolYear(ctx context.Context, id string) (SchoolYear, error)
		GetActiveSchoolYear(ctx context.Context) (SchoolYear, error)
		UpdateSchoolYear(ctx context.Context, sy SchoolYear) (SchoolYear, error)
		DeleteSchoolYear(ctx context.Context, id string) error
		// DeactivateSchoolYears clears is_active on every school year but exceptID.
		DeactivateSchoolYears(ctx context.Context, exceptID string) error
		YearCodeExists(ctx context.Context, code string) (bool, error)

		CreateGradingPeriod(ctx context.Context, gp GradingPeriod) (GradingPeriod, error)
		QueryGradingPeriods(ctx context.Context, schoolYearID string) ([]GradingPeriod, error)
		GetGradingPeriod(ctx context.Context, id string) (GradingPeriod, error)
		GetGradingPeriodByNumber(ctx context.Context, schoolYearID string, number int) (GradingPeriod, error)
		UpdateGradingPeriod(ctx context.Context, gp GradingPeriod) (GradingPeriod, error)
		DeactivateGradingPeriods(ctx context.Context, schoolYearID, exceptID string) error

		CreateSubject(ctx context.Context, sub Subject) (Subject, error)
		QuerySubjects(ctx context.Context, filter SubjectFilter) ([]Subject, error)
		GetSubject(ctx context.Context, id string) (Subject, error)
		UpdateSubject(ctx context.Context, sub Subject) (Subject, error)
		DeleteSubject(ctx context.Context, id string) error
		SubjectCodeExists(ctx context.Context, code string, excludedIDs ...string) (bool, error)

		GetSettingValues(ctx context.Context) (map[string]string, error)
		UpsertSettingValues(ctx context.Context, values map[string]string, updatedBy string) error
	}

	Service struct {
		repo     Repository
		tx       core.Transactor
		cache    core.Cache
		cacheTTL time.Duration
		audit    audit.Recorder
		defaults grading.Policy
		logger   core.Logger
	}
)

func NewService(repo Repository, tx core.Transactor, cache core.Cache, auditor audit.Recorder, conf *core.Config, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		tx:       tx,
		cache:    cache,
		cacheTTL: conf.Redis.CacheTTL,
		audit:    auditor,
		defaults: PolicyFromConfig(conf.Grading),
		logger:   logger,
	}
}

// PolicyFromConfig builds the fallback grading policy.
func PolicyFromConfig(gc core.GradingConfig) grading.Policy {
	p := grading.Policy{
		Weights: grading.Weights{
			WrittenWork:         gc.WrittenWorkWeight,
			PerformanceTask:     gc.PerformanceTaskWeight,
			QuarterlyAssessment: gc.QuarterlyAssessmentWeight,
		},
		PassingGrade:           gc.PassingGrade,
		HonorsThreshold:        gc.HonorsThreshold,
		HighHonorsThreshold:    gc.HighHonorsThreshold,
		HighestHonorsThreshold: gc.HighestHonorsThreshold,
	}
	if p.Validate() != nil {
		return grading.DefaultPolicy()
	}
	return p
}

// School years

func (svc *Service) CreateSchoolYear(ctx context.Context, ny NewSchoolYear, actorID string) (SchoolYear, error) {
	exists, err := svc.repo.YearCodeExists(ctx, ny.YearCode)
	if err != nil {
		return SchoolYear{}, errors.Wrap(err, "checking year code")
	}
	if exists {
		return SchoolYear{}, ErrYearCodeExists
	}

	now := time.Now().UTC()
	sy := SchoolYear{
		ID:        uuid.New().String(),
		YearCode:  ny.YearCode,
		StartDate: ny.StartDate,
		EndDate:   ny.EndDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if sy, err = svc.repo.CreateSchoolYear(ctx, sy); err != nil {
			return errors.Wrap(err, "inserting school year")
		}
		if err = svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionSchoolYearCreated, "school_years", sy.ID).WithNew(sy)); err != nil {
			return err
		}
		if ny.IsActive {
			sy, err = svc.activateSchoolYear(ctx, sy, actorID)
		}
		return err
	})
	return sy, err
}

func (svc *Service) QuerySchoolYears(ctx context.Context) ([]SchoolYear, error) {
	return svc.repo.QuerySchoolYears(ctx)
}

func (svc *Service) GetSchoolYear(ctx context.Context, id string) (SchoolYear, error) {
	if _, err := uuid.Parse(id); err != nil {
		return SchoolYear{}, core.ErrNotFound
	}
	return svc.repo.GetSchoolYear(ctx, id)
}

func (svc *Service) ActiveSchoolYear(ctx context.Context) (SchoolYear, error) {
	sy, err := svc.repo.GetActiveSchoolYear(ctx)
	if errors.Cause(err) == core.ErrNotFound {
		return SchoolYear{}, ErrNoActiveSchoolYear
	}
	return sy, err
}

func (svc *Service) UpdateSchoolYear(ctx context.Context, sy SchoolYear, uy UpdateSchoolYear, actorID string) (SchoolYear, error) {
	old := sy
	sy.StartDate = uy.StartDate
	sy.EndDate = uy.EndDate
	sy.UpdatedAt = time.Now().UTC()
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if sy, err = svc.repo.UpdateSchoolYear(ctx, sy); err != nil {
			return errors.Wrap(err, "updating school year")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionSchoolYearUpdated, "school_years", sy.ID).WithOld(old).WithNew(sy))
	})
	return sy, err
}

func (svc *Service) DeleteSchoolYear(ctx context.Context, id, actorID string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteSchoolYear(ctx, id); err != nil {
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionSchoolYearDeleted, "school_years", id))
	})
}

// SetActiveSchoolYear makes id the only active school year.
func (svc *Service) SetActiveSchoolYear(ctx context.Context, id, actorID string) (SchoolYear, error) {
	var sy SchoolYear
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if sy, err = svc.GetSchoolYear(ctx, id); err != nil {
			return err
		}
		sy, err = svc.activateSchoolYear(ctx, sy, actorID)
		return err
	})
	return sy, err
}

func (svc *Service) activateSchoolYear(ctx context.Context, sy SchoolYear, actorID string) (SchoolYear, error) {
	if err := svc.repo.DeactivateSchoolYears(ctx, sy.ID); err != nil {
		return SchoolYear{}, errors.Wrap(err, "deactivating school years")
	}
	sy.IsActive = true
	sy.UpdatedAt = time.Now().UTC()
	sy, err := svc.repo.UpdateSchoolYear(ctx, sy)
	if err != nil {
		return SchoolYear{}, errors.Wrap(err, "activating school year")
	}
	return sy, svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionSchoolYearActive, "school_years", sy.ID))
}

// Grading periods

func (svc *Service) CreateGradingPeriod(ctx context.Context, np NewGradingPeriod, actorID string) (GradingPeriod, error) {
	if _, err := svc.GetSchoolYear(ctx, np.SchoolYearID); err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return GradingPeriod{}, core.NewFieldError("school_year_id", "school year does not exist")
		}
		return GradingPeriod{}, err
	}
	if _, err := svc.repo.GetGradingPeriodByNumber(ctx, np.SchoolYearID, np.PeriodNumber); err == nil {
		return GradingPeriod{}, ErrPeriodExists
	} else if errors.Cause(err) != core.ErrNotFound {
		return GradingPeriod{}, err
	}

	now := time.Now().UTC()
	gp := GradingPeriod{
		ID:           uuid.New().String(),
		SchoolYearID: np.SchoolYearID,
		PeriodNumber: np.PeriodNumber,
		Semester:     grading.SemesterOf(np.PeriodNumber),
		StartDate:    np.StartDate,
		EndDate:      np.EndDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if gp, err = svc.repo.CreateGradingPeriod(ctx, gp); err != nil {
			return errors.Wrap(err, "inserting grading period")
		}
		if np.IsActive {
			gp, err = svc.activateGradingPeriod(ctx, gp, actorID)
		}
		return err
	})
	return gp, err
}

func (svc *Service) QueryGradingPeriods(ctx context.Context, schoolYearID string) ([]GradingPeriod, error) {
	return svc.repo.QueryGradingPeriods(ctx, schoolYearID)
}

func (svc *Service) GetGradingPeriod(ctx context.Context, id string) (GradingPeriod, error) {
	if _, err := uuid.Parse(id); err != nil {
		return GradingPeriod{}, core.ErrNotFound
	}
	return svc.repo.GetGradingPeriod(ctx, id)
}

// GradingPeriodByNumber resolves a quarter of a school year.
func (svc *Service) GradingPeriodByNumber(ctx context.Context, schoolYearID string, number int) (GradingPeriod, error) {
	return svc.repo.GetGradingPeriodByNumber(ctx, schoolYearID, number)
}

// SetActiveGradingPeriod makes id the only active period of its school year.
func (svc *Service) SetActiveGradingPeriod(ctx context.Context, id, actorID string) (GradingPeriod, error) {
	var gp GradingPeriod
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if gp, err = svc.GetGradingPeriod(ctx, id); err != nil {
			return err
		}
		gp, err = svc.activateGradingPeriod(ctx, gp, actorID)
		return err
	})
	return gp, err
}

func (svc *Service) activateGradingPeriod(ctx context.Context, gp GradingPeriod, actorID string) (GradingPeriod, error) {
	if err := svc.repo.DeactivateGradingPeriods(ctx, gp.SchoolYearID, gp.ID); err != nil {
		return GradingPeriod{}, errors.Wrap(err, "deactivating grading periods")
	}
	gp.IsActive = true
	gp.UpdatedAt = time.Now().UTC()
	gp, err := svc.repo.UpdateGradingPeriod(ctx, gp)
	if err != nil {
		return GradingPeriod{}, errors.Wrap(err, "activating grading period")
	}
	return gp, svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionPeriodActive, "grading_periods", gp.ID))
}

// Subjects

func (svc *Service) CreateSubject(ctx context.Context, ns NewSubject) (Subject, error) {
	exists, err := svc.repo.SubjectCodeExists(ctx, ns.Code)
	if err != nil {
		return Subject{}, errors.Wrap(err, "checking subject code")
	}
	if exists {
		return Subject{}, ErrSubjectCodeExists
	}

	now := time.Now().UTC()
	return svc.repo.CreateSubject(ctx, Subject{
		ID:          uuid.New().String(),
		Code:        ns.Code,
		Name:        ns.Name,
		Description: ns.Description,
		GradeLevel:  ns.GradeLevel,
		Track:       ns.Track,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) QuerySubjects(ctx context.Context, filter SubjectFilter) ([]Subject, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QuerySubjects(ctx, filter)
}

func (svc *Service) GetSubject(ctx context.Context, id string) (Subject, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Subject{}, core.ErrNotFound
	}
	return svc.repo.GetSubject(ctx, id)
}

func (svc *Service) UpdateSubject(ctx context.Context, sub Subject, us NewSubject) (Subject, error) {
	if us.Code != sub.Code {
		exists, err := svc.repo.SubjectCodeExists(ctx, us.Code, sub.ID)
		if err != nil {
			return Subject{}, errors.Wrap(err, "checking subject code")
		}
		if exists {
			return Subject{}, ErrSubjectCodeExists
		}
	}
	sub.Code = us.Code
	sub.Name = us.Name
	sub.Description = us.Description
	sub.GradeLevel = us.GradeLevel
	sub.Track = us.Track
	sub.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSubject(ctx, sub)
}

func (svc *Service) DeleteSubject(ctx context.Context, id string) error {
	return svc.repo.DeleteSubject(ctx, id)
}

// Settings

// Settings returns the system settings, from the cache when possible.
func (svc *Service) Settings(ctx context.Context) (Settings, error) {
	if raw, err := svc.cache.Get(ctx, settingsCacheKey); err == nil {
		var s Settings
		if err = json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
	} else if err != core.ErrCacheMiss {
		svc.logger.Warn("reading settings cache", err)
	}

	values, err := svc.repo.GetSettingValues(ctx)
	if err != nil {
		return Settings{}, errors.Wrap(err, "reading settings")
	}
	s := settingsFromValues(values, svc.defaults)
	if s.Policy.Validate() != nil {
		svc.logger.Warn("stored grading policy is invalid; using defaults")
		s.Policy = svc.defaults
	}

	if raw, err := json.Marshal(s); err == nil {
		if err = svc.cache.Set(ctx, settingsCacheKey, raw, svc.cacheTTL); err != nil {
			svc.logger.Warn("writing settings cache", err)
		}
	}
	return s, nil
}

// GradingPolicy returns the grading rules currently in effect.
func (svc *Service) GradingPolicy(ctx context.Context) (grading.Policy, error) {
	s, err := svc.Settings(ctx)
	if err != nil {
		return grading.Policy{}, err
	}
	return s.GradingPolicy(), nil
}

// UpdateSettings validates and stores us, then drops the cached settings.
func (svc *Service) UpdateSettings(ctx context.Context, us UpdateSettings, actorID string) (Settings, error) {
	current, err := svc.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := us.Validate(current)
	if err != nil {
		return Settings{}, err
	}

	cleaned := make(map[string]string, len(us))
	for k, v := range us {
		cleaned[k] = core.CleanString(v)
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.UpsertSettingValues(ctx, cleaned, actorID); err != nil {
			return errors.Wrap(err, "saving settings")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionSettingsUpdated, "system_settings", "").
			WithOld(current).WithNew(cleaned))
	})
	if err != nil {
		return Settings{}, err
	}

	if err = svc.cache.Delete(ctx, settingsCacheKey); err != nil {
		svc.logger.Warn("invalidating settings cache", err)
	}
	return next, nil
}
