package sqlxrepos

import (
	"context"
	"sort"

	"github.com/lib/pq"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/school"
)

const (
	schoolYearColumns    = "id, year_code, start_date, end_date, is_active, created_at, updated_at"
	gradingPeriodColumns = "id, school_year_id, period_number, semester, start_date, end_date, is_active, created_at, updated_at"
	subjectColumns       = "id, code, name, description, grade_level, track, created_at, updated_at"
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
	const q = `
		INSERT INTO school_years (` + schoolYearColumns + `)
		VALUES (:id, :year_code, :start_date, :end_date, :is_active, :created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, sy)
	return sy, core.TranslateDBError(err, "inserting school year")
}

func (repo *schoolRepository) QuerySchoolYears(ctx context.Context) ([]school.SchoolYear, error) {
	years := make([]school.SchoolYear, 0)
	err := repo.db.selectAll(ctx, &years, "SELECT "+schoolYearColumns+" FROM school_years ORDER BY start_date DESC")
	return years, core.TranslateDBError(err, "selecting school years")
}

func (repo *schoolRepository) GetSchoolYear(ctx context.Context, id string) (school.SchoolYear, error) {
	var sy school.SchoolYear
	err := repo.db.get(ctx, &sy, "SELECT "+schoolYearColumns+" FROM school_years WHERE id = $1", id)
	return sy, core.TranslateDBError(err, "selecting school year")
}

func (repo *schoolRepository) GetActiveSchoolYear(ctx context.Context) (school.SchoolYear, error) {
	var sy school.SchoolYear
	err := repo.db.get(ctx, &sy, "SELECT "+schoolYearColumns+" FROM school_years WHERE is_active")
	return sy, core.TranslateDBError(err, "selecting active school year")
}

func (repo *schoolRepository) UpdateSchoolYear(ctx context.Context, sy school.SchoolYear) (school.SchoolYear, error) {
	const q = `
		UPDATE school_years SET
			year_code = :year_code, start_date = :start_date, end_date = :end_date,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, sy)
	if err != nil {
		return school.SchoolYear{}, core.TranslateDBError(err, "updating school year")
	}
	if n == 0 {
		return school.SchoolYear{}, core.ErrNotFound
	}
	return sy, nil
}

func (repo *schoolRepository) DeleteSchoolYear(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM school_years WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting school year")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *schoolRepository) DeactivateSchoolYears(ctx context.Context, exceptID string) error {
	_, err := repo.db.exec(
		ctx,
		"UPDATE school_years SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id::text <> $1",
		exceptID,
	)
	return core.TranslateDBError(err, "deactivating school years")
}

func (repo *schoolRepository) YearCodeExists(ctx context.Context, code string) (bool, error) {
	found, err := repo.db.exists(ctx, "SELECT EXISTS (SELECT 1 FROM school_years WHERE year_code = $1)", code)
	return found, core.TranslateDBError(err, "checking year code")
}

// Grading periods

func (repo *schoolRepository) CreateGradingPeriod(ctx context.Context, gp school.GradingPeriod) (school.GradingPeriod, error) {
	const q = `
		INSERT INTO grading_periods (` + gradingPeriodColumns + `)
		VALUES (:id, :school_year_id, :period_number, :semester, :start_date, :end_date, :is_active,
			:created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, gp)
	return gp, core.TranslateDBError(err, "inserting grading period")
}

func (repo *schoolRepository) QueryGradingPeriods(ctx context.Context, schoolYearID string) ([]school.GradingPeriod, error) {
	periods := make([]school.GradingPeriod, 0, 4)
	err := repo.db.selectAll(
		ctx, &periods,
		"SELECT "+gradingPeriodColumns+" FROM grading_periods WHERE school_year_id = $1 ORDER BY period_number",
		schoolYearID,
	)
	return periods, core.TranslateDBError(err, "selecting grading periods")
}

func (repo *schoolRepository) GetGradingPeriod(ctx context.Context, id string) (school.GradingPeriod, error) {
	var gp school.GradingPeriod
	err := repo.db.get(ctx, &gp, "SELECT "+gradingPeriodColumns+" FROM grading_periods WHERE id = $1", id)
	return gp, core.TranslateDBError(err, "selecting grading period")
}

func (repo *schoolRepository) GetGradingPeriodByNumber(ctx context.Context, schoolYearID string, number int) (school.GradingPeriod, error) {
	var gp school.GradingPeriod
	err := repo.db.get(
		ctx, &gp,
		"SELECT "+gradingPeriodColumns+" FROM grading_periods WHERE school_year_id = $1 AND period_number = $2",
		schoolYearID, number,
	)
	return gp, core.TranslateDBError(err, "selecting grading period")
}

func (repo *schoolRepository) UpdateGradingPeriod(ctx context.Context, gp school.GradingPeriod) (school.GradingPeriod, error) {
	const q = `
		UPDATE grading_periods SET
			semester = :semester, start_date = :start_date, end_date = :end_date,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, gp)
	if err != nil {
		return school.GradingPeriod{}, core.TranslateDBError(err, "updating grading period")
	}
	if n == 0 {
		return school.GradingPeriod{}, core.ErrNotFound
	}
	return gp, nil
}

func (repo *schoolRepository) DeactivateGradingPeriods(ctx context.Context, schoolYearID, exceptID string) error {
	_, err := repo.db.exec(
		ctx,
		`UPDATE grading_periods SET is_active = FALSE, updated_at = NOW()
		WHERE school_year_id = $1 AND is_active AND id::text <> $2`,
		schoolYearID, exceptID,
	)
	return core.TranslateDBError(err, "deactivating grading periods")
}

// Subjects

func (repo *schoolRepository) CreateSubject(ctx context.Context, sub school.Subject) (school.Subject, error) {
	const q = `
		INSERT INTO subjects (` + subjectColumns + `)
		VALUES (:id, :code, :name, :description, :grade_level, :track, :created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, sub)
	return sub, core.TranslateDBError(err, "inserting subject")
}

func (repo *schoolRepository) QuerySubjects(ctx context.Context, filter school.SubjectFilter) ([]school.Subject, error) {
	var w where
	if filter.Search != "" {
		s := "%" + filter.Search + "%"
		w.add("(code ILIKE ? OR name ILIKE ?)", s, s)
	}
	if filter.GradeLevel != 0 {
		w.add("grade_level = ?", filter.GradeLevel)
	}
	if filter.Track != "" {
		w.add("lower(track) = lower(?)", filter.Track)
	}

	q, args, err := build("SELECT "+subjectColumns+" FROM subjects"+w.String()+" ORDER BY code", w.args...)
	if err != nil {
		return nil, err
	}
	subjects := make([]school.Subject, 0)
	err = repo.db.selectAll(ctx, &subjects, q, args...)
	return subjects, core.TranslateDBError(err, "selecting subjects")
}

func (repo *schoolRepository) GetSubject(ctx context.Context, id string) (school.Subject, error) {
	var sub school.Subject
	err := repo.db.get(ctx, &sub, "SELECT "+subjectColumns+" FROM subjects WHERE id = $1", id)
	return sub, core.TranslateDBError(err, "selecting subject")
}

func (repo *schoolRepository) UpdateSubject(ctx context.Context, sub school.Subject) (school.Subject, error) {
	const q = `
		UPDATE subjects SET
			code = :code, name = :name, description = :description, grade_level = :grade_level,
			track = :track, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, sub)
	if err != nil {
		return school.Subject{}, core.TranslateDBError(err, "updating subject")
	}
	if n == 0 {
		return school.Subject{}, core.ErrNotFound
	}
	return sub, nil
}

func (repo *schoolRepository) DeleteSubject(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM subjects WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting subject")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *schoolRepository) SubjectCodeExists(ctx context.Context, code string, excludedIDs ...string) (bool, error) {
	found, err := repo.db.exists(
		ctx,
		"SELECT EXISTS (SELECT 1 FROM subjects WHERE lower(code) = lower($1) AND NOT (id::text = ANY($2)))",
		code, pq.Array(excludedIDs),
	)
	return found, core.TranslateDBError(err, "checking subject code")
}

// Settings

type settingRow struct {
	Key       string  `db:"setting_key"`
	Value     string  `db:"setting_value"`
	UpdatedBy *string `db:"updated_by"`
}

func (repo *schoolRepository) GetSettingValues(ctx context.Context) (map[string]string, error) {
	var rows []settingRow
	if err := repo.db.selectAll(ctx, &rows, "SELECT setting_key, setting_value, updated_by FROM system_settings"); err != nil {
		return nil, core.TranslateDBError(err, "selecting settings")
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return values, nil
}

func (repo *schoolRepository) UpsertSettingValues(ctx context.Context, values map[string]string, updatedBy string) error {
	const q = `
		INSERT INTO system_settings (setting_key, setting_value, updated_by, updated_at)
		VALUES ($1, $2, NULLIF($3, '')::UUID, NOW())
		ON CONFLICT (setting_key) DO UPDATE
		SET setting_value = EXCLUDED.setting_value, updated_by = EXCLUDED.updated_by, updated_at = NOW()`

	// rows are locked in key order
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return repo.db.WithinTx(ctx, func(ctx context.Context) error {
		for _, k := range keys {
			if _, err := repo.db.exec(ctx, q, k, values[k], updatedBy); err != nil {
				return core.TranslateDBError(err, "upserting setting "+k)
			}
		}
		return nil
	})
}
