package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
)

type (
	seedYear struct {
		school.NewSchoolYear `yaml:",inline"`
		Periods              []school.NewGradingPeriod `yaml:"periods"`
	}

	// seedFile is the layout of a seed YAML file.
	seedFile struct {
		Settings    school.UpdateSettings `yaml:"settings"`
		SchoolYears []seedYear            `yaml:"school_years"`
		Subjects    []school.NewSubject   `yaml:"subjects"`
		Students    []student.NewStudent  `yaml:"students"`
	}

	seedStats struct {
		years, periods, subjects, students, skipped int
	}
)

func loadSeedFile(path string) (seedFile, error) {
	var sf seedFile
	f, err := os.Open(path)
	if err != nil {
		return sf, errors.Wrap(err, "opening seed file")
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&sf); err != nil {
		return sf, errors.Wrap(err, "decoding seed file")
	}
	return sf, nil
}

// seed loads a seed file. Records that already exist (same year code, period, subject code or LRN) are skipped.
func (cli *commandLine) seed(ctx context.Context, path string, reset bool) error {
	sf, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	if reset {
		if err = resetFunc(ctx, cli.db); err != nil {
			return err
		}
	}

	var stats seedStats
	if len(sf.Settings) > 0 {
		if _, err = cli.school.UpdateSettings(ctx, sf.Settings, ""); err != nil {
			return errors.Wrap(err, "updating settings")
		}
	}
	if err = cli.seedYears(ctx, sf.SchoolYears, &stats); err != nil {
		return err
	}
	for _, ns := range sf.Subjects {
		ns := ns
		if err = ns.Validate(cli.validate); err != nil {
			return errors.Wrapf(err, "subject %q", ns.Code)
		}
		if _, err = cli.school.CreateSubject(ctx, ns); err != nil {
			if core.IsConflict(err) {
				stats.skipped++
				continue
			}
			return errors.Wrapf(err, "subject %q", ns.Code)
		}
		stats.subjects++
	}
	for _, ns := range sf.Students {
		ns := ns
		if err = ns.Validate(cli.validate); err != nil {
			return errors.Wrapf(err, "student %q", ns.LRN)
		}
		if _, err = cli.students.GetByLRN(ctx, ns.LRN); err == nil {
			stats.skipped++
			continue
		} else if errors.Cause(err) != core.ErrNotFound {
			return err
		}
		if _, err = cli.students.Create(ctx, ns, ""); err != nil {
			return errors.Wrapf(err, "student %q", ns.LRN)
		}
		stats.students++
	}

	fmt.Printf("seeded %d school years, %d grading periods, %d subjects and %d students (%d skipped)\n",
		stats.years, stats.periods, stats.subjects, stats.students, stats.skipped)
	return nil
}

func (cli *commandLine) seedYears(ctx context.Context, years []seedYear, stats *seedStats) error {
	existing, err := cli.school.QuerySchoolYears(ctx)
	if err != nil {
		return err
	}
	byCode := make(map[string]school.SchoolYear, len(existing))
	for _, sy := range existing {
		byCode[sy.YearCode] = sy
	}

	for _, y := range years {
		y := y
		if err = y.NewSchoolYear.Validate(cli.validate); err != nil {
			return errors.Wrapf(err, "school year %q", y.YearCode)
		}
		sy, ok := byCode[y.YearCode]
		if ok {
			stats.skipped++
		} else {
			if sy, err = cli.school.CreateSchoolYear(ctx, y.NewSchoolYear, ""); err != nil {
				return errors.Wrapf(err, "school year %q", y.YearCode)
			}
			byCode[sy.YearCode] = sy
			stats.years++
		}

		for _, np := range y.Periods {
			np := np
			np.SchoolYearID = sy.ID
			if err = np.Validate(cli.validate); err != nil {
				return errors.Wrapf(err, "school year %q: period %d", y.YearCode, np.PeriodNumber)
			}
			if _, err = cli.school.CreateGradingPeriod(ctx, np, ""); err != nil {
				if core.IsConflict(err) {
					stats.skipped++
					continue
				}
				return errors.Wrapf(err, "school year %q: period %d", y.YearCode, np.PeriodNumber)
			}
			stats.periods++
		}
	}
	return nil
}
