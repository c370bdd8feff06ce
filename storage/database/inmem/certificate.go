package inmemdb

import (
	"context"
	"sort"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/certificate"
)

type certificateRepository struct {
	db *DB
}

var _ certificate.Repository = (*certificateRepository)(nil)

func NewCertificateRepository(db *DB) certificate.Repository {
	return &certificateRepository{db: db}
}

func uniqueCertificate(t *tables, c certificate.Certificate) error {
	for _, o := range t.certificates {
		if o.ID == c.ID {
			continue
		}
		if o.VerificationCode == c.VerificationCode {
			return errDuplicate
		}
		if !o.IsRevoked && !c.IsRevoked && o.StudentID == c.StudentID &&
			o.SchoolYearID == c.SchoolYearID && o.CertificateType == c.CertificateType {
			return errDuplicate
		}
	}
	return nil
}

func (repo *certificateRepository) CreateCertificate(ctx context.Context, c certificate.Certificate) (certificate.Certificate, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if err := uniqueCertificate(t, c); err != nil {
			return err
		}
		t.certificates[c.ID] = c
		return nil
	})
	return c, err
}

func (repo *certificateRepository) get(match func(c certificate.Certificate) bool) (certificate.Certificate, error) {
	var (
		found certificate.Certificate
		ok    bool
	)
	repo.db.read(func(t *tables) {
		for _, c := range t.certificates {
			if match(c) {
				found, ok = c, true
				return
			}
		}
	})
	if !ok {
		return certificate.Certificate{}, core.ErrNotFound
	}
	return found, nil
}

func (repo *certificateRepository) GetCertificate(_ context.Context, id string) (certificate.Certificate, error) {
	return repo.get(func(c certificate.Certificate) bool { return c.ID == id })
}

func (repo *certificateRepository) GetCertificateByCode(_ context.Context, code string) (certificate.Certificate, error) {
	return repo.get(func(c certificate.Certificate) bool { return c.VerificationCode == code })
}

func (repo *certificateRepository) QueryCertificates(_ context.Context, filter certificate.Filter) ([]certificate.Certificate, error) {
	certs := make([]certificate.Certificate, 0)
	repo.db.read(func(t *tables) {
		for _, c := range t.certificates {
			if filter.StudentID != "" && c.StudentID != filter.StudentID {
				continue
			}
			if filter.SchoolYearID != "" && c.SchoolYearID != filter.SchoolYearID {
				continue
			}
			if filter.CertificateType != "" && c.CertificateType != filter.CertificateType {
				continue
			}
			if !filter.IncludeRevoked && c.IsRevoked {
				continue
			}
			certs = append(certs, c)
		}
	})
	sort.Slice(certs, func(i, j int) bool { return certs[i].GeneratedAt.After(certs[j].GeneratedAt) })
	return certs, nil
}

func (repo *certificateRepository) UpdateCertificate(ctx context.Context, c certificate.Certificate) (certificate.Certificate, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.certificates[c.ID]; !ok {
			return core.ErrNotFound
		}
		if err := uniqueCertificate(t, c); err != nil {
			return err
		}
		t.certificates[c.ID] = c
		return nil
	})
	return c, err
}

func (repo *certificateRepository) DeleteCertificate(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.certificates[id]; !ok {
			return core.ErrNotFound
		}
		delete(t.certificates, id)
		return nil
	})
}

func (repo *certificateRepository) ActiveExists(_ context.Context, studentID, schoolYearID, certType string) (bool, error) {
	_, err := repo.get(func(c certificate.Certificate) bool {
		return !c.IsRevoked && c.StudentID == studentID && c.SchoolYearID == schoolYearID && c.CertificateType == certType
	})
	if err == core.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (repo *certificateRepository) CodeExists(_ context.Context, code string) (bool, error) {
	_, err := repo.get(func(c certificate.Certificate) bool { return c.VerificationCode == code })
	if err == core.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}
