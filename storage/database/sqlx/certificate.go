package sqlxrepos

import (
	"context"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/certificate"
)

const certificateColumns = `id, student_id, school_year_id, certificate_type, issued_date, verification_code,
	pdf_path, pdf_url, is_revoked, revoked_by, revoked_at, revocation_reason, generated_by, generated_at`

type certificateRepository struct {
	db *DB
}

var _ certificate.Repository = (*certificateRepository)(nil)

func NewCertificateRepository(db *DB) certificate.Repository {
	return &certificateRepository{db: db}
}

func (repo *certificateRepository) CreateCertificate(ctx context.Context, c certificate.Certificate) (certificate.Certificate, error) {
	const q = `
		INSERT INTO certificates (` + certificateColumns + `)
		VALUES (:id, :student_id, :school_year_id, :certificate_type, :issued_date, :verification_code,
			:pdf_path, :pdf_url, :is_revoked, :revoked_by, :revoked_at, :revocation_reason, :generated_by,
			:generated_at)`
	_, err := repo.db.namedExec(ctx, q, c)
	return c, core.TranslateDBError(err, "inserting certificate")
}

func (repo *certificateRepository) GetCertificate(ctx context.Context, id string) (certificate.Certificate, error) {
	var c certificate.Certificate
	err := repo.db.get(ctx, &c, "SELECT "+certificateColumns+" FROM certificates WHERE id = $1", id)
	return c, core.TranslateDBError(err, "selecting certificate")
}

func (repo *certificateRepository) GetCertificateByCode(ctx context.Context, code string) (certificate.Certificate, error) {
	var c certificate.Certificate
	err := repo.db.get(ctx, &c, "SELECT "+certificateColumns+" FROM certificates WHERE verification_code = $1", code)
	return c, core.TranslateDBError(err, "selecting certificate")
}

func (repo *certificateRepository) QueryCertificates(ctx context.Context, filter certificate.Filter) ([]certificate.Certificate, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id::text = ?", filter.SchoolYearID)
	}
	if filter.CertificateType != "" {
		w.add("certificate_type = ?", filter.CertificateType)
	}
	if !filter.IncludeRevoked {
		w.add("NOT is_revoked")
	}

	q, args, err := build("SELECT "+certificateColumns+" FROM certificates"+w.String()+" ORDER BY generated_at DESC", w.args...)
	if err != nil {
		return nil, err
	}
	certs := make([]certificate.Certificate, 0)
	err = repo.db.selectAll(ctx, &certs, q, args...)
	return certs, core.TranslateDBError(err, "selecting certificates")
}

func (repo *certificateRepository) UpdateCertificate(ctx context.Context, c certificate.Certificate) (certificate.Certificate, error) {
	const q = `
		UPDATE certificates SET
			pdf_path = :pdf_path, pdf_url = :pdf_url, is_revoked = :is_revoked, revoked_by = :revoked_by,
			revoked_at = :revoked_at, revocation_reason = :revocation_reason
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, c)
	if err != nil {
		return certificate.Certificate{}, core.TranslateDBError(err, "updating certificate")
	}
	if n == 0 {
		return certificate.Certificate{}, core.ErrNotFound
	}
	return c, nil
}

func (repo *certificateRepository) DeleteCertificate(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM certificates WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting certificate")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (repo *certificateRepository) ActiveExists(ctx context.Context, studentID, schoolYearID, certType string) (bool, error) {
	found, err := repo.db.exists(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM certificates
			WHERE NOT is_revoked AND student_id = $1 AND school_year_id = $2 AND certificate_type = $3
		)`,
		studentID, schoolYearID, certType,
	)
	return found, core.TranslateDBError(err, "checking active certificate")
}

func (repo *certificateRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	found, err := repo.db.exists(ctx, "SELECT EXISTS (SELECT 1 FROM certificates WHERE verification_code = $1)", code)
	return found, core.TranslateDBError(err, "checking verification code")
}
