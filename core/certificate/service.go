// Package certificate issues honors, good moral and completion certificates, and verifies them
// publicly through their verification codes.
package certificate

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
)

const (
	table           = "certificates"
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 8
	maxCodeAttempts = 5
	enrichmentLimit = 8
	verifyKeyPrefix = "cert:verify:"
)

var (
	ErrNotQualified    = core.NewValidationError(errors.New("student does not qualify for an honors certificate"))
	ErrDuplicate       = core.NewConflictError("an active certificate of this type already exists for this student and school year")
	ErrAlreadyRevoked  = core.NewConflictError("certificate is already revoked")
	ErrCodeUnavailable = errors.New("could not generate a unique verification code")

	msgNotFound = "Certificate not found"
)

type (
	Repository interface {
		CreateCertificate(ctx context.Context, c Certificate) (Certificate, error)
		GetCertificate(ctx context.Context, id string) (Certificate, error)
		GetCertificateByCode(ctx context.Context, code string) (Certificate, error)
		QueryCertificates(ctx context.Context, filter Filter) ([]Certificate, error)
		UpdateCertificate(ctx context.Context, c Certificate) (Certificate, error)
		DeleteCertificate(ctx context.Context, id string) error
		// ActiveExists looks for a non revoked certificate of the same student, year and type.
		ActiveExists(ctx context.Context, studentID, schoolYearID, certType string) (bool, error)
		CodeExists(ctx context.Context, code string) (bool, error)
	}

	GradeReader interface {
		YearStanding(ctx context.Context, studentID, schoolYearID string) (grade.YearStanding, error)
	}

	StudentReader interface {
		GetByID(ctx context.Context, id string) (student.Student, error)
	}

	SchoolReader interface {
		Settings(ctx context.Context) (school.Settings, error)
		GetSchoolYear(ctx context.Context, id string) (school.SchoolYear, error)
	}

	Service struct {
		repo            Repository
		tx              core.Transactor
		blob            core.BlobStore
		cache           core.Cache
		cacheTTL        time.Duration
		grades          GradeReader
		students        StudentReader
		school          SchoolReader
		audit           audit.Recorder
		frontendBaseURL string
		logger          core.Logger
	}
)

// RandReader is the verification code entropy source. Mockable.
var RandReader io.Reader = rand.Reader

func NewService(
	repo Repository,
	tx core.Transactor,
	blob core.BlobStore,
	cache core.Cache,
	grades GradeReader,
	students StudentReader,
	schoolSvc SchoolReader,
	auditor audit.Recorder,
	conf *core.Config,
	logger core.Logger,
) *Service {
	return &Service{
		repo:            repo,
		tx:              tx,
		blob:            blob,
		cache:           cache,
		cacheTTL:        conf.Redis.CacheTTL,
		grades:          grades,
		students:        students,
		school:          schoolSvc,
		audit:           auditor,
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

// NewVerificationCode returns CERT-<first year>-<8 random A-Z0-9 characters>.
func NewVerificationCode(firstYear string) (string, error) {
	var b strings.Builder
	b.WriteString("CERT-")
	b.WriteString(firstYear)
	b.WriteString("-")
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(RandReader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (svc *Service) uniqueCode(ctx context.Context, sy school.SchoolYear) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := NewVerificationCode(sy.FirstYear())
		if err != nil {
			return "", errors.Wrap(err, "generating verification code")
		}
		exists, err := svc.repo.CodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "checking verification code")
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeUnavailable
}

// Generate issues a certificate for a finalized school year.
func (svc *Service) Generate(ctx context.Context, nc NewCertificate, actorID string) (Certificate, error) {
	if _, err := svc.students.GetByID(ctx, nc.StudentID); err != nil {
		return Certificate{}, err
	}
	sy, err := svc.school.GetSchoolYear(ctx, nc.SchoolYearID)
	if err != nil {
		return Certificate{}, err
	}
	standing, err := svc.grades.YearStanding(ctx, nc.StudentID, sy.ID)
	if err != nil {
		return Certificate{}, err
	}
	if !standing.Finalized {
		return Certificate{}, core.ErrNotFinalized
	}
	if nc.CertificateType == TypeHonors && standing.Honors == "" {
		return Certificate{}, ErrNotQualified
	}

	now := time.Now().UTC()
	issued := nc.IssuedDate
	if issued.IsZero() {
		issued = now.Truncate(24 * time.Hour)
	}
	c := Certificate{
		ID:              uuid.New().String(),
		StudentID:       nc.StudentID,
		SchoolYearID:    sy.ID,
		CertificateType: nc.CertificateType,
		IssuedDate:      issued,
		GeneratedBy:     null.NewString(actorID, actorID != ""),
		GeneratedAt:     now,
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := svc.repo.ActiveExists(ctx, c.StudentID, c.SchoolYearID, c.CertificateType)
		if err != nil {
			return errors.Wrap(err, "checking duplicate certificate")
		}
		if exists {
			return ErrDuplicate
		}
		if c.VerificationCode, err = svc.uniqueCode(ctx, sy); err != nil {
			return err
		}
		if c, err = svc.repo.CreateCertificate(ctx, c); err != nil {
			if core.IsConflict(err) {
				return ErrDuplicate
			}
			return errors.Wrap(err, "inserting certificate")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionCertGenerated, table, c.ID).WithNew(c))
	})
	return c, err
}

func (svc *Service) Get(ctx context.Context, id string) (Certificate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Certificate{}, core.ErrNotFound
	}
	return svc.repo.GetCertificate(ctx, id)
}

// AttachPDF stores the client rendered PDF of a certificate.
func (svc *Service) AttachPDF(ctx context.Context, id string, r io.Reader, actorID string) (Certificate, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return Certificate{}, err
	}
	if c.IsRevoked {
		return Certificate{}, ErrAlreadyRevoked
	}

	path := fmt.Sprintf("%s/%s/%s_%d_%s.pdf", c.StudentID, c.SchoolYearID, c.CertificateType, time.Now().Unix(), uuid.New().String()[:8])
	obj, err := svc.blob.Put(ctx, core.BucketCertificates, path, r, "application/pdf")
	if err != nil {
		return Certificate{}, errors.Wrap(err, "storing certificate")
	}
	oldPath := c.PDFPath
	c.PDFPath = null.StringFrom(obj.Path)
	c.PDFURL = null.StringFrom(obj.URL)
	if c, err = svc.repo.UpdateCertificate(ctx, c); err != nil {
		_ = svc.blob.Remove(ctx, core.BucketCertificates, obj.Path)
		return Certificate{}, errors.Wrap(err, "updating certificate")
	}
	if oldPath.Valid && oldPath.String != obj.Path {
		_ = svc.blob.Remove(ctx, core.BucketCertificates, oldPath.String)
	}
	if err = svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionCertPDFAttached, table, c.ID).WithMeta(obj)); err != nil {
		svc.logger.Warn("recording certificate upload", err)
	}
	svc.forget(ctx, c.VerificationCode)
	return c, nil
}

// List returns certificates with their standing, enriched concurrently.
func (svc *Service) List(ctx context.Context, filter Filter) ([]View, error) {
	certs, err := svc.repo.QueryCertificates(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "querying certificates")
	}

	views := make([]View, len(certs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichmentLimit)
	for i, c := range certs {
		i, c := i, c
		g.Go(func() error {
			v, err := svc.view(gctx, c)
			views[i] = v
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (svc *Service) view(ctx context.Context, c Certificate) (View, error) {
	v := View{Certificate: c}
	s, err := svc.students.GetByID(ctx, c.StudentID)
	if err != nil {
		return View{}, errors.Wrap(err, "getting student")
	}
	v.StudentName, v.LRN = s.FullName(), s.LRN

	sy, err := svc.school.GetSchoolYear(ctx, c.SchoolYearID)
	if err != nil {
		return View{}, errors.Wrap(err, "getting school year")
	}
	v.YearCode = sy.YearCode

	standing, err := svc.grades.YearStanding(ctx, c.StudentID, c.SchoolYearID)
	if err != nil {
		return View{}, errors.Wrap(err, "getting standing")
	}
	v.GeneralAverage, v.Honors = standing.GeneralAverage, standing.Honors
	return v, nil
}

// Verify looks a verification code up. The certificate row is cached until it changes;
// the standing shown with it is always read fresh.
func (svc *Service) Verify(ctx context.Context, code string) (Verification, error) {
	c, err := svc.byCode(ctx, strings.ToUpper(core.CleanString(code)))
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return Verification{Valid: false, Message: msgNotFound}, nil
		}
		return Verification{}, err
	}
	if c.IsRevoked {
		reason := "Not specified"
		if c.RevocationReason.Valid && c.RevocationReason.String != "" {
			reason = c.RevocationReason.String
		}
		return Verification{Valid: false, Message: "Certificate has been revoked. Reason: " + reason}, nil
	}
	v, err := svc.view(ctx, c)
	if err != nil {
		return Verification{}, err
	}
	return Verification{Valid: true, Certificate: &v}, nil
}

func (svc *Service) byCode(ctx context.Context, code string) (Certificate, error) {
	key := verifyKeyPrefix + code
	if raw, err := svc.cache.Get(ctx, key); err == nil {
		var c Certificate
		if err = json.Unmarshal(raw, &c); err == nil {
			return c, nil
		}
	} else if err != core.ErrCacheMiss {
		svc.logger.Warn("reading verification cache", err)
	}

	c, err := svc.repo.GetCertificateByCode(ctx, code)
	if err != nil {
		return Certificate{}, err
	}
	if raw, err := json.Marshal(c); err == nil {
		if err = svc.cache.Set(ctx, key, raw, svc.cacheTTL); err != nil {
			svc.logger.Warn("writing verification cache", err)
		}
	}
	return c, nil
}

func (svc *Service) forget(ctx context.Context, code string) {
	if err := svc.cache.Delete(ctx, verifyKeyPrefix+code); err != nil {
		svc.logger.Warn("invalidating verification cache", err)
	}
}

// Revoke invalidates a certificate. Revoked certificates fail verification.
func (svc *Service) Revoke(ctx context.Context, id string, rv Revoke, adminID string) (Certificate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Certificate{}, core.ErrNotFound
	}
	var c Certificate
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = svc.repo.GetCertificate(ctx, id); err != nil {
			return err
		}
		if c.IsRevoked {
			return ErrAlreadyRevoked
		}
		old := c
		reason := core.CleanString(rv.Reason)
		c.IsRevoked = true
		c.RevokedBy = null.StringFrom(adminID)
		c.RevokedAt = null.TimeFrom(time.Now().UTC())
		c.RevocationReason = null.NewString(reason, reason != "")
		if c, err = svc.repo.UpdateCertificate(ctx, c); err != nil {
			return errors.Wrap(err, "revoking certificate")
		}
		return svc.audit.Record(ctx, audit.NewEntry(adminID, audit.ActionCertRevoked, table, c.ID).WithOld(old).WithNew(c))
	})
	if err != nil {
		return Certificate{}, err
	}
	svc.forget(ctx, c.VerificationCode)
	return c, nil
}

// Delete removes a certificate and its PDF.
func (svc *Service) Delete(ctx context.Context, id, adminID string) error {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteCertificate(ctx, c.ID); err != nil {
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(adminID, audit.ActionCertDeleted, table, c.ID).WithOld(c))
	})
	if err != nil {
		return err
	}
	svc.forget(ctx, c.VerificationCode)
	if c.PDFPath.Valid {
		return errors.Wrap(svc.blob.Remove(ctx, core.BucketCertificates, c.PDFPath.String), "removing certificate file")
	}
	return nil
}
