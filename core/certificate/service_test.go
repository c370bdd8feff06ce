package certificate_test

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/tests"
)

var codeRe = regexp.MustCompile(`^CERT-2024-[A-Z0-9]{8}$`)

func TestNewVerificationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := certificate.NewVerificationCode("2024")
		require.NoError(t, err)
		assert.Regexp(t, codeRe, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestService_Generate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	honor := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")
	average := testutil.CreateStudent(t, env, "123456789013", "Juan", "Luna")
	pending := testutil.CreateStudent(t, env, "123456789014", "Gabriela", "Silang")
	testutil.FinalizeYear(t, env, teacher, sy, sub, honor, 91)
	testutil.FinalizeYear(t, env, teacher, sy, sub, average, 80)

	nc := func(studentID, typ string) certificate.NewCertificate {
		return certificate.NewCertificate{StudentID: studentID, SchoolYearID: sy.ID, CertificateType: typ}
	}

	tests := []struct {
		name    string
		nc      certificate.NewCertificate
		wantErr error
	}{
		{name: "not finalized", nc: nc(pending.ID, certificate.TypeCompletion), wantErr: core.ErrNotFinalized},
		{name: "no honors", nc: nc(average.ID, certificate.TypeHonors), wantErr: certificate.ErrNotQualified},
		{name: "completion", nc: nc(average.ID, certificate.TypeCompletion)},
		{name: "honors", nc: nc(honor.ID, certificate.TypeHonors)},
		{name: "duplicate", nc: nc(honor.ID, certificate.TypeHonors), wantErr: certificate.ErrDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := env.Certificates.Generate(ctx, tt.nc, admin.ID)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Regexp(t, codeRe, c.VerificationCode)
			assert.False(t, c.IssuedDate.IsZero())
			assert.Equal(t, admin.ID, c.GeneratedBy.String)
		})
	}

	views, err := env.Certificates.List(ctx, certificate.Filter{StudentID: honor.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Clara, Maria", views[0].StudentName)
	assert.Equal(t, "2024-2025", views[0].YearCode)
	assert.Equal(t, 91.0, views[0].GeneralAverage.Float64)
	assert.NotEmpty(t, views[0].Honors)
}

func TestService_VerifyAndRevoke(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")
	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 85)

	c, err := env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID:       s.ID,
		SchoolYearID:    sy.ID,
		CertificateType: certificate.TypeGoodMoral,
	}, admin.ID)
	require.NoError(t, err)

	res, err := env.Certificates.Verify(ctx, "CERT-2024-NOPE0000")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "Certificate not found", res.Message)

	res, err = env.Certificates.Verify(ctx, " "+strings.ToLower(c.VerificationCode)+" ")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, c.ID, res.Certificate.ID)
	assert.Equal(t, "123456789012", res.Certificate.LRN)

	_, err = env.Cache.Get(ctx, "cert:verify:"+c.VerificationCode)
	assert.NoError(t, err, "answers are cached")

	_, err = env.Certificates.Revoke(ctx, c.ID, certificate.Revoke{Reason: "Issued by mistake"}, admin.ID)
	require.NoError(t, err)
	_, err = env.Certificates.Revoke(ctx, c.ID, certificate.Revoke{}, admin.ID)
	assert.Equal(t, certificate.ErrAlreadyRevoked, err)

	res, err = env.Certificates.Verify(ctx, c.VerificationCode)
	require.NoError(t, err)
	assert.False(t, res.Valid, "revocation invalidates the cached answer")
	assert.Equal(t, "Certificate has been revoked. Reason: Issued by mistake", res.Message)

	// a new certificate of the same type may be issued once the previous one is revoked
	_, err = env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID:       s.ID,
		SchoolYearID:    sy.ID,
		CertificateType: certificate.TypeGoodMoral,
	}, admin.ID)
	assert.NoError(t, err)

	active, err := env.Certificates.List(ctx, certificate.Filter{StudentID: s.ID})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := env.Certificates.List(ctx, certificate.Filter{StudentID: s.ID, IncludeRevoked: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_Verify_currentStanding(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")
	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 96)

	c, err := env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID:       s.ID,
		SchoolYearID:    sy.ID,
		CertificateType: certificate.TypeHonors,
	}, admin.ID)
	require.NoError(t, err)

	res, err := env.Certificates.Verify(ctx, c.VerificationCode)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, grading.WithHighHonors, res.Certificate.Honors)

	_, err = env.School.UpdateSettings(ctx, school.UpdateSettings{school.KeyHighestHonorsThreshold: "96"}, admin.ID)
	require.NoError(t, err)

	res, err = env.Certificates.Verify(ctx, c.VerificationCode)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, grading.WithHighestHonors, res.Certificate.Honors, "standing is not served from the cache")
}

func TestService_AttachPDFAndDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")
	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 85)

	c, err := env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID:       s.ID,
		SchoolYearID:    sy.ID,
		CertificateType: certificate.TypeCompletion,
	}, admin.ID)
	require.NoError(t, err)

	_, err = env.Certificates.AttachPDF(ctx, "lol", strings.NewReader("%PDF-1.4"), admin.ID)
	assert.Equal(t, core.ErrNotFound, err)

	c, err = env.Certificates.AttachPDF(ctx, c.ID, strings.NewReader("%PDF-1.4 certificate"), admin.ID)
	require.NoError(t, err)
	require.True(t, c.PDFPath.Valid)
	assert.True(t, strings.HasPrefix(c.PDFPath.String, s.ID+"/"+sy.ID+"/"+certificate.TypeCompletion+"_"))
	assert.NotEmpty(t, c.PDFURL.String)

	f, err := env.Blob.Open(ctx, core.BucketCertificates, c.PDFPath.String)
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 certificate", string(content))

	require.NoError(t, env.Certificates.Delete(ctx, c.ID, admin.ID))
	_, err = env.Certificates.Get(ctx, c.ID)
	assert.Equal(t, core.ErrNotFound, errors.Cause(err))
	_, err = env.Blob.Open(ctx, core.BucketCertificates, c.PDFPath.String)
	assert.Equal(t, core.ErrNotFound, err, "the PDF goes with the certificate")

	res, err := env.Certificates.Verify(ctx, c.VerificationCode)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestService_RenderAndQRCode(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")
	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 98.5)

	_, err := env.School.UpdateSettings(ctx, school.UpdateSettings{
		school.KeySchoolName:    "Rizal National High School",
		school.KeyPrincipalName: "Dr. Apolinario Mabini",
	}, admin.ID)
	require.NoError(t, err)

	c, err := env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID:       s.ID,
		SchoolYearID:    sy.ID,
		CertificateType: certificate.TypeHonors,
	}, admin.ID)
	require.NoError(t, err)

	assert.Equal(t, "http://frontend.test/verify/"+c.VerificationCode, env.Certificates.VerificationURL(c.VerificationCode))

	raw, err := env.Certificates.QRCode(c.VerificationCode, 0)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, certificate.DefaultQRSize, img.Bounds().Dx())

	page, err := env.Certificates.Render(ctx, c.ID)
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, "Certificate of Honors")
	assert.Contains(t, html, "Rizal National High School")
	assert.Contains(t, html, "Dr. Apolinario Mabini")
	assert.Contains(t, html, "<strong>Clara, Maria</strong>")
	assert.Contains(t, html, "With Highest Honors")
	assert.Contains(t, html, "98.50")
	assert.Contains(t, html, c.VerificationCode)
	assert.Contains(t, html, "data:image/png;base64,")
	assert.NotContains(t, html, "REVOKED")

	_, err = env.School.UpdateSettings(ctx, school.UpdateSettings{
		school.KeyCertificateBody: "Awarded to _{{.StudentName}}_ <script>alert(1)</script>",
	}, admin.ID)
	require.NoError(t, err)

	page, err = env.Certificates.Render(ctx, c.ID)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<em>Clara, Maria</em>")
	assert.NotContains(t, string(page), "<script>")

	_, err = env.Certificates.Render(ctx, "lol")
	assert.Equal(t, core.ErrNotFound, err)
}
