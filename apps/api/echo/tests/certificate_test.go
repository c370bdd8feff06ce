package tests

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/tests"
)

func Test_certificateApi(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	adminToken := getToken(t, env.Conf, admin)
	teacherToken := getToken(t, env.Conf, teacher)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")
	top := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	average := testutil.CreateStudent(t, env, "210987654321", "Maria", "Clara")

	newCert := func(studentID, certType string) []byte {
		return marchallObj(t, certificate.NewCertificate{StudentID: studentID, SchoolYearID: sy.ID, CertificateType: certType})
	}

	runTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/certificates", body: newCert(top.ID, certificate.TypeHonors),
			wantCode: http.StatusUnauthorized},
		{name: "invalid type", method: http.MethodPost, path: "/v1/certificates", token: teacherToken,
			body: newCert(top.ID, "lol"), wantCode: http.StatusBadRequest},
		{name: "not finalized", method: http.MethodPost, path: "/v1/certificates", token: teacherToken,
			body: newCert(top.ID, certificate.TypeHonors), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "Grades must be finalized before generating documents"})},
	})

	testutil.FinalizeYear(t, env, teacher, sy, sub, top, 92)
	testutil.FinalizeYear(t, env, teacher, sy, sub, average, 80)

	runTests(t, app, []httpTest{
		{name: "not qualified for honors", method: http.MethodPost, path: "/v1/certificates", token: teacherToken,
			body: newCert(average.ID, certificate.TypeHonors), wantCode: http.StatusBadRequest},
		{name: "completion", method: http.MethodPost, path: "/v1/certificates", token: teacherToken,
			body: newCert(average.ID, certificate.TypeCompletion), wantCode: http.StatusCreated},
	})

	rec := serve(app, http.MethodPost, "/v1/certificates", teacherToken, newCert(top.ID, certificate.TypeHonors))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cert certificate.Certificate
	decode(t, rec, &cert)
	assert.NotEmpty(t, cert.VerificationCode)
	assert.False(t, cert.IsRevoked)

	rec = serve(app, http.MethodPost, "/v1/certificates", teacherToken, newCert(top.ID, certificate.TypeHonors))
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate")

	// public verification
	rec = serve(app, http.MethodGet, "/v1/verify/"+strings.ToLower(cert.VerificationCode), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res certificate.Verification
	decode(t, rec, &res)
	require.True(t, res.Valid)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, "Cruz, Juan", res.Certificate.StudentName)
	assert.Equal(t, grading.WithHonors, res.Certificate.Honors)

	runTests(t, app, []httpTest{
		{name: "unknown code", path: "/v1/verify/NOPE", wantData: []byte(`{"valid":false,"message":"Certificate not found"}`)},
		{name: "list", path: "/v1/certificates?student_id=" + top.ID, token: teacherToken},
		{name: "detail", path: "/v1/certificates/" + cert.ID, token: teacherToken, wantData: marchallObj(t, cert)},
		{name: "detail (unknown)", path: "/v1/certificates/lol", token: teacherToken, wantCode: http.StatusNotFound},
	})

	for _, path := range []string{"/v1/verify/" + cert.VerificationCode + "/qr", "/v1/certificates/" + cert.ID + "/qr?size=128"} {
		req, rec := newAuthRequest(http.MethodGet, path, teacherToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"), path)
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), path)
	}

	rec = serve(app, http.MethodGet, "/v1/certificates/"+cert.ID+"/render", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Cruz, Juan")
	assert.Contains(t, rec.Body.String(), cert.VerificationCode)

	// revocation
	runTests(t, app, []httpTest{
		{name: "admin required to revoke", method: http.MethodPost, path: "/v1/certificates/" + cert.ID + "/revoke", token: teacherToken,
			body: []byte(`{"reason":"clerical error"}`), wantCode: http.StatusForbidden},
		{name: "revoke", method: http.MethodPost, path: "/v1/certificates/" + cert.ID + "/revoke", token: adminToken,
			body: []byte(`{"reason":"clerical error"}`)},
		{name: "revoked code", path: "/v1/verify/" + cert.VerificationCode,
			wantData: []byte(`{"valid":false,"message":"Certificate has been revoked. Reason: clerical error"}`)},
		{name: "already revoked", method: http.MethodPost, path: "/v1/certificates/" + cert.ID + "/revoke", token: adminToken,
			body: []byte(`{}`), wantCode: http.StatusConflict},
		{name: "active list excludes revoked", path: "/v1/certificates?student_id=" + top.ID, token: teacherToken, wantData: []byte(`[]`)},
	})

	// a revoked certificate no longer blocks a new one
	rec = serve(app, http.MethodPost, "/v1/certificates", teacherToken, newCert(top.ID, certificate.TypeHonors))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
