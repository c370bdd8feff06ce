package tests

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	echoapi "github.com/ampayon/gradebook/apps/api/echo"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	"github.com/ampayon/gradebook/tests"
)

func Test_portalApi(t *testing.T) {
	app, env := setup(t)
	ctx := context.Background()
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")

	usr := testutil.CreateUser(t, env.UserRepo, "Juan", "Cruz", "juan@mail.test", "", []string{user.RoleStudent}, true)
	s, err := env.Students.Create(ctx, student.NewStudent{
		LRN: "123456789012", FirstName: "Juan", LastName: "Cruz", GradeLevel: 11, UserID: null.StringFrom(usr.ID),
	}, "")
	require.NoError(t, err)
	unlinked := testutil.CreateUser(t, env.UserRepo, "Pedro", "Penduko", "pedro@mail.test", "", []string{user.RoleStudent}, true)
	token := getToken(t, env.Conf, usr)

	runTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/me", wantCode: http.StatusUnauthorized},
		{name: "students only", path: "/v1/me", token: getToken(t, env.Conf, teacher), wantCode: http.StatusForbidden},
		{name: "no linked record", path: "/v1/me", token: getToken(t, env.Conf, unlinked), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "no student record is linked to this account"})},
		{name: "record", path: "/v1/me", token: token, wantData: marchallObj(t, s)},
		{name: "no years yet", path: "/v1/me/years", token: token, wantData: []byte(`[]`)},
		{name: "no documents yet", path: "/v1/me/documents", token: token, wantData: []byte(`{"available":[],"stored":[]}`)},
		{name: "no certificates yet", path: "/v1/me/certificates", token: token, wantData: []byte(`[]`)},
	})

	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 92)
	_, err = env.Certificates.Generate(ctx, certificate.NewCertificate{
		StudentID: s.ID, SchoolYearID: sy.ID, CertificateType: certificate.TypeHonors,
	}, teacher.ID)
	require.NoError(t, err)

	rec := serve(app, http.MethodGet, "/v1/me/years", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var years []echoapi.PortalYear
	decode(t, rec, &years)
	require.Len(t, years, 1)
	assert.Equal(t, sy.ID, years[0].SchoolYear.ID)
	assert.True(t, years[0].Standing.Finalized)
	assert.Equal(t, 92.0, years[0].Standing.GeneralAverage.Float64)

	for _, path := range []string{"/v1/me/grades", "/v1/me/grades?school_year_id=" + sy.ID} {
		rec = serve(app, http.MethodGet, path, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var report grade.YearReport
		decode(t, rec, &report)
		assert.Len(t, report.Grades, 4, path)
		assert.Len(t, report.FinalGrades, 1, path)
	}

	rec = serve(app, http.MethodGet, "/v1/me/documents", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs echoapi.PortalDocuments
	decode(t, rec, &docs)
	assert.Len(t, docs.Available, 2)
	assert.Empty(t, docs.Stored)

	rec = serve(app, http.MethodGet, "/v1/me/certificates", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var certs []certificate.View
	decode(t, rec, &certs)
	require.Len(t, certs, 1)
	assert.Equal(t, certificate.TypeHonors, certs[0].CertificateType)

	// a student only ever sees their own records
	other := testutil.CreateStudent(t, env, "210987654321", "Maria", "Clara")
	rec = serve(app, http.MethodGet, "/v1/documents/students/"+other.ID+"/available", token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_auditApi(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	adminToken := getToken(t, env.Conf, admin)

	for i := 0; i < 3; i++ {
		body := marchallObj(t, student.NewStudent{
			LRN: fmt.Sprintf("10000000000%d", i), FirstName: "Maria", LastName: "Clara", GradeLevel: 11,
		})
		rec := serve(app, http.MethodPost, "/v1/students", adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	runTests(t, app, []httpTest{
		{name: "admin required", path: "/v1/audit-logs", token: getToken(t, env.Conf, teacher), wantCode: http.StatusForbidden},
		{name: "unknown entry", path: "/v1/audit-logs/00000000-0000-0000-0000-000000000000", token: adminToken,
			wantCode: http.StatusNotFound},
	})

	rec := serve(app, http.MethodGet, "/v1/audit-logs?page_size=2&action="+audit.ActionStudentCreated+"&user_id="+admin.ID, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page audit.Page
	decode(t, rec, &page)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	for _, e := range page.Data {
		assert.Equal(t, audit.ActionStudentCreated, e.Action)
		assert.Equal(t, "students", e.TableName)
		assert.Equal(t, admin.Email, e.UserEmail.String)
	}

	rec = serve(app, http.MethodGet, "/v1/audit-logs?page=2&page_size=2&action="+audit.ActionStudentCreated+"&user_id="+admin.ID, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Len(t, page.Data, 1)

	rec = serve(app, http.MethodGet, "/v1/audit-logs/"+page.Data[0].ID, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry audit.LogEntry
	decode(t, rec, &entry)
	assert.Equal(t, page.Data[0].RecordID, entry.RecordID)
	assert.True(t, entry.NewValues.Valid)
}
