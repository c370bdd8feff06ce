package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/ampayon/gradebook/apps/api/echo"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/grading"
	"github.com/ampayon/gradebook/tests"
)

func Test_classApi(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	other := testutil.CreateTeacher(t, env, "Andres", "Bonifacio")
	teacherToken := getToken(t, env.Conf, teacher)
	otherToken := getToken(t, env.Conf, other)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")
	s1 := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	s2 := testutil.CreateStudent(t, env, "123456789013", "Maria", "Clara")

	newClass := class.NewClass{SubjectID: sub.ID, Section: "Rizal", SchoolYearID: sy.ID, GradingPeriod: 1}

	rec := serve(app, http.MethodPost, "/v1/classes", teacherToken, marchallObj(t, newClass))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c class.Detail
	decode(t, rec, &c)
	assert.Equal(t, teacher.ID, c.TeacherID.String)
	assert.Equal(t, "GENMATH", c.SubjectCode)
	assert.Equal(t, "2024-2025", c.YearCode)

	classPath := "/v1/classes/" + c.ID
	enroll := func(id string) []byte { return marchallObj(t, echoapi.EnrollRequest{StudentID: id}) }

	runTests(t, app, []httpTest{
		{name: "duplicate class", method: http.MethodPost, path: "/v1/classes", token: teacherToken,
			body: marchallObj(t, newClass), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "You already have a class with this subject, section, and grading period"})},
		{name: "invalid period", method: http.MethodPost, path: "/v1/classes", token: teacherToken,
			body: []byte(`{"subject_id":"` + sub.ID + `","section":"A","school_year_id":"` + sy.ID + `","grading_period":5}`),
			wantCode: http.StatusBadRequest},
		{name: "students cannot list classes", path: "/v1/classes", token: getToken(t, env.Conf, testutil.CreateUser(
			t, env.UserRepo, "S", "Tudent", "s@mail.test", "", []string{"student:"}, true)), wantCode: http.StatusForbidden},
		{name: "other teachers are forbidden", path: classPath, token: otherToken, wantCode: http.StatusForbidden},
		{name: "other teachers see their own classes only", path: "/v1/classes", token: otherToken, wantData: []byte(`[]`)},
		{name: "admin sees the class", path: classPath, token: getToken(t, env.Conf, admin)},
		{name: "enroll", method: http.MethodPost, path: classPath + "/enroll", token: teacherToken, body: enroll(s1.ID), wantCode: http.StatusCreated},
		{name: "enroll twice", method: http.MethodPost, path: classPath + "/enroll", token: teacherToken, body: enroll(s1.ID),
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "Student is already enrolled in this class"})},
		{name: "enroll unknown student", method: http.MethodPost, path: classPath + "/enroll", token: teacherToken,
			body: enroll("00000000-0000-0000-0000-000000000000"), wantCode: http.StatusBadRequest},
		{name: "enroll second student", method: http.MethodPost, path: classPath + "/enroll", token: teacherToken, body: enroll(s2.ID), wantCode: http.StatusCreated},
		{name: "unenroll", method: http.MethodPost, path: classPath + "/unenroll", token: teacherToken, body: enroll(s2.ID), wantCode: http.StatusNoContent},
		{name: "unenroll again", method: http.MethodPost, path: classPath + "/unenroll", token: teacherToken, body: enroll(s2.ID), wantCode: http.StatusNotFound},
	})

	rec = serve(app, http.MethodGet, classPath+"/students", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, string(marchallObj(t, []interface{}{s1})), rec.Body.String())

	rec = serve(app, http.MethodGet, classPath, teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &c)
	assert.Equal(t, 1, c.StudentCount)

	rec = serve(app, http.MethodPut, classPath, teacherToken, []byte(`{"subject_id":"`+sub.ID+`","section":"Mabini","school_year_id":"`+sy.ID+`","grading_period":1,"room":"204"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &c)
	assert.Equal(t, "Mabini", c.Section)
	assert.Equal(t, "204", c.Room)

	rec = serve(app, http.MethodDelete, classPath, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(app, http.MethodDelete, classPath, teacherToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_gradeApi_saveAndFinalize(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	adminToken := getToken(t, env.Conf, admin)
	teacherToken := getToken(t, env.Conf, teacher)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")
	s1 := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	s2 := testutil.CreateStudent(t, env, "123456789013", "Maria", "Clara")
	outsider := testutil.CreateStudent(t, env, "123456789014", "Out", "Sider")
	c := testutil.CreateClass(t, env, teacher, sub.ID, sy.ID, 1, s1, s2)

	save := func(classID string, sg grade.SaveGrade) []byte {
		return marchallObj(t, echoapi.SaveGradeRequest{ClassID: classID, SaveGrade: sg})
	}
	classPath := "/v1/classes/" + c.ID

	runTests(t, app, []httpTest{
		{name: "class required", method: http.MethodPost, path: "/v1/grades", token: teacherToken,
			body: save("", testutil.Scores(s1.ID, 90, 90, 90)), wantCode: http.StatusBadRequest},
		{name: "score above total", method: http.MethodPost, path: "/v1/grades", token: teacherToken,
			body: save(c.ID, testutil.Scores(s1.ID, 120, 90, 90)), wantCode: http.StatusBadRequest},
		{name: "student not enrolled", method: http.MethodPost, path: "/v1/grades", token: teacherToken,
			body: save(c.ID, testutil.Scores(outsider.ID, 90, 90, 90)), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"student_id":"student is not enrolled in this class"}`)},
		{name: "finalize with missing grades", method: http.MethodPost, path: classPath + "/finalize", token: teacherToken,
			wantCode: http.StatusBadRequest},
	})

	// WW 30%, PT 50%, QA 20%
	rec := serve(app, http.MethodPost, "/v1/grades", teacherToken, save(c.ID, testutil.Scores(s1.ID, 80, 90, 100)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var g grade.Grade
	decode(t, rec, &g)
	require.True(t, g.QuarterlyGrade.Valid)
	assert.InDelta(t, 89, g.QuarterlyGrade.Float64, 0.001)
	assert.Equal(t, grading.Passed, g.Remarks.String)

	rec = serve(app, http.MethodPost, "/v1/grades", teacherToken, save(c.ID, testutil.Scores(s2.ID, 70, 70, 70)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(app, http.MethodGet, classPath+"/sheet", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var sheet []grade.SheetEntry
	decode(t, rec, &sheet)
	require.Len(t, sheet, 2)
	for _, e := range sheet {
		assert.False(t, e.Finalized)
		assert.True(t, e.Grade.QuarterlyGrade.Valid)
	}

	rec = serve(app, http.MethodPost, classPath+"/finalize", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res grade.FinalizeResult
	decode(t, rec, &res)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, res.Finalized)
	assert.Empty(t, res.Skipped)

	// finalizing again skips everyone
	rec = serve(app, http.MethodPost, classPath+"/finalize", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Empty(t, res.Finalized)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, res.Skipped)

	runTests(t, app, []httpTest{
		{name: "finalized grades are locked", method: http.MethodPost, path: "/v1/grades", token: teacherToken,
			body: save(c.ID, testutil.Scores(s1.ID, 100, 100, 100)), wantCode: http.StatusLocked,
			wantData: marchallObj(t, httpErr{Error: grade.ErrGradesFinalized.Error()})},
		{name: "semester required", path: "/v1/grades/status?student_id=" + s1.ID, token: teacherToken, wantCode: http.StatusBadRequest,
			wantData: []byte(`{"semester":"this field is required"}`)},
		{name: "invalid semester", path: "/v1/grades/status?semester=3&student_id=" + s1.ID, token: teacherToken, wantCode: http.StatusBadRequest},
	})

	rec = serve(app, http.MethodGet, "/v1/grades/status?semester=1&student_id="+s1.ID, teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status grade.FinalizationStatus
	decode(t, rec, &status)
	assert.True(t, status.IsFinalized)
	assert.True(t, status.GeneralAverage.Valid)

	rec = serve(app, http.MethodGet, classPath+"/statuses", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []grade.StudentStatus
	decode(t, rec, &statuses)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.True(t, st.Status.IsFinalized, st.StudentName)
	}

	rec = serve(app, http.MethodGet, "/v1/grades/students/"+s1.ID, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report grade.YearReport
	decode(t, rec, &report)
	require.Len(t, report.Grades, 1)
	assert.Equal(t, "GENMATH", report.Grades[0].SubjectCode)
	require.Len(t, report.FinalGrades, 1)
	assert.True(t, report.Standing.GeneralAverage.Valid)

	other := testutil.CreateTeacher(t, env, "Andres", "Bonifacio")
	runTests(t, app, []httpTest{
		{name: "teacher reads an enrolled student's report", path: "/v1/grades/students/" + s1.ID, token: teacherToken},
		{name: "teacher cannot read other students' reports", path: "/v1/grades/students/" + outsider.ID, token: teacherToken,
			wantCode: http.StatusForbidden},
		{name: "teacher without the student", path: "/v1/grades/students/" + s1.ID, token: getToken(t, env.Conf, other),
			wantCode: http.StatusForbidden},
	})
}

func Test_gradeApi_unlock(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	adminToken := getToken(t, env.Conf, admin)
	teacherToken := getToken(t, env.Conf, teacher)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	c := testutil.CreateClass(t, env, teacher, sub.ID, sy.ID, 1, s)
	testutil.SaveGrade(t, env, c, s, teacher, 85)

	request := func(classID string) []byte {
		return marchallObj(t, grade.NewUnlockRequest{
			StudentID: s.ID, SchoolYearID: sy.ID, Semester: 1, ClassID: classID, Reason: "Encoding error on the written works",
		})
	}

	runTests(t, app, []httpTest{
		{name: "reason too short", method: http.MethodPost, path: "/v1/grades/unlock-requests", token: teacherToken,
			body: []byte(`{"student_id":"` + s.ID + `","school_year_id":"` + sy.ID + `","semester":1,"class_id":"` + c.ID + `","reason":"oops"}`),
			wantCode: http.StatusBadRequest},
		{name: "teachers must name a class", method: http.MethodPost, path: "/v1/grades/unlock-requests", token: teacherToken,
			body: request(""), wantCode: http.StatusBadRequest, wantData: []byte(`{"class_id":"this field is required"}`)},
		{name: "not finalized", method: http.MethodPost, path: "/v1/grades/unlock-requests", token: teacherToken,
			body: request(c.ID), wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "grades are not finalized"})},
	})

	rec := serve(app, http.MethodPost, "/v1/classes/"+c.ID+"/finalize", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(app, http.MethodPost, "/v1/grades/unlock-requests", teacherToken, request(c.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ur grade.UnlockRequest
	decode(t, rec, &ur)
	assert.Equal(t, grade.StatusPending, ur.Status)

	reviewPath := "/v1/grades/unlock-requests/" + ur.ID + "/review"
	runTests(t, app, []httpTest{
		{name: "one pending request at a time", method: http.MethodPost, path: "/v1/grades/unlock-requests", token: teacherToken,
			body: request(c.ID), wantCode: http.StatusConflict},
		{name: "admin required", method: http.MethodPost, path: reviewPath, token: teacherToken,
			body: []byte(`{"status":"approved"}`), wantCode: http.StatusForbidden},
		{name: "invalid status", method: http.MethodPost, path: reviewPath, token: adminToken,
			body: []byte(`{"status":"maybe"}`), wantCode: http.StatusBadRequest},
		{name: "approved", method: http.MethodPost, path: reviewPath, token: adminToken,
			body: []byte(`{"status":"approved","note":"go ahead"}`)},
		{name: "already reviewed", method: http.MethodPost, path: reviewPath, token: adminToken,
			body: []byte(`{"status":"rejected"}`), wantCode: http.StatusConflict},
	})

	// the semester is open again
	rec = serve(app, http.MethodPost, "/v1/grades", teacherToken,
		marchallObj(t, echoapi.SaveGradeRequest{ClassID: c.ID, SaveGrade: testutil.Scores(s.ID, 95, 95, 95)}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(app, http.MethodGet, "/v1/grades/status?semester=1&student_id="+s.ID, teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var status grade.FinalizationStatus
	decode(t, rec, &status)
	assert.False(t, status.IsFinalized)
	assert.Equal(t, 1, status.UnlockCount)

	rec = serve(app, http.MethodGet, "/v1/grades/unlock-requests", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var reqs []grade.UnlockRequestView
	decode(t, rec, &reqs)
	require.Len(t, reqs, 1)
	assert.Equal(t, grade.StatusApproved, reqs[0].Status)
}
