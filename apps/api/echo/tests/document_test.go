package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/tests"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

func Test_documentApi(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	adminToken := getToken(t, env.Conf, admin)
	teacherToken := getToken(t, env.Conf, teacher)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "GENMATH", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	studentPath := "/v1/documents/students/" + s.ID

	notFinalized := marchallObj(t, httpErr{Error: "Grades must be finalized before generating documents"})
	runTests(t, app, []httpTest{
		{name: "SF9 before finalization", path: studentPath + "/sf9", token: teacherToken, wantCode: http.StatusConflict, wantData: notFinalized},
		{name: "SF10 before finalization", path: studentPath + "/sf10", token: teacherToken, wantCode: http.StatusConflict, wantData: notFinalized},
		{name: "nothing available", path: studentPath + "/available", token: teacherToken, wantData: []byte(`[]`)},
		{name: "unknown student", path: "/v1/documents/students/00000000-0000-0000-0000-000000000000/sf10", token: teacherToken,
			wantCode: http.StatusNotFound},
	})

	req, rec := newUploadRequest(t, studentPath+"/upload", teacherToken, pdfBytes, map[string]string{
		"document_type": document.TypeSF9, "school_year_id": sy.ID,
	})
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code, "upload before finalization")

	testutil.FinalizeYear(t, env, teacher, sy, sub, s, 92)

	rec = serve(app, http.MethodGet, studentPath+"/sf9", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sf9 map[string]interface{}
	decode(t, rec, &sf9)
	assert.NotEmpty(t, sf9)

	rec = serve(app, http.MethodGet, studentPath+"/sf10", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(app, http.MethodGet, studentPath+"/available", teacherToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var available []document.Available
	decode(t, rec, &available)
	assert.ElementsMatch(t, []document.Available{
		{DocumentType: document.TypeSF9, SchoolYearID: sy.ID, YearCode: sy.YearCode},
		{DocumentType: document.TypeSF10},
	}, available)

	// uploads
	upload := func(file []byte, fields map[string]string) *jsonRecorder {
		req, rec := newUploadRequest(t, studentPath+"/upload", teacherToken, file, fields)
		app.ServeHTTP(rec, req)
		return &jsonRecorder{code: rec.Code, body: rec.Body.Bytes()}
	}

	res := upload(nil, map[string]string{"document_type": document.TypeSF10})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.JSONEq(t, `{"file":"this field is required"}`, string(res.body))

	res = upload([]byte("not a pdf at all"), map[string]string{"document_type": document.TypeSF10})
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.JSONEq(t, `{"file":"file must be a PDF document"}`, string(res.body))

	res = upload(pdfBytes, map[string]string{"document_type": "SF1"})
	assert.Equal(t, http.StatusBadRequest, res.code)

	res = upload(pdfBytes, map[string]string{"document_type": document.TypeSF9})
	assert.Equal(t, http.StatusBadRequest, res.code, "SF9 needs a school year")

	res = upload(pdfBytes, map[string]string{"document_type": document.TypeSF9, "school_year_id": sy.ID})
	require.Equal(t, http.StatusCreated, res.code, string(res.body))
	var doc document.Document
	require.NoError(t, json.Unmarshal(res.body, &doc))
	assert.Equal(t, int64(len(pdfBytes)), doc.FileSize)
	assert.Equal(t, sy.ID, doc.SchoolYearID.String)
	assert.NotEmpty(t, doc.FileURL)

	runTests(t, app, []httpTest{
		{name: "list", path: "/v1/documents?student_id=" + s.ID, token: teacherToken, wantData: marchallObj(t, []document.Document{doc})},
		{name: "detail", path: "/v1/documents/" + doc.ID, token: teacherToken, wantData: marchallObj(t, doc)},
		{name: "admin required to delete", method: http.MethodDelete, path: "/v1/documents/" + doc.ID, token: teacherToken,
			wantCode: http.StatusForbidden},
		{name: "delete", method: http.MethodDelete, path: "/v1/documents/" + doc.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/documents/" + doc.ID, token: teacherToken, wantCode: http.StatusNotFound},
	})
}

func Test_documentApi_metadata(t *testing.T) {
	app, env := setup(t)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	token := getToken(t, env.Conf, teacher)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	s := testutil.CreateStudent(t, env, "123456789012", "Juan", "Cruz")
	path := "/v1/documents/students/" + s.ID + "/metadata"

	runTests(t, app, []httpTest{
		{name: "invalid type", path: path + "?document_type=SF1", token: token, wantCode: http.StatusBadRequest,
			wantData: []byte(`{"document_type":"document type must be one of SF9 or SF10"}`)},
		{name: "metadata required", method: http.MethodPut, path: path, token: token,
			body: []byte(`{"document_type":"SF9","school_year_id":"` + sy.ID + `"}`), wantCode: http.StatusBadRequest},
	})

	update := func(values map[string]string) {
		body := marchallObj(t, document.UpdateMetadata{DocumentType: document.TypeSF9, SchoolYearID: sy.ID, Values: values})
		rec := serve(app, http.MethodPut, path, token, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	update(map[string]string{"adviser": "Jose Rizal", "days_present": "180"})
	update(map[string]string{"days_present": "185"})

	rec := serve(app, http.MethodGet, path+"?document_type=SF9&school_year_id="+sy.ID, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history struct {
		Metadata struct {
			Values map[string]string `json:"metadata"`
		} `json:"metadata"`
		Edits []document.Edit `json:"edits"`
	}
	decode(t, rec, &history)
	assert.Equal(t, map[string]string{"adviser": "Jose Rizal", "days_present": "185"}, history.Metadata.Values)
	assert.Len(t, history.Edits, 3)
}

type jsonRecorder struct {
	code int
	body []byte
}
