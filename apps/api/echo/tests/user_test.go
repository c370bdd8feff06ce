package tests

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core/user"
	"github.com/ampayon/gradebook/tests"
)

func Test_userApi_access(t *testing.T) {
	app, env := setup(t)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")

	runTests(t, app, []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "bad token", path: "/v1/users", token: "lol", wantCode: http.StatusUnauthorized},
		{name: "admin required", path: "/v1/users", token: getToken(t, env.Conf, teacher), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden)},
	})
}

func Test_userApi_query(t *testing.T) {
	app, env := setup(t)

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Apolinario", "Mabini")
	stud := testutil.CreateUser(t, env.UserRepo, "Hero", "Student", "hero@mail.test", "", []string{user.RoleStudent}, true)
	naughty := testutil.CreateUser(t, env.UserRepo, "N", "Dog", "ndog@mail.test", "", []string{user.RoleStudent}, false)
	adminToken := getToken(t, env.Conf, admin)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/v1/users?" + v.Encode()
	}

	runTests(t, app, []httpTest{
		{name: "all", path: "/v1/users", token: adminToken, wantData: marchallObj(t, []user.User{admin, teacher, stud, naughty})},
		{name: "search (unknown)", path: path("search", "lol"), token: adminToken, wantData: []byte(`[]`)},
		{name: "search", path: path("search", "mabini"), token: adminToken, wantData: marchallObj(t, []user.User{teacher})},
		{name: "role", path: path("role", user.RoleStudent), token: adminToken, wantData: marchallObj(t, []user.User{stud, naughty})},
		{name: "is_active", path: path("is_active", "false"), token: adminToken, wantData: marchallObj(t, []user.User{naughty})},
		{name: "roles list", path: "/v1/users/roles", token: adminToken, wantData: marchallObj(t, user.Roles)},
		{name: "detail", path: "/v1/users/" + teacher.ID, token: adminToken, wantData: marchallObj(t, teacher)},
		{name: "detail (unknown)", path: "/v1/users/00000000-0000-0000-0000-000000000000", token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
	})
}

func Test_userApi_manage(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)
	adminToken := getToken(t, env.Conf, admin)

	newUser := func(email string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			FirstName:       "Emilio",
			LastName:        "Aguinaldo",
			Email:           email,
			Password:        "Tr1cky#Mango42",
			PasswordConfirm: "Tr1cky#Mango42",
			Roles:           roles,
		})
	}

	runTests(t, app, []httpTest{
		{name: "invalid roles", method: http.MethodPost, path: "/v1/users", token: adminToken,
			body: newUser("emilio@deped.gov.ph", "lol"), wantCode: http.StatusBadRequest, wantData: []byte(`{"roles":"invalid roles"}`)},
		{name: "staff email domain", method: http.MethodPost, path: "/v1/users", token: adminToken,
			body: newUser("emilio@gmail.com", user.RoleTeacher), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email":"admin and teacher accounts must use an official email address"}`)},
		{name: "student email is free", method: http.MethodPost, path: "/v1/users", token: adminToken,
			body: newUser("emilio@gmail.com", user.RoleStudent), wantCode: http.StatusCreated},
		{name: "duplicate email", method: http.MethodPost, path: "/v1/users", token: adminToken,
			body: newUser("EMILIO@gmail.com", user.RoleStudent), wantCode: http.StatusBadRequest},
	})

	rec := serve(app, http.MethodPost, "/v1/users", adminToken, newUser("emilio@deped.gov.ph", user.RoleTeacher))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var teacher user.User
	decode(t, rec, &teacher)
	assert.True(t, teacher.IsApproved, "teachers created by an admin are approved")

	rec = serve(app, http.MethodPut, "/v1/users/"+teacher.ID, adminToken, []byte(`{"last_name":"Aguinaldo Jr."}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &teacher)
	assert.Equal(t, "Aguinaldo Jr.", teacher.LastName)

	runTests(t, app, []httpTest{
		{name: "cannot deactivate myself", method: http.MethodPut, path: "/v1/users/" + admin.ID, token: adminToken,
			body: []byte(`{"is_active":false}`), wantCode: http.StatusBadRequest},
		{name: "cannot delete myself", method: http.MethodDelete, path: "/v1/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "cannot bulk delete myself", method: http.MethodDelete, path: "/v1/users?id=" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden},
		{name: "deactivate", method: http.MethodPost, path: "/v1/users/" + teacher.ID + "/deactivate", token: adminToken},
		{name: "deactivated user is locked out", path: "/v1/auth/me", token: getToken(t, env.Conf, teacher),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "delete", method: http.MethodDelete, path: "/v1/users/" + teacher.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "deleted", path: "/v1/users/" + teacher.ID, token: adminToken, wantCode: http.StatusNotFound},
	})
}
