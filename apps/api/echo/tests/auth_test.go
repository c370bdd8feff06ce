package tests

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	echoapi "github.com/ampayon/gradebook/apps/api/echo"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	emailsvc "github.com/ampayon/gradebook/services/email"
	"github.com/ampayon/gradebook/tests"
)

func Test_authApi_login(t *testing.T) {
	app, env := setup(t)

	admin := testutil.CreateAdmin(t, env)
	naughty := testutil.CreateUser(t, env.UserRepo, "N", "Dog", "ndog@deped.gov.ph", testutil.DefaultPassword, []string{user.RoleTeacher}, false)
	outsider := testutil.CreateUser(t, env.UserRepo, "Out", "Sider", "out@gmail.com", testutil.DefaultPassword, []string{user.RoleTeacher}, true)

	// a student logs in with their LRN
	studUsr := testutil.CreateUser(t, env.UserRepo, "Juan", "Cruz", "juan@mail.test", testutil.DefaultPassword, []string{user.RoleStudent}, true)
	_, err := env.Students.Create(context.Background(), student.NewStudent{
		UserID:     null.StringFrom(studUsr.ID),
		LRN:        "123456789012",
		FirstName:  "Juan",
		LastName:   "Cruz",
		GradeLevel: 11,
	}, "")
	require.NoError(t, err)
	testutil.CreateStudent(t, env, "123456789013", "No", "Account")

	login := func(username, pwd string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: username, Password: pwd})
	}
	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})

	tests := []httpTest{
		{name: "missing fields", body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"username":"this field is required","password":"this field is required"}`)},
		{name: "unknown email", body: login("nobody@deped.gov.ph", testutil.DefaultPassword), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "wrong password", body: login(admin.Email, "wrong"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "unknown LRN", body: login("999999999999", testutil.DefaultPassword), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "LRN without account", body: login("123456789013", testutil.DefaultPassword), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "deactivated", body: login(naughty.Email, testutil.DefaultPassword), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "staff outside the school domain", body: login(outsider.Email, testutil.DefaultPassword), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "staff accounts must use the school email domain"})},
		{name: "email is case insensitive", body: login(strings.ToUpper(admin.Email), testutil.DefaultPassword), extra: admin.ID},
		{name: "LRN", body: login("123456789012", testutil.DefaultPassword), extra: studUsr.ID},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/login"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if wantID, ok := tt.extra.(string); ok {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var res echoapi.LoginResponse
				decode(t, rec, &res)
				assert.Equal(t, wantID, res.User.ID)
				assert.True(t, res.User.LastLogin.Valid)
				assert.NotEmpty(t, res.Token)

				// the token opens authed endpoints
				me := serve(app, http.MethodGet, "/v1/auth/me", res.Token)
				assert.Equal(t, http.StatusOK, me.Code)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_registerAndApprove(t *testing.T) {
	app, env := setup(t)
	admin := testutil.CreateAdmin(t, env)

	body := marchallObj(t, user.NewUser{
		FirstName:       "Maria",
		LastName:        "Santos",
		Email:           "msantos@deped.gov.ph",
		Password:        "Tr1cky#Mango42",
		PasswordConfirm: "Tr1cky#Mango42",
		Roles:           []string{user.RoleAdmin}, // ignored
	})
	rec := serve(app, http.MethodPost, "/v1/auth/register", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var teacher user.User
	decode(t, rec, &teacher)
	assert.Equal(t, []string{user.RoleTeacher}, teacher.Roles)
	assert.False(t, teacher.IsApproved)

	login := marchallObj(t, echoapi.LoginRequest{Username: "msantos@deped.gov.ph", Password: "Tr1cky#Mango42"})
	rec = serve(app, http.MethodPost, "/v1/auth/login", "", login)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"account is pending approval by an administrator"}`, rec.Body.String())

	// the admin sees and approves the pending teacher
	adminToken := getToken(t, env.Conf, admin)
	rec = serve(app, http.MethodGet, "/v1/users/pending", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []user.User
	decode(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, teacher.ID, pending[0].ID)

	rec = serve(app, http.MethodPost, "/v1/users/"+teacher.ID+"/approve", adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = serve(app, http.MethodPost, "/v1/users/"+teacher.ID+"/approve", adminToken)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(app, http.MethodPost, "/v1/auth/login", "", login)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// registration rejects emails outside the school domain
	body = marchallObj(t, user.NewUser{
		FirstName:       "Pedro",
		LastName:        "Reyes",
		Email:           "pedro@gmail.com",
		Password:        "Tr1cky#Mango42",
		PasswordConfirm: "Tr1cky#Mango42",
	})
	rec = serve(app, http.MethodPost, "/v1/auth/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "official email address")
}

func Test_authApi_logout(t *testing.T) {
	app, env := setup(t)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	token := getToken(t, env.Conf, teacher)

	runTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/auth/logout", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "logged out", method: http.MethodPost, path: "/v1/auth/logout", token: token, wantCode: http.StatusNoContent},
		{name: "token revoked", path: "/v1/auth/me", token: token, wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "token has been revoked"})},
		{name: "new token still works", path: "/v1/auth/me", token: getToken(t, env.Conf, teacher), wantData: marchallObj(t, teacher)},
	})
}

func Test_authApi_refreshToken(t *testing.T) {
	app, env := setup(t)

	naughty := testutil.CreateUser(t, env.UserRepo, "N", "Dog", "ndog@mail.test", "", []string{user.RoleStudent}, false)
	stud := testutil.CreateUser(t, env.UserRepo, "Hero", "Student", "hero@mail.test", "", []string{user.RoleStudent}, true)

	now := time.Now()
	unrefreshable := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    env.Conf.AppName,
			Subject:   stud.ID,
			ExpiresAt: now.Add(env.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * env.Conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsStudent:    true,
		Roles:        stud.Roles,
	}
	unrefreshableToken, err := echoapi.GenerateToken(env.Conf, unrefreshable)
	require.NoError(t, err)

	runTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/auth/token-refresh", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken)},
		{name: "inactive user", method: http.MethodPost, path: "/v1/auth/token-refresh", token: getToken(t, env.Conf, naughty),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "refresh period expired", method: http.MethodPost, path: "/v1/auth/token-refresh", token: unrefreshableToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
	})

	token := getToken(t, env.Conf, stud)
	rec := serve(app, http.MethodPost, "/v1/auth/token-refresh", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res echoapi.TokenResponse
	decode(t, rec, &res)
	require.NotEmpty(t, res.Token)

	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/v1/auth/me", res.Token).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(app, http.MethodGet, "/v1/auth/me", token).Code, "refreshed token is revoked")
}

func Test_authApi_passwordReset(t *testing.T) {
	app, env := setup(t)
	teacher := testutil.CreateTeacher(t, env, "Andres", "Bonifacio")
	naughty := testutil.CreateUser(t, env.UserRepo, "N", "Dog", "ndog@deped.gov.ph", testutil.DefaultPassword, []string{user.RoleTeacher}, false)

	success := marchallObj(t, echoapi.SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
	request := func(email string) []byte { return marchallObj(t, echoapi.PasswordResetRequest{Email: email}) }

	tests := []httpTest{
		{name: "invalid email", body: request("lol"), wantCode: http.StatusBadRequest},
		{name: "unknown email", body: request("nobody@deped.gov.ph"), wantData: success, extra: false},
		{name: "inactive user", body: request(naughty.Email), wantData: success, extra: false},
		{name: "active user", body: request(teacher.Email), wantData: success, extra: true},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/auth/password-reset"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSent()
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if sent, ok := tt.extra.(bool); ok {
				msgs := emailsvc.Sent()
				if !sent {
					assert.Empty(t, msgs)
					return
				}
				require.Len(t, msgs, 1)
				assert.Equal(t, teacher.Email, msgs[0].To[0].Address)
				assert.Contains(t, msgs[0].TextContent, teacher.FirstName)
			}
		})
	}

	confirm := func(uid, token, pwd string) []byte {
		return marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: pwd, PasswordConfirm: pwd})
	}
	uid := user.EncodeUID(teacher)
	runTests(t, app, []httpTest{
		{name: "invalid token", method: http.MethodPost, path: "/v1/auth/password-reset-confirm",
			body: confirm(uid, "bad-token", "Tr1cky#Mango42"), wantCode: http.StatusBadRequest},
		{name: "password reset", method: http.MethodPost, path: "/v1/auth/password-reset-confirm",
			body:     confirm(uid, env.Users.PasswordResetToken(teacher), "Tr1cky#Mango42"),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."})},
		{name: "login with the new password", method: http.MethodPost, path: "/v1/auth/login",
			body: marchallObj(t, echoapi.LoginRequest{Username: teacher.Email, Password: "Tr1cky#Mango42"})},
	})
}

func Test_authApi_me(t *testing.T) {
	app, env := setup(t)
	teacher := testutil.CreateTeacher(t, env, "Gabriela", "Silang")
	token := getToken(t, env.Conf, teacher)

	runTests(t, app, []httpTest{
		{name: "roles are not editable", method: http.MethodPut, path: "/v1/auth/me", token: token,
			body: []byte(`{"roles":["admin:"]}`), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "wrong current password", method: http.MethodPost, path: "/v1/auth/me/password", token: token,
			body:     []byte(`{"current_password":"nope","password":"Tr1cky#Mango42","password_confirm":"Tr1cky#Mango42"}`),
			wantCode: http.StatusBadRequest},
		{name: "password changed", method: http.MethodPost, path: "/v1/auth/me/password", token: token,
			body: []byte(`{"current_password":"` + testutil.DefaultPassword + `","password":"Tr1cky#Mango42","password_confirm":"Tr1cky#Mango42"}`),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been changed."})},
	})

	rec := serve(app, http.MethodPut, "/v1/auth/me", token, []byte(`{"first_name":"  Gabi "}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usr user.User
	decode(t, rec, &usr)
	assert.Equal(t, "Gabi", usr.FirstName)
	assert.Equal(t, teacher.LastName, usr.LastName)
}
