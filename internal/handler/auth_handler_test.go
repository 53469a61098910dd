package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/postdeck/internal/auth"
	"github.com/hitoshi/postdeck/internal/model"
)

func TestLogin_WrongPasswordReturns401(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "acme", "password": "nope"})

	assertError(t, w, http.StatusUnauthorized, "Invalid credentials")
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			t.Error("failed login must not set a session cookie")
		}
	}
}

func TestLogin_SuccessSetsCookie(t *testing.T) {
	env := newTestEnv(t)
	var gotIP string
	env.auth.loginFn = func(_ context.Context, username, password, clientIP string) (*model.SessionUser, error) {
		gotIP = clientIP
		if username == "acme" && password == "secret" {
			return testClient7, nil
		}
		return nil, model.NewInvalidCredentialsError()
	}

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "acme", "password": "secret"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["ok"] != true || body["role"] != "client" || body["username"] != "acme" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["token"]; ok {
		t.Error("token must not appear in the response body")
	}
	if gotIP == "" {
		t.Error("client IP should be passed to the service")
	}

	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatal("expected session cookie")
	}

	me := env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	user, _ := decodeBody(t, me)["user"].(map[string]any)
	if user["id"] != testClient7.ID || user["role"] != "client" {
		t.Errorf("me user = %v", user)
	}
}


func TestLogin_ClientIPIgnoresForwardedHeadersByDefault(t *testing.T) {
	env := newTestEnv(t)
	var gotIP string
	env.auth.loginFn = func(_ context.Context, _, _, clientIP string) (*model.SessionUser, error) {
		gotIP = clientIP
		return nil, model.NewInvalidCredentialsError()
	}
	login := func() {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"acme","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:41000"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		req.Header.Set("X-Real-IP", "198.51.100.2")
		env.router.ServeHTTP(httptest.NewRecorder(), req)
	}

	login()
	if gotIP != "203.0.113.9" {
		t.Errorf("clientIP = %q, want the RemoteAddr host", gotIP)
	}

	// 信頼できるプロキシの背後ではヘッダーを採用する
	deps := env.routerDeps()
	deps.TrustProxyHeaders = true
	env.router = NewRouter(deps)
	login()
	if gotIP != "198.51.100.2" {
		t.Errorf("clientIP behind trusted proxy = %q, want X-Real-IP", gotIP)
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/auth/login", "", "not an object")
	assertError(t, w, http.StatusBadRequest, "Invalid request body")
}

func TestMe_AnonymousReturnsNullUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/auth/me", "", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := decodeBody(t, w)
	user, ok := body["user"]
	if !ok || user != nil {
		t.Errorf("body = %v, want {user:null}", body)
	}
}

func TestLogout_ThenProtectedRouteIs401(t *testing.T) {
	env := newTestEnv(t)
	token := env.loginAs(t, testClient7)

	if w := env.do(t, http.MethodGet, "/api/posts", token, nil); w.Code != http.StatusOK {
		t.Fatalf("before logout: status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	if w.Code != http.StatusOK || decodeBody(t, w)["ok"] != true {
		t.Fatalf("logout failed: %d", w.Code)
	}
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout should expire the session cookie")
	}

	after := env.do(t, http.MethodGet, "/api/posts", token, nil)
	assertError(t, after, http.StatusUnauthorized, "Unauthorized")
}

func TestLogout_AnonymousStillOK(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/auth/logout", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSetupAdmin(t *testing.T) {
	env := newTestEnv(t)
	created := false
	env.auth.setupAdminFn = func(_ context.Context, username, password, code string) (*model.SessionUser, error) {
		if created {
			return nil, model.NewAdminAlreadyExistsError()
		}
		if code != "letmein" {
			return nil, model.NewInvalidSetupCodeError()
		}
		created = true
		return testAdmin, nil
	}
	req := map[string]string{"username": "boss", "password": "pw", "setupCode": "wrong"}

	assertError(t, env.do(t, http.MethodPost, "/api/auth/setup-admin", "", req), http.StatusForbidden, "Invalid setup code")

	req["setupCode"] = "letmein"
	w := env.do(t, http.MethodPost, "/api/auth/setup-admin", "", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(w.Result().Cookies()) == 0 {
		t.Error("setup-admin should log the new admin in")
	}

	assertError(t, env.do(t, http.MethodPost, "/api/auth/setup-admin", "", req), http.StatusConflict, "Admin already exists")
}

func TestCreateUser_Gate(t *testing.T) {
	env := newTestEnv(t)
	env.auth.createUserFn = func(_ context.Context, caller *model.SessionUser, username, _ string, role model.Role) (*model.SessionUser, error) {
		if caller == nil || !caller.IsAdmin() {
			return nil, errors.New("gate bypassed")
		}
		return &model.SessionUser{ID: "new", Username: username, Role: role}, nil
	}
	req := map[string]string{"username": "newco", "password": "pw", "role": "client"}

	assertError(t, env.do(t, http.MethodPost, "/api/auth/create-user", "", req), http.StatusUnauthorized, "Unauthorized")
	assertError(t, env.do(t, http.MethodPost, "/api/auth/create-user", env.loginAs(t, testClient7), req), http.StatusForbidden, "Unauthorized")

	w := env.do(t, http.MethodPost, "/api/auth/create-user", env.loginAs(t, testAdmin), req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	user, _ := decodeBody(t, w)["user"].(map[string]any)
	if user["username"] != "newco" || user["role"] != "client" {
		t.Errorf("user = %v", user)
	}
}
