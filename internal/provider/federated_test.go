// federated_test.go — unit-тесты федеративного OIDC-провайдера.
package provider

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// makeIDToken собирает id_token с указанными клеймами.
// Подпись тестовым ключом: без JWKS провайдер разбирает токен без проверки.
func makeIDToken(t *testing.T, preferredUsername, name string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"preferred_username": preferredUsername,
		"name":               name,
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("idp-key"))
	if err != nil {
		t.Fatalf("подпись id_token: %v", err)
	}
	return signed
}

// newFederatedForTest собирает федеративный провайдер над httptest-IDP.
func newFederatedForTest(t *testing.T, store *fakeStore, idToken string) (*FederatedProvider, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","id_token":"` + idToken + `"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewOIDCClient(OIDCClientConfig{
		ClientID:     "taskflow-client",
		ClientSecret: "s3cr3t",
		AuthorizeURL: srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
	})

	return NewFederatedProvider("okta", client, store, "", nil, testLogger()), srv
}

// TestFederatedLoginRedirect проверяет формирование redirect на IDP
// и стабильность redirect_uri между вызовами.
func TestFederatedLoginRedirect(t *testing.T) {
	p, _ := newFederatedForTest(t, newFakeStore(), "")

	r := httptest.NewRequest("GET", "http://app.example.com/api/aaa/login/okta", nil)
	result, err := p.Login(r)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Kind != LoginRedirect {
		t.Fatalf("Kind = %v, ожидался LoginRedirect", result.Kind)
	}

	parsed, err := url.Parse(result.RedirectURL)
	if err != nil {
		t.Fatalf("разбор redirect URL: %v", err)
	}
	redirectURI := parsed.Query().Get("redirect_uri")
	if redirectURI != "http://app.example.com/api/aaa/auth" {
		t.Errorf("redirect_uri = %q", redirectURI)
	}

	// Повторный login с другим Host не меняет закреплённый redirect_uri
	r2 := httptest.NewRequest("GET", "http://other.example.com/api/aaa/login/okta", nil)
	result2, err := p.Login(r2)
	if err != nil {
		t.Fatalf("повторный Login: %v", err)
	}
	parsed2, _ := url.Parse(result2.RedirectURL)
	if got := parsed2.Query().Get("redirect_uri"); got != redirectURI {
		t.Errorf("redirect_uri изменился между вызовами: %q != %q", got, redirectURI)
	}
}

// TestFederatedLoginForwardedProto проверяет учёт X-Forwarded-Proto
// при вычислении redirect_uri.
func TestFederatedLoginForwardedProto(t *testing.T) {
	p, _ := newFederatedForTest(t, newFakeStore(), "")

	r := httptest.NewRequest("GET", "http://app.example.com/api/aaa/login/okta", nil)
	r.Header.Set("X-Forwarded-Proto", "https")

	result, err := p.Login(r)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	parsed, _ := url.Parse(result.RedirectURL)
	if got := parsed.Query().Get("redirect_uri"); !strings.HasPrefix(got, "https://") {
		t.Errorf("redirect_uri = %q, ожидалась схема https", got)
	}
}

// TestFederatedAuthorizeWithoutLogin проверяет отказ authorize
// без предшествующего login.
func TestFederatedAuthorizeWithoutLogin(t *testing.T) {
	p, _ := newFederatedForTest(t, newFakeStore(), "")

	r := httptest.NewRequest("GET", "http://app.example.com/api/aaa/auth?code=abc", nil)
	ok, err := p.Authorize(r)
	if ok {
		t.Error("Authorize = true без login")
	}
	if err == nil {
		t.Error("ожидалась ошибка authorize без login")
	}
}

// TestFederatedFullFlow проверяет полный цикл login → callback:
// обмен кода, разбор id_token, сверка пользователя.
func TestFederatedFullFlow(t *testing.T) {
	store := newFakeStore()
	idToken := makeIDToken(t, "bob", "Bob Builder")
	p, _ := newFederatedForTest(t, store, idToken)

	loginReq := httptest.NewRequest("GET", "http://app.example.com/api/aaa/login/okta", nil)
	result, err := p.Login(loginReq)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	parsed, _ := url.Parse(result.RedirectURL)
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("authorize URL без state")
	}

	cbReq := httptest.NewRequest("GET",
		"http://app.example.com/api/aaa/auth?code=abc&state="+url.QueryEscape(state), nil)
	ok, err := p.Authorize(cbReq)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !ok {
		t.Fatal("Authorize = false, ожидался успех")
	}

	user := p.CurrentUser()
	if user == nil || user.Username != "bob" {
		t.Fatalf("CurrentUser = %+v, ожидался bob", user)
	}
	if user.AAAProvider != "okta" {
		t.Errorf("AAAProvider = %q, ожидалось okta", user.AAAProvider)
	}
	if len(store.upserts) != 1 || store.upserts[0] != "bob" {
		t.Errorf("журнал upsert = %v", store.upserts)
	}
	if p.LoggedInUser() != "bob" {
		t.Errorf("LoggedInUser = %q", p.LoggedInUser())
	}
}

// TestFederatedAuthorizeStateMismatch проверяет отклонение callback
// с посторонним state.
func TestFederatedAuthorizeStateMismatch(t *testing.T) {
	p, _ := newFederatedForTest(t, newFakeStore(), makeIDToken(t, "bob", ""))

	loginReq := httptest.NewRequest("GET", "http://app.example.com/api/aaa/login/okta", nil)
	if _, err := p.Login(loginReq); err != nil {
		t.Fatalf("Login: %v", err)
	}

	cbReq := httptest.NewRequest("GET", "http://app.example.com/api/aaa/auth?code=abc&state=чужой", nil)
	ok, err := p.Authorize(cbReq)
	if ok {
		t.Error("Authorize = true при несовпадающем state")
	}
	if err == nil {
		t.Error("ожидалась ошибка несовпадающего state")
	}
}

// TestFederatedAuthorizeMissingUsername проверяет отклонение id_token
// без preferred_username.
func TestFederatedAuthorizeMissingUsername(t *testing.T) {
	p, _ := newFederatedForTest(t, newFakeStore(), makeIDToken(t, "", "Nameless"))

	loginReq := httptest.NewRequest("GET", "http://app.example.com/api/aaa/login/okta", nil)
	result, err := p.Login(loginReq)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	parsed, _ := url.Parse(result.RedirectURL)
	state := parsed.Query().Get("state")

	cbReq := httptest.NewRequest("GET",
		"http://app.example.com/api/aaa/auth?code=abc&state="+url.QueryEscape(state), nil)
	ok, err := p.Authorize(cbReq)
	if ok {
		t.Error("Authorize = true для id_token без preferred_username")
	}
	if err == nil {
		t.Error("ожидалась ошибка")
	}
	if p.CurrentUser() != nil {
		t.Error("CurrentUser не nil после неуспешной авторизации")
	}
}
