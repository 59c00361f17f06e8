package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func csrfHandler() http.Handler {
	return NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRF_GetWithoutCookie_SetsToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != csrfCookieName || c.Value == "" {
		t.Errorf("cookie = %s=%s, want a non-empty %s", c.Name, c.Value, csrfCookieName)
	}
	if c.HttpOnly {
		t.Error("CSRF cookie must be readable by the page")
	}
}

func TestCSRF_GetWithCookie_NoNewToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing token must not be replaced")
	}
}

func TestCSRF_PostWithoutCookie_Forbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/add-car", nil)
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRF_PostWithHeaderToken_Allowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/add-car", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	req.Header.Set(csrfHeaderName, "token-1")
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCSRF_PostWithFormToken_Allowed(t *testing.T) {
	body := strings.NewReader(csrfFieldName + "=token-1")
	req := httptest.NewRequest(http.MethodPost, "/add-car", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCSRF_PostTokenMismatch_Forbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/add-car", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	req.Header.Set(csrfHeaderName, "token-2")
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRF_PostCookieOnlyWithoutSubmittedToken_Forbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/add-car", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	rec := httptest.NewRecorder()
	csrfHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRFTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := CSRFTokenFromRequest(req); got != "" {
		t.Errorf("token without cookie = %q, want empty", got)
	}

	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	if got := CSRFTokenFromRequest(req); got != "token-1" {
		t.Errorf("token = %q, want %q", got, "token-1")
	}
}

func TestCSRFTokenHandler_NoCookie_IssuesToken(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"})
	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Fatal("token must not be empty")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != csrfCookieName || c.Value != body.Token {
		t.Errorf("cookie = %s=%s, want %s carrying the issued token", c.Name, c.Value, csrfCookieName)
	}
	if c.Domain != "example.com" {
		t.Errorf("cookie domain = %q, want example.com", c.Domain)
	}
}

func TestCSRFTokenHandler_ExistingCookie_Echoed(t *testing.T) {
	handler := NewCSRFTokenHandler(CSRFConfig{})
	req := httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token-1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "token-1" {
		t.Errorf("token = %q, want the existing cookie value", body.Token)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing token must not be replaced")
	}
}
