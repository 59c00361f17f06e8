package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/metrics"
	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

// mockSessionService はSessionServiceのモック実装。
type mockSessionService struct {
	registerFn          func(ctx context.Context, email, password string) (*model.Session, error)
	signInFn            func(ctx context.Context, email, password string) (*model.Session, error)
	federatedURLFn      func(redirectTo string) (string, string, error)
	completeFederatedFn func(ctx context.Context, code, verifier string) (*model.Session, error)
	signOutFn           func(ctx context.Context, s *model.Session) error
	sendPasswordResetFn func(ctx context.Context, email string) error
	updateProfileFn     func(ctx context.Context, s *model.Session, displayName, photoURL string) error
	busy                bool
}

func (m *mockSessionService) Register(ctx context.Context, email, password string) (*model.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return authedSession(), nil
}

func (m *mockSessionService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return authedSession(), nil
}

func (m *mockSessionService) FederatedSignInURL(redirectTo string) (string, string, error) {
	if m.federatedURLFn != nil {
		return m.federatedURLFn(redirectTo)
	}
	return "https://idp.example.com/authorize?redirect_to=" + redirectTo, "verifier-1", nil
}

func (m *mockSessionService) CompleteFederatedSignIn(ctx context.Context, code, verifier string) (*model.Session, error) {
	if m.completeFederatedFn != nil {
		return m.completeFederatedFn(ctx, code, verifier)
	}
	return authedSession(), nil
}

func (m *mockSessionService) SignOut(ctx context.Context, s *model.Session) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, s)
	}
	return nil
}

func (m *mockSessionService) SendPasswordReset(ctx context.Context, email string) error {
	if m.sendPasswordResetFn != nil {
		return m.sendPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockSessionService) UpdateProfile(ctx context.Context, s *model.Session, displayName, photoURL string) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, s, displayName, photoURL)
	}
	return nil
}

func (m *mockSessionService) TokenSource(s *model.Session) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		if s.AccessToken == "" {
			return "", model.NewStateError("not signed in")
		}
		return s.AccessToken, nil
	}
}

func (m *mockSessionService) Busy() bool {
	return m.busy
}

var _ SessionService = (*mockSessionService)(nil)

// noopMetrics はMetricsCollectorの何もしない実装。
type noopMetrics struct{}

func (noopMetrics) RecordSignIn(method string)                  {}
func (noopMetrics) RecordSignInFailure(method string)           {}
func (noopMetrics) RecordBooking()                              {}
func (noopMetrics) RecordCancellation()                         {}
func (noopMetrics) RecordListingCreated()                       {}
func (noopMetrics) RecordBackendStatus(statusCode int)          {}
func (noopMetrics) RecordBackendLatency(duration time.Duration) {}

var _ metrics.MetricsCollector = noopMetrics{}

func authedSession() *model.Session {
	return &model.Session{
		ID:     "sess-1",
		Status: model.SessionResolved,
		Identity: &model.Identity{
			UID:         "uid-1",
			DisplayName: "Taro Yamada",
			Email:       "taro@example.com",
			PhotoURL:    "https://images.example.com/taro.png",
		},
		AccessToken: "access-1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func handlerLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newBackendStub はバックエンドAPIを模したサーバーとクライアントを返す。
func newBackendStub(t *testing.T, handler http.HandlerFunc) *api.Client {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"insertedId":"user-1"}`))
		}
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return api.NewClient(&http.Client{Timeout: 5 * time.Second}, handlerLogger(), ts.URL, nil)
}

func newAuthHandler(t *testing.T, sessions *mockSessionService, backendHandler http.HandlerFunc) *AuthHandler {
	t.Helper()
	return NewAuthHandler(sessions, newBackendStub(t, backendHandler), AuthHandlerConfig{
		BaseURL:       "https://rentwheels.example.com",
		SessionMaxAge: 3600,
	}, noopMetrics{}, handlerLogger())
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}

// --- Register ---

func TestAuthHandler_Register_Success(t *testing.T) {
	var registeredUser api.UserRegistration
	h := newAuthHandler(t, &mockSessionService{}, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&registeredUser)
		w.Write([]byte(`{"insertedId":"user-1"}`))
	})

	body := `{"name":"Taro Yamada","email":"taro@example.com","password":"Password1","photoUrl":"https://images.example.com/taro.png"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body = %s", rec.Code, rec.Body.String())
	}

	c := sessionCookieFrom(t, rec)
	if c == nil || c.Value != "sess-1" {
		t.Error("expected a session cookie carrying the session ID")
	}
	if c != nil && !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UID != "uid-1" || resp.Email != "taro@example.com" {
		t.Errorf("unexpected response: %+v", resp)
	}

	// バックエンド側のユーザーレコード登録が行われている
	if registeredUser.Email != "taro@example.com" {
		t.Errorf("backend registration email = %q, want taro@example.com", registeredUser.Email)
	}
	if registeredUser.CreatedAt == "" {
		t.Error("backend registration createdAt must be set")
	} else if _, err := time.Parse(time.RFC3339, registeredUser.CreatedAt); err != nil {
		t.Errorf("backend registration createdAt = %q is not RFC3339: %v", registeredUser.CreatedAt, err)
	}
}

func TestAuthHandler_Register_MissingName_Rejected(t *testing.T) {
	sessions := &mockSessionService{
		registerFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			t.Error("register must not be called without a name")
			return nil, nil
		},
	}
	h := newAuthHandler(t, sessions, nil)

	body := `{"name":"  ","email":"taro@example.com","password":"Password1"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthHandler_Register_WeakPassword_BadRequest(t *testing.T) {
	sessions := &mockSessionService{
		registerFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewCredentialError("パスワードが要件を満たしていません")
		},
	}
	h := newAuthHandler(t, sessions, nil)

	body := `{"name":"Taro","email":"taro@example.com","password":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if sessionCookieFrom(t, rec) != nil {
		t.Error("failed registration must not set a session cookie")
	}
}

// --- Login ---

func TestAuthHandler_Login_Success(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	body := `{"email":"taro@example.com","password":"Password1"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c := sessionCookieFrom(t, rec); c == nil || c.Value != "sess-1" {
		t.Error("expected a session cookie")
	}
}

func TestAuthHandler_Login_InvalidCredentials_Unauthorized(t *testing.T) {
	sessions := &mockSessionService{
		signInFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewAuthenticationError("メールアドレスまたはパスワードが正しくありません", nil)
		},
	}
	h := newAuthHandler(t, sessions, nil)

	body := `{"email":"taro@example.com","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthHandler_Login_NextEchoedInResponse(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	body := `{"email":"taro@example.com","password":"Password1"}`
	req := httptest.NewRequest(http.MethodPost, "/login?next=%2Fmy-listing", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	var resp sessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Next != "/my-listing" {
		t.Errorf("next = %q, want /my-listing", resp.Next)
	}
}

// --- Google連携 ---

func TestAuthHandler_GoogleLogin_RedirectsWithVerifierCookie(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login?next=%2Fcar%2F42", nil)
	rec := httptest.NewRecorder()
	h.GoogleLogin(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "idp.example.com") {
		t.Errorf("Location = %q, want the authorization URL", rec.Header().Get("Location"))
	}

	var verifier, next *http.Cookie
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case pkceVerifierCookie:
			verifier = c
		case nextTargetCookie:
			next = c
		}
	}
	if verifier == nil || verifier.Value != "verifier-1" || !verifier.HttpOnly {
		t.Error("expected an HttpOnly verifier cookie")
	}
	if next == nil || next.Value != "/car/42" {
		t.Error("expected the next target to be carried through a cookie")
	}
}

func TestAuthHandler_GoogleCallback_Success(t *testing.T) {
	var gotCode, gotVerifier string
	sessions := &mockSessionService{
		completeFederatedFn: func(ctx context.Context, code, verifier string) (*model.Session, error) {
			gotCode, gotVerifier = code, verifier
			return authedSession(), nil
		},
	}
	h := newAuthHandler(t, sessions, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code-1", nil)
	req.AddCookie(&http.Cookie{Name: pkceVerifierCookie, Value: "verifier-1"})
	req.AddCookie(&http.Cookie{Name: nextTargetCookie, Value: "/car/42"})
	rec := httptest.NewRecorder()
	h.GoogleCallback(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307, body = %s", rec.Code, rec.Body.String())
	}
	if gotCode != "auth-code-1" || gotVerifier != "verifier-1" {
		t.Errorf("exchange called with code=%q verifier=%q", gotCode, gotVerifier)
	}
	if got := rec.Header().Get("Location"); got != "https://rentwheels.example.com/car/42" {
		t.Errorf("Location = %q, want the saved next target", got)
	}
	if c := sessionCookieFrom(t, rec); c == nil || c.Value != "sess-1" {
		t.Error("expected a session cookie")
	}
}

func TestAuthHandler_GoogleCallback_MissingVerifier_Unauthorized(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code-1", nil)
	rec := httptest.NewRecorder()
	h.GoogleCallback(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthHandler_GoogleCallback_ExternalNext_FallsBackToTop(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=auth-code-1", nil)
	req.AddCookie(&http.Cookie{Name: pkceVerifierCookie, Value: "verifier-1"})
	req.AddCookie(&http.Cookie{Name: nextTargetCookie, Value: "https://evil.example.com/"})
	rec := httptest.NewRecorder()
	h.GoogleCallback(rec, req)

	if got := rec.Header().Get("Location"); got != "https://rentwheels.example.com/" {
		t.Errorf("Location = %q, want the top page", got)
	}
}

// --- Logout ---

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), authedSession()))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	c := sessionCookieFrom(t, rec)
	if c == nil || c.MaxAge != -1 {
		t.Error("expected the session cookie to be cleared")
	}
}

func TestAuthHandler_Logout_ProviderFailure_KeepsCookie(t *testing.T) {
	sessions := &mockSessionService{
		signOutFn: func(ctx context.Context, s *model.Session) error {
			return model.NewAuthenticationError("サインアウトに失敗しました", nil)
		},
	}
	h := newAuthHandler(t, sessions, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), authedSession()))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if sessionCookieFrom(t, rec) != nil {
		t.Error("session cookie must be kept when sign-out fails")
	}
}

// --- Me ---

func TestAuthHandler_Me_Authenticated(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), authedSession()))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp sessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.UID != "uid-1" {
		t.Errorf("uid = %q, want uid-1", resp.UID)
	}
	if resp.Busy {
		t.Error("busy = true, want false while no auth operation is running")
	}
}

func TestAuthHandler_Me_OperationInFlight_ReportsBusy(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{busy: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), authedSession()))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	var resp sessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Busy {
		t.Error("busy = false, want true while an auth operation is running")
	}
}

func TestAuthHandler_Me_Unauthenticated_Unauthorized(t *testing.T) {
	h := newAuthHandler(t, &mockSessionService{}, nil)

	sess := &model.Session{ID: "anon", Status: model.SessionResolved}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// --- safeNext ---

func TestSafeNext(t *testing.T) {
	tests := []struct {
		next string
		want bool
	}{
		{"/my-listing", true},
		{"/car/42?from=search", true},
		{"", false},
		{"//evil.example.com", false},
		{"https://evil.example.com/", false},
		{"javascript:alert(1)", false},
		{"my-listing", false},
		{"/", true},
	}

	for _, tt := range tests {
		if got := safeNext(tt.next); got != tt.want {
			t.Errorf("safeNext(%q) = %v, want %v", tt.next, got, tt.want)
		}
	}
}
