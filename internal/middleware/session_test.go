package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rentwheels/web/internal/model"
)

// mockSessionLoader はSessionLoaderのモック実装。
type mockSessionLoader struct {
	beginFn   func() *model.Session
	lookupFn  func(ctx context.Context, id string) (*model.Session, error)
	resolveFn func(ctx context.Context, s *model.Session) error
}

func (m *mockSessionLoader) Begin() *model.Session {
	if m.beginFn != nil {
		return m.beginFn()
	}
	return &model.Session{ID: "new-session", Status: model.SessionResolving}
}

func (m *mockSessionLoader) Lookup(ctx context.Context, id string) (*model.Session, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionLoader) Resolve(ctx context.Context, s *model.Session) error {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, s)
	}
	s.Status = model.SessionResolved
	return nil
}

var _ SessionLoader = (*mockSessionLoader)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// captureSession はコンテキストからセッションを取り出して保存するハンドラーを返す。
func captureSession(dst **model.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := SessionFromContext(r.Context())
		if err == nil {
			*dst = sess
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddleware_Cookie_RestoresSession(t *testing.T) {
	restored := &model.Session{ID: "existing", Status: model.SessionResolving}
	loader := &mockSessionLoader{
		lookupFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "existing" {
				t.Errorf("lookup id = %q, want %q", id, "existing")
			}
			return restored, nil
		},
	}

	var injected *model.Session
	handler := NewSessionMiddleware(loader, SessionCookieConfig{MaxAge: 3600}, discardLogger())(captureSession(&injected))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "existing"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if injected != restored {
		t.Error("restored session must be injected into the request context")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no new cookie should be set for a restored session")
	}
}

func TestSessionMiddleware_NoCookie_BeginsAndSetsCookie(t *testing.T) {
	loader := &mockSessionLoader{}

	var injected *model.Session
	handler := NewSessionMiddleware(loader, SessionCookieConfig{Secure: true, MaxAge: 3600}, discardLogger())(captureSession(&injected))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if injected == nil || injected.ID != "new-session" {
		t.Fatal("expected a fresh session in the context")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != SessionCookieName || c.Value != "new-session" {
		t.Errorf("cookie = %s=%s, want %s=new-session", c.Name, c.Value, SessionCookieName)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Error("session cookie must be HttpOnly, Secure, and SameSite=Lax")
	}
}

func TestSessionMiddleware_ExpiredSession_BeginsNew(t *testing.T) {
	loader := &mockSessionLoader{
		lookupFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil // 失効済み
		},
	}

	var injected *model.Session
	handler := NewSessionMiddleware(loader, SessionCookieConfig{MaxAge: 3600}, discardLogger())(captureSession(&injected))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "stale"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if injected == nil || injected.ID != "new-session" {
		t.Error("expected a fresh session when the cookie refers to an expired session")
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("new session must set a cookie")
	}
}

func TestSessionMiddleware_ResolveFailure_RequestProceeds(t *testing.T) {
	loader := &mockSessionLoader{
		resolveFn: func(ctx context.Context, s *model.Session) error {
			return errors.New("identity provider unreachable")
		},
	}

	var injected *model.Session
	handler := NewSessionMiddleware(loader, SessionCookieConfig{MaxAge: 3600}, discardLogger())(captureSession(&injected))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if injected == nil {
		t.Fatal("session must still be injected on resolve failure")
	}
	if injected.Status != model.SessionResolving {
		t.Error("session must stay unresolved on resolve failure")
	}
}

func TestSessionFromContext_Missing_Error(t *testing.T) {
	_, err := SessionFromContext(context.Background())
	if err == nil {
		t.Error("expected an error for a context without a session")
	}
}
