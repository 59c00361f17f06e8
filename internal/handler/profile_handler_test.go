package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

func TestProfileHandler_Show_ReturnsIdentity(t *testing.T) {
	h := NewProfileHandler(&mockSessionService{}, handlerLogger())

	req := authedRequest(http.MethodGet, "/profile", "")
	rec := httptest.NewRecorder()
	h.Show(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["uid"] != "uid-1" || resp["email"] != "taro@example.com" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestProfileHandler_Show_Unauthenticated_Unauthorized(t *testing.T) {
	h := NewProfileHandler(&mockSessionService{}, handlerLogger())

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	sess := &model.Session{ID: "anon", Status: model.SessionResolved}
	req = req.WithContext(middleware.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	h.Show(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProfileHandler_Update_CallsSessionService(t *testing.T) {
	var gotName, gotPhoto string
	sessions := &mockSessionService{
		updateProfileFn: func(ctx context.Context, s *model.Session, displayName, photoURL string) error {
			gotName, gotPhoto = displayName, photoURL
			s.Identity.DisplayName = displayName
			s.Identity.PhotoURL = photoURL
			return nil
		},
	}
	h := NewProfileHandler(sessions, handlerLogger())

	body := `{"displayName":"Jiro Yamada","photoUrl":"https://images.example.com/jiro.png"}`
	req := authedRequest(http.MethodPost, "/profile", body)
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if gotName != "Jiro Yamada" || gotPhoto != "https://images.example.com/jiro.png" {
		t.Errorf("update called with name=%q photo=%q", gotName, gotPhoto)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["displayName"] != "Jiro Yamada" {
		t.Errorf("displayName = %q, want the updated name", resp["displayName"])
	}
}

func TestProfileHandler_Update_MissingDisplayName_Rejected(t *testing.T) {
	sessions := &mockSessionService{
		updateProfileFn: func(ctx context.Context, s *model.Session, displayName, photoURL string) error {
			t.Error("update must not be called without a display name")
			return nil
		},
	}
	h := NewProfileHandler(sessions, handlerLogger())

	req := authedRequest(http.MethodPost, "/profile", `{"displayName":""}`)
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProfileHandler_Update_InvalidBody_Rejected(t *testing.T) {
	h := NewProfileHandler(&mockSessionService{}, handlerLogger())

	req := authedRequest(http.MethodPost, "/profile", "")
	req.Body = http.NoBody
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
