package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

// ProfileHandler はプロフィールの参照・更新のHTTPハンドラー。
type ProfileHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(sessions SessionService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

// Show は現在のプロフィールを返す。
// GET /profile
func (h *ProfileHandler) Show(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"uid":         ident.UID,
		"displayName": ident.DisplayName,
		"email":       ident.Email,
		"photoUrl":    ident.PhotoURL,
	})
}

// Update は表示名とアイコンURLを更新する。
// POST /profile
//
// 更新は認証基盤側のプロフィールに反映され、成功後にセッションの
// Identityも更新される。
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewStateError("セッションがありません"))
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}
	if req.DisplayName == "" {
		middleware.WriteErrorResponse(w, model.NewValidationError("displayName", "表示名は必須です"))
		return
	}

	if err := h.sessions.UpdateProfile(r.Context(), sess, req.DisplayName, req.PhotoURL); err != nil {
		h.logger.Error("profile update failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"displayName": sess.Identity.DisplayName,
		"photoUrl":    sess.Identity.PhotoURL,
	})
}
