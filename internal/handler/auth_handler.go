// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/metrics"
	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

const (
	// pkceVerifierCookie はGoogle連携サインインのPKCE verifierを保持するCookie。
	pkceVerifierCookie = "oauth_verifier"

	// nextTargetCookie は連携サインイン完了後の遷移先を保持するCookie。
	nextTargetCookie = "auth_next"
)

// SessionService は認証ハンドラーが必要とするセッション操作のインターフェース。
// session.Storeの部分集合として定義する。
type SessionService interface {
	Register(ctx context.Context, email, password string) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	FederatedSignInURL(redirectTo string) (authURL, verifier string, err error)
	CompleteFederatedSignIn(ctx context.Context, code, verifier string) (*model.Session, error)
	SignOut(ctx context.Context, s *model.Session) error
	SendPasswordReset(ctx context.Context, email string) error
	UpdateProfile(ctx context.Context, s *model.Session, displayName, photoURL string) error
	TokenSource(s *model.Session) func(ctx context.Context) (string, error)
	Busy() bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は登録・サインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	backend  *api.Client
	config   AuthHandlerConfig
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, backend *api.Client, config AuthHandlerConfig, collector metrics.MetricsCollector, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		backend:  backend,
		config:   config,
		metrics:  collector,
		logger:   logger,
	}
}

// registerRequest は利用者登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	PhotoURL string `json:"photoUrl"`
}

// loginRequest はサインインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// forgotPasswordRequest はパスワードリセットリクエストのボディ。
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// sessionResponse は認証成功時のレスポンス。
// Busyは認証操作の実行中フラグで、クライアントは操作ボタンの無効化に使う。
type sessionResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoUrl"`
	Busy        bool   `json:"busy"`
	Next        string `json:"next,omitempty"`
}

// Register は新規利用者の登録を処理する。
// POST /register
//
// 認証基盤への登録成功後、表示名とアイコンURLをプロフィールに設定し、
// バックエンドにも利用者レコードを登録する。バックエンド登録は冪等で、
// 既登録の場合も成功として扱う。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		middleware.WriteErrorResponse(w, model.NewValidationError("name", "名前は必須です"))
		return
	}

	sess, err := h.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordSignInFailure("password")
		middleware.WriteErrorResponse(w, err)
		return
	}

	if err := h.sessions.UpdateProfile(r.Context(), sess, req.Name, req.PhotoURL); err != nil {
		h.logger.Error("profile update failed after registration",
			slog.String("email", req.Email),
			slog.String("error", err.Error()),
		)
	}

	h.registerBackendUser(r.Context(), sess)
	h.metrics.RecordSignIn("password")
	h.setSessionCookie(w, sess.ID)
	h.writeSessionResponse(w, http.StatusCreated, sess, nextTarget(r))
}

// Login はメールアドレスとパスワードによるサインインを処理する。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}

	sess, err := h.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordSignInFailure("password")
		middleware.WriteErrorResponse(w, err)
		return
	}

	h.registerBackendUser(r.Context(), sess)
	h.metrics.RecordSignIn("password")
	h.setSessionCookie(w, sess.ID)
	h.writeSessionResponse(w, http.StatusOK, sess, nextTarget(r))
}

// GoogleLogin はGoogle連携サインインのフローを開始する。
// GET /auth/google/login
//
// PKCE verifierをHTTP Only Cookieに保存し、認可URLへリダイレクトする。
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	redirectTo := h.config.BaseURL + "/auth/google/callback"
	authURL, verifier, err := h.sessions.FederatedSignInURL(redirectTo)
	if err != nil {
		h.logger.Error("failed to build federated sign-in URL", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     pkceVerifierCookie,
		Value:    verifier,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// ログイン要求元の遷移先を完了後まで引き継ぐ
	if next := nextTarget(r); next != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     nextTargetCookie,
			Value:    next,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はGoogle連携サインインのコールバックを処理する。
// GET /auth/google/callback?code=xxx
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	verifierCookie, err := r.Cookie(pkceVerifierCookie)
	if err != nil || verifierCookie.Value == "" {
		h.logger.Warn("federated callback without verifier cookie")
		middleware.WriteErrorResponse(w, model.NewAuthenticationError("連携サインインのフローが中断されました", nil))
		return
	}
	clearCookie(w, pkceVerifierCookie, h.config.CookieSecure)

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, model.NewAuthenticationError("認可コードがありません", nil))
		return
	}

	sess, err := h.sessions.CompleteFederatedSignIn(r.Context(), code, verifierCookie.Value)
	if err != nil {
		h.metrics.RecordSignInFailure("google")
		h.logger.Error("federated sign-in failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, err)
		return
	}

	h.registerBackendUser(r.Context(), sess)
	h.metrics.RecordSignIn("google")
	h.setSessionCookie(w, sess.ID)

	// 保存済みの遷移先があればそこへ、なければトップへ
	target := h.config.BaseURL + "/"
	if c, err := r.Cookie(nextTargetCookie); err == nil && safeNext(c.Value) {
		target = h.config.BaseURL + c.Value
	}
	clearCookie(w, nextTargetCookie, h.config.CookieSecure)

	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はサインアウトを処理する。
// POST /auth/logout
//
// 認証基盤でのトークン無効化が失敗した場合はセッションを維持したまま
// エラーを返す。成功時のみCookieをクリアする。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewStateError("セッションがありません"))
		return
	}

	if err := h.sessions.SignOut(r.Context(), sess); err != nil {
		h.logger.Error("sign-out failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, err)
		return
	}

	clearCookie(w, middleware.SessionCookieName, h.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// ForgotPassword はパスワードリセットメールの送信を処理する。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}

	if err := h.sessions.SendPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "パスワードリセットメールを送信しました。",
	})
}

// Me は現在のセッションのIdentityを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewStateError("セッションがありません"))
		return
	}
	if !sess.Authenticated() {
		middleware.WriteErrorResponse(w, model.NewStateError("サインインしていません"))
		return
	}

	h.writeSessionResponse(w, http.StatusOK, sess, "")
}

// registerBackendUser はサインイン済みの利用者をバックエンドに登録する。
// 既登録は成功として扱う。失敗してもサインイン自体は成立させ、ログのみ残す。
func (h *AuthHandler) registerBackendUser(ctx context.Context, sess *model.Session) {
	client := h.backend.WithTokenSource(h.sessions.TokenSource(sess))
	alreadyExists, err := client.RegisterUser(ctx, &api.UserRegistration{
		Name:      sess.Identity.DisplayName,
		Email:     sess.Identity.Email,
		PhotoURL:  sess.Identity.PhotoURL,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("backend user registration failed",
			slog.String("email", sess.Identity.Email),
			slog.String("error", err.Error()),
		)
		return
	}
	if alreadyExists {
		h.logger.Info("backend user already registered",
			slog.String("email", sess.Identity.Email),
		)
	}
}

// setSessionCookie はセッションCookieを設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeSessionResponse はIdentityをJSONで返す。
func (h *AuthHandler) writeSessionResponse(w http.ResponseWriter, status int, sess *model.Session, next string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(sessionResponse{
		UID:         sess.Identity.UID,
		DisplayName: sess.Identity.DisplayName,
		Email:       sess.Identity.Email,
		PhotoURL:    sess.Identity.PhotoURL,
		Busy:        h.sessions.Busy(),
		Next:        next,
	})
}

// nextTarget はリクエストから検証済みの遷移先パスを取り出す。
func nextTarget(r *http.Request) string {
	next := r.URL.Query().Get("next")
	if !safeNext(next) {
		return ""
	}
	return next
}

// safeNext は遷移先がサイト内の相対パスであることを検証する。
// オープンリダイレクトを防ぐため、外部URLやスキーム付きの値は拒否する。
func safeNext(next string) bool {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return false
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return false
	}
	return true
}

// clearCookie は指定されたCookieを削除する。
func clearCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
