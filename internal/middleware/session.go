// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rentwheels/web/internal/model"
)

// SessionCookieName はブラウザセッションIDを保持するCookieの名前。
const SessionCookieName = "rw_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionLoader はセッションの取得・解決に必要なインターフェース。
// session.Storeの部分集合として定義する。
type SessionLoader interface {
	Begin() *model.Session
	Lookup(ctx context.Context, id string) (*model.Session, error)
	Resolve(ctx context.Context, s *model.Session) error
}

// SessionCookieConfig はセッションCookieの設定。
type SessionCookieConfig struct {
	Secure bool
	MaxAge int
}

// NewSessionMiddleware はCookieからセッションを復元し、Identityの解決を
// 試みた上でリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、またはセッションが失効している場合は新しい匿名セッションを
// 開始してCookieを設定する。解決の失敗（認証基盤への到達不能など）では
// リクエストを拒否せず、セッションは未解決のまま注入される。
// 認証の要求は後段のガードミドルウェアが担う。
func NewSessionMiddleware(loader SessionLoader, cookie SessionCookieConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sess *model.Session

			// 1. CookieからセッションIDを取得して復元
			if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
				restored, err := loader.Lookup(r.Context(), c.Value)
				if err != nil {
					logger.Error("failed to look up session",
						slog.String("error", err.Error()),
					)
				}
				sess = restored
			}

			// 2. 復元できない場合は匿名セッションを開始
			if sess == nil {
				sess = loader.Begin()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    sess.ID,
					Path:     "/",
					MaxAge:   cookie.MaxAge,
					HttpOnly: true,
					Secure:   cookie.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			// 3. Identityの解決（保存済みトークンの検証・更新）
			if err := loader.Resolve(r.Context(), sess); err != nil {
				logger.Warn("session resolution failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}

			// 4. セッションをコンテキストに注入
			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return sess, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
