package middleware

import (
	"net/http"
	"net/url"

	"github.com/rentwheels/web/internal/model"
)

// NewGuardMiddleware は認証必須ページへのアクセスガードを返す。
//
// 判定は必ずセッションの解決完了後に行われる。解決が完了していない
// セッション（認証基盤への到達不能など）は未認証と断定せず、
// 503で一時的な再試行を促す。解決済みかつIdentity不在の場合のみ
// ログインページへリダイレクトし、元のアクセス先をnextパラメータとして
// 引き継ぐ。
func NewGuardMiddleware(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := SessionFromContext(r.Context())
			if err != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if sess.Status != model.SessionResolved {
				w.Header().Set("Retry-After", "5")
				http.Error(w, "session resolution pending, retry shortly", http.StatusServiceUnavailable)
				return
			}

			if !sess.Authenticated() {
				target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
