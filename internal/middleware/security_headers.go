package middleware

import (
	"net/http"
	"strings"
)

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを
// 付与するミドルウェアを返す。
// JSONを返すAPIのため、埋め込みとMIMEスニッフィングを全面的に禁止する。
// 認証関連のパスはトークンやセッションIDを含むためキャッシュも禁止する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", "frame-ancestors 'none'")

			if isSensitivePath(r.URL.Path) {
				h.Set("Cache-Control", "no-store")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSensitivePath は認証情報を含みうるパスかどうかを判定する。
func isSensitivePath(path string) bool {
	if strings.HasPrefix(path, "/auth/") {
		return true
	}
	switch path {
	case "/login", "/register", "/profile":
		return true
	}
	return false
}
