package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/metrics"
	"github.com/rentwheels/web/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionLoader     middleware.SessionLoader
	SessionCookie     middleware.SessionCookieConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	SessionService SessionService
	AuthConfig     AuthHandlerConfig

	// バックエンドAPI
	Backend *api.Client

	// 掲載・予約
	ListingService ListingServiceInterface
	ImageProbe     ImageResolver
	BookingService BookingServiceInterface

	// 観測
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Session → CSRF → RateLimit(General)
//
// 認証必須のルートはさらにGuardミドルウェアで保護される。
// ガードの判定は必ずセッションの解決完了後に行われるため、復元可能な
// セッションを持つ利用者がログインページへ誤誘導されることはない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.SessionService, deps.Backend, deps.AuthConfig, deps.Metrics, deps.Logger)
	listingHandler := NewListingHandler(deps.ListingService, deps.Backend, deps.SessionService, deps.ImageProbe, deps.Metrics, deps.Logger)
	bookingHandler := NewBookingHandler(deps.BookingService, deps.Backend, deps.SessionService, deps.Metrics, deps.Logger)
	profileHandler := NewProfileHandler(deps.SessionService, deps.Logger)

	// ヘルスチェックとメトリクスはセッション解決を経由しない
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader, deps.SessionCookie, deps.Logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 公開ルート ---

		r.Get("/", listingHandler.Home)
		r.Get("/browse-cars", listingHandler.Browse)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		r.Route("/auth", func(r chi.Router) {
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
			r.Get("/google/login", authHandler.GoogleLogin)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/logout", authHandler.Logout)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Get("/me", authHandler.Me)
		})

		// --- 認証必須ルート ---

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewGuardMiddleware("/login"))

			r.Route("/car/{id}", func(r chi.Router) {
				r.Get("/", listingHandler.Detail)
				r.Post("/book", bookingHandler.Book)
			})

			// 掲載登録は専用レート制限を追加
			r.With(deps.RateLimiter.ListingRegistrationMiddleware()).Post("/add-car", listingHandler.Add)

			r.Route("/my-listing", func(r chi.Router) {
				r.Get("/", listingHandler.MyListings)
				r.Patch("/{id}", listingHandler.Update)
				r.Delete("/{id}", listingHandler.Delete)
			})

			r.Route("/my-booking", func(r chi.Router) {
				r.Get("/", bookingHandler.MyBookings)
				r.Post("/{id}/cancel", bookingHandler.Cancel)
			})

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.Show)
				r.Post("/", profileHandler.Update)
			})
		})
	})

	return r
}
