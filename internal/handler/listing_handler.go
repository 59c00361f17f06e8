package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/listing"
	"github.com/rentwheels/web/internal/metrics"
	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

// ListingServiceInterface は掲載ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	Browse(ctx context.Context, backend listing.Backend, search string) ([]*model.Listing, error)
	Featured(ctx context.Context, backend listing.Backend) ([]*model.Listing, error)
	Detail(ctx context.Context, backend listing.Backend, id string) (*model.Listing, error)
	MyListings(ctx context.Context, backend listing.Backend, providerEmail string) ([]*model.Listing, error)
	Add(ctx context.Context, backend listing.Backend, form *listing.ListingForm, provider *model.Identity) (string, error)
	Update(ctx context.Context, backend listing.Backend, id string, form *listing.ListingForm, provider *model.Identity) (bool, error)
	Delete(ctx context.Context, backend listing.Backend, id string, provider *model.Identity) error
}

// ImageResolver は画像URLの実在確認インターフェース。
type ImageResolver interface {
	Resolve(ctx context.Context, inputURL string) (string, error)
}

// ListingHandler は掲載車両の閲覧・管理のHTTPハンドラー。
type ListingHandler struct {
	listings ListingServiceInterface
	backend  *api.Client
	sessions SessionService
	probe    ImageResolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(listings ListingServiceInterface, backend *api.Client, sessions SessionService, probe ImageResolver, collector metrics.MetricsCollector, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		backend:  backend,
		sessions: sessions,
		probe:    probe,
		metrics:  collector,
		logger:   logger,
	}
}

// listingForm は掲載の作成・更新リクエストのボディ。
type listingForm struct {
	CarName     string  `json:"carName"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	RentPrice   float64 `json:"rentPrice"`
	Location    string  `json:"location"`
	Image       string  `json:"image"`
}

// listingResponse は掲載1件のレスポンス。
type listingResponse struct {
	ID            string  `json:"id"`
	CarName       string  `json:"carName"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	RentPrice     float64 `json:"rentPrice"`
	Location      string  `json:"location"`
	Image         string  `json:"image"`
	Status        string  `json:"status"`
	ProviderName  string  `json:"providerName"`
	ProviderEmail string  `json:"providerEmail"`
	PostedAt      string  `json:"postedAt"`
}

// Home はトップページ向けの注目車両一覧を返す。
// GET /
func (h *ListingHandler) Home(w http.ResponseWriter, r *http.Request) {
	cars, err := h.listings.Featured(r.Context(), h.authorizedBackend(r))
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}
	writeListings(w, cars)
}

// Browse は全掲載車両の一覧を返す。車名の部分一致検索に対応する。
// GET /browse-cars?search=xxx
func (h *ListingHandler) Browse(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	cars, err := h.listings.Browse(r.Context(), h.authorizedBackend(r), search)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}
	writeListings(w, cars)
}

// Detail は車両1件の詳細を返す。
// GET /car/{id}
func (h *ListingHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	car, err := h.listings.Detail(r.Context(), h.authorizedBackend(r), id)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toListingResponse(car))
}

// MyListings は自分が掲載した車両の一覧を返す。
// GET /my-listing
func (h *ListingHandler) MyListings(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	cars, err := h.listings.MyListings(r.Context(), h.authorizedBackend(r), ident.Email)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}
	writeListings(w, cars)
}

// Add は新規掲載を登録する。
// POST /add-car
func (h *ListingHandler) Add(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	var req listingForm
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}

	// 画像URLの実在確認。HTMLページの場合はog:imageへ解決する。
	if req.Image != "" {
		resolved, err := h.probe.Resolve(r.Context(), req.Image)
		if err != nil {
			middleware.WriteErrorResponse(w, err)
			return
		}
		req.Image = resolved
	}

	id, err := h.listings.Add(r.Context(), h.authorizedBackend(r), toForm(&req), ident)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	h.metrics.RecordListingCreated()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// Update は既存掲載を更新する。
// PATCH /my-listing/{id}
//
// 変更されたフィールドがない場合はchanged=falseを返し、
// 画面側で「変更はありません」と表示される。
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	var req listingForm
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}

	changed, err := h.listings.Update(r.Context(), h.authorizedBackend(r), id, toForm(&req), ident)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	message := "掲載を更新しました。"
	if !changed {
		message = "変更はありません。"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"changed": changed,
		"message": message,
	})
}

// Delete は掲載を削除する。
// DELETE /my-listing/{id}
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.listings.Delete(r.Context(), h.authorizedBackend(r), id, ident); err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorizedBackend は現在のセッションのトークン取得元を束縛したクライアントを返す。
// 未認証セッションの場合、クライアントはヘッダーなしでリクエストを送信する。
func (h *ListingHandler) authorizedBackend(r *http.Request) *api.Client {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		return h.backend
	}
	return h.backend.WithTokenSource(h.sessions.TokenSource(sess))
}

// identityFromRequest はリクエストコンテキストから認証済みIdentityを取得する。
func identityFromRequest(r *http.Request) (*model.Identity, error) {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		return nil, model.NewStateError("セッションがありません")
	}
	if !sess.Authenticated() {
		return nil, model.NewStateError("サインインしていません")
	}
	return sess.Identity, nil
}

// toForm はリクエストボディをサービス層のフォーム型へ変換する。
func toForm(req *listingForm) *listing.ListingForm {
	return &listing.ListingForm{
		CarName:     req.CarName,
		Description: req.Description,
		Category:    req.Category,
		RentPrice:   req.RentPrice,
		Location:    req.Location,
		Image:       req.Image,
	}
}

// toListingResponse はドメインモデルをレスポンス型へ変換する。
func toListingResponse(car *model.Listing) listingResponse {
	return listingResponse{
		ID:            car.ID,
		CarName:       car.CarName,
		Description:   car.Description,
		Category:      string(car.Category),
		RentPrice:     car.RentPrice,
		Location:      car.Location,
		Image:         car.Image,
		Status:        string(car.Status),
		ProviderName:  car.ProviderName,
		ProviderEmail: car.ProviderEmail,
		PostedAt:      car.PostedAt.Format(time.RFC3339),
	}
}

// writeListings は掲載一覧をJSONで書き込む。
func writeListings(w http.ResponseWriter, cars []*model.Listing) {
	responses := make([]listingResponse, len(cars))
	for i, car := range cars {
		responses[i] = toListingResponse(car)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}
