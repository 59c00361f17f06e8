package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/booking"
	"github.com/rentwheels/web/internal/metrics"
	"github.com/rentwheels/web/internal/middleware"
	"github.com/rentwheels/web/internal/model"
)

// BookingServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type BookingServiceInterface interface {
	Book(ctx context.Context, backend booking.Backend, flow *booking.Flow, car *model.Listing, renter *model.Identity) (*model.Booking, error)
	Cancel(ctx context.Context, backend booking.Backend, bookingID, carID string, confirmed bool) error
	MyBookings(ctx context.Context, backend booking.Backend, userEmail string) ([]*model.Booking, error)
}

// BookingHandler は予約の作成・取消・一覧のHTTPハンドラー。
type BookingHandler struct {
	bookings BookingServiceInterface
	backend  *api.Client
	sessions SessionService
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(bookings BookingServiceInterface, backend *api.Client, sessions SessionService, collector metrics.MetricsCollector, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		backend:  backend,
		sessions: sessions,
		metrics:  collector,
		logger:   logger,
	}
}

// cancelRequest は予約取消リクエストのボディ。
type cancelRequest struct {
	CarID     string `json:"carId"`
	Confirmed bool   `json:"confirmed"`
}

// bookingResponse は予約1件のレスポンス。
type bookingResponse struct {
	ID            string  `json:"id"`
	CarID         string  `json:"carId"`
	CarName       string  `json:"carName"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	RentPrice     float64 `json:"rentPrice"`
	Location      string  `json:"location"`
	Image         string  `json:"image"`
	ProviderName  string  `json:"providerName"`
	ProviderEmail string  `json:"providerEmail"`
	Status        string  `json:"status"`
	PostedAt      string  `json:"postedAt"`
}

// Book は車両を予約する。
// POST /car/{id}/book
//
// 表示中の車両の最新状態を取得してから予約フローを開始する。
// 既に予約済みの場合はリクエストを送信せずに409を返す。
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewAuthenticationError("予約にはログインが必要です", nil))
		return
	}

	backend := h.authorizedBackend(r)
	car, err := backend.GetCar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	booked, err := h.bookings.Book(r.Context(), backend, booking.NewFlow(), car, ident)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	h.metrics.RecordBooking()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toBookingResponse(booked))
}

// MyBookings は自分の予約一覧を返す。
// GET /my-booking
func (h *BookingHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFromRequest(r)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	bookings, err := h.bookings.MyBookings(r.Context(), h.authorizedBackend(r), ident.Email)
	if err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	responses := make([]bookingResponse, len(bookings))
	for i, b := range bookings {
		responses[i] = toBookingResponse(b)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// Cancel は予約を取り消す。
// POST /my-booking/{id}/cancel
//
// 確認ダイアログを経ていないリクエスト（confirmed=false）は拒否される。
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, err := identityFromRequest(r); err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("body", "リクエストボディの解析に失敗しました"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.bookings.Cancel(r.Context(), h.authorizedBackend(r), id, req.CarID, req.Confirmed); err != nil {
		middleware.WriteErrorResponse(w, err)
		return
	}

	h.metrics.RecordCancellation()
	w.WriteHeader(http.StatusNoContent)
}

// authorizedBackend は現在のセッションのトークン取得元を束縛したクライアントを返す。
func (h *BookingHandler) authorizedBackend(r *http.Request) *api.Client {
	sess, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		return h.backend
	}
	return h.backend.WithTokenSource(h.sessions.TokenSource(sess))
}

// toBookingResponse はドメインモデルをレスポンス型へ変換する。
func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		CarID:         b.CarID,
		CarName:       b.CarName,
		Description:   b.Description,
		Category:      string(b.Category),
		RentPrice:     b.RentPrice,
		Location:      b.Location,
		Image:         b.Image,
		ProviderName:  b.ProviderName,
		ProviderEmail: b.ProviderEmail,
		Status:        string(b.Status),
		PostedAt:      b.PostedAt.Format(time.RFC3339),
	}
}
