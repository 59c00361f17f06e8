// Package api はバックエンドAPI（車両・予約・ユーザー登録）のクライアントを提供する。
// 認可が必要なリクエストにはベアラートークンを添付する。
// リトライとレスポンスキャッシュは行わない。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rentwheels/web/internal/model"
)

// TokenSource は現在のセッションのベアラートークンを取得する関数。
// 未認証の場合はStateErrorを返す。取得はサイレント更新を伴うことがある。
type TokenSource func(ctx context.Context) (string, error)

// MetricsRecorder はバックエンドリクエストの観測に必要なインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。
type MetricsRecorder interface {
	RecordBackendStatus(statusCode int)
	RecordBackendLatency(duration time.Duration)
}

// Client はバックエンドAPIのクライアント。
// baseURLはビルド時に固定される単一のオリジン。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	tokens     TokenSource
	metrics    MetricsRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// metricsはnilを許容し、その場合は観測を行わない。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, metrics MetricsRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		metrics:    metrics,
	}
}

// WithTokenSource はトークン取得元を束縛したクライアントを返す。
// 元のクライアントは変更しない。
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	clone := *c
	clone.tokens = ts
	return &clone
}

// --- エンドポイント別のレスポンス型 ---
// バックエンドのフィールド有無によるアドホックな分岐を避けるため、
// エンドポイントごとに明示的な結果型を定義し、HTTP境界で1回だけ検証する。

// InsertResult は挿入系エンドポイントの結果。
type InsertResult struct {
	InsertedID string `json:"insertedId"`
}

// Ok は挿入が行われたかどうかを返す。
func (r *InsertResult) Ok() bool { return r.InsertedID != "" }

// UpdateResult は更新系エンドポイントの結果。
type UpdateResult struct {
	ModifiedCount int `json:"modifiedCount"`
}

// DeleteResult は車両削除エンドポイントの結果。
type DeleteResult struct {
	DeletedCount int `json:"deletedCount"`
}

// BookingDeleteResult は予約取消エンドポイントの結果。
type BookingDeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// UserRegistration はバックエンド側ユーザーレコードの登録内容。
type UserRegistration struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	PhotoURL  string `json:"photoURL"`
	CreatedAt string `json:"createdAt"`
}

// userRegistrationResponse はPOST /usersのレスポンス。
// 既存ユーザーの場合はエラーではなくメッセージで示される（冪等）。
type userRegistrationResponse struct {
	InsertedID string `json:"insertedId"`
	Message    string `json:"message"`
}

// statusPatch は車両ステータスのみを更新するリクエストボディ。
type statusPatch struct {
	Status model.ListingStatus `json:"status"`
}

// --- 車両 ---

// ListCars は全車両を取得する。認証不要。
func (c *Client) ListCars(ctx context.Context) ([]*model.Listing, error) {
	var cars []*model.Listing
	if err := c.doJSON(ctx, http.MethodGet, "/cars", nil, &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// GetCar は指定IDの車両を取得する。認証不要。
func (c *Client) GetCar(ctx context.Context, id string) (*model.Listing, error) {
	var car model.Listing
	if err := c.doJSON(ctx, http.MethodGet, "/cars/"+url.PathEscape(id), nil, &car); err != nil {
		return nil, err
	}
	return &car, nil
}

// ListCarsByProvider は指定メールアドレスの提供者の車両一覧を取得する。
func (c *Client) ListCarsByProvider(ctx context.Context, email string) ([]*model.Listing, error) {
	var cars []*model.Listing
	if err := c.doJSON(ctx, http.MethodGet, "/cars/provider/"+url.PathEscape(email), nil, &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// FeaturedCars はキュレーション済みのおすすめ車両を取得する。認証不要。
func (c *Client) FeaturedCars(ctx context.Context) ([]*model.Listing, error) {
	var cars []*model.Listing
	if err := c.doJSON(ctx, http.MethodGet, "/featured-cars", nil, &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// CreateCar は車両を登録する。要認可。
func (c *Client) CreateCar(ctx context.Context, car *model.Listing) (*InsertResult, error) {
	var result InsertResult
	if err := c.doJSON(ctx, http.MethodPost, "/cars", car, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateCar は車両の内容を更新する。要認可。
func (c *Client) UpdateCar(ctx context.Context, id string, car *model.Listing) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.doJSON(ctx, http.MethodPatch, "/cars/"+url.PathEscape(id), car, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateCarStatus は車両のステータスのみを更新する。要認可。
// 予約成立時のbooked反映と予約取消時のavailable復帰に使用する。
func (c *Client) UpdateCarStatus(ctx context.Context, id string, status model.ListingStatus) (*UpdateResult, error) {
	var result UpdateResult
	if err := c.doJSON(ctx, http.MethodPatch, "/cars/"+url.PathEscape(id), statusPatch{Status: status}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteCar は車両を削除する。要認可。
func (c *Client) DeleteCar(ctx context.Context, id string) (*DeleteResult, error) {
	var result DeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, "/cars/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --- 予約 ---

// ListBookings は指定メールアドレスの予約一覧を取得する。要認可。
func (c *Client) ListBookings(ctx context.Context, email string) ([]*model.Booking, error) {
	var bookings []*model.Booking
	path := "/bookings?email=" + url.QueryEscape(email)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// CreateBooking は予約を作成する。要認可。
func (c *Client) CreateBooking(ctx context.Context, booking *model.Booking) (*InsertResult, error) {
	var result InsertResult
	if err := c.doJSON(ctx, http.MethodPost, "/bookings", booking, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteBooking は予約を取り消す。要認可。
func (c *Client) DeleteBooking(ctx context.Context, id string) (*BookingDeleteResult, error) {
	var result BookingDeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, "/bookings/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --- ユーザー ---

// RegisterUser はIDプロバイダーのアカウントを反映するバックエンド側
// ユーザーレコードを登録する。既存ユーザーの場合もエラーにはならない（冪等）。
// alreadyExistsがtrueの場合は登録済みを示す。
func (c *Client) RegisterUser(ctx context.Context, reg *UserRegistration) (alreadyExists bool, err error) {
	var resp userRegistrationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/users", reg, &resp); err != nil {
		return false, err
	}
	return resp.Message == "User already exists", nil
}

// --- 内部 ---

// backendErrorBody は非2xxレスポンスのボディ形状。
type backendErrorBody struct {
	Message string `json:"message"`
}

// doJSON はJSONリクエストを発行し、レスポンスをoutへデコードする。
// トークンが取得できた場合はAuthorizationヘッダーを付与する。
// 未認証（StateError）の場合はヘッダーなしで送信し、認可の判断は
// バックエンドに委ねる。非2xxはRequestErrorとして返す。
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens(ctx)
		switch err.(type) {
		case nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case *model.StateError:
			// 未認証のまま送信し、バックエンドの401/403をそのまま表面化させる
		default:
			return fmt.Errorf("failed to obtain bearer token: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordBackendLatency(time.Since(start))
	}
	if err != nil {
		c.logger.Error("backend request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.RecordBackendStatus(resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody backendErrorBody
		message := ""
		if json.Unmarshal(respBody, &errBody) == nil {
			message = errBody.Message
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("backend returned error status",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return model.NewRequestError(resp.StatusCode, message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
