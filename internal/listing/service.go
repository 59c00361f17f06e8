// Package listing は掲載車両の閲覧・検索・管理のドメインロジックを提供する。
package listing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/model"
)

// Backend は掲載操作に必要なバックエンドAPIのインターフェース。
// api.Clientを抽象化してテスタビリティを向上させる。
// 認可が必要な操作にはTokenSourceがバインドされたクライアントを渡すこと。
type Backend interface {
	ListCars(ctx context.Context) ([]*model.Listing, error)
	GetCar(ctx context.Context, id string) (*model.Listing, error)
	ListCarsByProvider(ctx context.Context, email string) ([]*model.Listing, error)
	FeaturedCars(ctx context.Context) ([]*model.Listing, error)
	CreateCar(ctx context.Context, car *model.Listing) (*api.InsertResult, error)
	UpdateCar(ctx context.Context, id string, car *model.Listing) (*api.UpdateResult, error)
	DeleteCar(ctx context.Context, id string) (*api.DeleteResult, error)
}

// Sanitizer はテキストフィールドのサニタイズ機能のインターフェース。
type Sanitizer interface {
	Sanitize(text string) string
}

// URLValidator は画像URL検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Service は掲載車両の閲覧・検索・管理サービス。
type Service struct {
	sanitizer Sanitizer
	urlGuard  URLValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(sanitizer Sanitizer, urlGuard URLValidator, logger *slog.Logger) *Service {
	return &Service{
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
		logger:    logger,
		now:       time.Now,
	}
}

// Browse は全掲載車両を検索語でフィルタして返す。
// 検索は車名に対する大文字小文字を区別しない部分一致で、
// 取得済みの一覧に対してローカルに適用される。
// 空の検索語は全件を返す。
func (s *Service) Browse(ctx context.Context, backend Backend, search string) ([]*model.Listing, error) {
	cars, err := backend.ListCars(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(search))
	if query == "" {
		return cars, nil
	}

	filtered := make([]*model.Listing, 0, len(cars))
	for _, car := range cars {
		if strings.Contains(strings.ToLower(car.CarName), query) {
			filtered = append(filtered, car)
		}
	}
	return filtered, nil
}

// Featured はトップページ向けの注目車両を返す。
func (s *Service) Featured(ctx context.Context, backend Backend) ([]*model.Listing, error) {
	return backend.FeaturedCars(ctx)
}

// Detail は車両1件の詳細を返す。
func (s *Service) Detail(ctx context.Context, backend Backend, id string) (*model.Listing, error) {
	if id == "" {
		return nil, model.NewValidationError("id", "車両IDが指定されていません")
	}
	return backend.GetCar(ctx, id)
}

// MyListings は指定メールアドレスの提供者が掲載した車両一覧を返す。
func (s *Service) MyListings(ctx context.Context, backend Backend, providerEmail string) ([]*model.Listing, error) {
	if providerEmail == "" {
		return nil, model.NewStateError("掲載一覧の取得にはログインが必要です")
	}
	return backend.ListCarsByProvider(ctx, providerEmail)
}

// ListingForm は掲載の作成・更新フォームの入力値。
type ListingForm struct {
	CarName     string
	Description string
	Category    string
	RentPrice   float64
	Location    string
	Image       string
}

// validate はフォーム入力を検証する。エラーは最初の違反1件を返す。
func (s *Service) validate(form *ListingForm) error {
	if strings.TrimSpace(form.CarName) == "" {
		return model.NewValidationError("carName", "車名は必須です")
	}
	if !model.Category(form.Category).Valid() {
		return model.NewValidationError("category", "無効なカテゴリです: "+form.Category)
	}
	if form.RentPrice <= 0 {
		return model.NewValidationError("rentPrice", "料金は0より大きい値を指定してください")
	}
	if strings.TrimSpace(form.Location) == "" {
		return model.NewValidationError("location", "所在地は必須です")
	}
	if strings.TrimSpace(form.Image) == "" {
		return model.NewValidationError("image", "画像URLは必須です")
	}
	if err := s.urlGuard.ValidateURL(form.Image); err != nil {
		return model.NewValidationError("image", "画像URLが不正です: "+err.Error())
	}
	return nil
}

// Add は新規掲載を登録する。
// 提供者情報は常に認証済みIdentityから取得し、フォーム入力は信用しない。
// 掲載日時はサーバー側で設定し、初期状態はavailableとなる。
func (s *Service) Add(ctx context.Context, backend Backend, form *ListingForm, provider *model.Identity) (string, error) {
	if provider == nil {
		return "", model.NewStateError("掲載の登録にはログインが必要です")
	}
	if err := s.validate(form); err != nil {
		return "", err
	}

	car := &model.Listing{
		CarName:       s.sanitizer.Sanitize(form.CarName),
		Description:   s.sanitizer.Sanitize(form.Description),
		Category:      model.Category(form.Category),
		RentPrice:     form.RentPrice,
		Location:      s.sanitizer.Sanitize(form.Location),
		Image:         form.Image,
		Status:        model.ListingAvailable,
		ProviderName:  provider.DisplayName,
		ProviderEmail: provider.Email,
		PostedAt:      s.now().UTC(),
	}

	result, err := backend.CreateCar(ctx, car)
	if err != nil {
		return "", err
	}
	if !result.Ok() {
		s.logger.Error("car creation returned no inserted ID",
			slog.String("car_name", car.CarName),
			slog.String("provider_email", car.ProviderEmail),
		)
		return "", model.NewRequestError(500, "掲載の登録に失敗しました")
	}

	s.logger.Info("car listed",
		slog.String("car_id", result.InsertedID),
		slog.String("car_name", car.CarName),
		slog.String("provider_email", car.ProviderEmail),
	)
	return result.InsertedID, nil
}

// Update は既存掲載を更新する。
// 所有権の検証として、対象車両の提供者メールと認証済みIdentityの
// メールが一致しない場合は拒否する。
// 変更されたフィールドがない場合はchanged=falseを返す。
func (s *Service) Update(ctx context.Context, backend Backend, id string, form *ListingForm, provider *model.Identity) (changed bool, err error) {
	if provider == nil {
		return false, model.NewStateError("掲載の更新にはログインが必要です")
	}
	if err := s.validate(form); err != nil {
		return false, err
	}

	current, err := backend.GetCar(ctx, id)
	if err != nil {
		return false, err
	}
	if current.ProviderEmail != provider.Email {
		return false, model.NewAuthenticationError("この掲載を更新する権限がありません", nil)
	}

	// 貸出状態と掲載日時は更新対象外
	car := &model.Listing{
		CarName:       s.sanitizer.Sanitize(form.CarName),
		Description:   s.sanitizer.Sanitize(form.Description),
		Category:      model.Category(form.Category),
		RentPrice:     form.RentPrice,
		Location:      s.sanitizer.Sanitize(form.Location),
		Image:         form.Image,
		Status:        current.Status,
		ProviderName:  provider.DisplayName,
		ProviderEmail: provider.Email,
		PostedAt:      current.PostedAt,
	}

	result, err := backend.UpdateCar(ctx, id, car)
	if err != nil {
		return false, err
	}

	s.logger.Info("car updated",
		slog.String("car_id", id),
		slog.Int("modified_count", result.ModifiedCount),
	)
	return result.ModifiedCount > 0, nil
}

// Delete は掲載を削除する。
// 所有権の検証として、対象車両の提供者メールと認証済みIdentityの
// メールが一致しない場合は拒否する。
func (s *Service) Delete(ctx context.Context, backend Backend, id string, provider *model.Identity) error {
	if provider == nil {
		return model.NewStateError("掲載の削除にはログインが必要です")
	}

	current, err := backend.GetCar(ctx, id)
	if err != nil {
		return err
	}
	if current.ProviderEmail != provider.Email {
		return model.NewAuthenticationError("この掲載を削除する権限がありません", nil)
	}

	result, err := backend.DeleteCar(ctx, id)
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return model.NewRequestError(404, "掲載が見つかりませんでした")
	}

	s.logger.Info("car deleted",
		slog.String("car_id", id),
		slog.String("provider_email", provider.Email),
	)
	return nil
}
