package booking

import (
	"context"
	"log/slog"

	"github.com/rentwheels/web/internal/api"
	"github.com/rentwheels/web/internal/model"
)

// Backend は予約操作に必要なバックエンドAPIのインターフェース。
// api.Clientを抽象化してテスタビリティを向上させる。
type Backend interface {
	CreateBooking(ctx context.Context, booking *model.Booking) (*api.InsertResult, error)
	DeleteBooking(ctx context.Context, id string) (*api.BookingDeleteResult, error)
	UpdateCarStatus(ctx context.Context, id string, status model.ListingStatus) (*api.UpdateResult, error)
	ListBookings(ctx context.Context, email string) ([]*model.Booking, error)
}

// Service は予約の作成・取消・一覧取得サービス。
type Service struct {
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(logger *slog.Logger) *Service {
	return &Service{logger: logger}
}

// Book は車両を予約する。
//
// 前提条件の検証はネットワークアクセスなしで行われる:
// 未認証の場合はAuthenticationError、表示中の車両が既に予約済みの
// 場合はConflictErrorを返し、どちらの場合もリクエストは送信しない。
//
// 予約の成立は2段階で行われる。まず予約レコードを作成し、成功後に
// 車両の貸出状態をbookedへ更新する。状態更新が失敗しても予約
// レコードは作成済みのため、予約自体は成立として扱い、不整合を
// エラーログに記録する。
func (s *Service) Book(ctx context.Context, backend Backend, flow *Flow, car *model.Listing, renter *model.Identity) (*model.Booking, error) {
	if renter == nil {
		return nil, model.NewAuthenticationError("予約にはログインが必要です", nil)
	}
	if car.Status == model.ListingBooked {
		return nil, model.NewConflictError("この車両は既に予約されています: " + car.CarName)
	}

	if err := flow.begin(); err != nil {
		return nil, model.NewConflictError("予約リクエストが処理中です")
	}

	booking := model.NewBooking(car, renter)
	result, err := backend.CreateBooking(ctx, booking)
	if err != nil {
		flow.finish(false)
		return nil, err
	}
	if !result.Ok() {
		flow.finish(false)
		s.logger.Error("booking creation returned no inserted ID",
			slog.String("car_id", car.ID),
			slog.String("user_email", renter.Email),
		)
		return nil, model.NewRequestError(500, "予約の作成に失敗しました")
	}
	booking.ID = result.InsertedID

	// 予約レコード作成後に車両側の状態を更新する。ここで失敗した場合、
	// 予約は存在するが車両はavailableのままという不整合が残る。
	car.Status = model.ListingBooked
	if _, err := backend.UpdateCarStatus(ctx, car.ID, model.ListingBooked); err != nil {
		s.logger.Error("car status update failed after booking creation",
			slog.String("booking_id", booking.ID),
			slog.String("car_id", car.ID),
			slog.String("error", err.Error()),
		)
	}

	flow.finish(true)
	s.logger.Info("booking created",
		slog.String("booking_id", booking.ID),
		slog.String("car_id", car.ID),
		slog.String("user_email", renter.Email),
	)
	return booking, nil
}

// Cancel は予約を取り消す。
//
// 取消は破壊的操作のため、確認済みフラグなしの呼び出しは
// ValidationErrorとして拒否される。
//
// 取消も2段階で行われる。まず予約レコードを削除し、成功後に車両の
// 貸出状態をavailableへ戻す。削除が失敗した場合は状態更新を試みず
// エラーを返す。状態更新のみが失敗した場合、予約は削除済みのため
// 取消自体は成立として扱い、不整合をエラーログに記録する。
func (s *Service) Cancel(ctx context.Context, backend Backend, bookingID, carID string, confirmed bool) error {
	if bookingID == "" {
		return model.NewValidationError("bookingId", "予約IDが指定されていません")
	}
	if !confirmed {
		return model.NewValidationError("confirmed", "取消には確認が必要です")
	}

	result, err := backend.DeleteBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !result.Success {
		message := result.Message
		if message == "" {
			message = "予約の取消に失敗しました"
		}
		return model.NewRequestError(500, message)
	}

	if carID != "" {
		if _, err := backend.UpdateCarStatus(ctx, carID, model.ListingAvailable); err != nil {
			s.logger.Error("car status reset failed after booking cancellation",
				slog.String("booking_id", bookingID),
				slog.String("car_id", carID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("booking cancelled",
		slog.String("booking_id", bookingID),
		slog.String("car_id", carID),
	)
	return nil
}

// MyBookings は指定メールアドレスの利用者の予約一覧を返す。
func (s *Service) MyBookings(ctx context.Context, backend Backend, userEmail string) ([]*model.Booking, error) {
	if userEmail == "" {
		return nil, model.NewStateError("予約一覧の取得にはログインが必要です")
	}
	return backend.ListBookings(ctx, userEmail)
}
