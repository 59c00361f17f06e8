// Package repository はセッション永続化のインターフェースを定義する。
// マーケットプレイスのデータ（車両・予約）はバックエンドAPIが所有するため、
// このフロントエンドが永続化するのはブラウザセッションのみ。
package repository

import (
	"context"

	"github.com/rentwheels/web/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。
	// 見つからない場合と期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Update はセッションのIdentityとトークン類を更新する。
	Update(ctx context.Context, session *model.Session) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
