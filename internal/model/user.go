// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証済みユーザーのプロフィールを表す。
// IDプロバイダー（GoTrue）が発行するuidを同一性の根拠とする。
type Identity struct {
	UID         string
	DisplayName string
	Email       string
	PhotoURL    string
}

// SessionStatus はセッションの解決状態を表す。
type SessionStatus string

const (
	// SessionResolving はIDプロバイダーによる初回確認が未完了の状態。
	SessionResolving SessionStatus = "resolving"
	// SessionResolved はIDプロバイダーによる初回確認が完了した状態。
	// 以降この状態に戻ることはない。
	SessionResolved SessionStatus = "resolved"
)

// Session はブラウザセッションを表す。
// Identityがnilの場合は未認証セッション。
// トークン類はIDプロバイダーが発行したものをそのまま保持する。
type Session struct {
	ID           string
	Identity     *Identity
	AccessToken  string
	RefreshToken string
	// ExpiresAt はアクセストークンの有効期限。
	// 期限切れ後はリフレッシュトークンによるサイレント更新を試みる。
	ExpiresAt time.Time
	Status    SessionStatus
	CreatedAt time.Time
}

// Authenticated はセッションが認証済みかどうかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.Identity != nil
}
