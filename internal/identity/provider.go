// Package identity は外部IDプロバイダー（GoTrue）との連携を提供する。
// パスワード認証、Google連携サインイン、パスワードリセット、
// プロフィール更新、トークンリフレッシュを含む。
package identity

import (
	"context"
	"net/mail"
	"time"
	"unicode"

	"github.com/rentwheels/web/internal/model"
)

// Credentials はIDプロバイダーが発行したトークン一式と認証済みIdentity。
type Credentials struct {
	Identity     *model.Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider はIDプロバイダーとの唯一の接点となるインターフェース。
// エラーはmodelパッケージのエラー分類に変換して返し、呼び出し元は
// 型スイッチで表示方法を決定する。
type Provider interface {
	// RegisterWithPassword はメール・パスワードでユーザーを登録する。
	// 入力不備（不正なメール、弱いパスワード）はCredentialErrorを返す。
	RegisterWithPassword(ctx context.Context, email, password string) (*Credentials, error)

	// SignInWithPassword はメール・パスワードでサインインする。
	// 資格情報が不正な場合はAuthenticationErrorを返す。
	SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error)

	// FederatedSignInURL はGoogle連携サインインの認可URLとPKCE検証値を返す。
	// 呼び出し元は検証値を保持し、コールバックでExchangeFederatedCodeに渡す。
	FederatedSignInURL(redirectTo string) (authURL string, verifier string, err error)

	// ExchangeFederatedCode は認可コードをトークンに交換する。
	// ユーザーの中断やプロバイダーエラーはAuthenticationErrorを返す。
	ExchangeFederatedCode(ctx context.Context, code, verifier string) (*Credentials, error)

	// SignOut はプロバイダー側のセッションを無効化する。
	// プロバイダーエラーは握りつぶさず伝播させる。
	SignOut(ctx context.Context, accessToken string) error

	// SendPasswordReset はパスワードリセットメールの送信を依頼する。
	// emailが空の場合はValidationErrorを返す。
	SendPasswordReset(ctx context.Context, email string) error

	// UpdateProfile は表示名と写真URLを更新し、更新後のIdentityを返す。
	// accessTokenが空の場合はStateErrorを返す。
	UpdateProfile(ctx context.Context, accessToken, displayName, photoURL string) (*model.Identity, error)

	// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
	// 復元（リロード後のセッション継続）とサイレント更新の両方で使用する。
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)

	// CurrentIdentity はアクセストークンに対応するIdentityを取得する。
	// トークンが無効な場合はStateErrorを返す。
	CurrentIdentity(ctx context.Context, accessToken string) (*model.Identity, error)
}

// パスワードポリシー: 6文字以上、大文字・小文字・数字を各1文字以上。
// サーバー側（GoTrue）の検証が最終的な権威であり、ここでの検証は
// ネットワーク往復前の早期失敗にすぎない。
const minPasswordLength = 6

// ValidatePassword はパスワードポリシーを検証する。
// 違反時はCredentialErrorを返す。
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return model.NewCredentialError("password must be at least 6 characters")
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return model.NewCredentialError("password must contain uppercase, lowercase and a digit")
	}

	return nil
}

// ValidateEmail はメールアドレスの形式を検証する。
// 違反時はCredentialErrorを返す。
func ValidateEmail(email string) error {
	if email == "" {
		return model.NewCredentialError("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.NewCredentialError("malformed email address")
	}
	return nil
}
