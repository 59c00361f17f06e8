package identity

import (
	"context"
	"fmt"
	"time"

	gotrue "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"

	"github.com/rentwheels/web/internal/model"
)

// user_metadata内のプロフィールフィールドのキー。
const (
	metaDisplayName = "display_name"
	metaPhotoURL    = "photo_url"
)

// GoTrueConfig はGoTrueプロバイダーの接続設定。
type GoTrueConfig struct {
	ProjectRef string
	AnonKey    string
	// CustomURL はセルフホスト時のGoTrueエンドポイント。空の場合は
	// ProjectRefから標準のSupabase URLを組み立てる。
	CustomURL string
}

// GoTrueProvider はGoTrueをバックエンドとするProvider実装。
// gotrue-goクライアントはcontextを受け取らないため、タイムアウトは
// トランスポート側の設定に従う。
type GoTrueProvider struct {
	client gotrue.Client
}

// NewGoTrueProvider はGoTrueProviderを生成する。
func NewGoTrueProvider(cfg GoTrueConfig) *GoTrueProvider {
	client := gotrue.New(cfg.ProjectRef, cfg.AnonKey)
	if cfg.CustomURL != "" {
		client = client.WithCustomAuthURL(cfg.CustomURL)
	}
	return &GoTrueProvider{client: client}
}

// RegisterWithPassword はメール・パスワードでユーザーを登録する。
// ポリシー検証はネットワーク往復前の早期失敗であり、GoTrue側の検証が権威。
func (p *GoTrueProvider) RegisterWithPassword(ctx context.Context, email, password string) (*Credentials, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	resp, err := p.client.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, model.NewCredentialError(fmt.Sprintf("signup rejected: %v", err))
	}

	return &Credentials{
		Identity:     identityFromUser(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFrom(resp.ExpiresIn),
	}, nil
}

// SignInWithPassword はメール・パスワードでサインインする。
func (p *GoTrueProvider) SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error) {
	resp, err := p.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, model.NewAuthenticationError("invalid email or password", err)
	}

	return &Credentials{
		Identity:     identityFromUser(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFrom(resp.ExpiresIn),
	}, nil
}

// FederatedSignInURL はGoogle連携サインインの認可URLとPKCE検証値を返す。
func (p *GoTrueProvider) FederatedSignInURL(redirectTo string) (string, string, error) {
	resp, err := p.client.Authorize(types.AuthorizeRequest{
		Provider:   types.ProviderGoogle,
		RedirectTo: redirectTo,
		FlowType:   types.FlowPKCE,
	})
	if err != nil {
		return "", "", model.NewAuthenticationError("failed to build authorize URL", err)
	}
	return resp.AuthorizationURL, resp.Verifier, nil
}

// ExchangeFederatedCode は認可コードをトークンに交換する。
func (p *GoTrueProvider) ExchangeFederatedCode(ctx context.Context, code, verifier string) (*Credentials, error) {
	if code == "" {
		return nil, model.NewAuthenticationError("federated sign-in was cancelled", nil)
	}

	resp, err := p.client.Token(types.TokenRequest{
		GrantType:    "pkce",
		Code:         code,
		CodeVerifier: verifier,
	})
	if err != nil {
		return nil, model.NewAuthenticationError("federated code exchange failed", err)
	}

	return &Credentials{
		Identity:     identityFromUser(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFrom(resp.ExpiresIn),
	}, nil
}

// SignOut はプロバイダー側のセッションを無効化する。
func (p *GoTrueProvider) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := p.client.WithToken(accessToken).Logout(); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// SendPasswordReset はパスワードリセットメールの送信を依頼する。
func (p *GoTrueProvider) SendPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return model.NewValidationError("email", "email is required for password reset")
	}
	if err := p.client.Recover(types.RecoverRequest{Email: email}); err != nil {
		return fmt.Errorf("failed to request password reset: %w", err)
	}
	return nil
}

// UpdateProfile は表示名と写真URLをuser_metadataに書き込む。
func (p *GoTrueProvider) UpdateProfile(ctx context.Context, accessToken, displayName, photoURL string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, model.NewStateError("no user is signed in")
	}

	resp, err := p.client.WithToken(accessToken).UpdateUser(types.UpdateUserRequest{
		Data: map[string]interface{}{
			metaDisplayName: displayName,
			metaPhotoURL:    photoURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return identityFromUser(resp.User), nil
}

// Refresh はリフレッシュトークンで新しいトークン一式を取得する。
func (p *GoTrueProvider) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, model.NewStateError("no refresh token")
	}

	resp, err := p.client.RefreshToken(refreshToken)
	if err != nil {
		return nil, model.NewStateError(fmt.Sprintf("token refresh failed: %v", err))
	}

	return &Credentials{
		Identity:     identityFromUser(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFrom(resp.ExpiresIn),
	}, nil
}

// CurrentIdentity はアクセストークンに対応するIdentityを取得する。
func (p *GoTrueProvider) CurrentIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, model.NewStateError("no user is signed in")
	}

	resp, err := p.client.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, model.NewStateError(fmt.Sprintf("token is no longer valid: %v", err))
	}

	return identityFromUser(resp.User), nil
}

// identityFromUser はGoTrueのユーザーレコードをIdentityに変換する。
func identityFromUser(u types.User) *model.Identity {
	ident := &model.Identity{
		UID:   u.ID.String(),
		Email: u.Email,
	}
	if v, ok := u.UserMetadata[metaDisplayName].(string); ok {
		ident.DisplayName = v
	}
	if v, ok := u.UserMetadata[metaPhotoURL].(string); ok {
		ident.PhotoURL = v
	}
	return ident
}

// expiryFrom はExpiresIn（秒）から有効期限を求める。
func expiryFrom(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// compile-time interface check
var _ Provider = (*GoTrueProvider)(nil)
