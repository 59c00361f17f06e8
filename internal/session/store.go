// Package session はプロセス全体のセッション管理を提供する。
// Storeが唯一の所有者としてセッション状態を保持し、IDプロバイダーとの
// 連携（サインイン・サインアウト・プロフィール更新・トークン更新）を仲介する。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rentwheels/web/internal/identity"
	"github.com/rentwheels/web/internal/model"
	"github.com/rentwheels/web/internal/repository"
)

// Listener はセッション状態の変化通知を受け取る関数。
// サインイン・サインアウト・プロフィール更新・解決完了のたびに呼ばれる。
type Listener func(session *model.Session)

// Store はセッションの唯一の所有者。
// ビュー層は読み取り参照とStoreが公開する操作のみを使用し、
// セッションを直接書き換えない。
type Store struct {
	provider identity.Provider
	repo     repository.SessionRepository
	logger   *slog.Logger

	mu   sync.RWMutex
	live map[string]*model.Session

	subMu  sync.Mutex
	subs   map[int]Listener
	nextID int

	// busy は未完了のIDプロバイダー呼び出し数。
	// 操作中のコントロール無効化判断に使用する。
	busy atomic.Int32
}

// NewStore はStoreを生成する。
func NewStore(provider identity.Provider, repo repository.SessionRepository, logger *slog.Logger) *Store {
	return &Store{
		provider: provider,
		repo:     repo,
		logger:   logger,
		live:     make(map[string]*model.Session),
		subs:     make(map[int]Listener),
	}
}

// Busy は未完了のIDプロバイダー呼び出しがあるかどうかを返す。
func (st *Store) Busy() bool {
	return st.busy.Load() > 0
}

// Subscribe はセッション状態の変化リスナーを登録する。
// 登録時点で生存している各セッションについて即座に1回呼び出され、
// 以降は状態変化のたびに呼び出される。戻り値で購読を解除できる。
func (st *Store) Subscribe(fn Listener) (unsubscribe func()) {
	st.subMu.Lock()
	id := st.nextID
	st.nextID++
	st.subs[id] = fn
	st.subMu.Unlock()

	st.mu.RLock()
	current := make([]*model.Session, 0, len(st.live))
	for _, s := range st.live {
		current = append(current, s)
	}
	st.mu.RUnlock()
	for _, s := range current {
		fn(s)
	}

	return func() {
		st.subMu.Lock()
		delete(st.subs, id)
		st.subMu.Unlock()
	}
}

// Close はStoreを破棄する。全リスナーの購読を解除する。
// 通常運転中に呼んではならない。
func (st *Store) Close() {
	st.subMu.Lock()
	st.subs = make(map[int]Listener)
	st.subMu.Unlock()
}

// notify は登録済みリスナーへ状態変化を通知する。
func (st *Store) notify(s *model.Session) {
	st.subMu.Lock()
	fns := make([]Listener, 0, len(st.subs))
	for _, fn := range st.subs {
		fns = append(fns, fn)
	}
	st.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Begin は未認証セッションを開始する。
// 状態はresolvingで始まり、Resolveの完了でresolvedに遷移する。
func (st *Store) Begin() *model.Session {
	s := &model.Session{
		ID:        uuid.New().String(),
		Status:    model.SessionResolving,
		CreatedAt: time.Now(),
	}

	st.mu.Lock()
	st.live[s.ID] = s
	st.mu.Unlock()

	return s
}

// Lookup は指定IDのセッションを取得する。
// メモリ上に無い場合は永続化層からの復元を試みる。見つからない場合はnil。
func (st *Store) Lookup(ctx context.Context, id string) (*model.Session, error) {
	st.mu.RLock()
	s, ok := st.live[id]
	st.mu.RUnlock()
	if ok {
		return s, nil
	}

	restored, err := st.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if restored == nil {
		return nil, nil
	}

	st.mu.Lock()
	// 復元レースでは先に登録された方を正とする
	if existing, ok := st.live[id]; ok {
		st.mu.Unlock()
		return existing, nil
	}
	st.live[id] = restored
	st.mu.Unlock()

	return restored, nil
}

// Resolve はセッションの初回解決を行う。
// 復元されたトークンがあればIDプロバイダーに有効性を確認し、
// 期限切れならサイレント更新を試みる。状態はこの呼び出しで一度だけ
// resolvedに遷移し、以後resolvingに戻ることはない。
// IDプロバイダーに到達できない場合はエラーを返し、状態は変化しない。
func (st *Store) Resolve(ctx context.Context, s *model.Session) error {
	st.mu.Lock()
	if s.Status == model.SessionResolved {
		st.mu.Unlock()
		return nil
	}
	accessToken := s.AccessToken
	refreshToken := s.RefreshToken
	expired := time.Now().After(s.ExpiresAt)
	st.mu.Unlock()

	// 未認証セッションはネットワーク往復なしで解決する
	if accessToken == "" && refreshToken == "" {
		st.finishResolve(s, nil, nil)
		return nil
	}

	st.beginOp()
	defer st.endOp()

	if !expired {
		ident, err := st.provider.CurrentIdentity(ctx, accessToken)
		if err == nil {
			st.finishResolve(s, ident, nil)
			return nil
		}
		if _, ok := err.(*model.StateError); !ok {
			return err
		}
		// トークン失効。リフレッシュへフォールバックする。
	}

	creds, err := st.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if _, ok := err.(*model.StateError); ok {
			// リフレッシュトークンも失効。サインアウト状態として解決する。
			st.logger.Info("persisted session is no longer valid",
				slog.String("session_id", s.ID),
			)
			if delErr := st.repo.DeleteByID(ctx, s.ID); delErr != nil {
				st.logger.Error("failed to delete stale session",
					slog.String("error", delErr.Error()),
				)
			}
			st.finishResolve(s, nil, nil)
			return nil
		}
		return err
	}

	st.finishResolve(s, creds.Identity, creds)
	if err := st.repo.Update(ctx, s); err != nil {
		st.logger.Error("failed to persist refreshed session",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// finishResolve は解決結果をセッションへ反映し、リスナーへ通知する。
func (st *Store) finishResolve(s *model.Session, ident *model.Identity, creds *identity.Credentials) {
	st.mu.Lock()
	s.Identity = ident
	if ident == nil {
		s.AccessToken = ""
		s.RefreshToken = ""
		s.ExpiresAt = time.Time{}
	}
	if creds != nil {
		s.AccessToken = creds.AccessToken
		s.RefreshToken = creds.RefreshToken
		s.ExpiresAt = creds.ExpiresAt
	}
	s.Status = model.SessionResolved
	st.mu.Unlock()

	st.notify(s)
}

// Register はメール・パスワードでユーザーを登録し、認証済みセッションを確立する。
// エラーはIDプロバイダーのものをそのまま伝播させる。
func (st *Store) Register(ctx context.Context, email, password string) (*model.Session, error) {
	st.beginOp()
	defer st.endOp()

	creds, err := st.provider.RegisterWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return st.establish(ctx, creds)
}

// SignIn はメール・パスワードでサインインし、認証済みセッションを確立する。
func (st *Store) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	st.beginOp()
	defer st.endOp()

	creds, err := st.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return st.establish(ctx, creds)
}

// FederatedSignInURL はGoogle連携サインインの認可URLとPKCE検証値を返す。
func (st *Store) FederatedSignInURL(redirectTo string) (string, string, error) {
	return st.provider.FederatedSignInURL(redirectTo)
}

// CompleteFederatedSignIn は連携サインインの認可コードを交換し、
// 認証済みセッションを確立する。
func (st *Store) CompleteFederatedSignIn(ctx context.Context, code, verifier string) (*model.Session, error) {
	st.beginOp()
	defer st.endOp()

	creds, err := st.provider.ExchangeFederatedCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}
	return st.establish(ctx, creds)
}

// establish は新しい認証済みセッションを発行し、永続化する。
// セッションIDはサインインのたびに新規発行する（固定化攻撃対策）。
func (st *Store) establish(ctx context.Context, creds *identity.Credentials) (*model.Session, error) {
	s := &model.Session{
		ID:           uuid.New().String(),
		Identity:     creds.Identity,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    creds.ExpiresAt,
		Status:       model.SessionResolved,
		CreatedAt:    time.Now(),
	}

	if err := st.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	st.mu.Lock()
	st.live[s.ID] = s
	st.mu.Unlock()

	st.notify(s)
	return s, nil
}

// SignOut はIDプロバイダー側のセッションを無効化し、ローカル状態を破棄する。
// プロバイダーエラーは握りつぶさず伝播させ、その場合ローカル状態は維持する。
func (st *Store) SignOut(ctx context.Context, s *model.Session) error {
	st.beginOp()
	defer st.endOp()

	st.mu.RLock()
	accessToken := s.AccessToken
	st.mu.RUnlock()

	if err := st.provider.SignOut(ctx, accessToken); err != nil {
		return err
	}

	if err := st.repo.DeleteByID(ctx, s.ID); err != nil {
		st.logger.Error("failed to delete session record",
			slog.String("error", err.Error()),
		)
	}

	st.mu.Lock()
	s.Identity = nil
	s.AccessToken = ""
	s.RefreshToken = ""
	s.ExpiresAt = time.Time{}
	delete(st.live, s.ID)
	st.mu.Unlock()

	st.notify(s)
	return nil
}

// SendPasswordReset はパスワードリセットメールの送信を依頼する。
func (st *Store) SendPasswordReset(ctx context.Context, email string) error {
	st.beginOp()
	defer st.endOp()

	return st.provider.SendPasswordReset(ctx, email)
}

// UpdateProfile は表示名と写真URLを更新し、セッションのIdentityへ反映する。
// 未認証セッションにはStateErrorを返す。
func (st *Store) UpdateProfile(ctx context.Context, s *model.Session, displayName, photoURL string) error {
	if !s.Authenticated() {
		return model.NewStateError("no user is signed in")
	}

	st.beginOp()
	defer st.endOp()

	token, err := st.Token(ctx, s)
	if err != nil {
		return err
	}

	ident, err := st.provider.UpdateProfile(ctx, token, displayName, photoURL)
	if err != nil {
		return err
	}

	st.mu.Lock()
	s.Identity = ident
	st.mu.Unlock()

	if err := st.repo.Update(ctx, s); err != nil {
		st.logger.Error("failed to persist profile update",
			slog.String("error", err.Error()),
		)
	}

	st.notify(s)
	return nil
}

// Token はAPIリクエストに添付するベアラートークンを返す。
// 期限が近い場合はサイレント更新を行うため、ネットワーク往復を伴うことがある。
// 未認証セッションにはStateErrorを返す。
func (st *Store) Token(ctx context.Context, s *model.Session) (string, error) {
	st.mu.RLock()
	authenticated := s.Authenticated()
	accessToken := s.AccessToken
	refreshToken := s.RefreshToken
	expiresAt := s.ExpiresAt
	st.mu.RUnlock()

	if !authenticated {
		return "", model.NewStateError("no user is signed in")
	}

	// 30秒の猶予を持たせ、境界ぎりぎりのトークンを送らない
	if time.Now().Add(30 * time.Second).Before(expiresAt) {
		return accessToken, nil
	}

	creds, err := st.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	s.AccessToken = creds.AccessToken
	s.RefreshToken = creds.RefreshToken
	s.ExpiresAt = creds.ExpiresAt
	if creds.Identity != nil {
		s.Identity = creds.Identity
	}
	st.mu.Unlock()

	if err := st.repo.Update(ctx, s); err != nil {
		st.logger.Error("failed to persist refreshed token",
			slog.String("error", err.Error()),
		)
	}

	return creds.AccessToken, nil
}

// TokenSource はセッションに束縛されたトークン取得関数を返す。
// APIクライアントへの依存注入に使用する。
func (st *Store) TokenSource(s *model.Session) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return st.Token(ctx, s)
	}
}

func (st *Store) beginOp() { st.busy.Add(1) }
func (st *Store) endOp()   { st.busy.Add(-1) }
