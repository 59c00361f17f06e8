package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rentwheels/web/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
	// maxAge はセッションの有効期間。created_atからの経過で判定する。
	maxAge time.Duration
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB, maxAge time.Duration) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, maxAge: maxAge}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ident := session.Identity
	if ident == nil {
		return fmt.Errorf("refusing to persist an unauthenticated session")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, uid, display_name, email, photo_url,
		                       access_token, refresh_token, token_expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		session.ID, ident.UID, ident.DisplayName, ident.Email, ident.PhotoURL,
		session.AccessToken, session.RefreshToken, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
// 復元されたセッションはIDプロバイダーによる確認が済むまでresolving扱いとなる。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{Identity: &model.Identity{}}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, uid, display_name, email, photo_url,
		        access_token, refresh_token, token_expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND created_at > $2`,
		id, time.Now().Add(-r.maxAge),
	).Scan(
		&session.ID,
		&session.Identity.UID,
		&session.Identity.DisplayName,
		&session.Identity.Email,
		&session.Identity.PhotoURL,
		&session.AccessToken,
		&session.RefreshToken,
		&session.ExpiresAt,
		&session.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.Status = model.SessionResolving
	return session, nil
}

// Update はセッションのIdentityとトークン類を更新する。
func (r *PostgresSessionRepo) Update(ctx context.Context, session *model.Session) error {
	ident := session.Identity
	if ident == nil {
		return fmt.Errorf("refusing to persist an unauthenticated session")
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET uid = $2, display_name = $3, email = $4, photo_url = $5,
		     access_token = $6, refresh_token = $7, token_expires_at = $8
		 WHERE id = $1`,
		session.ID, ident.UID, ident.DisplayName, ident.Email, ident.PhotoURL,
		session.AccessToken, session.RefreshToken, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE created_at <= $1`,
		time.Now().Add(-r.maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
