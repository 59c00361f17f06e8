package model

import "fmt"

// エラー分類はビュー層でのユーザー向け表示の根拠となる。
// 各レイヤーはエラーを握りつぶさず、発生源の型のまま呼び出し元へ伝播させる。

// CredentialError は登録入力の不備（パスワードポリシー違反、重複メール等）を表す。
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error: %s", e.Reason)
}

// NewCredentialError はCredentialErrorを生成する。
func NewCredentialError(reason string) *CredentialError {
	return &CredentialError{Reason: reason}
}

// AuthenticationError は認証の失敗（不正な資格情報、連携フローの中断、
// 未ログインでの予約操作）を表す。
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication error: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NewAuthenticationError はAuthenticationErrorを生成する。
func NewAuthenticationError(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

// ValidationError は必須入力の欠落や不正なフォーム値を表す。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError は予約済み車両への予約試行を表す。
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// NewConflictError はConflictErrorを生成する。
func NewConflictError(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

// RequestError はバックエンドAPIの非2xxレスポンスを表す。
// バックエンドが返したHTTPステータスとメッセージをそのまま保持する。
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// NewRequestError はRequestErrorを生成する。
func NewRequestError(status int, message string) *RequestError {
	return &RequestError{Status: status, Message: message}
}

// StateError は認証済みIdentityを必要とする操作が未認証状態で
// 実行されたことを表す。
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error: %s", e.Reason)
}

// NewStateError はStateErrorを生成する。
func NewStateError(reason string) *StateError {
	return &StateError{Reason: reason}
}
