package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rentwheels/web/internal/model"
)

// ErrorResponseBody はエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify はドメインエラーをHTTPステータスとエラーコードへ対応付ける。
// 分類できないエラーは500として扱い、詳細はユーザーに露出しない。
func classify(err error) (status int, body ErrorResponseBody) {
	var credErr *model.CredentialError
	if errors.As(err, &credErr) {
		return http.StatusBadRequest, ErrorResponseBody{
			Code:    "invalid_credentials_format",
			Message: credErr.Reason,
		}
	}

	var validErr *model.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, ErrorResponseBody{
			Code:    "validation_failed",
			Message: validErr.Reason,
		}
	}

	var authErr *model.AuthenticationError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, ErrorResponseBody{
			Code:    "authentication_failed",
			Message: authErr.Reason,
		}
	}

	var stateErr *model.StateError
	if errors.As(err, &stateErr) {
		return http.StatusUnauthorized, ErrorResponseBody{
			Code:    "not_signed_in",
			Message: stateErr.Reason,
		}
	}

	var conflictErr *model.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, ErrorResponseBody{
			Code:    "conflict",
			Message: conflictErr.Reason,
		}
	}

	var reqErr *model.RequestError
	if errors.As(err, &reqErr) {
		// バックエンドのステータスをそのまま引き継ぐ
		status := reqErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, ErrorResponseBody{
			Code:    "backend_error",
			Message: reqErr.Message,
		}
	}

	return http.StatusInternalServerError, ErrorResponseBody{
		Code:    "internal_error",
		Message: "内部エラーが発生しました。しばらく待ってから再度お試しください。",
	}
}

// WriteErrorResponse はドメインエラーを統一フォーマットのJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, err error) {
	status, body := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
