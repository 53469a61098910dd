// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはクライアントにそのまま返される。
type APIError struct {
	Code    string // エラーコード
	Message string // エラーメッセージ
	Err     error  // 原因。レスポンスには含めない
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeValidation   = "VALIDATION"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeStorage      = "STORAGE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する（401）。
func NewUnauthorizedError() *APIError {
	return &APIError{Code: ErrCodeUnauthorized, Message: "Unauthorized"}
}

// NewForbiddenError は権限不足エラーを生成する（403）。
// ロール不一致と担当クライアント不一致の両方で使用する。
func NewForbiddenError() *APIError {
	return &APIError{Code: ErrCodeForbidden, Message: "Unauthorized"}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザーの存在有無を区別しないメッセージを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Code: ErrCodeUnauthorized, Message: "Invalid credentials"}
}

// NewInvalidSetupCodeError はセットアップコード不一致エラーを生成する。
func NewInvalidSetupCodeError() *APIError {
	return &APIError{Code: ErrCodeForbidden, Message: "Invalid setup code"}
}

// NewAdminAlreadyExistsError は管理者が既に存在する場合のエラーを生成する。
func NewAdminAlreadyExistsError() *APIError {
	return &APIError{Code: ErrCodeConflict, Message: "Admin already exists"}
}

// NewUsernameTakenError はユーザー名の重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{Code: ErrCodeConflict, Message: "Username already exists"}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError() *APIError {
	return &APIError{Code: ErrCodeNotFound, Message: "Post not found"}
}

// NewValidationError は入力値エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: message}
}

// NewRateLimitedError はログイン試行回数超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{Code: ErrCodeRateLimited, Message: "Too many login attempts"}
}

// NewStorageError は下流ストレージのエラーメッセージをそのまま包む。
func NewStorageError(err error) *APIError {
	return &APIError{Code: ErrCodeStorage, Message: err.Error(), Err: err}
}
