package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, library, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeGameNotFound        = "GAME_NOT_FOUND"
	ErrCodeInvalidGameID       = "INVALID_GAME_ID"
	ErrCodeInvalidPagination   = "INVALID_PAGINATION"
	ErrCodeInvalidParameter    = "INVALID_PARAMETER"
	ErrCodeSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
)

// NewGameNotFoundError はゲーム未検出エラーを生成する。
func NewGameNotFoundError(appID int64) *APIError {
	return &APIError{
		Code:     ErrCodeGameNotFound,
		Message:  fmt.Sprintf("指定されたゲームが見つかりません: %d", appID),
		Category: "library",
		Action:   "app_idを確認してください。",
	}
}

// NewInvalidGameIDError は不正なapp_idが指定された場合のエラーを生成する。
func NewInvalidGameIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGameID,
		Message:  fmt.Sprintf("無効なapp_idです: %s", raw),
		Category: "validation",
		Action:   "正の整数のapp_idを指定してください。",
	}
}

// NewInvalidPaginationError はページ指定が不正な場合のエラーを生成する。
func NewInvalidPaginationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPagination,
		Message:  fmt.Sprintf("無効なページ指定です: %s", reason),
		Category: "validation",
		Action:   "pageは1以上、perは1から100の整数で指定してください。",
	}
}

// NewInvalidParameterError はクエリパラメータが不正な場合のエラーを生成する。
func NewInvalidParameterError(name, raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameter,
		Message:  fmt.Sprintf("無効なパラメータです: %s=%s", name, raw),
		Category: "validation",
		Action:   "true または false を指定してください。",
	}
}

// NewSnapshotUnavailableError はスナップショットを返せない場合のエラーを生成する。
func NewSnapshotUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeSnapshotUnavailable,
		Message:  "スナップショットを取得できませんでした。",
		Category: "library",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
