// Package errno はAPI全体で共有するエラー分類を提供する。
//
// ハンドラはErrnoを返すだけでよく、HTTPステータスへの変換は
// pkg/response が一箇所で行う。
package errno

import (
	"errors"
	"fmt"
	"net/http"
)

// Errno はHTTPステータスとユーザー向けメッセージを持つ業務エラー。
type Errno struct {
	// Code はレスポンスに使用するHTTPステータスコード。
	Code int
	// Message はクライアントに返すメッセージ。
	Message string
	// kind は派生元の分類。errors.Is での比較に使用する。
	kind *Errno
	// cause は内部の原因エラー。クライアントには返さない。
	cause error
}

var (
	// ErrBadRequest はリクエストの内容が不正であることを表す。
	ErrBadRequest = &Errno{Code: http.StatusBadRequest, Message: "リクエストが不正です"}
	// ErrUnauthorized は認証情報が無い、または無効であることを表す。
	ErrUnauthorized = &Errno{Code: http.StatusUnauthorized, Message: "認証が必要です"}
	// ErrForbidden は操作する権限が無いことを表す。
	ErrForbidden = &Errno{Code: http.StatusForbidden, Message: "この操作を行う権限がありません"}
	// ErrNotFound は対象が存在しないことを表す。
	ErrNotFound = &Errno{Code: http.StatusNotFound, Message: "対象が見つかりません"}
	// ErrConflict は一意制約などで既存データと衝突したことを表す。
	ErrConflict = &Errno{Code: http.StatusConflict, Message: "既に存在します"}
	// ErrInternal は永続化層などの内部エラーを表す。
	ErrInternal = &Errno{Code: http.StatusInternalServerError, Message: "内部サーバーエラーが発生しました"}
	// ErrChannelNotReady はリアルタイムチャネルが初期化されていないことを表す。
	ErrChannelNotReady = &Errno{Code: http.StatusServiceUnavailable, Message: "リアルタイムチャネルが初期化されていません"}
)

// Error はerrorインターフェースを実装する。
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap は原因エラーを返す。
func (e *Errno) Unwrap() error {
	return e.cause
}

// Is はエラーが同じ分類に属するかを判定する。
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	if !ok {
		return false
	}
	return e == t || (e.kind != nil && e.kind == t)
}

// New は分類kindに属するエラーを、メッセージを差し替えて生成する。
// messageが空の場合は分類のデフォルトメッセージを使う。
func New(kind *Errno, message string) *Errno {
	return Wrap(kind, message, nil)
}

// Wrap は原因エラーcauseを保持したまま分類kindのエラーを生成する。
func Wrap(kind *Errno, message string, cause error) *Errno {
	if message == "" {
		message = kind.Message
	}
	root := kind
	if kind.kind != nil {
		root = kind.kind
	}
	return &Errno{Code: kind.Code, Message: message, kind: root, cause: cause}
}

// StatusOf はエラーに対応するHTTPステータスを返す。
// Errnoでないエラーは500として扱う。
func StatusOf(err error) int {
	var e *Errno
	if errors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}

// MessageOf はクライアントに返してよいメッセージを返す。
// Errnoでないエラーの内容は外部に漏らさない。
func MessageOf(err error) string {
	var e *Errno
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
