package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicatePost は同一リンクの記事が既に保存されていることを示す。
// 並行実行で2つのパスが同じ記事を新規と判定した場合に発生し、既読として扱う。
var ErrDuplicatePost = errors.New("post already exists")

// ConfigurationError は起動前の設定不備を表す。唯一の致命的エラー。
type ConfigurationError struct {
	Missing []string
	Reason  string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("required environment variables are not set: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// FetchError はフィード取得の失敗を表す。そのソースは0件として扱われる。
type FetchError struct {
	BoardID    string
	StatusCode int
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.BoardID, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.BoardID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError はフィード文書のパース失敗を表す。
type ParseError struct {
	BoardID string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.BoardID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *ParseError) Unwrap() error { return e.Err }

// StoreOp はストア操作の種別。
type StoreOp string

const (
	StoreOpQuery  StoreOp = "query"
	StoreOpWrite  StoreOp = "write"
	StoreOpDelete StoreOp = "delete"
)

// StoreError はストアへの問い合わせ・書き込みの失敗を表す。
type StoreError struct {
	Op  StoreOp
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StoreError) Unwrap() error { return e.Err }

// GatewaySendError はユーザー単位のバッチ送信そのものの失敗を表す。
type GatewaySendError struct {
	UserID string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *GatewaySendError) Error() string {
	return fmt.Sprintf("send batch to user %s: %v", e.UserID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *GatewaySendError) Unwrap() error { return e.Err }
