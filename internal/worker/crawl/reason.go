package crawl

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/boardcast/internal/model"
)

// 取得失敗の理由。メトリクスのラベルとログに使う。
const (
	ReasonTimeout     = "timeout"
	ReasonCanceled    = "canceled"
	ReasonNotFound    = "not_found"
	ReasonForbidden   = "forbidden"
	ReasonRateLimited = "rate_limited"
	ReasonServerError = "server_error"
	ReasonHTTPStatus  = "http_status"
	ReasonParse       = "parse"
	ReasonNetwork     = "network"
)

// FailureReason は取得失敗のエラーを理由に分類する。
func FailureReason(err error) string {
	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		return ReasonParse
	}

	var fetchErr *model.FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		return classifyHTTPStatus(fetchErr.StatusCode)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonNetwork
	}
}

// classifyHTTPStatus はHTTPステータスコードを理由に分類する。
func classifyHTTPStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return ReasonNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ReasonForbidden
	case statusCode == http.StatusTooManyRequests:
		return ReasonRateLimited
	case statusCode >= 500:
		return ReasonServerError
	default:
		return ReasonHTTPStatus
	}
}
