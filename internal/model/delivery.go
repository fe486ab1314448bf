package model

// FailureClass は配信失敗の分類。閉じた列挙として扱う。
type FailureClass string

const (
	// FailureNone は配信成功。
	FailureNone FailureClass = ""
	// FailureTransient は一時的な失敗。未知のエラーもここに分類される。
	FailureTransient FailureClass = "transient"
	// FailureInvalidToken はトークンが恒久的に無効（未登録）であることを示す。
	// 端末削除の対象となる唯一の分類。
	FailureInvalidToken FailureClass = "invalid_token"
	// FailureInvalidArgument はリクエスト内容の不正。トークン起因とは限らないため削除しない。
	FailureInvalidArgument FailureClass = "invalid_argument"
	// FailureSenderMismatch は送信者IDの不一致。
	FailureSenderMismatch FailureClass = "sender_mismatch"
	// FailureQuota は送信クォータ超過。
	FailureQuota FailureClass = "quota_exceeded"
	// FailureUnavailable は配信サービスの一時的な利用不可。
	FailureUnavailable FailureClass = "unavailable"
	// FailureInternal は配信サービスの内部エラー。
	FailureInternal FailureClass = "internal"
)

// IsPermanent は端末を削除すべき分類かどうかを返す。
func (c FailureClass) IsPermanent() bool {
	return c == FailureInvalidToken
}

// DeliveryOutcome は1端末への送信結果。1回の配信サイクル内でのみ存在する。
type DeliveryOutcome struct {
	DeviceID string
	Success  bool
	Failure  FailureClass
	Err      error
}
