package model

import "time"

// Device はプッシュ通知の配信先（端末トークン）を表す。
// 状態フィールドは持たず、存在していること自体が有効を意味する。
type Device struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
}

// UserDelivery は1ユーザー分の配信計画。
// 同一ユーザーの端末は1回のバッチ送信にまとめられる。
type UserDelivery struct {
	UserID  string
	Devices []Device
}
