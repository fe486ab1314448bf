// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/boardcast/internal/model"
)

// PostRepository は掲示板記事の永続化インターフェース。
// (board_id, link) の一意性が唯一の重複判定キーとなる。
type PostRepository interface {
	// ExistsByLink は指定掲示板に同一linkの記事が保存済みかを返す。
	ExistsByLink(ctx context.Context, boardID, link string) (bool, error)

	// Insert は記事を保存する。
	// 一意制約違反の場合はmodel.ErrDuplicatePostを返す。
	Insert(ctx context.Context, post *model.Post) error
}

// SubscriptionRepository は購読データの読み取りインターフェース。
// 購読の作成・削除は外部の管理画面が行う。
type SubscriptionRepository interface {
	// ListSubscribersOf は指定掲示板を購読しているユーザーIDを返す。
	ListSubscribersOf(ctx context.Context, boardID string) ([]string, error)
}

// DeviceRepository は配信先端末の永続化インターフェース。
// パイプラインが削除できる唯一のエンティティ。
type DeviceRepository interface {
	// ListByUserID はユーザーの登録端末を返す。トークン未登録の端末も含む。
	ListByUserID(ctx context.Context, userID string) ([]model.Device, error)

	// Delete は指定IDの端末を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error
}
