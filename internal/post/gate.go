// Package post は掲示板記事の新規判定と保存を提供する。
package post

import (
	"context"
	"time"

	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/repository"
)

// Gate は記事が既読かどうかをlinkで判定する。
// 判定はソースが返したlinkをそのまま使い、正規化や曖昧一致は行わない。
type Gate struct {
	postRepo repository.PostRepository
	timeout  time.Duration
}

// NewGate はGateの新しいインスタンスを生成する。
// timeoutが0以下の場合は呼び出し元のコンテキストの期限のみに従う。
func NewGate(postRepo repository.PostRepository, timeout time.Duration) *Gate {
	return &Gate{postRepo: postRepo, timeout: timeout}
}

// IsNew は指定掲示板にlinkの記事がまだ保存されていなければtrueを返す。
// 問い合わせ失敗は*model.StoreErrorで返す。
func (g *Gate) IsNew(ctx context.Context, boardID, link string) (bool, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	exists, err := g.postRepo.ExistsByLink(ctx, boardID, link)
	if err != nil {
		return false, &model.StoreError{Op: model.StoreOpQuery, Err: err}
	}
	return !exists, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
