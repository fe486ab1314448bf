package post

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/repository"
)

// Writer は新規と判定された記事を保存する。
// 保存は1回のみ試行し、同一パス内では再試行しない。
type Writer struct {
	postRepo repository.PostRepository
	timeout  time.Duration
	now      func() time.Time
}

// NewWriter はWriterの新しいインスタンスを生成する。
func NewWriter(postRepo repository.PostRepository, timeout time.Duration) *Writer {
	return &Writer{
		postRepo: postRepo,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Create はFeedItemをPostとして保存し、保存したPostを返す。
// 一意制約違反はmodel.ErrDuplicatePostをそのまま返し、
// それ以外の失敗は*model.StoreErrorで返す。
func (w *Writer) Create(ctx context.Context, boardID string, item model.FeedItem) (*model.Post, error) {
	p := model.NewPost(uuid.New().String(), boardID, item, w.now().UTC())

	ctx, cancel := withTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.postRepo.Insert(ctx, p); err != nil {
		if errors.Is(err, model.ErrDuplicatePost) {
			return nil, model.ErrDuplicatePost
		}
		return nil, &model.StoreError{Op: model.StoreOpWrite, Err: err}
	}
	return p, nil
}
