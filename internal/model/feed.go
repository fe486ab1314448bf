// Package model はドメインモデルを定義する。
package model

import "time"

// FeedSource はポーリング対象の掲示板フィードを表す。
// 起動時に設定から構築され、実行中は変更されない。
type FeedSource struct {
	ID       string // 安定したキー（例: "job"）
	Name     string // 通知タイトルに使う表示名
	URL      string
	RowLimit int
}

// DefaultAuthor は作成者が空の記事に設定する既定値。
const DefaultAuthor = "관리자"

// FeedItem はフィードから取得した未保存の記事を表す。
// 1回のポーリングの間だけ存在する。
type FeedItem struct {
	Link        string // 同一性キー
	Title       string
	Description string
	Author      string
	PublishedAt *time.Time // パースできない場合はnil
}

// Post は保存済みの記事を表す。
// (BoardID, Link) は一意であり、パイプラインから更新・削除されることはない。
type Post struct {
	ID          string
	BoardID     string
	Link        string
	Title       string
	Description string
	Author      string
	PublishedAt *time.Time
	CreatedAt   time.Time // 取り込み日時（公開日時ではない）
}

// NewPost はFeedItemからPostを組み立てる。
func NewPost(id, boardID string, item FeedItem, createdAt time.Time) *Post {
	author := item.Author
	if author == "" {
		author = DefaultAuthor
	}
	return &Post{
		ID:          id,
		BoardID:     boardID,
		Link:        item.Link,
		Title:       item.Title,
		Description: item.Description,
		Author:      author,
		PublishedAt: item.PublishedAt,
		CreatedAt:   createdAt,
	}
}
