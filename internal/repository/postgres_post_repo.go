package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/boardcast/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// ExistsByLink は指定掲示板に同一linkの記事が保存済みかを返す。
// linkは正規化せず、フィードが返した値をそのまま比較する。
func (r *PostgresPostRepo) ExistsByLink(ctx context.Context, boardID, link string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE board_id = $1 AND link = $2)`,
		boardID, link,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("link による記事の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Insert は記事を保存する。
func (r *PostgresPostRepo) Insert(ctx context.Context, post *model.Post) error {
	var publishedAt sql.NullTime
	if post.PublishedAt != nil {
		publishedAt = sql.NullTime{Time: *post.PublishedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, board_id, link, title, description, author, published_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ID, post.BoardID, post.Link, post.Title, post.Description, post.Author,
		publishedAt, post.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicatePost
		}
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
