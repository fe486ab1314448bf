package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/boardcast/internal/model"
)

// PostgresDeviceRepo はPostgreSQLを使用した端末リポジトリ。
type PostgresDeviceRepo struct {
	db *sql.DB
}

// NewPostgresDeviceRepo はPostgresDeviceRepoを生成する。
func NewPostgresDeviceRepo(db *sql.DB) *PostgresDeviceRepo {
	return &PostgresDeviceRepo{db: db}
}

// ListByUserID はユーザーの登録端末を登録日時順で返す。
// tokenがNULLの端末は空文字列として返す。
func (r *PostgresDeviceRepo) ListByUserID(ctx context.Context, userID string) ([]model.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token, created_at FROM devices WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("端末一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		var token sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &token, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("端末のスキャンに失敗しました: %w", err)
		}
		d.Token = nullStringValue(token)
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("端末一覧の走査に失敗しました: %w", err)
	}

	return devices, nil
}

// Delete は指定IDの端末を削除する。
// 既に削除済みの場合も冪等に成功する。
func (r *PostgresDeviceRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("端末の削除に失敗しました: %w", err)
	}
	return nil
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
