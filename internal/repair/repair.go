// Package repair は配信結果に基づく端末の整理を提供する。
// トークンが恒久的に無効と分類された端末だけを削除し、それ以外の失敗は記録のみ行う。
package repair

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/repository"
)

// Result は1ユーザー分の整理結果。
type Result struct {
	Pruned       int // 削除した端末数
	Kept         int // 失敗したが残した端末数
	DeleteFailed int // 削除に失敗した端末数
}

// Repairer は配信結果を受け取り、無効な端末をストアから削除する。
// 再送は行わない。一時的な失敗は次回以降の配信で自然に再試行される。
type Repairer struct {
	deviceRepo repository.DeviceRepository
	logger     *slog.Logger
	timeout    time.Duration
}

// NewRepairer はRepairerの新しいインスタンスを生成する。
func NewRepairer(deviceRepo repository.DeviceRepository, logger *slog.Logger, timeout time.Duration) *Repairer {
	return &Repairer{
		deviceRepo: deviceRepo,
		logger:     logger,
		timeout:    timeout,
	}
}

// Repair はユーザー1人分の配信結果を処理する。
// 同一端末IDの削除は1回の呼び出しにつき1回まで。
// 削除の失敗はログに記録し、残りの結果の処理を続ける。
func (r *Repairer) Repair(ctx context.Context, userID string, outcomes []model.DeliveryOutcome) Result {
	var res Result
	deleted := make(map[string]bool)

	for _, o := range outcomes {
		if o.Success {
			continue
		}

		if !o.Failure.IsPermanent() {
			res.Kept++
			r.logger.Warn("プッシュ送信に失敗しました（端末は保持）",
				slog.String("user_id", userID),
				slog.String("device_id", o.DeviceID),
				slog.String("failure", string(o.Failure)),
				slog.String("error", errString(o.Err)),
			)
			continue
		}

		if o.DeviceID == "" || deleted[o.DeviceID] {
			continue
		}
		deleted[o.DeviceID] = true

		if err := r.delete(ctx, o.DeviceID); err != nil {
			res.DeleteFailed++
			r.logger.Error("無効な端末の削除に失敗しました",
				slog.String("user_id", userID),
				slog.String("device_id", o.DeviceID),
				slog.String("error", err.Error()),
			)
			continue
		}

		res.Pruned++
		r.logger.Info("無効なトークンの端末を削除しました",
			slog.String("user_id", userID),
			slog.String("device_id", o.DeviceID),
		)
	}

	return res
}

func (r *Repairer) delete(ctx context.Context, deviceID string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.deviceRepo.Delete(ctx, deviceID); err != nil {
		return &model.StoreError{Op: model.StoreOpDelete, Err: err}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
