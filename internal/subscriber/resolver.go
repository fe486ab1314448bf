// Package subscriber は掲示板の購読者と配信先端末を解決する。
package subscriber

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/repository"
)

// Resolver は掲示板IDからユーザー単位の配信計画を組み立てる。
type Resolver struct {
	subRepo    repository.SubscriptionRepository
	deviceRepo repository.DeviceRepository
	logger     *slog.Logger
	timeout    time.Duration
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(
	subRepo repository.SubscriptionRepository,
	deviceRepo repository.DeviceRepository,
	logger *slog.Logger,
	timeout time.Duration,
) *Resolver {
	return &Resolver{
		subRepo:    subRepo,
		deviceRepo: deviceRepo,
		logger:     logger,
		timeout:    timeout,
	}
}

// Plan は掲示板の購読者ごとに送信可能な端末をまとめて返す。
// 順序は購読者一覧の順序を保つ。
//   - トークンのない端末は除外する
//   - 送信可能な端末が0台のユーザーは含めない
//   - 同じユーザーが重複して返された場合は1回だけ含める
//
// 購読者一覧の取得失敗は*model.StoreErrorで返す。
// ユーザー単位の端末取得失敗はログに記録し、そのユーザーだけをスキップする。
func (r *Resolver) Plan(ctx context.Context, boardID string) ([]model.UserDelivery, error) {
	userIDs, err := r.listSubscribers(ctx, boardID)
	if err != nil {
		return nil, &model.StoreError{Op: model.StoreOpQuery, Err: err}
	}

	plan := make([]model.UserDelivery, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))

	for _, userID := range userIDs {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true

		devices, err := r.listDevices(ctx, userID)
		if err != nil {
			r.logger.Error("端末一覧の取得に失敗しました",
				slog.String("board_id", boardID),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			continue
		}

		usable := usableDevices(devices)
		if len(usable) == 0 {
			continue
		}
		plan = append(plan, model.UserDelivery{UserID: userID, Devices: usable})
	}

	return plan, nil
}

func (r *Resolver) listSubscribers(ctx context.Context, boardID string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.subRepo.ListSubscribersOf(ctx, boardID)
}

func (r *Resolver) listDevices(ctx context.Context, userID string) ([]model.Device, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.deviceRepo.ListByUserID(ctx, userID)
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// usableDevices はトークンを持つ端末だけを返す。
func usableDevices(devices []model.Device) []model.Device {
	var usable []model.Device
	for _, d := range devices {
		if strings.TrimSpace(d.Token) == "" {
			continue
		}
		usable = append(usable, d)
	}
	return usable
}
