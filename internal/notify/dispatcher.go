package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/boardcast/internal/metrics"
	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/repair"
)

// Repairer は送信結果から無効な端末を整理するインターフェース。
type Repairer interface {
	Repair(ctx context.Context, userID string, outcomes []model.DeliveryOutcome) repair.Result
}

// Summary は1記事分の配信結果の集計。
type Summary struct {
	Users       int // 配信対象ユーザー数
	Messages    int // 送信リクエスト数
	Succeeded   int
	Failed      int
	FailedUsers int // バッチ送信自体が失敗したユーザー数
	Pruned      int
}

// DispatcherConfig はDispatcherの設定。
type DispatcherConfig struct {
	// Concurrency は同時に送信するユーザー数の上限。
	Concurrency int
	// Timeout はユーザー1人分のバッチ送信のタイムアウト。
	Timeout time.Duration
}

// Dispatcher は記事1件の通知を購読ユーザーへ配信する。
// ユーザー単位で1回のバッチ送信を行い、ユーザー間は並行に処理する。
type Dispatcher struct {
	gateway  Gateway
	repairer Repairer
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   DispatcherConfig
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(
	gateway Gateway,
	repairer Repairer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config DispatcherConfig,
) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Dispatcher{
		gateway:  gateway,
		repairer: repairer,
		metrics:  collector,
		logger:   logger,
		config:   config,
	}
}

// Dispatch は配信計画に従って通知を送信し、結果をRepairerに渡す。
// あるユーザーの送信失敗は他のユーザーへの送信に影響しない。
func (d *Dispatcher) Dispatch(ctx context.Context, src model.FeedSource, post *model.Post, plan []model.UserDelivery) Summary {
	var (
		mu      sync.Mutex
		summary = Summary{Users: len(plan)}
	)

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)

	for _, user := range plan {
		g.Go(func() error {
			res := d.dispatchUser(ctx, src, post, user)

			mu.Lock()
			defer mu.Unlock()
			summary.Messages += res.messages
			summary.Succeeded += res.succeeded
			summary.Failed += res.failed
			summary.Pruned += res.pruned
			if res.batchFailed {
				summary.FailedUsers++
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("通知を配信しました",
		slog.String("board_id", src.ID),
		slog.String("link", post.Link),
		slog.Int("users", summary.Users),
		slog.Int("messages", summary.Messages),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("failed_users", summary.FailedUsers),
		slog.Int("pruned", summary.Pruned),
	)

	return summary
}

type userResult struct {
	messages    int
	succeeded   int
	failed      int
	pruned      int
	batchFailed bool
}

func (d *Dispatcher) dispatchUser(ctx context.Context, src model.FeedSource, post *model.Post, user model.UserDelivery) userResult {
	messages := BuildMessages(src, post, user.Devices)
	res := userResult{messages: len(messages)}
	if len(messages) == 0 {
		return res
	}

	results, err := d.send(ctx, user.UserID, messages)
	if err != nil {
		res.batchFailed = true
		d.logger.Error("バッチ送信に失敗しました",
			slog.String("board_id", src.ID),
			slog.String("link", post.Link),
			slog.String("user_id", user.UserID),
			slog.Int("devices", len(messages)),
			slog.String("error", err.Error()),
		)
		return res
	}

	outcomes := make([]model.DeliveryOutcome, len(results))
	for i, r := range results {
		outcomes[i] = model.DeliveryOutcome{
			DeviceID: user.Devices[i].ID,
			Success:  r.Success,
			Failure:  r.Failure,
			Err:      r.Err,
		}
		if r.Success {
			res.succeeded++
			d.metrics.RecordSendOutcome(model.FailureNone)
		} else {
			res.failed++
			d.metrics.RecordSendOutcome(r.Failure)
		}
	}

	if res.failed > 0 && d.repairer != nil {
		repaired := d.repairer.Repair(ctx, user.UserID, outcomes)
		res.pruned = repaired.Pruned
		d.metrics.RecordDevicesPruned(repaired.Pruned)
	}

	return res
}

// send はタイムアウト付きでゲートウェイを呼び出す。
// 呼び出し失敗と応答件数の不一致は*model.GatewaySendErrorで返す。
func (d *Dispatcher) send(ctx context.Context, userID string, messages []Message) (results []SendResult, err error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			results, err = nil, &model.GatewaySendError{UserID: userID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	results, err = d.gateway.SendBatch(ctx, messages)
	if err != nil {
		return nil, &model.GatewaySendError{UserID: userID, Err: err}
	}
	if len(results) != len(messages) {
		return nil, &model.GatewaySendError{
			UserID: userID,
			Err:    fmt.Errorf("outcome count mismatch: got %d, want %d", len(results), len(messages)),
		}
	}
	return results, nil
}
