// Package crawl は掲示板フィードの巡回処理を提供する。
// 1ソース分のパイプライン（取得→新規判定→保存→配信計画→配信）と、
// 複数ソースを並列に巡回するスケジューラを含む。
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/boardcast/internal/metrics"
	"github.com/hitoshi/boardcast/internal/model"
	"github.com/hitoshi/boardcast/internal/notify"
)

// FeedFetcher は掲示板フィード取得のインターフェース。
type FeedFetcher interface {
	Fetch(ctx context.Context, src model.FeedSource) ([]model.FeedItem, error)
}

// DedupGate は記事の新規判定のインターフェース。
type DedupGate interface {
	IsNew(ctx context.Context, boardID, link string) (bool, error)
}

// PostWriter は記事保存のインターフェース。
type PostWriter interface {
	Create(ctx context.Context, boardID string, item model.FeedItem) (*model.Post, error)
}

// PlanResolver は配信計画の解決のインターフェース。
type PlanResolver interface {
	Plan(ctx context.Context, boardID string) ([]model.UserDelivery, error)
}

// NotificationDispatcher は通知配信のインターフェース。
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, src model.FeedSource, post *model.Post, plan []model.UserDelivery) notify.Summary
}

// SourceReport は1ソース分の巡回結果。
type SourceReport struct {
	BoardID     string
	Fetched     int    // 取得した記事数
	Evaluated   int    // 新規判定した記事数
	New         int    // 新規に保存した記事数
	QueryFailed int    // 新規判定に失敗した記事数
	WriteFailed int    // 保存に失敗した記事数
	StoppedAt   string // 既読と判定して打ち切ったlink
	Notified    int    // 配信対象になったユーザー数の延べ数
	Pruned      int
	Err         error // 取得失敗またはキャンセル
	Duration    time.Duration
}

// Orchestrator は1ソース分のパイプラインを順に実行する。
// ソース内の記事は取得順に1件ずつ処理する。既読判定の打ち切りが順序に依存するため。
type Orchestrator struct {
	fetcher    FeedFetcher
	gate       DedupGate
	writer     PostWriter
	resolver   PlanResolver
	dispatcher NotificationDispatcher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
func NewOrchestrator(
	fetcher FeedFetcher,
	gate DedupGate,
	writer PostWriter,
	resolver PlanResolver,
	dispatcher NotificationDispatcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Orchestrator {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Orchestrator{
		fetcher:    fetcher,
		gate:       gate,
		writer:     writer,
		resolver:   resolver,
		dispatcher: dispatcher,
		metrics:    collector,
		logger:     logger,
	}
}

// RunSource は1ソースを巡回する。失敗はすべてレポートとログに記録し、呼び出し元には伝播しない。
//
// フィードは新しい順に並んでいる前提で、最初の既読記事に到達した時点で残りを評価しない。
// ソースがこの順序を守らない場合、打ち切り位置より後ろの未読記事は取りこぼされる。
func (o *Orchestrator) RunSource(ctx context.Context, src model.FeedSource) SourceReport {
	start := time.Now()
	report := SourceReport{BoardID: src.ID}
	defer func() {
		report.Duration = time.Since(start)
	}()

	items, err := o.fetcher.Fetch(ctx, src)
	o.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		report.Err = err
		o.recordFetchFailure(src, err)
		return report
	}
	o.metrics.RecordFetchSuccess(src.ID)
	report.Fetched = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			break
		}
		report.Evaluated++

		isNew, err := o.gate.IsNew(ctx, src.ID, item.Link)
		if err != nil {
			// 判定できない記事はスキップし、次回の巡回で再評価する
			report.QueryFailed++
			o.logger.Error("記事の新規判定に失敗しました",
				slog.String("board_id", src.ID),
				slog.String("link", item.Link),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !isNew {
			report.StoppedAt = item.Link
			break
		}

		post, err := o.writer.Create(ctx, src.ID, item)
		if errors.Is(err, model.ErrDuplicatePost) {
			// 並行実行中の別パスが先に保存した
			report.StoppedAt = item.Link
			o.logger.Info("記事は既に保存されていたため巡回を打ち切ります",
				slog.String("board_id", src.ID),
				slog.String("link", item.Link),
			)
			break
		}
		if err != nil {
			report.WriteFailed++
			o.logger.Error("記事の保存に失敗しました",
				slog.String("board_id", src.ID),
				slog.String("link", item.Link),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.New++

		o.logger.Info("新しい記事を保存しました",
			slog.String("board_id", src.ID),
			slog.String("post_id", post.ID),
			slog.String("link", post.Link),
			slog.String("title", post.Title),
		)

		o.notify(ctx, src, post, &report)
	}

	o.metrics.RecordNewPosts(src.ID, report.New)

	o.logger.Info("掲示板の巡回が完了しました",
		slog.String("board_id", src.ID),
		slog.Int("fetched", report.Fetched),
		slog.Int("evaluated", report.Evaluated),
		slog.Int("new", report.New),
		slog.Int("query_failed", report.QueryFailed),
		slog.Int("write_failed", report.WriteFailed),
		slog.String("stopped_at", report.StoppedAt),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return report
}

// notify は保存済みの記事1件について配信計画を解決し、配信する。
func (o *Orchestrator) notify(ctx context.Context, src model.FeedSource, post *model.Post, report *SourceReport) {
	plan, err := o.resolver.Plan(ctx, src.ID)
	if err != nil {
		o.logger.Error("購読者の解決に失敗したため通知をスキップします",
			slog.String("board_id", src.ID),
			slog.String("link", post.Link),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(plan) == 0 {
		o.logger.Debug("通知対象のユーザーはいません",
			slog.String("board_id", src.ID),
			slog.String("link", post.Link),
		)
		return
	}

	summary := o.dispatcher.Dispatch(ctx, src, post, plan)
	report.Notified += summary.Users
	report.Pruned += summary.Pruned
}

func (o *Orchestrator) recordFetchFailure(src model.FeedSource, err error) {
	var fetchErr *model.FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		o.metrics.RecordHTTPStatus(fetchErr.StatusCode)
	}

	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		o.metrics.RecordParseFailure(src.ID)
	}

	reason := FailureReason(err)
	o.metrics.RecordFetchFailure(src.ID, reason)

	o.logger.Error("掲示板フィードの取得に失敗しました",
		slog.String("board_id", src.ID),
		slog.String("url", src.URL),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}
