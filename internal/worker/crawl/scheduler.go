package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/boardcast/internal/metrics"
	"github.com/hitoshi/boardcast/internal/model"
)

// SourceRunner は1ソース分の巡回を実行するインターフェース。
type SourceRunner interface {
	RunSource(ctx context.Context, src model.FeedSource) SourceReport
}

// Report は1回の巡回全体の結果。
type Report struct {
	Sources       []SourceReport // 設定されたソースの順序
	NewPosts      int
	FailedSources int
	Skipped       bool // 前回の巡回が実行中だったため実行しなかった
	Duration      time.Duration
}

// Scheduler は複数ソースの巡回を並列に実行する。
// semaphoreパターンで同時に巡回するソース数を制限する。
type Scheduler struct {
	runner         SourceRunner
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int

	running sync.Mutex
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値3を使用する。
func NewScheduler(
	runner SourceRunner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Scheduler{
		runner:         runner,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// RunOnce は全ソースを1回巡回する。
// あるソースの失敗は他のソースの巡回を妨げない。
// 前回の巡回がまだ実行中の場合は何もせずSkippedを返す。
func (s *Scheduler) RunOnce(ctx context.Context, sources []model.FeedSource) Report {
	if !s.running.TryLock() {
		s.logger.Warn("前回の巡回が実行中のためスキップします")
		return Report{Skipped: true}
	}
	defer s.running.Unlock()

	start := time.Now()

	s.logger.Info("巡回サイクルを開始します",
		slog.Int("board_count", len(sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	reports := make([]SourceReport, len(sources))

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(i int, src model.FeedSource) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			reports[i] = s.runSource(ctx, src)
		}(i, src)
	}

	wg.Wait()

	report := Report{Sources: reports, Duration: time.Since(start)}
	for _, r := range reports {
		report.NewPosts += r.New
		if r.Err != nil {
			report.FailedSources++
		}
	}
	s.metrics.RecordRunDuration(report.Duration)

	s.logger.Info("巡回サイクルが完了しました",
		slog.Int("board_count", len(sources)),
		slog.Int("new_posts", report.NewPosts),
		slog.Int("failed_boards", report.FailedSources),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)

	return report
}

// runSource は1ソースを巡回する。panicしても他のソースに影響させない。
func (s *Scheduler) runSource(ctx context.Context, src model.FeedSource) (report SourceReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("掲示板の巡回中にpanicが発生しました",
				slog.String("board_id", src.ID),
				slog.Any("panic", r),
			)
			report = SourceReport{BoardID: src.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.runner.RunSource(ctx, src)
}

// Start はcron式に従って巡回を定期実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
// 実行中の巡回と重なった回はスキップする。
func (s *Scheduler) Start(ctx context.Context, spec string, sources []model.FeedSource) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger)))

	if _, err := c.AddFunc(spec, func() { s.RunOnce(ctx, sources) }); err != nil {
		return fmt.Errorf("巡回スケジュール %q の解析に失敗しました: %w", spec, err)
	}

	s.logger.Info("巡回スケジューラを開始しました",
		slog.String("schedule", spec),
		slog.Int("board_count", len(sources)),
	)

	c.Start()

	// 起動直後に1回実行
	s.RunOnce(ctx, sources)

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()

	s.logger.Info("巡回スケジューラを停止しました")
	return nil
}
