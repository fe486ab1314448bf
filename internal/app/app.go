package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/boardcast/internal/config"
	"github.com/hitoshi/boardcast/internal/database"
	"github.com/hitoshi/boardcast/internal/feed"
	"github.com/hitoshi/boardcast/internal/handler"
	"github.com/hitoshi/boardcast/internal/logger"
	"github.com/hitoshi/boardcast/internal/metrics"
	"github.com/hitoshi/boardcast/internal/notify"
	"github.com/hitoshi/boardcast/internal/post"
	"github.com/hitoshi/boardcast/internal/repair"
	"github.com/hitoshi/boardcast/internal/repository"
	"github.com/hitoshi/boardcast/internal/security"
	"github.com/hitoshi/boardcast/internal/subscriber"
	"github.com/hitoshi/boardcast/internal/worker/crawl"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.Int("board_count", len(cfg.Boards)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runOnce(ctx, cfg)
	}
}

// pipeline は巡回に必要な依存関係を保持する。
type pipeline struct {
	db        *sql.DB
	registry  *prometheus.Registry
	scheduler *crawl.Scheduler
}

// newPipeline はDB接続を開き、全依存関係をワイヤリングする。
// 呼び出し元はdbをCloseすること。
func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, cfg.StoreTimeout); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	postRepo := repository.NewPostgresPostRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	deviceRepo := repository.NewPostgresDeviceRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. 配信ゲートウェイ
	gateway, err := notify.NewFCMGateway(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	log := slog.Default()

	// 5. パイプラインの各段
	fetcher := feed.NewFetcher(
		security.NewFetchGuard(security.GuardOptions{AllowLocal: cfg.FetchAllowLocal}),
		log,
		feed.Options{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			RatePerSec:  cfg.FetchRatePerSec,
		},
	)
	gate := post.NewGate(postRepo, cfg.StoreTimeout)
	writer := post.NewWriter(postRepo, cfg.StoreTimeout)
	resolver := subscriber.NewResolver(subRepo, deviceRepo, log, cfg.StoreTimeout)
	repairer := repair.NewRepairer(deviceRepo, log, cfg.StoreTimeout)
	dispatcher := notify.NewDispatcher(gateway, repairer, collector, log, notify.DispatcherConfig{
		Concurrency: cfg.DispatchConcurrency,
		Timeout:     cfg.GatewayTimeout,
	})

	orchestrator := crawl.NewOrchestrator(fetcher, gate, writer, resolver, dispatcher, collector, log)
	scheduler := crawl.NewScheduler(orchestrator, collector, log, cfg.CrawlMaxConcurrent)

	return &pipeline{db: db, registry: registry, scheduler: scheduler}, nil
}

// runOnce は全掲示板を1回巡回して終了する。
// 個々のソースの失敗はログに記録するのみで、終了コードには影響しない。
func runOnce(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %w", err)
	}
	defer p.db.Close()

	report := p.scheduler.RunOnce(ctx, cfg.Boards)

	slog.Info("crawl finished",
		slog.Int("new_posts", report.NewPosts),
		slog.Int("failed_sources", report.FailedSources),
		slog.Duration("duration", report.Duration),
	)
	return nil
}

// runWorker はワーカーモードで起動する。
// 運用エンドポイント（/health, /metrics）を公開し、cron式に従って巡回する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(ctx context.Context, cfg *config.Config) error {
	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up pipeline: %w", err)
	}
	defer p.db.Close()

	router := handler.NewOpsRouter(&handler.OpsDeps{
		HealthChecker: p.db,
		Gatherer:      p.registry,
		Logger:        slog.Default(),
		PingTimeout:   cfg.StoreTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.String("schedule", cfg.CrawlSchedule),
		slog.Int("max_concurrent", cfg.CrawlMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	schedErr := p.scheduler.Start(ctx, cfg.CrawlSchedule, cfg.Boards)

	slog.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if schedErr != nil {
		return schedErr
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
