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

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/biblioteca/internal/config"
	"github.com/hitoshi/biblioteca/internal/database"
	"github.com/hitoshi/biblioteca/internal/handler"
	"github.com/hitoshi/biblioteca/internal/logger"
	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/repository"
	"github.com/hitoshi/biblioteca/internal/security"
	"github.com/hitoshi/biblioteca/internal/snapshot"
	"github.com/hitoshi/biblioteca/internal/steam"
	"github.com/hitoshi/biblioteca/internal/worker/refresh"
)

// ErrRunFailed はsyncサブコマンドの実行が失敗したことを示す。
// レポートは出力済みのため、呼び出し側は終了コードのみを決めればよい。
var ErrRunFailed = errors.New("sync run failed")

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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

	var syncOpts refresh.Options
	if cmd == CommandSync {
		opts, err := ParseSyncOptions(args[1:])
		if err != nil {
			return err
		}
		syncOpts = opts
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Int("accounts", len(cfg.SteamIDs)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandSync:
		return runSync(ctx, w, cfg, syncOpts)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components は各起動モードで共有する依存関係。
type components struct {
	db        *sql.DB
	games     *repository.PostgresGameRepo
	cache     snapshot.Cache
	publisher *snapshot.Publisher
	pipeline  *refresh.Pipeline
	registry  *prometheus.Registry
}

func (c *components) Close() {
	if err := c.cache.Close(); err != nil {
		slog.Warn("スナップショットキャッシュのクローズに失敗しました", slog.String("error", err.Error()))
	}
	c.db.Close()
}

// buildComponents はDB接続を開き、同期パイプラインまでの依存関係をワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. スナップショットキャッシュ
	cache, err := snapshot.OpenCache(ctx, cfg.SnapshotBucketURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open snapshot cache: %w", err)
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 上流クライアント（プライベートアドレスへの接続はDialerレベルで拒否）
	steamClient := steam.NewClient(
		security.NewSafeClient(cfg.UpstreamTimeout),
		steam.Config{
			APIKey:       cfg.SteamAPIKey,
			APIBaseURL:   cfg.SteamAPIBaseURL,
			StoreBaseURL: cfg.SteamStoreBaseURL,
			Timeout:      cfg.UpstreamTimeout,
		},
		slog.Default(),
		collector,
	)

	// 5. 永続化とパイプライン
	games := repository.NewPostgresGameRepo(db, slog.Default())
	publisher := snapshot.NewPublisher(games, cache, cfg.SnapshotKey, slog.Default())
	pipeline := refresh.NewPipeline(
		steamClient, steamClient, games, games, publisher, collector, slog.Default(),
		refresh.Config{
			BatchSize:       cfg.DetailBatchSize,
			BatchDelay:      cfg.DetailBatchDelay,
			AccountDelay:    cfg.AccountDelay,
			FreshnessWindow: cfg.FreshnessWindow,
			EnrichEnabled:   cfg.EnrichDetails,
		},
	)

	return &components{
		db:        db,
		games:     games,
		cache:     cache,
		publisher: publisher,
		pipeline:  pipeline,
		registry:  registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.SyncRateLimiterConfig(cfg.RateLimitSync))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Games:             c.games,
		Snapshot:          c.publisher,
		Sync:              c.pipeline,
		AccountIDs:        cfg.SteamIDs,
		DB:                c.games,
		Cache:             c.cache,
		SnapshotKey:       cfg.SnapshotKey,
		Metrics:           metrics.Handler(c.registry),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSync は同期パイプラインを1回実行し、RunReportをJSONでwに出力する。
// 実行が失敗した場合はErrRunFailedを返す。
func runSync(ctx context.Context, w io.Writer, cfg *config.Config, opts refresh.Options) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	report := c.pipeline.Run(ctx, cfg.SteamIDs, opts)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	if !report.Succeeded() {
		return ErrRunFailed
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動直後とSYNC_INTERVALごとに同期を実行し、シグナル受信で停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Duration("freshness_window", cfg.FreshnessWindow),
		slog.Bool("enrich", cfg.EnrichDetails),
	)

	if cfg.MetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metrics.SetupMetricsRoute(c.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server listen error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := refresh.NewScheduler(c.pipeline, cfg.SteamIDs, slog.Default())
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
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
