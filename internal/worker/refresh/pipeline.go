// Package refresh はライブラリ同期パイプラインとその定期実行を提供する。
// 所有ゲームの集約、詳細情報の補完、差分計算、永続化、スナップショット公開を1回の実行として扱う。
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/biblioteca/internal/library"
	"github.com/hitoshi/biblioteca/internal/metrics"
	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/repository"
)

// DefaultFreshnessWindow は同期をスキップする鮮度ウィンドウの既定値。
const DefaultFreshnessWindow = 6 * time.Hour

// Config はパイプラインの設定。
type Config struct {
	BatchSize       int
	BatchDelay      time.Duration
	AccountDelay    time.Duration
	FreshnessWindow time.Duration
	EnrichEnabled   bool
}

// Options は1回の実行ごとのオプション。
type Options struct {
	// Force は鮮度判定を無視して実行する。
	Force bool
	// Enrich は詳細情報の補完を行う。Config.EnrichEnabledがfalseの場合は無視される。
	Enrich bool
}

// SnapshotPublisher はスナップショットの公開インターフェース。
type SnapshotPublisher interface {
	Publish(ctx context.Context) (int, error)
}

// Pipeline はライブラリ同期の1回分の処理を実行する。
type Pipeline struct {
	aggregator *library.Aggregator
	enricher   *library.Enricher
	store      repository.GameRepository
	locker     repository.RunLocker
	publisher  SnapshotPublisher
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewPipeline はPipelineを生成する。lockerとpublisherはnilを許容する。
// collectorがnilの場合はメトリクスを記録しない。
func NewPipeline(
	owned library.OwnedFetcher,
	details library.DetailFetcher,
	store repository.GameRepository,
	locker repository.RunLocker,
	publisher SnapshotPublisher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	cfg.BatchSize = library.ClampBatchSize(cfg.BatchSize)
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	return &Pipeline{
		aggregator: library.NewAggregator(owned, logger, cfg.AccountDelay),
		enricher:   library.NewEnricher(details, logger, cfg.BatchSize, cfg.BatchDelay),
		store:      store,
		locker:     locker,
		publisher:  publisher,
		metrics:    collector,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// stageError は失敗した段階とその原因。
type stageError struct {
	stage model.RunStage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func failAt(stage model.RunStage, err error) error {
	return &stageError{stage: stage, err: err}
}

// Run はパイプラインを1回実行し、結果をRunReportとして返す。
// 失敗はレポートに記録され、エラーとして返されることはない。
func (p *Pipeline) Run(ctx context.Context, accountIDs []string, opts Options) *model.RunReport {
	start := p.now()
	report := &model.RunReport{
		RunID:          uuid.NewString(),
		StartedAt:      start,
		Forced:         opts.Force,
		Enrich:         opts.Enrich && p.cfg.EnrichEnabled,
		Stage:          model.StageIdle,
		Accounts:       len(accountIDs),
		FailedAccounts: []string{},
	}

	logger := p.logger.With(slog.String("run_id", report.RunID))
	logger.Info("ライブラリ同期を開始します",
		slog.Int("accounts", len(accountIDs)),
		slog.Bool("force", report.Forced),
		slog.Bool("enrich", report.Enrich),
	)

	err := p.run(ctx, logger, accountIDs, report, start)

	report.FinishedAt = p.now()
	duration := report.FinishedAt.Sub(start)
	report.DurationMs = duration.Milliseconds()

	var se *stageError
	switch {
	case errors.As(err, &se):
		report.FailedStage = se.stage
		report.Error = se.err.Error()
		p.metrics.RecordRun(metrics.ResultFailure, duration)
		logger.Error("ライブラリ同期に失敗しました",
			slog.String("stage", string(se.stage)),
			slog.String("error", se.err.Error()),
			slog.Duration("duration", duration),
		)
	case report.Skipped:
		p.metrics.RecordRun(metrics.ResultSkipped, duration)
		logger.Info("ライブラリ同期をスキップしました",
			slog.String("reason", string(report.SkipReason)),
		)
	default:
		p.metrics.RecordRun(metrics.ResultSuccess, duration)
		logger.Info("ライブラリ同期が完了しました",
			slog.Int("added", report.Added),
			slog.Int("removed", report.Removed),
			slog.Int("refreshed", report.Refreshed),
			slog.Int("changed", report.Changed),
			slog.Int("failed_accounts", len(report.FailedAccounts)),
			slog.Int("enrichment_failures", report.EnrichmentFailures),
			slog.Int("genre_errors", report.GenreErrors),
			slog.Bool("snapshot_published", report.SnapshotPublished),
			slog.Duration("duration", duration),
		)
	}
	return report
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, accountIDs []string, report *model.RunReport, now time.Time) error {
	if p.locker != nil {
		unlock, ok, err := p.locker.TryLock(ctx)
		if err != nil {
			return failAt(model.StageIdle, fmt.Errorf("同期ロックの取得に失敗しました: %w", err))
		}
		if !ok {
			report.Skipped = true
			report.SkipReason = model.SkipReasonLocked
			return nil
		}
		defer unlock()
	}

	// 鮮度判定
	report.Stage = model.StageCheckStaleness
	state, err := p.store.LibraryState(ctx)
	if err != nil {
		return failAt(report.Stage, err)
	}
	if !report.Forced && state.Count > 0 && now.Sub(state.LastSeenAt) < p.cfg.FreshnessWindow {
		report.Skipped = true
		report.SkipReason = model.SkipReasonFresh
		logger.Info("ライブラリは鮮度ウィンドウ内です",
			slog.Int("games", state.Count),
			slog.Time("last_seen_at", state.LastSeenAt),
			slog.Duration("freshness_window", p.cfg.FreshnessWindow),
		)
		return nil
	}

	// 集約
	report.Stage = model.StageCollecting
	agg, err := p.aggregator.Aggregate(ctx, accountIDs)
	if err != nil {
		return failAt(report.Stage, err)
	}
	if len(agg.FailedAccounts) > 0 {
		report.FailedAccounts = agg.FailedAccounts
	}
	report.OwnedRecords = agg.TotalRecords
	report.UpstreamCount = len(agg.Order)
	p.metrics.RecordAccountFailures(len(agg.FailedAccounts))

	// 補完
	report.Stage = model.StageEnriching
	records := agg.OrderedRecords()
	var games []model.Game
	if report.Enrich {
		var stats library.EnrichStats
		games, stats = p.enricher.EnrichAll(ctx, records)
		report.EnrichmentFailures = stats.Failures
		report.EnrichmentMissing = stats.Missing
		p.metrics.RecordEnrichmentFailures(stats.Failures)
	} else {
		games = make([]model.Game, 0, len(records))
		for _, rec := range records {
			games = append(games, library.Basic(rec))
		}
	}

	// 差分計算
	report.Stage = model.StageReconciling
	current, err := p.store.CurrentAppIDs(ctx)
	if err != nil {
		return failAt(report.Stage, err)
	}
	plan, err := library.Diff(agg.AppIDs(), current)
	if err != nil {
		return failAt(report.Stage, err)
	}

	// 永続化
	report.Stage = model.StagePersisting
	byID := make(map[int64]model.Game, len(games))
	for _, g := range games {
		byID[g.AppID] = g
	}
	stats, err := p.store.Apply(ctx, plan, byID, now)
	if err != nil {
		return failAt(report.Stage, err)
	}
	report.Added = len(plan.ToAdd)
	report.Removed = stats.Removed
	report.Refreshed = len(plan.ToRefresh)
	report.Changed = stats.Updated
	report.GenreErrors = stats.GenreErrors
	report.PersistedCount = stats.Total
	p.metrics.RecordGameChanges(report.Added, report.Removed, report.Refreshed)
	p.metrics.RecordGenreErrors(stats.GenreErrors)

	// 公開（失敗しても実行は成功とする）
	report.Stage = model.StagePublishing
	if p.publisher != nil {
		if _, err := p.publisher.Publish(ctx); err != nil {
			report.SnapshotError = err.Error()
			logger.Warn("スナップショットの公開に失敗しました。永続化は完了しています",
				slog.String("error", err.Error()),
			)
			p.metrics.RecordSnapshotPublish(false)
		} else {
			report.SnapshotPublished = true
			p.metrics.RecordSnapshotPublish(true)
		}
	}

	report.Stage = model.StageDone
	return nil
}
