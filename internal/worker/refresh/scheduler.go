package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
)

// DefaultInterval は定期同期の既定の間隔。
const DefaultInterval = 6 * time.Hour

// Runner はパイプラインの実行インターフェース。Pipelineが実装する。
type Runner interface {
	Run(ctx context.Context, accountIDs []string, opts Options) *model.RunReport
}

// Scheduler は一定間隔でパイプラインを実行する。
// 定期実行はForce=falseのため、鮮度ウィンドウ内であれば上流を呼び出さずにスキップされる。
type Scheduler struct {
	runner     Runner
	accountIDs []string
	logger     *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, accountIDs []string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		accountIDs: accountIDs,
		logger:     logger,
	}
}

// Start はintervalごとにパイプラインを実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("accounts", len(s.accountIDs)),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce はパイプラインを1回実行してレポートを返す。
func (s *Scheduler) RunOnce(ctx context.Context) *model.RunReport {
	return s.runner.Run(ctx, s.accountIDs, Options{Enrich: true})
}
