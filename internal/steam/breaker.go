package steam

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/biblioteca/internal/model"
)

// ErrBreakerOpen はストアAPIのサーキットブレーカーが開いているため呼び出しを省略したことを示す。
var ErrBreakerOpen = errors.New("app details circuit breaker is open")

// BreakerConfig はストアAPI用サーキットブレーカーの設定。
type BreakerConfig struct {
	// ConsecutiveFailures はブレーカーを開くまでの連続失敗回数。
	ConsecutiveFailures uint32
	// OpenTimeout は開いてから半開状態に移るまでの時間。
	OpenTimeout time.Duration
}

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// newDetailsBreaker はストアAPI呼び出し用のサーキットブレーカーを生成する。
// (nil, nil)（詳細なし）は成功として数える。呼び出し元のキャンセルは失敗に数えない。
func newDetailsBreaker(cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[*model.DetailRecord] {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaultBreakerFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerTimeout
	}

	return gobreaker.NewCircuitBreaker[*model.DetailRecord](gobreaker.Settings{
		Name:        "steam-app-details",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}
