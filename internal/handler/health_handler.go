package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/biblioteca/internal/repository"
	"github.com/hitoshi/biblioteca/internal/snapshot"
)

// healthCheckTimeout は各依存先の疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db          repository.Pinger
	cache       snapshot.Cache
	snapshotKey string
	logger      *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。cacheがnilの場合はキャッシュの確認を省略する。
func NewHealthHandler(db repository.Pinger, cache snapshot.Cache, snapshotKey string, logger *slog.Logger) *HealthHandler {
	if snapshotKey == "" {
		snapshotKey = snapshot.DefaultKey
	}
	return &HealthHandler{db: db, cache: cache, snapshotKey: snapshotKey, logger: logger}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Snapshot string `json:"snapshot"`
}

// Health はDB疎通とスナップショットキャッシュの状態を返す。
// DBに接続できない場合は503、キャッシュの読み込み失敗はdegradedとして200を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok", Snapshot: "skipped"}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェック: データベースに接続できません",
			slog.String("error", err.Error()),
		)
		resp.Status = "unavailable"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		_, err := h.cache.Get(ctx, h.snapshotKey)
		switch {
		case err == nil:
			resp.Snapshot = "found"
		case errors.Is(err, snapshot.ErrCacheMiss):
			resp.Snapshot = "missing"
		default:
			h.logger.Warn("ヘルスチェック: スナップショットキャッシュを読み込めません",
				slog.String("error", err.Error()),
			)
			resp.Snapshot = "error"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, resp)
}
