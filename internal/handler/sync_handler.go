package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/worker/refresh"
)

// SyncRunner は同期パイプラインの実行インターフェース。
type SyncRunner interface {
	Run(ctx context.Context, accountIDs []string, opts refresh.Options) *model.RunReport
}

// SyncHandler は手動同期のHTTPハンドラー。
type SyncHandler struct {
	runner     SyncRunner
	accountIDs []string
	logger     *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunner, accountIDs []string, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, accountIDs: accountIDs, logger: logger}
}

// Sync はパイプラインを同期的に実行し、RunReportを返す。
// 成功・スキップは200、失敗は500。クライアントが切断しても実行は最後まで続ける。
// POST /api/sync?force=true&enrich=false
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	force, apiErr := parseBoolParam(r, "force", false)
	if apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}
	enrich, apiErr := parseBoolParam(r, "enrich", true)
	if apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	// サーバーの書き込みタイムアウトより長く実行されうるため期限を解除する
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx := context.WithoutCancel(r.Context())
	report := h.runner.Run(ctx, h.accountIDs, refresh.Options{Force: force, Enrich: enrich})

	status := http.StatusOK
	if !report.Succeeded() {
		status = http.StatusInternalServerError
		h.logger.Warn("手動同期が失敗しました",
			slog.String("run_id", report.RunID),
			slog.String("failed_stage", string(report.FailedStage)),
		)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, report)
}

func parseBoolParam(r *http.Request, name string, def bool) (bool, *model.APIError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewInvalidParameterError(name, raw)
	}
	return v, nil
}
