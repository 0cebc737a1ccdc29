package handler

import (
	"context"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/biblioteca/internal/model"
)

// snapshotCacheControl はスナップショットと一覧に付与するキャッシュ指示。
const snapshotCacheControl = "public, max-age=3600, stale-while-revalidate=86400"

// SnapshotLoader はスナップショットの読み込みインターフェース。
type SnapshotLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// SnapshotHandler はスナップショット配信のHTTPハンドラー。
type SnapshotHandler struct {
	loader SnapshotLoader
	logger *slog.Logger
}

// NewSnapshotHandler はSnapshotHandlerを生成する。
func NewSnapshotHandler(loader SnapshotLoader, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{loader: loader, logger: logger}
}

// GetSnapshot は全ゲームのスナップショット（JSON配列）を返す。
// ETagが一致する場合は304を返す。
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.loader.Load(r.Context())
	if err != nil {
		h.logger.Error("スナップショットの読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, model.NewSnapshotUnavailableError())
		return
	}

	etag := snapshotETag(data)
	w.Header().Set("Cache-Control", snapshotCacheControl)
	w.Header().Set("ETag", etag)

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

// snapshotETag はFNV-1aハッシュから強いETagを生成する。
func snapshotETag(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return `"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}
