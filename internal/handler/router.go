package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/biblioteca/internal/middleware"
	"github.com/hitoshi/biblioteca/internal/repository"
	"github.com/hitoshi/biblioteca/internal/snapshot"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 参照系
	Games    GameReader
	Snapshot SnapshotLoader

	// 同期
	Sync       SyncRunner
	AccountIDs []string

	// ヘルスチェック
	DB          repository.Pinger
	Cache       snapshot.Cache
	SnapshotKey string

	// Metrics はGET /metricsのハンドラー。nilの場合はルートを登録しない。
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//
// 同期エンドポイントのみクライアントIPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	gameHandler := NewGameHandler(deps.Games)
	snapshotHandler := NewSnapshotHandler(deps.Snapshot, deps.Logger)
	syncHandler := NewSyncHandler(deps.Sync, deps.AccountIDs, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB, deps.Cache, deps.SnapshotKey, deps.Logger)

	r.Get("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/games", func(r chi.Router) {
			r.Get("/", gameHandler.ListGames)
			r.Get("/{id}", gameHandler.GetGame)
		})

		r.Get("/snapshot", snapshotHandler.GetSnapshot)
		r.Head("/snapshot", snapshotHandler.GetSnapshot)

		// POST /api/sync - 手動同期（同期専用レート制限を追加）
		sync := r.With()
		if deps.RateLimiter != nil {
			sync = r.With(deps.RateLimiter.SyncMiddleware())
		}
		sync.Post("/sync", syncHandler.Sync)
	})

	return r
}
