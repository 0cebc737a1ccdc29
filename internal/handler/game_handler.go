package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/biblioteca/internal/model"
)

const (
	// defaultGamesPerPage はゲーム一覧の1ページあたりの既定件数。
	defaultGamesPerPage = 50
	// maxGamesPerPage はゲーム一覧の1ページあたりの最大件数。
	maxGamesPerPage = 100
	// maxGamesPage はpageの上限。OFFSETが32bit整数に収まる範囲に制限する。
	maxGamesPage = math.MaxInt32 / maxGamesPerPage
)

// GameReader はゲームハンドラーが必要とする読み取りインターフェース。
type GameReader interface {
	List(ctx context.Context, page, perPage int) ([]model.Game, int, error)
	FindByID(ctx context.Context, appID int64) (*model.Game, error)
}

// GameHandler はゲームライブラリ参照のHTTPハンドラー。
type GameHandler struct {
	games GameReader
}

// NewGameHandler はGameHandlerを生成する。
func NewGameHandler(games GameReader) *GameHandler {
	return &GameHandler{games: games}
}

// --- レスポンス型 ---

type gameResponse struct {
	model.SnapshotGame
	LastSeenAt time.Time `json:"last_seen_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type gameListResponse struct {
	Page    int            `json:"page"`
	Per     int            `json:"per"`
	Total   int            `json:"total"`
	Results []gameResponse `json:"results"`
}

func toGameResponse(g *model.Game) gameResponse {
	return gameResponse{
		SnapshotGame: g.ToSnapshot(),
		LastSeenAt:   g.LastSeenAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

// ListGames はゲーム一覧を名前順で返す。
// GET /api/games?page=1&per=50
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	page, per, apiErr := parsePagination(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, apiErr)
		return
	}

	games, total, err := h.games.List(r.Context(), page, per)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]gameResponse, 0, len(games))
	for i := range games {
		results = append(results, toGameResponse(&games[i]))
	}

	w.Header().Set("Cache-Control", snapshotCacheControl)
	writeJSON(w, http.StatusOK, gameListResponse{
		Page:    page,
		Per:     per,
		Total:   total,
		Results: results,
	})
}

// GetGame はジャンルを結合したゲームを1件返す。
// GET /api/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	appID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || appID <= 0 {
		writeAPIErrorResponse(w, model.NewInvalidGameIDError(raw))
		return
	}

	game, err := h.games.FindByID(r.Context(), appID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if game == nil {
		writeAPIErrorResponse(w, model.NewGameNotFoundError(appID))
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, toGameResponse(game))
}

// parsePagination はpage（1..maxGamesPage、既定1）とper（1..100、既定50）を解析する。
// perが上限を超える場合は上限に丸める。
func parsePagination(r *http.Request) (int, int, *model.APIError) {
	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxGamesPage {
			return 0, 0, model.NewInvalidPaginationError("page=" + raw)
		}
		page = n
	}

	per := defaultGamesPerPage
	if raw := q.Get("per"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, model.NewInvalidPaginationError("per=" + raw)
		}
		per = min(n, maxGamesPerPage)
	}

	return page, per, nil
}
