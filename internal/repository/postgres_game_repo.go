package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/biblioteca/internal/library"
	"github.com/hitoshi/biblioteca/internal/model"
)

// runLockKey は同期処理用アドバイザリロックのキー。
const runLockKey int64 = 0x6269626c696f // "biblio"

// PostgresGameRepo はPostgreSQLを使用したゲームリポジトリ。
type PostgresGameRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresGameRepo はPostgresGameRepoを生成する。
func NewPostgresGameRepo(db *sql.DB, logger *slog.Logger) *PostgresGameRepo {
	return &PostgresGameRepo{db: db, logger: logger}
}

var (
	_ GameRepository = (*PostgresGameRepo)(nil)
	_ RunLocker      = (*PostgresGameRepo)(nil)
)

// CurrentAppIDs は永続化済みの全app_idを返す。
func (r *PostgresGameRepo) CurrentAppIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT app_id FROM games`)
	if err != nil {
		return nil, fmt.Errorf("app_id一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("app_idのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LibraryState はゲーム件数と最新のlast_seen_atを返す。
func (r *PostgresGameRepo) LibraryState(ctx context.Context) (model.LibraryState, error) {
	var state model.LibraryState
	var lastSeen sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), MAX(last_seen_at) FROM games`,
	).Scan(&state.Count, &lastSeen)
	if err != nil {
		return state, fmt.Errorf("ライブラリ状態の取得に失敗しました: %w", err)
	}
	if lastSeen.Valid {
		state.LastSeenAt = lastSeen.Time
	}
	return state, nil
}

// Apply は差分計画を1つのトランザクションで適用する。
//   - ToAdd ∪ ToRefresh をapp_idでアップサートする。補完済みのゲームは補完可能な全項目を上書きし、
//     値が実際に変わった場合のみupdated_atを更新する。未補完のゲームは未登録なら既定値で挿入し、
//     登録済みならlast_seen_atのみ更新する。
//   - ジャンルはゲームごと・ジャンルごとにSAVEPOINTを張って関連付ける。
//   - ToRemove を削除する（game_genresはON DELETE CASCADEで削除される）。
func (r *PostgresGameRepo) Apply(ctx context.Context, plan library.Plan, games map[int64]model.Game, now time.Time) (model.ApplyStats, error) {
	var stats model.ApplyStats

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, appID := range plan.Upserts() {
		g, ok := games[appID]
		if !ok {
			return model.ApplyStats{}, fmt.Errorf("app_id %d のゲームデータがありません", appID)
		}

		var inserted, changed bool
		if g.Enriched {
			inserted, changed, err = upsertEnriched(ctx, tx, &g, now)
		} else {
			inserted, err = upsertBasic(ctx, tx, &g, now)
		}
		if err != nil {
			return model.ApplyStats{}, fmt.Errorf("app_id %d のアップサートに失敗しました: %w", appID, err)
		}

		switch {
		case inserted:
			stats.Inserted++
		case changed:
			stats.Updated++
		default:
			stats.Unchanged++
		}

		for _, genre := range g.Genres {
			err := linkGenre(ctx, tx, appID, genre)
			var genreErr *genreLinkError
			if errors.As(err, &genreErr) {
				stats.GenreErrors++
				r.logger.Warn("ジャンルの関連付けに失敗しました。スキップして続行します",
					slog.Int64("app_id", appID),
					slog.String("genre", genre),
					slog.String("error", genreErr.Error()),
				)
				continue
			}
			if err != nil {
				return model.ApplyStats{}, fmt.Errorf("app_id %d のジャンル処理に失敗しました: %w", appID, err)
			}
		}
	}

	if len(plan.ToRemove) > 0 {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM games WHERE app_id = ANY($1)`,
			pq.Array(plan.ToRemove),
		)
		if err != nil {
			return model.ApplyStats{}, fmt.Errorf("ゲームの削除に失敗しました: %w", err)
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return model.ApplyStats{}, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
		}
		stats.Removed = int(removed)
	}

	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM games`).Scan(&stats.Total); err != nil {
		return model.ApplyStats{}, fmt.Errorf("ゲーム件数の取得に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.ApplyStats{}, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return stats, nil
}

// upsertEnriched は補完済みのゲームをアップサートする。
// 戻り値は (挿入されたか, 既存行の値が変わったか)。
func upsertEnriched(ctx context.Context, tx *sql.Tx, g *model.Game, now time.Time) (bool, bool, error) {
	var inserted, touched bool
	err := tx.QueryRowContext(ctx,
		`INSERT INTO games (app_id, name, cover_url, developer, publisher, release_year, last_seen_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (app_id) DO UPDATE SET
		     name         = EXCLUDED.name,
		     cover_url    = EXCLUDED.cover_url,
		     developer    = EXCLUDED.developer,
		     publisher    = EXCLUDED.publisher,
		     release_year = EXCLUDED.release_year,
		     last_seen_at = EXCLUDED.last_seen_at,
		     updated_at   = CASE
		         WHEN (games.name, games.cover_url, games.developer, games.publisher, games.release_year)
		              IS DISTINCT FROM
		              (EXCLUDED.name, EXCLUDED.cover_url, EXCLUDED.developer, EXCLUDED.publisher, EXCLUDED.release_year)
		         THEN EXCLUDED.updated_at
		         ELSE games.updated_at
		     END
		 RETURNING (xmax = 0), (updated_at = $7)`,
		g.AppID, g.Name, nullStringPtr(g.CoverURL), nullStringPtr(g.Developer),
		nullStringPtr(g.Publisher), nullIntPtr(g.ReleaseYear), now,
	).Scan(&inserted, &touched)
	if err != nil {
		return false, false, err
	}
	return inserted, !inserted && touched, nil
}

// upsertBasic は未補完のゲームをアップサートする。既存行はlast_seen_atのみ更新する。
func upsertBasic(ctx context.Context, tx *sql.Tx, g *model.Game, now time.Time) (bool, error) {
	var inserted bool
	err := tx.QueryRowContext(ctx,
		`INSERT INTO games (app_id, name, cover_url, last_seen_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (app_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at
		 RETURNING (xmax = 0)`,
		g.AppID, g.Name, nullStringPtr(g.CoverURL), now,
	).Scan(&inserted)
	return inserted, err
}

// genreLinkError はSAVEPOINTまでロールバック済みで、スキップして続行できるジャンル単位の失敗。
type genreLinkError struct {
	err error
}

func (e *genreLinkError) Error() string { return e.err.Error() }
func (e *genreLinkError) Unwrap() error { return e.err }

// linkGenre はジャンル辞書への登録とゲームへの関連付けをSAVEPOINT内で行う。
// ジャンル単位の失敗は*genreLinkErrorで返し、それ以外のエラーはトランザクション全体を中断すべき失敗。
func linkGenre(ctx context.Context, tx *sql.Tx, appID int64, name string) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT genre_link`); err != nil {
		return fmt.Errorf("SAVEPOINTの作成に失敗しました: %w", err)
	}

	var genreID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO genres (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name,
	).Scan(&genreID)
	if err == nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO game_genres (app_id, genre_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			appID, genreID,
		)
	}

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT genre_link`); rbErr != nil {
			return fmt.Errorf("SAVEPOINTへのロールバックに失敗しました: %w", rbErr)
		}
		return &genreLinkError{err: err}
	}

	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT genre_link`); err != nil {
		return fmt.Errorf("SAVEPOINTの解放に失敗しました: %w", err)
	}
	return nil
}

const selectJoinedGames = `
	SELECT g.app_id, g.name, g.cover_url, g.developer, g.publisher, g.release_year,
	       g.last_seen_at, g.updated_at,
	       COALESCE(array_agg(ge.name ORDER BY ge.name) FILTER (WHERE ge.name IS NOT NULL), '{}') AS genres
	FROM games g
	LEFT JOIN game_genres gg ON gg.app_id = g.app_id
	LEFT JOIN genres ge ON ge.id = gg.genre_id`

const joinedGamesGroupOrder = `
	GROUP BY g.app_id
	ORDER BY g.name, g.app_id`

// ListJoined はジャンルを結合した全ゲームを名前順で返す。
func (r *PostgresGameRepo) ListJoined(ctx context.Context) ([]model.SnapshotGame, error) {
	games, err := r.queryGames(ctx, selectJoinedGames+joinedGamesGroupOrder)
	if err != nil {
		return nil, fmt.Errorf("ゲーム一覧の取得に失敗しました: %w", err)
	}

	out := make([]model.SnapshotGame, 0, len(games))
	for i := range games {
		out = append(out, games[i].ToSnapshot())
	}
	return out, nil
}

// List はジャンルを結合したゲームを名前順でページ単位に返す。pageは1始まり。
func (r *PostgresGameRepo) List(ctx context.Context, page, perPage int) ([]model.Game, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM games`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ゲーム件数の取得に失敗しました: %w", err)
	}

	games, err := r.queryGames(ctx,
		selectJoinedGames+joinedGamesGroupOrder+`
	LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ゲーム一覧の取得に失敗しました: %w", err)
	}
	return games, total, nil
}

// FindByID は指定app_idのゲームを返す。見つからない場合はnilを返す。
func (r *PostgresGameRepo) FindByID(ctx context.Context, appID int64) (*model.Game, error) {
	games, err := r.queryGames(ctx,
		selectJoinedGames+`
	WHERE g.app_id = $1`+joinedGamesGroupOrder,
		appID,
	)
	if err != nil {
		return nil, fmt.Errorf("ゲームの取得に失敗しました: %w", err)
	}
	if len(games) == 0 {
		return nil, nil
	}
	return &games[0], nil
}

func (r *PostgresGameRepo) queryGames(ctx context.Context, query string, args ...any) ([]model.Game, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		var g model.Game
		var cover, developer, publisher sql.NullString
		var releaseYear sql.NullInt64
		var genres []string

		if err := rows.Scan(
			&g.AppID, &g.Name, &cover, &developer, &publisher, &releaseYear,
			&g.LastSeenAt, &g.UpdatedAt, pq.Array(&genres),
		); err != nil {
			return nil, err
		}

		g.CoverURL = stringPtr(cover)
		g.Developer = stringPtr(developer)
		g.Publisher = stringPtr(publisher)
		if releaseYear.Valid {
			y := int(releaseYear.Int64)
			g.ReleaseYear = &y
		}
		if genres == nil {
			genres = []string{}
		}
		g.Genres = genres
		games = append(games, g)
	}
	return games, rows.Err()
}

// TryLock はpg_try_advisory_lockで同期処理のロックを取得する。
// セッションレベルのロックのため専用の接続を確保し、unlockで解放して接続を返す。
func (r *PostgresGameRepo) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ロック用接続の取得に失敗しました: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&locked); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("アドバイザリロックの取得に失敗しました: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, runLockKey); err != nil {
			r.logger.Error("アドバイザリロックの解放に失敗しました",
				slog.String("error", err.Error()),
			)
			// 解放に失敗した接続はプールに戻さず破棄する
			conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return unlock, true, nil
}

// PingContext はデータベースへの疎通を確認する。
func (r *PostgresGameRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil || strings.TrimSpace(*s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
