// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/biblioteca/internal/library"
	"github.com/hitoshi/biblioteca/internal/model"
)

// GameRepository はゲームライブラリの永続化インターフェース。
type GameRepository interface {
	// CurrentAppIDs は永続化済みの全app_idを返す。
	CurrentAppIDs(ctx context.Context) ([]int64, error)

	// LibraryState はゲーム件数と最新のlast_seen_atを返す。
	LibraryState(ctx context.Context) (model.LibraryState, error)

	// Apply は差分計画を1つのトランザクションで適用する。
	// gamesはToAddとToRefreshの全app_idを含んでいなければならない。
	// ジャンル単位の失敗はGenreErrorsに数えて続行し、それ以外の失敗は全体をロールバックする。
	Apply(ctx context.Context, plan library.Plan, games map[int64]model.Game, now time.Time) (model.ApplyStats, error)

	// ListJoined はジャンルを結合した全ゲームを名前順で返す。
	ListJoined(ctx context.Context) ([]model.SnapshotGame, error)

	// List はジャンルを結合したゲームを名前順でページ単位に返す。2つ目の戻り値は総件数。
	List(ctx context.Context, page, perPage int) ([]model.Game, int, error)

	// FindByID は指定app_idのゲームを返す。見つからない場合はnilを返す。
	FindByID(ctx context.Context, appID int64) (*model.Game, error)
}

// RunLocker は同期処理の多重実行を防ぐロック。
type RunLocker interface {
	// TryLock はロックの取得を試みる。取得できた場合はokがtrueで、unlockで解放する。
	// 他の実行がロックを保持している場合は待たずにok=falseを返す。
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

// Pinger はデータベースの疎通確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}
