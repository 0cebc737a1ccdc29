// Package model はドメインモデルを定義する。
package model

import "time"

// Game はライブラリ内のゲームを表す正規エンティティ。
// app_id は上流システムが払い出す安定した整数で、グローバルに一意。
type Game struct {
	AppID       int64
	Name        string
	CoverURL    *string
	Developer   *string
	Publisher   *string
	ReleaseYear *int
	Genres      []string
	LastSeenAt  time.Time
	UpdatedAt   time.Time

	// Enriched は今回の実行で詳細APIからの補完に成功したかを示す。永続化しない。
	Enriched bool
}

// Genre はジャンル辞書のエントリ。初回観測時に作成され、削除されない。
type Genre struct {
	ID   int64
	Name string
}

// OwnedRecord は1アカウントの所有ゲーム一覧に含まれる1件。
// 1回のパイプライン実行中にのみ存在し、直接永続化されない。
type OwnedRecord struct {
	AppID int64
	Name  string
}

// DetailRecord は詳細APIから取得したゲームのメタデータ。
type DetailRecord struct {
	Name        string
	HeaderImage string
	Developers  []string
	Publishers  []string
	ReleaseDate string
	Genres      []string
}

// SnapshotGame はスナップショット配列の1要素。
// ゲームとジャンルを結合し、サニタイズ済みの読み取り専用ビュー。
type SnapshotGame struct {
	AppID       int64    `json:"app_id"`
	Name        string   `json:"name"`
	CoverURL    *string  `json:"cover_url"`
	Developer   *string  `json:"developer"`
	Publisher   *string  `json:"publisher"`
	ReleaseYear *int     `json:"release_year"`
	Genres      []string `json:"genres"`
}

// ToSnapshot はGameをスナップショット要素に変換する。
// Genresがnilの場合は空配列にする（JSONでnullにしないため）。
func (g *Game) ToSnapshot() SnapshotGame {
	genres := g.Genres
	if genres == nil {
		genres = []string{}
	}
	return SnapshotGame{
		AppID:       g.AppID,
		Name:        g.Name,
		CoverURL:    g.CoverURL,
		Developer:   g.Developer,
		Publisher:   g.Publisher,
		ReleaseYear: g.ReleaseYear,
		Genres:      genres,
	}
}

// LibraryState は永続化済みライブラリの概況。鮮度判定に使用する。
type LibraryState struct {
	Count int
	// LastSeenAt は最新のlast_seen_at。ライブラリが空の場合はゼロ値。
	LastSeenAt time.Time
}

// ApplyStats はPersistenceGateway.Applyの結果。
type ApplyStats struct {
	Inserted    int
	Updated     int
	Unchanged   int
	Removed     int
	GenreErrors int
	// Total はコミット直前のgames件数。
	Total int
}
