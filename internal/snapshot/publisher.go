package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/security"
)

// DefaultKey はスナップショットの既定のキャッシュキー。
const DefaultKey = "all.json"

// GameLister はジャンルを結合したゲーム一覧の取得インターフェース。
type GameLister interface {
	ListJoined(ctx context.Context) ([]model.SnapshotGame, error)
}

// Publisher は永続化済みのライブラリからスナップショットを生成してキャッシュに書き込む。
type Publisher struct {
	games  GameLister
	cache  Cache
	key    string
	logger *slog.Logger
}

// NewPublisher はPublisherを生成する。keyが空の場合はDefaultKeyを使用する。
func NewPublisher(games GameLister, cache Cache, key string, logger *slog.Logger) *Publisher {
	if key == "" {
		key = DefaultKey
	}
	return &Publisher{games: games, cache: cache, key: key, logger: logger}
}

// Publish はスナップショットを再生成してキャッシュに書き込み、書き込んだ件数を返す。
func (p *Publisher) Publish(ctx context.Context) (int, error) {
	data, n, err := p.build(ctx)
	if err != nil {
		return 0, err
	}
	if err := p.cache.Put(ctx, p.key, data); err != nil {
		return 0, err
	}

	p.logger.Info("スナップショットを公開しました",
		slog.String("key", p.key),
		slog.Int("games", n),
		slog.Int("bytes", len(data)),
	)
	return n, nil
}

// Load はキャッシュ済みのスナップショットを返す。
// キャッシュにない場合はストアから再生成し、キャッシュへの書き戻しはベストエフォートで行う。
func (p *Publisher) Load(ctx context.Context) ([]byte, error) {
	data, err := p.cache.Get(ctx, p.key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		p.logger.Warn("スナップショットキャッシュの読み込みに失敗しました。再生成します",
			slog.String("key", p.key),
			slog.String("error", err.Error()),
		)
	}

	data, _, err = p.build(ctx)
	if err != nil {
		return nil, err
	}
	if putErr := p.cache.Put(ctx, p.key, data); putErr != nil {
		p.logger.Warn("スナップショットキャッシュへの書き戻しに失敗しました",
			slog.String("key", p.key),
			slog.String("error", putErr.Error()),
		)
	}
	return data, nil
}

func (p *Publisher) build(ctx context.Context) ([]byte, int, error) {
	games, err := p.games.ListJoined(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("スナップショット用のゲーム一覧の取得に失敗しました: %w", err)
	}

	out := make([]model.SnapshotGame, 0, len(games))
	for _, g := range games {
		out = append(out, SanitizeGame(g))
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, 0, fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}
	return data, len(out), nil
}

// SanitizeGame はスナップショット要素の全文字列をサニタイズする。
// 空になったジャンルは除外し、Genresは常に非nilにする。
func SanitizeGame(g model.SnapshotGame) model.SnapshotGame {
	g.Name = security.SanitizeText(g.Name)
	g.CoverURL = security.SanitizeOptional(g.CoverURL)
	g.Developer = security.SanitizeOptional(g.Developer)
	g.Publisher = security.SanitizeOptional(g.Publisher)

	genres := make([]string, 0, len(g.Genres))
	for _, genre := range g.Genres {
		if s := security.SanitizeText(genre); s != "" {
			genres = append(genres, s)
		}
	}
	g.Genres = genres
	return g
}
