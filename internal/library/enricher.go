package library

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
	"github.com/hitoshi/biblioteca/internal/security"
)

const (
	// DefaultBatchSize は1バッチで並列に取得する詳細の件数。
	DefaultBatchSize = 15
	// MaxBatchSize はバッチサイズの上限。
	MaxBatchSize = 50
	// DefaultBatchDelay はバッチ間の待機時間。
	DefaultBatchDelay = 300 * time.Millisecond

	coverURLTemplate = "https://cdn.cloudflare.steamstatic.com/steam/apps/%d/header.jpg"
)

var releaseYearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// DetailFetcher はアプリ詳細を取得する。steam.Clientが実装する。
// 詳細が存在しない場合は (nil, nil) を返す。
type DetailFetcher interface {
	FetchDetails(ctx context.Context, appID int64) (*model.DetailRecord, error)
}

// EnrichStats はEnrichAllの集計。
type EnrichStats struct {
	// Failures は詳細の取得またはパースに失敗した件数。
	Failures int
	// Missing は詳細が存在しなかった件数。
	Missing int
}

type enrichOutcome int

const (
	outcomeEnriched enrichOutcome = iota
	outcomeMissing
	outcomeFailed
)

// Enricher は所有レコードを詳細APIの情報で補完する。
type Enricher struct {
	fetcher    DetailFetcher
	logger     *slog.Logger
	batchSize  int
	batchDelay time.Duration
}

// NewEnricher はEnricherの新しいインスタンスを生成する。
// batchSizeは1..50に丸められ、0以下の場合はデフォルト値15を使用する。
func NewEnricher(fetcher DetailFetcher, logger *slog.Logger, batchSize int, batchDelay time.Duration) *Enricher {
	if batchDelay < 0 {
		batchDelay = 0
	}
	return &Enricher{
		fetcher:    fetcher,
		logger:     logger,
		batchSize:  ClampBatchSize(batchSize),
		batchDelay: batchDelay,
	}
}

// ClampBatchSize はバッチサイズを1..MaxBatchSizeに丸める。0以下はデフォルト値。
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// CoverURL はapp_idから既定のカバー画像URLを組み立てる。
func CoverURL(appID int64) string {
	return fmt.Sprintf(coverURLTemplate, appID)
}

// Basic は詳細を取得せずに既定値のみでGameを組み立てる。
func Basic(rec model.OwnedRecord) model.Game {
	name := security.SanitizeText(rec.Name)
	if name == "" {
		name = fmt.Sprintf("App %d", rec.AppID)
	}
	cover := CoverURL(rec.AppID)
	return model.Game{
		AppID:    rec.AppID,
		Name:     name,
		CoverURL: &cover,
	}
}

// Enrich は1件のレコードを補完する。失敗しても既定値のGameを返す。
func (e *Enricher) Enrich(ctx context.Context, rec model.OwnedRecord) model.Game {
	g, _ := e.enrich(ctx, rec)
	return g
}

func (e *Enricher) enrich(ctx context.Context, rec model.OwnedRecord) (model.Game, enrichOutcome) {
	g := Basic(rec)

	detail, err := e.fetcher.FetchDetails(ctx, rec.AppID)
	if err != nil {
		e.logger.Debug("詳細情報の取得に失敗しました。既定値を使用します",
			slog.Int64("app_id", rec.AppID),
			slog.String("error", err.Error()),
		)
		return g, outcomeFailed
	}
	if detail == nil {
		return g, outcomeMissing
	}

	applyDetail(&g, detail)
	return g, outcomeEnriched
}

// applyDetail は詳細情報でGameの補完可能な項目を上書きする。
func applyDetail(g *model.Game, d *model.DetailRecord) {
	if name := security.SanitizeText(d.Name); name != "" {
		g.Name = name
	}

	if img := strings.TrimSpace(d.HeaderImage); img != "" && security.ValidateURL(img) == nil {
		g.CoverURL = &img
	}

	g.Developer = firstNonEmpty(d.Developers)
	g.Publisher = firstNonEmpty(d.Publishers)
	g.ReleaseYear = parseReleaseYear(d.ReleaseDate)
	g.Genres = sanitizeGenres(d.Genres)
	g.Enriched = true
}

func firstNonEmpty(values []string) *string {
	for _, v := range values {
		if s := security.SanitizeText(v); s != "" {
			return &s
		}
	}
	return nil
}

func parseReleaseYear(date string) *int {
	m := releaseYearPattern.FindString(date)
	if m == "" {
		return nil
	}
	year, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &year
}

// sanitizeGenres は空のジャンルを除き、出現順を保って重複を取り除く。
func sanitizeGenres(raw []string) []string {
	genres := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		name := security.SanitizeText(r)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		genres = append(genres, name)
	}
	return genres
}

// EnrichAll はレコードをbatchSize件ずつのバッチに分け、バッチ内は並列、
// バッチ間はbatchDelayだけ待機して順番に補完する。出力順は入力順と同じ。
// コンテキストがキャンセルされた場合、未処理のレコードは既定値とし失敗として数える。
func (e *Enricher) EnrichAll(ctx context.Context, recs []model.OwnedRecord) ([]model.Game, EnrichStats) {
	games := make([]model.Game, len(recs))
	outcomes := make([]enrichOutcome, len(recs))

	for start := 0; start < len(recs); start += e.batchSize {
		if start > 0 && e.batchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.batchDelay):
			}
		}

		end := start + e.batchSize
		if end > len(recs) {
			end = len(recs)
		}

		if ctx.Err() != nil {
			for i := start; i < len(recs); i++ {
				games[i] = Basic(recs[i])
				outcomes[i] = outcomeFailed
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				games[i], outcomes[i] = e.enrich(ctx, recs[i])
			}(i)
		}
		wg.Wait()
	}

	var stats EnrichStats
	for _, o := range outcomes {
		switch o {
		case outcomeFailed:
			stats.Failures++
		case outcomeMissing:
			stats.Missing++
		}
	}

	e.logger.Info("詳細情報の補完が完了しました",
		slog.Int("games", len(recs)),
		slog.Int("batch_size", e.batchSize),
		slog.Int("failures", stats.Failures),
		slog.Int("missing", stats.Missing),
	)

	return games, stats
}
