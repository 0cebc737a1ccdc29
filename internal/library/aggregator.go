// Package library は複数アカウントの所有ゲームを集約し、詳細情報で補完し、
// 永続化済みの集合との差分を計算する。
package library

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/biblioteca/internal/model"
)

// OwnedFetcher はアカウントの所有ゲーム一覧を取得する。steam.Clientが実装する。
type OwnedFetcher interface {
	FetchOwned(ctx context.Context, accountID string) ([]model.OwnedRecord, error)
}

// AggregateResult はAggregateの結果。
type AggregateResult struct {
	// Records はapp_idをキーとする重複排除済みのレコード。
	Records map[int64]model.OwnedRecord
	// Order は最初に観測された順のapp_id。
	Order []int64
	// FailedAccounts は取得に失敗したアカウントID。
	FailedAccounts []string
	// TotalRecords は重複排除前のレコード総数。
	TotalRecords int
}

// OrderedRecords は最初に観測された順でレコードを返す。
func (r *AggregateResult) OrderedRecords() []model.OwnedRecord {
	out := make([]model.OwnedRecord, 0, len(r.Order))
	for _, id := range r.Order {
		out = append(out, r.Records[id])
	}
	return out
}

// AppIDs は集約されたapp_idを最初に観測された順で返す。
func (r *AggregateResult) AppIDs() []int64 {
	ids := make([]int64, len(r.Order))
	copy(ids, r.Order)
	return ids
}

// Aggregator は複数アカウントの所有ゲームを順番に取得して集約する。
type Aggregator struct {
	fetcher      OwnedFetcher
	logger       *slog.Logger
	accountDelay time.Duration
}

// NewAggregator はAggregatorの新しいインスタンスを生成する。
// accountDelayは前のアカウントの取得完了から次の取得開始までの待ち時間。
func NewAggregator(fetcher OwnedFetcher, logger *slog.Logger, accountDelay time.Duration) *Aggregator {
	return &Aggregator{
		fetcher:      fetcher,
		logger:       logger,
		accountDelay: accountDelay,
	}
}

// Aggregate は各アカウントの所有ゲームを順番に取得し、app_idで重複排除する。
// 同じapp_idは最初に観測されたものを採用する。
// 取得に失敗したアカウントはFailedAccountsに記録して処理を続行する。
// エラーを返すのはコンテキストがキャンセルされた場合のみ。
func (a *Aggregator) Aggregate(ctx context.Context, accountIDs []string) (AggregateResult, error) {
	result := AggregateResult{
		Records: make(map[int64]model.OwnedRecord),
	}

	for i, accountID := range accountIDs {
		// 前のアカウントの取得完了から次の取得開始までaccountDelayだけ待つ
		if i > 0 && a.accountDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(a.accountDelay):
			}
		}

		recs, err := a.fetcher.FetchOwned(ctx, accountID)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			a.logger.Warn("アカウントの所有ゲーム取得に失敗しました。残りのアカウントで続行します",
				slog.String("account", accountID),
				slog.String("error", err.Error()),
			)
			result.FailedAccounts = append(result.FailedAccounts, accountID)
			continue
		}

		result.TotalRecords += len(recs)
		added := 0
		for _, rec := range recs {
			if _, seen := result.Records[rec.AppID]; seen {
				continue
			}
			result.Records[rec.AppID] = rec
			result.Order = append(result.Order, rec.AppID)
			added++
		}

		a.logger.Info("アカウントの所有ゲームを取得しました",
			slog.String("account", accountID),
			slog.Int("records", len(recs)),
			slog.Int("new_unique", added),
		)
	}

	return result, nil
}
