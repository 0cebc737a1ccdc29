// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 上流クライアントとパイプラインから利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(endpoint string, statusCode int)
	RecordRun(result string, duration time.Duration)
	RecordGameChanges(added, removed, refreshed int)
	RecordAccountFailures(count int)
	RecordEnrichmentFailures(count int)
	RecordGenreErrors(count int)
	RecordSnapshotPublish(ok bool)
}

// 実行結果ラベル
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// StatusTransportError は応答を得られなかった上流リクエストに付与するステータスラベル。
const StatusTransportError = "error"

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs               *prometheus.CounterVec
	runDuration        prometheus.Histogram
	gamesChanged       *prometheus.CounterVec
	accountFailures    prometheus.Counter
	enrichmentFailures prometheus.Counter
	genreErrors        prometheus.Counter
	snapshotPublish    *prometheus.CounterVec
	upstreamRequests   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_runs_total",
			Help: "パイプライン実行の合計数（結果別）",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "biblioteca_run_duration_seconds",
			Help:    "パイプライン実行の所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		gamesChanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_games_changed_total",
			Help: "操作別のゲーム変更数",
		}, []string{"op"}),
		accountFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_account_failures_total",
			Help: "所有ゲーム取得に失敗したアカウント数の合計",
		}),
		enrichmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_enrichment_failures_total",
			Help: "詳細情報の取得に失敗したゲーム数の合計",
		}),
		genreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biblioteca_genre_errors_total",
			Help: "ジャンル関連付けに失敗した件数の合計",
		}),
		snapshotPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_snapshot_publish_total",
			Help: "スナップショット公開の合計数（結果別）",
		}, []string{"result"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biblioteca_upstream_requests_total",
			Help: "上流APIへのリクエスト数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status"}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.gamesChanged,
		c.accountFailures,
		c.enrichmentFailures,
		c.genreErrors,
		c.snapshotPublish,
		c.upstreamRequests,
	)

	return c
}

// RecordUpstreamRequest は上流APIへのリクエスト結果を記録する。
// statusCodeが0の場合は通信エラーとして記録する。
func (c *Collector) RecordUpstreamRequest(endpoint string, statusCode int) {
	status := StatusTransportError
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	c.upstreamRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordRun はパイプライン実行の結果と所要時間を記録する。
func (c *Collector) RecordRun(result string, duration time.Duration) {
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordGameChanges は追加・削除・更新されたゲーム数を記録する。
func (c *Collector) RecordGameChanges(added, removed, refreshed int) {
	c.gamesChanged.WithLabelValues("add").Add(float64(added))
	c.gamesChanged.WithLabelValues("remove").Add(float64(removed))
	c.gamesChanged.WithLabelValues("refresh").Add(float64(refreshed))
}

func (c *Collector) RecordAccountFailures(count int) {
	c.accountFailures.Add(float64(count))
}

func (c *Collector) RecordEnrichmentFailures(count int) {
	c.enrichmentFailures.Add(float64(count))
}

func (c *Collector) RecordGenreErrors(count int) {
	c.genreErrors.Add(float64(count))
}

// RecordSnapshotPublish はスナップショット公開の成否を記録する。
func (c *Collector) RecordSnapshotPublish(ok bool) {
	result := ResultSuccess
	if !ok {
		result = ResultFailure
	}
	c.snapshotPublish.WithLabelValues(result).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordUpstreamRequest(string, int) {}
func (NopCollector) RecordRun(string, time.Duration) {}
func (NopCollector) RecordGameChanges(int, int, int) {}
func (NopCollector) RecordAccountFailures(int) {}
func (NopCollector) RecordEnrichmentFailures(int) {}
func (NopCollector) RecordGenreErrors(int) {}
func (NopCollector) RecordSnapshotPublish(bool) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
