package model

import "time"

// RunStage はパイプライン実行の段階を表す。
type RunStage string

const (
	StageIdle           RunStage = "idle"
	StageCheckStaleness RunStage = "check_staleness"
	StageCollecting     RunStage = "collecting"
	StageEnriching      RunStage = "enriching"
	StageReconciling    RunStage = "reconciling"
	StagePersisting     RunStage = "persisting"
	StagePublishing     RunStage = "publishing"
	StageDone           RunStage = "done"
)

// SkipReason は実行がスキップされた理由。
type SkipReason string

const (
	// SkipReasonFresh は鮮度ウィンドウ内のためスキップしたことを示す。
	SkipReasonFresh SkipReason = "fresh"
	// SkipReasonLocked は別の実行がロックを保持していたためスキップしたことを示す。
	SkipReasonLocked SkipReason = "locked"
)

// RunReport は1回のパイプライン実行の結果。
// 呼び出し元が観測できる唯一の結果であり、生のエラーは含めずメッセージのみを持つ。
type RunReport struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMs int64      `json:"duration_ms"`
	Forced     bool       `json:"forced"`
	Enrich     bool       `json:"enrich"`
	Stage      RunStage   `json:"stage"`
	Skipped    bool       `json:"skipped"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	Accounts       int      `json:"accounts"`
	FailedAccounts []string `json:"failed_accounts"`
	OwnedRecords   int      `json:"owned_records"`
	UpstreamCount  int      `json:"upstream_count"`

	EnrichmentFailures int `json:"enrichment_failures"`
	EnrichmentMissing  int `json:"enrichment_missing"`

	Added       int `json:"added"`
	Removed     int `json:"removed"`
	Refreshed   int `json:"refreshed"`
	Changed     int `json:"changed"`
	GenreErrors int `json:"genre_errors"`

	PersistedCount    int    `json:"persisted_count"`
	SnapshotPublished bool   `json:"snapshot_published"`
	SnapshotError     string `json:"snapshot_error,omitempty"`

	FailedStage RunStage `json:"failed_stage,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Succeeded は実行が致命的エラーなしに終了したかを返す。スキップも成功として扱う。
func (r *RunReport) Succeeded() bool {
	return r.Error == ""
}
