package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Steam
	SteamAPIKey       string
	SteamIDs          []string
	SteamAPIBaseURL   string
	SteamStoreBaseURL string
	UpstreamTimeout   time.Duration

	// Refresh
	EnrichDetails    bool
	FreshnessWindow  time.Duration
	DetailBatchSize  int
	DetailBatchDelay time.Duration
	AccountDelay     time.Duration
	SyncInterval     time.Duration

	// Snapshot
	SnapshotBucketURL string
	SnapshotKey       string

	// Rate Limit
	RateLimitSync int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	// MetricsPort はworkerモードで/metricsを公開するポート。空の場合は公開しない。
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// 詳細取得バッチサイズの上下限。
const (
	minDetailBatchSize     = 1
	maxDetailBatchSize     = 50
	defaultDetailBatchSize = 15
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の変数をすべて含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SteamAPIKey = strings.TrimSpace(os.Getenv("STEAM_API_KEY"))
	if cfg.SteamAPIKey == "" {
		missing = append(missing, "STEAM_API_KEY")
	}

	cfg.SteamIDs = splitList(os.Getenv("STEAM_IDS"))
	if len(cfg.SteamIDs) == 0 {
		missing = append(missing, "STEAM_IDS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SteamAPIBaseURL = strings.TrimRight(getEnvString("STEAM_API_BASE_URL", "https://api.steampowered.com"), "/")
	cfg.SteamStoreBaseURL = strings.TrimRight(getEnvString("STEAM_STORE_BASE_URL", "https://store.steampowered.com"), "/")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.EnrichDetails = getEnvBool("ENRICH_DETAILS", true)
	cfg.FreshnessWindow = getEnvDuration("FRESHNESS_WINDOW", 6*time.Hour)
	cfg.DetailBatchSize = clamp(getEnvInt("DETAIL_BATCH_SIZE", defaultDetailBatchSize), minDetailBatchSize, maxDetailBatchSize)
	cfg.DetailBatchDelay = getEnvDuration("DETAIL_BATCH_DELAY", 300*time.Millisecond)
	cfg.AccountDelay = getEnvDuration("ACCOUNT_DELAY", 300*time.Millisecond)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 6*time.Hour)
	cfg.SnapshotBucketURL = getEnvString("SNAPSHOT_BUCKET_URL", "")
	cfg.SnapshotKey = getEnvString("SNAPSHOT_KEY", "all.json")
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 6)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = os.Getenv("METRICS_PORT")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

// splitList はカンマ区切りの値を空白除去・空要素除外・重複除外して返す。
func splitList(v string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}
