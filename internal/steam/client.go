// Package steam はSteam Web API（所有ゲーム一覧）とストアAPI（アプリ詳細）のクライアントを提供する。
package steam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hitoshi/biblioteca/internal/model"
)

const (
	// DefaultAPIBaseURL はSteam Web APIのベースURL。
	DefaultAPIBaseURL = "https://api.steampowered.com"
	// DefaultStoreBaseURL はSteamストアAPIのベースURL。
	DefaultStoreBaseURL = "https://store.steampowered.com"
	// DefaultTimeout は1リクエストあたりのタイムアウト。
	DefaultTimeout = 10 * time.Second

	// メトリクスのエンドポイントラベル
	EndpointOwnedGames = "owned_games"
	EndpointAppDetails = "app_details"

	// maxResponseSize はレスポンスボディの最大サイズ (10MB)。
	maxResponseSize = 10 * 1024 * 1024
	userAgent       = "Biblioteca/1.0 (+library sync)"
)

// RequestObserver は上流リクエストの結果を受け取る。metrics.Collectorが実装する。
type RequestObserver interface {
	RecordUpstreamRequest(endpoint string, statusCode int)
}

// Config はClientの設定。
type Config struct {
	APIKey       string
	APIBaseURL   string
	StoreBaseURL string
	Timeout      time.Duration
	Breaker      BreakerConfig
}

// Client はSteam APIのクライアント。
// 失敗はすべてエラーとして返し、既定値への置き換えは呼び出し側が判断する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	observer   RequestObserver

	apiKey    string
	apiBase   string
	storeBase string
	timeout   time.Duration

	details *gobreaker.CircuitBreaker[*model.DetailRecord]
}

// NewClient はClientの新しいインスタンスを生成する。
// observerがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, observer RequestObserver) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.StoreBaseURL == "" {
		cfg.StoreBaseURL = DefaultStoreBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		observer:   observer,
		apiKey:     cfg.APIKey,
		apiBase:    strings.TrimRight(cfg.APIBaseURL, "/"),
		storeBase:  strings.TrimRight(cfg.StoreBaseURL, "/"),
		timeout:    cfg.Timeout,
		details:    newDetailsBreaker(cfg.Breaker, logger),
	}
}

type ownedGamesResponse struct {
	Response *struct {
		GameCount int `json:"game_count"`
		Games     []struct {
			AppID int64  `json:"appid"`
			Name  string `json:"name"`
		} `json:"games"`
	} `json:"response"`
}

// FetchOwned は指定アカウントの所有ゲーム一覧を取得する。
// レスポンス全体をデコードしてから返すため、部分的な結果を返すことはない。
// responseを含まないボディは失敗、gamesを含まないresponseは空ライブラリ（非公開プロフィール）として扱う。
func (c *Client) FetchOwned(ctx context.Context, accountID string) ([]model.OwnedRecord, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("steamid", accountID)
	q.Set("include_appinfo", "1")
	q.Set("include_played_free_games", "1")
	q.Set("format", "json")
	reqURL := c.apiBase + "/IPlayerService/GetOwnedGames/v0001/?" + q.Encode()

	body, err := c.get(ctx, EndpointOwnedGames, reqURL)
	if err != nil {
		c.logger.Warn("所有ゲーム一覧の取得に失敗しました",
			slog.String("account", accountID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var decoded ownedGamesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("所有ゲーム一覧のパースに失敗しました: %w", err)
	}
	if decoded.Response == nil {
		return nil, errors.New("所有ゲーム一覧のレスポンスにresponseが含まれていません")
	}

	records := make([]model.OwnedRecord, 0, len(decoded.Response.Games))
	for _, g := range decoded.Response.Games {
		if g.AppID <= 0 {
			continue
		}
		records = append(records, model.OwnedRecord{AppID: g.AppID, Name: g.Name})
	}
	return records, nil
}

type appDetailsEntry struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type appDetailsData struct {
	Name        string   `json:"name"`
	HeaderImage string   `json:"header_image"`
	Developers  []string `json:"developers"`
	Publishers  []string `json:"publishers"`
	ReleaseDate *struct {
		ComingSoon bool   `json:"coming_soon"`
		Date       string `json:"date"`
	} `json:"release_date"`
	Genres []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"genres"`
}

// FetchDetails はアプリ詳細を取得する。
// success=falseまたはエントリが存在しない場合は (nil, nil) を返す。
// サーキットブレーカーが開いている間はリクエストを送らずにErrBreakerOpenを返す。
func (c *Client) FetchDetails(ctx context.Context, appID int64) (*model.DetailRecord, error) {
	rec, err := c.details.Execute(func() (*model.DetailRecord, error) {
		return c.fetchDetails(ctx, appID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return nil, err
	}
	return rec, nil
}

func (c *Client) fetchDetails(ctx context.Context, appID int64) (*model.DetailRecord, error) {
	id := strconv.FormatInt(appID, 10)
	reqURL := c.storeBase + "/api/appdetails?appids=" + url.QueryEscape(id)

	body, err := c.get(ctx, EndpointAppDetails, reqURL)
	if err != nil {
		return nil, err
	}

	var decoded map[string]appDetailsEntry
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("アプリ詳細のパースに失敗しました: %w", err)
	}

	entry, ok := decoded[id]
	if !ok || !entry.Success || len(entry.Data) == 0 {
		return nil, nil
	}

	var data appDetailsData
	if err := json.Unmarshal(entry.Data, &data); err != nil {
		return nil, fmt.Errorf("アプリ詳細データのパースに失敗しました: %w", err)
	}

	rec := &model.DetailRecord{
		Name:        data.Name,
		HeaderImage: data.HeaderImage,
		Developers:  data.Developers,
		Publishers:  data.Publishers,
	}
	if data.ReleaseDate != nil {
		rec.ReleaseDate = data.ReleaseDate.Date
	}
	for _, g := range data.Genres {
		rec.Genres = append(rec.Genres, g.Description)
	}
	return rec, nil
}

// get はタイムアウト付きでGETリクエストを送り、2xxの場合のみボディを返す。
// 返すエラーにはAPIキーを含むURLを含めない。
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", stripURL(err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, 0)
		return nil, fmt.Errorf("%sの呼び出しに失敗しました: %w", endpoint, stripURL(err))
	}
	defer resp.Body.Close()

	c.observe(endpoint, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", stripURL(err))
	}
	return body, nil
}

func (c *Client) observe(endpoint string, status int) {
	if c.observer != nil {
		c.observer.RecordUpstreamRequest(endpoint, status)
	}
}

// StatusError は上流APIが2xx以外を返した場合のエラー。
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%sがステータス %d を返しました", e.Endpoint, e.StatusCode)
}

// stripURL はurl.ErrorからURL部分を取り除く。URLのクエリにはAPIキーが含まれる。
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
