package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	defaultTimeout = 10 * time.Second
)

// Quote 是单个资产的美元报价。
type Quote struct {
	AssetID      string    `json:"asset_id"`
	USD          float64   `json:"usd"`
	USD24hChange float64   `json:"usd_24h_change"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher 返回指定资产的最新报价。
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) (map[string]Quote, error)
}

// Config 描述行情接口的访问方式。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 调用 CoinGecko 风格的 simple/price 接口。
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient 根据配置创建行情客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Fetch 请求 ids 对应资产的美元价格与 24 小时涨跌幅。
func (c *Client) Fetch(ctx context.Context, ids []string) (map[string]Quote, error) {
	if len(ids) == 0 {
		return nil, errors.New("未指定需要查询的资产")
	}
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	query.Set("include_24hr_change", "true")
	endpoint := c.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建行情请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求行情接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("行情接口返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded map[string]struct {
		USD          *float64 `json:"usd"`
		USD24hChange *float64 `json:"usd_24h_change"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析行情响应失败: %w", err)
	}

	fetchedAt := c.now().UTC()
	quotes := make(map[string]Quote, len(decoded))
	for id, entry := range decoded {
		if entry.USD == nil {
			continue
		}
		q := Quote{AssetID: id, USD: *entry.USD, FetchedAt: fetchedAt}
		if entry.USD24hChange != nil {
			q.USD24hChange = *entry.USD24hChange
		}
		quotes[id] = q
	}
	return quotes, nil
}
