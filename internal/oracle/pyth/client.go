// Package pyth reads prices from the Pyth Hermes REST API.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/oracle"
)

const (
	defaultBaseURL   = "https://hermes.pyth.network"
	defaultAssetType = "crypto"
	defaultTimeout   = 10 * time.Second
)

// Config 描述 Hermes 接口的访问参数。
type Config struct {
	BaseURL   string
	AssetType string
	Timeout   time.Duration
}

// Client 通过 HTTP 调用 Hermes 获取价格源与价格。
type Client struct {
	baseURL    string
	assetType  string
	httpClient *http.Client
}

// NewClient 根据配置创建 Hermes 客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Hermes 地址不合法")
	}
	assetType := strings.TrimSpace(cfg.AssetType)
	if assetType == "" {
		assetType = defaultAssetType
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		assetType:  assetType,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type priceFeed struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// ResolveFeed 按符号搜索价格源，attributes.base 忽略大小写匹配，取第一条结果。
func (c *Client) ResolveFeed(ctx context.Context, symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "代币符号不能为空")
	}
	query := url.Values{}
	query.Set("query", symbol)
	query.Set("asset_type", c.assetType)

	var feeds []priceFeed
	if err := c.get(ctx, "/v2/price_feeds?"+query.Encode(), &feeds); err != nil {
		return "", err
	}
	for _, feed := range feeds {
		if strings.EqualFold(feed.Attributes["base"], symbol) {
			return feed.ID, nil
		}
	}
	return "", xerrors.Wrap(oracle.CodeFeedNotFound, oracle.ErrFeedNotFound,
		fmt.Sprintf("没有找到 %s 的价格源", symbol), xerrors.WithMetadata("symbol", symbol))
}

type latestUpdate struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// FetchPrice 返回 price * 10^expo 的十进制字符串。
func (c *Client) FetchPrice(ctx context.Context, feedID string) (string, error) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "价格源 ID 不能为空")
	}
	query := url.Values{}
	query.Add("ids[]", feedID)

	var update latestUpdate
	if err := c.get(ctx, "/v2/updates/price/latest?"+query.Encode(), &update); err != nil {
		return "", err
	}
	if len(update.Parsed) == 0 {
		return "", xerrors.New(xerrors.CodeOracleFailure, "Hermes 未返回价格数据", xerrors.WithMetadata("feed_id", feedID))
	}
	raw := update.Parsed[0].Price
	mantissa, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeOracleFailure, err, "解析价格失败", xerrors.WithMetadata("feed_id", feedID))
	}
	return mantissa.Shift(raw.Expo).String(), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOracleFailure, err, "构建 Hermes 请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeOracleFailure, err, "请求 Hermes 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeOracleFailure,
			fmt.Sprintf("Hermes 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeOracleFailure, err, "解析 Hermes 响应失败")
	}
	return nil
}

var _ oracle.Client = (*Client)(nil)
