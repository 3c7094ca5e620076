// Package tradingtools is a Go client for the TradingTools REST API.
package tradingtools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Action calls return as soon as the order is stored, so it stays short.
const DefaultHTTPTimeout = 15 * time.Second

// Action names exposed by the limit order provider.
const (
	ActionCreateLimitOrder = "create_limit_order"
	ActionCheckLimitOrder  = "check_limit_order"
)

// Client wraps the HTTP interactions with the TradingTools REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ActionField describes one argument of an action.
type ActionField struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Action describes an action the server can invoke.
type Action struct {
	Provider    string        `json:"provider"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Fields      []ActionField `json:"fields"`
}

// ActionResult is the textual result of an invocation.
type ActionResult struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

// LimitOrderRequest is the argument set of create_limit_order.
type LimitOrderRequest struct {
	TokenSymbol string `json:"tokenSymbol"`
	Amount      string `json:"amount"`
	LimitPrice  string `json:"limitPrice"`
	Destination string `json:"destination"`
}

// Order mirrors a stored limit order.
type Order struct {
	ID          string `json:"id"`
	TokenSymbol string `json:"token_symbol"`
	Amount      string `json:"amount"`
	LimitPrice  string `json:"limit_price"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("tradingtools api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tradingtools api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListActions returns the actions registered on the server.
func (c *Client) ListActions(ctx context.Context) ([]Action, error) {
	var actions []Action
	if err := c.get(ctx, "/api/v1/actions", nil, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// InvokeAction calls an action with arbitrary JSON-encodable arguments.
func (c *Client) InvokeAction(ctx context.Context, name string, args any) (string, error) {
	var result ActionResult
	if err := c.post(ctx, "/api/v1/actions/"+url.PathEscape(name), args, &result); err != nil {
		return "", err
	}
	return result.Result, nil
}

var createdPattern = regexp.MustCompile(`^Limit order created with ID (\S+), status: `)

// CreateLimitOrder creates an order and returns its id together with the
// server's confirmation text.
func (c *Client) CreateLimitOrder(ctx context.Context, req LimitOrderRequest) (string, string, error) {
	text, err := c.InvokeAction(ctx, ActionCreateLimitOrder, req)
	if err != nil {
		return "", "", err
	}
	match := createdPattern.FindStringSubmatch(text)
	if match == nil {
		return "", text, fmt.Errorf("unexpected create_limit_order result: %q", text)
	}
	return match[1], text, nil
}

// CheckLimitOrder returns the status description of an order.
func (c *Client) CheckLimitOrder(ctx context.Context, orderID string) (string, error) {
	return c.InvokeAction(ctx, ActionCheckLimitOrder, map[string]string{"orderId": orderID})
}

// GetOrder fetches the stored order record.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	if err := c.get(ctx, "/api/v1/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// ListOrders returns orders, optionally filtered by status.
func (c *Client) ListOrders(ctx context.Context, statuses ...string) ([]Order, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", s)
	}
	var orders []Order
	if err := c.get(ctx, "/api/v1/orders", query, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				apiErr.Message = string(bytes.TrimSpace(data))
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
