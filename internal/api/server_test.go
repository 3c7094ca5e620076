package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"TradingTools/internal/order"
	"TradingTools/internal/tradingtools"
	"TradingTools/internal/web3"
	"TradingTools/pkg/plugin"
)

type idleEngine struct{}

func (idleEngine) TryFulfill(context.Context, *order.LimitOrder, common.Address) (bool, error) {
	return false, nil
}

type fakeChain struct {
	err error
}

func (f fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	if f.err != nil {
		return web3.ChainSnapshot{}, f.err
	}
	return web3.ChainSnapshot{Chain: "arbitrum", ChainID: "42161", BlockNumber: "100"}, nil
}

func newTestServer(t *testing.T, chain ChainReader) (*httptest.Server, *order.MemoryStore) {
	t.Helper()
	store := order.NewMemoryStore()
	service := order.NewService(store)
	provider := tradingtools.New(tradingtools.Deps{Orders: service, Engine: idleEngine{}})
	manager, err := plugin.NewManager(plugin.ManagerConfig{
		Defaults: plugin.IsolationPolicy{AllowedCapabilities: []plugin.Capability{
			plugin.CapabilityNetwork, plugin.CapabilityWallet, plugin.CapabilityOracle, plugin.CapabilityStorage,
		}},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := manager.Install(provider); err != nil {
		t.Fatalf("install: %v", err)
	}
	server := NewServer(Config{Addr: ":0"}, Deps{Actions: manager, Orders: service, Poller: provider, Chain: chain})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode
}

func TestInvokeActionsOverHTTP(t *testing.T) {
	srv, store := newTestServer(t, nil)

	var actions []plugin.Descriptor
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/actions", "", &actions); code != http.StatusOK {
		t.Fatalf("list actions: %d", code)
	}
	if len(actions) != 2 || actions[0].Name != tradingtools.ActionCheckLimitOrder || actions[1].Name != tradingtools.ActionCreateLimitOrder {
		t.Fatalf("unexpected actions %+v", actions)
	}

	var created invokeResponse
	body := `{"tokenSymbol":"XYZ","amount":"100","limitPrice":"2.50","destination":"0x00000000000000000000000000000000000000ab"}`
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/actions/create_limit_order", body, &created); code != http.StatusOK {
		t.Fatalf("create: %d", code)
	}
	orders, _ := store.List(context.Background())
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	id := orders[0].ID
	if created.Result != "Limit order created with ID "+id+", status: pending" {
		t.Fatalf("unexpected result %q", created.Result)
	}

	var checked invokeResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/actions/check_limit_order", `{"orderId":"`+id+`"}`, &checked); code != http.StatusOK {
		t.Fatalf("check: %d", code)
	}
	if checked.Result != "Order "+id+" status: pending" {
		t.Fatalf("unexpected status %q", checked.Result)
	}

	var failure errorResponse
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/actions/create_limit_order", `{"tokenSymbol":"XYZ"}`, &failure); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if failure.Error.Field != "amount" {
		t.Fatalf("unexpected error body %+v", failure)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/actions/cancel_limit_order", `{}`, &failure); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if failure.Error.Code != plugin.CodeActionNotFound {
		t.Fatalf("unexpected error code %s", failure.Error.Code)
	}
}

func TestOrderEndpoints(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := store.Create(ctx, &order.LimitOrder{ID: id, TokenSymbol: "XYZ", Amount: "1", LimitPrice: "1", Destination: "0x00000000000000000000000000000000000000ab"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := store.MarkFilled(ctx, "b", "0xabc"); err != nil {
		t.Fatalf("mark filled: %v", err)
	}

	var all []order.LimitOrder
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders", "", &all); code != http.StatusOK || len(all) != 2 {
		t.Fatalf("list all: %d %d", code, len(all))
	}
	var filled []order.LimitOrder
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders?status=filled", "", &filled); code != http.StatusOK || len(filled) != 1 || filled[0].TxHash != "0xabc" {
		t.Fatalf("list filled: %d %+v", code, filled)
	}
	var failure errorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders?status=cancelled", "", &failure); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}

	var got order.LimitOrder
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders/a", "", &got); code != http.StatusOK || got.Status != order.StatusPending {
		t.Fatalf("get order: %d %+v", code, got)
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders/missing", "", &failure); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if failure.Error.Code != order.CodeOrderNotFound {
		t.Fatalf("unexpected error code %s", failure.Error.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, fakeChain{})
	var health healthResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/health", "", &health); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if health.Status != "ok" || health.Polling || health.Chain == nil || health.Chain.ChainID != "42161" {
		t.Fatalf("unexpected health %+v", health)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `handler="/api/v1/health"`) {
		t.Fatalf("metrics missing health request: %d", resp.StatusCode)
	}

	degraded, _ := newTestServer(t, fakeChain{err: errors.New("rpc down")})
	if code := doJSON(t, http.MethodGet, degraded.URL+"/api/v1/health", "", &health); code != http.StatusServiceUnavailable || health.Status != "degraded" {
		t.Fatalf("expected degraded health, got %d %+v", code, health)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/actions/create_limit_order", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS headers")
	}
}
