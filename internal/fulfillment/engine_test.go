package fulfillment

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/order"
)

var (
	tokenXYZ    = common.HexToAddress("0x00000000000000000000000000000000000000de")
	destination = "0x00000000000000000000000000000000000000ab"
)

func newTestEngine(t *testing.T, prices map[string]string) (*Engine, *order.MemoryStore, *fakeOracle, *fakeWallet) {
	t.Helper()
	store := order.NewMemoryStore()
	oracle := &fakeOracle{prices: prices}
	wallet := newFakeWallet()
	engine, err := NewEngine(store, oracle, wallet, Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return engine, store, oracle, wallet
}

func createOrder(t *testing.T, store order.Store, id, symbol, limit string) *order.LimitOrder {
	t.Helper()
	o := &order.LimitOrder{
		ID:          id,
		TokenSymbol: symbol,
		Amount:      "1000000",
		LimitPrice:  limit,
		Destination: destination,
		Status:      order.StatusPending,
	}
	if err := store.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestTryFulfillLeavesOrderWhenPriceAboveLimit(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.51"})
	o := createOrder(t, store, "o1", "XYZ", "2.50")

	filled, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if err != nil || filled {
		t.Fatalf("expected no fill, got %v %v", filled, err)
	}
	if len(wallet.transactions()) != 0 {
		t.Fatalf("no transaction may be sent above the limit")
	}
	stored, _ := store.Get(context.Background(), "o1")
	if stored.Status != order.StatusPending || stored.TxHash != "" {
		t.Fatalf("order mutated: %+v", stored)
	}
}

func TestTryFulfillApprovesThenSwaps(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.5000"})
	o := createOrder(t, store, "o1", "XYZ", "2.50")

	filled, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if err != nil || !filled {
		t.Fatalf("expected fill at equal price, got %v %v", filled, err)
	}

	txs := wallet.transactions()
	if len(txs) != 2 {
		t.Fatalf("expected approve and swap, got %d transactions", len(txs))
	}
	if txs[0].to != DefaultStableToken || !bytes.Equal(txs[0].data[:4], selector("approve(address,uint256)")) {
		t.Fatalf("first transaction must approve the stablecoin")
	}
	if txs[1].to != DefaultRouter {
		t.Fatalf("second transaction must target the router, got %s", txs[1].to.Hex())
	}

	values, err := engine.contracts.router.Methods["exactInputSingle"].Inputs.Unpack(txs[1].data[4:])
	if err != nil {
		t.Fatalf("unpack swap: %v", err)
	}
	params := *abi.ConvertType(values[0], new(ExactInputSingleParams)).(*ExactInputSingleParams)
	if params.TokenOut != tokenXYZ || params.Recipient != common.HexToAddress(destination) {
		t.Fatalf("unexpected swap params %+v", params)
	}
	if params.Deadline.Int64() != 1_700_000_060 || params.AmountIn.Int64() != 1_000_000 || params.AmountOutMinimum.Sign() != 0 {
		t.Fatalf("unexpected swap params %+v", params)
	}

	stored, _ := store.Get(context.Background(), "o1")
	if stored.Status != order.StatusFilled || stored.TxHash != txs[1].hash.Hex() {
		t.Fatalf("order not filled with swap hash: %+v", stored)
	}
	if o.Status != order.StatusFilled || o.TxHash != stored.TxHash {
		t.Fatalf("caller copy not updated: %+v", o)
	}
}

func TestTryFulfillApprovalFailureKeepsOrderPending(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.40"})
	wallet.failSend[1] = errors.New("insufficient funds")
	o := createOrder(t, store, "o1", "XYZ", "2.50")

	_, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if xerrors.CodeOf(err) != CodeApprovalFailed {
		t.Fatalf("expected approval failure, got %v", err)
	}
	if len(wallet.transactions()) != 1 {
		t.Fatalf("swap must not be attempted after failed approval")
	}
	stored, _ := store.Get(context.Background(), "o1")
	if stored.Status != order.StatusPending || stored.TxHash != "" {
		t.Fatalf("order mutated: %+v", stored)
	}
}

func TestTryFulfillRevertedSwapIsFailure(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.40"})
	wallet.reverted[2] = true
	o := createOrder(t, store, "o1", "XYZ", "2.50")

	_, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if xerrors.CodeOf(err) != CodeSwapFailed {
		t.Fatalf("expected swap failure, got %v", err)
	}
	if !xerrors.ShouldAlert(err) {
		t.Fatalf("swap failures must alert")
	}
	e, _ := xerrors.From(err)
	if e.Metadata()["stage"] != "swap" || e.Metadata()["order_id"] != "o1" {
		t.Fatalf("unexpected metadata %v", e.Metadata())
	}
	stored, _ := store.Get(context.Background(), "o1")
	if stored.Status != order.StatusPending {
		t.Fatalf("order mutated: %+v", stored)
	}
}

func TestTryFulfillOracleFailure(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{})
	o := createOrder(t, store, "o1", "XYZ", "2.50")

	_, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if xerrors.CodeOf(err) != CodePriceUnavailable {
		t.Fatalf("expected price unavailable, got %v", err)
	}
	if xerrors.ShouldAlert(err) {
		t.Fatalf("oracle failures are logged, not alerted")
	}
	if len(wallet.transactions()) != 0 {
		t.Fatalf("no transaction may be sent without a price")
	}
}

func TestTryFulfillRejectsFilledOrder(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, map[string]string{"XYZ": "1"})
	o := &order.LimitOrder{ID: "o1", Status: order.StatusFilled, TxHash: "0x1"}
	if _, err := engine.TryFulfill(context.Background(), o, tokenXYZ); !errors.Is(err, order.ErrOrderAlreadyFilled) {
		t.Fatalf("expected already filled, got %v", err)
	}
}

// flakyStore fails the first n MarkFilled calls with a storage error.
type flakyStore struct {
	*order.MemoryStore
	failures int32
}

func (s *flakyStore) MarkFilled(ctx context.Context, id, txHash string) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return xerrors.New(xerrors.CodeStorageFailure, "connection reset")
	}
	return s.MemoryStore.MarkFilled(ctx, id, txHash)
}

func TestConfirmedSwapIsSettledWithoutResending(t *testing.T) {
	engine, mem, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.40"})
	store := &flakyStore{MemoryStore: mem, failures: 1}
	engine.store = store
	createOrder(t, store, "o1", "XYZ", "2.50")
	tokens := map[string]common.Address{"XYZ": tokenXYZ}

	first, err := Sweep(context.Background(), store, engine, tokens, nil)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(first.Filled) != 0 || len(first.Failures) != 1 {
		t.Fatalf("expected one settlement failure, got %+v", first)
	}
	txs := wallet.transactions()
	if len(txs) != 2 {
		t.Fatalf("expected approve and swap, got %d transactions", len(txs))
	}
	failure := first.Failures[0].Err
	if xerrors.CodeOf(failure) != CodeSettlementFailed || !xerrors.ShouldAlert(failure) {
		t.Fatalf("expected alerting settlement failure, got %v", failure)
	}
	e, _ := xerrors.From(failure)
	if e.Metadata()["tx_hash"] != txs[1].hash.Hex() || e.Metadata()["stage"] != "settle" {
		t.Fatalf("unexpected metadata %v", e.Metadata())
	}

	second, err := Sweep(context.Background(), store, engine, tokens, nil)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(second.Filled) != 1 || second.Filled[0] != "o1" {
		t.Fatalf("expected o1 filled on retry, got %+v", second)
	}
	if n := len(wallet.transactions()); n != 2 {
		t.Fatalf("confirmed swap must not be resent, got %d transactions", n)
	}
	stored, _ := store.Get(context.Background(), "o1")
	if stored.Status != order.StatusFilled || stored.TxHash != txs[1].hash.Hex() {
		t.Fatalf("order not filled with the original swap hash: %+v", stored)
	}
	if _, ok := engine.confirmedSwap("o1"); ok {
		t.Fatalf("settled swap must be forgotten")
	}
}

func TestTryFulfillRejectsStoredExponentAmount(t *testing.T) {
	engine, store, _, wallet := newTestEngine(t, map[string]string{"XYZ": "2.40"})
	o := createOrder(t, store, "o1", "XYZ", "2.50")
	o.Amount = "1e6"

	_, err := engine.TryFulfill(context.Background(), o, tokenXYZ)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if len(wallet.transactions()) != 0 {
		t.Fatalf("no transaction may be sent for an unparseable amount")
	}
}
