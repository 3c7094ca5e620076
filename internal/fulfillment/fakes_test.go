package fulfillment

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"TradingTools/internal/web3"
)

type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]string
	calls  int
}

func (f *fakeOracle) ResolveFeed(_ context.Context, symbol string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := f.prices[symbol]; !ok {
		return "", errors.New("no feed for " + symbol)
	}
	return "feed-" + symbol, nil
}

func (f *fakeOracle) FetchPrice(_ context.Context, feedID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[feedID[len("feed-"):]], nil
}

func (f *fakeOracle) setPrice(symbol, price string) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

type sentTx struct {
	to   common.Address
	data []byte
	hash common.Hash
}

type fakeWallet struct {
	mu       sync.Mutex
	sent     []sentTx
	failSend map[int]error
	reverted map[int]bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{failSend: map[int]error{}, reverted: map[int]bool{}}
}

func (w *fakeWallet) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000f1")
}

// SendTransaction numbers calls from 1; failSend and reverted are keyed by that number.
func (w *fakeWallet) SendTransaction(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.sent) + 1
	if err, ok := w.failSend[n]; ok {
		w.sent = append(w.sent, sentTx{to: to, data: data})
		return common.Hash{}, err
	}
	hash := common.BigToHash(big.NewInt(int64(0xa000 + n)))
	w.sent = append(w.sent, sentTx{to: to, data: data, hash: hash})
	return hash, nil
}

func (w *fakeWallet) WaitForReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, tx := range w.sent {
		if tx.hash == hash {
			status := coretypes.ReceiptStatusSuccessful
			if w.reverted[i+1] {
				status = coretypes.ReceiptStatusFailed
			}
			return &coretypes.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(1)}, nil
		}
	}
	return nil, errors.New("unknown transaction")
}

func (w *fakeWallet) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Chain: "fake"}, nil
}

func (w *fakeWallet) Close() {}

func (w *fakeWallet) transactions() []sentTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sentTx(nil), w.sent...)
}
