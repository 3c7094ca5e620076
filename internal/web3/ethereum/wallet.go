package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/web3"
)

const (
	defaultReceiptPoll = time.Second
	gasBufferPercent   = 20
)

// Backend is the subset of the node API the wallet needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	gethcore.ChainIDReader
	gethcore.BlockNumberReader
	gethcore.PendingStateReader
	gethcore.GasPricer1559
	gethcore.GasEstimator
	gethcore.TransactionSender
	gethcore.TransactionReader
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// Config describes how to construct an EVM wallet.
type Config struct {
	Name        string
	RPCURL      string
	PrivateKey  string
	Notes       string
	ReceiptPoll time.Duration
	// ReceiptTimeout bounds WaitForReceipt; zero waits until ctx ends.
	ReceiptTimeout time.Duration
}

// Wallet implements web3.Wallet with EIP-1559 transactions signed locally.
type Wallet struct {
	name           string
	notes          string
	backend        Backend
	closer         func()
	key            *ecdsa.PrivateKey
	address        common.Address
	receiptPoll    time.Duration
	receiptTimeout time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// NewWallet dials the RPC endpoint and loads the signing key. The chain ID is
// resolved on first use so construction does not require a live node.
func NewWallet(ctx context.Context, cfg Config) (*Wallet, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	key, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	w := NewWalletWithBackend(client, key, cfg)
	w.closer = client.Close
	return w, nil
}

// NewWalletWithBackend wraps an existing backend, e.g. the simulated chain.
func NewWalletWithBackend(backend Backend, key *ecdsa.PrivateKey, cfg Config) *Wallet {
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = defaultReceiptPoll
	}
	return &Wallet{
		name:           cfg.Name,
		notes:          cfg.Notes,
		backend:        backend,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		receiptPoll:    poll,
		receiptTimeout: cfg.ReceiptTimeout,
	}
}

// ParsePrivateKey accepts a hex encoded secp256k1 key with or without 0x.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, errors.New("未配置钱包私钥")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	return key, nil
}

// Address returns the signing account.
func (w *Wallet) Address() common.Address {
	return w.address
}

// SendTransaction signs and broadcasts a contract call. Sends are serialised
// so consecutive calls never reuse a nonce.
func (w *Wallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	chainID, err := w.loadChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "获取 nonce 失败")
	}
	tipCap, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "获取小费建议失败")
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "获取最新区块失败")
	}
	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := w.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      w.address,
		To:        &to,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "估算 gas 失败")
	}
	gas += gas * gasBufferPercent / 100

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "交易签名失败")
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "广播交易失败")
	}
	return signed.Hash(), nil
}

// WaitForReceipt polls for the receipt until it appears, ctx ends or the
// configured receipt timeout elapses.
func (w *Wallet) WaitForReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if w.receiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.receiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "查询交易回执失败",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易回执超时",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
		}
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (w *Wallet) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Chain:       w.name,
		ChainID:     "0x" + chainID.Text(16),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Account:     w.address.Hex(),
		Notes:       w.notes,
	}, nil
}

// Close releases network connections held by the wallet.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer != nil {
		w.closer()
		w.closer = nil
	}
}

func (w *Wallet) loadChainID(ctx context.Context) (*big.Int, error) {
	if w.chainID != nil {
		return w.chainID, nil
	}
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransactionFailure, err, "获取链 ID 失败")
	}
	w.chainID = id
	return id, nil
}

var _ web3.Wallet = (*Wallet)(nil)
