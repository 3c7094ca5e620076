package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Account     string `json:"account"`
	Notes       string `json:"notes,omitempty"`
}

// Wallet signs transactions with a single account and broadcasts them to
// one chain. Implementations must be safe for concurrent use.
type Wallet interface {
	Address() common.Address
	// SendTransaction signs a call carrying data to the given address and
	// returns the transaction hash once the node accepted it.
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	// WaitForReceipt blocks until the transaction is mined or ctx ends.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
