// Package fulfillment turns pending limit orders into on-chain swaps. The
// Engine checks one order against the oracle and, when the price condition
// holds, sends an ERC-20 approval followed by an exactInputSingle swap. The
// Poller runs sweeps of all pending orders on a fixed interval.
package fulfillment
