// Package web3 houses blockchain connectivity for the trading runtime: the
// Wallet abstraction used to sign and broadcast transactions, chain
// snapshots for health reporting and the YAML chain definitions consumed by
// the provider registry.
package web3
