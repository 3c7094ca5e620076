// Package redis offers Redis backed caches for the trading runtime, such as
// the symbol to price-feed lookup cache shared between daemon instances.
package redis
