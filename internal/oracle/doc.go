// Package oracle resolves token symbols to price feeds and reads their latest
// prices. Concrete feeds live in sub-packages; CachedClient memoises symbol
// lookups in a FeedCache.
package oracle
