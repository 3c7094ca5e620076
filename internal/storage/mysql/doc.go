// Package mysql persists limit orders in MySQL. It owns the connection pool
// settings, applies the embedded schema migrations and implements order.Store.
package mysql
