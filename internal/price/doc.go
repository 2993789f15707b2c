// Package price polls a CoinGecko-compatible price feed for the dashboard's
// market overview, optionally sharing the latest snapshot through Redis.
package price
