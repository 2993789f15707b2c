// Package api exposes the wallet session, transaction submission and price
// feed to the dashboard over HTTP/JSON and a WebSocket session stream.
package api
