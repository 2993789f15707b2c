// Package events publishes wallet session snapshots, transaction transitions
// and price updates to in-process consumers, Redis or RabbitMQ.
package events
