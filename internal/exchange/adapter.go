// Package exchange implements the REST and WebSocket adapter for a single
// centralized perpetual-futures venue. The pipeline (scanner, marketdata,
// execution) depends only on the Adapter interface below; the concrete
// client, feed, and rate limiter live behind it so the pipeline never sees
// wire formats.
package exchange

import (
	"context"

	"scalper/pkg/types"
)

// Adapter is the exchange-facing contract the core pipeline depends on.
// Scanner, Execution, and MarketData each use a subset.
type Adapter interface {
	// ListTickers returns 24h summary stats for every symbol in category.
	ListTickers(ctx context.Context, category string) ([]types.Ticker, error)

	// InstrumentSpec returns precision constraints for symbol.
	InstrumentSpec(ctx context.Context, symbol types.Symbol) (types.InstrumentSpec, error)

	// PlaceOrder submits an order and returns its exchange-assigned ID.
	PlaceOrder(ctx context.Context, order types.Order) (types.OrderAck, error)

	// GetOrderStatus polls the lifecycle state of a previously placed order.
	GetOrderStatus(ctx context.Context, symbol types.Symbol, orderID string) (types.OrderStatusReport, error)

	// CancelOrder requests cancellation of a resting order.
	CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error

	// GetPositions returns the exchange's current position rows for symbol.
	// May return an empty slice transiently even when a position exists;
	// callers apply bounded retry.
	GetPositions(ctx context.Context, symbol types.Symbol) ([]types.PositionReport, error)

	// Stream returns the streaming feed for subscribing to book/trade topics.
	Stream() StreamFeed
}

// Topic identifies a streaming subscription kind.
type Topic string

const (
	TopicBook1  Topic = "book1"
	TopicTrades Topic = "trades"
)

// StreamFeed is the real-time market-data half of the adapter contract.
// Exactly one symbol is subscribed at a time; callers unsubscribe from the
// old symbol before subscribing to the new one.
type StreamFeed interface {
	// Run connects and maintains the connection until ctx is cancelled,
	// reconnecting with backoff and re-subscribing to the current symbol.
	Run(ctx context.Context) error

	// Subscribe adds (symbol, topic) pairs to the live subscription.
	Subscribe(symbol types.Symbol, topics ...Topic) error

	// Unsubscribe removes (symbol, topic) pairs from the live subscription.
	Unsubscribe(symbol types.Symbol, topics ...Topic) error

	// BookEvents yields parsed level-1 snapshots as they arrive.
	BookEvents() <-chan types.OrderBookSnapshot

	// TradeEvents yields parsed trade ticks as they arrive.
	TradeEvents() <-chan types.TradeTick

	// Close releases the underlying connection.
	Close() error
}
