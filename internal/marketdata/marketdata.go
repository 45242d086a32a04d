// Package marketdata implements the MarketData pipeline component: it owns
// exactly one streaming subscription at a time, hot-swaps symbols on
// command from Scanner, filters stale events, and forwards fresh book/trade
// events to Strategy with a non-blocking send, a deliberate trade-off
// where latency beats completeness. Reconnect, keepalive, and resubscribe
// mechanics live in the exchange.StreamFeed this component drives.
package marketdata

import (
	"context"
	"log/slog"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/messages"
	"scalper/pkg/types"
)

// MarketData owns one streaming subscription and forwards fresh events to
// Strategy. It is the sole consumer of its own command inbox.
type MarketData struct {
	feed       exchange.StreamFeed
	toStrategy chan<- any
	inbox      <-chan any

	staleThresholdMs int64
	logger           *slog.Logger

	currentSymbol types.Symbol
}

// New creates a MarketData component. inbox is the bounded command queue fed
// by Scanner (SwitchSymbol, Shutdown); toStrategy is Strategy's bounded inbox,
// which this component only ever sends to non-blockingly.
func New(feed exchange.StreamFeed, inbox <-chan any, toStrategy chan<- any, staleThresholdMs int64, logger *slog.Logger) *MarketData {
	return &MarketData{
		feed:             feed,
		toStrategy:       toStrategy,
		inbox:            inbox,
		staleThresholdMs: staleThresholdMs,
		logger:           logger.With("component", "marketdata"),
	}
}

// Run starts the feed's connection loop and the event/command dispatch loop.
// Blocks until ctx is cancelled or a Shutdown command drains the component.
func (m *MarketData) Run(ctx context.Context) {
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()

	go func() {
		if err := m.feed.Run(feedCtx); err != nil && feedCtx.Err() == nil {
			m.logger.Error("stream feed exited", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.feed.Close()
			return

		case cmd, ok := <-m.inbox:
			if !ok {
				m.feed.Close()
				return
			}
			if m.handleCommand(ctx, cmd) {
				m.feed.Close()
				return
			}

		case book := <-m.feed.BookEvents():
			m.forwardBook(book)

		case trade := <-m.feed.TradeEvents():
			m.forwardTrade(trade)
		}
	}
}

// handleCommand applies a command from Scanner. Returns true if the
// component should shut down.
func (m *MarketData) handleCommand(ctx context.Context, cmd any) bool {
	switch c := cmd.(type) {
	case messages.SwitchSymbol:
		m.switchSymbol(c.Symbol)
	case messages.Shutdown:
		m.logger.Info("shutdown received, draining")
		return true
	default:
		m.logger.Warn("unknown marketdata command", "type", cmd)
	}
	return false
}

// switchSymbol unsubscribes from the previous symbol and subscribes to the
// new one on the same connection (hot-swap).
func (m *MarketData) switchSymbol(symbol types.Symbol) {
	if m.currentSymbol != "" && m.currentSymbol != symbol {
		if err := m.feed.Unsubscribe(m.currentSymbol, exchange.TopicBook1, exchange.TopicTrades); err != nil {
			m.logger.Warn("unsubscribe failed", "symbol", m.currentSymbol, "error", err)
		}
	}

	if err := m.feed.Subscribe(symbol, exchange.TopicBook1, exchange.TopicTrades); err != nil {
		m.logger.Warn("subscribe failed", "symbol", symbol, "error", err)
	}

	m.currentSymbol = symbol
	m.logger.Info("hot-swapped subscription", "symbol", symbol)
}

func (m *MarketData) forwardBook(snap types.OrderBookSnapshot) {
	if m.isStale(snap.TimestampMs) {
		m.logger.Debug("dropping stale book event", "symbol", snap.Symbol, "age_ms", nowMs()-snap.TimestampMs)
		return
	}
	select {
	case m.toStrategy <- messages.OrderBook{Snapshot: snap}:
	default:
		m.logger.Debug("strategy inbox full, dropping book event", "symbol", snap.Symbol)
	}
}

func (m *MarketData) forwardTrade(tick types.TradeTick) {
	if m.isStale(tick.TimestampMs) {
		m.logger.Debug("dropping stale trade event", "symbol", tick.Symbol, "age_ms", nowMs()-tick.TimestampMs)
		return
	}
	select {
	case m.toStrategy <- messages.Trade{Tick: tick}:
	default:
		m.logger.Debug("strategy inbox full, dropping trade event", "symbol", tick.Symbol)
	}
}

func (m *MarketData) isStale(tsMs int64) bool {
	return nowMs()-tsMs > m.staleThresholdMs
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
