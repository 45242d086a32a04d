// Package messages defines the typed payloads exchanged between the four
// pipeline components. Every component is reachable only through its inbox
// channel of these structs; there is no shared mutable state between
// components beyond the specs cache (internal/specs).
package messages

import (
	"scalper/pkg/types"
)

// ToMarketData — sent by Scanner, consumed by MarketData.

// SwitchSymbol tells MarketData to unsubscribe from its current symbol and
// subscribe to a new one on the same connection (hot-swap).
type SwitchSymbol struct {
	Symbol types.Symbol
}

// Shutdown tells MarketData to close its subscription and stop.
type Shutdown struct{}

// ToStrategy — sent by Scanner, MarketData, and Execution; consumed by Strategy.

// OrderBook is a fresh level-1 snapshot for a symbol.
type OrderBook struct {
	Snapshot types.OrderBookSnapshot
}

// Trade is a public trade print for a symbol.
type Trade struct {
	Tick types.TradeTick
}

// SymbolChanged announces the Scanner has switched (or re-published) the
// active symbol. Carries the symbol, its instrument spec, and its 24h
// price-change fraction so Strategy can pick its trading mode immediately.
type SymbolChanged struct {
	Symbol         types.Symbol
	Spec           types.InstrumentSpec
	PriceChange24h float64
}

// UpdateMarketStats is a best-effort refresh of price_change_24h for the
// currently-tracked symbol when the Scanner did not switch.
type UpdateMarketStats struct {
	Symbol         types.Symbol
	PriceChange24h float64
}

// PositionUpdate reports the latest known position for the active symbol,
// or nil if the exchange reports no position.
type PositionUpdate struct {
	Position *types.Position
}

// OrderFilled announces an order's fill outcome (but not the position it
// produced — that arrives separately as a PositionUpdate).
type OrderFilled struct {
	Symbol types.Symbol
}

// OrderFailed announces a terminal non-fill outcome: rejection, cancellation,
// or an unresolvable ambiguous state.
type OrderFailed struct {
	Symbol types.Symbol
	Reason string
}

// ToExecution — sent by Strategy; consumed by Execution.

// PlaceOrder asks Execution to submit and then track an order to a
// terminal outcome.
type PlaceOrder struct {
	Order types.Order
}

// ClosePosition asks Execution to flatten any open position on Symbol with
// a reduce-only order opposite Side.
type ClosePosition struct {
	Symbol types.Symbol
	Side   types.PositionSide
}

// GetPosition asks Execution to resync the exchange's position truth for
// Symbol and report it back as a PositionUpdate.
type GetPosition struct {
	Symbol types.Symbol
}
