// Package execution implements the Execution pipeline component: it
// serializes every order intent against the exchange and resolves the
// ambiguous outcomes endemic to async order lifecycles: a cancel racing a
// fill, a partial fill at timeout, a position query that returns an empty
// list transiently. It never touches Strategy's state directly; it only
// ever reports back PositionUpdate, OrderFilled, and OrderFailed.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"scalper/internal/exchange"
	"scalper/internal/messages"
	"scalper/pkg/types"
)

const (
	pollInterval = 500 * time.Millisecond

	marketPollBudget   = 20 // 20 * 500ms = 10s
	postOnlyPollBudget = 10 // 10 * 500ms = 5s
	closePollBudget    = 10 // 10 * 500ms = 5s
	fallbackPollBudget = 10 // 10 * 500ms = 5s

	cancelSettleDelay = 300 * time.Millisecond

	positionRetryAttempts = 3
	positionRetryDelay    = 200 * time.Millisecond
)

// Execution owns all order-placement state. It is the sole consumer of its
// inbox (PlaceOrder, ClosePosition, GetPosition from Strategy).
type Execution struct {
	adapter    exchange.Adapter
	inbox      <-chan any
	toStrategy chan<- any
	logger     *slog.Logger

	staticStopLossPercent float64
}

// New creates an Execution component. inbox is Strategy's outbound,
// blocking-send queue; toStrategy is Strategy's inbox, used only for the
// three reply message types.
func New(adapter exchange.Adapter, inbox <-chan any, toStrategy chan<- any, staticStopLossPercent float64, logger *slog.Logger) *Execution {
	return &Execution{
		adapter:               adapter,
		inbox:                 inbox,
		toStrategy:            toStrategy,
		staticStopLossPercent: staticStopLossPercent,
		logger:                logger.With("component", "execution"),
	}
}

// Run drains the inbox until ctx is cancelled. Each message is handled to
// completion before the next is read; at most one order is ever outstanding
// because Strategy never sends a second PlaceOrder before its terminal
// event arrives.
func (e *Execution) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.inbox:
			if !ok {
				return
			}
			e.handle(ctx, msg)
		}
	}
}

func (e *Execution) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case messages.PlaceOrder:
		e.placeOrder(ctx, m.Order)
	case messages.ClosePosition:
		e.closePosition(ctx, m.Symbol, m.Side)
	case messages.GetPosition:
		e.getPosition(ctx, m.Symbol)
	default:
		e.logger.Warn("unknown execution message", "type", msg)
	}
}

func (e *Execution) send(msg any) {
	e.toStrategy <- msg
}

// ————————————————————————————————————————————————————————————————————————
// PlaceOrder — entry-order lifecycle
// ————————————————————————————————————————————————————————————————————————

func (e *Execution) placeOrder(ctx context.Context, order types.Order) {
	ack, err := e.adapter.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("place order failed", "symbol", order.Symbol, "error", err)
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: err.Error()})
		return
	}

	if order.TimeInForce == types.PostOnly {
		e.trackPostOnly(ctx, order, ack.OrderID)
		return
	}
	e.trackMarketOrIOC(ctx, order, ack.OrderID)
}

func (e *Execution) trackMarketOrIOC(ctx context.Context, order types.Order, orderID string) {
	status, ok := e.pollToTerminal(ctx, order.Symbol, orderID, marketPollBudget)
	if !ok {
		e.resolveTimeout(ctx, order, orderID)
		return
	}
	e.handleTerminal(ctx, order.Symbol, status)
}

func (e *Execution) trackPostOnly(ctx context.Context, order types.Order, orderID string) {
	status, ok := e.pollToTerminal(ctx, order.Symbol, orderID, postOnlyPollBudget)
	if ok {
		e.handleTerminal(ctx, order.Symbol, status)
		return
	}
	e.postOnlyFallback(ctx, order, orderID)
}

// pollToTerminal polls get_order_status every 500ms up to budget attempts.
// Returns the terminal report and true, or the zero value and false if the
// budget was exhausted without reaching a terminal status.
func (e *Execution) pollToTerminal(ctx context.Context, symbol types.Symbol, orderID string, budget int) (types.OrderStatusReport, bool) {
	for i := 0; i < budget; i++ {
		select {
		case <-ctx.Done():
			return types.OrderStatusReport{}, false
		case <-time.After(pollInterval):
		}

		report, err := e.adapter.GetOrderStatus(ctx, symbol, orderID)
		if err != nil {
			e.logger.Warn("get order status failed", "symbol", symbol, "order_id", orderID, "error", err)
			continue
		}
		if report.Status.IsTerminal() {
			return report, true
		}
	}
	return types.OrderStatusReport{}, false
}

func (e *Execution) handleTerminal(ctx context.Context, symbol types.Symbol, report types.OrderStatusReport) {
	switch report.Status {
	case types.StatusFilled:
		e.send(messages.OrderFilled{Symbol: symbol})
		// Position is authoritative only from the exchange; resync immediately.
		e.getPosition(ctx, symbol)
	default: // Cancelled, Rejected
		e.send(messages.OrderFailed{Symbol: symbol, Reason: fmt.Sprintf("order terminated as %s", report.Status)})
	}
}

// resolveTimeout handles the cancel-fill race: between the cancel request
// and its acknowledgement the order may still fill. Strategy must never be
// told a favorable outcome optimistically.
func (e *Execution) resolveTimeout(ctx context.Context, order types.Order, orderID string) {
	if err := e.adapter.CancelOrder(ctx, order.Symbol, orderID); err != nil {
		e.logger.Warn("cancel order failed", "symbol", order.Symbol, "order_id", orderID, "error", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(cancelSettleDelay):
	}

	report, err := e.adapter.GetOrderStatus(ctx, order.Symbol, orderID)
	if err != nil {
		// Unknown: defensive resync, treat as unresolved.
		e.getPosition(ctx, order.Symbol)
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: "order state unknown after cancel-timeout race"})
		return
	}

	switch report.Status {
	case types.StatusFilled:
		e.send(messages.OrderFilled{Symbol: order.Symbol})
		e.getPosition(ctx, order.Symbol)
	case types.StatusPartiallyFilled:
		// Position state is live even though the order did not fully fill.
		e.getPosition(ctx, order.Symbol)
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: fmt.Sprintf("partially filled: %s/%s", report.CumExecQty, report.Qty)})
	case types.StatusCancelled, types.StatusRejected:
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: fmt.Sprintf("order terminated as %s", report.Status)})
	default:
		e.getPosition(ctx, order.Symbol)
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: "order state unknown after cancel-timeout race"})
	}
}

// postOnlyFallback cancels a non-filling PostOnly order and, if it's truly
// not filled, resubmits an aggressive Market/IOC order of the same shape.
func (e *Execution) postOnlyFallback(ctx context.Context, order types.Order, orderID string) {
	if err := e.adapter.CancelOrder(ctx, order.Symbol, orderID); err != nil {
		e.logger.Warn("postonly cancel failed, re-querying", "symbol", order.Symbol, "order_id", orderID, "error", err)

		report, qerr := e.adapter.GetOrderStatus(ctx, order.Symbol, orderID)
		if qerr == nil && report.Status == types.StatusFilled {
			e.handleTerminal(ctx, order.Symbol, report)
			return
		}
	}

	fallback := order
	fallback.Type = types.Market
	fallback.Price = nil
	fallback.TimeInForce = types.IOC

	ack, err := e.adapter.PlaceOrder(ctx, fallback)
	if err != nil {
		e.send(messages.OrderFailed{Symbol: order.Symbol, Reason: fmt.Sprintf("postonly fallback submit failed: %v", err)})
		return
	}

	status, ok := e.pollToTerminal(ctx, order.Symbol, ack.OrderID, fallbackPollBudget)
	if !ok {
		e.resolveTimeout(ctx, fallback, ack.OrderID)
		return
	}
	e.handleTerminal(ctx, order.Symbol, status)
}

// ————————————————————————————————————————————————————————————————————————
// ClosePosition
// ————————————————————————————————————————————————————————————————————————

func (e *Execution) closePosition(ctx context.Context, symbol types.Symbol, side types.PositionSide) {
	positions, err := e.adapter.GetPositions(ctx, symbol)
	if err != nil {
		e.logger.Error("close: get positions failed", "symbol", symbol, "error", err)
		e.getPosition(ctx, symbol)
		return
	}
	if len(positions) == 0 {
		// Strategy must be able to finish transitions depending on the close.
		e.send(messages.PositionUpdate{Position: nil})
		return
	}

	for _, p := range positions {
		if p.Size.IsZero() {
			continue
		}
		order := types.Order{
			Symbol:      symbol,
			Side:        p.Side.Opposite(),
			Type:        types.Market,
			Qty:         p.Size,
			TimeInForce: types.IOC,
			ReduceOnly:  true,
		}

		ack, err := e.adapter.PlaceOrder(ctx, order)
		if err != nil {
			e.logger.Error("close order submit failed", "symbol", symbol, "error", err)
			e.getPosition(ctx, symbol)
			continue
		}

		status, ok := e.pollToTerminal(ctx, symbol, ack.OrderID, closePollBudget)
		if !ok {
			e.resolveCloseTimeout(ctx, symbol, ack.OrderID)
			continue
		}
		switch status.Status {
		case types.StatusFilled:
			e.send(messages.OrderFilled{Symbol: symbol})
			e.getPosition(ctx, symbol)
		default:
			// Terminal failure: do not optimistically declare closed.
			e.getPosition(ctx, symbol)
		}
	}
}

// resolveCloseTimeout mirrors resolveTimeout for the close-order path: an
// ambiguous or non-terminal outcome always ends in a fresh GetPosition so
// Strategy learns the truth rather than assuming the close succeeded.
func (e *Execution) resolveCloseTimeout(ctx context.Context, symbol types.Symbol, orderID string) {
	if err := e.adapter.CancelOrder(ctx, symbol, orderID); err != nil {
		e.logger.Warn("close cancel failed", "symbol", symbol, "order_id", orderID, "error", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(cancelSettleDelay):
	}

	report, err := e.adapter.GetOrderStatus(ctx, symbol, orderID)
	if err == nil && report.Status == types.StatusFilled {
		e.send(messages.OrderFilled{Symbol: symbol})
	}
	e.getPosition(ctx, symbol)
}

// ————————————————————————————————————————————————————————————————————————
// GetPosition — bounded-retry ghost-position resolution
// ————————————————————————————————————————————————————————————————————————

func (e *Execution) getPosition(ctx context.Context, symbol types.Symbol) {
	var (
		positions []types.PositionReport
		err       error
	)

	for attempt := 1; attempt <= positionRetryAttempts; attempt++ {
		positions, err = e.adapter.GetPositions(ctx, symbol)
		if err != nil {
			if attempt < positionRetryAttempts {
				select {
				case <-ctx.Done():
					return
				case <-time.After(positionRetryDelay):
				}
				continue
			}
			// Persistent query error: do not force Strategy to assume closed.
			e.logger.Error("get position: persistent query error", "symbol", symbol, "error", err)
			return
		}
		if len(positions) > 0 {
			break
		}
		if attempt < positionRetryAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(positionRetryDelay):
			}
		}
	}

	nonZero := make([]types.PositionReport, 0, len(positions))
	for _, p := range positions {
		if !p.Size.IsZero() {
			nonZero = append(nonZero, p)
		}
	}

	if len(nonZero) == 0 {
		e.send(messages.PositionUpdate{Position: nil})
		return
	}

	p := nonZero[0]
	side := types.Long
	if p.Side == types.Sell {
		side = types.Short
	}

	staticSL := p.AvgPrice.Mul(percentOf(e.staticStopLossPercent))
	var stopLoss *decimal.Decimal
	if side == types.Long {
		v := p.AvgPrice.Sub(staticSL)
		stopLoss = &v
	} else {
		v := p.AvgPrice.Add(staticSL)
		stopLoss = &v
	}

	pos := &types.Position{
		Symbol:        symbol,
		Side:          side,
		Size:          p.Size,
		EntryPrice:    p.AvgPrice,
		CurrentPrice:  p.AvgPrice,
		UnrealizedPnL: p.UnrealisedPnL,
		StopLoss:      stopLoss,
	}

	e.send(messages.PositionUpdate{Position: pos})
}

// percentOf converts a whole-number percent (e.g. 0.5 meaning 0.5%) into a
// fraction decimal suitable for multiplying against a price.
func percentOf(percent float64) decimal.Decimal {
	return decimal.NewFromFloat(percent / 100.0)
}
