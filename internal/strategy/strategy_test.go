package strategy

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scalper/internal/messages"
	"scalper/pkg/types"
)

type fakeAlertSink struct {
	sent []types.Alert
}

func (f *fakeAlertSink) Send(a types.Alert) { f.sent = append(f.sent, a) }
func (f *fakeAlertSink) Close()             {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStrategy() (*Strategy, chan any) {
	cfg := testCfg()
	toExecution := make(chan any, 16)
	s := New(cfg, make(chan any), toExecution, nil, nil, testLogger())
	s.currentSymbol = "BTCUSDT"
	s.currentSpec = types.DefaultSpec("BTCUSDT")
	return s, toExecution
}

func bookFor(symbol types.Symbol, bid, ask float64) types.OrderBookSnapshot {
	return types.NewOrderBookSnapshot(symbol, 0, decimal.NewFromFloat(bid), decimal.NewFromFloat(ask),
		decimal.NewFromFloat(1), decimal.NewFromFloat(1))
}

func fillBufferBelowEntryThreshold(s *Strategy, n int, price float64) {
	for i := 0; i < n; i++ {
		s.tickBuffer.Push(mkTick(price, 1))
		s.tickCounter++
	}
}

// ————————————————————————————————————————————————————————————————————————
// Boundary: exactly 200 ticks gates entry, not 199.
// ————————————————————————————————————————————————————————————————————————

func TestEntryGateRequiresFullBuffer(t *testing.T) {
	s, _ := newTestStrategy()
	book := bookFor("BTCUSDT", 99.9, 100.1)
	s.lastOrderBook = &book

	fillBufferBelowEntryThreshold(s, entryBufferMin-2, 100)
	if s.tickBuffer.Len() >= entryBufferMin-1 {
		t.Fatalf("test setup error: buffer should be below threshold, got %d", s.tickBuffer.Len())
	}

	ctx := context.Background()
	s.handle(ctx, messages.Trade{Tick: mkTick(110, 1)}) // brings buffer to entryBufferMin-1, still below the gate
	if s.state != Idle || s.pendingConfirm != 0 {
		t.Fatalf("expected no entry evaluation below 200 ticks, got state=%s confirm=%d", s.state, s.pendingConfirm)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Boundary: entry fires on the 12th consecutive confirming tick.
// ————————————————————————————————————————————————————————————————————————

func TestEntryFiresOnTwelfthConfirmation(t *testing.T) {
	s, execCh := newTestStrategy()
	book := bookFor("BTCUSDT", 99.9, 100.1)
	s.lastOrderBook = &book

	// Seed VWAP_short low so every subsequent high tick shows positive momentum.
	fillBufferBelowEntryThreshold(s, entryBufferMin, 100)

	ctx := context.Background()
	for i := 0; i < confirmationTicksRequired-1; i++ {
		s.handle(ctx, messages.Trade{Tick: mkTick(110, 1)})
		if s.state != Idle {
			t.Fatalf("entry fired early at confirmation %d", i+1)
		}
	}

	s.handle(ctx, messages.Trade{Tick: mkTick(110, 1)})
	if s.state != OrderPending {
		t.Fatalf("expected entry to fire on the 12th confirming tick, state=%s", s.state)
	}

	select {
	case msg := <-execCh:
		if _, ok := msg.(messages.PlaceOrder); !ok {
			t.Fatalf("expected PlaceOrder, got %#v", msg)
		}
	default:
		t.Fatal("expected a PlaceOrder message to have been sent")
	}
}

func TestEntryDirectionFlipResetsCounter(t *testing.T) {
	s, _ := newTestStrategy()
	book := bookFor("BTCUSDT", 99.9, 100.1)
	s.lastOrderBook = &book
	fillBufferBelowEntryThreshold(s, entryBufferMin, 100)

	ctx := context.Background()
	for i := 0; i < confirmationTicksRequired-1; i++ {
		s.handle(ctx, messages.Trade{Tick: mkTick(110, 1)})
	}
	if s.pendingConfirm != confirmationTicksRequired-1 {
		t.Fatalf("expected pending confirm = %d, got %d", confirmationTicksRequired-1, s.pendingConfirm)
	}

	// One opposing tick resets the counter to 1 rather than firing.
	s.handle(ctx, messages.Trade{Tick: mkTick(90, 1)})
	if s.state != Idle {
		t.Fatalf("expected no entry after a direction flip, state=%s", s.state)
	}
	if s.pendingConfirm != 1 {
		t.Fatalf("expected pending confirm reset to 1 after flip, got %d", s.pendingConfirm)
	}
}

func TestEntrySpreadGateBlocksEntry(t *testing.T) {
	s, _ := newTestStrategy()
	wide := bookFor("BTCUSDT", 90, 110) // huge spread
	s.lastOrderBook = &wide
	fillBufferBelowEntryThreshold(s, entryBufferMin, 100)

	ctx := context.Background()
	for i := 0; i < confirmationTicksRequired+5; i++ {
		s.handle(ctx, messages.Trade{Tick: mkTick(110, 1)})
	}
	if s.state != Idle {
		t.Fatalf("expected wide-spread entries to be blocked, state=%s", s.state)
	}
}

func TestBlacklistedTradeTickIsDropped(t *testing.T) {
	cfg := testCfg()
	cfg.BlacklistSymbols = []string{"btcusdt"}
	toExecution := make(chan any, 16)
	s := New(cfg, make(chan any), toExecution, nil, nil, testLogger())
	s.currentSymbol = "BTCUSDT"
	s.currentSpec = types.DefaultSpec("BTCUSDT")

	ctx := context.Background()
	s.handle(ctx, messages.Trade{Tick: mkTick(100, 1)})

	if s.tickBuffer.Len() != 0 {
		t.Fatalf("expected blacklisted tick to be dropped, buffer len=%d", s.tickBuffer.Len())
	}
	if s.tickCounter != 0 {
		t.Fatalf("expected tick counter untouched for a blacklisted tick, got %d", s.tickCounter)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Flash crash boundary: -5.00% triggers, -4.99% does not.
// ————————————————————————————————————————————————————————————————————————

func TestFlashCrashTriggersAtExactlyFivePercent(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = PositionOpen
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100)}
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 50, TakeProfitPercent: 75} // wide enough to isolate flash-crash path

	ctx := context.Background()
	s.handle(ctx, messages.Trade{Tick: mkTick(95, 1)}) // -5.00%
	if s.state != ClosingPosition {
		t.Fatalf("expected flash crash to trigger close at -5.00%%, state=%s", s.state)
	}
}

func TestFlashCrashDoesNotTriggerJustAboveThreshold(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = PositionOpen
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100)}
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 50, TakeProfitPercent: 75}

	ctx := context.Background()
	s.handle(ctx, messages.Trade{Tick: mkTick(95.01, 1)}) // -4.99%
	if s.state != PositionOpen {
		t.Fatalf("expected no flash-crash close at -4.99%%, state=%s", s.state)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Scenario 5: trailing stop on a pump coin.
// ————————————————————————————————————————————————————————————————————————

func TestTrailingStopFiresOnGiveback(t *testing.T) {
	s, _ := newTestStrategy()
	s.priceChange24h = 0.18
	s.state = PositionOpen
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100), CurrentPrice: decimal.NewFromFloat(100)}
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 3.0, TakeProfitPercent: 4.5}
	s.isMomentumTrade = true

	ctx := context.Background()

	peakBook := bookFor("BTCUSDT", 100.79, 100.81) // mid 100.8 => pnl +0.8%
	s.handle(ctx, messages.OrderBook{Snapshot: peakBook})
	if s.state != PositionOpen {
		t.Fatalf("expected position to remain open at peak, state=%s", s.state)
	}
	if s.peakPnLPercent < 0.8 {
		t.Fatalf("expected peak pnl to reach 0.8%%, got %f", s.peakPnLPercent)
	}

	s.lastCloseAttempt = time.Time{} // clear rate limit from construction
	driftBook := bookFor("BTCUSDT", 100.58, 100.60) // mid ~100.59 => pnl +0.59%
	s.handle(ctx, messages.OrderBook{Snapshot: driftBook})
	if s.state != ClosingPosition {
		t.Fatalf("expected trailing stop to fire on giveback, state=%s", s.state)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Scenario 6: break-even protection on a reversion trade.
// ————————————————————————————————————————————————————————————————————————

func TestBreakEvenProtectionFires(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = PositionOpen
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100), CurrentPrice: decimal.NewFromFloat(100)}
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 3.0, TakeProfitPercent: 4.5}
	s.isMomentumTrade = false

	ctx := context.Background()

	peakBook := bookFor("BTCUSDT", 100.59, 100.61) // pnl ~+0.6%
	s.handle(ctx, messages.OrderBook{Snapshot: peakBook})
	if s.state != PositionOpen {
		t.Fatalf("expected position to remain open at peak, state=%s", s.state)
	}

	s.lastCloseAttempt = time.Time{}
	driftBook := bookFor("BTCUSDT", 100.07, 100.09) // pnl ~+0.08%, below break-even floor
	s.handle(ctx, messages.OrderBook{Snapshot: driftBook})
	if s.state != ClosingPosition {
		t.Fatalf("expected break-even protection to fire, state=%s", s.state)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Scenario 3: symbol switch with an open position.
// ————————————————————————————————————————————————————————————————————————

func TestSymbolChangeWithPositionDefersSwitch(t *testing.T) {
	s, execCh := newTestStrategy()
	s.state = PositionOpen
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100)}
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 1, TakeProfitPercent: 1.5}

	ctx := context.Background()
	newSpec := types.DefaultSpec("ETHUSDT")
	s.handle(ctx, messages.SymbolChanged{Symbol: "ETHUSDT", Spec: newSpec, PriceChange24h: 0.05})

	if s.state != SwitchingSymbol {
		t.Fatalf("expected SwitchingSymbol state, got %s", s.state)
	}
	if s.currentSymbol != "BTCUSDT" {
		t.Fatalf("expected current_symbol to remain BTCUSDT until close confirms, got %s", s.currentSymbol)
	}

	select {
	case msg := <-execCh:
		cp, ok := msg.(messages.ClosePosition)
		if !ok || cp.Side != types.Long || cp.Symbol != "BTCUSDT" {
			t.Fatalf("expected reduce-only close on BTCUSDT Long, got %#v", msg)
		}
	default:
		t.Fatal("expected a ClosePosition message to have been sent")
	}

	// Close confirms: the deferred switch applies exactly once.
	s.handle(ctx, messages.PositionUpdate{Position: nil})
	if s.state != Idle {
		t.Fatalf("expected Idle after deferred switch applies, got %s", s.state)
	}
	if s.currentSymbol != "ETHUSDT" {
		t.Fatalf("expected current_symbol to become ETHUSDT, got %s", s.currentSymbol)
	}
	if s.tickBuffer.Len() != 0 {
		t.Fatalf("expected tick buffer reset on switch, len=%d", s.tickBuffer.Len())
	}
	if s.activeDynamicRisk != nil {
		t.Fatal("expected active_dynamic_risk cleared after switch")
	}
}

func TestSymbolChangeWithoutPositionSwitchesImmediately(t *testing.T) {
	s, _ := newTestStrategy()
	ctx := context.Background()
	spec := types.DefaultSpec("ETHUSDT")
	s.handle(ctx, messages.SymbolChanged{Symbol: "ETHUSDT", Spec: spec, PriceChange24h: 0.02})

	if s.state != Idle || s.currentSymbol != "ETHUSDT" {
		t.Fatalf("expected immediate switch to Idle/ETHUSDT, got state=%s symbol=%s", s.state, s.currentSymbol)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Entry rejection round-trip law.
// ————————————————————————————————————————————————————————————————————————

func TestOrderFailedReturnsToIdleAndClearsRisk(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = OrderPending
	s.activeDynamicRisk = &types.DynamicRisk{StopLossPercent: 1, TakeProfitPercent: 1.5}

	s.handleOrderFailed(messages.OrderFailed{Symbol: "BTCUSDT", Reason: "rejected"})

	if s.state != Idle {
		t.Fatalf("expected Idle after OrderFailed, got %s", s.state)
	}
	if s.activeDynamicRisk != nil {
		t.Fatal("expected active_dynamic_risk cleared after OrderFailed")
	}
}

func TestPositionUpdateSomeTransitionsToPositionOpen(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = OrderPending

	ctx := context.Background()
	pos := &types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: decimal.NewFromInt(1)}
	s.handle(ctx, messages.PositionUpdate{Position: pos})

	if s.state != PositionOpen {
		t.Fatalf("expected PositionOpen after PositionUpdate(Some), got %s", s.state)
	}
}

func TestOrderBookDroppedDuringOrderPending(t *testing.T) {
	s, _ := newTestStrategy()
	s.state = OrderPending
	s.position = &types.Position{Symbol: "BTCUSDT", Side: types.Long, EntryPrice: decimal.NewFromFloat(100)}

	ctx := context.Background()
	book := bookFor("BTCUSDT", 150, 150.2)
	s.handle(ctx, messages.OrderBook{Snapshot: book})

	if s.lastOrderBook != nil {
		t.Fatal("expected OrderBook to be dropped entirely while OrderPending")
	}
}

func TestCompleteCloseReportsRealizedPnLAndAlerts(t *testing.T) {
	s, _ := newTestStrategy()
	sink := &fakeAlertSink{}
	s.alertSink = sink
	s.state = ClosingPosition
	s.position = &types.Position{
		Symbol: "BTCUSDT", Side: types.Long,
		EntryPrice: decimal.NewFromFloat(100), CurrentPrice: decimal.NewFromFloat(105),
		Size: decimal.NewFromFloat(2),
	}

	s.completeClose()

	if s.state != Idle || s.position != nil {
		t.Fatalf("expected close to clear position and return to Idle, state=%s position=%v", s.state, s.position)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(sink.sent))
	}
	if sink.sent[0].Title != "position closed" {
		t.Fatalf("unexpected alert title %q", sink.sent[0].Title)
	}
}

func TestPositionOpenedAlertFiresOnlyOnEntryConfirmation(t *testing.T) {
	s, _ := newTestStrategy()
	sink := &fakeAlertSink{}
	s.alertSink = sink
	ctx := context.Background()

	// A resync PositionUpdate while already PositionOpen must not re-alert.
	s.state = PositionOpen
	s.handle(ctx, messages.PositionUpdate{Position: &types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: decimal.NewFromInt(1)}})
	if len(sink.sent) != 0 {
		t.Fatalf("expected no alert on a PositionOpen resync, got %d", len(sink.sent))
	}

	s.state = OrderPending
	s.handle(ctx, messages.PositionUpdate{Position: &types.Position{Symbol: "BTCUSDT", Side: types.Long, Size: decimal.NewFromInt(1)}})
	if len(sink.sent) != 1 {
		t.Fatalf("expected exactly one alert on entry confirmation, got %d", len(sink.sent))
	}
}

func TestPeriodicResyncSendsGetPosition(t *testing.T) {
	s, execCh := newTestStrategy()
	ctx := context.Background()
	s.periodicResync(ctx)

	select {
	case msg := <-execCh:
		gp, ok := msg.(messages.GetPosition)
		if !ok || gp.Symbol != "BTCUSDT" {
			t.Fatalf("expected GetPosition(BTCUSDT), got %#v", msg)
		}
	default:
		t.Fatal("expected a GetPosition message to have been sent")
	}
}
