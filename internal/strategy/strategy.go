package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"scalper/internal/alert"
	"scalper/internal/config"
	"scalper/internal/messages"
	"scalper/internal/risk"
	"scalper/pkg/types"
)

const (
	confirmationTicksRequired = 12
	periodicResyncInterval    = 10 * time.Second
	closeRateLimit            = 2 * time.Second
	sendTimeout               = 5 * time.Second

	trailingActivatePercent  = 0.3
	trailingGiveBackPercent  = 0.2
	breakEvenActivatePercent = 0.5
	breakEvenFloorPercent    = 0.1
	flashCrashPercent        = 5.0

	momentumModeThreshold = 0.10 // |price_change_24h| > this => Momentum mode
)

// Strategy owns all trading state: the state machine, the tick buffer and
// its cached signals, the active position, and the dynamic risk attached to
// it. It is the sole consumer of its inbox (OrderBook, Trade, PositionUpdate,
// OrderFilled, OrderFailed, SymbolChanged, UpdateMarketStats).
type Strategy struct {
	cfg         config.StrategyConfig
	inbox       <-chan any
	toExecution chan<- any
	riskGuard   *risk.Guard
	alertSink   alert.Sink
	logger      *slog.Logger

	state          State
	currentSymbol  types.Symbol
	currentSpec    types.InstrumentSpec
	priceChange24h float64
	blacklist      map[types.Symbol]bool

	tickBuffer  *types.RingBuffer[types.TradeTick]
	tickCounter int64
	cache       signalCache

	lastOrderBook *types.OrderBookSnapshot

	position          *types.Position
	activeDynamicRisk *types.DynamicRisk
	isMomentumTrade   bool
	peakPnLPercent    float64

	pendingBullish bool
	pendingConfirm int

	lastCloseAt      time.Time
	lastCloseAttempt time.Time

	pendingSymbolChange *pendingSymbolChange

	snapshot atomic.Pointer[Snapshot]
}

// New creates a Strategy component. inbox is fed (blocking) by Scanner and
// Execution and (non-blocking) by MarketData; toExecution is Execution's
// inbox, fed here with blocking sends bounded by a 5 s timeout. riskGuard
// gates new entries on the session daily-loss halt and receives realized PnL
// on every close; alertSink receives entry-filled and position-closed
// notifications.
func New(cfg config.StrategyConfig, inbox <-chan any, toExecution chan<- any, riskGuard *risk.Guard, alertSink alert.Sink, logger *slog.Logger) *Strategy {
	blacklist := make(map[types.Symbol]bool, len(cfg.BlacklistSymbols))
	for _, s := range cfg.BlacklistSymbols {
		blacklist[types.Symbol(strings.ToUpper(strings.TrimSpace(s)))] = true
	}

	return &Strategy{
		cfg:         cfg,
		inbox:       inbox,
		toExecution: toExecution,
		riskGuard:   riskGuard,
		alertSink:   alertSink,
		logger:      logger.With("component", "strategy"),
		state:       Idle,
		blacklist:   blacklist,
		tickBuffer:  types.NewRingBuffer[types.TradeTick](tickBufferCapacity),
	}
}

// Run drains the inbox and fires the periodic position resync until ctx is
// cancelled.
func (s *Strategy) Run(ctx context.Context) {
	resync := time.NewTicker(periodicResyncInterval)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		case <-resync.C:
			s.periodicResync(ctx)
		}
	}
}

func (s *Strategy) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case messages.OrderBook:
		s.handleOrderBook(ctx, m)
	case messages.Trade:
		s.handleTrade(ctx, m)
	case messages.PositionUpdate:
		s.handlePositionUpdate(ctx, m)
	case messages.OrderFilled:
		s.handleOrderFilled(m)
	case messages.OrderFailed:
		s.handleOrderFailed(m)
	case messages.SymbolChanged:
		s.handleSymbolChanged(ctx, m)
	case messages.UpdateMarketStats:
		s.handleUpdateMarketStats(m)
	default:
		s.logger.Warn("unknown strategy message", "type", msg)
	}
	s.publishSnapshot()
}

// Snapshot returns the most recently published state snapshot. Safe to call
// from any goroutine; returns the zero value before the first message has
// been handled.
func (s *Strategy) Snapshot() Snapshot {
	if p := s.snapshot.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// publishSnapshot copies the fields a reader might want into an immutable
// Snapshot and swaps it in atomically. Called once at the end of handle(),
// so it never runs concurrently with a mutation.
func (s *Strategy) publishSnapshot() {
	snap := Snapshot{
		Symbol:    s.currentSymbol,
		State:     s.state,
		UpdatedAt: time.Now(),
	}
	if s.position != nil {
		snap.HasPosition = true
		snap.PositionSide = s.position.Side
		snap.PositionSize = s.position.Size
		snap.EntryPrice = s.position.EntryPrice
		snap.CurrentPrice = s.position.CurrentPrice
		snap.PnLPercent = s.position.PnLPercent()
		snap.IsMomentumTrade = s.isMomentumTrade
	}
	if s.activeDynamicRisk != nil {
		snap.DynamicSLPercent = s.activeDynamicRisk.StopLossPercent
		snap.DynamicTPPercent = s.activeDynamicRisk.TakeProfitPercent
	}
	s.snapshot.Store(&snap)
}

// ————————————————————————————————————————————————————————————————————————
// OrderBook
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) handleOrderBook(ctx context.Context, m messages.OrderBook) {
	snap := m.Snapshot
	if snap.Symbol != s.currentSymbol || s.state == OrderPending || s.state == ClosingPosition {
		return
	}
	s.lastOrderBook = &snap

	if s.position != nil {
		s.position.CurrentPrice = snap.MidPrice
		s.evaluateExitTriggers(ctx)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Trade
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) handleTrade(ctx context.Context, m messages.Trade) {
	tick := m.Tick
	if tick.Symbol != s.currentSymbol || s.blacklist[tick.Symbol] {
		return
	}

	s.tickBuffer.Push(tick)
	s.tickCounter++

	if s.position != nil {
		s.evaluateFlashCrash(ctx, tick)
		return
	}

	if s.state != Idle {
		return
	}
	if s.tickBuffer.Len() < entryBufferMin {
		return
	}
	if time.Since(s.lastCloseAt) < s.cfg.EntryCooldown {
		return
	}
	if s.riskGuard != nil && s.riskGuard.IsHalted() {
		return
	}

	s.evaluateEntry(ctx, tick)
}

// evaluateEntry runs the entry pipeline. Every gate failure resets the
// pending confirmation counter; 12 consecutive matching ticks fire the
// entry.
func (s *Strategy) evaluateEntry(ctx context.Context, tick types.TradeTick) {
	s.refreshSignals()

	m, ok := momentum(tick.Price, s.cache.vwapShort)
	if !ok || math.Abs(m) <= s.cfg.MomentumThreshold {
		s.pendingConfirm = 0
		return
	}

	if s.lastOrderBook == nil || s.lastOrderBook.SpreadBps.GreaterThan(decimal.NewFromFloat(s.cfg.MaxSpreadBps)) {
		s.pendingConfirm = 0
		return
	}

	meanReversion := math.Abs(s.priceChange24h) <= momentumModeThreshold
	bullish := (m > 0) != meanReversion // XOR

	if s.pendingConfirm == 0 || s.pendingBullish != bullish {
		s.pendingBullish = bullish
		s.pendingConfirm = 1
	} else {
		s.pendingConfirm++
	}

	if s.pendingConfirm < confirmationTicksRequired {
		return
	}

	s.pendingConfirm = 0
	s.submitEntry(ctx, bullish, meanReversion)
}

func (s *Strategy) submitEntry(ctx context.Context, bullish, meanReversion bool) {
	if s.lastOrderBook == nil {
		return
	}
	mid := s.lastOrderBook.MidPrice

	risk := computeDynamicRisk(s.cache.volatility, s.cache.validVol, s.cfg)
	if risk.StopLossPercent <= 0 {
		return
	}

	qty, ok := sizePosition(mid, risk.StopLossPercent, s.cfg, s.currentSpec)
	if !ok {
		s.logger.Warn("entry sizing aborted", "symbol", s.currentSymbol)
		return
	}

	side := types.Sell
	if bullish {
		side = types.Buy
	}

	order := types.Order{
		Symbol:      s.currentSymbol,
		Side:        side,
		Type:        types.Market,
		Qty:         qty,
		TimeInForce: types.IOC,
	}

	// The dynamic risk must be in place before the order leaves, so a fill
	// arriving immediately still finds its exit levels set.
	s.activeDynamicRisk = &risk
	s.isMomentumTrade = !meanReversion
	s.peakPnLPercent = 0

	if !s.sendToExecution(ctx, messages.PlaceOrder{Order: order}) {
		s.activeDynamicRisk = nil
		s.logger.Warn("place order send failed/timed out, reverting to idle", "symbol", s.currentSymbol)
		return
	}

	s.state = OrderPending
	s.logger.Info("entry submitted", "symbol", s.currentSymbol, "side", side, "qty", qty,
		"sl_pct", risk.StopLossPercent, "tp_pct", risk.TakeProfitPercent, "momentum", !meanReversion)
}

// ————————————————————————————————————————————————————————————————————————
// Exit triggers (OrderBook handler, position open)
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) evaluateExitTriggers(ctx context.Context) {
	if s.position == nil || s.activeDynamicRisk == nil {
		return
	}

	pnl := s.position.PnLPercent()
	if pnl > s.peakPnLPercent {
		s.peakPnLPercent = pnl
	}

	if s.state != PositionOpen {
		return
	}

	risk := s.activeDynamicRisk

	switch {
	case pnl <= -risk.StopLossPercent:
		s.triggerClose(ctx, "stop_loss", pnl)
	case !s.isMomentumTrade && pnl >= risk.TakeProfitPercent:
		s.triggerClose(ctx, "take_profit", pnl)
	case s.isMomentumTrade && s.peakPnLPercent > trailingActivatePercent && s.peakPnLPercent-pnl >= trailingGiveBackPercent:
		s.triggerClose(ctx, "trailing_stop", pnl)
	case s.peakPnLPercent > breakEvenActivatePercent && pnl < breakEvenFloorPercent:
		s.triggerClose(ctx, "break_even", pnl)
	}
}

// evaluateFlashCrash runs on every trade tick while a position is open,
// independent of the OrderBook-driven checks above.
func (s *Strategy) evaluateFlashCrash(ctx context.Context, tick types.TradeTick) {
	if s.position == nil || s.state != PositionOpen {
		return
	}
	entry := s.position.EntryPrice
	if entry.IsZero() {
		return
	}

	raw := tick.Price.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
	pnl, _ := raw.Float64()
	if s.position.Side == types.Short {
		pnl = -pnl
	}

	if pnl <= -flashCrashPercent {
		s.triggerClose(ctx, "flash_crash", pnl)
	}
}

// triggerClose rate-limits close attempts to one per closeRateLimit and
// reverts to PositionOpen if the send fails or times out, so a later tick
// retries.
func (s *Strategy) triggerClose(ctx context.Context, reason string, pnl float64) {
	if time.Since(s.lastCloseAttempt) < closeRateLimit {
		return
	}
	s.lastCloseAttempt = time.Now()

	symbol := s.position.Symbol
	side := s.position.Side

	s.logger.Info("exit trigger fired", "reason", reason, "symbol", symbol, "pnl_pct", pnl)
	s.state = ClosingPosition

	if !s.sendToExecution(ctx, messages.ClosePosition{Symbol: symbol, Side: side}) {
		s.logger.Warn("close-position send failed/timed out, reverting to PositionOpen", "reason", reason)
		s.state = PositionOpen
	}
}

// ————————————————————————————————————————————————————————————————————————
// PositionUpdate / OrderFilled / OrderFailed
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) handlePositionUpdate(ctx context.Context, m messages.PositionUpdate) {
	if m.Position != nil {
		wasEntering := s.state == OrderPending
		s.position = m.Position
		s.state = PositionOpen
		if wasEntering {
			s.notify(types.AlertSuccess, "position opened", fmt.Sprintf("%s %s qty=%s @ %s",
				m.Position.Symbol, m.Position.Side, m.Position.Size, m.Position.EntryPrice))
		}
		return
	}

	switch s.state {
	case ClosingPosition:
		s.completeClose()
	case SwitchingSymbol:
		if s.pendingSymbolChange != nil {
			s.completeClose()
			s.applyPendingSymbolChange()
		} else {
			s.logger.Warn("position disappeared unexpectedly — likely liquidation", "symbol", s.currentSymbol)
			s.completeClose()
		}
	case PositionOpen:
		s.logger.Warn("position disappeared unexpectedly — likely liquidation", "symbol", s.currentSymbol)
		s.completeClose()
	default:
		// Idle, OrderPending: position absence is expected or transient.
	}
}

func (s *Strategy) handleOrderFilled(m messages.OrderFilled) {
	switch s.state {
	case OrderPending:
		// Await PositionUpdate before declaring PositionOpen.
	case ClosingPosition:
		s.completeClose()
	default:
		s.logger.Warn("unexpected OrderFilled", "state", s.state, "symbol", m.Symbol)
	}
}

func (s *Strategy) handleOrderFailed(m messages.OrderFailed) {
	s.logger.Warn("order failed", "symbol", m.Symbol, "reason", m.Reason)
	s.position = nil
	s.activeDynamicRisk = nil
	s.isMomentumTrade = false
	s.peakPnLPercent = 0
	s.pendingConfirm = 0
	s.state = Idle
}

func (s *Strategy) completeClose() {
	s.reportRealizedPnL()
	s.position = nil
	s.activeDynamicRisk = nil
	s.isMomentumTrade = false
	s.peakPnLPercent = 0
	s.lastCloseAt = time.Now()
	s.state = Idle
}

// reportRealizedPnL computes the closed position's realized PnL in USD and
// forwards it to the session risk guard, then notifies the alert sink. Must
// run before s.position is cleared.
func (s *Strategy) reportRealizedPnL() {
	if s.position == nil {
		return
	}
	diff := s.position.CurrentPrice.Sub(s.position.EntryPrice)
	if s.position.Side == types.Short {
		diff = diff.Neg()
	}
	pnlUSD, _ := diff.Mul(s.position.Size).Float64()

	if s.riskGuard != nil {
		s.riskGuard.ReportRealizedPnL(pnlUSD)
	}
	s.notify(types.AlertInfo, "position closed", fmt.Sprintf("%s %s pnl=$%.2f", s.position.Symbol, s.position.Side, pnlUSD))
}

// notify forwards an alert if an alert sink is configured.
func (s *Strategy) notify(level types.AlertLevel, title, body string) {
	if s.alertSink == nil {
		return
	}
	s.alertSink.Send(types.Alert{Level: level, Title: title, Body: body, At: time.Now()})
}

// ————————————————————————————————————————————————————————————————————————
// SymbolChanged / UpdateMarketStats
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) handleSymbolChanged(ctx context.Context, m messages.SymbolChanged) {
	if s.position == nil {
		s.completeSymbolSwitch(m.Symbol, m.Spec, m.PriceChange24h)
		return
	}

	s.pendingSymbolChange = &pendingSymbolChange{Symbol: m.Symbol, Spec: m.Spec, PriceChange24h: m.PriceChange24h}
	s.state = SwitchingSymbol

	symbol, side := s.position.Symbol, s.position.Side
	if !s.sendToExecution(ctx, messages.ClosePosition{Symbol: symbol, Side: side}) {
		s.logger.Warn("close-position send failed/timed out during symbol switch, force-completing switch")
		s.forceCompleteSwitch()
	}
}

func (s *Strategy) forceCompleteSwitch() {
	s.reportRealizedPnL()
	s.position = nil
	s.activeDynamicRisk = nil
	s.isMomentumTrade = false
	s.peakPnLPercent = 0
	s.applyPendingSymbolChange()
}

func (s *Strategy) applyPendingSymbolChange() {
	if s.pendingSymbolChange == nil {
		return
	}
	p := *s.pendingSymbolChange
	s.pendingSymbolChange = nil
	s.completeSymbolSwitch(p.Symbol, p.Spec, p.PriceChange24h)
}

func (s *Strategy) completeSymbolSwitch(symbol types.Symbol, spec types.InstrumentSpec, priceChange24h float64) {
	s.currentSymbol = symbol
	s.currentSpec = spec
	s.priceChange24h = priceChange24h
	s.tickBuffer.Reset()
	s.tickCounter = 0
	s.cache = signalCache{}
	s.pendingConfirm = 0
	s.lastOrderBook = nil
	s.state = Idle
}

func (s *Strategy) handleUpdateMarketStats(m messages.UpdateMarketStats) {
	if m.Symbol == s.currentSymbol {
		s.priceChange24h = m.PriceChange24h
	}
}

// ————————————————————————————————————————————————————————————————————————
// Periodic resync
// ————————————————————————————————————————————————————————————————————————

func (s *Strategy) periodicResync(ctx context.Context) {
	if s.currentSymbol == "" {
		return
	}
	s.sendToExecution(ctx, messages.GetPosition{Symbol: s.currentSymbol})
}

// sendToExecution blocks on toExecution, bounded by sendTimeout so a hung
// Execution can never wedge the strategy loop. Also aborts on ctx
// cancellation so shutdown never waits out the full timeout.
func (s *Strategy) sendToExecution(ctx context.Context, msg any) bool {
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case s.toExecution <- msg:
		return true
	case <-timer.C:
		s.logger.Warn("send to execution timed out", "message_type", fmt.Sprintf("%T", msg))
		return false
	case <-ctx.Done():
		return false
	}
}
