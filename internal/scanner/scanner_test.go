package scanner

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/messages"
	"scalper/internal/specs"
	"scalper/pkg/types"
)

type fakeAdapter struct {
	tickers    []types.Ticker
	tickersErr error
	spec       types.InstrumentSpec
	specErr    error
}

func (f *fakeAdapter) ListTickers(ctx context.Context, category string) ([]types.Ticker, error) {
	return f.tickers, f.tickersErr
}
func (f *fakeAdapter) InstrumentSpec(ctx context.Context, symbol types.Symbol) (types.InstrumentSpec, error) {
	return f.spec, f.specErr
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, order types.Order) (types.OrderAck, error) {
	return types.OrderAck{}, nil
}
func (f *fakeAdapter) GetOrderStatus(ctx context.Context, symbol types.Symbol, orderID string) (types.OrderStatusReport, error) {
	return types.OrderStatusReport{}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol types.Symbol, orderID string) error {
	return nil
}
func (f *fakeAdapter) GetPositions(ctx context.Context, symbol types.Symbol) ([]types.PositionReport, error) {
	return nil, nil
}
func (f *fakeAdapter) Stream() exchange.StreamFeed { return nil }

func newTestScanner(t *testing.T, adapter *fakeAdapter, cfg config.ScannerConfig) (*Scanner, chan any, chan any) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	toMD := make(chan any, 8)
	toStrat := make(chan any, 8)
	s := New(adapter, specs.NewCache(), cfg, toMD, toStrat, logger)
	return s, toMD, toStrat
}

func defaultCfg() config.ScannerConfig {
	return config.ScannerConfig{
		MinTurnover24hUSD:        1e6,
		ScoreThresholdMultiplier: 1.2,
		Mode:                     "STABLE",
	}
}

func TestScanFirstSymbolAlwaysSwitches(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		tickers: []types.Ticker{
			{Symbol: "SOLUSDT", Turnover24h: 5e7, PriceChange24h: 0.02},
		},
		spec: types.DefaultSpec("SOLUSDT"),
	}
	s, toMD, toStrat := newTestScanner(t, adapter, defaultCfg())

	s.scan(context.Background())

	select {
	case msg := <-toMD:
		sw, ok := msg.(messages.SwitchSymbol)
		if !ok || sw.Symbol != "SOLUSDT" {
			t.Fatalf("unexpected MarketData message: %#v", msg)
		}
	default:
		t.Fatal("expected a SwitchSymbol message")
	}

	select {
	case msg := <-toStrat:
		sc, ok := msg.(messages.SymbolChanged)
		if !ok || sc.Symbol != "SOLUSDT" {
			t.Fatalf("unexpected Strategy message: %#v", msg)
		}
	default:
		t.Fatal("expected a SymbolChanged message")
	}

	if s.currentSymbol != "SOLUSDT" {
		t.Errorf("currentSymbol = %q, want SOLUSDT", s.currentSymbol)
	}
}

func TestScanFiltersStablecoinsAndMajors(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		tickers: []types.Ticker{
			{Symbol: "BTCUSDT", Turnover24h: 1e9, PriceChange24h: 0.01},
			{Symbol: "USDCUSDT", Turnover24h: 1e9, PriceChange24h: 0.0},
			{Symbol: "SOLUSDT", Turnover24h: 5e7, PriceChange24h: 0.02},
		},
		spec: types.DefaultSpec("SOLUSDT"),
	}
	s, _, toStrat := newTestScanner(t, adapter, defaultCfg())

	s.scan(context.Background())

	msg := <-toStrat
	sc := msg.(messages.SymbolChanged)
	if sc.Symbol != "SOLUSDT" {
		t.Errorf("Symbol = %q, want SOLUSDT (BTC/stablecoins should be filtered)", sc.Symbol)
	}
}

func TestScanDoesNotSwitchBelowThreshold(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		tickers: []types.Ticker{{Symbol: "SOLUSDT", Turnover24h: 5e7, PriceChange24h: 0.02}},
		spec:    types.DefaultSpec("SOLUSDT"),
	}
	s, toMD, toStrat := newTestScanner(t, adapter, defaultCfg())
	s.scan(context.Background())
	<-toMD
	<-toStrat
	s.firstScan = false

	// Second scan: same candidate set, score identical to current live score.
	// top.score == currentLiveScore, not strictly greater even scaled by
	// multiplier > 1, so no switch should occur.
	s.scan(context.Background())

	select {
	case msg := <-toMD:
		t.Fatalf("expected no SwitchSymbol on unchanged top candidate, got %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestScanUsesConservativeDefaultOnSpecFetchFailure(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{
		tickers: []types.Ticker{{Symbol: "SOLUSDT", Turnover24h: 5e7, PriceChange24h: 0.02}},
		specErr: context.DeadlineExceeded,
	}
	s, _, toStrat := newTestScanner(t, adapter, defaultCfg())

	s.scan(context.Background())

	msg := <-toStrat
	sc := msg.(messages.SymbolChanged)
	if !sc.Spec.QtyStep.IsPositive() {
		t.Error("expected a conservative default spec with positive qty_step")
	}
}

func TestScanHonorsFixedTradingSymbol(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	cfg.TradingSymbol = "ethusdt"
	adapter := &fakeAdapter{spec: types.DefaultSpec("ETHUSDT")}
	s, toMD, toStrat := newTestScanner(t, adapter, cfg)

	s.scan(context.Background())

	sw := (<-toMD).(messages.SwitchSymbol)
	if sw.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT (upper-cased)", sw.Symbol)
	}
	<-toStrat
}

func TestScanFixedSymbolRefusesBlacklisted(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	cfg.TradingSymbol = "ETHUSDT"
	cfg.BlacklistSymbols = []string{"ethusdt"}
	adapter := &fakeAdapter{spec: types.DefaultSpec("ETHUSDT")}
	s, toMD, toStrat := newTestScanner(t, adapter, cfg)

	s.scan(context.Background())

	select {
	case msg := <-toMD:
		t.Fatalf("blacklisted fixed symbol must never be published, got %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
	select {
	case msg := <-toStrat:
		t.Fatalf("blacklisted fixed symbol must never reach strategy, got %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
	if s.currentSymbol != "" {
		t.Fatalf("expected no symbol selected, got %q", s.currentSymbol)
	}
}

func TestScanFixedSymbolDoesNotRepublishUnchanged(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	cfg.TradingSymbol = "ETHUSDT"
	adapter := &fakeAdapter{spec: types.DefaultSpec("ETHUSDT")}
	s, toMD, toStrat := newTestScanner(t, adapter, cfg)

	s.scan(context.Background())
	<-toMD
	<-toStrat

	// A republish would reset Strategy's tick buffer, so an unchanged fixed
	// symbol must stay silent on subsequent scans.
	s.scan(context.Background())
	select {
	case msg := <-toMD:
		t.Fatalf("expected no republish of an unchanged fixed symbol, got %#v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestVolatileScoreZeroOutsideBand(t *testing.T) {
	t.Parallel()
	tooSmall := types.Ticker{Turnover24h: 1e6, PriceChange24h: 0.01}
	tooBig := types.Ticker{Turnover24h: 1e6, PriceChange24h: 0.35}
	if volatileScore(tooSmall) != 0 {
		t.Error("expected zero score below 1.5% change")
	}
	if volatileScore(tooBig) != 0 {
		t.Error("expected zero score above 30% change")
	}
}

func TestVolatileScorePenalizesBeyondTenPercent(t *testing.T) {
	t.Parallel()
	atPeak := types.Ticker{Turnover24h: 1e6, PriceChange24h: 0.10}
	beyond := types.Ticker{Turnover24h: 1e6, PriceChange24h: 0.20}
	if volatileScore(beyond) >= volatileScore(atPeak) {
		t.Error("expected score beyond 10%% change to be penalized relative to the peak")
	}
}
