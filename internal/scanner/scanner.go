// Package scanner implements the Scanner pipeline component: periodic
// instrument ranking, switch-policy decisions, and instrument-spec cache
// population. Every scan polls the full ticker universe, filters it, ranks
// the survivors by the configured mode's score, and decides whether the top
// candidate displaces the currently-tracked symbol.
package scanner

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"log/slog"

	"scalper/internal/config"
	"scalper/internal/exchange"
	"scalper/internal/messages"
	"scalper/internal/specs"
	"scalper/pkg/types"
)

// stabilityFilter excludes the majors and stablecoin pairs from ranking;
// they move too slowly to scalp.
var stabilityFilter = map[types.Symbol]bool{
	"BTCUSDT":   true,
	"ETHUSDT":   true,
	"USDCUSDT":  true,
	"BUSDUSDT":  true,
	"DAIUSDT":   true,
	"TUSDUSDT":  true,
	"FDUSDUSDT": true,
}

const category = "linear"

// Scanner owns the ranking loop. It never blocks the pipeline on a slow
// exchange call — the scan runs on its own ticker and failures are logged,
// never propagated.
type Scanner struct {
	adapter exchange.Adapter
	cache   *specs.Cache
	cfg     config.ScannerConfig
	logger  *slog.Logger

	toMarketData chan<- any
	toStrategy   chan<- any

	blacklist     map[types.Symbol]bool
	currentSymbol types.Symbol
	firstScan     bool
}

// New creates a Scanner. toMarketData and toStrategy are the bounded
// outbound queues to the other two components this component feeds.
func New(adapter exchange.Adapter, cache *specs.Cache, cfg config.ScannerConfig, toMarketData, toStrategy chan<- any, logger *slog.Logger) *Scanner {
	blacklist := make(map[types.Symbol]bool, len(cfg.BlacklistSymbols))
	for _, s := range cfg.BlacklistSymbols {
		blacklist[types.Symbol(strings.ToUpper(strings.TrimSpace(s)))] = true
	}

	return &Scanner{
		adapter:      adapter,
		cache:        cache,
		cfg:          cfg,
		logger:       logger.With("component", "scanner"),
		toMarketData: toMarketData,
		toStrategy:   toStrategy,
		blacklist:    blacklist,
		firstScan:    true,
	}
}

// Run starts the scan loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

type candidate struct {
	ticker types.Ticker
	score  float64
}

func (s *Scanner) scan(ctx context.Context) {
	// Fixed-symbol override: skip ranking entirely. The blacklist still
	// applies — a symbol an operator excluded must never trade, even by
	// explicit override. Publish only on the first scan or an actual
	// change — a republish resets Strategy's tick buffer, which must not
	// happen on every tick of the scan loop.
	if s.cfg.TradingSymbol != "" {
		fixed := types.Symbol(strings.ToUpper(s.cfg.TradingSymbol))
		if s.blacklist[fixed] {
			s.logger.Error("configured trading_symbol is blacklisted, refusing to trade it", "symbol", fixed)
			s.firstScan = false
			return
		}
		if s.firstScan || s.currentSymbol != fixed {
			s.publish(ctx, fixed, 0)
		}
		s.firstScan = false
		return
	}

	tickers, err := s.adapter.ListTickers(ctx, category)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return
	}

	filtered := s.filter(tickers)
	scored := s.score(filtered)

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var top candidate
	if len(scored) > 0 {
		top = scored[0]
	}

	currentLiveScore := s.liveScoreOf(scored, s.currentSymbol)

	switchNow := s.currentSymbol == "" ||
		(top.score > currentLiveScore*s.cfg.ScoreThresholdMultiplier && top.ticker.Symbol != s.currentSymbol)

	switch {
	case switchNow && top.ticker.Symbol != "":
		s.publish(ctx, top.ticker.Symbol, top.ticker.PriceChange24h)
	case s.firstScan && s.currentSymbol != "":
		// Force-republish to trigger resubscription after a transient disconnect.
		s.publish(ctx, s.currentSymbol, currentSymbol24hChange(scored, s.currentSymbol))
	default:
		s.sendUpdateMarketStats(scored)
	}

	s.firstScan = false
}

func (s *Scanner) liveScoreOf(scored []candidate, symbol types.Symbol) float64 {
	if symbol == "" {
		return 0
	}
	for _, c := range scored {
		if c.ticker.Symbol == symbol {
			return c.score
		}
	}
	return 0
}

func currentSymbol24hChange(scored []candidate, symbol types.Symbol) float64 {
	for _, c := range scored {
		if c.ticker.Symbol == symbol {
			return c.ticker.PriceChange24h
		}
	}
	return 0
}

func (s *Scanner) sendUpdateMarketStats(scored []candidate) {
	if s.currentSymbol == "" {
		return
	}
	change := currentSymbol24hChange(scored, s.currentSymbol)
	select {
	case s.toStrategy <- messages.UpdateMarketStats{Symbol: s.currentSymbol, PriceChange24h: change}:
	default:
		s.logger.Debug("dropping update_market_stats, strategy inbox full")
	}
}

// filter applies the hard eligibility filters before scoring.
func (s *Scanner) filter(tickers []types.Ticker) []types.Ticker {
	out := make([]types.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(string(t.Symbol), "USDT") {
			continue
		}
		if stabilityFilter[t.Symbol] {
			continue
		}
		if s.blacklist[t.Symbol] {
			continue
		}
		if t.Turnover24h < s.cfg.MinTurnover24hUSD {
			continue
		}
		out = append(out, t)
	}
	return out
}

// score applies the mode-specific scoring function.
func (s *Scanner) score(tickers []types.Ticker) []candidate {
	out := make([]candidate, 0, len(tickers))
	for _, t := range tickers {
		var sc float64
		if s.cfg.Mode == "VOLATILE" {
			sc = volatileScore(t)
		} else {
			sc = stableScore(t)
		}
		out = append(out, candidate{ticker: t, score: sc})
	}
	return out
}

func stableScore(t types.Ticker) float64 {
	change := math.Abs(t.PriceChange24h)
	return t.Turnover24h / (change + 1)
}

func volatileScore(t types.Ticker) float64 {
	change := math.Abs(t.PriceChange24h)
	if change < 0.015 || change > 0.30 {
		return 0
	}
	var v float64
	if change <= 0.10 {
		v = change
	} else {
		v = math.Max(0.001, 0.10-(change-0.10)*2)
	}
	return t.Turnover24h * v
}

// publish ensures the spec cache is populated, then switches MarketData and
// announces the change to Strategy.
func (s *Scanner) publish(ctx context.Context, symbol types.Symbol, priceChange24h float64) {
	spec := s.ensureSpec(ctx, symbol)

	s.toMarketData <- messages.SwitchSymbol{Symbol: symbol}
	s.toStrategy <- messages.SymbolChanged{Symbol: symbol, Spec: spec, PriceChange24h: priceChange24h}

	s.currentSymbol = symbol
	s.logger.Info("symbol selected", "symbol", symbol, "price_change_24h", priceChange24h)
}

func (s *Scanner) ensureSpec(ctx context.Context, symbol types.Symbol) types.InstrumentSpec {
	if spec, ok := s.cache.Get(symbol); ok {
		return spec
	}

	spec, err := s.adapter.InstrumentSpec(ctx, symbol)
	if err != nil {
		s.logger.Warn("instrument spec fetch failed, using conservative default", "symbol", symbol, "error", err)
		spec = types.DefaultSpec(symbol)
	}
	s.cache.Insert(spec)
	return spec
}
