// scalper — an automated perpetual-futures scalping engine for a single
// centralized derivatives exchange.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine          — orchestrator: wires scanner/marketdata/strategy/execution, manages shutdown
//	internal/scanner         — ranks instruments, decides when to hot-swap the active symbol
//	internal/marketdata      — owns the single hot-swappable streaming subscription
//	internal/strategy        — the position-lifecycle state machine, signal computation, risk sizing
//	internal/execution       — serializes order intents against the exchange, resolves ambiguous outcomes
//	internal/exchange        — REST + WebSocket adapter (HMAC auth, rate limiting, retry, reconnect)
//	internal/risk            — session-level daily realized-loss breaker
//	internal/alert           — best-effort outbound notifications
//	internal/status          — read-only HTTP/WebSocket operational status surface
//	internal/store           — crash-safe session-state persistence
//
// At most one instrument is tracked and at most one position is held at a
// time; the engine runs until an external signal ends the process.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"scalper/internal/config"
	"scalper/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SCALPER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	eng.Start()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("scalper started",
		"scanner_mode", cfg.Scanner.Mode,
		"trading_symbol", cfg.Scanner.TradingSymbol,
		"risk_amount_usd", cfg.Strategy.RiskAmountUSD,
		"max_position_size_usd", cfg.Strategy.MaxPositionSizeUSD,
		"dry_run", cfg.DryRun,
	)
	if cfg.Status.Enabled {
		logger.Info("status surface enabled", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
