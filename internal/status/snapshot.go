package status

import (
	"time"

	"scalper/internal/config"
)

// Provider is the engine-facing contract the status server reads from. The
// engine implements it directly.
type Provider interface {
	StatusSnapshot() Snapshot
}

// NewConfigSummary builds a ConfigSummary from the loaded configuration.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun:             cfg.DryRun,
		MaxPositionSizeUSD: cfg.Strategy.MaxPositionSizeUSD,
		RiskAmountUSD:      cfg.Strategy.RiskAmountUSD,
		StopLossPercent:    cfg.Strategy.StopLossPercent,
		TakeProfitPercent:  cfg.Strategy.TakeProfitPercent,
		MaxSpreadBps:       cfg.Strategy.MaxSpreadBps,
		MomentumThreshold:  cfg.Strategy.MomentumThreshold,
		ScannerMode:        cfg.Scanner.Mode,
		ScanInterval:       cfg.Scanner.ScanInterval.String(),
	}
}

// BuildSnapshot asks the provider for its current snapshot and stamps it if
// the provider left the timestamp unset.
func BuildSnapshot(provider Provider) Snapshot {
	snap := provider.StatusSnapshot()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return snap
}
