// Package status implements a minimal read-only operational surface for the
// scalping engine: a health check, a polled snapshot endpoint, and a
// WebSocket stream that pushes the same snapshot on a timer. One symbol and
// one position at a time keeps the surface small: no event taxonomy, no
// static file serving.
package status

import "time"

// Snapshot is the complete read-only view of the engine's current state.
type Snapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Symbol    string        `json:"symbol"`
	State     string        `json:"state"`
	Position  PositionView  `json:"position"`
	Risk      RiskView      `json:"risk"`
	Config    ConfigSummary `json:"config"`
}

// PositionView is the active position, if any.
type PositionView struct {
	HasPosition      bool    `json:"has_position"`
	Side             string  `json:"side,omitempty"`
	Size             string  `json:"size,omitempty"`
	EntryPrice       string  `json:"entry_price,omitempty"`
	CurrentPrice     string  `json:"current_price,omitempty"`
	PnLPercent       float64 `json:"pnl_percent"`
	DynamicSLPercent float64 `json:"dynamic_sl_percent"`
	DynamicTPPercent float64 `json:"dynamic_tp_percent"`
	IsMomentumTrade  bool    `json:"is_momentum_trade"`
}

// RiskView is the session risk guard's current standing.
type RiskView struct {
	Halted           bool    `json:"halted"`
	Day              string  `json:"day"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	MaxDailyLossUSD  float64 `json:"max_daily_loss_usd"`
}

// ConfigSummary is a read-only view of the tunables in effect, for
// operators checking what a running process was actually started with.
type ConfigSummary struct {
	DryRun             bool    `json:"dry_run"`
	MaxPositionSizeUSD float64 `json:"max_position_size_usd"`
	RiskAmountUSD      float64 `json:"risk_amount_usd"`
	StopLossPercent    float64 `json:"stop_loss_percent"`
	TakeProfitPercent  float64 `json:"take_profit_percent"`
	MaxSpreadBps       float64 `json:"max_spread_bps"`
	MomentumThreshold  float64 `json:"momentum_threshold"`
	ScannerMode        string  `json:"scanner_mode"`
	ScanInterval       string  `json:"scan_interval"`
}

// Event wraps a snapshot (or, in the future, a discrete occurrence) for
// delivery over the WebSocket stream.
type Event struct {
	Type      string    `json:"type"` // currently only "snapshot"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
