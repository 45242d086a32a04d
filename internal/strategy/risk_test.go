package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"scalper/internal/config"
	"scalper/pkg/types"
)

func testCfg() config.StrategyConfig {
	return config.StrategyConfig{
		MaxPositionSizeUSD: 1000,
		RiskAmountUSD:      10,
		StopLossPercent:    0.5,
		TakeProfitPercent:  1.0,
		MaxSpreadBps:       20,
		MomentumThreshold:  0.001,
	}
}

func TestComputeDynamicRiskFromVolatility(t *testing.T) {
	risk := computeDynamicRisk(1.0, true, testCfg())
	if risk.StopLossPercent != 2.0 {
		t.Fatalf("expected SL = 2*vol = 2.0, got %f", risk.StopLossPercent)
	}
	if risk.TakeProfitPercent != 3.0 {
		t.Fatalf("expected TP = 1.5*SL = 3.0, got %f", risk.TakeProfitPercent)
	}
}

func TestComputeDynamicRiskClampsFloor(t *testing.T) {
	risk := computeDynamicRisk(0.1, true, testCfg())
	if risk.StopLossPercent != dynamicSLFloorPercent {
		t.Fatalf("expected SL clamped to floor %f, got %f", dynamicSLFloorPercent, risk.StopLossPercent)
	}
}

func TestComputeDynamicRiskClampsCeiling(t *testing.T) {
	risk := computeDynamicRisk(10.0, true, testCfg())
	if risk.StopLossPercent != dynamicSLCeilPercent {
		t.Fatalf("expected SL clamped to ceiling %f, got %f", dynamicSLCeilPercent, risk.StopLossPercent)
	}
}

func TestComputeDynamicRiskFallsBackToStaticConfig(t *testing.T) {
	cfg := testCfg()
	cfg.StopLossPercent = 1.0
	cfg.TakeProfitPercent = 5.0
	risk := computeDynamicRisk(0, false, cfg)
	if risk.StopLossPercent != 1.0 {
		t.Fatalf("expected static SL fallback 1.0, got %f", risk.StopLossPercent)
	}
	if risk.TakeProfitPercent != 5.0 {
		t.Fatalf("expected static TP fallback (exceeds 1.5x SL) to win, got %f", risk.TakeProfitPercent)
	}
}

func TestSizePositionAbortsOnNonPositiveSL(t *testing.T) {
	_, ok := sizePosition(decimal.NewFromFloat(100), 0, testCfg(), types.DefaultSpec("BTCUSDT"))
	if ok {
		t.Fatal("expected sizing to abort when SL% <= 0")
	}
}

func TestSizePositionClampsToMaxNotional(t *testing.T) {
	cfg := testCfg()
	cfg.RiskAmountUSD = 10000 // would produce a huge notional at a tight SL
	cfg.MaxPositionSizeUSD = 1000

	qty, ok := sizePosition(decimal.NewFromFloat(100), 0.5, cfg, types.DefaultSpec("BTCUSDT"))
	if !ok {
		t.Fatal("expected sizing to succeed")
	}
	// notional should be clamped to 1000, so qty ~= 10.
	want := decimal.NewFromFloat(10)
	if !qty.Equal(want) {
		t.Fatalf("qty = %s, want %s (max-notional clamp)", qty, want)
	}
}

func TestSizePositionSnapsToQtyStep(t *testing.T) {
	cfg := testCfg()
	cfg.RiskAmountUSD = 1
	cfg.MaxPositionSizeUSD = 1000

	spec := types.InstrumentSpec{
		Symbol:      "BTCUSDT",
		QtyStep:     decimal.NewFromFloat(0.01),
		MinOrderQty: decimal.NewFromFloat(0.01),
		MaxOrderQty: decimal.NewFromInt(1000),
		TickSize:    decimal.NewFromFloat(0.1),
	}

	qty, ok := sizePosition(decimal.NewFromFloat(100), 0.5, cfg, spec)
	if !ok {
		t.Fatal("expected sizing to succeed")
	}
	steps := qty.Div(spec.QtyStep)
	if !steps.Equal(steps.Floor()) {
		t.Fatalf("qty %s is not an exact multiple of qty_step %s", qty, spec.QtyStep)
	}
}
