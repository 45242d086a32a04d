package strategy

import (
	"github.com/shopspring/decimal"

	"scalper/internal/config"
	"scalper/pkg/types"
)

const (
	dynamicSLFloorPercent = 0.7
	dynamicSLCeilPercent  = 3.0
	dynamicTPMultiplier   = 1.5
)

// computeDynamicRisk derives the SL/TP percentages for a new entry from the
// current 100-tick volatility reading, falling back to the static config
// when fewer than volatilityWindow ticks have been seen.
func computeDynamicRisk(volPercent float64, haveVol bool, cfg config.StrategyConfig) types.DynamicRisk {
	sl := cfg.StopLossPercent
	if haveVol {
		sl = 2 * volPercent
	}
	sl = clamp(sl, dynamicSLFloorPercent, dynamicSLCeilPercent)

	tp := sl * dynamicTPMultiplier
	if !haveVol && cfg.TakeProfitPercent > tp {
		tp = cfg.TakeProfitPercent
	}

	return types.DynamicRisk{StopLossPercent: sl, TakeProfitPercent: tp}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sizePosition implements fixed-dollar-risk sizing: notional is derived
// from risk_amount_usd and the active SL%, clamped to
// max_position_size_usd, then converted to qty and snapped to instrument
// precision. Returns false if slPercent <= 0 or the snapped quantity
// collapses to zero.
func sizePosition(midPrice decimal.Decimal, slPercent float64, cfg config.StrategyConfig, spec types.InstrumentSpec) (decimal.Decimal, bool) {
	if slPercent <= 0 || midPrice.IsZero() {
		return decimal.Zero, false
	}

	slFraction := decimal.NewFromFloat(slPercent / 100.0)
	notional := decimal.NewFromFloat(cfg.RiskAmountUSD).Div(slFraction)

	if maxNotional := decimal.NewFromFloat(cfg.MaxPositionSizeUSD); notional.GreaterThan(maxNotional) {
		notional = maxNotional
	}
	if notional.IsNegative() {
		notional = decimal.Zero
	}

	qty := spec.SnapQty(notional.Div(midPrice))
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	return qty, true
}
