package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"scalper/pkg/types"
)

const (
	tickBufferCapacity = 300
	vwapShortWindow    = 50
	vwapLongWindow     = 200
	volatilityWindow   = 100
	entryBufferMin     = 200
)

// signalCache holds the VWAP/volatility values derived from the tick
// buffer. It is recomputed lazily and invalidated by comparing the
// monotonically increasing tick counter to the counter value recorded at
// the last recompute, never by buffer length, which is constant once the
// ring buffer saturates.
type signalCache struct {
	vwapShort  decimal.Decimal
	vwapLong   decimal.Decimal
	volatility float64
	validVol   bool
	computedAt int64
}

// refreshSignals recomputes the cache if the tick counter has advanced
// since the last recompute.
func (s *Strategy) refreshSignals() {
	if s.cache.computedAt == s.tickCounter {
		return
	}
	ticks := s.tickBuffer.Slice()
	s.cache.vwapShort = vwap(ticks, vwapShortWindow)
	s.cache.vwapLong = vwap(ticks, vwapLongWindow)
	s.cache.volatility, s.cache.validVol = volatility(ticks, volatilityWindow)
	s.cache.computedAt = s.tickCounter
}

// vwap computes the volume-weighted average price over the last n ticks
// (fewer if the buffer doesn't hold n yet). Returns zero if there's no
// volume to weight by.
func vwap(ticks []types.TradeTick, n int) decimal.Decimal {
	if len(ticks) > n {
		ticks = ticks[len(ticks)-n:]
	}
	var totalValue, totalVolume decimal.Decimal
	for _, t := range ticks {
		totalValue = totalValue.Add(t.Price.Mul(t.Size))
		totalVolume = totalVolume.Add(t.Size)
	}
	if totalVolume.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalVolume)
}

// volatility returns the standard deviation, as a percent (e.g. 1.2 meaning
// 1.2%), of single-tick absolute returns over the last n ticks, and whether
// enough ticks were available to compute it at all.
func volatility(ticks []types.TradeTick, n int) (float64, bool) {
	if len(ticks) > n {
		ticks = ticks[len(ticks)-n:]
	}
	if len(ticks) < n {
		return 0, false
	}

	returns := make([]float64, 0, len(ticks)-1)
	for i := 1; i < len(ticks); i++ {
		prev := ticks[i-1].Price
		if prev.IsZero() {
			continue
		}
		r := ticks[i].Price.Sub(prev).Div(prev)
		f, _ := r.Float64()
		returns = append(returns, math.Abs(f))
	}
	if len(returns) == 0 {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * 100, true
}

// momentum computes m = (lastPrice - VWAP_short) / VWAP_short.
func momentum(lastPrice, vwapShort decimal.Decimal) (float64, bool) {
	if vwapShort.IsZero() {
		return 0, false
	}
	m := lastPrice.Sub(vwapShort).Div(vwapShort)
	f, _ := m.Float64()
	return f, true
}
