package watchlist

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// SparklinePoints is the default sparkline length.
const SparklinePoints = 20

func symbolHash(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

// SynthesizeQuote returns a placeholder price in [20, 500) and a daily move
// within ±5%, both a pure function of symbol.
func SynthesizeQuote(symbol string) (price, change, changePercent float64) {
	h := symbolHash(symbol)

	p := decimal.NewFromInt(int64(h%48000) + 2000).Shift(-2)
	pct := decimal.NewFromInt(int64((h>>20)%1001) - 500).Shift(-2)
	chg := p.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)

	price, _ = p.Float64()
	change, _ = chg.Float64()
	changePercent, _ = pct.Float64()
	return price, change, changePercent
}

// Sparkline returns n points ending at last: a bounded random walk seeded
// from symbol, walked backwards with steps of at most 2% and clamped to
// ±20% of last. The same inputs always give the same series.
func Sparkline(symbol string, last float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	seed := symbolHash(symbol)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	lo, hi := last*0.8, last*1.2
	if lo > hi {
		lo, hi = hi, lo
	}

	pts := make([]float64, n)
	pts[n-1] = last
	cur := last
	for i := n - 2; i >= 0; i-- {
		step := (rng.Float64()*2 - 1) * 0.02
		cur = min(max(cur*(1+step), lo), hi)
		pts[i] = roundPrice(cur)
	}
	return pts
}

func roundPrice(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
