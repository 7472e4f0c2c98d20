package rag

import (
	"math"

	"finexplain/market"
)

const (
	// MinCloses is the fewest valid closes needed to classify behavior
	MinCloses = 10

	// MaxPayloadCandles is how many recent candles are kept in a market_behavior payload
	MaxPayloadCandles = 120

	trendThresholdPct = 4.0
	highVolPct        = 3.0
	lowVolPct         = 1.2
)

// Trend labels
const (
	TrendUp       = "상승/up"
	TrendDown     = "하락/down"
	TrendSideways = "횡보/sideways"
)

// Volatility labels
const (
	VolatilityHigh   = "높음/high"
	VolatilityMedium = "보통/medium"
	VolatilityLow    = "낮음/low"
)

// InsufficientData replaces both labels when there are too few closes
const InsufficientData = "데이터 부족/insufficient data"

// Behavior summarizes recent price action without exposing raw prices downstream
type Behavior struct {
	Trend         string  `json:"trend"`
	Volatility    string  `json:"volatility"`
	TrendPct      float64 `json:"trend_pct"`
	MeanReturn    float64 `json:"mean_return"`
	StdevReturn   float64 `json:"stdev_return"`
	Observations  int     `json:"observations"`
	Insufficient  bool    `json:"insufficient,omitempty"`
	SummaryKorean string  `json:"summary"`
}

// MarketBehaviorPayload is the payload of a market_behavior Document
type MarketBehaviorPayload struct {
	Behavior Behavior        `json:"behavior"`
	Candles  []market.Candle `json:"candles,omitempty"`
}

// DeriveBehavior classifies trend and volatility from a close series.
// Non-finite and non-positive closes are ignored.
func DeriveBehavior(closes []float64) Behavior {
	valid := make([]float64, 0, len(closes))
	for _, c := range closes {
		if c > 0 && !math.IsNaN(c) && !math.IsInf(c, 0) {
			valid = append(valid, c)
		}
	}

	if len(valid) < MinCloses {
		return Behavior{
			Trend:         InsufficientData,
			Volatility:    InsufficientData,
			Observations:  len(valid),
			Insufficient:  true,
			SummaryKorean: "가격 데이터가 부족하여 시장 흐름을 판단하기 어렵습니다",
		}
	}

	returns := make([]float64, 0, len(valid)-1)
	for i := 1; i < len(valid); i++ {
		returns = append(returns, (valid[i]-valid[i-1])/valid[i-1])
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	stdev := math.Sqrt(sq / float64(len(returns)))

	first, last := valid[0], valid[len(valid)-1]
	trendPct := (last - first) * 100 / first

	b := Behavior{
		Trend:        classifyTrend(trendPct),
		Volatility:   classifyVolatility(stdev * 100),
		TrendPct:     trendPct,
		MeanReturn:   mean,
		StdevReturn:  stdev,
		Observations: len(valid),
	}
	b.SummaryKorean = "추세 " + b.Trend + ", 변동성 " + b.Volatility
	return b
}

func classifyTrend(pct float64) string {
	switch {
	case pct > trendThresholdPct:
		return TrendUp
	case pct < -trendThresholdPct:
		return TrendDown
	default:
		return TrendSideways
	}
}

func classifyVolatility(stdevPct float64) string {
	switch {
	case stdevPct > highVolPct:
		return VolatilityHigh
	case stdevPct < lowVolPct:
		return VolatilityLow
	default:
		return VolatilityMedium
	}
}

// BehaviorFromCandles derives behavior and keeps the most recent candles for traceability
func BehaviorFromCandles(candles []market.Candle) MarketBehaviorPayload {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	kept := candles
	if len(kept) > MaxPayloadCandles {
		kept = kept[len(kept)-MaxPayloadCandles:]
	}
	return MarketBehaviorPayload{
		Behavior: DeriveBehavior(closes),
		Candles:  append([]market.Candle(nil), kept...),
	}
}
