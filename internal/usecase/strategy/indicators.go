package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/zono819/winbot/internal/domain/entity"
)

const (
	rsiPeriod    = 14
	bbPeriod     = 20
	bbDeviations = 2.0
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
)

// Compute derives the indicator set used by the strategies and advisors.
// go-talib is used once the window covers the lookback; shorter windows
// fall back to first-value seeded averages or leave the field nil.
func Compute(candles []entity.Candle, trades []entity.Trade) *entity.Indicators {
	ind := &entity.Indicators{}
	if len(candles) == 0 {
		return ind
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ind.EMA9 = lastEMA(closes, 9)
	ind.EMA20 = lastEMA(closes, 20)
	ind.EMA200 = lastEMA(closes, 200)

	if len(closes) > rsiPeriod {
		ind.RSI = lastOf(talib.Rsi(closes, rsiPeriod))
	}

	if len(closes) >= bbPeriod {
		upper, middle, lower := talib.BBands(closes, bbPeriod, bbDeviations, bbDeviations, talib.SMA)
		ind.Bollinger = &entity.Bollinger{
			Upper:  upper[len(upper)-1],
			Middle: middle[len(middle)-1],
			Lower:  lower[len(lower)-1],
		}
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	if len(candles) >= 2 {
		atr := ATR(highs, lows, closes, rsiPeriod)
		ind.ATR = &atr
	}

	ind.MACD = computeMACD(closes)
	ind.VWAP = VWAP(candles)
	ind.OrderFlow = computeOrderFlow(trades)
	ind.PriceAction = computePriceAction(candles)
	return ind
}

func lastOf(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func lastEMA(closes []float64, period int) *float64 {
	if len(closes) >= period {
		return lastOf(talib.Ema(closes, period))
	}
	return lastOf(EMASeries(closes, period))
}

// EMASeries returns an exponential average seeded with the first value
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*k + out[i-1]
	}
	return out
}

func computeMACD(closes []float64) *entity.MACD {
	if len(closes) < macdSlow {
		return nil
	}
	if len(closes) >= macdSlow+macdSignal-1 {
		m, sig, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		return &entity.MACD{MACD: m[len(m)-1], Signal: sig[len(sig)-1], Histogram: hist[len(hist)-1]}
	}

	fast := EMASeries(closes, macdFast)
	slow := EMASeries(closes, macdSlow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	signal := EMASeries(line[macdSlow-1:], macdSignal)
	last := line[len(line)-1]
	sig := signal[len(signal)-1]
	return &entity.MACD{MACD: last, Signal: sig, Histogram: last - sig}
}

// VWAP returns the cumulative volume weighted typical price
func VWAP(candles []entity.Candle) *float64 {
	if len(candles) == 0 {
		return nil
	}
	var pv, vol float64
	for _, c := range candles {
		pv += c.TypicalPrice() * c.Volume
		vol += c.Volume
	}
	if vol == 0 {
		v := candles[len(candles)-1].TypicalPrice()
		return &v
	}
	v := pv / vol
	return &v
}

func computeOrderFlow(trades []entity.Trade) *entity.OrderFlow {
	if len(trades) == 0 {
		return nil
	}
	flow := &entity.OrderFlow{}
	for _, t := range trades {
		switch t.Side {
		case "buy", "BUY":
			flow.BuyVolume += t.Quantity
		case "sell", "SELL":
			flow.SellVolume += t.Quantity
		}
	}
	if total := flow.BuyVolume + flow.SellVolume; total > 0 {
		flow.Imbalance = (flow.BuyVolume - flow.SellVolume) / total
	}
	return flow
}

func computePriceAction(candles []entity.Candle) *entity.PriceAction {
	pa := &entity.PriceAction{Support: candles[0].Low, Resistance: candles[0].High}
	for _, c := range candles[1:] {
		pa.Support = math.Min(pa.Support, c.Low)
		pa.Resistance = math.Max(pa.Resistance, c.High)
	}
	pa.Range = pa.Resistance - pa.Support
	return pa
}

// RSI calculates Relative Strength Index
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50.0 // neutral if not enough data
	}

	gains := 0.0
	losses := 0.0

	// Calculate initial average gain/loss
	for i := 1; i <= period; i++ {
		change := prices[len(prices)-period-1+i] - prices[len(prices)-period-1+i-1]
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	rsi := 100.0 - (100.0 / (1.0 + rs))

	return rsi
}

// BollingerBands calculates Bollinger Bands
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// CalculateBollingerBands returns upper, middle, lower bands
func CalculateBollingerBands(prices []float64, period int, stdDevMultiplier float64) BollingerBands {
	if len(prices) == 0 {
		return BollingerBands{}
	}
	if len(prices) < period {
		lastPrice := prices[len(prices)-1]
		return BollingerBands{
			Upper:  lastPrice,
			Middle: lastPrice,
			Lower:  lastPrice,
		}
	}

	// Calculate SMA
	sum := 0.0
	recentPrices := prices[len(prices)-period:]
	for _, p := range recentPrices {
		sum += p
	}
	sma := sum / float64(period)

	// Calculate Standard Deviation
	variance := 0.0
	for _, p := range recentPrices {
		variance += math.Pow(p-sma, 2)
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerBands{
		Upper:  sma + (stdDevMultiplier * stdDev),
		Middle: sma,
		Lower:  sma - (stdDevMultiplier * stdDev),
	}
}

// ATR calculates Average True Range
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) < 2 || len(lows) < 2 || len(closes) < 2 {
		return 0
	}

	trSum := 0.0
	count := 0
	start := len(highs) - period
	if start < 1 {
		start = 1
	}

	for i := start; i < len(highs); i++ {
		tr := math.Max(
			highs[i]-lows[i],
			math.Max(
				math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1]),
			),
		)
		trSum += tr
		count++
	}

	if count == 0 {
		return 0
	}
	return trSum / float64(count)
}
