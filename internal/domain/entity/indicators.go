package entity

// Bollinger holds the latest Bollinger band values
type Bollinger struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Width returns upper minus lower
func (b *Bollinger) Width() float64 {
	if b == nil {
		return 0
	}
	return b.Upper - b.Lower
}

// MACD holds the latest MACD line, signal line and histogram
type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// OrderFlow summarizes aggressor volume in the recent trades
type OrderFlow struct {
	BuyVolume  float64 `json:"buyVolume"`
	SellVolume float64 `json:"sellVolume"`
	Imbalance  float64 `json:"imbalance"`
}

// PriceAction holds the range of the candle window
type PriceAction struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
	Range      float64 `json:"range"`
}

// Indicators is the technical context computed from a market snapshot.
// Nil fields mean there was not enough data.
type Indicators struct {
	EMA9        *float64     `json:"ema9"`
	EMA20       *float64     `json:"ema20"`
	EMA200      *float64     `json:"ema200"`
	RSI         *float64     `json:"rsi"`
	VWAP        *float64     `json:"vwap"`
	Bollinger   *Bollinger   `json:"bollinger"`
	MACD        *MACD        `json:"macd"`
	ATR         *float64     `json:"atr"`
	OrderFlow   *OrderFlow   `json:"orderFlow"`
	PriceAction *PriceAction `json:"priceAction"`
}
