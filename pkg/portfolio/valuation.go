package portfolio

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Summary is the portfolio valuation over a ledger snapshot and the latest
// known prices. Recomputed on demand; nothing here is cached.
type Summary struct {
	Cash             decimal.Decimal `json:"cash"`
	MarketValue      decimal.Decimal `json:"market_value"`
	Equity           decimal.Decimal `json:"equity"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	DayChangePercent decimal.Decimal `json:"day_change_percent"`
}

// UnrealizedPnL is (lastPrice - averagePrice) * quantity.
func UnrealizedPnL(pos Position, lastPrice decimal.Decimal) decimal.Decimal {
	return lastPrice.Sub(pos.AveragePrice).Mul(pos.Quantity)
}

// MarketValue is quantity * lastPrice.
func MarketValue(pos Position, lastPrice decimal.Decimal) decimal.Decimal {
	return pos.Quantity.Mul(lastPrice)
}

// Summarize values the given positions against the last known prices.
// Positions with no known price contribute zero P&L and zero market value.
func Summarize(cash decimal.Decimal, positions []Position, lastPrices map[string]decimal.Decimal) Summary {
	totalPnL := decimal.Zero
	totalValue := decimal.Zero

	for _, pos := range positions {
		last, ok := lastPrices[pos.Symbol]
		if !ok {
			continue
		}
		totalPnL = totalPnL.Add(UnrealizedPnL(pos, last))
		totalValue = totalValue.Add(MarketValue(pos, last))
	}

	equity := cash.Add(totalValue)
	dayChange := decimal.Zero
	if equity.IsPositive() {
		dayChange = totalPnL.Div(equity).Mul(hundred)
	}

	return Summary{
		Cash:             cash,
		MarketValue:      totalValue,
		Equity:           equity,
		UnrealizedPnL:    totalPnL,
		DayChangePercent: dayChange,
	}
}

// PriceMap converts float prices (ticks ride as float64) into the decimal
// map Summarize consumes.
func PriceMap(prices map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		out[symbol] = decimal.NewFromFloat(price)
	}
	return out
}
