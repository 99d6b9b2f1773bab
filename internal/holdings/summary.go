package holdings

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/model"
	"github.com/atmx/holdings-engine/internal/ticker"
)

var hundred = decimal.NewFromInt(100)

// Value marks one holding to market.
func Value(h model.Holding) model.PositionValue {
	mv := h.CurrentPrice.Mul(h.Quantity)
	pnl := mv.Sub(h.CostBasis)
	return model.PositionValue{
		Ticker:        h.Ticker,
		MarketValue:   mv,
		UnrealizedPnL: pnl,
		ReturnPct:     percent(pnl, h.CostBasis),
	}
}

// Summarize aggregates holdings into portfolio totals, weights and
// exposure per market. Holdings without a known price are valued at zero.
func Summarize(hs []model.Holding, currency string) model.Summary {
	s := model.Summary{
		Currency:         currency,
		Positions:        make([]model.PositionValue, 0, len(hs)),
		ExposureByMarket: make(map[string]decimal.Decimal),
	}

	for _, h := range hs {
		pv := Value(h)
		s.Positions = append(s.Positions, pv)
		s.TotalCost = s.TotalCost.Add(h.CostBasis)
		s.TotalValue = s.TotalValue.Add(pv.MarketValue)

		market := ticker.MarketOf(h.Ticker)
		s.ExposureByMarket[market] = s.ExposureByMarket[market].Add(pv.MarketValue)
	}

	for i := range s.Positions {
		s.Positions[i].Weight = percent(s.Positions[i].MarketValue, s.TotalValue)
	}

	s.TotalPnL = s.TotalValue.Sub(s.TotalCost)
	s.ReturnPct = percent(s.TotalPnL, s.TotalCost)
	s.Display = map[string]string{
		"total_cost":  Display(s.TotalCost, currency),
		"total_value": Display(s.TotalValue, currency),
		"total_pnl":   Display(s.TotalPnL, currency),
	}
	return s
}

// Display formats an amount in the currency's conventional notation,
// e.g. ₩1,234,500 or $12.34.
func Display(amount decimal.Decimal, code string) string {
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
