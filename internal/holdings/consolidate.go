// Package holdings consolidates purchase lots into one holding per ticker
// and values the resulting positions.
//
// Consolidation is a pure function: it never logs, never touches storage,
// and returns the same result for the same input order.
package holdings

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/model"
	"github.com/atmx/holdings-engine/internal/ticker"
)

// InvalidLotError describes a lot rejected by validation. Consolidation
// skips such lots and keeps going.
type InvalidLotError struct {
	Index  int    `json:"index"`
	LotID  string `json:"lot_id,omitempty"`
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

func (e *InvalidLotError) Error() string {
	if e.LotID != "" {
		return fmt.Sprintf("holdings: invalid lot %s (%s): %s", e.LotID, e.Ticker, e.Reason)
	}
	return fmt.Sprintf("holdings: invalid lot #%d (%s): %s", e.Index, e.Ticker, e.Reason)
}

// Validate checks the basic validity of a single lot.
func Validate(lot model.Lot) error {
	if err := validate(-1, lot); err != nil {
		return err
	}
	return nil
}

func validate(index int, lot model.Lot) *InvalidLotError {
	reason := ""
	switch {
	case ticker.Normalize(lot.Ticker) == "":
		reason = "ticker is required"
	case !lot.Quantity.IsPositive():
		reason = "quantity must be positive, got " + lot.Quantity.String()
	case !lot.PurchasePrice.IsPositive():
		reason = "purchase price must be positive, got " + lot.PurchasePrice.String()
	default:
		return nil
	}
	return &InvalidLotError{Index: index, LotID: lot.ID, Ticker: lot.Ticker, Reason: reason}
}

// Result is the output of Consolidate.
type Result struct {
	Holdings []model.Holding
	Rejected []*InvalidLotError
}

// accumulator tracks the exact cost basis so the average price does not
// depend on the order lots are merged in.
type accumulator struct {
	holding   model.Holding
	costBasis decimal.Decimal
}

// Consolidate merges lots into one holding per ticker.
//
// Holdings are emitted in first-seen ticker order; each holding's purchase
// history is in processing order. Invalid lots are reported in Rejected
// and do not contribute.
func Consolidate(lots []model.Lot) Result {
	var res Result
	index := make(map[string]int)
	var accs []*accumulator

	for i, lot := range lots {
		if err := validate(i, lot); err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}

		symbol := ticker.Normalize(lot.Ticker)
		record := model.PurchaseRecord{
			LotID:    lot.ID,
			Price:    lot.PurchasePrice,
			Quantity: lot.Quantity,
			Date:     lot.PurchaseDate,
		}
		amount := lot.PurchasePrice.Mul(lot.Quantity)

		pos, seen := index[symbol]
		if !seen {
			name := lot.Name
			if name == "" {
				name = symbol
			}
			index[symbol] = len(accs)
			accs = append(accs, &accumulator{
				holding: model.Holding{
					Ticker:               symbol,
					DisplayName:          name,
					Currency:             ticker.Currency(symbol),
					Quantity:             lot.Quantity,
					AveragePurchasePrice: lot.PurchasePrice,
					CostBasis:            amount,
					CurrentPrice:         lot.CurrentPrice,
					PurchaseHistory:      []model.PurchaseRecord{record},
					IsConsolidated:       false,
					IsForeign:            ticker.IsForeign(symbol),
				},
				costBasis: amount,
			})
			continue
		}

		// Current price is ticker-intrinsic; the first-seen value stays.
		acc := accs[pos]
		acc.costBasis = acc.costBasis.Add(amount)
		h := &acc.holding
		h.Quantity = h.Quantity.Add(lot.Quantity)
		h.CostBasis = acc.costBasis
		h.AveragePurchasePrice = acc.costBasis.Div(h.Quantity)
		h.PurchaseHistory = append(h.PurchaseHistory, record)
		h.IsConsolidated = true
	}

	res.Holdings = make([]model.Holding, 0, len(accs))
	for _, acc := range accs {
		res.Holdings = append(res.Holdings, acc.holding)
	}
	return res
}
