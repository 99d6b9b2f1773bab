package holdings

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var epoch = time.Date(2025, 11, 9, 0, 0, 0, 0, time.UTC)

func lot(id, ticker string, qty, price float64) model.Lot {
	return model.Lot{
		ID:            id,
		Ticker:        ticker,
		Quantity:      d(qty),
		PurchasePrice: d(price),
		PurchaseDate:  epoch,
	}
}

func within(a, b decimal.Decimal, tol float64) bool {
	return a.Sub(b).Abs().LessThanOrEqual(d(tol))
}

// --- Example scenario ---

func TestConsolidate_AveragesTwoLots(t *testing.T) {
	res := Consolidate([]model.Lot{
		lot("l1", "AAPL", 10, 100),
		lot("l2", "AAPL", 5, 130),
	})

	if len(res.Rejected) != 0 {
		t.Fatalf("expected no rejected lots, got %v", res.Rejected)
	}
	if len(res.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(res.Holdings))
	}
	h := res.Holdings[0]
	if !h.Quantity.Equal(d(15)) {
		t.Errorf("expected qty=15, got %s", h.Quantity)
	}
	if !h.AveragePurchasePrice.Equal(d(110)) {
		t.Errorf("expected avg=110, got %s", h.AveragePurchasePrice)
	}
	if !h.IsConsolidated {
		t.Error("expected holding to be marked consolidated")
	}
	if len(h.PurchaseHistory) != 2 || h.PurchaseHistory[0].LotID != "l1" || h.PurchaseHistory[1].LotID != "l2" {
		t.Errorf("expected history [l1 l2], got %+v", h.PurchaseHistory)
	}
}

// --- Merge correctness ---

func TestConsolidate_WeightedAverageInvariant(t *testing.T) {
	lots := []model.Lot{
		lot("a", "005930.KS", 3, 71500),
		lot("b", "005930.KS", 0.5, 68250.5),
		lot("c", "005930.KS", 12, 73100),
		lot("d", "005930.KS", 7.25, 70033.33),
	}
	res := Consolidate(lots)
	h := res.Holdings[0]

	totalQty := decimal.Zero
	totalAmt := decimal.Zero
	for _, l := range lots {
		totalQty = totalQty.Add(l.Quantity)
		totalAmt = totalAmt.Add(l.PurchasePrice.Mul(l.Quantity))
	}

	if !h.Quantity.Equal(totalQty) {
		t.Errorf("expected qty=%s, got %s", totalQty, h.Quantity)
	}
	if !within(h.AveragePurchasePrice.Mul(h.Quantity), totalAmt, 1e-9) {
		t.Errorf("avg*qty=%s does not match Σ(p·q)=%s",
			h.AveragePurchasePrice.Mul(h.Quantity), totalAmt)
	}
	if !h.CostBasis.Equal(totalAmt) {
		t.Errorf("expected cost basis %s, got %s", totalAmt, h.CostBasis)
	}

	historyQty := decimal.Zero
	for _, r := range h.PurchaseHistory {
		historyQty = historyQty.Add(r.Quantity)
	}
	if !historyQty.Equal(h.Quantity) {
		t.Errorf("history qty %s != holding qty %s", historyQty, h.Quantity)
	}
}

func TestConsolidate_PermutationInvariant(t *testing.T) {
	base := []model.Lot{
		lot("a", "AAPL", 3, 10.5),
		lot("b", "MSFT", 1, 400),
		lot("c", "AAPL", 7, 12.25),
		lot("d", "AAPL", 2, 9),
		lot("e", "MSFT", 2.5, 410.1),
	}
	perms := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 3, 1},
		{3, 4, 0, 1, 2},
	}

	want := map[string]model.Holding{}
	for _, h := range Consolidate(base).Holdings {
		want[h.Ticker] = h
	}

	for _, p := range perms {
		lots := make([]model.Lot, len(p))
		for i, idx := range p {
			lots[i] = base[idx]
		}
		for _, h := range Consolidate(lots).Holdings {
			w := want[h.Ticker]
			if !h.Quantity.Equal(w.Quantity) {
				t.Errorf("perm %v %s: qty %s != %s", p, h.Ticker, h.Quantity, w.Quantity)
			}
			if !h.AveragePurchasePrice.Equal(w.AveragePurchasePrice) {
				t.Errorf("perm %v %s: avg %s != %s", p, h.Ticker, h.AveragePurchasePrice, w.AveragePurchasePrice)
			}
		}
	}
}

func TestConsolidate_SingleLotPassThrough(t *testing.T) {
	l := lot("only", "TSLA", 4, 251.37)
	res := Consolidate([]model.Lot{l})

	h := res.Holdings[0]
	if h.IsConsolidated {
		t.Error("single-lot holding should not be consolidated")
	}
	if !h.AveragePurchasePrice.Equal(l.PurchasePrice) {
		t.Errorf("expected avg=%s exactly, got %s", l.PurchasePrice, h.AveragePurchasePrice)
	}
	if len(h.PurchaseHistory) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(h.PurchaseHistory))
	}
}

func TestConsolidate_FirstSeenOrder(t *testing.T) {
	res := Consolidate([]model.Lot{
		lot("1", "TSLA", 1, 200),
		lot("2", "005930.KS", 1, 70000),
		lot("3", "AAPL", 1, 150),
		lot("4", "TSLA", 1, 220),
	})

	got := make([]string, len(res.Holdings))
	for i, h := range res.Holdings {
		got[i] = h.Ticker
	}
	want := []string{"TSLA", "005930.KS", "AAPL"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestConsolidate_NormalizesTicker(t *testing.T) {
	res := Consolidate([]model.Lot{
		lot("1", "aapl", 1, 100),
		lot("2", " AAPL", 1, 120),
	})
	if len(res.Holdings) != 1 {
		t.Fatalf("expected tickers to merge, got %d holdings", len(res.Holdings))
	}
	if res.Holdings[0].Ticker != "AAPL" {
		t.Errorf("expected AAPL, got %s", res.Holdings[0].Ticker)
	}
}

func TestConsolidate_KeepsFirstCurrentPrice(t *testing.T) {
	a := lot("1", "AAPL", 1, 100)
	a.CurrentPrice = d(150)
	b := lot("2", "AAPL", 1, 120)
	b.CurrentPrice = d(155)

	h := Consolidate([]model.Lot{a, b}).Holdings[0]
	if !h.CurrentPrice.Equal(d(150)) {
		t.Errorf("expected first-seen current price 150, got %s", h.CurrentPrice)
	}
}

func TestConsolidate_ForeignFlagAndCurrency(t *testing.T) {
	res := Consolidate([]model.Lot{
		lot("1", "005930.KS", 1, 70000),
		lot("2", "NVDA", 1, 180),
	})
	if res.Holdings[0].IsForeign || res.Holdings[0].Currency != "KRW" {
		t.Errorf("005930.KS should be domestic KRW, got %+v", res.Holdings[0])
	}
	if !res.Holdings[1].IsForeign || res.Holdings[1].Currency != "USD" {
		t.Errorf("NVDA should be foreign USD, got %+v", res.Holdings[1])
	}
}

func TestConsolidate_DisplayNameDefaultsToTicker(t *testing.T) {
	named := lot("1", "005930.KS", 1, 70000)
	named.Name = "삼성전자"
	res := Consolidate([]model.Lot{named, lot("2", "AAPL", 1, 100)})

	if res.Holdings[0].DisplayName != "삼성전자" {
		t.Errorf("expected lot name, got %q", res.Holdings[0].DisplayName)
	}
	if res.Holdings[1].DisplayName != "AAPL" {
		t.Errorf("expected ticker fallback, got %q", res.Holdings[1].DisplayName)
	}
}

// --- Invalid lots ---

func TestConsolidate_SkipsInvalidLots(t *testing.T) {
	res := Consolidate([]model.Lot{
		lot("ok1", "AAPL", 10, 100),
		lot("zero-qty", "AAPL", 0, 100),
		lot("neg-price", "AAPL", 5, -1),
		lot("", "", 1, 1),
		lot("ok2", "AAPL", 5, 130),
	})

	if len(res.Rejected) != 3 {
		t.Fatalf("expected 3 rejected lots, got %d", len(res.Rejected))
	}
	if res.Rejected[0].LotID != "zero-qty" || res.Rejected[0].Index != 1 {
		t.Errorf("unexpected first rejection: %+v", res.Rejected[0])
	}
	if res.Rejected[2].Index != 3 {
		t.Errorf("expected index 3 for empty ticker, got %d", res.Rejected[2].Index)
	}

	h := res.Holdings[0]
	if !h.Quantity.Equal(d(15)) || !h.AveragePurchasePrice.Equal(d(110)) {
		t.Errorf("invalid lots leaked into holding: qty=%s avg=%s", h.Quantity, h.AveragePurchasePrice)
	}
}

func TestConsolidate_AllInvalidYieldsNoHolding(t *testing.T) {
	res := Consolidate([]model.Lot{lot("x", "AAPL", -3, 100)})
	if len(res.Holdings) != 0 {
		t.Errorf("expected no holdings, got %d", len(res.Holdings))
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(lot("ok", "AAPL", 1, 1)); err != nil {
		t.Errorf("expected valid lot, got %v", err)
	}

	err := Validate(lot("bad", "AAPL", 0, 1))
	var invalid *InvalidLotError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *InvalidLotError, got %T", err)
	}
	if invalid.LotID != "bad" {
		t.Errorf("expected lot id bad, got %s", invalid.LotID)
	}
}

func TestConsolidate_Deterministic(t *testing.T) {
	lots := []model.Lot{
		lot("1", "AAPL", 1, 100),
		lot("2", "MSFT", 2, 300),
		lot("3", "AAPL", 3, 110),
	}
	a := Consolidate(lots)
	b := Consolidate(lots)
	for i := range a.Holdings {
		if a.Holdings[i].Ticker != b.Holdings[i].Ticker ||
			!a.Holdings[i].AveragePurchasePrice.Equal(b.Holdings[i].AveragePurchasePrice) ||
			len(a.Holdings[i].PurchaseHistory) != len(b.Holdings[i].PurchaseHistory) {
			t.Fatalf("consolidation not deterministic at %d", i)
		}
	}
}
