package ticker

import "strings"

// Exchange labels shown with catalog listings.
const (
	ExchangeKRX    = "KRX"
	ExchangeUSMain = "NASDAQ/NYSE"
)

// Listing is a well-known stock offered by search and the popular list.
type Listing struct {
	Symbol    string   `json:"ticker"`
	Name      string   `json:"name"`
	LocalName string   `json:"local_name,omitempty"`
	Exchange  string   `json:"exchange"`
	Market    string   `json:"market"`
	Aliases   []string `json:"-"`
}

func krx(symbol, name, local string, aliases ...string) Listing {
	return Listing{Symbol: symbol, Name: name, LocalName: local, Exchange: ExchangeKRX, Market: MarketDomestic, Aliases: aliases}
}

func us(symbol, name string) Listing {
	return Listing{Symbol: symbol, Name: name, Exchange: ExchangeUSMain, Market: MarketForeign}
}

// catalog lists KRX large caps by market value, then US large caps.
var catalog = []Listing{
	krx("005930.KS", "Samsung Electronics Co., Ltd.", "삼성전자"),
	krx("000660.KS", "SK Hynix Inc.", "SK하이닉스"),
	krx("035420.KS", "NAVER Corporation", "네이버"),
	krx("035720.KS", "Kakao Corp.", "카카오"),
	krx("207940.KS", "Samsung Biologics Co., Ltd.", "삼성바이오로직스"),
	krx("051910.KS", "LG Chem, Ltd.", "LG화학"),
	krx("006400.KS", "Samsung SDI Co., Ltd.", "삼성SDI"),
	krx("028260.KS", "Samsung C&T Corporation", "삼성물산"),
	krx("068270.KS", "Celltrion, Inc.", "셀트리온"),
	krx("005380.KS", "Hyundai Motor Company", "현대차", "hyundai motors"),
	krx("012330.KS", "Hyundai Mobis Co., Ltd.", "현대모비스"),
	krx("105560.KS", "KB Financial Group Inc.", "KB금융"),
	krx("055550.KS", "Shinhan Financial Group Co., Ltd.", "신한지주"),
	krx("086790.KS", "Hana Financial Group Inc.", "하나금융지주"),
	krx("000270.KS", "Kia Corporation", "기아"),
	krx("017670.KS", "SK Telecom Co., Ltd.", "SK텔레콤"),
	krx("034730.KS", "SK Inc.", "SK"),
	krx("009150.KS", "Samsung Electro-Mechanics Co., Ltd.", "삼성전기"),
	krx("018260.KS", "Samsung SDS Co., Ltd.", "삼성에스디에스"),
	krx("032830.KS", "Samsung Life Insurance Co., Ltd.", "삼성생명"),
	krx("003550.KS", "LG Corp.", "LG"),
	krx("066570.KS", "LG Electronics Inc.", "LG전자"),
	krx("096770.KS", "SK Innovation Co., Ltd.", "SK이노베이션"),
	krx("015760.KS", "Korea Electric Power Corporation", "한국전력"),
	krx("033780.KS", "KT&G Corporation", "KT&G"),
	krx("003490.KS", "Korean Air Lines Co., Ltd.", "대한항공"),
	krx("010130.KS", "Korea Zinc Company, Ltd.", "고려아연"),
	krx("011170.KS", "Lotte Chemical Corporation", "롯데케미칼"),
	krx("009540.KS", "HD Korea Shipbuilding & Offshore Engineering Co., Ltd.", "HD한국조선해양"),
	krx("000810.KS", "Samsung Fire & Marine Insurance Co., Ltd.", "삼성화재"),

	us("AAPL", "Apple Inc."),
	us("MSFT", "Microsoft Corporation"),
	us("GOOGL", "Alphabet Inc."),
	us("AMZN", "Amazon.com Inc."),
	us("NVDA", "NVIDIA Corporation"),
	us("TSLA", "Tesla Inc."),
	us("META", "Meta Platforms Inc."),
	us("TSM", "Taiwan Semiconductor"),
	us("V", "Visa Inc."),
	us("WMT", "Walmart Inc."),
	us("JPM", "JPMorgan Chase & Co."),
	us("MA", "Mastercard Inc."),
	us("PG", "Procter & Gamble Co."),
	us("JNJ", "Johnson & Johnson"),
	us("UNH", "UnitedHealth Group Inc."),
	us("HD", "Home Depot Inc."),
	us("BAC", "Bank of America Corp."),
	us("XOM", "Exxon Mobil Corporation"),
	us("DIS", "Walt Disney Company"),
	us("NFLX", "Netflix Inc."),
}

// Popular returns the whole catalog, domestic listings first.
func Popular() []Listing {
	out := make([]Listing, len(catalog))
	copy(out, catalog)
	return out
}

// Search returns catalog listings whose symbol, English name, Korean name
// or alias contains query, ignoring case. A blank query matches nothing.
func Search(query string) []Listing {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Listing
	for _, l := range catalog {
		if l.matches(q) {
			out = append(out, l)
		}
	}
	return out
}

func (l Listing) matches(q string) bool {
	if strings.Contains(strings.ToLower(l.Symbol), q) ||
		strings.Contains(strings.ToLower(l.Name), q) ||
		strings.Contains(strings.ToLower(l.LocalName), q) {
		return true
	}
	for _, a := range l.Aliases {
		if strings.Contains(a, q) {
			return true
		}
	}
	return false
}
