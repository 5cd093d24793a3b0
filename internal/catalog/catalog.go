// Package catalog holds the fixed set of tradable commodities. It is
// read-only after package initialization and safe for concurrent use.
package catalog

// Stock is a catalog commodity that every session instantiates once.
type Stock struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Color  string `json:"color"`
}

var commodities = []Stock{
	{Name: "Gold", Symbol: "GOLD", Color: "#F59E0B"},
	{Name: "Silver", Symbol: "SLVR", Color: "#94A3B8"},
	{Name: "Bonds", Symbol: "BNDS", Color: "#3B82F6"},
	{Name: "Grain", Symbol: "GRN", Color: "#D97706"},
	{Name: "Industrial", Symbol: "IND", Color: "#EF4444"},
	{Name: "Oil", Symbol: "OIL", Color: "#10B981"},
}

// Stocks returns the catalog in its canonical order.
func Stocks() []Stock {
	out := make([]Stock, len(commodities))
	copy(out, commodities)
	return out
}

// Lookup finds a stock by symbol.
func Lookup(symbol string) (Stock, bool) {
	for _, s := range commodities {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return Stock{}, false
}
