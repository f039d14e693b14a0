// Package numbering allocates human-readable, date-scoped order numbers.
package numbering

// Kind identifies the order family a number belongs to.
type Kind string

const (
	KindPurchase   Kind = "purchase"
	KindLoading    Kind = "loading"
	KindDelivery   Kind = "delivery"
	KindBroken     Kind = "broken"
	KindReturned   Kind = "returned"
	KindSales      Kind = "sales"
	KindPublicSale Kind = "public_sale"
)

var prefixes = map[Kind]string{
	KindPurchase:   "PO",
	KindLoading:    "LO",
	KindDelivery:   "DO",
	KindBroken:     "BO",
	KindReturned:   "RO",
	KindSales:      "SO",
	KindPublicSale: "PS",
}

// Prefix returns the two-letter number prefix, or "" for unknown kinds.
func (k Kind) Prefix() string {
	return prefixes[k]
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	_, ok := prefixes[k]
	return ok
}

func kindForPrefix(prefix string) (Kind, bool) {
	for k, p := range prefixes {
		if p == prefix {
			return k, true
		}
	}
	return "", false
}
