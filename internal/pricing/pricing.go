// Package pricing is the fixed credit-bundle price schedule. Pure lookups,
// no side effects.
package pricing

import "sort"

// prices maps a credit-bundle size to its USD price.
var prices = map[int64]float64{
	100:   5.0,
	500:   20.0,
	1000:  35.0,
	5000:  150.0,
	10000: 250.0,
}

// MinCredits is the smallest purchasable bundle.
const MinCredits int64 = 100

type Option struct {
	Credits int64
	USD     float64
}

// Lookup returns the USD price for a bundle size.
func Lookup(credits int64) (float64, bool) {
	usd, ok := prices[credits]
	return usd, ok
}

// Options returns the schedule ordered by bundle size, for keyboards.
func Options() []Option {
	opts := make([]Option, 0, len(prices))
	for credits, usd := range prices {
		opts = append(opts, Option{Credits: credits, USD: usd})
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Credits < opts[j].Credits })
	return opts
}
