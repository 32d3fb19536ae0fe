package model

import "time"

// TroyOunceGrams is the mass of one troy ounce in grams.
const TroyOunceGrams = 31.1034768

// MetalsPriceObservation holds per-gram prices for one calendar date.
// Prices are in the currency of the source (roubles for CBR data).
type MetalsPriceObservation struct {
	Date      time.Time `json:"date"`
	Gold      *float64  `json:"gold,omitempty"`
	Silver    *float64  `json:"silver,omitempty"`
	Platinum  *float64  `json:"platinum,omitempty"`
	Palladium *float64  `json:"palladium,omitempty"`
	USDRate   *float64  `json:"usd_rate,omitempty"`
}

// PricePerGram returns the observed price for m, or nil when the metal is
// not quoted or the value is missing.
func (o MetalsPriceObservation) PricePerGram(m Metal) *float64 {
	switch m {
	case MetalGold:
		return o.Gold
	case MetalSilver:
		return o.Silver
	case MetalPlatinum:
		return o.Platinum
	case MetalPalladium:
		return o.Palladium
	default:
		return nil
	}
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
