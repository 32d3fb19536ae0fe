package comparable

import (
	"sort"

	"github.com/numisdata/lotvalue/internal/model"
)

// Stats summarises the winning bids of a comparable set.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes Stats over sold sales. Unsold entries are ignored.
func Summarize(sales []model.ComparableSale) Stats {
	bids := make([]float64, 0, len(sales))
	for _, s := range sales {
		if s.Sold() {
			bids = append(bids, *s.WinningBid)
		}
	}
	if len(bids) == 0 {
		return Stats{}
	}
	sort.Float64s(bids)

	var sum float64
	for _, b := range bids {
		sum += b
	}
	n := len(bids)
	st := Stats{
		Count: n,
		Mean:  sum / float64(n),
		Min:   bids[0],
		Max:   bids[n-1],
	}
	if n%2 == 1 {
		st.Median = bids[n/2]
	} else {
		st.Median = (bids[n/2-1] + bids[n/2]) / 2
	}
	return st
}
