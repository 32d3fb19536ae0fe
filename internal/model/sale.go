package model

import "time"

// ComparableSale is a historical auction result used as price evidence.
// A nil WinningBid means the lot went unsold or was withdrawn.
type ComparableSale struct {
	LotID        int64     `json:"lot_id"`
	AuctionID    string    `json:"auction_id"`
	Denomination string    `json:"denomination"`
	Metal        Metal     `json:"metal"`
	Year         *int      `json:"year,omitempty"`
	Letters      string    `json:"letters,omitempty"`
	Condition    string    `json:"condition,omitempty"`
	Category     Category  `json:"category,omitempty"`
	WinningBid   *float64  `json:"winning_bid,omitempty"`
	SaleDate     time.Time `json:"sale_date"`
}

// Sold reports whether the sale has a positive winning bid.
func (s ComparableSale) Sold() bool {
	return s.WinningBid != nil && *s.WinningBid > 0
}
