// Package model defines the records shared by the extractor, the predictor and the stores.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Metal is a two-letter metal code as written in lot descriptions.
type Metal string

const (
	MetalSilver    Metal = "Ag"
	MetalGold      Metal = "Au"
	MetalCopper    Metal = "Cu"
	MetalBronze    Metal = "Br"
	MetalNickel    Metal = "Ni"
	MetalIron      Metal = "Fe"
	MetalLead      Metal = "Pb"
	MetalTin       Metal = "Sn"
	MetalZinc      Metal = "Zn"
	MetalPlatinum  Metal = "Pt"
	MetalPalladium Metal = "Pd"
)

// Metals lists every recognised metal code.
var Metals = []Metal{
	MetalSilver, MetalGold, MetalCopper, MetalBronze, MetalNickel, MetalIron,
	MetalLead, MetalTin, MetalZinc, MetalPlatinum, MetalPalladium,
}

// Valid reports whether m is one of the recognised codes.
func (m Metal) Valid() bool {
	for _, v := range Metals {
		if m == v {
			return true
		}
	}
	return false
}

// Precious reports whether m has a quoted market price per gram.
func (m Metal) Precious() bool {
	switch m {
	case MetalGold, MetalSilver, MetalPlatinum, MetalPalladium:
		return true
	default:
		return false
	}
}

// Category is the kind of item a lot is.
type Category string

const (
	CategoryCoin     Category = "coin"
	CategoryBanknote Category = "banknote"
	CategoryToken    Category = "token"
	CategoryMedal    Category = "medal"
	CategoryBadge    Category = "badge"
	CategoryJewelry  Category = "jewelry"
)

// Categories lists every category in tie-break order.
var Categories = []Category{
	CategoryCoin, CategoryBanknote, CategoryToken, CategoryMedal, CategoryBadge, CategoryJewelry,
}

// LotAttributes holds the typed fields extracted from a lot description.
// Absent values are nil pointers or empty strings.
type LotAttributes struct {
	Denomination string `json:"denomination"`
	CoinName     string `json:"coin_name,omitempty"`
	Metal        Metal  `json:"metal,omitempty"`
	Year         *int   `json:"year,omitempty"`
	Mint         string `json:"mint,omitempty"`
	Letters      string `json:"letters,omitempty"`
	Mintage      *int64 `json:"mintage,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Rarity       string `json:"rarity,omitempty"`
	// Category is empty when the description gives no clear signal.
	Category Category `json:"category,omitempty"`

	// Country is either stated in the text or inferred from currency
	// vocabulary. CountryInferred marks the latter, which is a guess.
	Country         string `json:"country,omitempty"`
	CountryInferred bool   `json:"country_inferred,omitempty"`

	CoinWeight      *float64 `json:"coin_weight,omitempty"`
	PureMetalWeight *float64 `json:"pure_metal_weight,omitempty"`
	WeightOz        *float64 `json:"weight_oz,omitempty"`
	Fineness        *float64 `json:"fineness,omitempty"`

	Bitkin    string `json:"bitkin,omitempty"`
	Uzdenikov string `json:"uzdenikov,omitempty"`
	Ilyin     string `json:"ilyin,omitempty"`
	Petrov    string `json:"petrov,omitempty"`
	Severin   string `json:"severin,omitempty"`
	Dyakov    string `json:"dyakov,omitempty"`
	Kazakov   string `json:"kazakov,omitempty"`
}

// Lot is a single auction item as supplied by the catalog ingestion pipeline.
type Lot struct {
	ID          int64          `json:"id"`
	AuctionID   string         `json:"auction_id"`
	LotNumber   string         `json:"lot_number"`
	Description string         `json:"description"`
	WinningBid  *float64       `json:"winning_bid,omitempty"`
	SaleDate    time.Time      `json:"sale_date"`
	Attributes  *LotAttributes `json:"attributes,omitempty"`

	// AttributesHash is the DescriptionHash of the text Attributes were
	// extracted from. A mismatch means the attributes are stale.
	AttributesHash string `json:"-"`
}

// DescriptionHash fingerprints a description for staleness checks.
func DescriptionHash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

// StaleAttributes reports whether the lot needs (re)extraction.
func (l Lot) StaleAttributes() bool {
	return l.Attributes == nil || l.AttributesHash != DescriptionHash(l.Description)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
