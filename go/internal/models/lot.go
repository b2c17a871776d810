package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrLotNotFound is returned by a lot store when no lot matches the auction ID
var ErrLotNotFound = errors.New("lot not found")

// ErrOutcomeConflict is returned when a lot already carries a different winner
var ErrOutcomeConflict = errors.New("lot already has a different outcome")

// Lot represents a catalog item offered in a live auction.
type Lot struct {
	AuctionID     string          `json:"lot_number"` // "lot-<LotNo>"
	LotNo         int             `json:"lot_no"`
	AuctionDate   string          `json:"auction_date"` // YYYY-MM-DD
	ProductName   string          `json:"product_name"`
	Quantity      string          `json:"quantity"`
	BasePrice     int64           `json:"starting_price"`
	ConsignorName string          `json:"consignor_name"`
	ProductType   string          `json:"product_type"`
	Image         string          `json:"image,omitempty"`
	Extra         json.RawMessage `json:"extra,omitempty"`
	Winner        *string         `json:"winner,omitempty"`
	FinalBid      *int64          `json:"final_bid,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Decided reports whether the lot already has a recorded winner.
func (l *Lot) Decided() bool {
	return l.Winner != nil && *l.Winner != ""
}

// ProductMetadata is the catalog data carried into history entries and notifications.
type ProductMetadata struct {
	ProductName   string `json:"product_name"`
	Quantity      string `json:"quantity"`
	BasePrice     int64  `json:"base_price"`
	ConsignorName string `json:"consignor_name"`
	ProductType   string `json:"product_type"`
}

// Metadata extracts the product metadata of the lot.
func (l *Lot) Metadata() ProductMetadata {
	return ProductMetadata{
		ProductName:   l.ProductName,
		Quantity:      l.Quantity,
		BasePrice:     l.BasePrice,
		ConsignorName: l.ConsignorName,
		ProductType:   l.ProductType,
	}
}
