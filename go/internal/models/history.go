package models

import "time"

// HistoryEntry is one won auction in a trader's personal history.
type HistoryEntry struct {
	AuctionID   string          `json:"lot_number"`
	Winner      string          `json:"winner"`
	FinalBid    int64           `json:"final_bid"`
	Product     ProductMetadata `json:"product"`
	AuctionDate string          `json:"auction_date"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// WinNotice is handed to the notifier when a session ends with a winner.
type WinNotice struct {
	Recipient string
	Template  string
	AuctionID string
	Product   ProductMetadata
	FinalBid  int64
}
