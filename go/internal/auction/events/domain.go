package events

import (
	"encoding/json"
	"time"
)

// Domain event types published for downstream consumers
const (
	TypeAuctionStarted = "AuctionStarted"
	TypeBidAccepted    = "BidAccepted"
	TypeAuctionEnded   = "AuctionEnded"
)

// DomainEvent is the envelope published to the message bus
type DomainEvent struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	AuctionID string          `json:"auctionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// AuctionStartedPayload is the payload for an AuctionStarted event
type AuctionStartedPayload struct {
	AuctionID        string    `json:"auction_id"`
	StartingBid      int64     `json:"starting_bid"`
	CountdownSeconds int       `json:"countdown_seconds"`
	Participants     int       `json:"participants"`
	StartedAt        time.Time `json:"started_at"`
}

// BidAcceptedPayload is the payload for a BidAccepted event
type BidAcceptedPayload struct {
	AuctionID  string    `json:"auction_id"`
	Bidder     string    `json:"bidder"`
	Increment  int64     `json:"increment"`
	CurrentBid int64     `json:"current_bid"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// AuctionEndedPayload is the payload for an AuctionEnded event
type AuctionEndedPayload struct {
	AuctionID string    `json:"auction_id"`
	Winner    *string   `json:"winner"`
	FinalBid  int64     `json:"final_bid"`
	BidCount  int       `json:"bid_count"`
	EndedAt   time.Time `json:"ended_at"`
}
