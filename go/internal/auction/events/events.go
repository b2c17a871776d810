package events

// Name is the wire name of an event exchanged with websocket clients.
type Name string

// Inbound events
const (
	Join Name = "auction:join"
	Bid  Name = "auction:bid"
)

// Outbound events
const (
	Participants Name = "auction:participants"
	Update       Name = "auction:update"
	State        Name = "auction:state"
	End          Name = "auction:end"
	Error        Name = "auction:error"
)

// JoinRequest is the payload of an inbound auction:join event
type JoinRequest struct {
	AuctionID string `json:"auctionId"`
	Name      string `json:"name"`
}

// BidRequest is the payload of an inbound auction:bid event
type BidRequest struct {
	AuctionID string `json:"auctionId"`
	Bidder    string `json:"bidder"`
	Increment int64  `json:"increment"`
}

// ParticipantsPayload carries the participant count of a room
type ParticipantsPayload struct {
	Count int `json:"count"`
}

// SnapshotPayload is sent for auction:update and auction:state.
// HighestBidder is null until the first accepted bid.
type SnapshotPayload struct {
	TimeLeft      int     `json:"timeLeft"`
	CurrentBid    int64   `json:"currentBid"`
	HighestBidder *string `json:"highestBidder"`
	Increment     int64   `json:"increment"`
	Ended         bool    `json:"ended"`
}

// EndPayload is sent once when a session ends
type EndPayload struct {
	TimeLeft      int     `json:"timeLeft"`
	CurrentBid    int64   `json:"currentBid"`
	HighestBidder *string `json:"highestBidder"`
}

// ErrorPayload is unicast to the connection whose request failed
type ErrorPayload struct {
	Message string `json:"message"`
}
