package engine

import "errors"

var (
	// ErrNotFound is returned for an unknown lot or an auction with no live session
	ErrNotFound = errors.New("auction not found")
	// ErrAlreadyDecided is returned when the lot already has a recorded winner
	ErrAlreadyDecided = errors.New("auction already decided")
	// ErrInvalidBid is returned for a non-positive increment or one that would overflow the bid
	ErrInvalidBid = errors.New("invalid bid")
	// ErrSessionEnded is returned for a bid that arrives after the session ended
	ErrSessionEnded = errors.New("auction session ended")
	// ErrUpstreamUnavailable wraps store and notifier failures
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ErrorMessage maps an engine error to the message sent in auction:error.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Auction ID not found"
	case errors.Is(err, ErrAlreadyDecided):
		return "Auction already has a winner"
	case errors.Is(err, ErrInvalidBid):
		return "Your bid must be higher than current amount"
	case errors.Is(err, ErrSessionEnded):
		return "Auction has ended"
	default:
		return "Error loading auction"
	}
}
