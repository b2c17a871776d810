package lots

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mcdev12/primegavel/go/internal/models"
)

const keyPrefix = "lot-"

// LotKey returns the auction ID of a lot number
func LotKey(lotNo int) string {
	return keyPrefix + strconv.Itoa(lotNo)
}

// ParseLotKey extracts the lot number from an auction ID of the form "lot-<n>".
// Malformed IDs wrap models.ErrLotNotFound since no lot can match them.
func ParseLotKey(auctionID string) (int, error) {
	raw, ok := strings.CutPrefix(auctionID, keyPrefix)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: malformed auction id %q", models.ErrLotNotFound, auctionID)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: malformed auction id %q", models.ErrLotNotFound, auctionID)
	}
	return n, nil
}
