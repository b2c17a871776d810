package notify

import (
	"context"

	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/rs/zerolog/log"
)

// LogNotifier logs win notices. Used when no SMTP server is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyWinner(_ context.Context, notice models.WinNotice) error {
	log.Info().
		Str("auction_id", notice.AuctionID).
		Str("recipient", notice.Recipient).
		Str("template", notice.Template).
		Int64("final_bid", notice.FinalBid).
		Msg("win notification (smtp disabled)")
	return nil
}
