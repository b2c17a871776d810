package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mcdev12/primegavel/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// handleClientMessage decodes one inbound frame and routes it to the event handler.
// Malformed frames are answered with auction:error on this connection only.
func (c *Connection) handleClientMessage(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.replyError("Malformed message")
		return
	}

	switch env.Event {
	case events.Join:
		var req events.JoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.replyError("Malformed join request")
			return
		}
		c.handleJoin(req)

	case events.Bid:
		var req events.BidRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.replyError("Malformed bid request")
			return
		}
		c.handleBid(req)

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("event", string(env.Event)).
			Msg("ignoring unknown client event")
	}
}

func (c *Connection) handleJoin(req events.JoinRequest) {
	auctionID := strings.TrimSpace(req.AuctionID)
	identity := strings.TrimSpace(req.Name)
	if auctionID == "" || identity == "" {
		c.replyError("auctionId and name are required")
		return
	}

	cm := c.Manager
	unlock := cm.roomLocks.lock(auctionID)
	defer unlock()

	orphaned, ok := cm.joinRoom(c, auctionID, identity)
	if !ok || cm.handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.HandlerTimeout)
	defer cancel()

	if orphaned != "" {
		cm.handler.Leave(ctx, auctionID, orphaned)
	}
	if err := cm.handler.Join(ctx, c.ID, auctionID, identity); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("auction_id", auctionID).
			Str("identity", identity).
			Msg("join did not start session")
	}
}

func (c *Connection) handleBid(req events.BidRequest) {
	auctionID := strings.TrimSpace(req.AuctionID)
	bidder := strings.TrimSpace(req.Bidder)
	if auctionID == "" || bidder == "" {
		c.replyError("auctionId and bidder are required")
		return
	}

	cm := c.Manager
	if cm.handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.HandlerTimeout)
	defer cancel()

	if err := cm.handler.Bid(ctx, c.ID, auctionID, bidder, req.Increment); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("auction_id", auctionID).
			Str("bidder", bidder).
			Msg("bid rejected")
	}
}

func (c *Connection) replyError(message string) {
	c.Manager.Unicast(c.ID, events.Error, events.ErrorPayload{Message: message})
}
