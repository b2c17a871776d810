package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WinTemplate names the notification template used for auction winners
const WinTemplate = "auction_won"

// Store defines what the engine needs from the durable lot store
type Store interface {
	// FindLot returns models.ErrLotNotFound when no lot matches auctionID.
	FindLot(ctx context.Context, auctionID string) (*models.Lot, error)
	SetLotOutcome(ctx context.Context, auctionID string, lotNo int, winner *string, finalBid int64) error
	AppendToHistory(ctx context.Context, identity string, entry models.HistoryEntry) error
}

// Notifier delivers winner notifications. Delivery is best-effort.
type Notifier interface {
	NotifyWinner(ctx context.Context, notice models.WinNotice) error
}

// Outcome is the final state of an ended session handed to the finalizer.
type Outcome struct {
	AuctionID string
	LotNo     int
	Winner    *string
	FinalBid  int64
	BidCount  int
	EndedAt   time.Time
}

// FinalizeReport records what each finalization step did.
type FinalizeReport struct {
	MetadataErr error
	OutcomeErr  error
	HistoryErr  error
	NotifyErr   error

	OutcomePersisted bool
	HistoryAppended  bool
	Notified         bool
}

// Finalizer persists a session outcome, appends the winner's history and notifies the winner.
type Finalizer struct {
	store    Store
	notifier Notifier
	clock    Clock

	attempts    int
	backoff     time.Duration
	stepTimeout time.Duration
}

// NewFinalizer creates a finalizer. notifier may be nil.
func NewFinalizer(store Store, notifier Notifier, clock Clock, cfg Config) *Finalizer {
	attempts := cfg.FinalizeAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Finalizer{
		store:       store,
		notifier:    notifier,
		clock:       clock,
		attempts:    attempts,
		backoff:     cfg.FinalizeBackoff,
		stepTimeout: cfg.StoreTimeout,
	}
}

// Finalize runs the pipeline once for an ended session. Each step's failure is
// recorded independently; only a metadata lookup failure skips the later steps.
func (f *Finalizer) Finalize(ctx context.Context, o Outcome) FinalizeReport {
	var report FinalizeReport
	logger := log.With().Str("auction_id", o.AuctionID).Logger()

	// 1) Catalog metadata
	var lot *models.Lot
	err := f.retry(ctx, "find lot", func(ctx context.Context) error {
		var err error
		lot, err = f.store.FindLot(ctx, o.AuctionID)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrLotNotFound) {
			report.MetadataErr = fmt.Errorf("%w: %v", ErrNotFound, err)
		} else {
			report.MetadataErr = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		logger.Error().Err(report.MetadataErr).Msg("finalization aborted: could not resolve lot metadata")
		return report
	}

	// 2) Outcome onto the lot record
	err = f.retry(ctx, "set lot outcome", func(ctx context.Context) error {
		return f.store.SetLotOutcome(ctx, o.AuctionID, lot.LotNo, o.Winner, o.FinalBid)
	})
	if err != nil {
		report.OutcomeErr = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		logger.Error().Err(report.OutcomeErr).Msg("failed to persist lot outcome")
	} else {
		report.OutcomePersisted = true
		logger.Info().Int64("final_bid", o.FinalBid).Msg("saved lot outcome")
	}

	if o.Winner == nil {
		logger.Info().Msg("session ended without bids; skipping history and notification")
		return report
	}
	winner := *o.Winner

	// 3) Winner history
	entry := models.HistoryEntry{
		AuctionID:   o.AuctionID,
		Winner:      winner,
		FinalBid:    o.FinalBid,
		Product:     lot.Metadata(),
		AuctionDate: lot.AuctionDate,
		RecordedAt:  o.EndedAt,
	}
	if entry.AuctionDate == "" {
		entry.AuctionDate = o.EndedAt.UTC().Format(time.DateOnly)
	}
	err = f.retry(ctx, "append history", func(ctx context.Context) error {
		return f.store.AppendToHistory(ctx, winner, entry)
	})
	if err != nil {
		report.HistoryErr = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		logger.Error().Err(report.HistoryErr).Str("winner", winner).Msg("failed to append winner history")
	} else {
		report.HistoryAppended = true
		logger.Info().Str("winner", winner).Msg("updated winner history")
	}

	// 4) Notification, best-effort
	if f.notifier == nil {
		return report
	}
	notice := models.WinNotice{
		Recipient: winner,
		Template:  WinTemplate,
		AuctionID: o.AuctionID,
		Product:   lot.Metadata(),
		FinalBid:  o.FinalBid,
	}
	if err := f.notifier.NotifyWinner(ctx, notice); err != nil {
		report.NotifyErr = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		logger.Warn().Err(err).Str("winner", winner).Msg("failed to submit win notification")
	} else {
		report.Notified = true
	}

	return report
}

// retry runs fn up to f.attempts times. A missing lot or a conflicting outcome is not retried.
func (f *Finalizer) retry(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		err = f.runStep(ctx, fn)
		if err == nil || errors.Is(err, models.ErrLotNotFound) || errors.Is(err, models.ErrOutcomeConflict) {
			return err
		}
		if attempt == f.attempts {
			break
		}

		log.Warn().
			Err(err).
			Str("step", step).
			Int("attempt", attempt).
			Msg("finalization step failed, retrying")

		if f.backoff > 0 {
			select {
			case <-f.clock.After(f.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func (f *Finalizer) runStep(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.stepTimeout <= 0 {
		return fn(ctx)
	}
	stepCtx, cancel := context.WithTimeout(ctx, f.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}
