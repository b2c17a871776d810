package lots

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/mcdev12/primegavel/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Repository is the Postgres-backed lot catalog and winner history store.
type Repository struct {
	db          *sql.DB
	clock       clockwork.Clock
	auctionDate string
}

// Option configures a Repository
type Option func(*Repository)

// WithAuctionDate pins lookups to one auction day (YYYY-MM-DD) instead of today.
func WithAuctionDate(date string) Option {
	return func(r *Repository) { r.auctionDate = date }
}

// WithClock sets the clock used to derive today's auction date
func WithClock(c clockwork.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{
		db:    db,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AuctionDate returns the auction day lookups are scoped to.
func (r *Repository) AuctionDate() string {
	if r.auctionDate != "" {
		return r.auctionDate
	}
	return r.clock.Now().UTC().Format(time.DateOnly)
}

const lotColumns = `
	lot_no, to_char(auction_date, 'YYYY-MM-DD'), product_name, quantity, base_price,
	consignor_name, product_type, image, extra, winner, final_bid, created_at`

// FindLot returns the lot for auctionID on the current auction day.
func (r *Repository) FindLot(ctx context.Context, auctionID string) (*models.Lot, error) {
	lotNo, err := ParseLotKey(auctionID)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE auction_date = $1::date AND lot_no = $2`,
		r.AuctionDate(), lotNo,
	)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s on %s", models.ErrLotNotFound, auctionID, r.AuctionDate())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot %s: %w", auctionID, err)
	}
	return lot, nil
}

// SetLotOutcome records the winner and final bid on a lot. Reapplying the same
// outcome is a no-op; a different winner on an already decided lot is rejected.
func (r *Repository) SetLotOutcome(ctx context.Context, auctionID string, lotNo int, winner *string, finalBid int64) error {
	date := r.AuctionDate()
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT winner FROM lots WHERE auction_date = $1::date AND lot_no = $2 FOR UPDATE`,
			date, lotNo,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s on %s", models.ErrLotNotFound, auctionID, date)
		}
		if err != nil {
			return fmt.Errorf("failed to lock lot %s: %w", auctionID, err)
		}

		if current.Valid {
			if winner != nil && *winner == current.String {
				return nil
			}
			return fmt.Errorf("%w: %s won by %s", models.ErrOutcomeConflict, auctionID, current.String)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE lots
			SET winner = $1,
			    final_bid = $2,
			    updated_at = NOW()
			WHERE auction_date = $3::date AND lot_no = $4`,
			sqlutil.ToSqlString(winner), finalBid, date, lotNo,
		)
		if err != nil {
			return fmt.Errorf("failed to set outcome for lot %s: %w", auctionID, err)
		}
		return nil
	})
}

// AppendToHistory adds entry to identity's winnings. A retried append of the
// same auction is dropped by the primary key.
func (r *Repository) AppendToHistory(ctx context.Context, identity string, entry models.HistoryEntry) error {
	product, err := json.Marshal(entry.Product)
	if err != nil {
		return fmt.Errorf("failed to marshal product metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trader_history (winner, auction_id, auction_date, final_bid, product, recorded_at)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		ON CONFLICT (winner, auction_date, auction_id) DO NOTHING`,
		identity,
		entry.AuctionID,
		entry.AuctionDate,
		entry.FinalBid,
		pqtype.NullRawMessage{RawMessage: product, Valid: true},
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", identity, err)
	}
	return nil
}

// ListHistory returns identity's winnings, most recent first.
func (r *Repository) ListHistory(ctx context.Context, identity string) ([]models.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT auction_id, to_char(auction_date, 'YYYY-MM-DD'), final_bid, product, recorded_at
		FROM trader_history
		WHERE winner = $1
		ORDER BY recorded_at DESC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		e := models.HistoryEntry{Winner: identity}
		var product pqtype.NullRawMessage
		if err := rows.Scan(&e.AuctionID, &e.AuctionDate, &e.FinalBid, &product, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if raw := sqlutil.FromNullRawMessage(product); raw != nil {
			if err := json.Unmarshal(raw, &e.Product); err != nil {
				return nil, fmt.Errorf("failed to decode product metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListOpenLots returns the current day's lots that have no winner yet, ordered by lot number.
func (r *Repository) ListOpenLots(ctx context.Context) ([]*models.Lot, error) {
	return r.queryLots(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE auction_date = $1::date AND winner IS NULL ORDER BY lot_no`,
		r.AuctionDate(),
	)
}

// ListLots returns every lot of the current day, decided or not, ordered by lot number.
func (r *Repository) ListLots(ctx context.Context) ([]*models.Lot, error) {
	return r.queryLots(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE auction_date = $1::date ORDER BY lot_no`,
		r.AuctionDate(),
	)
}

func (r *Repository) queryLots(ctx context.Context, query string, args ...any) ([]*models.Lot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	lots := []*models.Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// InsertLot adds a lot to the catalog. Existing lots are left untouched;
// the return value reports whether a row was inserted.
func (r *Repository) InsertLot(ctx context.Context, lot *models.Lot) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO lots (auction_date, lot_no, product_name, quantity, base_price,
		                  consignor_name, product_type, image, extra)
		VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (auction_date, lot_no) DO NOTHING`,
		lot.AuctionDate, lot.LotNo, lot.ProductName, lot.Quantity, lot.BasePrice,
		lot.ConsignorName, lot.ProductType, nullIfEmpty(lot.Image), sqlutil.ToNullRawMessage(lot.Extra),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert lot %d: %w", lot.LotNo, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*models.Lot, error) {
	var (
		lot      models.Lot
		image    sql.NullString
		extra    pqtype.NullRawMessage
		winner   sql.NullString
		finalBid sql.NullInt64
	)
	err := row.Scan(
		&lot.LotNo,
		&lot.AuctionDate,
		&lot.ProductName,
		&lot.Quantity,
		&lot.BasePrice,
		&lot.ConsignorName,
		&lot.ProductType,
		&image,
		&extra,
		&winner,
		&finalBid,
		&lot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	lot.AuctionID = LotKey(lot.LotNo)
	lot.Image = sqlutil.FromSqlString(image, "")
	lot.Extra = sqlutil.FromNullRawMessage(extra)
	lot.Winner = sqlutil.FromSqlStringPtr(winner)
	lot.FinalBid = sqlutil.FromSqlInt64Ptr(finalBid)
	return &lot, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
