package lots

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS lots (
	auction_date   DATE NOT NULL,
	lot_no         INTEGER NOT NULL,
	product_name   TEXT NOT NULL,
	quantity       TEXT NOT NULL DEFAULT '',
	base_price     BIGINT NOT NULL DEFAULT 0,
	consignor_name TEXT NOT NULL DEFAULT '',
	product_type   TEXT NOT NULL DEFAULT '',
	image          TEXT,
	extra          JSONB,
	winner         TEXT,
	final_bid      BIGINT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (auction_date, lot_no)
);

CREATE TABLE IF NOT EXISTS trader_history (
	winner       TEXT NOT NULL,
	auction_id   TEXT NOT NULL,
	auction_date DATE NOT NULL,
	final_bid    BIGINT NOT NULL,
	product      JSONB NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (winner, auction_date, auction_id)
);

CREATE INDEX IF NOT EXISTS idx_lots_open ON lots(auction_date) WHERE winner IS NULL;
CREATE INDEX IF NOT EXISTS idx_trader_history_recorded ON trader_history(winner, recorded_at DESC);
`

// EnsureSchema creates the lots and trader_history tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
