package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/primegavel/go/internal/dbconfig"
)

// Lot mirrors the catalog snapshot JSON
type Lot struct {
	LotNo         int             `json:"lot_no"`
	AuctionDate   string          `json:"auction_date"`
	ProductName   string          `json:"product_name"`
	Quantity      string          `json:"quantity"`
	BasePrice     int64           `json:"base_price"`
	ConsignorName string          `json:"consignor_name"`
	ProductType   string          `json:"product_type"`
	Image         *string         `json:"image"`
	Extra         json.RawMessage `json:"extra"`
}

func main() {
	path := os.Getenv("LOTS_SEED_FILE")
	if path == "" {
		path = "go/internal/assets/lots.json"
	}
	// Lots without a date are seeded for this day (UTC) so they show up in today's auction.
	defaultDate := os.Getenv("AUCTION_DATE")
	if defaultDate == "" {
		defaultDate = time.Now().UTC().Format(time.DateOnly)
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var lots []Lot
	if err := json.Unmarshal(data, &lots); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert and count; lots that already exist are left untouched
	var (
		total    = len(lots)
		inserted int
		skipped  int
		errs     int
	)

	for _, l := range lots {
		date := l.AuctionDate
		if date == "" {
			date = defaultDate
		}
		var extra []byte
		if len(l.Extra) > 0 && string(l.Extra) != "null" {
			extra = l.Extra
		}

		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO lots (
              auction_date, lot_no, product_name, quantity, base_price,
              consignor_name, product_type, image, extra
            ) VALUES (
              $1,$2,$3,$4,$5,$6,$7,$8,$9
            )
            ON CONFLICT (auction_date, lot_no) DO NOTHING
        `,
			date, l.LotNo, l.ProductName, l.Quantity, l.BasePrice,
			l.ConsignorName, l.ProductType, l.Image, extra,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting lot %d on %s: %v\n", l.LotNo, date, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Lots seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
