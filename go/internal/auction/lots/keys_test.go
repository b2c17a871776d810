package lots

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLotKey(t *testing.T) {
	tests := []struct {
		id      string
		want    int
		wantErr bool
	}{
		{id: "lot-1", want: 1},
		{id: "lot-42", want: 42},
		{id: "lot-", wantErr: true},
		{id: "lot-0", wantErr: true},
		{id: "lot--3", wantErr: true},
		{id: "lot-abc", wantErr: true},
		{id: "42", wantErr: true},
		{id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := ParseLotKey(tt.id)
			if tt.wantErr {
				require.ErrorIs(t, err, models.ErrLotNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.id, LotKey(got))
		})
	}
}

func TestRepository_AuctionDate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)))

	r := NewRepository(nil, WithClock(clock))
	assert.Equal(t, "2026-10-19", r.AuctionDate())

	clock.Advance(time.Hour)
	assert.Equal(t, "2026-10-19", r.AuctionDate(), "dates are UTC")

	pinned := NewRepository(nil, WithClock(clock), WithAuctionDate("2026-01-05"))
	assert.Equal(t, "2026-01-05", pinned.AuctionDate())
}
