// Package ledgertest holds the behaviour every CapacityLedger backend must share.
package ledgertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"ms-reservation/internal/ledger"
	"ms-reservation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Key returns an INDIVIDUAL key for date.
func Key(date string) models.LedgerKey {
	return models.LedgerKey{Date: date, Kind: models.BookingIndividual}
}

// Run exercises newLedger against the reserve/release contract. newLedger is
// called once per subtest and must return an empty ledger.
func Run(t *testing.T, newLedger func(t *testing.T) ledger.CapacityLedger) {
	t.Helper()
	ctx := context.Background()

	t.Run("reserve increments committed", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-01")

		ticket, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 3, Limit: 10})
		require.NoError(t, err)
		assert.NotEmpty(t, ticket.ID)
		assert.Equal(t, 3, ticket.Amount)
		assert.Equal(t, key, ticket.Key)

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, committed)
	})

	t.Run("reserve up to the limit then reject without mutation", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-02")

		_, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 7, Limit: 10})
		require.NoError(t, err)
		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 3, Limit: 10})
		require.NoError(t, err)

		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10})
		assert.ErrorIs(t, err, ledger.ErrCapacityExceeded)

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 10, committed)
	})

	t.Run("zero limit admits nothing", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Reserve(ctx, ledger.Claim{Key: Key("2024-10-03"), Amount: 1, Limit: 0})
		assert.ErrorIs(t, err, ledger.ErrCapacityExceeded)
	})

	t.Run("invalid claim", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Reserve(ctx, ledger.Claim{Key: Key("2024-10-03"), Amount: 0, Limit: 5})
		assert.ErrorIs(t, err, ledger.ErrInvalidClaim)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-04")

		keep, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 2, Limit: 10})
		require.NoError(t, err)
		drop, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 5, Limit: 10})
		require.NoError(t, err)

		require.NoError(t, l.Release(ctx, drop))
		require.NoError(t, l.Release(ctx, drop))

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, keep.Amount, committed)
	})

	t.Run("release of unknown ticket is a no-op", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-05")
		_, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 4, Limit: 10})
		require.NoError(t, err)

		require.NoError(t, l.Release(ctx, ledger.Ticket{ID: "missing", Key: key, Amount: 4}))

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 4, committed)
	})

	t.Run("guard blocks a second holder until released", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-06")
		guard := "applicant-1|2024-10-06|INDIVIDUAL"

		first, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10, Guard: guard})
		require.NoError(t, err)

		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10, Guard: guard})
		assert.ErrorIs(t, err, ledger.ErrDuplicateHolder)

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, committed)

		require.NoError(t, l.Release(ctx, first))
		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10, Guard: guard})
		assert.NoError(t, err)
	})

	t.Run("release guard frees the guard and keeps the amount", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-10")
		guard := "applicant-3|2024-10-10|INDIVIDUAL"

		first, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 3, Limit: 10, Guard: guard})
		require.NoError(t, err)
		require.NoError(t, l.ReleaseGuard(ctx, first))
		require.NoError(t, l.ReleaseGuard(ctx, first))

		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 3, committed)

		second, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 2, Limit: 10, Guard: guard})
		require.NoError(t, err)

		// a late guard release of the first ticket leaves the new holder alone
		require.NoError(t, l.ReleaseGuard(ctx, first))
		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10, Guard: guard})
		assert.ErrorIs(t, err, ledger.ErrDuplicateHolder)

		// releasing the first ticket still gives its amount back exactly once
		require.NoError(t, l.Release(ctx, first))
		require.NoError(t, l.Release(ctx, first))
		committed, err = l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, second.Amount, committed)

		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: 10, Guard: guard})
		assert.ErrorIs(t, err, ledger.ErrDuplicateHolder)
	})

	t.Run("failed capacity check does not take the guard", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-07")
		guard := "applicant-2|2024-10-07|INDIVIDUAL"

		_, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 5, Limit: 4, Guard: guard})
		require.ErrorIs(t, err, ledger.ErrCapacityExceeded)

		_, err = l.Reserve(ctx, ledger.Claim{Key: key, Amount: 4, Limit: 4, Guard: guard})
		assert.NoError(t, err)
	})

	t.Run("keys are independent", func(t *testing.T) {
		l := newLedger(t)
		a := Key("2024-10-08")
		b := models.LedgerKey{Date: "2024-10-08", Kind: models.BookingActivity, ActivityID: "kayak"}

		_, err := l.Reserve(ctx, ledger.Claim{Key: a, Amount: 1, Limit: 1})
		require.NoError(t, err)
		_, err = l.Reserve(ctx, ledger.Claim{Key: b, Amount: 1, Limit: 1})
		require.NoError(t, err)

		ca, _ := l.Committed(ctx, a)
		cb, _ := l.Committed(ctx, b)
		assert.Equal(t, 1, ca)
		assert.Equal(t, 1, cb)
	})

	t.Run("concurrent reserves never pass the limit", func(t *testing.T) {
		l := newLedger(t)
		key := Key("2024-10-09")
		const limit, callers = 25, 60

		var admitted, exceeded int64
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Reserve(ctx, ledger.Claim{Key: key, Amount: 1, Limit: limit})
				switch {
				case err == nil:
					atomic.AddInt64(&admitted, 1)
				case assert.ErrorIs(t, err, ledger.ErrCapacityExceeded):
					atomic.AddInt64(&exceeded, 1)
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, limit, admitted)
		assert.EqualValues(t, callers-limit, exceeded)
		committed, err := l.Committed(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, limit, committed)
	})
}
