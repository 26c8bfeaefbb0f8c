package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/idgen"
	"ms-reservation/internal/ledger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var individualKey = models.LedgerKey{Date: "2024-10-01", Kind: models.BookingIndividual}

func TestAdmit_CreatesPendingReservation(t *testing.T) {
	f := newFixture(t)

	r, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 3))
	require.NoError(t, err)

	assert.NotZero(t, r.ID)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Regexp(t, `^I20241001-[0-9A-Z]+$`, r.ReservationNo)
	assert.NotEmpty(t, r.TicketID)
	assert.Equal(t, 3, f.committed(t, individualKey))
	assert.Equal(t, 1, f.store.count())

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.EventReservationCreated, f.publisher.events[0].Type)
	assert.Equal(t, r.ID, f.publisher.events[0].ReservationID)
}

func TestAdmit_AutoApprove(t *testing.T) {
	f := newFixture(t)
	rule := defaultRules()[rules.KindKey(models.BookingIndividual)]
	rule.AutoApprove = true
	f.rules.put(t, rules.KindKey(models.BookingIndividual), rule)

	r, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, r.Status)
}

func TestAdmit_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  models.ReservationRequest
	}{
		{"missing applicant", individual("", "2024-10-01", 1)},
		{"zero party", individual("u1", "2024-10-01", 0)},
		{"bad date", individual("u1", "01/10/2024", 1)},
		{"past date", individual("u1", "2024-09-29", 1)},
		{"party above rule maximum", individual("u1", "2024-10-01", 6)},
		{"beyond advance days", individual("u1", "2024-11-15", 1)},
		{"unknown kind", models.ReservationRequest{ApplicantID: "u1", BookingKind: "VIP", Date: "2024-10-01", PartySize: 1}},
		{"team without name", models.ReservationRequest{ApplicantID: "u1", BookingKind: models.BookingTeam, Date: "2024-10-01", PartySize: 8}},
		{"activity without id", models.ReservationRequest{ApplicantID: "u1", BookingKind: models.BookingActivity, Date: "2024-10-01", PartySize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Admit(context.Background(), tt.req)
			assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
			assert.Equal(t, 0, f.store.count())
		})
	}
}

func TestAdmit_SameDayIsAllowed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-09-30", 1))
	assert.NoError(t, err)
}

func TestAdmit_ClosedDate(t *testing.T) {
	f := newFixture(t)
	f.gate.closed["2024-10-01"] = true

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
	assert.ErrorIs(t, err, reservation.ErrClosedDate)
	assert.Equal(t, 0, f.committed(t, individualKey))
}

func TestAdmit_CalendarOverrideReplacesDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.gate.override["2024-10-01"] = 2

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 2))
	require.NoError(t, err)
	_, err = f.svc.Admit(context.Background(), individual("u2", "2024-10-01", 1))
	assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
}

func TestAdmit_FailsClosed(t *testing.T) {
	t.Run("rule store down", func(t *testing.T) {
		f := newFixture(t)
		f.rules.err = errors.New("dial tcp: connection refused")
		_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
		assert.ErrorIs(t, err, reservation.ErrServiceUnavailable)
	})
	t.Run("rule missing", func(t *testing.T) {
		f := newFixture(t)
		delete(f.rules.values, rules.KindKey(models.BookingTeam))
		_, err := f.svc.Admit(context.Background(), models.ReservationRequest{
			ApplicantID: "u1", TeamName: "Hikers", BookingKind: models.BookingTeam, Date: "2024-10-01", PartySize: 5,
		})
		assert.ErrorIs(t, err, reservation.ErrServiceUnavailable)
	})
	t.Run("calendar down", func(t *testing.T) {
		f := newFixture(t)
		f.gate.err = errors.New("timeout")
		_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
		assert.ErrorIs(t, err, reservation.ErrServiceUnavailable)
	})
	t.Run("ledger down", func(t *testing.T) {
		f := newFixture(t)
		ids, err := idgen.New(2)
		require.NoError(t, err)
		svc := reservation.NewService(f.store, failingLedger{}, rules.NewAccessor(f.rules), f.gate, ids,
			reservation.WithClock(clock.NewFixed(now)))

		_, err = svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
		assert.ErrorIs(t, err, reservation.ErrServiceUnavailable)
		assert.Equal(t, 0, f.store.count())
	})
}

func TestAdmit_PersistenceFailureReleasesTicket(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("disk full")

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 4))
	assert.ErrorIs(t, err, reservation.ErrPersistence)
	assert.Equal(t, 0, f.committed(t, individualKey))

	// the guard went back with the ticket
	f.store.createErr = nil
	_, err = f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 4))
	assert.NoError(t, err)
	assert.Len(t, f.publisher.events, 1)
}

func TestAdmit_CommitFailureReleasesTicket(t *testing.T) {
	f := newFixture(t)
	f.store.commitErr = errors.New("connection reset")

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 4))
	assert.ErrorIs(t, err, reservation.ErrPersistence)
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 0, f.committed(t, individualKey))
	assert.Empty(t, f.publisher.events)
}

func TestAdmit_LastUnitRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 99; i++ {
		r, err := f.svc.Admit(ctx, individual(fmt.Sprintf("early-%d", i), "2024-10-01", 1))
		require.NoError(t, err)
		_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Admit(ctx, individual(fmt.Sprintf("late-%d", i), "2024-10-01", 1))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 100, f.committed(t, individualKey))
}

func TestAdmit_NoOverbookingUnderLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const callers, limit = 150, 100

	var admitted, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Admit(ctx, individual(fmt.Sprintf("u%d", i), "2024-10-01", 1))
			if err == nil {
				atomic.AddInt64(&admitted, 1)
				return
			}
			if assert.ErrorIs(t, err, reservation.ErrCapacityExceeded) {
				atomic.AddInt64(&rejected, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, limit, admitted)
	assert.EqualValues(t, callers-limit, rejected)
	assert.Equal(t, limit, f.committed(t, individualKey))
	assert.Equal(t, limit, f.store.count())
}

func TestAdmit_Duplicates(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
		require.NoError(t, err)
		_, err = f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 2))
		assert.ErrorIs(t, err, reservation.ErrDuplicateReservation)
		assert.Equal(t, 1, f.committed(t, individualKey))
	})

	t.Run("concurrent same applicant", func(t *testing.T) {
		f := newFixture(t)
		var wg sync.WaitGroup
		var ok, dup int64
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
				if err == nil {
					atomic.AddInt64(&ok, 1)
				} else if assert.ErrorIs(t, err, reservation.ErrDuplicateReservation) {
					atomic.AddInt64(&dup, 1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, ok)
		assert.EqualValues(t, 19, dup)
		assert.Equal(t, 1, f.committed(t, individualKey))
	})

	t.Run("other date is fine", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
		require.NoError(t, err)
		_, err = f.svc.Admit(context.Background(), individual("u1", "2024-10-02", 1))
		assert.NoError(t, err)
	})

	t.Run("cancelled booking frees the applicant", func(t *testing.T) {
		f := newFixture(t)
		r, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-05", 1))
		require.NoError(t, err)
		_, err = f.svc.Transition(context.Background(), reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: user("u1")})
		require.NoError(t, err)
		_, err = f.svc.Admit(context.Background(), individual("u1", "2024-10-05", 1))
		assert.NoError(t, err)
	})

	t.Run("teams are not deduplicated", func(t *testing.T) {
		f := newFixture(t)
		team := models.ReservationRequest{ApplicantID: "u1", TeamName: "Birders", BookingKind: models.BookingTeam, Date: "2024-10-01", PartySize: 10}
		_, err := f.svc.Admit(context.Background(), team)
		require.NoError(t, err)
		_, err = f.svc.Admit(context.Background(), team)
		assert.NoError(t, err)
	})
}

func TestAdmit_DuplicateScopeDateSlot(t *testing.T) {
	f := newFixture(t, reservation.WithDuplicateScope(reservation.ScopeDateSlot))
	morning := individual("u1", "2024-10-01", 1)
	morning.TimeSlot = "09:00-11:00"
	afternoon := morning
	afternoon.TimeSlot = "14:00-16:00"

	_, err := f.svc.Admit(context.Background(), morning)
	require.NoError(t, err)
	_, err = f.svc.Admit(context.Background(), afternoon)
	require.NoError(t, err)
	_, err = f.svc.Admit(context.Background(), morning)
	assert.ErrorIs(t, err, reservation.ErrDuplicateReservation)
}

func TestAdmit_ActivityAndSlotLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	signup := func(applicant string, size int, slot string) (*models.Reservation, error) {
		return f.svc.Admit(ctx, models.ReservationRequest{
			ApplicantID: applicant, BookingKind: models.BookingActivity, ActivityID: "kayak",
			Date: "2024-10-01", PartySize: size, TimeSlot: slot,
		})
	}
	activityKey := models.LedgerKey{Date: "2024-10-01", Kind: models.BookingActivity, ActivityID: "kayak"}
	slotKey := activityKey
	slotKey.Slot = "09:00"

	_, err := signup("a", 3, "09:00")
	require.NoError(t, err)

	// slot allows 4, activity still has room: the slot claim fails and the
	// activity ticket is handed back
	_, err = signup("b", 2, "09:00")
	assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
	assert.Equal(t, 3, f.committed(t, activityKey))
	assert.Equal(t, 3, f.committed(t, slotKey))

	_, err = signup("c", 4, "10:00")
	require.NoError(t, err)
	_, err = signup("d", 3, "")
	require.NoError(t, err)
	_, err = signup("e", 1, "")
	assert.ErrorIs(t, err, reservation.ErrCapacityExceeded)
	assert.Equal(t, 10, f.committed(t, activityKey))

	status, err := f.svc.QueryCapacity(ctx, "2024-10-01", models.BookingActivity, "kayak")
	require.NoError(t, err)
	assert.Equal(t, models.CapacityStatus{Key: activityKey, Open: true, Committed: 10, Limit: 10, Remaining: 0}, status)
}

func TestTransition_Review(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)
	confirmed, err := f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, 2, f.committed(t, individualKey))

	r2, err := f.svc.Admit(ctx, individual("u2", "2024-10-01", 3))
	require.NoError(t, err)
	rejected, err := f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r2.ID, Action: models.ActionReject, Actor: admin, Reason: "incomplete details"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "incomplete details", rejected.CancelReason)
	assert.Equal(t, 2, f.committed(t, individualKey))

	last := f.publisher.events[len(f.publisher.events)-1]
	assert.Equal(t, models.EventReservationUpdated, last.Type)
	assert.Equal(t, models.StatusRejected, last.Status)
}

func TestTransition_CancelWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := individual("u1", "2024-10-01", 2)
	req.TimeSlot = "10:00"
	r, err := f.svc.Admit(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: user("u1")})
	require.ErrorIs(t, err, reservation.ErrCancellationWindowClosed)
	var rerr *reservation.Error
	require.True(t, errors.As(err, &rerr))
	require.NotNil(t, rerr.Deadline)
	assert.Equal(t, time.Date(2024, 9, 30, 10, 0, 0, 0, time.UTC), *rerr.Deadline)
	assert.Equal(t, 2, f.committed(t, individualKey))

	got, err := f.svc.Get(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	cancelled, err := f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: admin, Reason: "weather"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, f.committed(t, individualKey))
}

func TestTransition_UserCancelBeforeWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-03", 2))
	require.NoError(t, err)

	cancelled, err := f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: user("u1"), Reason: "plans changed"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, f.committed(t, models.LedgerKey{Date: "2024-10-03", Kind: models.BookingIndividual}))
}

func TestTransition_VerifyKeepsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)

	done, err := f.svc.Transition(ctx, reservation.TransitionRequest{
		ReservationID: r.ID,
		Action:        models.ActionVerify,
		Actor:         operator,
		Verification:  &models.Verification{Location: "North gate", Device: "scanner-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, "gate-7", done.VerifiedBy)
	assert.Equal(t, "North gate", done.VerifyLocation)
	require.NotNil(t, done.VerifiedAt)
	assert.Equal(t, now, *done.VerifiedAt)
	assert.Equal(t, 2, f.committed(t, individualKey))
}

func TestTransition_CompletedVisitAllowsNewBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionVerify, Actor: operator})
	require.NoError(t, err)

	again, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.Equal(t, 3, f.committed(t, individualKey))

	audit, err := f.svc.Audit(ctx, individualKey)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerAudit{Key: individualKey, Committed: 3, Expected: 3}, audit)

	// the new booking is live, so a third one is still a duplicate
	_, err = f.svc.Admit(ctx, individual("u1", "2024-10-01", 1))
	assert.ErrorIs(t, err, reservation.ErrDuplicateReservation)
}

func TestTransition_CommitFailureKeepsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 4))
	require.NoError(t, err)

	f.store.commitErr = errors.New("connection reset")
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: admin})
	assert.ErrorIs(t, err, reservation.ErrPersistence)
	assert.ErrorIs(t, f.svc.Remove(ctx, r.ID, admin), reservation.ErrPersistence)

	got, err := f.svc.Get(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 4, f.committed(t, individualKey))
	assert.Len(t, f.publisher.events, 1)

	f.store.commitErr = nil
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionCancel, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, 0, f.committed(t, individualKey))
}

func TestTransition_IllegalEdgesChangeNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)

	// VERIFY needs CONFIRMED
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionVerify, Actor: admin})
	assert.ErrorIs(t, err, reservation.ErrInvalidStateTransition)

	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionVerify, Actor: admin})
	require.NoError(t, err)

	for _, action := range []models.Action{models.ActionApprove, models.ActionReject, models.ActionCancel, models.ActionVerify} {
		_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: action, Actor: admin})
		assert.ErrorIs(t, err, reservation.ErrInvalidStateTransition, "action %s", action)
	}

	got, err := f.svc.Get(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 2, f.committed(t, individualKey))
}

func TestTransition_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-03", 1))
	require.NoError(t, err)

	tests := []struct {
		name   string
		action models.Action
		actor  models.Actor
	}{
		{"user approves", models.ActionApprove, user("u1")},
		{"operator rejects", models.ActionReject, operator},
		{"user cancels someone else's", models.ActionCancel, user("u2")},
		{"operator cancels", models.ActionCancel, operator},
		{"user verifies", models.ActionVerify, user("u1")},
		{"anonymous", models.ActionCancel, models.Actor{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: tt.action, Actor: tt.actor})
			assert.ErrorIs(t, err, reservation.ErrForbidden)
		})
	}

	got, err := f.svc.Get(ctx, r.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, f.committed(t, models.LedgerKey{Date: "2024-10-03", Kind: models.BookingIndividual}))
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Transition(context.Background(), reservation.TransitionRequest{ReservationID: 42, Action: models.ActionApprove, Actor: admin})
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestGet_UserSeesOnlyOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 1))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, r.ID, user("u1"))
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, r.ID, user("u2"))
	assert.ErrorIs(t, err, reservation.ErrForbidden)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Remove(ctx, r.ID, user("u1")), reservation.ErrForbidden)

	require.NoError(t, f.svc.Remove(ctx, r.ID, admin))
	assert.Equal(t, 0, f.committed(t, individualKey))
	_, err = f.svc.Get(ctx, r.ID, admin)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, r.ID, admin), reservation.ErrNotFound)
}

func TestRemove_CompletedVisitReleasesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 3))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionVerify, Actor: admin})
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(ctx, r.ID, admin))
	assert.Equal(t, 0, f.committed(t, individualKey))

	drifting, err := f.svc.AuditUpcoming(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, drifting)
}

func TestQueryCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 4))
	require.NoError(t, err)

	status, err := f.svc.QueryCapacity(ctx, "2024-10-01", models.BookingIndividual, "ignored")
	require.NoError(t, err)
	assert.Equal(t, models.CapacityStatus{Key: individualKey, Open: true, Committed: 4, Limit: 100, Remaining: 96}, status)

	f.gate.closed["2024-10-02"] = true
	status, err = f.svc.QueryCapacity(ctx, "2024-10-02", models.BookingIndividual, "")
	require.NoError(t, err)
	assert.False(t, status.Open)
	assert.Equal(t, 0, status.Remaining)

	_, err = f.svc.QueryCapacity(ctx, "tomorrow", models.BookingIndividual, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
	_, err = f.svc.QueryCapacity(ctx, "2024-10-01", models.BookingActivity, "")
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
}

// Ledger committed must always equal the party size of reservations that hold
// capacity, completed visits included.
func TestLedgerConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	dates := []string{"2024-10-03", "2024-10-04"}

	var live []*models.Reservation
	for step := 0; step < 300; step++ {
		switch op := rng.Intn(4); {
		case op == 0 || len(live) == 0:
			r, err := f.svc.Admit(ctx, individual(fmt.Sprintf("u%d", rng.Intn(40)), dates[rng.Intn(len(dates))], 1+rng.Intn(5)))
			if err == nil {
				live = append(live, r)
			}
		default:
			i := rng.Intn(len(live))
			actions := []models.Action{models.ActionApprove, models.ActionReject, models.ActionCancel, models.ActionVerify}
			_, _ = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: live[i].ID, Action: actions[rng.Intn(len(actions))], Actor: admin})
		}

		for _, date := range dates {
			key := models.LedgerKey{Date: date, Kind: models.BookingIndividual}
			audit, err := f.svc.Audit(ctx, key)
			require.NoError(t, err)
			require.Zero(t, audit.Drift, "step %d key %s", step, key)
		}
	}
}

func TestAuditUpcoming_ReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 2))
	require.NoError(t, err)
	_, err = f.svc.Admit(ctx, individual("u2", "2024-10-02", 2))
	require.NoError(t, err)

	drifting, err := f.svc.AuditUpcoming(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, drifting)

	// capacity taken outside any reservation
	_, err = f.ledger.Reserve(ctx, ledger.Claim{Key: individualKey, Amount: 3, Limit: 100})
	require.NoError(t, err)

	drifting, err = f.svc.AuditUpcoming(ctx, 7)
	require.NoError(t, err)
	require.Len(t, drifting, 1)
	assert.Equal(t, models.LedgerAudit{Key: individualKey, Committed: 5, Expected: 2, Drift: 3}, drifting[0])
}

func TestPublishFailureDoesNotFailAdmission(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
	assert.NoError(t, err)
}

func TestEveryPublisherReceivesEvents(t *testing.T) {
	second := &recordingPublisher{}
	f := newFixture(t, reservation.WithEvents(second))
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Admit(context.Background(), individual("u1", "2024-10-01", 1))
	require.NoError(t, err)
	assert.Len(t, f.publisher.events, 1)
	assert.Len(t, second.events, 1)
}

func TestMetricsAreObserved(t *testing.T) {
	m := &mockMetrics{}
	m.On("ObserveAdmission", "INDIVIDUAL", "ok", mock.AnythingOfType("time.Duration")).Once()
	m.On("ObserveAdmission", "INDIVIDUAL", "duplicate_reservation", mock.AnythingOfType("time.Duration")).Once()
	m.On("ObserveTransition", "APPROVE", "ok").Once()

	f := newFixture(t, reservation.WithMetrics(m))
	ctx := context.Background()
	r, err := f.svc.Admit(ctx, individual("u1", "2024-10-01", 1))
	require.NoError(t, err)
	_, err = f.svc.Admit(ctx, individual("u1", "2024-10-01", 1))
	require.Error(t, err)
	_, err = f.svc.Transition(ctx, reservation.TransitionRequest{ReservationID: r.ID, Action: models.ActionApprove, Actor: admin})
	require.NoError(t, err)

	m.AssertExpectations(t)
}

func TestNextStatus(t *testing.T) {
	legal := map[models.Status]map[models.Action]models.Status{
		models.StatusPending:   {models.ActionApprove: models.StatusConfirmed, models.ActionReject: models.StatusRejected, models.ActionCancel: models.StatusCancelled},
		models.StatusConfirmed: {models.ActionCancel: models.StatusCancelled, models.ActionVerify: models.StatusCompleted},
	}
	statuses := []models.Status{models.StatusPending, models.StatusConfirmed, models.StatusRejected, models.StatusCancelled, models.StatusCompleted}
	actions := []models.Action{models.ActionApprove, models.ActionReject, models.ActionCancel, models.ActionVerify}

	for _, from := range statuses {
		for _, action := range actions {
			to, ok := reservation.NextStatus(from, action)
			want, legalEdge := legal[from][action]
			assert.Equal(t, legalEdge, ok, "%s --%s-->", from, action)
			assert.Equal(t, want, to, "%s --%s-->", from, action)
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	override := 30
	assert.Equal(t, 100, reservation.EffectiveLimit(models.BookingIndividual, models.CapacityRule{DailyLimit: 100}, nil))
	assert.Equal(t, 30, reservation.EffectiveLimit(models.BookingIndividual, models.CapacityRule{DailyLimit: 100}, &override))
	assert.Equal(t, 12, reservation.EffectiveLimit(models.BookingActivity, models.CapacityRule{DailyLimit: 100, PerActivityLimit: 12}, &override))
	assert.Equal(t, 30, reservation.EffectiveLimit(models.BookingActivity, models.CapacityRule{DailyLimit: 100}, &override))
	// the request's kind decides, whatever the rule blob says about itself
	assert.Equal(t, 12, reservation.EffectiveLimit(models.BookingActivity, models.CapacityRule{BookingKind: models.BookingTeam, DailyLimit: 100, PerActivityLimit: 12}, nil))
	assert.Equal(t, 100, reservation.EffectiveLimit(models.BookingIndividual, models.CapacityRule{BookingKind: models.BookingActivity, DailyLimit: 100, PerActivityLimit: 12}, nil))
}

func TestReservationNumber(t *testing.T) {
	day := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "T20241001-ZZ", reservation.ReservationNumber(models.BookingTeam, day, 36*36-1))
	assert.Equal(t, "A20241001-A", reservation.ReservationNumber(models.BookingActivity, day, 10))
}

func TestParseDuplicateScope(t *testing.T) {
	scope, err := reservation.ParseDuplicateScope("DATE_SLOT")
	require.NoError(t, err)
	assert.Equal(t, reservation.ScopeDateSlot, scope)

	scope, err = reservation.ParseDuplicateScope("")
	require.NoError(t, err)
	assert.Equal(t, reservation.ScopeDate, scope)

	_, err = reservation.ParseDuplicateScope("week")
	assert.Error(t, err)
}
