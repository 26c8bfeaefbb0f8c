package reservation_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/idgen"
	"ms-reservation/internal/ledger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/rules"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore keeps rows in a map. WithTx only rolls back when commitErr is set:
// fn runs, then the commit fails and the rows written by fn are discarded.
type memStore struct {
	mu        sync.Mutex
	rows      map[uint64]models.Reservation
	createErr error
	readErr   error
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uint64]models.Reservation)}
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	snapshot := make(map[uint64]models.Reservation, len(m.rows))
	for id, r := range m.rows {
		snapshot[id] = r
	}
	commitErr := m.commitErr
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		return err
	}
	if commitErr != nil {
		m.mu.Lock()
		m.rows = snapshot
		m.mu.Unlock()
		return fmt.Errorf("commit: %w", commitErr)
	}
	return nil
}

func (m *memStore) CreateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memStore) GetReservation(_ context.Context, id uint64) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	r, ok := m.rows[id]
	if !ok || r.Deleted {
		return nil, models.ErrReservationNotFound
	}
	return &r, nil
}

func (m *memStore) UpdateStatus(_ context.Context, r *models.Reservation, from models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok || cur.Deleted || cur.Status != from {
		return models.ErrStaleStatus
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memStore) SoftDelete(_ context.Context, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Deleted {
		return models.ErrReservationNotFound
	}
	r.Deleted = true
	r.UpdateTime = at
	m.rows[id] = r
	return nil
}

func active(r models.Reservation) bool {
	return !r.Deleted && !r.Status.Terminal()
}

func holding(r models.Reservation) bool {
	return !r.Deleted && r.Status.HoldsCapacity()
}

func (m *memStore) FindActiveByApplicant(_ context.Context, applicantID, date string, kind models.BookingKind) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []models.Reservation
	for _, r := range m.rows {
		if active(r) && r.ApplicantID == applicantID && r.VisitDate == date && r.BookingKind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SumActivePartySize(_ context.Context, key models.LedgerKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, r := range m.rows {
		if !holding(r) || r.VisitDate != key.Date || r.BookingKind != key.Kind || r.ActivityID != key.ActivityID {
			continue
		}
		if key.Slot != "" && (r.TimeSlot != key.Slot || r.SlotTicketID == "") {
			continue
		}
		total += r.PartySize
	}
	return total, nil
}

func (m *memStore) ListActiveKeys(_ context.Context, from, to string) ([]models.LedgerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[models.LedgerKey]bool{}
	var keys []models.LedgerKey
	for _, r := range m.rows {
		if !holding(r) || r.VisitDate < from || r.VisitDate > to {
			continue
		}
		k := r.LedgerKey()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ruleStore serves rule JSON for the accessor.
type ruleStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (s *ruleStore) GetValue(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *ruleStore) put(t *testing.T, key string, rule models.CapacityRule) {
	t.Helper()
	raw, err := json.Marshal(rule)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = string(raw)
}

type gateStub struct {
	closed   map[string]bool
	override map[string]int
	err      error
}

func (g *gateStub) IsOpen(_ context.Context, date string) (bool, *int, error) {
	if g.err != nil {
		return false, nil, g.err
	}
	if g.closed[date] {
		return false, nil, nil
	}
	if v, ok := g.override[date]; ok {
		return true, &v, nil
	}
	return true, nil, nil
}

// failingLedger reports the backing service as down.
type failingLedger struct{}

func (failingLedger) Reserve(context.Context, ledger.Claim) (ledger.Ticket, error) {
	return ledger.Ticket{}, ledger.ErrUnavailable
}
func (failingLedger) Release(context.Context, ledger.Ticket) error { return ledger.ErrUnavailable }
func (failingLedger) ReleaseGuard(context.Context, ledger.Ticket) error {
	return ledger.ErrUnavailable
}
func (failingLedger) Committed(context.Context, models.LedgerKey) (int, error) {
	return 0, ledger.ErrUnavailable
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ReservationEvent
	err    error
}

func (p *recordingPublisher) PublishReservationEvent(_ context.Context, e models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) ObserveAdmission(kind, outcome string, elapsed time.Duration) {
	m.Called(kind, outcome, elapsed)
}

func (m *mockMetrics) ObserveTransition(action, outcome string) {
	m.Called(action, outcome)
}

// now is 2024-09-30 14:00 UTC, so a 10:00 visit on 2024-10-01 is 20 hours away.
var now = time.Date(2024, 9, 30, 14, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *reservation.Service
	store     *memStore
	ledger    *ledger.Memory
	rules     *ruleStore
	gate      *gateStub
	publisher *recordingPublisher
}

func defaultRules() map[string]models.CapacityRule {
	return map[string]models.CapacityRule{
		rules.KindKey(models.BookingIndividual): {BookingKind: models.BookingIndividual, DailyLimit: 100, CancelWindowHours: 24, MaxPartySize: 5, AdvanceDays: 30},
		rules.KindKey(models.BookingTeam):       {BookingKind: models.BookingTeam, DailyLimit: 50, CancelWindowHours: 48},
		rules.KindKey(models.BookingActivity):   {BookingKind: models.BookingActivity, DailyLimit: 500, PerActivityLimit: 10, PerSlotLimit: 4, CancelWindowHours: 24},
	}
}

func newFixture(t *testing.T, opts ...reservation.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		ledger:    ledger.NewMemory(),
		rules:     &ruleStore{values: map[string]string{}},
		gate:      &gateStub{closed: map[string]bool{}, override: map[string]int{}},
		publisher: &recordingPublisher{},
	}
	for key, rule := range defaultRules() {
		f.rules.put(t, key, rule)
	}

	ids, err := idgen.New(1)
	require.NoError(t, err)

	base := []reservation.Option{
		reservation.WithClock(clock.NewFixed(now)),
		reservation.WithEvents(f.publisher),
	}
	f.svc = reservation.NewService(f.store, f.ledger, rules.NewAccessor(f.rules), f.gate, ids, append(base, opts...)...)
	return f
}

func individual(applicant, date string, size int) models.ReservationRequest {
	return models.ReservationRequest{
		ApplicantID: applicant,
		BookingKind: models.BookingIndividual,
		Date:        date,
		PartySize:   size,
	}
}

func (f *fixture) committed(t *testing.T, key models.LedgerKey) int {
	t.Helper()
	n, err := f.ledger.Committed(context.Background(), key)
	require.NoError(t, err)
	return n
}

var (
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	operator = models.Actor{ID: "gate-7", Role: models.RoleOperator}
)

func user(id string) models.Actor {
	return models.Actor{ID: id, Role: models.RoleUser}
}
