package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ms-reservation/internal/calendar"
	"ms-reservation/internal/clock"
	"ms-reservation/internal/ledger"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/rules"

	"github.com/go-playground/validator/v10"
)

// Store persists reservation rows. WithTx must make every call made with the
// inner context, ledger calls included when they share the database, one unit.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id uint64) (*models.Reservation, error)
	UpdateStatus(ctx context.Context, r *models.Reservation, from models.Status) error
	SoftDelete(ctx context.Context, id uint64, at time.Time) error
	FindActiveByApplicant(ctx context.Context, applicantID, date string, kind models.BookingKind) ([]models.Reservation, error)
	SumActivePartySize(ctx context.Context, key models.LedgerKey) (int, error)
	ListActiveKeys(ctx context.Context, from, to string) ([]models.LedgerKey, error)
}

type RuleSource interface {
	RuleFor(ctx context.Context, kind models.BookingKind, activityID string) (models.CapacityRule, error)
}

type CalendarGate interface {
	IsOpen(ctx context.Context, date string) (bool, *int, error)
}

type IDGenerator interface {
	NextID() (uint64, error)
}

// EventPublisher receives lifecycle events after the change is committed.
type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event models.ReservationEvent) error
}

type Metrics interface {
	ObserveAdmission(kind, outcome string, elapsed time.Duration)
	ObserveTransition(action, outcome string)
}

// DuplicateScope decides which bookings of one applicant count as duplicates.
type DuplicateScope string

const (
	// ScopeDate allows one live INDIVIDUAL booking per applicant and date.
	ScopeDate DuplicateScope = "date"
	// ScopeDateSlot allows one per applicant, date and time slot.
	ScopeDateSlot DuplicateScope = "date_slot"
)

func ParseDuplicateScope(s string) (DuplicateScope, error) {
	switch DuplicateScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeDate, "":
		return ScopeDate, nil
	case ScopeDateSlot:
		return ScopeDateSlot, nil
	}
	return "", fmt.Errorf("unknown duplicate scope %q", s)
}

// Service is the admission controller and lifecycle state machine.
type Service struct {
	store    Store
	ledger   ledger.CapacityLedger
	rules    RuleSource
	calendar CalendarGate
	ids      IDGenerator

	clock    clock.Clock
	loc      *time.Location
	scope    DuplicateScope
	events   []EventPublisher
	metrics  Metrics
	logger   *logger.Logger
	validate *validator.Validate
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the park's time zone used for visit dates and cancel windows.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithDuplicateScope(scope DuplicateScope) Option {
	return func(s *Service) { s.scope = scope }
}

// WithEvents adds publishers; each one receives every event.
func WithEvents(ps ...EventPublisher) Option {
	return func(s *Service) {
		for _, p := range ps {
			if p != nil {
				s.events = append(s.events, p)
			}
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store Store, l ledger.CapacityLedger, rs RuleSource, gate CalendarGate, ids IDGenerator, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   l,
		rules:    rs,
		calendar: gate,
		ids:      ids,
		clock:    clock.NewSystem(),
		loc:      time.UTC,
		scope:    ScopeDate,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewNopLogger()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// ---------------- ADMISSION ----------------

// Admit accepts req if the date is open, capacity remains and the applicant
// holds no conflicting booking. The ledger claim and the new row commit
// together; on any failure every ticket taken is released.
func (s *Service) Admit(ctx context.Context, req models.ReservationRequest) (*models.Reservation, error) {
	start := time.Now()
	r, err := s.admit(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveAdmission(string(req.BookingKind), outcome(err), time.Since(start))
	}
	return r, err
}

func (s *Service) admit(ctx context.Context, req models.ReservationRequest) (*models.Reservation, error) {
	req = normalize(req)
	if err := s.validate.Struct(req); err != nil {
		return nil, newError(KindInvalidRequest, nil, "%s", describeValidation(err))
	}

	now := s.clock.Now().In(s.loc)
	visitDay, err := time.ParseInLocation(models.DateLayout, req.Date, s.loc)
	if err != nil {
		return nil, newError(KindInvalidRequest, err, "invalid date %q", req.Date)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if visitDay.Before(today) {
		return nil, newError(KindInvalidRequest, nil, "date %s is in the past", req.Date)
	}

	rule, err := s.rules.RuleFor(ctx, req.BookingKind, req.ActivityID)
	if err != nil {
		s.logger.Error("ADMIT", fmt.Sprintf("rule lookup for %s failed: %v", req.BookingKind, err))
		return nil, newError(KindServiceUnavailable, err, "capacity rule for %s unavailable", req.BookingKind)
	}
	if rule.MaxPartySize > 0 && req.PartySize > rule.MaxPartySize {
		return nil, newError(KindInvalidRequest, nil, "party size %d exceeds the maximum of %d", req.PartySize, rule.MaxPartySize)
	}
	if rule.AdvanceDays > 0 && visitDay.After(today.AddDate(0, 0, rule.AdvanceDays)) {
		return nil, newError(KindInvalidRequest, nil, "date %s is more than %d days ahead", req.Date, rule.AdvanceDays)
	}

	open, override, err := s.calendar.IsOpen(ctx, req.Date)
	if err != nil {
		s.logger.Error("ADMIT", fmt.Sprintf("calendar lookup for %s failed: %v", req.Date, err))
		return nil, newError(KindServiceUnavailable, err, "calendar unavailable")
	}
	if !open {
		return nil, newError(KindClosedDate, nil, "%s is not open for booking", req.Date)
	}

	guard := ""
	if req.BookingKind == models.BookingIndividual {
		// The guard inside the ledger claim is what closes the race; this read
		// only answers the common case without taking capacity.
		held, err := s.store.FindActiveByApplicant(ctx, req.ApplicantID, req.Date, req.BookingKind)
		if err != nil {
			return nil, newError(KindServiceUnavailable, err, "duplicate check failed")
		}
		for _, h := range held {
			if s.scope == ScopeDate || h.TimeSlot == req.TimeSlot {
				return nil, newError(KindDuplicateReservation, nil, "applicant already holds %s for %s", h.ReservationNo, req.Date)
			}
		}
		guard = s.guardToken(req)
	}

	r := &models.Reservation{
		ApplicantID:    req.ApplicantID,
		ApplicantName:  req.ApplicantName,
		ApplicantPhone: req.ApplicantPhone,
		TeamName:       req.TeamName,
		BookingKind:    req.BookingKind,
		VisitDate:      req.Date,
		TimeSlot:       req.TimeSlot,
		PartySize:      req.PartySize,
		Status:         models.StatusPending,
		GuardToken:     guard,
		CreateTime:     now.UTC(),
		UpdateTime:     now.UTC(),
	}
	if req.BookingKind == models.BookingActivity {
		r.ActivityID = req.ActivityID
	}
	if rule.AutoApprove {
		r.Status = models.StatusConfirmed
	}

	limit := EffectiveLimit(req.BookingKind, rule, override)
	var tickets []ledger.Ticket
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.ledger.Reserve(ctx, ledger.Claim{Key: r.LedgerKey(), Amount: r.PartySize, Limit: limit, Guard: guard})
		if err != nil {
			return fromLedger(err, r.LedgerKey())
		}
		tickets = append(tickets, t)
		r.TicketID = t.ID

		if rule.PerSlotLimit > 0 && r.TimeSlot != "" {
			st, err := s.ledger.Reserve(ctx, ledger.Claim{Key: r.SlotLedgerKey(), Amount: r.PartySize, Limit: rule.PerSlotLimit})
			if err != nil {
				return fromLedger(err, r.SlotLedgerKey())
			}
			tickets = append(tickets, st)
			r.SlotTicketID = st.ID
		}

		id, err := s.ids.NextID()
		if err != nil {
			return newError(KindServiceUnavailable, err, "could not issue reservation id")
		}
		r.ID = id
		r.ReservationNo = ReservationNumber(r.BookingKind, visitDay, id)

		if err := s.store.CreateReservation(ctx, r); err != nil {
			return newError(KindPersistenceError, err, "could not store reservation")
		}
		return nil
	})
	if err != nil {
		s.releaseAll(context.WithoutCancel(ctx), tickets)
		var e *Error
		if !errors.As(err, &e) {
			e = newError(KindPersistenceError, err, "could not commit reservation")
		}
		if e.Kind != KindCapacityExceeded && e.Kind != KindDuplicateReservation {
			s.logger.Error("ADMIT", fmt.Sprintf("admission for %s on %s failed: %v", req.ApplicantID, req.Date, err))
		}
		return nil, e
	}

	s.logger.LogReservation("ADMITTED", r.ReservationNo, fmt.Sprintf("%s party of %d on %s (%s), limit %d", r.BookingKind, r.PartySize, r.VisitDate, r.Status, limit))
	s.publish(ctx, models.EventReservationCreated, *r)
	return r, nil
}

// EffectiveLimit is the ceiling for a claim of kind under rule on a day with
// the given calendar override. For ACTIVITY a per-activity limit wins over both.
func EffectiveLimit(kind models.BookingKind, rule models.CapacityRule, override *int) int {
	if kind == models.BookingActivity && rule.PerActivityLimit > 0 {
		return rule.PerActivityLimit
	}
	if override != nil {
		return *override
	}
	return rule.DailyLimit
}

// ReservationNumber renders <kind letter><yyyyMMdd>-<id in base 36>.
func ReservationNumber(kind models.BookingKind, visitDay time.Time, id uint64) string {
	return kind.Letter() + visitDay.Format("20060102") + "-" + strings.ToUpper(strconv.FormatUint(id, 36))
}

func (s *Service) guardToken(req models.ReservationRequest) string {
	parts := []string{req.ApplicantID, req.Date, string(req.BookingKind)}
	if s.scope == ScopeDateSlot {
		parts = append(parts, req.TimeSlot)
	}
	return strings.Join(parts, "|")
}

func normalize(req models.ReservationRequest) models.ReservationRequest {
	req.ApplicantID = strings.TrimSpace(req.ApplicantID)
	req.ApplicantName = strings.TrimSpace(req.ApplicantName)
	req.ApplicantPhone = strings.TrimSpace(req.ApplicantPhone)
	req.TeamName = strings.TrimSpace(req.TeamName)
	req.BookingKind = models.BookingKind(strings.ToUpper(strings.TrimSpace(string(req.BookingKind))))
	req.Date = strings.TrimSpace(req.Date)
	req.ActivityID = strings.TrimSpace(req.ActivityID)
	req.TimeSlot = strings.TrimSpace(req.TimeSlot)
	return req
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func fromLedger(err error, key models.LedgerKey) *Error {
	switch {
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return newError(KindCapacityExceeded, err, "no capacity left on %s", key)
	case errors.Is(err, ledger.ErrDuplicateHolder):
		return newError(KindDuplicateReservation, err, "applicant already holds a booking on %s", key.Date)
	case errors.Is(err, ledger.ErrInvalidClaim):
		return newError(KindInvalidRequest, err, "invalid capacity claim")
	default:
		return newError(KindServiceUnavailable, err, "capacity ledger unavailable")
	}
}

// releaseAll gives tickets back after a failed unit. Tickets taken inside a
// rolled-back SQL transaction no longer exist, so releasing them is a no-op.
func (s *Service) releaseAll(ctx context.Context, tickets []ledger.Ticket) {
	for _, t := range tickets {
		if err := s.ledger.Release(ctx, t); err != nil {
			s.logger.LogLedger("COMPENSATE", t.Key.String(), fmt.Sprintf("release of ticket %s failed: %v", t.ID, err))
		}
	}
}

// ---------------- LIFECYCLE ----------------

type TransitionRequest struct {
	ReservationID uint64
	Action        models.Action
	Actor         models.Actor
	// Reason is recorded on REJECT and CANCEL.
	Reason       string
	Verification *models.Verification
}

// Transition applies one lifecycle action. Illegal edges and unauthorized
// actors fail before anything is written. Entering REJECTED or CANCELLED
// releases the reservation's capacity once the status change has committed;
// entering COMPLETED releases only its duplicate guard.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*models.Reservation, error) {
	r, err := s.transition(ctx, req)
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(req.Action), outcome(err))
	}
	return r, err
}

func (s *Service) transition(ctx context.Context, req TransitionRequest) (*models.Reservation, error) {
	r, err := s.load(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}

	if !authorize(req.Actor, req.Action, r) {
		return nil, newError(KindForbidden, nil, "%s %q may not %s reservation %s", req.Actor.Role, req.Actor.ID, req.Action, r.ReservationNo)
	}

	from := r.Status
	to, ok := NextStatus(from, req.Action)
	if !ok {
		return nil, newError(KindInvalidStateTransition, nil, "cannot %s a %s reservation", req.Action, from)
	}

	now := s.clock.Now()
	if req.Action == models.ActionCancel && req.Actor.Role != models.RoleAdmin {
		if err := s.checkCancelWindow(ctx, r, now); err != nil {
			return nil, err
		}
	}

	r.Status = to
	r.UpdateTime = now.UTC()
	switch req.Action {
	case models.ActionReject, models.ActionCancel:
		r.CancelReason = req.Reason
	case models.ActionVerify:
		verifiedAt := now.UTC()
		r.VerifiedBy = req.Actor.ID
		r.VerifiedAt = &verifiedAt
		if req.Verification != nil {
			r.VerifyLocation = req.Verification.Location
			r.VerifyDevice = req.Verification.Device
			r.VerifyRemark = req.Verification.Remark
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateStatus(ctx, r, from); err != nil {
			if errors.Is(err, models.ErrStaleStatus) {
				return newError(KindInvalidStateTransition, err, "reservation %s changed concurrently", r.ReservationNo)
			}
			return newError(KindPersistenceError, err, "could not update reservation")
		}
		return nil
	})
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(KindPersistenceError, err, "could not commit transition")
		}
		s.logger.Warn("TRANSITION", fmt.Sprintf("%s on %s failed: %v", req.Action, r.ReservationNo, err))
		return nil, e
	}

	switch {
	case releasesCapacity(to):
		s.releaseHeld(ctx, r)
	case to == models.StatusCompleted:
		s.releaseGuard(ctx, r)
	}

	s.logger.LogReservation(string(req.Action), r.ReservationNo, fmt.Sprintf("%s -> %s by %s %s", from, to, req.Actor.Role, req.Actor.ID))
	s.publish(ctx, models.EventReservationUpdated, *r)
	return r, nil
}

// CancelDeadline is the last instant a user may cancel r under rule.
func CancelDeadline(r *models.Reservation, rule models.CapacityRule, loc *time.Location) (time.Time, error) {
	visit, err := models.VisitStart(r.VisitDate, r.TimeSlot, loc)
	if err != nil {
		return time.Time{}, err
	}
	return visit.Add(-rule.CancelWindow()), nil
}

func (s *Service) checkCancelWindow(ctx context.Context, r *models.Reservation, now time.Time) error {
	rule, err := s.rules.RuleFor(ctx, r.BookingKind, r.ActivityID)
	if err != nil {
		return newError(KindServiceUnavailable, err, "capacity rule for %s unavailable", r.BookingKind)
	}
	deadline, err := CancelDeadline(r, rule, s.loc)
	if err != nil {
		return newError(KindPersistenceError, err, "stored visit date %q is invalid", r.VisitDate)
	}
	if !now.Before(deadline) {
		return &Error{
			Kind:     KindCancellationWindowClosed,
			Message:  fmt.Sprintf("cancellation closed at %s", deadline.Format(time.RFC3339)),
			Deadline: &deadline,
		}
	}
	return nil
}

func heldTickets(r *models.Reservation) []ledger.Ticket {
	tickets := []ledger.Ticket{{ID: r.TicketID, Key: r.LedgerKey(), Amount: r.PartySize, Guard: r.GuardToken}}
	if r.SlotTicketID != "" {
		tickets = append(tickets, ledger.Ticket{ID: r.SlotTicketID, Key: r.SlotLedgerKey(), Amount: r.PartySize})
	}
	return tickets
}

// releaseHeld gives r's capacity back after its row has left the holding
// statuses. The row is already committed, so a failed release only leaves
// capacity pinned until the audit reports the drift.
func (s *Service) releaseHeld(ctx context.Context, r *models.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range heldTickets(r) {
		if err := s.ledger.Release(ctx, t); err != nil {
			s.logger.LogLedger("RELEASE", t.Key.String(), fmt.Sprintf("ticket %s of %s not released: %v", t.ID, r.ReservationNo, err))
		}
	}
}

// releaseGuard frees r's duplicate guard and keeps its capacity committed.
func (s *Service) releaseGuard(ctx context.Context, r *models.Reservation) {
	if r.GuardToken == "" {
		return
	}
	t := heldTickets(r)[0]
	if err := s.ledger.ReleaseGuard(context.WithoutCancel(ctx), t); err != nil {
		s.logger.LogLedger("RELEASE_GUARD", t.Key.String(), fmt.Sprintf("guard of %s not released: %v", r.ReservationNo, err))
	}
}

// ---------------- READS AND ADMIN ----------------

func (s *Service) load(ctx context.Context, id uint64) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if errors.Is(err, models.ErrReservationNotFound) {
		return nil, newError(KindNotFound, err, "reservation %d", id)
	}
	if err != nil {
		return nil, newError(KindServiceUnavailable, err, "could not load reservation %d", id)
	}
	return r, nil
}

// Get returns a reservation. Users only see their own.
func (s *Service) Get(ctx context.Context, id uint64, actor models.Actor) (*models.Reservation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleUser && actor.ID != r.ApplicantID {
		return nil, newError(KindForbidden, nil, "reservation %d belongs to another applicant", id)
	}
	return r, nil
}

// Remove soft-deletes a reservation. A reservation still holding capacity
// gives it back after the delete commits so the hidden row cannot pin the ledger.
func (s *Service) Remove(ctx context.Context, id uint64, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return newError(KindForbidden, nil, "only administrators remove reservations")
	}
	r, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.SoftDelete(ctx, id, s.clock.Now().UTC()); err != nil {
			if errors.Is(err, models.ErrReservationNotFound) {
				return newError(KindNotFound, err, "reservation %d", id)
			}
			return newError(KindPersistenceError, err, "could not delete reservation %d", id)
		}
		return nil
	})
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			e = newError(KindPersistenceError, err, "could not commit removal")
		}
		return e
	}
	if r.Status.HoldsCapacity() {
		s.releaseHeld(ctx, r)
	}
	s.logger.LogReservation("REMOVED", r.ReservationNo, fmt.Sprintf("soft-deleted by %s in status %s", actor.ID, r.Status))
	return nil
}

// QueryCapacity reports committed, limit and remaining for one key.
func (s *Service) QueryCapacity(ctx context.Context, date string, kind models.BookingKind, activityID string) (models.CapacityStatus, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return models.CapacityStatus{}, newError(KindInvalidRequest, err, "invalid date %q", date)
	}
	if !kind.Valid() {
		return models.CapacityStatus{}, newError(KindInvalidRequest, nil, "unknown booking kind %q", kind)
	}
	if kind == models.BookingActivity && activityID == "" {
		return models.CapacityStatus{}, newError(KindInvalidRequest, nil, "activity id is required for ACTIVITY")
	}
	if kind != models.BookingActivity {
		activityID = ""
	}

	rule, err := s.rules.RuleFor(ctx, kind, activityID)
	if err != nil {
		return models.CapacityStatus{}, newError(KindServiceUnavailable, err, "capacity rule for %s unavailable", kind)
	}
	open, override, err := s.calendar.IsOpen(ctx, date)
	if err != nil {
		return models.CapacityStatus{}, newError(KindServiceUnavailable, err, "calendar unavailable")
	}

	key := models.LedgerKey{Date: date, Kind: kind, ActivityID: activityID}
	committed, err := s.ledger.Committed(ctx, key)
	if err != nil {
		return models.CapacityStatus{}, newError(KindServiceUnavailable, err, "capacity ledger unavailable")
	}

	status := models.CapacityStatus{
		Key:       key,
		Open:      open,
		Committed: committed,
		Limit:     EffectiveLimit(kind, rule, override),
	}
	if open && status.Limit > committed {
		status.Remaining = status.Limit - committed
	}
	return status, nil
}

// Audit compares the ledger's committed total for key with the party sizes of
// the live reservations behind it.
func (s *Service) Audit(ctx context.Context, key models.LedgerKey) (models.LedgerAudit, error) {
	committed, err := s.ledger.Committed(ctx, key)
	if err != nil {
		return models.LedgerAudit{}, newError(KindServiceUnavailable, err, "capacity ledger unavailable")
	}
	expected, err := s.store.SumActivePartySize(ctx, key)
	if err != nil {
		return models.LedgerAudit{}, newError(KindServiceUnavailable, err, "could not sum reservations for %s", key)
	}
	return models.LedgerAudit{Key: key, Committed: committed, Expected: expected, Drift: committed - expected}, nil
}

// AuditUpcoming audits every key held by live reservations from today for
// the next days days and returns only the drifting ones.
func (s *Service) AuditUpcoming(ctx context.Context, days int) ([]models.LedgerAudit, error) {
	now := s.clock.Now().In(s.loc)
	from := now.Format(models.DateLayout)
	to := now.AddDate(0, 0, days).Format(models.DateLayout)

	keys, err := s.store.ListActiveKeys(ctx, from, to)
	if err != nil {
		return nil, newError(KindServiceUnavailable, err, "could not list ledger keys")
	}

	var drifting []models.LedgerAudit
	for _, key := range keys {
		audit, err := s.Audit(ctx, key)
		if err != nil {
			return drifting, err
		}
		if audit.Drift != 0 {
			s.logger.LogLedger("AUDIT", key.String(), fmt.Sprintf("committed %d, reservations hold %d, drift %d", audit.Committed, audit.Expected, audit.Drift))
			drifting = append(drifting, audit)
		}
	}
	return drifting, nil
}

func (s *Service) publish(ctx context.Context, t models.ReservationEventType, r models.Reservation) {
	if len(s.events) == 0 {
		return
	}
	event := models.NewReservationEvent(t, r, s.clock.Now().UTC())
	ctx = context.WithoutCancel(ctx)
	for _, p := range s.events {
		if err := p.PublishReservationEvent(ctx, event); err != nil {
			s.logger.Warn("EVENTS", fmt.Sprintf("publish %s for %s failed: %v", t, r.ReservationNo, err))
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}

// ensure the concrete collaborators satisfy the service's interfaces
var (
	_ RuleSource   = (*rules.Accessor)(nil)
	_ CalendarGate = (*calendar.Gate)(nil)
)
