package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/go-co-op/gocron/v2"
)

// Auditor compares the capacity ledger with the reservations behind it.
type Auditor interface {
	AuditUpcoming(ctx context.Context, days int) ([]models.LedgerAudit, error)
}

// Reporter is told how each run went.
type Reporter interface {
	ObserveAudit(drifting int, err error)
}

// Sweeper periodically audits the ledger for upcoming dates. It only reports
// drift; it never rewrites committed totals.
type Sweeper struct {
	auditor   Auditor
	reporter  Reporter
	logger    *logger.Logger
	interval  time.Duration
	days      int
	timeout   time.Duration
	scheduler gocron.Scheduler
}

type Option func(*Sweeper)

func WithReporter(r Reporter) Option {
	return func(s *Sweeper) { s.reporter = r }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithTimeout bounds a single run. Default is half the interval.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.timeout = d }
}

func New(auditor Auditor, interval time.Duration, days int, opts ...Option) (*Sweeper, error) {
	if interval <= 0 {
		return nil, errors.New("sweeper: interval must be positive")
	}
	if days < 0 {
		return nil, errors.New("sweeper: days must not be negative")
	}
	s := &Sweeper{
		auditor:  auditor,
		interval: interval,
		days:     days,
		timeout:  interval / 2,
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules RunOnce every interval, first run immediately. Runs never
// overlap; a run still going when the next is due pushes it back.
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			_, _ = s.RunOnce(ctx)
		}),
		gocron.WithName("ledger-audit"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("schedule ledger audit: %w", err)
	}

	s.scheduler = scheduler
	scheduler.Start()
	s.logger.Info("SWEEPER", fmt.Sprintf("Ledger audit scheduled every %s for the next %d days", s.interval, s.days))
	return nil
}

// RunOnce audits once and returns the drifting keys.
func (s *Sweeper) RunOnce(ctx context.Context) ([]models.LedgerAudit, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	drifting, err := s.auditor.AuditUpcoming(ctx, s.days)
	if s.reporter != nil {
		s.reporter.ObserveAudit(len(drifting), err)
	}
	if err != nil {
		s.logger.Error("SWEEPER", fmt.Sprintf("Ledger audit failed: %v", err))
		return drifting, err
	}

	if len(drifting) == 0 {
		s.logger.Debug("SWEEPER", "Ledger audit clean")
		return nil, nil
	}
	for _, a := range drifting {
		s.logger.Warn("SWEEPER", fmt.Sprintf("Drift on %s: ledger %d, reservations %d", a.Key, a.Committed, a.Expected))
	}
	return drifting, nil
}

func (s *Sweeper) Shutdown() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}
