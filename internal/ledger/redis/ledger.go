package redis

import (
	"context"
	"fmt"
	"strconv"

	"ms-reservation/internal/ledger"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// reserveScript checks the guard and the ceiling and increments in one step.
// Returns the new committed total, -1 when full, -2 when the guard is held.
var reserveScript = redis.NewScript(`
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if KEYS[3] and redis.call('EXISTS', KEYS[3]) == 1 then
  return -2
end
local committed = tonumber(redis.call('GET', KEYS[1]) or '0')
if committed + amount > limit then
  return -1
end
redis.call('INCRBY', KEYS[1], amount)
redis.call('HSET', KEYS[2], 'key', ARGV[3], 'amount', amount, 'guard', ARGV[4])
if KEYS[3] then
  redis.call('SET', KEYS[3], ARGV[5])
end
return committed + amount
`)

// releaseScript deletes the ticket and gives its stored amount back once.
var releaseScript = redis.NewScript(`
local amount = redis.call('HGET', KEYS[2], 'amount')
if not amount then
  return 0
end
redis.call('DEL', KEYS[2])
local left = redis.call('DECRBY', KEYS[1], tonumber(amount))
if left < 0 then
  redis.call('SET', KEYS[1], 0)
end
if KEYS[3] and redis.call('GET', KEYS[3]) == ARGV[1] then
  redis.call('DEL', KEYS[3])
end
return tonumber(amount)
`)

// releaseGuardScript drops the guard only while this ticket still owns it.
var releaseGuardScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

const (
	reservedResult  = 0
	exceededResult  = -1
	duplicateResult = -2
)

// Ledger keeps committed totals in Redis counters. Tickets live in hashes so a
// release is applied at most once. Ticket and guard keys never expire: a
// ticket that vanished could no longer give its amount back.
type Ledger struct {
	Client *redis.Client
	Logger *logger.Logger
	newID  func() string
}

type Option func(*Ledger)

func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.Logger = log }
}

func NewLedger(client *redis.Client, opts ...Option) *Ledger {
	l := &Ledger{
		Client: client,
		Logger: logger.NewNopLogger(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func counterKey(key models.LedgerKey) string {
	return "capacity:" + key.String() + ":committed"
}

func ticketKey(id string) string {
	return "capacity_ticket:" + id
}

func guardKey(guard string) string {
	return "capacity_guard:" + guard
}

func (l *Ledger) Reserve(ctx context.Context, claim ledger.Claim) (ledger.Ticket, error) {
	if err := claim.Validate(); err != nil {
		return ledger.Ticket{}, err
	}

	id := l.newID()
	keys := []string{counterKey(claim.Key), ticketKey(id)}
	if claim.Guard != "" {
		keys = append(keys, guardKey(claim.Guard))
	}

	res, err := reserveScript.Run(ctx, l.Client, keys,
		claim.Amount, claim.Limit, claim.Key.String(), claim.Guard, id,
	).Int64()
	if err != nil {
		l.Logger.LogLedger("RESERVE", claim.Key.String(), fmt.Sprintf("redis error: %v", err))
		return ledger.Ticket{}, fmt.Errorf("%w: reserve %s: %v", ledger.ErrUnavailable, claim.Key, err)
	}

	switch {
	case res == duplicateResult:
		return ledger.Ticket{}, ledger.ErrDuplicateHolder
	case res == exceededResult:
		return ledger.Ticket{}, ledger.ErrCapacityExceeded
	case res <= reservedResult:
		return ledger.Ticket{}, fmt.Errorf("%w: unexpected reserve result %d", ledger.ErrUnavailable, res)
	}

	l.Logger.LogLedger("RESERVE", claim.Key.String(), fmt.Sprintf("ticket %s took %d, committed %d/%d", id, claim.Amount, res, claim.Limit))
	return ledger.Ticket{ID: id, Key: claim.Key, Amount: claim.Amount, Guard: claim.Guard}, nil
}

func (l *Ledger) Release(ctx context.Context, ticket ledger.Ticket) error {
	keys := []string{counterKey(ticket.Key), ticketKey(ticket.ID)}
	if ticket.Guard != "" {
		keys = append(keys, guardKey(ticket.Guard))
	}

	released, err := releaseScript.Run(ctx, l.Client, keys, ticket.ID).Int64()
	if err != nil {
		l.Logger.LogLedger("RELEASE", ticket.Key.String(), fmt.Sprintf("redis error: %v", err))
		return fmt.Errorf("%w: release %s: %v", ledger.ErrUnavailable, ticket.ID, err)
	}
	if released > 0 {
		l.Logger.LogLedger("RELEASE", ticket.Key.String(), fmt.Sprintf("ticket %s returned %d", ticket.ID, released))
	}
	return nil
}

func (l *Ledger) ReleaseGuard(ctx context.Context, ticket ledger.Ticket) error {
	if ticket.Guard == "" {
		return nil
	}
	dropped, err := releaseGuardScript.Run(ctx, l.Client, []string{guardKey(ticket.Guard)}, ticket.ID).Int64()
	if err != nil {
		l.Logger.LogLedger("RELEASE_GUARD", ticket.Key.String(), fmt.Sprintf("redis error: %v", err))
		return fmt.Errorf("%w: release guard of %s: %v", ledger.ErrUnavailable, ticket.ID, err)
	}
	if dropped > 0 {
		l.Logger.LogLedger("RELEASE_GUARD", ticket.Key.String(), fmt.Sprintf("ticket %s dropped its guard", ticket.ID))
	}
	return nil
}

func (l *Ledger) Committed(ctx context.Context, key models.LedgerKey) (int, error) {
	val, err := l.Client.Get(ctx, counterKey(key)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ledger.ErrUnavailable, key, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter %s: %v", ledger.ErrUnavailable, key, err)
	}
	return n, nil
}
