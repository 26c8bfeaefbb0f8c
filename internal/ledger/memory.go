package ledger

import (
	"context"
	"fmt"
	"sync"

	"ms-reservation/internal/models"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

type keyState struct {
	mu        sync.Mutex
	committed int
	tickets   map[string]Ticket
	guards    map[string]string
}

// Memory is a single-process ledger. Each key has its own mutex so unrelated
// keys never contend. Guard tokens are scoped to the key they are claimed on.
type Memory struct {
	keys  *xsync.MapOf[string, *keyState]
	newID func() string
}

func NewMemory() *Memory {
	return &Memory{
		keys:  xsync.NewMapOf[string, *keyState](),
		newID: uuid.NewString,
	}
}

func (m *Memory) state(key models.LedgerKey) *keyState {
	s, _ := m.keys.LoadOrCompute(key.String(), func() *keyState {
		return &keyState{
			tickets: make(map[string]Ticket),
			guards:  make(map[string]string),
		}
	})
	return s
}

func (m *Memory) Reserve(ctx context.Context, claim Claim) (Ticket, error) {
	if err := claim.Validate(); err != nil {
		return Ticket{}, err
	}
	if err := ctx.Err(); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := m.state(claim.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim.Guard != "" {
		if _, held := s.guards[claim.Guard]; held {
			return Ticket{}, ErrDuplicateHolder
		}
	}
	if s.committed+claim.Amount > claim.Limit {
		return Ticket{}, ErrCapacityExceeded
	}

	t := Ticket{ID: m.newID(), Key: claim.Key, Amount: claim.Amount, Guard: claim.Guard}
	s.committed += claim.Amount
	s.tickets[t.ID] = t
	if t.Guard != "" {
		s.guards[t.Guard] = t.ID
	}
	return t, nil
}

func (m *Memory) Release(_ context.Context, ticket Ticket) error {
	s, ok := m.keys.Load(ticket.Key.String())
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.tickets[ticket.ID]
	if !ok {
		return nil
	}
	delete(s.tickets, ticket.ID)
	s.committed -= held.Amount
	if held.Guard != "" && s.guards[held.Guard] == held.ID {
		delete(s.guards, held.Guard)
	}
	return nil
}

func (m *Memory) ReleaseGuard(_ context.Context, ticket Ticket) error {
	if ticket.Guard == "" {
		return nil
	}
	s, ok := m.keys.Load(ticket.Key.String())
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guards[ticket.Guard] == ticket.ID {
		delete(s.guards, ticket.Guard)
	}
	return nil
}

func (m *Memory) Committed(_ context.Context, key models.LedgerKey) (int, error) {
	s, ok := m.keys.Load(key.String())
	if !ok {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed, nil
}
