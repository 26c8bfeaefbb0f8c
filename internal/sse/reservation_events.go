package sse

import (
	"context"
	"sync"

	"ms-reservation/internal/models"
)

// clientBuffer is how many events a slow client may fall behind before
// events to it are dropped.
const clientBuffer = 16

// Broadcaster fans reservation lifecycle events out to live stream clients,
// either for one visit date or for every date.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string][]chan models.ReservationEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string][]chan models.ReservationEvent)}
}

// Subscribe returns a channel receiving events for date, or for every date
// when date is empty. The channel is closed once ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, date string) <-chan models.ReservationEvent {
	ch := make(chan models.ReservationEvent, clientBuffer)

	b.mu.Lock()
	b.clients[date] = append(b.clients[date], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(date, ch)
	}()
	return ch
}

// PublishReservationEvent never blocks and never fails; a client whose
// buffer is full misses the event.
func (b *Broadcaster) PublishReservationEvent(_ context.Context, event models.ReservationEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, date := range []string{event.VisitDate, ""} {
		for _, ch := range b.clients[date] {
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

func (b *Broadcaster) remove(date string, ch chan models.ReservationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[date]
	for i, c := range clients {
		if c == ch {
			b.clients[date] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.clients[date]) == 0 {
		delete(b.clients, date)
	}
}

// ClientCount returns the number of clients subscribed to date.
func (b *Broadcaster) ClientCount(date string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[date])
}
