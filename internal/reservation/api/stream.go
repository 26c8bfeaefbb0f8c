package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/utils"
)

// EventStream hands out live lifecycle events, see sse.Broadcaster.
type EventStream interface {
	Subscribe(ctx context.Context, date string) <-chan models.ReservationEvent
}

// StreamEvents streams lifecycle events as server-sent events to gate staff.
// The optional date query narrows the stream to one visit date.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleOperator {
		h.write(w, http.StatusForbidden, utils.CodedErrorResponse(string(reservation.KindForbidden), "Stream unavailable", "staff only", nil))
		return
	}
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid date", date))
			return
		}
	}
	rc := http.NewResponseController(w)
	// streams outlive the server's write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.Stream.Subscribe(ctx, date)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"date\":%q}\n\n", date)
	if err := rc.Flush(); err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Streaming unsupported: %v", err))
		return
	}
	h.Logger.Info("SSE", fmt.Sprintf("%s subscribed to reservation events (date %q)", actor.ID, date))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize reservation event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("%s left the reservation event stream", actor.ID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
