package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ms-reservation/internal/auth"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/qr"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Engine is the part of reservation.Service the HTTP layer drives.
type Engine interface {
	Admit(ctx context.Context, req models.ReservationRequest) (*models.Reservation, error)
	Transition(ctx context.Context, req reservation.TransitionRequest) (*models.Reservation, error)
	Get(ctx context.Context, id uint64, actor models.Actor) (*models.Reservation, error)
	Remove(ctx context.Context, id uint64, actor models.Actor) error
	QueryCapacity(ctx context.Context, date string, kind models.BookingKind, activityID string) (models.CapacityStatus, error)
}

// EntryCodes renders and reads gate entry codes.
type EntryCodes interface {
	PNG(r *models.Reservation) ([]byte, error)
	Decode(token string) (qr.Payload, error)
}

type Handler struct {
	Engine Engine
	Codes  EntryCodes
	// Stream is optional; without it the event stream route is not mounted.
	Stream EventStream
	Logger *logger.Logger
}

func NewHandler(engine Engine, codes EntryCodes, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{Engine: engine, Codes: codes, Logger: log}
}

// Routes mounts the reservation endpoints on r. Every route expects an actor
// in the request context, see auth.Middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/reservations", func(r chi.Router) {
		r.Post("/", h.CreateReservation)
		r.Post("/verify", h.VerifyEntryCode)
		if h.Stream != nil {
			r.Get("/events", h.StreamEvents)
		}
		r.Get("/{reservationId}", h.GetReservation)
		r.Delete("/{reservationId}", h.DeleteReservation)
		r.Post("/{reservationId}/transitions", h.TransitionReservation)
		r.Get("/{reservationId}/qr", h.GetEntryCode)
	})
	r.Get("/api/capacity", h.GetCapacity)
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req models.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateReservation: failed to decode request body: %v", err))
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	// users book for themselves; staff may book on behalf of an applicant
	if actor.Role == models.RoleUser || req.ApplicantID == "" {
		req.ApplicantID = actor.ID
	}

	res, err := h.Engine.Admit(r.Context(), req)
	if err != nil {
		h.fail(w, "CreateReservation", "Admission rejected", err)
		return
	}
	h.write(w, http.StatusCreated, utils.SuccessResponse("Reservation created", res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	res, err := h.Engine.Get(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "GetReservation", "Reservation unavailable", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Reservation found", res))
}

type transitionBody struct {
	Action       models.Action        `json:"action"`
	Reason       string               `json:"reason"`
	Verification *models.Verification `json:"verification,omitempty"`
}

func (h *Handler) TransitionReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	res, err := h.Engine.Transition(r.Context(), reservation.TransitionRequest{
		ReservationID: id,
		Action:        body.Action,
		Actor:         actor,
		Reason:        body.Reason,
		Verification:  body.Verification,
	})
	if err != nil {
		h.fail(w, "TransitionReservation", "Transition rejected", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Reservation updated", res))
}

func (h *Handler) DeleteReservation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	if err := h.Engine.Remove(r.Context(), id, actor); err != nil {
		h.fail(w, "DeleteReservation", "Removal rejected", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetEntryCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	res, err := h.Engine.Get(r.Context(), id, actor)
	if err != nil {
		h.fail(w, "GetEntryCode", "Reservation unavailable", err)
		return
	}
	if res.Status != models.StatusConfirmed {
		h.write(w, http.StatusConflict, utils.CodedErrorResponse(string(reservation.KindInvalidStateTransition),
			"Entry code unavailable", fmt.Sprintf("reservation is %s, entry codes are issued for CONFIRMED reservations", res.Status), nil))
		return
	}

	img, err := h.Codes.PNG(res)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEntryCode: render failed for %s: %v", res.ReservationNo, err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Entry code unavailable", "could not render entry code"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

type verifyBody struct {
	Token    string `json:"token"`
	Location string `json:"location"`
	Device   string `json:"device"`
	Remark   string `json:"remark"`
}

// VerifyEntryCode completes the reservation behind a scanned entry code.
func (h *Handler) VerifyEntryCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	payload, err := h.Codes.Decode(body.Token)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("VerifyEntryCode: rejected code from %s: %v", actor.ID, err))
		h.write(w, http.StatusBadRequest, utils.CodedErrorResponse(string(reservation.KindInvalidRequest), "Entry code rejected", err.Error(), nil))
		return
	}

	res, err := h.Engine.Transition(r.Context(), reservation.TransitionRequest{
		ReservationID: payload.ReservationID,
		Action:        models.ActionVerify,
		Actor:         actor,
		Verification:  &models.Verification{Location: body.Location, Device: body.Device, Remark: body.Remark},
	})
	if err != nil {
		h.fail(w, "VerifyEntryCode", "Verification rejected", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Entry verified", res))
}

func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleOperator {
		h.write(w, http.StatusForbidden, utils.CodedErrorResponse(string(reservation.KindForbidden), "Capacity unavailable", "staff only", nil))
		return
	}

	q := r.URL.Query()
	status, err := h.Engine.QueryCapacity(r.Context(), q.Get("date"), models.BookingKind(q.Get("kind")), q.Get("activity_id"))
	if err != nil {
		h.fail(w, "GetCapacity", "Capacity unavailable", err)
		return
	}
	h.write(w, http.StatusOK, utils.SuccessResponse("Capacity", status))
}

// ---------------- HELPERS ----------------

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.write(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "no actor on request"))
	}
	return actor, ok
}

func (h *Handler) reservationID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "reservationId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid reservation id", raw))
		return 0, false
	}
	return id, true
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind reservation.ErrorKind) int {
	switch kind {
	case reservation.KindInvalidRequest:
		return http.StatusBadRequest
	case reservation.KindForbidden:
		return http.StatusForbidden
	case reservation.KindNotFound:
		return http.StatusNotFound
	case reservation.KindDuplicateReservation, reservation.KindCapacityExceeded, reservation.KindInvalidStateTransition:
		return http.StatusConflict
	case reservation.KindClosedDate, reservation.KindCancellationWindowClosed:
		return http.StatusUnprocessableEntity
	case reservation.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op, message string, err error) {
	var rerr *reservation.Error
	if !errors.As(err, &rerr) {
		h.Logger.Error("API", fmt.Sprintf("%s: unexpected error: %v", op, err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse(message, "internal error"))
		return
	}

	status := StatusFor(rerr.Kind)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}

	var data interface{}
	if rerr.Deadline != nil {
		data = map[string]time.Time{"deadline": *rerr.Deadline}
	}
	// the wrapped cause stays in the log
	detail := rerr.Message
	if detail == "" {
		detail = string(rerr.Kind)
	}
	h.write(w, status, utils.CodedErrorResponse(string(rerr.Kind), message, detail, data))
}

func (h *Handler) write(w http.ResponseWriter, status int, resp utils.APIResponse) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

// RequestLogger logs method, path, status and latency of every request.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(sw.status), time.Since(start).String())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the flusher underneath.
func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
