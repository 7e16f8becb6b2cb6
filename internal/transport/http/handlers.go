package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/service/availability"
	"agenda/backend/internal/service/booking"
	"agenda/backend/internal/store"
)

const idempotencyKeyHeader = "Idempotency-Key"

type availabilityService interface {
	GetAvailableSlots(ctx context.Context, q availability.SlotsQuery) ([]string, error)
	GetMonthAvailableDays(ctx context.Context, q availability.MonthQuery) (map[string]bool, error)
	GetDateBlockStatus(ctx context.Context, tenantID, date string) (availability.BlockStatus, error)
}

type bookingService interface {
	Book(ctx context.Context, in booking.BookInput) (domain.Appointment, error)
}

type handler struct {
	availability availabilityService
	booking      bookingService
	log          *slog.Logger
}

type slotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

type availableDaysResponse struct {
	Month string          `json:"month"`
	Days  map[string]bool `json:"days"`
}

type createAppointmentRequest struct {
	ServiceID   string    `json:"service_id"`
	StartTime   time.Time `json:"start_time"`
	IsHomeVisit bool      `json:"is_home_visit"`
	PostalCode  string    `json:"postal_code"`
	Channel     string    `json:"channel"`
}

type appointmentResponse struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	ServiceID            string    `json:"service_id"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	TotalDurationMinutes int       `json:"total_duration_minutes"`
	Status               string    `json:"status"`
	IsHomeVisit          bool      `json:"is_home_visit"`
	DisplacementFee      *float64  `json:"displacement_fee,omitempty"`
}

func (h *handler) getSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flags, ok := h.parseFlags(w, r)
	if !ok {
		return
	}
	date := q.Get("date")

	slots, err := h.availability.GetAvailableSlots(r.Context(), availability.SlotsQuery{
		TenantID:     chi.URLParam(r, "tenantID"),
		ServiceID:    chi.URLParam(r, "serviceID"),
		Date:         date,
		IsHomeVisit:  flags.homeVisit,
		IgnoreBlocks: flags.ignoreBlocks,
		Channel:      flags.channel,
		PostalCode:   q.Get("cep"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Date: date, Slots: slots})
}

func (h *handler) getAvailableDays(w http.ResponseWriter, r *http.Request) {
	flags, ok := h.parseFlags(w, r)
	if !ok {
		return
	}
	month := r.URL.Query().Get("month")

	days, err := h.availability.GetMonthAvailableDays(r.Context(), availability.MonthQuery{
		TenantID:     chi.URLParam(r, "tenantID"),
		ServiceID:    chi.URLParam(r, "serviceID"),
		Month:        month,
		IsHomeVisit:  flags.homeVisit,
		IgnoreBlocks: flags.ignoreBlocks,
		Channel:      flags.channel,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availableDaysResponse{Month: month, Days: days})
}

func (h *handler) getBlockStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.availability.GetDateBlockStatus(r.Context(), chi.URLParam(r, "tenantID"), r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	if h.booking == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("booking is not enabled"))
		return
	}

	var req createAppointmentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	// The channel is trusted as sent. An authenticated caller layer must set
	// it before staff bypasses are reachable from the public internet.
	appt, err := h.booking.Book(r.Context(), booking.BookInput{
		TenantID:       chi.URLParam(r, "tenantID"),
		ServiceID:      req.ServiceID,
		StartTime:      req.StartTime,
		IsHomeVisit:    req.IsHomeVisit,
		PostalCode:     req.PostalCode,
		Channel:        domain.ParseChannel(req.Channel),
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

type queryFlags struct {
	homeVisit    bool
	ignoreBlocks bool
	channel      domain.Channel
}

func (h *handler) parseFlags(w http.ResponseWriter, r *http.Request) (queryFlags, bool) {
	q := r.URL.Query()
	homeVisit, err := parseBool(q.Get("home_visit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid home_visit"))
		return queryFlags{}, false
	}
	ignoreBlocks, err := parseBool(q.Get("ignore_blocks"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid ignore_blocks"))
		return queryFlags{}, false
	}
	// channel=staff lifts the public cutoffs; the authenticated caller layer
	// in front of this router owns that decision.
	return queryFlags{
		homeVisit:    homeVisit,
		ignoreBlocks: ignoreBlocks,
		channel:      domain.ParseChannel(strings.TrimSpace(q.Get("channel"))),
	}, true
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.log.With(
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("tenant_id", chi.URLParam(r, "tenantID")),
	)

	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorBody(vErr.Error()))
	case errors.Is(err, availability.ErrSlotUnavailable), errors.Is(err, store.ErrConflict):
		log.Info("slot unavailable", slog.Any("err", err))
		writeJSON(w, http.StatusConflict, errorBody("That time is no longer available. Pick a different slot."))
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", slog.Any("err", err))
		writeJSON(w, http.StatusConflict, errorBody("This request key was already used for a different appointment."))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("request deadline exceeded", slog.Any("err", err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("request timed out"))
	default:
		log.Error("calendar unavailable", slog.Any("err", err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("calendar temporarily unavailable"))
	}
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	busy := a.BusyInterval()
	return appointmentResponse{
		ID:                   a.ID.String(),
		TenantID:             a.TenantID,
		ServiceID:            a.ServiceID.String(),
		StartTime:            a.StartTime,
		EndTime:              busy.End,
		TotalDurationMinutes: int(busy.End.Sub(busy.Start) / time.Minute),
		Status:               string(a.Status),
		IsHomeVisit:          a.IsHomeVisit,
		DisplacementFee:      a.DisplacementFee,
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
