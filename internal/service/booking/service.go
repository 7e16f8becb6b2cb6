// Package booking writes appointments after re-validating the slot under
// the tenant's calendar lock.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agenda/backend/internal/displacement"
	"agenda/backend/internal/domain"
	"agenda/backend/internal/observability/metrics"
	"agenda/backend/internal/service/availability"
	"agenda/backend/internal/store"
)

const (
	ResultBooked      = "booked"
	ResultUnavailable = "unavailable"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// SlotChecker is satisfied by *availability.Service.
type SlotChecker interface {
	CheckSlot(ctx context.Context, cal availability.Calendar, q availability.CheckQuery) (domain.ServiceDescriptor, error)
}

type Service struct {
	writer   store.BookingWriter
	checker  SlotChecker
	resolver displacement.Resolver
	metrics  *metrics.BookingMetrics
	log      *slog.Logger
}

type Option func(*Service)

func WithDisplacement(r displacement.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(writer store.BookingWriter, checker SlotChecker, opts ...Option) *Service {
	s := &Service{
		writer:  writer,
		checker: checker,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "booking"))
	return s
}

type BookInput struct {
	TenantID       string
	ServiceID      string
	StartTime      time.Time
	IsHomeVisit    bool
	PostalCode     string
	Channel        domain.Channel
	IdempotencyKey string
}

// Book creates a pending appointment at in.StartTime. The slot is checked
// again inside the tenant transaction; availability.ErrSlotUnavailable means
// it was taken or is no longer offered. A retry with a known idempotency key
// returns the stored appointment before any slot check runs.
func (s *Service) Book(ctx context.Context, in BookInput) (appt domain.Appointment, err error) {
	defer func() { s.metrics.ObserveAttempt(resultOf(err)) }()

	if strings.TrimSpace(in.TenantID) == "" {
		return domain.Appointment{}, validationError("tenant_id is required")
	}
	serviceID, err := uuid.Parse(strings.TrimSpace(in.ServiceID))
	if err != nil {
		return domain.Appointment{}, validationError("invalid service_id")
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, validationError("start_time is required")
	}

	var id uuid.UUID
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agenda:book_appointment:"+in.TenantID+":"+key))
	}

	if in.IsHomeVisit && s.resolver != nil && strings.TrimSpace(in.PostalCode) == "" {
		return domain.Appointment{}, validationError("postal_code is required for home visits")
	}

	start := in.StartTime.UTC()
	replayed := false
	err = s.writer.InTenantTransaction(ctx, in.TenantID, func(ctx context.Context, tx store.CalendarTx) error {
		if id != uuid.Nil {
			existing, err := tx.GetAppointment(ctx, in.TenantID, id)
			switch {
			case err == nil:
				if !sameBooking(existing, serviceID, start, in.IsHomeVisit) {
					return store.ErrIdempotencyConflict
				}
				appt, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		quote, err := s.quote(ctx, in)
		if err != nil {
			return err
		}

		svc, err := s.checker.CheckSlot(ctx, tx, availability.CheckQuery{
			TenantID:    in.TenantID,
			ServiceID:   serviceID,
			Start:       start,
			IsHomeVisit: in.IsHomeVisit,
			Channel:     in.Channel,
		})
		if err != nil {
			return err
		}

		total := svc.TotalSpanMinutes()
		created, err := tx.CreateAppointment(ctx, domain.Appointment{
			ID:                     id,
			TenantID:               in.TenantID,
			ServiceID:              serviceID,
			StartTime:              start,
			ServiceDurationMinutes: svc.DurationMinutes,
			BufferBeforeMinutes:    svc.BufferBeforeMinutes,
			BufferAfterMinutes:     svc.BufferAfterMinutes,
			TotalDurationMinutes:   &total,
			Status:                 domain.AppointmentStatusPending,
			IsHomeVisit:            in.IsHomeVisit,
			DisplacementFee:        displacementFee(in.IsHomeVisit, quote, svc),
		})
		if err != nil {
			return err
		}
		appt = created
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	if replayed {
		s.log.Info("appointment replayed",
			slog.String("tenant_id", appt.TenantID),
			slog.String("appointment_id", appt.ID.String()),
		)
		return appt, nil
	}
	s.log.Info("appointment booked",
		slog.String("tenant_id", appt.TenantID),
		slog.String("appointment_id", appt.ID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Bool("home_visit", appt.IsHomeVisit),
	)
	return appt, nil
}

// quote prices a home visit. Without a resolver the service's flat fee
// applies, so no quote is returned.
func (s *Service) quote(ctx context.Context, in BookInput) (*displacement.Quote, error) {
	if !in.IsHomeVisit || s.resolver == nil {
		return nil, nil
	}
	q, err := s.resolver.Resolve(ctx, in.TenantID, in.PostalCode)
	if errors.Is(err, displacement.ErrUnresolvable) {
		return nil, validationError("home visits are not available for this postal code")
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// sameBooking reports whether a stored appointment answers the same request.
// A replay returns the stored row as is, even if its slot has since passed.
func sameBooking(existing domain.Appointment, serviceID uuid.UUID, start time.Time, homeVisit bool) bool {
	return existing.ServiceID == serviceID &&
		existing.StartTime.Equal(start) &&
		existing.IsHomeVisit == homeVisit
}

// displacementFee prefers the resolved quote and falls back to the service's
// flat home-visit fee.
func displacementFee(homeVisit bool, quote *displacement.Quote, svc domain.ServiceDescriptor) *float64 {
	if !homeVisit {
		return nil
	}
	if quote != nil {
		fee := quote.FeeAmount
		return &fee
	}
	return svc.HomeVisitFee
}

func resultOf(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ResultBooked
	case errors.As(err, &vErr):
		return ResultInvalid
	case errors.Is(err, availability.ErrSlotUnavailable), errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrIdempotencyConflict):
		return ResultUnavailable
	default:
		return ResultError
	}
}
