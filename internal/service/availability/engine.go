// Package availability computes bookable start times for a service from the
// tenant's appointments, availability blocks and operating hours.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agenda/backend/internal/displacement"
	"agenda/backend/internal/domain"
	"agenda/backend/internal/observability/metrics"
	"agenda/backend/internal/store"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	opSlots       = "slots"
	opMonth       = "month"
	opBlockStatus = "block_status"
	opCheck       = "check"
)

// ErrSlotUnavailable is returned by CheckSlot when the start time would not
// be offered.
var ErrSlotUnavailable = errors.New("slot unavailable")

// Calendar is the read side of a tenant calendar. CheckSlot accepts one so
// the booking writer can re-run the scan on transaction-scoped reads.
type Calendar interface {
	store.AppointmentReader
	store.BlockReader
}

type Service struct {
	appointments store.AppointmentReader
	blocks       store.BlockReader
	catalog      store.ServiceCatalog
	settings     SettingsProvider
	resolver     displacement.Resolver

	now     func() time.Time
	metrics *metrics.AvailabilityMetrics
	log     *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDisplacement enables the home-visit precondition for queries that carry
// a postal code.
func WithDisplacement(r displacement.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

func WithMetrics(m *metrics.AvailabilityMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(appointments store.AppointmentReader, blocks store.BlockReader, catalog store.ServiceCatalog, settings SettingsProvider, opts ...Option) *Service {
	s := &Service{
		appointments: appointments,
		blocks:       blocks,
		catalog:      catalog,
		settings:     settings,
		now:          time.Now,
		log:          slog.Default(),
		tracer:       otel.Tracer("agenda/backend/internal/service/availability"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "availability"))
	return s
}

type SlotsQuery struct {
	TenantID     string
	ServiceID    string
	Date         string
	IsHomeVisit  bool
	IgnoreBlocks bool
	Channel      domain.Channel
	PostalCode   string
}

type MonthQuery struct {
	TenantID     string
	ServiceID    string
	Month        string
	IsHomeVisit  bool
	IgnoreBlocks bool
	Channel      domain.Channel
}

type BlockStatus struct {
	HasBlocks bool `json:"has_blocks"`
	HasShift  bool `json:"has_shift"`
}

type CheckQuery struct {
	TenantID    string
	ServiceID   uuid.UUID
	Start       time.Time
	IsHomeVisit bool
	Channel     domain.Channel
}

// GetAvailableSlots returns the bookable "HH:MM" starts for q.Date. Bad input
// and unknown services give an empty list; storage failures are returned.
func (s *Service) GetAvailableSlots(ctx context.Context, q SlotsQuery) (slots []string, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.GetAvailableSlots", trace.WithAttributes(
		attribute.String("tenant_id", q.TenantID),
		attribute.String("service_id", q.ServiceID),
		attribute.String("date", q.Date),
		attribute.Bool("home_visit", q.IsHomeVisit),
	))
	started := s.now()
	defer func() {
		s.finish(span, opSlots, started, len(slots), err)
		if err == nil {
			s.metrics.ObserveSlots(string(q.Channel), len(slots))
		}
	}()

	serviceID, err := uuid.Parse(q.ServiceID)
	if err != nil {
		return []string{}, nil
	}
	settings, err := s.settings.Settings(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := location(settings)
	date, err := time.ParseInLocation(dateLayout, q.Date, loc)
	if err != nil {
		return []string{}, nil
	}

	now := s.now()
	if date.Before(domain.DateOf(now, loc)) {
		return []string{}, nil
	}
	if _, open := settings.OperatingWindow(date); !open {
		return []string{}, nil
	}

	svc, ok, err := s.lookupService(ctx, q.TenantID, serviceID, q.IsHomeVisit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}

	if q.IsHomeVisit && q.PostalCode != "" && s.resolver != nil {
		if _, err := s.resolver.Resolve(ctx, q.TenantID, q.PostalCode); err != nil {
			if errors.Is(err, displacement.ErrUnresolvable) {
				return []string{}, nil
			}
			return nil, fmt.Errorf("resolve displacement: %w", err)
		}
	}

	dayStart, dayEnd := dayRange(date, loc)
	appts, blocks, err := s.readCalendar(ctx, s, q.TenantID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	starts := computeSlots(dayInput{
		date:         date,
		settings:     settings,
		service:      svc,
		appointments: appts,
		blocks:       blocks,
		ignoreBlocks: q.IgnoreBlocks,
		channel:      q.Channel,
		now:          now,
	})
	return formatSlots(starts, loc), nil
}

// GetMonthAvailableDays maps every date of q.Month ("YYYY-MM") to whether it
// has at least one slot. Storage is read once for the month and split per
// day, which gives the same answer as calling GetAvailableSlots per date.
func (s *Service) GetMonthAvailableDays(ctx context.Context, q MonthQuery) (days map[string]bool, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.GetMonthAvailableDays", trace.WithAttributes(
		attribute.String("tenant_id", q.TenantID),
		attribute.String("service_id", q.ServiceID),
		attribute.String("month", q.Month),
	))
	started := s.now()
	defer func() {
		available := 0
		for _, ok := range days {
			if ok {
				available++
			}
		}
		s.finish(span, opMonth, started, available, err)
	}()

	settings, err := s.settings.Settings(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := location(settings)
	monthStart, err := time.ParseInLocation(monthLayout, q.Month, loc)
	if err != nil {
		return map[string]bool{}, nil
	}
	monthEnd := monthStart.AddDate(0, 1, 0)

	days = make(map[string]bool, 31)
	for d := monthStart; d.Before(monthEnd); d = d.AddDate(0, 0, 1) {
		days[d.Format(dateLayout)] = false
	}

	serviceID, err := uuid.Parse(q.ServiceID)
	if err != nil {
		return days, nil
	}

	now := s.now()
	today := domain.DateOf(now, loc)
	first := monthStart
	if first.Before(today) {
		first = today
	}
	if !first.Before(monthEnd) {
		return days, nil
	}

	svc, ok, err := s.lookupService(ctx, q.TenantID, serviceID, q.IsHomeVisit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return days, nil
	}

	appts, blocks, err := s.readCalendar(ctx, s, q.TenantID, first, monthEnd)
	if err != nil {
		return nil, err
	}

	for d := first; d.Before(monthEnd); d = d.AddDate(0, 0, 1) {
		dayStart, dayEnd := dayRange(d, loc)
		starts := computeSlots(dayInput{
			date:         dayStart,
			settings:     settings,
			service:      svc,
			appointments: appointmentsOn(appts, dayStart, dayEnd),
			blocks:       blocksOn(blocks, dayStart, dayEnd),
			ignoreBlocks: q.IgnoreBlocks,
			channel:      q.Channel,
			now:          now,
		})
		days[dayStart.Format(dateLayout)] = len(starts) > 0
	}
	return days, nil
}

// GetDateBlockStatus reports whether any block touches date and whether one
// of them is a shift. It is advisory and never gates availability.
func (s *Service) GetDateBlockStatus(ctx context.Context, tenantID, date string) (status BlockStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.GetDateBlockStatus", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("date", date),
	))
	started := s.now()
	defer func() {
		n := 0
		if status.HasBlocks {
			n = 1
		}
		s.finish(span, opBlockStatus, started, n, err)
	}()

	settings, err := s.settings.Settings(ctx, tenantID)
	if err != nil {
		return BlockStatus{}, fmt.Errorf("load settings: %w", err)
	}
	loc := location(settings)
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return BlockStatus{}, nil
	}

	dayStart, dayEnd := dayRange(day, loc)
	blocks, err := s.blocks.ListAvailabilityBlocksInRange(ctx, tenantID, dayStart, dayEnd)
	if err != nil {
		return BlockStatus{}, fmt.Errorf("list availability blocks: %w", err)
	}

	for _, b := range blocks {
		if !blockTouchesDay(b, dayStart, dayEnd, loc) {
			continue
		}
		status.HasBlocks = true
		if b.IsShift() {
			status.HasShift = true
		}
	}
	return status, nil
}

// CheckSlot re-runs the day scan for q.Start and reports ErrSlotUnavailable
// unless that exact start would be offered now. cal supplies the calendar
// reads; nil uses the service's own readers. The resolved service descriptor
// is returned on success.
func (s *Service) CheckSlot(ctx context.Context, cal Calendar, q CheckQuery) (svc domain.ServiceDescriptor, err error) {
	ctx, span := s.tracer.Start(ctx, "availability.CheckSlot", trace.WithAttributes(
		attribute.String("tenant_id", q.TenantID),
		attribute.String("service_id", q.ServiceID.String()),
		attribute.String("start", q.Start.Format(time.RFC3339)),
	))
	started := s.now()
	defer func() {
		n := 0
		if err == nil {
			n = 1
		}
		s.finish(span, opCheck, started, n, err)
	}()

	if cal == nil {
		cal = s
	}

	settings, err := s.settings.Settings(ctx, q.TenantID)
	if err != nil {
		return domain.ServiceDescriptor{}, fmt.Errorf("load settings: %w", err)
	}
	loc := location(settings)

	svc, ok, err := s.lookupService(ctx, q.TenantID, q.ServiceID, q.IsHomeVisit)
	if err != nil {
		return domain.ServiceDescriptor{}, err
	}
	if !ok {
		return domain.ServiceDescriptor{}, ErrSlotUnavailable
	}

	dayStart, dayEnd := dayRange(q.Start, loc)
	appts, blocks, err := s.readCalendar(ctx, cal, q.TenantID, dayStart, dayEnd)
	if err != nil {
		return domain.ServiceDescriptor{}, err
	}

	starts := computeSlots(dayInput{
		date:         dayStart,
		settings:     settings,
		service:      svc,
		appointments: appts,
		blocks:       blocks,
		channel:      q.Channel,
		now:          s.now(),
	})
	for _, t := range starts {
		if t.Equal(q.Start) {
			return svc, nil
		}
	}
	return domain.ServiceDescriptor{}, ErrSlotUnavailable
}

// ListAppointmentsInRange and ListAvailabilityBlocksInRange let the service
// stand in as its own Calendar.
func (s *Service) ListAppointmentsInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return s.appointments.ListAppointmentsInRange(ctx, tenantID, windowStart, windowEnd)
}

func (s *Service) ListAvailabilityBlocksInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.AvailabilityBlock, error) {
	return s.blocks.ListAvailabilityBlocksInRange(ctx, tenantID, windowStart, windowEnd)
}

// lookupService returns ok=false for services that can never produce slots
// for this request: unknown, malformed duration, or a home-visit mismatch.
func (s *Service) lookupService(ctx context.Context, tenantID string, serviceID uuid.UUID, homeVisit bool) (domain.ServiceDescriptor, bool, error) {
	svc, err := s.catalog.GetService(ctx, tenantID, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ServiceDescriptor{}, false, nil
	}
	if err != nil {
		return domain.ServiceDescriptor{}, false, fmt.Errorf("get service: %w", err)
	}
	if svc.DurationMinutes <= 0 {
		s.log.Warn("service has non-positive duration",
			slog.String("tenant_id", tenantID),
			slog.String("service_id", serviceID.String()),
		)
		return domain.ServiceDescriptor{}, false, nil
	}
	if homeVisit && !svc.AcceptsHomeVisit {
		return domain.ServiceDescriptor{}, false, nil
	}
	return svc, true, nil
}

func (s *Service) readCalendar(ctx context.Context, cal Calendar, tenantID string, start, end time.Time) ([]domain.Appointment, []domain.AvailabilityBlock, error) {
	appts, err := cal.ListAppointmentsInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("list appointments: %w", err)
	}
	blocks, err := cal.ListAvailabilityBlocksInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("list availability blocks: %w", err)
	}
	return appts, blocks, nil
}

func (s *Service) finish(span trace.Span, op string, started time.Time, n int, err error) {
	defer span.End()

	outcome := metrics.OutcomeOK
	switch {
	case err != nil && !errors.Is(err, ErrSlotUnavailable):
		outcome = metrics.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("availability read failed", slog.String("op", op), slog.Any("err", err))
	case n == 0:
		outcome = metrics.OutcomeEmpty
	}
	span.SetAttributes(attribute.Int("result_count", n))
	s.metrics.ObserveRequest(op, outcome, s.now().Sub(started).Seconds())
}

// blockTouchesDay applies the same day membership the slot scan uses.
func blockTouchesDay(b domain.AvailabilityBlock, dayStart, dayEnd time.Time, loc *time.Location) bool {
	if b.IsFullDay {
		return b.CoversDate(dayStart, loc)
	}
	return domain.Overlaps(domain.Interval{Start: b.StartTime, End: b.EndTime}, domain.Interval{Start: dayStart, End: dayEnd})
}
