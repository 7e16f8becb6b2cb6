package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCanceled  AppointmentStatus = "canceled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// Occupies reports whether an appointment in this status holds its slot.
func (s AppointmentStatus) Occupies() bool {
	switch s {
	case AppointmentStatusCanceled, AppointmentStatusNoShow:
		return false
	default:
		return true
	}
}

// NonOccupyingStatuses lists the statuses storage queries may filter out.
var NonOccupyingStatuses = []AppointmentStatus{AppointmentStatusCanceled, AppointmentStatusNoShow}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                     uuid.UUID         `bun:"id,pk,type:uuid"`
	TenantID               string            `bun:"tenant_id,notnull"`
	ServiceID              uuid.UUID         `bun:"service_id,notnull,type:uuid"`
	StartTime              time.Time         `bun:"start_time,notnull"`
	ServiceDurationMinutes int               `bun:"service_duration_minutes,notnull"`
	BufferBeforeMinutes    int               `bun:"buffer_before_minutes,notnull"`
	BufferAfterMinutes     int               `bun:"buffer_after_minutes,notnull"`
	TotalDurationMinutes   *int              `bun:"total_duration_minutes"`
	Status                 AppointmentStatus `bun:"status,notnull"`
	IsHomeVisit            bool              `bun:"is_home_visit,notnull"`
	DisplacementFee        *float64          `bun:"displacement_fee"`
	CreatedAt              time.Time         `bun:"created_at,notnull"`
	UpdatedAt              time.Time         `bun:"updated_at,notnull"`

	// Denormalized BusyInterval, backing the appointments_no_overlap
	// exclusion constraint.
	BusyStart time.Time `bun:"busy_start,notnull"`
	BusyEnd   time.Time `bun:"busy_end,notnull"`
}

// BusyInterval is the span the appointment keeps off the calendar. A stored
// total duration already includes both buffers and starts at StartTime.
func (a Appointment) BusyInterval() Interval {
	start := a.StartTime
	if a.TotalDurationMinutes != nil && *a.TotalDurationMinutes > 0 {
		return Interval{
			Start: start,
			End:   start.Add(minutes(*a.TotalDurationMinutes)),
		}
	}
	return Interval{
		Start: start.Add(-minutes(nonNegative(a.BufferBeforeMinutes))),
		End:   start.Add(minutes(a.ServiceDurationMinutes + nonNegative(a.BufferAfterMinutes))),
	}
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		busy := a.BusyInterval()
		a.BusyStart, a.BusyEnd = busy.Start, busy.End
	case *bun.UpdateQuery:
		a.UpdatedAt = now
		busy := a.BusyInterval()
		a.BusyStart, a.BusyEnd = busy.Start, busy.End
	}
	return nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
