package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agenda/backend/internal/domain"
)

// AppointmentReader returns appointments whose start falls in [windowStart, windowEnd).
type AppointmentReader interface {
	ListAppointmentsInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
}

// BlockReader returns availability blocks intersecting [windowStart, windowEnd).
type BlockReader interface {
	ListAvailabilityBlocksInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.AvailabilityBlock, error)
}

// ServiceCatalog returns ErrNotFound for unknown or inactive services.
type ServiceCatalog interface {
	GetService(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.ServiceDescriptor, error)
}

// SettingsReader returns ErrNotFound when the tenant has no override.
type SettingsReader interface {
	GetSchedulingSettings(ctx context.Context, tenantID string) (domain.SchedulingSettingsRow, error)
}

// CalendarTx is the view of a tenant calendar inside a locked transaction.
type CalendarTx interface {
	AppointmentReader
	BlockReader
	// GetAppointment returns ErrNotFound when the tenant has no row with id.
	GetAppointment(ctx context.Context, tenantID string, id uuid.UUID) (domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}

type BookingWriter interface {
	InTenantTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx CalendarTx) error) error
}
