package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

// calendarTx is the tenant calendar seen from inside a locked transaction.
type calendarTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) ListAppointmentsInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listAppointments(ctx, r.db, tenantID, windowStart, windowEnd)
}

// InTenantTransaction runs fn while holding the tenant's advisory lock, so
// concurrent bookings for one tenant re-validate one at a time.
func (r *AppointmentRepo) InTenantTransaction(ctx context.Context, tenantID string, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTenantCalendar(ctx, tx, tenantID); err != nil {
			return err
		}
		return fn(ctx, calendarTx{tx: tx})
	})
}

func lockTenantCalendar(ctx context.Context, tx bun.Tx, tenantID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", tenantID).Exec(ctx)
	return err
}

func (r calendarTx) ListAppointmentsInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listAppointments(ctx, r.tx, tenantID, windowStart, windowEnd)
}

func (r calendarTx) ListAvailabilityBlocksInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.AvailabilityBlock, error) {
	return listBlocks(ctx, r.tx, tenantID, windowStart, windowEnd)
}

func (r calendarTx) GetAppointment(ctx context.Context, tenantID string, id uuid.UUID) (domain.Appointment, error) {
	var row domain.Appointment
	err := r.tx.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return row, nil
}

// CreateAppointment inserts appt. Replaying an existing id with the same
// payload returns the stored row; a different payload is an idempotency
// conflict. Overlapping busy ranges surface as store.ErrConflict.
func (r calendarTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:                     appt.ID,
		TenantID:               appt.TenantID,
		ServiceID:              appt.ServiceID,
		StartTime:              appt.StartTime,
		ServiceDurationMinutes: appt.ServiceDurationMinutes,
		BufferBeforeMinutes:    appt.BufferBeforeMinutes,
		BufferAfterMinutes:     appt.BufferAfterMinutes,
		TotalDurationMinutes:   appt.TotalDurationMinutes,
		Status:                 appt.Status,
		IsHomeVisit:            appt.IsHomeVisit,
		DisplacementFee:        appt.DisplacementFee,
		CreatedAt:              appt.CreatedAt,
		UpdatedAt:              appt.UpdatedAt,
	}

	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected > 0 {
		return m, nil
	}

	var existing domain.Appointment
	err = r.tx.NewSelect().
		Model(&existing).
		Where("id = ?", m.ID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !samePayload(existing, appt) {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func samePayload(existing, appt domain.Appointment) bool {
	return existing.TenantID == appt.TenantID &&
		existing.ServiceID == appt.ServiceID &&
		existing.StartTime.Equal(appt.StartTime) &&
		existing.IsHomeVisit == appt.IsHomeVisit &&
		existing.ServiceDurationMinutes == appt.ServiceDurationMinutes
}

func listAppointments(ctx context.Context, db bun.IDB, tenantID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("start_time >= ?", windowStart).
		Where("start_time < ?", windowEnd).
		Where("status NOT IN (?)", bun.In(domain.NonOccupyingStatuses)).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
