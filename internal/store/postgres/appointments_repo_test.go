package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

var (
	repoTenant    = "tenant-1"
	repoServiceID = uuid.MustParse("0190a4f2-5b7c-7d3e-9a41-2f6c8e1d0b11")
)

func newMockDB(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := NewDB(sqlDB)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func sqlPattern(fragments ...string) string {
	p := ""
	for i, f := range fragments {
		if i > 0 {
			p += ".*"
		}
		p += regexp.QuoteMeta(f)
	}
	return p
}

func TestAppointmentRepo_ListExcludesNonOccupying(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sqlPattern(`FROM "appointments"`, `tenant_id = 'tenant-1'`, `status NOT IN ('canceled', 'no_show')`, `ORDER BY start_time ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "service_id", "start_time", "service_duration_minutes", "status"}).
			AddRow(uuid.NewString(), repoTenant, repoServiceID.String(), start, int64(60), "confirmed"))

	rows, err := NewAppointmentRepo(db).ListAppointmentsInRange(context.Background(), repoTenant, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.AppointmentStatusConfirmed, rows[0].Status)
	assert.True(t, rows[0].StartTime.Equal(start))
	assert.Equal(t, repoServiceID, rows[0].ServiceID)
}

func TestAppointmentRepo_ListPropagatesErrors(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery(sqlPattern(`FROM "appointments"`)).WillReturnError(boom)

	_, err := NewAppointmentRepo(db).ListAppointmentsInRange(context.Background(), repoTenant, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, boom)
}

func TestBlockRepo_ListIntersecting(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sqlPattern(`FROM "availability_blocks"`, `tenant_id = 'tenant-1'`, `start_time <`, `end_time >=`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "start_time", "end_time", "is_full_day", "block_type"}).
			AddRow(uuid.NewString(), repoTenant, start, start.Add(24*time.Hour), true, "shift"))

	rows, err := NewBlockRepo(db).ListAvailabilityBlocksInRange(context.Background(), repoTenant, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsShift())
	assert.True(t, rows[0].IsFullDay)
}

func TestServiceRepo_GetService(t *testing.T) {
	columns := []string{"id", "tenant_id", "name", "duration_minutes", "buffer_before_minutes", "buffer_after_minutes", "accepts_home_visit", "home_visit_fee", "active"}

	t.Run("active service", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(sqlPattern(`FROM "services"`, `tenant_id = 'tenant-1'`)).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(repoServiceID.String(), repoTenant, "Manicure", int64(60), nil, int64(-5), true, 35.5, true))

		got, err := NewServiceRepo(db).GetService(context.Background(), repoTenant, repoServiceID)
		require.NoError(t, err)
		assert.Equal(t, 60, got.DurationMinutes)
		assert.Equal(t, 0, got.BufferBeforeMinutes)
		assert.Equal(t, 0, got.BufferAfterMinutes)
		assert.True(t, got.AcceptsHomeVisit)
		require.NotNil(t, got.HomeVisitFee)
		assert.Equal(t, 35.5, *got.HomeVisitFee)
	})

	t.Run("inactive service", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(sqlPattern(`FROM "services"`)).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(repoServiceID.String(), repoTenant, "Old", int64(60), int64(0), int64(0), false, nil, false))

		_, err := NewServiceRepo(db).GetService(context.Background(), repoTenant, repoServiceID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("missing service", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(sqlPattern(`FROM "services"`)).WillReturnRows(sqlmock.NewRows(columns))

		_, err := NewServiceRepo(db).GetService(context.Background(), repoTenant, repoServiceID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSettingsRepo_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(sqlPattern(`FROM "scheduling_settings"`, `tenant_id = 'tenant-1'`)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err := NewSettingsRepo(db).GetSchedulingSettings(context.Background(), repoTenant)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestZoneRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(sqlPattern(`FROM "displacement_zones"`, `tenant_id = 'tenant-1'`, `ORDER BY cep_prefix ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "cep_prefix", "distance_km", "base_fee", "fee_per_km"}).
			AddRow(repoTenant, "013", 4.0, 10.0, 2.0).
			AddRow(repoTenant, "01310", 2.5, 10.0, 2.0))

	zones, err := NewZoneRepo(db).ListDisplacementZones(context.Background(), repoTenant)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "01310", zones[1].CEPPrefix)
	assert.Equal(t, 2.5, zones[1].DistanceKm)
}

func newAppointment(start time.Time) domain.Appointment {
	return domain.Appointment{
		ID:                     uuid.MustParse("0190a4f2-0000-7000-8000-000000000901"),
		TenantID:               repoTenant,
		ServiceID:              repoServiceID,
		StartTime:              start,
		ServiceDurationMinutes: 60,
		BufferAfterMinutes:     15,
		Status:                 domain.AppointmentStatusPending,
	}
}

func TestCreateAppointment_LocksTenantAndInserts(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(sqlPattern(`SELECT pg_advisory_xact_lock(hashtext('tenant-1'))`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern(`INSERT INTO "appointments"`, `ON CONFLICT (id) DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var created domain.Appointment
	err := NewAppointmentRepo(db).InTenantTransaction(context.Background(), repoTenant, func(ctx context.Context, tx store.CalendarTx) error {
		a, err := tx.CreateAppointment(ctx, newAppointment(start))
		created = a
		return err
	})
	require.NoError(t, err)
	assert.True(t, created.BusyStart.Equal(start))
	assert.True(t, created.BusyEnd.Equal(start.Add(75*time.Minute)))
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreateAppointment_OverlapIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	start := time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(sqlPattern(`pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlPattern(`INSERT INTO "appointments"`)).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err := NewAppointmentRepo(db).InTenantTransaction(context.Background(), repoTenant, func(ctx context.Context, tx store.CalendarTx) error {
		_, err := tx.CreateAppointment(ctx, newAppointment(start))
		return err
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCreateAppointment_Replay(t *testing.T) {
	start := time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)
	columns := []string{"id", "tenant_id", "service_id", "start_time", "service_duration_minutes", "buffer_after_minutes", "is_home_visit", "status"}

	tests := []struct {
		name        string
		storedStart time.Time
		wantErr     error
	}{
		{name: "same payload returns stored row", storedStart: start},
		{name: "different payload conflicts", storedStart: start.Add(time.Hour), wantErr: store.ErrIdempotencyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			appt := newAppointment(start)

			mock.ExpectBegin()
			mock.ExpectExec(sqlPattern(`pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(sqlPattern(`INSERT INTO "appointments"`)).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(sqlPattern(`FROM "appointments"`, appt.ID.String())).
				WillReturnRows(sqlmock.NewRows(columns).
					AddRow(appt.ID.String(), repoTenant, repoServiceID.String(), tt.storedStart, int64(60), int64(15), false, "pending"))
			if tt.wantErr != nil {
				mock.ExpectRollback()
			} else {
				mock.ExpectCommit()
			}

			var got domain.Appointment
			err := NewAppointmentRepo(db).InTenantTransaction(context.Background(), repoTenant, func(ctx context.Context, tx store.CalendarTx) error {
				a, err := tx.CreateAppointment(ctx, appt)
				got = a
				return err
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, appt.ID, got.ID)
		})
	}
}

func TestGetAppointment(t *testing.T) {
	start := time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)
	appt := newAppointment(start)
	columns := []string{"id", "tenant_id", "service_id", "start_time", "service_duration_minutes", "buffer_after_minutes", "is_home_visit", "status"}

	t.Run("stored row", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(sqlPattern(`pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(sqlPattern(`FROM "appointments"`, `tenant_id = 'tenant-1'`, appt.ID.String())).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(appt.ID.String(), repoTenant, repoServiceID.String(), start, int64(60), int64(15), false, "pending"))
		mock.ExpectCommit()

		var got domain.Appointment
		err := NewAppointmentRepo(db).InTenantTransaction(context.Background(), repoTenant, func(ctx context.Context, tx store.CalendarTx) error {
			a, err := tx.GetAppointment(ctx, repoTenant, appt.ID)
			got = a
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, appt.ID, got.ID)
		assert.True(t, got.StartTime.Equal(start))
	})

	t.Run("unknown id", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(sqlPattern(`pg_advisory_xact_lock`)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(sqlPattern(`FROM "appointments"`)).WillReturnRows(sqlmock.NewRows(columns))
		mock.ExpectRollback()

		err := NewAppointmentRepo(db).InTenantTransaction(context.Background(), repoTenant, func(ctx context.Context, tx store.CalendarTx) error {
			_, err := tx.GetAppointment(ctx, repoTenant, appt.ID)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
