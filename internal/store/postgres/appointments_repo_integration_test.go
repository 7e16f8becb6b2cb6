package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
	"agenda/backend/migrations"
)

func TestPostgresIntegration_CalendarReadsOverlapAndIdempotency(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("AGENDA_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("AGENDA_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "agenda_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		tenantID := "t1"
		svc := domain.Service{
			TenantID:        tenantID,
			Name:            "Massagem",
			DurationMinutes: 60,
			Active:          true,
		}
		if _, err := tx.NewInsert().Model(&svc).Exec(ctx); err != nil {
			return err
		}

		c := calendarTx{tx: tx}
		start := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
		base := domain.Appointment{
			TenantID:               tenantID,
			ServiceID:              svc.ID,
			ServiceDurationMinutes: 60,
			BufferAfterMinutes:     15,
			Status:                 domain.AppointmentStatusConfirmed,
		}

		a1 := base
		a1.ID = uuid.MustParse("00000000-0000-0000-0000-000000000901")
		a1.StartTime = start
		created, err := c.CreateAppointment(ctx, a1)
		if err != nil {
			return err
		}

		rows, err := c.ListAppointmentsInRange(ctx, tenantID, start.Add(-time.Hour), start.Add(time.Hour))
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != created.ID {
			return fmt.Errorf("listed %d rows, want the created appointment", len(rows))
		}

		if _, err := tx.NewRaw("SAVEPOINT before_overlap").Exec(ctx); err != nil {
			return err
		}
		overlapping := base
		overlapping.ID = uuid.MustParse("00000000-0000-0000-0000-000000000902")
		overlapping.StartTime = start.Add(70 * time.Minute)
		if _, err := c.CreateAppointment(ctx, overlapping); err != store.ErrConflict {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}
		if _, err := tx.NewRaw("ROLLBACK TO SAVEPOINT before_overlap").Exec(ctx); err != nil {
			return err
		}

		backToBack := base
		backToBack.ID = uuid.MustParse("00000000-0000-0000-0000-000000000903")
		backToBack.StartTime = start.Add(75 * time.Minute)
		if _, err := c.CreateAppointment(ctx, backToBack); err != nil {
			return fmt.Errorf("back-to-back err = %v", err)
		}

		canceled := base
		canceled.ID = uuid.MustParse("00000000-0000-0000-0000-000000000904")
		canceled.StartTime = start
		canceled.Status = domain.AppointmentStatusCanceled
		if _, err := c.CreateAppointment(ctx, canceled); err != nil {
			return fmt.Errorf("canceled row err = %v", err)
		}

		replayed, err := c.CreateAppointment(ctx, a1)
		if err != nil {
			return err
		}
		if replayed.ID != created.ID {
			return fmt.Errorf("replayed id = %s, want %s", replayed.ID, created.ID)
		}

		moved := a1
		moved.StartTime = start.Add(5 * time.Hour)
		if _, err := c.CreateAppointment(ctx, moved); err != store.ErrIdempotencyConflict {
			return fmt.Errorf("idempotency err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		rows, err = c.ListAppointmentsInRange(ctx, tenantID, start.Add(-time.Hour), start.Add(6*time.Hour))
		if err != nil {
			return err
		}
		if len(rows) != 2 {
			return fmt.Errorf("listed %d occupying rows, want 2", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

// applyMigrations runs the embedded up migrations in order inside exec.
func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
