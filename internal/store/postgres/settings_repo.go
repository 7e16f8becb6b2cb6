package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

type SettingsRepo struct {
	db *bun.DB
}

func NewSettingsRepo(db *bun.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) GetSchedulingSettings(ctx context.Context, tenantID string) (domain.SchedulingSettingsRow, error) {
	var row domain.SchedulingSettingsRow
	err := r.db.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SchedulingSettingsRow{}, store.ErrNotFound
	}
	if err != nil {
		return domain.SchedulingSettingsRow{}, err
	}
	return row, nil
}
