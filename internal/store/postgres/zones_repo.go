package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
)

type ZoneRepo struct {
	db *bun.DB
}

func NewZoneRepo(db *bun.DB) *ZoneRepo {
	return &ZoneRepo{db: db}
}

func (r *ZoneRepo) ListDisplacementZones(ctx context.Context, tenantID string) ([]domain.DisplacementZone, error) {
	var rows []domain.DisplacementZone
	err := r.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		OrderExpr("cep_prefix ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
