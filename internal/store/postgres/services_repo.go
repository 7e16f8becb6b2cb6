package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

type ServiceRepo struct {
	db *bun.DB
}

func NewServiceRepo(db *bun.DB) *ServiceRepo {
	return &ServiceRepo{db: db}
}

// GetService returns store.ErrNotFound for unknown and inactive services.
func (r *ServiceRepo) GetService(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.ServiceDescriptor, error) {
	var row domain.Service
	err := r.db.NewSelect().
		Model(&row).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceDescriptor{}, store.ErrNotFound
	}
	if err != nil {
		return domain.ServiceDescriptor{}, err
	}
	if !row.Active {
		return domain.ServiceDescriptor{}, store.ErrNotFound
	}
	return row.Descriptor(), nil
}
