package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
)

type BlockRepo struct {
	db *bun.DB
}

func NewBlockRepo(db *bun.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

func (r *BlockRepo) ListAvailabilityBlocksInRange(ctx context.Context, tenantID string, windowStart, windowEnd time.Time) ([]domain.AvailabilityBlock, error) {
	return listBlocks(ctx, r.db, tenantID, windowStart, windowEnd)
}

// listBlocks keeps blocks ending exactly at windowStart; full-day blocks
// stored with a midnight end still need a date check by the caller.
func listBlocks(ctx context.Context, db bun.IDB, tenantID string, windowStart, windowEnd time.Time) ([]domain.AvailabilityBlock, error) {
	var rows []domain.AvailabilityBlock
	err := db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("start_time < ?", windowEnd).
		Where("end_time >= ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
