package displacement

import (
	"context"
	"fmt"
	"math"

	"agenda/backend/internal/domain"
)

type ZoneReader interface {
	ListDisplacementZones(ctx context.Context, tenantID string) ([]domain.DisplacementZone, error)
}

// ZoneResolver prices a visit from the tenant's CEP prefix table. The zone
// with the longest matching prefix wins.
type ZoneResolver struct {
	zones ZoneReader
}

func NewZoneResolver(zones ZoneReader) *ZoneResolver {
	return &ZoneResolver{zones: zones}
}

func (r *ZoneResolver) Resolve(ctx context.Context, tenantID, postalCode string) (Quote, error) {
	cep, ok := NormalizePostalCode(postalCode)
	if !ok {
		return Quote{}, ErrUnresolvable
	}

	zones, err := r.zones.ListDisplacementZones(ctx, tenantID)
	if err != nil {
		return Quote{}, fmt.Errorf("displacement: list zones: %w", err)
	}

	var best *domain.DisplacementZone
	for i := range zones {
		z := &zones[i]
		if !z.Matches(cep) {
			continue
		}
		if best == nil || len(z.CEPPrefix) > len(best.CEPPrefix) {
			best = z
		}
	}
	if best == nil {
		return Quote{}, ErrUnresolvable
	}

	fee := best.BaseFee + best.FeePerKm*best.DistanceKm
	return Quote{
		FeeAmount:  math.Round(fee*100) / 100,
		DistanceKm: best.DistanceKm,
	}, nil
}
