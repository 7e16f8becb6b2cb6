package domain

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// DisplacementZone prices home visits for postal codes sharing a CEP prefix.
type DisplacementZone struct {
	bun.BaseModel `bun:"table:displacement_zones"`

	TenantID   string    `bun:"tenant_id,pk"`
	CEPPrefix  string    `bun:"cep_prefix,pk"`
	DistanceKm float64   `bun:"distance_km,notnull"`
	BaseFee    float64   `bun:"base_fee,notnull"`
	FeePerKm   float64   `bun:"fee_per_km,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func (z DisplacementZone) Matches(cep string) bool {
	return z.CEPPrefix != "" && strings.HasPrefix(cep, z.CEPPrefix)
}
