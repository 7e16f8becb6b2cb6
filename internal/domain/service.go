package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Service is the catalog row. Nullable columns stay pointers here and are
// normalized once by Descriptor.
type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID                  uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID            string    `bun:"tenant_id,notnull"`
	Name                string    `bun:"name,notnull"`
	DurationMinutes     int       `bun:"duration_minutes,notnull"`
	BufferBeforeMinutes *int      `bun:"buffer_before_minutes"`
	BufferAfterMinutes  *int      `bun:"buffer_after_minutes"`
	AcceptsHomeVisit    bool      `bun:"accepts_home_visit,notnull"`
	HomeVisitFee        *float64  `bun:"home_visit_fee"`
	Active              bool      `bun:"active,notnull"`
	CreatedAt           time.Time `bun:"created_at,notnull"`
	UpdatedAt           time.Time `bun:"updated_at,notnull"`
}

func (s *Service) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// ServiceDescriptor is what the availability engine needs from the catalog.
type ServiceDescriptor struct {
	ID                  uuid.UUID
	DurationMinutes     int
	BufferBeforeMinutes int
	BufferAfterMinutes  int
	AcceptsHomeVisit    bool
	HomeVisitFee        *float64
}

func (s Service) Descriptor() ServiceDescriptor {
	d := ServiceDescriptor{
		ID:               s.ID,
		DurationMinutes:  s.DurationMinutes,
		AcceptsHomeVisit: s.AcceptsHomeVisit,
	}
	if s.BufferBeforeMinutes != nil {
		d.BufferBeforeMinutes = nonNegative(*s.BufferBeforeMinutes)
	}
	if s.BufferAfterMinutes != nil {
		d.BufferAfterMinutes = nonNegative(*s.BufferAfterMinutes)
	}
	if s.HomeVisitFee != nil && *s.HomeVisitFee >= 0 {
		fee := *s.HomeVisitFee
		d.HomeVisitFee = &fee
	}
	return d
}

// TotalSpanMinutes is buffer_before + duration + buffer_after.
func (d ServiceDescriptor) TotalSpanMinutes() int {
	return d.BufferBeforeMinutes + d.DurationMinutes + d.BufferAfterMinutes
}
