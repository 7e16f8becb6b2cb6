package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BlockType string

const (
	BlockTypeShift          BlockType = "shift"
	BlockTypePersonal       BlockType = "personal"
	BlockTypeVacation       BlockType = "vacation"
	BlockTypeAdministrative BlockType = "administrative"
)

func (t BlockType) Valid() bool {
	switch t {
	case BlockTypeShift, BlockTypePersonal, BlockTypeVacation, BlockTypeAdministrative:
		return true
	}
	return false
}

type AvailabilityBlock struct {
	bun.BaseModel `bun:"table:availability_blocks"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	TenantID  string    `bun:"tenant_id,notnull"`
	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`
	IsFullDay bool      `bun:"is_full_day,notnull"`
	BlockType BlockType `bun:"block_type,notnull"`
	Reason    string    `bun:"reason"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (b AvailabilityBlock) IsShift() bool {
	return b.BlockType == BlockTypeShift
}

// CoversDate reports whether a full-day block includes the local calendar
// date of day. An end time at local midnight is exclusive, any other end
// time includes its own date.
func (b AvailabilityBlock) CoversDate(day time.Time, loc *time.Location) bool {
	d := DateOf(day, loc)
	first := DateOf(b.StartTime, loc)
	last := DateOf(b.EndTime, loc)
	if last.Equal(b.EndTime) && last.After(first) {
		last = last.AddDate(0, 0, -1)
	}
	if last.Before(first) {
		last = first
	}
	return !d.Before(first) && !d.After(last)
}

func (b *AvailabilityBlock) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// DateOf returns midnight of t's calendar date in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}
