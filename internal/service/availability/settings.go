package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

type SettingsProvider interface {
	Settings(ctx context.Context, tenantID string) (domain.SchedulingSettings, error)
}

// StaticSettings serves the configured defaults to every tenant.
type StaticSettings domain.SchedulingSettings

func (s StaticSettings) Settings(context.Context, string) (domain.SchedulingSettings, error) {
	return domain.SchedulingSettings(s), nil
}

// TenantSettings prefers a stored per-tenant override and falls back to the
// defaults when none exists. Read errors are returned, not defaulted.
type TenantSettings struct {
	defaults domain.SchedulingSettings
	reader   store.SettingsReader
}

func NewTenantSettings(defaults domain.SchedulingSettings, reader store.SettingsReader) *TenantSettings {
	return &TenantSettings{defaults: defaults, reader: reader}
}

func (t *TenantSettings) Settings(ctx context.Context, tenantID string) (domain.SchedulingSettings, error) {
	if t.reader == nil {
		return t.defaults, nil
	}
	row, err := t.reader.GetSchedulingSettings(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return t.defaults, nil
	}
	if err != nil {
		return domain.SchedulingSettings{}, err
	}
	return settingsFromRow(row, t.defaults)
}

func settingsFromRow(row domain.SchedulingSettingsRow, defaults domain.SchedulingSettings) (domain.SchedulingSettings, error) {
	out := domain.SchedulingSettings{
		Grid: domain.TimeGridConfig{
			StartHour:  row.StartHour,
			EndHour:    row.EndHour,
			HourHeight: row.HourHeight,
		},
		SlotIntervalMinutes:              row.SlotIntervalMinutes,
		OnlineCutoffBeforeCloseMinutes:   row.OnlineCutoffBeforeCloseMinutes,
		OnlineLastSlotBeforeCloseMinutes: row.OnlineLastSlotBeforeCloseMinutes,
		Location:                         defaults.Location,
	}
	if row.Timezone != "" {
		loc, err := time.LoadLocation(row.Timezone)
		if err != nil {
			return domain.SchedulingSettings{}, fmt.Errorf("%w: timezone %q", store.ErrInvalidSettings, row.Timezone)
		}
		out.Location = loc
	}
	if out.Grid.HourHeight <= 0 {
		out.Grid.HourHeight = defaults.Grid.HourHeight
	}
	if out.SlotIntervalMinutes <= 0 {
		out.SlotIntervalMinutes = defaults.SlotIntervalMinutes
	}
	if len(row.ClosedWeekdays) > 0 {
		out.WeekdayHours = make(map[time.Weekday]domain.DayHours, len(row.ClosedWeekdays))
		for _, wd := range row.ClosedWeekdays {
			if wd < 1 || wd > 7 {
				return domain.SchedulingSettings{}, fmt.Errorf("%w: weekday %d", store.ErrInvalidSettings, wd)
			}
			out.WeekdayHours[time.Weekday(wd%7)] = domain.DayHours{Closed: true}
		}
	}
	return out, nil
}
