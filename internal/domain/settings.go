package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// Channel selects the booking policy. Public bookings are subject to the
// same-day cutoff rules, staff bookings are not.
type Channel string

const (
	ChannelPublic Channel = "public"
	ChannelStaff  Channel = "staff"
)

func ParseChannel(s string) Channel {
	if Channel(s) == ChannelStaff {
		return ChannelStaff
	}
	return ChannelPublic
}

// TimeGridConfig is the operating window shared by the dashboard agenda and
// the booking flow. HourHeight only matters to the UI.
type TimeGridConfig struct {
	StartHour  int
	EndHour    int
	HourHeight int
}

// DayHours overrides the grid for one weekday. Closed wins over the hours.
type DayHours struct {
	Closed    bool
	StartHour int
	EndHour   int
}

type SchedulingSettings struct {
	Grid                             TimeGridConfig
	SlotIntervalMinutes              int
	OnlineCutoffBeforeCloseMinutes   *float64
	OnlineLastSlotBeforeCloseMinutes *float64
	Location                         *time.Location
	WeekdayHours                     map[time.Weekday]DayHours
}

// OperatingWindow returns [open, close) for the calendar date of day, and
// false when the studio is closed that day or the hours are malformed.
func (s SchedulingSettings) OperatingWindow(day time.Time) (Interval, bool) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	date := DateOf(day, loc)

	startHour, endHour := s.Grid.StartHour, s.Grid.EndHour
	if h, ok := s.WeekdayHours[date.Weekday()]; ok {
		if h.Closed {
			return Interval{}, false
		}
		startHour, endHour = h.StartHour, h.EndHour
	}
	if startHour < 0 || endHour > 24 || endHour <= startHour {
		return Interval{}, false
	}

	return Interval{
		Start: time.Date(date.Year(), date.Month(), date.Day(), startHour, 0, 0, 0, loc),
		End:   time.Date(date.Year(), date.Month(), date.Day(), endHour, 0, 0, 0, loc),
	}, true
}

// SchedulingSettingsRow is the per-tenant override stored in postgres.
type SchedulingSettingsRow struct {
	bun.BaseModel `bun:"table:scheduling_settings"`

	TenantID                         string    `bun:"tenant_id,pk"`
	Timezone                         string    `bun:"timezone,notnull"`
	StartHour                        int       `bun:"start_hour,notnull"`
	EndHour                          int       `bun:"end_hour,notnull"`
	HourHeight                       int       `bun:"hour_height,notnull"`
	SlotIntervalMinutes              int       `bun:"slot_interval_minutes,notnull"`
	OnlineCutoffBeforeCloseMinutes   *float64  `bun:"online_cutoff_before_close_minutes"`
	OnlineLastSlotBeforeCloseMinutes *float64  `bun:"online_last_slot_before_close_minutes"`
	ClosedWeekdays                   []int16   `bun:"closed_weekdays,array"`
	UpdatedAt                        time.Time `bun:"updated_at,notnull"`
}
