package availability

import (
	"math"
	"time"

	"agenda/backend/internal/domain"
)

const (
	defaultSlotIntervalMinutes = 30
	defaultLastSlotLeadMinutes = 30
	defaultCloseCutoffMinutes  = 0
)

// ResolvePositiveMinutes maps an optional setting to whole minutes. Missing or
// non-finite values use fallback; finite values are clamped at zero.
func ResolvePositiveMinutes(value *float64, fallback int) int {
	if value == nil {
		return fallback
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	if v < 0 {
		return 0
	}
	return int(math.Floor(v))
}

// window bounds the candidate spans for one day after policy is applied.
type window struct {
	earliestStart time.Time
	latestEnd     time.Time
}

func bookingWindow(operating domain.Interval, settings domain.SchedulingSettings, channel domain.Channel, isToday bool, now time.Time) window {
	w := window{earliestStart: operating.Start, latestEnd: operating.End}
	if channel == domain.ChannelStaff || !isToday {
		return w
	}

	lead := ResolvePositiveMinutes(settings.OnlineLastSlotBeforeCloseMinutes, defaultLastSlotLeadMinutes)
	if earliest := now.Add(time.Duration(lead) * time.Minute); earliest.After(w.earliestStart) {
		w.earliestStart = earliest
	}

	cutoff := ResolvePositiveMinutes(settings.OnlineCutoffBeforeCloseMinutes, defaultCloseCutoffMinutes)
	w.latestEnd = operating.End.Add(-time.Duration(cutoff) * time.Minute)
	return w
}

func slotStep(settings domain.SchedulingSettings) time.Duration {
	if settings.SlotIntervalMinutes <= 0 {
		return defaultSlotIntervalMinutes * time.Minute
	}
	return time.Duration(settings.SlotIntervalMinutes) * time.Minute
}
