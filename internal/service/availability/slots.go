package availability

import (
	"sort"
	"time"

	"agenda/backend/internal/domain"
)

const slotLayout = "15:04"

// dayInput is everything the slot scan needs for one calendar date. It is
// assembled by the caller so the scan itself never touches storage.
type dayInput struct {
	date         time.Time
	settings     domain.SchedulingSettings
	service      domain.ServiceDescriptor
	appointments []domain.Appointment
	blocks       []domain.AvailabilityBlock
	ignoreBlocks bool
	channel      domain.Channel
	now          time.Time
}

// computeSlots returns the accepted candidate starts for in.date in
// chronological order.
func computeSlots(in dayInput) []time.Time {
	if in.service.DurationMinutes <= 0 {
		return nil
	}
	loc := location(in.settings)
	date := domain.DateOf(in.date, loc)
	today := domain.DateOf(in.now, loc)
	if date.Before(today) {
		return nil
	}

	operating, open := in.settings.OperatingWindow(date)
	if !open {
		return nil
	}

	span := time.Duration(in.service.TotalSpanMinutes()) * time.Minute
	step := slotStep(in.settings)
	bounds := bookingWindow(operating, in.settings, in.channel, date.Equal(today), in.now)
	busy := busyIntervals(date, operating, loc, in.appointments, in.blocks, in.ignoreBlocks)

	var out []time.Time
	for t := operating.Start; !t.Add(span).After(operating.End); t = t.Add(step) {
		if t.Before(bounds.earliestStart) {
			continue
		}
		candidate := domain.Interval{Start: t, End: t.Add(span)}
		if candidate.End.After(bounds.latestEnd) {
			break
		}
		if domain.OverlapsAny(candidate, busy) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// busyIntervals collects the occupied spans for date. Full-day blocks
// occupy the whole operating window; shift blocks survive ignoreBlocks.
func busyIntervals(date time.Time, operating domain.Interval, loc *time.Location, appts []domain.Appointment, blocks []domain.AvailabilityBlock, ignoreBlocks bool) []domain.Interval {
	out := make([]domain.Interval, 0, len(appts)+len(blocks))
	for _, a := range appts {
		if !a.Status.Occupies() {
			continue
		}
		if iv := a.BusyInterval(); iv.Valid() {
			out = append(out, iv)
		}
	}
	for _, b := range blocks {
		if ignoreBlocks && !b.IsShift() {
			continue
		}
		if b.IsFullDay {
			if b.CoversDate(date, loc) {
				out = append(out, operating)
			}
			continue
		}
		iv := domain.Interval{Start: b.StartTime, End: b.EndTime}
		if iv.Valid() {
			out = append(out, iv)
		}
	}
	return out
}

// formatSlots renders starts as local "HH:MM", sorted and without duplicates.
func formatSlots(starts []time.Time, loc *time.Location) []string {
	out := make([]string, 0, len(starts))
	seen := make(map[string]struct{}, len(starts))
	sorted := append([]time.Time(nil), starts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for _, t := range sorted {
		s := t.In(loc).Format(slotLayout)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func location(settings domain.SchedulingSettings) *time.Location {
	if settings.Location == nil {
		return time.UTC
	}
	return settings.Location
}

// dayRange is [midnight, next midnight) of date in loc.
func dayRange(date time.Time, loc *time.Location) (time.Time, time.Time) {
	start := domain.DateOf(date, loc)
	return start, start.AddDate(0, 0, 1)
}

// appointmentsOn keeps appointments starting on the day, matching the
// range semantics of AppointmentReader.
func appointmentsOn(appts []domain.Appointment, dayStart, dayEnd time.Time) []domain.Appointment {
	var out []domain.Appointment
	for _, a := range appts {
		if !a.StartTime.Before(dayStart) && a.StartTime.Before(dayEnd) {
			out = append(out, a)
		}
	}
	return out
}

// blocksOn keeps blocks intersecting the day, matching BlockReader.
func blocksOn(blocks []domain.AvailabilityBlock, dayStart, dayEnd time.Time) []domain.AvailabilityBlock {
	var out []domain.AvailabilityBlock
	for _, b := range blocks {
		if b.StartTime.Before(dayEnd) && !b.EndTime.Before(dayStart) {
			out = append(out, b)
		}
	}
	return out
}
