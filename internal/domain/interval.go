package domain

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Overlaps reports whether [a.Start,a.End) and [b.Start,b.End) share any instant.
// Touching endpoints do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func OverlapsAny(span Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(span, b) {
			return true
		}
	}
	return false
}
