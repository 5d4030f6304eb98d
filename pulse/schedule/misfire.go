package schedule

import "time"

// Decision is the dispatcher's verdict for a due trigger
type Decision struct {
	Fire     bool
	Slot     time.Time     // the anchored slot being served
	Lateness time.Duration // now - Slot
	Next     time.Time     // first anchored slot after now
}

// Decide applies the misfire policy to a due trigger. Only the latest
// missed slot is considered, so any number of missed firings collapse into
// at most one run, and only when that slot is no older than grace.
func Decide(anchor time.Time, interval, grace time.Duration, nextRunAt, now time.Time) Decision {
	if interval <= 0 {
		return Decision{Slot: nextRunAt, Lateness: now.Sub(nextRunAt), Next: nextRunAt}
	}

	slot := nextRunAt
	if now.After(anchor) {
		k := now.Sub(anchor) / interval
		if latest := anchor.Add(k * interval); latest.After(slot) {
			slot = latest
		}
	}

	lateness := now.Sub(slot)
	next := slot.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}

	return Decision{
		Fire:     lateness <= grace,
		Slot:     slot,
		Lateness: lateness,
		Next:     next,
	}
}
