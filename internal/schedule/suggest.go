package schedule

import (
	"context"
	"time"
)

// AvailabilityFunc reports whether a slot is free in the calendar.
type AvailabilityFunc func(ctx context.Context, slot Slot) (bool, error)

// SuggestOptions bounds the alternative-slot scan.
type SuggestOptions struct {
	Count       int
	HorizonDays int
}

// Suggest scans forward from the occupied slot on the slot grid and returns up
// to opts.Count slots that pass the rules and are reported free. The occupied
// slot itself is never returned. Days the clinic is closed are skipped by the
// rules, so the scan covers six days a week.
func (r Rules) Suggest(ctx context.Context, occupied Slot, available AvailabilityFunc, opts SuggestOptions) ([]Slot, error) {
	if opts.Count <= 0 {
		opts.Count = 3
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 14
	}
	loc := r.location()
	step := r.slotMinutes()

	from := occupied.Start.In(loc)
	if r.Now != nil {
		if now := r.Now().In(loc); now.After(from) {
			from = now
		}
	}

	out := make([]Slot, 0, opts.Count)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for d := 0; d < opts.HorizonDays; d++ {
		midnight := day.AddDate(0, 0, d)
		if midnight.Weekday() == r.ClosedDay {
			continue
		}
		for m := 0; m < minutesDay; m += step {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			candidate := Slot{Start: midnight.Add(time.Duration(m) * time.Minute)}
			if candidate.Start.Before(from) || candidate.Equal(occupied) {
				continue
			}
			if !r.ValidateSlot(candidate).Valid() {
				continue
			}
			free, err := available(ctx, candidate)
			if err != nil {
				return out, err
			}
			if !free {
				continue
			}
			out = append(out, candidate)
			if len(out) == opts.Count {
				return out, nil
			}
		}
	}
	return out, nil
}
