package schedule

// Reason explains why a requested slot is not bookable.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonClosedDay    Reason = "closed_day"
	ReasonRestPeriod   Reason = "rest_period"
	ReasonOutsideHours Reason = "outside_hours"
	ReasonMalformed    Reason = "malformed"
	ReasonInPast       Reason = "in_past"
)

// Result is the validator verdict. Slot is set whenever the input parsed.
type Result struct {
	Slot   Slot
	Reason Reason
}

// Valid reports whether the slot passed every rule.
func (r Result) Valid() bool { return r.Reason == ReasonNone }

// Validate checks a raw (date, time) pair. A closed day is reported as soon
// as the date parses, whatever the time; otherwise unparseable input is
// Malformed and the parsed slot is checked for RestPeriod, OutsideHours and,
// when a clock is configured, InPast, in that order.
func (r Rules) Validate(date, clock string) Result {
	if d, err := r.parseDate(date); err == nil && d.Weekday() == r.ClosedDay {
		return Result{Reason: ReasonClosedDay}
	}
	slot, err := r.ParseSlot(date, clock)
	if err != nil {
		return Result{Reason: ReasonMalformed}
	}
	return r.ValidateSlot(slot)
}

// ValidateSlot applies the business rules to an already parsed slot.
func (r Rules) ValidateSlot(slot Slot) Result {
	local := slot.Start.In(r.location())
	res := Result{Slot: Slot{Start: local}}

	if local.Weekday() == r.ClosedDay {
		res.Reason = ReasonClosedDay
		return res
	}

	start := local.Hour()*60 + local.Minute()
	end := start + r.slotMinutes()

	if r.Rest.EndMinutes > r.Rest.StartMinutes && r.Rest.overlaps(start, end) {
		res.Reason = ReasonRestPeriod
		return res
	}

	inside := false
	if end <= minutesDay {
		for _, w := range r.Hours {
			if w.contains(start, end) {
				inside = true
				break
			}
		}
	}
	if !inside {
		res.Reason = ReasonOutsideHours
		return res
	}

	if r.Now != nil && !local.After(r.Now()) {
		res.Reason = ReasonInPast
	}
	return res
}
