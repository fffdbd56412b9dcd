package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSlotTaken is returned by a calendar when the slot is already occupied
	// at commit time.
	ErrSlotTaken = errors.New("schedule: slot already taken")

	// ErrAppointmentNotFound is returned when an appointment reference no
	// longer resolves to a live event.
	ErrAppointmentNotFound = errors.New("schedule: appointment not found")
)

// Slot is a bookable appointment start. The duration comes from Rules.
type Slot struct {
	Start time.Time `json:"start"`
}

// Date returns the slot date as YYYY-MM-DD.
func (s Slot) Date() string { return s.Start.Format(dateLayout) }

// Clock returns the slot start as 24h HH:MM.
func (s Slot) Clock() string { return s.Start.Format(clockLayout) }

// End returns the slot end for the given duration.
func (s Slot) End(d time.Duration) time.Time { return s.Start.Add(d) }

// Equal compares slot starts as instants.
func (s Slot) Equal(o Slot) bool { return s.Start.Equal(o.Start) }

// Spoken renders the slot for text-to-speech, e.g. "Monday, October 20 at 11 AM".
func (s Slot) Spoken() string {
	return s.Start.Format("Monday, January 2") + " at " + spokenMinutes(s.Start.Hour()*60+s.Start.Minute())
}

func (s Slot) String() string { return s.Date() + " " + s.Clock() }

// Appointment is a booked calendar event.
type Appointment struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Email   string    `json:"email"`
	Subject string    `json:"subject,omitempty"`
	Link    string    `json:"link,omitempty"`
}

// Slot returns the appointment's start slot.
func (a Appointment) Slot() Slot { return Slot{Start: a.Start} }

// ParseSlot parses a YYYY-MM-DD date and a clock time in the rules' location.
// Accepted clock forms: "15:04", "15.04", "3:04 PM", "3 PM", "3pm".
func (r Rules) ParseSlot(date, clock string) (Slot, error) {
	d, err := r.parseDate(date)
	if err != nil {
		return Slot{}, err
	}
	minutes, err := parseSpokenClock(clock)
	if err != nil {
		return Slot{}, err
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), minutes/60, minutes%60, 0, 0, r.location())
	return Slot{Start: start}, nil
}

func (r Rules) parseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), r.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: parse date %q: %w", date, err)
	}
	return d, nil
}

var clockLayouts = []string{"15:04", "15.04", "3:04 PM", "3:04PM", "3 PM", "3PM", "15"}

func parseSpokenClock(v string) (int, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "A.M.", "AM")
	v = strings.ReplaceAll(v, "P.M.", "PM")
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("schedule: parse time %q", v)
}
