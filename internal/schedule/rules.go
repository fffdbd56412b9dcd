// Package schedule holds the clinic's business-hour rules, the slot validator
// and the alternative-slot suggestion policy. Everything here is pure: no I/O
// beyond the availability callback handed to Suggest.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
	minutesDay  = 24 * 60
)

// Window is a daily [Start, End) interval expressed in minutes after local midnight.
type Window struct {
	StartMinutes int
	EndMinutes   int
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(v string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("schedule: window %q must look like HH:MM-HH:MM", v)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return Window{}, fmt.Errorf("schedule: parse window start: %w", err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return Window{}, fmt.Errorf("schedule: parse window end: %w", err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("schedule: window %q ends before it starts", v)
	}
	return Window{StartMinutes: start, EndMinutes: end}, nil
}

// ParseWindows parses a comma separated list of windows.
func ParseWindows(v string) ([]Window, error) {
	var out []Window
	for _, raw := range strings.Split(v, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		w, err := ParseWindow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schedule: no windows in %q", v)
	}
	return out, nil
}

func (w Window) contains(start, end int) bool {
	return start >= w.StartMinutes && end <= w.EndMinutes
}

func (w Window) overlaps(start, end int) bool {
	return start < w.EndMinutes && end > w.StartMinutes
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", formatMinutes(w.StartMinutes), formatMinutes(w.EndMinutes))
}

// Rules describes when the clinic accepts appointments.
type Rules struct {
	Location     *time.Location
	ClosedDay    time.Weekday
	Hours        []Window
	Rest         Window
	SlotDuration time.Duration
	// Now enables the InPast check when set.
	Now func() time.Time
}

// DefaultRules mirrors the clinic's published schedule: Monday to Saturday,
// 10:00-14:00 and 16:00-19:00, doctor unavailable 14:00-16:00, 20 minute slots.
func DefaultRules() Rules {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	return Rules{
		Location:  loc,
		ClosedDay: time.Sunday,
		Hours: []Window{
			{StartMinutes: 10 * 60, EndMinutes: 14 * 60},
			{StartMinutes: 16 * 60, EndMinutes: 19 * 60},
		},
		Rest:         Window{StartMinutes: 14 * 60, EndMinutes: 16 * 60},
		SlotDuration: 20 * time.Minute,
	}
}

// ParseWeekday accepts English weekday names ("sunday", "Sun").
func ParseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || (len(v) >= 3 && strings.HasPrefix(name, v)) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("schedule: unknown weekday %q", v)
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r Rules) slotMinutes() int {
	m := int(r.SlotDuration / time.Minute)
	if m <= 0 {
		return 20
	}
	return m
}

// HoursSummary renders the operating bands for spoken prompts, e.g.
// "10 AM to 2 PM or 4 PM to 7 PM".
func (r Rules) HoursSummary() string {
	parts := make([]string, 0, len(r.Hours))
	for _, w := range r.Hours {
		parts = append(parts, spokenMinutes(w.StartMinutes)+" to "+spokenMinutes(w.EndMinutes))
	}
	return strings.Join(parts, " or ")
}

// RestSummary renders the rest period for spoken prompts.
func (r Rules) RestSummary() string {
	return spokenMinutes(r.Rest.StartMinutes) + " to " + spokenMinutes(r.Rest.EndMinutes)
}

func parseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty clock")
	}
	t, err := time.Parse(clockLayout, v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func spokenMinutes(m int) string {
	h, min := m/60, m%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	if min == 0 {
		return fmt.Sprintf("%d %s", h12, suffix)
	}
	return fmt.Sprintf("%d:%02d %s", h12, min, suffix)
}
