package dialogue

import (
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

// SlotStatus tracks how far the pending date/time has been trusted.
type SlotStatus string

const (
	SlotRaw       SlotStatus = ""
	SlotValidated SlotStatus = "validated"
	SlotAvailable SlotStatus = "available"
)

// CallSession is the per-call dialogue state. The engine is its only writer.
type CallSession struct {
	ID          string `json:"id"`
	CallerPhone string `json:"caller_phone,omitempty"`
	State       State  `json:"state"`
	Intent      Intent `json:"intent,omitempty"`

	PendingDate string         `json:"pending_date,omitempty"`
	PendingTime string         `json:"pending_time,omitempty"`
	SlotStatus  SlotStatus     `json:"slot_status,omitempty"`
	Slot        *schedule.Slot `json:"slot,omitempty"`

	Email          string `json:"email,omitempty"`
	EmailConfirmed bool   `json:"email_confirmed,omitempty"`

	PriorAppointment *schedule.Appointment `json:"prior_appointment,omitempty"`
	DuplicateChecked bool                  `json:"duplicate_checked,omitempty"`
	Existing         *schedule.Appointment `json:"existing,omitempty"`
	Suggestions      []schedule.Slot       `json:"suggestions,omitempty"`
	Booked           *schedule.Appointment `json:"booked,omitempty"`

	Retries     map[Step]int `json:"retries,omitempty"`
	LastFailure FailureKind  `json:"last_failure,omitempty"`
	Outcome     *Outcome     `json:"outcome,omitempty"`
	LastPrompt  string       `json:"last_prompt,omitempty"`

	TurnCount      int          `json:"turn_count"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	History        []Transition `json:"history,omitempty"`
}

// NewCallSession creates a session in the Start state.
func NewCallSession(id, callerPhone string, now time.Time) *CallSession {
	return &CallSession{
		ID:             id,
		CallerPhone:    callerPhone,
		State:          StateStart,
		Retries:        map[Step]int{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Terminal reports whether the session has reached Done.
func (s *CallSession) Terminal() bool {
	return s.State == StateDone || s.Outcome != nil
}

// RetryCount returns the current counter for a step.
func (s *CallSession) RetryCount(step Step) int {
	return s.Retries[step]
}

// bump increments a step counter and reports whether the bound is reached.
func (s *CallSession) bump(step Step, max int) bool {
	if s.Retries == nil {
		s.Retries = map[Step]int{}
	}
	s.Retries[step]++
	return s.Retries[step] >= max
}

func (s *CallSession) resetRetries(steps ...Step) {
	for _, step := range steps {
		delete(s.Retries, step)
	}
}

func (s *CallSession) transition(to State, trigger string, at time.Time) error {
	if !CanTransition(s.State, to) {
		return illegal(s.State, to)
	}
	s.History = append(s.History, Transition{From: s.State, To: to, Trigger: trigger, At: at})
	s.State = to
	return nil
}

// merge applies the sticky-slot policy: non-empty candidate fields overwrite,
// empty ones keep what the session already holds. Any re-extracted date or
// time drops the slot back to raw so it is validated again.
func (s *CallSession) merge(c SlotCandidate, withIntent bool) {
	if withIntent && c.Intent != IntentUnknown && c.Intent != s.Intent {
		s.Intent = c.Intent
		s.DuplicateChecked = false
		s.Existing = nil
		if !c.Intent.needsPrior() {
			s.PriorAppointment = nil
		}
	}
	date := strings.TrimSpace(c.Date)
	clock := strings.TrimSpace(c.Time)
	if date != "" {
		s.PendingDate = date
	}
	if clock != "" {
		s.PendingTime = clock
	}
	if date != "" || clock != "" {
		s.invalidateSlot()
	}
}

func (s *CallSession) invalidateSlot() {
	s.SlotStatus = SlotRaw
	s.Slot = nil
	s.Suggestions = nil
}

// setSlot replaces the pending date/time with a concrete slot.
func (s *CallSession) setSlot(slot schedule.Slot) {
	s.PendingDate = slot.Date()
	s.PendingTime = slot.Clock()
	s.invalidateSlot()
}

// missingSlots lists the unknown fields among intent, date and time.
func (s *CallSession) missingSlots() []string {
	var missing []string
	if s.Intent == IntentUnknown {
		missing = append(missing, "intent")
	}
	if s.Intent.needsSlot() || s.Intent == IntentUnknown {
		if s.PendingDate == "" {
			missing = append(missing, "date")
		}
		if s.PendingTime == "" {
			missing = append(missing, "time")
		}
	}
	return missing
}

func (s *CallSession) clearEmail() {
	s.Email = ""
	s.EmailConfirmed = false
}
