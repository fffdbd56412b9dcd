package dialogue

import (
	"strings"
	"time"
)

// Intent is what the caller wants to do.
type Intent string

const (
	IntentUnknown    Intent = ""
	IntentSchedule   Intent = "schedule"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
)

// ParseIntent normalises free-form intent labels produced by the extractor.
func ParseIntent(v string) Intent {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "schedule", "book", "booking", "new":
		return IntentSchedule
	case "reschedule", "move", "change":
		return IntentReschedule
	case "cancel", "cancellation":
		return IntentCancel
	default:
		return IntentUnknown
	}
}

// needsPrior reports whether the intent operates on an existing appointment.
func (i Intent) needsPrior() bool {
	return i == IntentReschedule || i == IntentCancel
}

// needsSlot reports whether the intent needs a new date and time.
func (i Intent) needsSlot() bool {
	return i == IntentSchedule || i == IntentReschedule
}

// State is a node of the call state machine.
type State string

const (
	StateStart               State = "start"
	StateCaptureIntent       State = "capture_intent"
	StateCaptureMissingSlots State = "capture_missing_slots"
	StateValidateSlot        State = "validate_slot"
	StateCaptureEmail        State = "capture_email"
	StateConfirmEmail        State = "confirm_email"
	StateOfferReschedule     State = "offer_reschedule"
	StateCheckAvailability   State = "check_availability"
	StateAwaitSlotSelection  State = "await_slot_selection"
	StateCommitting          State = "committing"
	StateNotifying           State = "notifying"
	StateDone                State = "done"
)

// Step names a retry-bounded dialogue step.
type Step string

const (
	StepIntent       Step = "intent"
	StepSlots        Step = "slots"
	StepEmail        Step = "email"
	StepConfirmation Step = "confirmation"
	StepSelection    Step = "selection"
)

// YesNo is the confirmation oracle's classification.
type YesNo int

const (
	Unclear YesNo = iota
	Yes
	No
)

func (v YesNo) String() string {
	switch v {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unclear"
	}
}

// SlotCandidate is the untrusted output of the slot extractor for one turn.
// Empty fields mean "not mentioned".
type SlotCandidate struct {
	Intent   Intent `json:"intent,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	RawEmail string `json:"raw_email,omitempty"`
}

// Empty reports an extraction that produced nothing usable.
func (c SlotCandidate) Empty() bool {
	return c.Intent == IntentUnknown && strings.TrimSpace(c.Date) == "" &&
		strings.TrimSpace(c.Time) == "" && strings.TrimSpace(c.RawEmail) == ""
}

// FailureKind is the error taxonomy recorded on the session.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailureExtraction            FailureKind = "extraction_failure"
	FailureValidation            FailureKind = "validation_failure"
	FailureAvailabilityConflict  FailureKind = "availability_conflict"
	FailureConfirmationAmbiguous FailureKind = "confirmation_ambiguous"
	FailureNotFound              FailureKind = "not_found"
	FailureCommit                FailureKind = "commit_failure"
	FailureMaxRetries            FailureKind = "max_retries_exceeded"
	FailureDependency            FailureKind = "dependency_failure"
)

// OutcomeKind is the terminal result of a call.
type OutcomeKind string

const (
	OutcomeBooked      OutcomeKind = "booked"
	OutcomeCancelled   OutcomeKind = "cancelled"
	OutcomeRescheduled OutcomeKind = "rescheduled"
	OutcomeAbandoned   OutcomeKind = "abandoned"
)

// AbandonReason qualifies an Abandoned outcome.
type AbandonReason string

const (
	ReasonMaxRetries               AbandonReason = "max_retries"
	ReasonNotFound                 AbandonReason = "not_found"
	ReasonBookingFailedAfterCancel AbandonReason = "booking_failed_after_cancel"
	ReasonCommitFailure            AbandonReason = "commit_failure"
	ReasonServiceUnavailable       AbandonReason = "service_unavailable"
	ReasonCallerDeclined           AbandonReason = "caller_declined"
	ReasonCallerHungUp             AbandonReason = "caller_hung_up"
	ReasonTimeout                  AbandonReason = "timeout"
)

// Outcome is a terminal session result.
type Outcome struct {
	Kind   OutcomeKind   `json:"kind"`
	Reason AbandonReason `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// NeedsManualRecovery marks outcomes that left the calendar in a state an
// operator has to repair.
func (o Outcome) NeedsManualRecovery() bool {
	return o.Kind == OutcomeAbandoned && o.Reason == ReasonBookingFailedAfterCancel
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + "(" + string(o.Reason) + ")"
}

// AudioHandle is whatever the synthesizer produced for the telephony layer:
// either pre-rendered audio at URL or text the provider speaks itself.
type AudioHandle struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Reply is what one engine step hands back to the telephony layer.
type Reply struct {
	Prompt   string      `json:"prompt"`
	Audio    AudioHandle `json:"audio"`
	Terminal bool        `json:"terminal"`
	Outcome  *Outcome    `json:"outcome,omitempty"`
}

// Transition is one audited state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Trigger string    `json:"trigger"`
	At      time.Time `json:"at"`
}

// TranscriptEntry is one spoken line of the call.
type TranscriptEntry struct {
	Role      string    `json:"role"` // "caller" or "agent"
	Text      string    `json:"text"`
	State     State     `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)
