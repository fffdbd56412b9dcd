package dialogue

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

var (
	// ErrSessionClosed is returned when a turn arrives for a terminal session.
	ErrSessionClosed = errors.New("dialogue: session is closed")
	// ErrSessionNotFound is returned by session stores for unknown call IDs.
	ErrSessionNotFound = errors.New("dialogue: session not found")
	// ErrTurnInProgress is returned when another turn of the same call holds the lock.
	ErrTurnInProgress = errors.New("dialogue: turn already in progress")
)

// SlotExtractor maps an utterance to untrusted structured fields. It never
// fails; an unusable utterance yields an empty candidate.
type SlotExtractor interface {
	Extract(ctx context.Context, prior Intent, text string) SlotCandidate
}

// EmailReconstructor turns spoken or spelled email text into an address.
// An empty string means nothing usable was heard.
type EmailReconstructor interface {
	ReconstructEmail(ctx context.Context, raw string) string
}

// YesNoClassifier is the confirmation oracle.
type YesNoClassifier interface {
	ClassifyYesNo(ctx context.Context, text string) YesNo
}

// AvailabilityChecker reports whether a slot is free in the calendar store.
type AvailabilityChecker interface {
	IsSlotAvailable(ctx context.Context, slot schedule.Slot) (bool, error)
}

// BookingActuator commits calendar mutations. CreateAppointment returns
// schedule.ErrSlotTaken when the store rejects the slot.
type BookingActuator interface {
	CreateAppointment(ctx context.Context, slot schedule.Slot, subject, email string) (schedule.Appointment, error)
	CancelAppointment(ctx context.Context, appt schedule.Appointment) error
}

// AppointmentFinder locates the next upcoming appointment for an email.
// A nil appointment with a nil error means none exists.
type AppointmentFinder interface {
	FindUpcomingAppointment(ctx context.Context, email string) (*schedule.Appointment, error)
}

// Calendar is the full calendar capability set the engine needs.
type Calendar interface {
	AvailabilityChecker
	BookingActuator
	AppointmentFinder
}

// Notifier delivers a message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// Transcriber converts one recorded turn into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// Synthesizer renders a prompt for playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioHandle, error)
}

// SessionStore persists sessions between turns and serialises turns of one call.
type SessionStore interface {
	Save(ctx context.Context, s *CallSession) error
	Load(ctx context.Context, callID string) (*CallSession, error)
	// Lock acquires the per-call turn lock. It returns ErrTurnInProgress when
	// held elsewhere; the returned func releases it.
	Lock(ctx context.Context, callID string) (func(), error)
	AppendTranscript(ctx context.Context, callID string, entries ...TranscriptEntry) error
	Transcript(ctx context.Context, callID string) ([]TranscriptEntry, error)
}

// OutcomeRecord is the durable summary of a finished call.
type OutcomeRecord struct {
	CallID        string                `json:"call_id"`
	CallerPhone   string                `json:"caller_phone,omitempty"`
	Intent        Intent                `json:"intent,omitempty"`
	Email         string                `json:"email,omitempty"`
	Outcome       Outcome               `json:"outcome"`
	LastFailure   FailureKind           `json:"last_failure,omitempty"`
	Appointment   *schedule.Appointment `json:"appointment,omitempty"`
	Prior         *schedule.Appointment `json:"prior,omitempty"`
	Turns         int                   `json:"turns"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	ManualRecover bool                  `json:"manual_recovery,omitempty"`
}

// NewOutcomeRecord summarises a terminal session.
func NewOutcomeRecord(s *CallSession) OutcomeRecord {
	rec := OutcomeRecord{
		CallID:      s.ID,
		CallerPhone: s.CallerPhone,
		Intent:      s.Intent,
		Email:       s.Email,
		LastFailure: s.LastFailure,
		Appointment: s.Booked,
		Prior:       s.PriorAppointment,
		Turns:       s.TurnCount,
		StartedAt:   s.CreatedAt,
		FinishedAt:  s.LastActivityAt,
	}
	if s.Outcome != nil {
		rec.Outcome = *s.Outcome
		rec.FinishedAt = s.Outcome.At
		rec.ManualRecover = s.Outcome.NeedsManualRecovery()
	}
	return rec
}

// OutcomeRecorder stores terminal outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
}

// RecoveryQueue hands outcomes needing operator follow-up to another system.
type RecoveryQueue interface {
	EnqueueRecovery(ctx context.Context, rec OutcomeRecord) error
}

// TranscriptArchiver keeps a copy of finished call transcripts.
type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, rec OutcomeRecord, entries []TranscriptEntry) error
}
