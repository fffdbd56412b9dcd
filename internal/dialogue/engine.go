package dialogue

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

var dialogueTracer = otel.Tracer("clinicvoice.internal.dialogue")

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Collaborators are the capability handles the engine drives.
type Collaborators struct {
	Extractor SlotExtractor
	Emails    EmailReconstructor
	YesNo     YesNoClassifier
	Calendar  Calendar
	Notifier  Notifier
}

// EngineOptions tunes the dialogue policy.
type EngineOptions struct {
	Rules         schedule.Rules
	MaxRetries    int
	Suggest       schedule.SuggestOptions
	ClinicName    string
	ClinicEmail   string
	Subject       string
	NotifyTimeout time.Duration
	Metrics       *metrics.DialogueMetrics
	Now           func() time.Time
}

// Engine runs one caller turn at a time against a CallSession. It holds no
// per-call state and is safe for concurrent use across sessions.
type Engine struct {
	rules         schedule.Rules
	maxRetries    int
	suggest       schedule.SuggestOptions
	clinicName    string
	clinicEmail   string
	subject       string
	notifyTimeout time.Duration

	extractor SlotExtractor
	emails    EmailReconstructor
	yesno     YesNoClassifier
	calendar  Calendar
	notifier  Notifier

	metrics *metrics.DialogueMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewEngine wires the collaborators into an engine.
func NewEngine(c Collaborators, opts EngineOptions, logger *logging.Logger) (*Engine, error) {
	switch {
	case c.Extractor == nil:
		return nil, errors.New("dialogue: slot extractor required")
	case c.Emails == nil:
		return nil, errors.New("dialogue: email reconstructor required")
	case c.YesNo == nil:
		return nil, errors.New("dialogue: yes/no classifier required")
	case c.Calendar == nil:
		return nil, errors.New("dialogue: calendar required")
	case c.Notifier == nil:
		return nil, errors.New("dialogue: notifier required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.Subject == "" {
		opts.Subject = "Appointment with " + orClinic(opts.ClinicName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rules.Now == nil {
		opts.Rules.Now = opts.Now
	}
	return &Engine{
		rules:         opts.Rules,
		maxRetries:    opts.MaxRetries,
		suggest:       opts.Suggest,
		clinicName:    opts.ClinicName,
		clinicEmail:   opts.ClinicEmail,
		subject:       opts.Subject,
		notifyTimeout: opts.NotifyTimeout,
		extractor:     c.Extractor,
		emails:        c.Emails,
		yesno:         c.YesNo,
		calendar:      c.Calendar,
		notifier:      c.Notifier,
		metrics:       opts.Metrics,
		logger:        logger,
		now:           opts.Now,
	}, nil
}

// Start moves a fresh session into intent capture and returns the greeting.
func (e *Engine) Start(ctx context.Context, s *CallSession) (Reply, error) {
	if s.State != StateStart {
		return Reply{}, fmt.Errorf("dialogue: start: session %s already in %s", s.ID, s.State)
	}
	return e.ask(s, StateCaptureIntent, "call_started", greeting(e.clinicName))
}

// Step consumes one transcribed caller utterance. Collaborator failures are
// turned into outcomes on the session; the returned error is reserved for
// closed sessions and broken transitions.
func (e *Engine) Step(ctx context.Context, s *CallSession, text string) (Reply, error) {
	ctx, span := dialogueTracer.Start(ctx, "dialogue.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicvoice.call_id", s.ID),
		attribute.String("clinicvoice.state", string(s.State)),
	)

	if s.Terminal() {
		return Reply{}, ErrSessionClosed
	}
	if !s.State.awaitsInput() {
		return Reply{}, fmt.Errorf("%w: %s does not take caller input", ErrIllegalTransition, s.State)
	}
	s.TurnCount++
	s.LastActivityAt = e.now()
	e.metrics.ObserveTurn(string(s.State))
	text = strings.TrimSpace(text)

	var (
		reply Reply
		err   error
	)
	switch s.State {
	case StateCaptureIntent, StateCaptureMissingSlots:
		reply, err = e.onSlots(ctx, s, text)
	case StateCaptureEmail:
		reply, err = e.onEmailSpelling(ctx, s, text)
	case StateConfirmEmail:
		reply, err = e.onEmailConfirmation(ctx, s, text)
	case StateOfferReschedule:
		reply, err = e.onRescheduleOffer(ctx, s, text)
	default: // StateAwaitSlotSelection
		reply, err = e.onSelection(ctx, s, text)
	}
	if err != nil {
		span.RecordError(err)
		e.log(s).Error("dialogue step failed", "state", s.State, "error", err)
		return Reply{}, err
	}
	span.SetAttributes(attribute.String("clinicvoice.next_state", string(s.State)))
	return reply, nil
}

// Abandon ends a live session from outside the turn flow (hang-up, timeout).
func (e *Engine) Abandon(s *CallSession, reason AbandonReason, prompt string) (Reply, error) {
	if s.Terminal() {
		return Reply{}, ErrSessionClosed
	}
	return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: reason}, prompt)
}

func (e *Engine) onSlots(ctx context.Context, s *CallSession, text string) (Reply, error) {
	var cand SlotCandidate
	if text != "" {
		cand = e.extractor.Extract(ctx, s.Intent, text)
	}
	if cand.Empty() {
		return e.extractionFailed(s, promptNotHeard)
	}

	before := len(s.missingSlots())
	prevIntent, prevDate, prevTime := s.Intent, s.PendingDate, s.PendingTime
	s.merge(cand, true)

	emailAccepted := false
	if cand.RawEmail != "" && !s.EmailConfirmed {
		if email := e.reconstructEmail(ctx, cand.RawEmail); email != "" {
			s.Email = email
			emailAccepted = true
		}
	}

	if s.Intent == IntentUnknown {
		return e.extractionFailed(s, "")
	}
	if prevIntent == IntentUnknown {
		s.resetRetries(StepIntent)
	}

	changed := s.PendingDate != prevDate || s.PendingTime != prevTime
	progressed := len(s.missingSlots()) < before || changed ||
		s.Intent != prevIntent || emailAccepted
	if s.State == StateCaptureMissingSlots && !progressed {
		return e.extractionFailed(s, promptNotHeard)
	}
	return e.proceed(ctx, s, "")
}

// extractionFailed handles a turn that yielded nothing usable for the
// current step.
func (e *Engine) extractionFailed(s *CallSession, lead string) (Reply, error) {
	step := StepSlots
	if s.Intent == IntentUnknown {
		step = StepIntent
	}
	if e.fail(s, step, FailureExtraction) {
		return e.exhausted(s, step)
	}
	if s.Intent == IntentUnknown {
		return e.ask(s, StateCaptureIntent, "intent_missing", join(lead, promptIntent))
	}
	return e.ask(s, StateCaptureMissingSlots, "slots_missing", join(lead, askMissing(s.missingSlots())))
}

// proceed routes a session whose facts changed to the next state.
func (e *Engine) proceed(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	switch {
	case s.Intent == IntentUnknown:
		return e.ask(s, StateCaptureIntent, "intent_missing", join(lead, promptIntent))
	case s.Intent.needsPrior() && !s.EmailConfirmed:
		return e.askEmail(s, join(lead, "I'll need the email address you booked with."))
	case s.Intent.needsPrior() && s.PriorAppointment == nil:
		prior, reply, done, err := e.locatePrior(ctx, s)
		if done || err != nil {
			return reply, err
		}
		s.PriorAppointment = prior
		lead = join(lead, fmt.Sprintf("I found your appointment on %s.", prior.Slot().Spoken()))
		return e.proceed(ctx, s, lead)
	case s.Intent == IntentCancel:
		return e.commitCancel(ctx, s, lead)
	}
	if missing := s.missingSlots(); len(missing) > 0 {
		return e.ask(s, StateCaptureMissingSlots, "slots_missing", join(lead, askMissing(missing)))
	}
	return e.validate(ctx, s, lead)
}

func (e *Engine) locatePrior(ctx context.Context, s *CallSession) (*schedule.Appointment, Reply, bool, error) {
	start := time.Now()
	prior, err := e.calendar.FindUpcomingAppointment(ctx, s.Email)
	e.metrics.ObserveDependency("calendar.find_upcoming", time.Since(start).Seconds(), err)
	if err != nil {
		e.log(s).Error("find upcoming appointment failed", "error", err)
		reply, ferr := e.dependencyDown(s)
		return nil, reply, true, ferr
	}
	if prior == nil {
		e.recordFailure(s, FailureNotFound)
		reply, ferr := e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonNotFound},
			fmt.Sprintf("I couldn't find an upcoming appointment for %s. Please call the clinic if you think this is a mistake. Goodbye.", spokenEmail(s.Email)))
		return nil, reply, true, ferr
	}
	return prior, Reply{}, false, nil
}

func (e *Engine) validate(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	if err := s.transition(StateValidateSlot, "slot_complete", e.now()); err != nil {
		return Reply{}, err
	}
	res := e.rules.Validate(s.PendingDate, s.PendingTime)
	if !res.Valid() {
		e.log(s).Info("slot rejected", "date", s.PendingDate, "time", s.PendingTime, "reason", res.Reason)
		return e.slotRejected(s, res.Reason, join(lead, explainValidation(res.Reason, e.rules)))
	}
	if s.Intent == IntentReschedule && s.PriorAppointment != nil && res.Slot.Equal(s.PriorAppointment.Slot()) {
		return e.slotRejected(s, schedule.ReasonNone, join(lead, "That's the time you're already booked for."))
	}
	slot := res.Slot
	s.Slot = &slot
	s.SlotStatus = SlotValidated
	return e.afterValidation(ctx, s, lead)
}

// slotRejected clears the offending field and asks for a replacement, keeping
// the rest of the request.
func (e *Engine) slotRejected(s *CallSession, reason schedule.Reason, explanation string) (Reply, error) {
	if e.fail(s, StepSlots, FailureValidation) {
		return e.exhausted(s, StepSlots)
	}
	switch reason {
	case schedule.ReasonClosedDay:
		s.PendingDate = ""
	case schedule.ReasonMalformed, schedule.ReasonInPast:
		s.PendingDate, s.PendingTime = "", ""
	default:
		s.PendingTime = ""
	}
	s.invalidateSlot()
	return e.ask(s, StateCaptureMissingSlots, "validation_failed", join(explanation, askMissing(s.missingSlots())))
}

func (e *Engine) afterValidation(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	if !s.EmailConfirmed {
		return e.askEmail(s, lead)
	}
	if s.Intent == IntentSchedule && !s.DuplicateChecked {
		start := time.Now()
		existing, err := e.calendar.FindUpcomingAppointment(ctx, s.Email)
		e.metrics.ObserveDependency("calendar.find_upcoming", time.Since(start).Seconds(), err)
		if err != nil {
			e.log(s).Error("duplicate booking check failed", "error", err)
			return e.dependencyDown(s)
		}
		s.DuplicateChecked = true
		if existing != nil {
			s.Existing = existing
			e.log(s).Info("duplicate booking prevented", "existing_id", existing.ID)
			prompt := fmt.Sprintf("You already have an appointment on %s, so I can't book a second one. Would you like me to move it to %s instead?",
				existing.Slot().Spoken(), s.Slot.Spoken())
			return e.ask(s, StateOfferReschedule, "duplicate_found", join(lead, prompt))
		}
	}
	return e.checkAvailability(ctx, s, lead)
}

func (e *Engine) checkAvailability(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	if err := s.transition(StateCheckAvailability, "slot_validated", e.now()); err != nil {
		return Reply{}, err
	}
	slot := *s.Slot
	start := time.Now()
	free, err := e.calendar.IsSlotAvailable(ctx, slot)
	e.metrics.ObserveDependency("calendar.is_available", time.Since(start).Seconds(), err)
	if err != nil {
		e.log(s).Error("availability check failed", "slot", slot.String(), "error", err)
		return e.dependencyDown(s)
	}
	if !free {
		return e.conflict(ctx, s, slot, lead)
	}
	s.SlotStatus = SlotAvailable
	return e.commit(ctx, s, lead)
}

// conflict offers alternatives for an occupied slot.
func (e *Engine) conflict(ctx context.Context, s *CallSession, occupied schedule.Slot, lead string) (Reply, error) {
	if e.fail(s, StepSlots, FailureAvailabilityConflict) {
		return e.exhausted(s, StepSlots)
	}
	s.invalidateSlot()
	alts, err := e.rules.Suggest(ctx, occupied, e.isAvailable, e.suggest)
	if err != nil {
		e.log(s).Error("slot suggestion failed", "error", err)
		return e.dependencyDown(s)
	}
	taken := fmt.Sprintf("Sorry, %s is already taken.", occupied.Spoken())
	if len(alts) == 0 {
		s.PendingDate, s.PendingTime = "", ""
		return e.ask(s, StateCaptureMissingSlots, "no_alternatives",
			join(lead, taken, "I couldn't find an opening soon after that.", askMissing(s.missingSlots())))
	}
	s.Suggestions = alts
	return e.ask(s, StateAwaitSlotSelection, "slot_conflict", join(lead, taken, listSuggestions(alts)))
}

func (e *Engine) isAvailable(ctx context.Context, slot schedule.Slot) (bool, error) {
	start := time.Now()
	free, err := e.calendar.IsSlotAvailable(ctx, slot)
	e.metrics.ObserveDependency("calendar.is_available", time.Since(start).Seconds(), err)
	return free, err
}

func (e *Engine) askEmail(s *CallSession, lead string) (Reply, error) {
	if s.Email != "" {
		return e.ask(s, StateConfirmEmail, "email_tentative", join(lead, confirmEmail(s.Email)))
	}
	return e.ask(s, StateCaptureEmail, "email_missing", join(lead, promptSpellEmail))
}

func (e *Engine) onEmailSpelling(ctx context.Context, s *CallSession, text string) (Reply, error) {
	email := ""
	if text != "" {
		email = e.reconstructEmail(ctx, text)
	}
	if email == "" {
		if e.fail(s, StepEmail, FailureExtraction) {
			return e.exhausted(s, StepEmail)
		}
		return e.ask(s, StateCaptureEmail, "email_unintelligible", join("Sorry, I couldn't make out that email address.", promptSpellEmail))
	}
	s.Email = email
	s.EmailConfirmed = false
	return e.ask(s, StateConfirmEmail, "email_spelled", confirmEmail(email))
}

func (e *Engine) onEmailConfirmation(ctx context.Context, s *CallSession, text string) (Reply, error) {
	switch e.classify(ctx, text) {
	case Yes:
		s.EmailConfirmed = true
		s.resetRetries(StepEmail, StepConfirmation)
		e.log(s).Info("email confirmed")
		return e.proceed(ctx, s, "Thank you.")
	case No:
		s.clearEmail()
		if e.fail(s, StepEmail, FailureNone) {
			return e.exhausted(s, StepEmail)
		}
		return e.ask(s, StateCaptureEmail, "email_rejected", join("Let's try that again.", promptSpellEmail))
	default:
		if e.fail(s, StepConfirmation, FailureConfirmationAmbiguous) {
			return e.exhausted(s, StepConfirmation)
		}
		return e.ask(s, StateConfirmEmail, "confirmation_unclear", join("Please answer yes or no.", confirmEmail(s.Email)))
	}
}

func (e *Engine) onRescheduleOffer(ctx context.Context, s *CallSession, text string) (Reply, error) {
	switch e.classify(ctx, text) {
	case Yes:
		s.Intent = IntentReschedule
		s.PriorAppointment = s.Existing
		s.Existing = nil
		s.resetRetries(StepConfirmation)
		return e.validate(ctx, s, "")
	case No:
		prompt := "Okay, I'll leave your appointment as it is. Goodbye."
		if s.Existing != nil {
			prompt = fmt.Sprintf("Okay, your appointment on %s stays as it is. Goodbye.", s.Existing.Slot().Spoken())
		}
		return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonCallerDeclined}, prompt)
	default:
		if e.fail(s, StepConfirmation, FailureConfirmationAmbiguous) {
			return e.exhausted(s, StepConfirmation)
		}
		return e.ask(s, StateOfferReschedule, "confirmation_unclear",
			"Please answer yes or no. Would you like me to move your existing appointment?")
	}
}

func (e *Engine) onSelection(ctx context.Context, s *CallSession, text string) (Reply, error) {
	if idx, ok := parseSelection(text, len(s.Suggestions)); ok {
		chosen := s.Suggestions[idx]
		s.setSlot(chosen)
		s.resetRetries(StepSelection)
		e.log(s).Info("alternative selected", "slot", chosen.String())
		return e.validate(ctx, s, "")
	}
	if text != "" {
		cand := e.extractor.Extract(ctx, s.Intent, text)
		if cand.Date != "" || cand.Time != "" {
			s.merge(SlotCandidate{Date: cand.Date, Time: cand.Time}, false)
			s.resetRetries(StepSelection)
			if missing := s.missingSlots(); len(missing) > 0 {
				return e.ask(s, StateCaptureMissingSlots, "slots_missing", askMissing(missing))
			}
			return e.validate(ctx, s, "")
		}
	}
	if e.fail(s, StepSelection, FailureExtraction) {
		return e.exhausted(s, StepSelection)
	}
	return e.ask(s, StateAwaitSlotSelection, "selection_unclear",
		join("Sorry, I didn't catch which one you'd like.", listSuggestions(s.Suggestions)))
}

func (e *Engine) reconstructEmail(ctx context.Context, raw string) string {
	email := strings.TrimSpace(e.emails.ReconstructEmail(ctx, raw))
	if !ValidEmail(email) {
		return ""
	}
	return strings.ToLower(email)
}

func (e *Engine) classify(ctx context.Context, text string) YesNo {
	if text == "" {
		return Unclear
	}
	return e.yesno.ClassifyYesNo(ctx, text)
}

// fail records a failure and bumps the step counter. It reports whether the
// retry bound is reached.
func (e *Engine) fail(s *CallSession, step Step, kind FailureKind) bool {
	if kind != FailureNone {
		e.recordFailure(s, kind)
	}
	e.metrics.ObserveRetry(string(step))
	return s.bump(step, e.maxRetries)
}

func (e *Engine) log(s *CallSession) *logging.Logger {
	return e.logger.WithCall(s.ID)
}

func (e *Engine) recordFailure(s *CallSession, kind FailureKind) {
	s.LastFailure = kind
	e.metrics.ObserveFailure(string(kind))
}

func (e *Engine) exhausted(s *CallSession, step Step) (Reply, error) {
	e.log(s).Warn("retry bound reached", "step", step, "retries", s.RetryCount(step))
	e.recordFailure(s, FailureMaxRetries)
	return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonMaxRetries}, promptTooManyTries)
}

func (e *Engine) dependencyDown(s *CallSession) (Reply, error) {
	e.recordFailure(s, FailureDependency)
	return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonServiceUnavailable}, promptServiceDown)
}

func (e *Engine) ask(s *CallSession, to State, trigger, prompt string) (Reply, error) {
	if err := s.transition(to, trigger, e.now()); err != nil {
		return Reply{}, err
	}
	s.LastPrompt = prompt
	return Reply{Prompt: prompt}, nil
}

func (e *Engine) finish(s *CallSession, outcome Outcome, prompt string) (Reply, error) {
	outcome.At = e.now()
	if err := s.transition(StateDone, string(outcome.Kind), outcome.At); err != nil {
		return Reply{}, err
	}
	s.Outcome = &outcome
	s.LastPrompt = prompt
	e.metrics.ObserveOutcome(string(outcome.Kind), string(outcome.Reason))
	e.log(s).Info("call finished", "outcome", outcome.String(), "turns", s.TurnCount)
	return Reply{Prompt: prompt, Terminal: true, Outcome: &outcome}, nil
}
