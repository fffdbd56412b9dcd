package dialogue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

const monday = "2026-10-19"

func TestBookingHappyPath(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book me monday 11am, email j.doe@x.com", SlotCandidate{
		Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "j.doe@x.com",
	})
	s := h.start("call-a")

	r := h.say(s, "book me monday 11am, email j.doe@x.com")
	require.Equal(t, StateConfirmEmail, s.State)
	assert.Contains(t, r.Prompt, "j dot doe at x dot com")
	assert.Empty(t, h.cal.checks, "availability must wait for a confirmed email")

	r = h.say(s, "yes")
	require.True(t, r.Terminal)
	require.NotNil(t, r.Outcome)
	assert.Equal(t, OutcomeBooked, r.Outcome.Kind)
	assert.Equal(t, StateDone, s.State)

	want := h.slot(monday, "11:00")
	require.Len(t, h.cal.created, 1)
	assert.True(t, h.cal.created[0].Equal(want))
	require.NotEmpty(t, h.cal.checks)
	assert.True(t, h.cal.checks[len(h.cal.checks)-1].Equal(want))

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, "j.doe@x.com", h.notifier.sent[0].to)
	assert.Equal(t, clinicEmail, h.notifier.sent[1].to)
	assert.Equal(t, "j.doe@x.com", s.Booked.Email)
	requireLegalHistory(t, s)
}

func TestRestPeriodKeepsOtherSlots(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book tuesday at 3pm, my email is a@b.com", SlotCandidate{
		Intent: IntentSchedule, Date: "2026-10-20", Time: "15:00", RawEmail: "a@b.com",
	})
	h.ext.on("11 in the morning", SlotCandidate{Time: "11:00"})
	s := h.start("call-b")

	r := h.say(s, "book tuesday at 3pm, my email is a@b.com")
	assert.Equal(t, StateCaptureMissingSlots, s.State)
	assert.Equal(t, FailureValidation, s.LastFailure)
	assert.Contains(t, r.Prompt, "2 PM to 4 PM")
	assert.Contains(t, r.Prompt, "What time")
	assert.NotContains(t, r.Prompt, "What day")
	assert.Equal(t, "2026-10-20", s.PendingDate)
	assert.Empty(t, s.PendingTime)
	assert.Equal(t, "a@b.com", s.Email)
	assert.Equal(t, IntentSchedule, s.Intent)

	h.say(s, "11 in the morning")
	assert.Equal(t, StateConfirmEmail, s.State)
	assert.Equal(t, "2026-10-20", s.PendingDate)
	assert.Equal(t, "11:00", s.PendingTime)
	assert.Equal(t, SlotValidated, s.SlotStatus)
	requireLegalHistory(t, s)
}

func TestRevisedDateWhileTimeMissingIsProgress(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book tuesday at 3pm, my email is a@b.com", SlotCandidate{
		Intent: IntentSchedule, Date: "2026-10-20", Time: "15:00", RawEmail: "a@b.com",
	})
	h.ext.on("how about wednesday", SlotCandidate{Date: "2026-10-21"})
	s := h.start("call-b2")

	h.say(s, "book tuesday at 3pm, my email is a@b.com")
	require.Equal(t, StateCaptureMissingSlots, s.State)
	require.Equal(t, 1, s.RetryCount(StepSlots))

	r := h.say(s, "how about wednesday")
	assert.Equal(t, StateCaptureMissingSlots, s.State)
	assert.Equal(t, "2026-10-21", s.PendingDate)
	assert.Empty(t, s.PendingTime)
	assert.Equal(t, 1, s.RetryCount(StepSlots))
	assert.NotContains(t, r.Prompt, "didn't catch")
	assert.Contains(t, r.Prompt, "What time")
	requireLegalHistory(t, s)
}

func TestValidationReasonsClearOffendingField(t *testing.T) {
	cases := []struct {
		name     string
		date     string
		clock    string
		wantDate string
		wantTime string
		phrase   string
	}{
		{"closed day", "2026-10-18", "11:00", "", "11:00", "closed on Sundays"},
		{"outside hours", monday, "20:00", monday, "", "outside our hours"},
		{"in past", "2026-10-16", "11:00", "", "", "already passed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.ext.on("book it", SlotCandidate{Intent: IntentSchedule, Date: tc.date, Time: tc.clock})
			s := h.start("call-" + tc.name)
			r := h.say(s, "book it")
			assert.Equal(t, StateCaptureMissingSlots, s.State)
			assert.Equal(t, tc.wantDate, s.PendingDate)
			assert.Equal(t, tc.wantTime, s.PendingTime)
			assert.Contains(t, r.Prompt, tc.phrase)
			assert.Equal(t, 1, s.RetryCount(StepSlots))
		})
	}
}

func TestConflictOffersThreeAlternativesAndRechecks(t *testing.T) {
	h := newHarness(t)
	h.cal.occupied[monday+" 11:00"] = true
	h.ext.on("book monday 11am email c@d.com", SlotCandidate{
		Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "c@d.com",
	})
	s := h.start("call-c")

	h.say(s, "book monday 11am email c@d.com")
	r := h.say(s, "yes")
	require.Equal(t, StateAwaitSlotSelection, s.State)
	require.Len(t, s.Suggestions, 3)
	occupied := h.slot(monday, "11:00")
	for _, alt := range s.Suggestions {
		assert.True(t, h.rules.ValidateSlot(alt).Valid(), alt.String())
		assert.False(t, alt.Equal(occupied))
	}
	assert.Contains(t, r.Prompt, "option 2")
	assert.Equal(t, FailureAvailabilityConflict, s.LastFailure)

	second := s.Suggestions[1]
	checksBefore := len(h.cal.checks)
	r = h.say(s, "the second one please")
	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeBooked, r.Outcome.Kind)
	require.Len(t, h.cal.created, 1)
	assert.True(t, h.cal.created[0].Equal(second))

	// The chosen slot was checked again after the caller replied.
	require.Greater(t, len(h.cal.checks), checksBefore)
	assert.True(t, h.cal.checks[len(h.cal.checks)-1].Equal(second))

	var sawRevalidation bool
	for _, tr := range s.History {
		if tr.From == StateAwaitSlotSelection && tr.To == StateValidateSlot {
			sawRevalidation = true
		}
	}
	assert.True(t, sawRevalidation)
	requireLegalHistory(t, s)
}

func TestStaleSuggestionIsNotBooked(t *testing.T) {
	h := newHarness(t)
	h.cal.occupied[monday+" 11:00"] = true
	h.ext.on("book monday 11am email c@d.com", SlotCandidate{
		Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "c@d.com",
	})
	s := h.start("call-stale")
	h.say(s, "book monday 11am email c@d.com")
	h.say(s, "yes")
	require.Equal(t, StateAwaitSlotSelection, s.State)

	// Someone else takes option 1 while the caller is deciding.
	first := s.Suggestions[0]
	h.cal.occupied[first.String()] = true

	h.say(s, "first")
	assert.Equal(t, StateAwaitSlotSelection, s.State)
	assert.Empty(t, h.cal.created)
	for _, alt := range s.Suggestions {
		assert.False(t, alt.Equal(first))
	}
}

func TestSlotTakenAtCommitFallsBackToSuggestions(t *testing.T) {
	h := newHarness(t)
	h.cal.takenAt[monday+" 11:00"] = true
	h.ext.on("book monday 11 e@f.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "e@f.com"})
	s := h.start("call-race")
	h.say(s, "book monday 11 e@f.com")
	h.say(s, "yes")
	assert.Equal(t, StateAwaitSlotSelection, s.State)
	assert.Len(t, s.Suggestions, 3)
	assert.Empty(t, h.cal.created)
	requireLegalHistory(t, s)
}

func TestSelectionByNewTime(t *testing.T) {
	h := newHarness(t)
	h.cal.occupied[monday+" 11:00"] = true
	h.ext.on("book monday 11 e@f.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "e@f.com"})
	h.ext.on("how about 5 pm", SlotCandidate{Time: "17:00"})
	s := h.start("call-newtime")
	h.say(s, "book monday 11 e@f.com")
	h.say(s, "yes")
	require.Equal(t, StateAwaitSlotSelection, s.State)

	r := h.say(s, "how about 5 pm")
	require.True(t, r.Terminal)
	require.Len(t, h.cal.created, 1)
	assert.True(t, h.cal.created[0].Equal(h.slot(monday, "17:00")))
}

func TestEmailRejectedTwiceThenConfirmed(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book monday at 11", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00"})
	s := h.start("call-d")

	r := h.say(s, "book monday at 11")
	require.Equal(t, StateCaptureEmail, s.State)
	assert.Contains(t, r.Prompt, "spell your email")

	for i, spelled := range []string{"anna at x dot com", "ana at x dot com"} {
		h.say(s, spelled)
		require.Equal(t, StateConfirmEmail, s.State)
		h.say(s, "no")
		require.Equal(t, StateCaptureEmail, s.State)
		assert.Empty(t, s.Email)
		assert.Equal(t, i+1, s.RetryCount(StepEmail))
	}

	h.say(s, "hannah at x dot com")
	r = h.say(s, "yes")
	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeBooked, r.Outcome.Kind)
	assert.Equal(t, "hannah@x.com", s.Email)
	assert.Equal(t, "hannah@x.com", s.Booked.Email)
	assert.Zero(t, s.RetryCount(StepEmail))
	assert.Zero(t, s.RetryCount(StepConfirmation))
	requireLegalHistory(t, s)
}

func TestAmbiguousConfirmationOnlyReasksYesNo(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book monday at 11", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00"})
	s := h.start("call-ambiguous")
	h.say(s, "book monday at 11")
	h.say(s, "k at x dot com")

	r := h.say(s, "hmm maybe")
	assert.Equal(t, StateConfirmEmail, s.State)
	assert.Contains(t, r.Prompt, "yes or no")
	assert.Equal(t, "k@x.com", s.Email)
	assert.Equal(t, FailureConfirmationAmbiguous, s.LastFailure)

	h.say(s, "")
	r = h.say(s, "what?")
	require.True(t, r.Terminal)
	assert.Equal(t, Outcome{Kind: OutcomeAbandoned, Reason: ReasonMaxRetries}, Outcome{Kind: r.Outcome.Kind, Reason: r.Outcome.Reason})
	assert.Empty(t, h.cal.created)
}

func TestUnintelligibleEmailIsRetried(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book monday at 11", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00"})
	s := h.start("call-garbled")
	h.say(s, "book monday at 11")

	r := h.say(s, "something something")
	assert.Equal(t, StateCaptureEmail, s.State)
	assert.Contains(t, r.Prompt, "couldn't make out")
	assert.Equal(t, 1, s.RetryCount(StepEmail))
}

func TestCancelWithoutAppointmentHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.ext.on("i want to cancel my appointment", SlotCandidate{Intent: IntentCancel})
	s := h.start("call-e")

	h.say(s, "i want to cancel my appointment")
	require.Equal(t, StateCaptureEmail, s.State)
	h.say(s, "nobody at x dot com")
	r := h.say(s, "yes")

	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeAbandoned, r.Outcome.Kind)
	assert.Equal(t, ReasonNotFound, r.Outcome.Reason)
	assert.Zero(t, h.cal.mutations())
	assert.Empty(t, h.notifier.sent)
	requireLegalHistory(t, s)
}

func TestCancelExistingAppointment(t *testing.T) {
	h := newHarness(t)
	existing := &schedule.Appointment{ID: "evt-1", Start: h.slot(monday, "10:20").Start, Email: "p@x.com"}
	h.cal.upcoming["p@x.com"] = existing
	h.ext.on("cancel please, p at x dot com", SlotCandidate{Intent: IntentCancel, RawEmail: "p at x dot com"})
	s := h.start("call-cancel")

	h.say(s, "cancel please, p at x dot com")
	require.Equal(t, StateConfirmEmail, s.State)
	r := h.say(s, "yes")
	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeCancelled, r.Outcome.Kind)
	assert.Equal(t, []string{"evt-1"}, h.cal.cancelled)
	assert.Len(t, h.notifier.sent, 2)
	requireLegalHistory(t, s)
}

func TestRescheduleFailureAfterCancelIsDistinguished(t *testing.T) {
	h := newHarness(t)
	prior := &schedule.Appointment{ID: "evt-9", Start: h.slot(monday, "11:00").Start, Email: "j@x.com"}
	h.cal.upcoming["j@x.com"] = prior
	h.cal.occupied[monday+" 11:00"] = true
	h.cal.createErr = errors.New("calendar write failed")
	h.ext.on("move my appointment to tuesday at 11", SlotCandidate{Intent: IntentReschedule, Date: "2026-10-20", Time: "11:00"})
	s := h.start("call-f")

	h.say(s, "move my appointment to tuesday at 11")
	require.Equal(t, StateCaptureEmail, s.State)
	h.say(s, "j at x dot com")
	r := h.say(s, "yes")

	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeAbandoned, r.Outcome.Kind)
	assert.Equal(t, ReasonBookingFailedAfterCancel, r.Outcome.Reason)
	assert.True(t, r.Outcome.NeedsManualRecovery())
	assert.Equal(t, []string{"evt-9"}, h.cal.cancelled)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, clinicEmail, h.notifier.sent[0].to)
	requireLegalHistory(t, s)
}

func TestRescheduleSuccessCancelsOldAfterNewIsChecked(t *testing.T) {
	h := newHarness(t)
	prior := &schedule.Appointment{ID: "evt-2", Start: h.slot(monday, "11:00").Start, Email: "j@x.com"}
	h.cal.upcoming["j@x.com"] = prior
	h.cal.occupied[monday+" 11:00"] = true
	h.ext.on("reschedule j at x dot com", SlotCandidate{Intent: IntentReschedule, RawEmail: "j at x dot com"})
	h.ext.on("tuesday 4:20 pm", SlotCandidate{Date: "2026-10-20", Time: "16:20"})
	s := h.start("call-resched")

	h.say(s, "reschedule j at x dot com")
	r := h.say(s, "yes")
	require.Equal(t, StateCaptureMissingSlots, s.State)
	assert.Contains(t, r.Prompt, "I found your appointment")

	r = h.say(s, "tuesday 4:20 pm")
	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeRescheduled, r.Outcome.Kind)
	assert.Equal(t, []string{"evt-2"}, h.cal.cancelled)
	require.Len(t, h.cal.created, 1)
	assert.True(t, h.cal.created[0].Equal(h.slot("2026-10-20", "16:20")))
	requireLegalHistory(t, s)
}

func TestRescheduleToSameSlotIsRejected(t *testing.T) {
	h := newHarness(t)
	prior := &schedule.Appointment{ID: "evt-3", Start: h.slot(monday, "11:00").Start, Email: "j@x.com"}
	h.cal.upcoming["j@x.com"] = prior
	h.ext.on("move j at x dot com to monday 11", SlotCandidate{Intent: IntentReschedule, Date: monday, Time: "11:00", RawEmail: "j at x dot com"})
	s := h.start("call-same")
	h.say(s, "move j at x dot com to monday 11")
	r := h.say(s, "yes")
	assert.Equal(t, StateCaptureMissingSlots, s.State)
	assert.Contains(t, r.Prompt, "already booked")
	assert.Zero(t, h.cal.mutations())
}

func TestDuplicateBookingOffersReschedule(t *testing.T) {
	existing := func(h *harness) *schedule.Appointment {
		return &schedule.Appointment{ID: "evt-dup", Start: h.slot("2026-10-21", "10:00").Start, Email: "d@x.com"}
	}

	t.Run("accept", func(t *testing.T) {
		h := newHarness(t)
		h.cal.upcoming["d@x.com"] = existing(h)
		h.ext.on("book monday 11 d@x.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "d@x.com"})
		s := h.start("call-dup-yes")
		h.say(s, "book monday 11 d@x.com")
		r := h.say(s, "yes")
		require.Equal(t, StateOfferReschedule, s.State)
		assert.Contains(t, r.Prompt, "already have an appointment")
		assert.Zero(t, h.cal.mutations())

		r = h.say(s, "yes")
		require.True(t, r.Terminal)
		assert.Equal(t, OutcomeRescheduled, r.Outcome.Kind)
		assert.Equal(t, []string{"evt-dup"}, h.cal.cancelled)
		require.Len(t, h.cal.created, 1)
		requireLegalHistory(t, s)
	})

	t.Run("decline", func(t *testing.T) {
		h := newHarness(t)
		h.cal.upcoming["d@x.com"] = existing(h)
		h.ext.on("book monday 11 d@x.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "d@x.com"})
		s := h.start("call-dup-no")
		h.say(s, "book monday 11 d@x.com")
		h.say(s, "yes")
		r := h.say(s, "no")
		require.True(t, r.Terminal)
		assert.Equal(t, ReasonCallerDeclined, r.Outcome.Reason)
		assert.Zero(t, h.cal.mutations())
	})
}

func TestIntentRetryBound(t *testing.T) {
	h := newHarness(t)
	s := h.start("call-mumble")

	h.say(s, "uh")
	h.say(s, "")
	assert.Equal(t, StateCaptureIntent, s.State)
	assert.Equal(t, 2, s.RetryCount(StepIntent))

	r := h.say(s, "mmm")
	require.True(t, r.Terminal)
	assert.Equal(t, ReasonMaxRetries, r.Outcome.Reason)
	assert.Equal(t, FailureMaxRetries, s.LastFailure)
	assert.NotEmpty(t, r.Prompt)

	_, err := h.engine.Step(context.Background(), s, "book monday")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestMissingSlotsAskOnlyForWhatIsMissing(t *testing.T) {
	h := newHarness(t)
	h.ext.on("i'd like to book", SlotCandidate{Intent: IntentSchedule})
	h.ext.on("monday", SlotCandidate{Date: monday})
	h.ext.on("i want to book", SlotCandidate{Intent: IntentSchedule})
	s := h.start("call-missing")

	r := h.say(s, "i'd like to book")
	assert.Equal(t, StateCaptureMissingSlots, s.State)
	assert.Equal(t, "What day and time would you like?", r.Prompt)

	r = h.say(s, "monday")
	assert.Equal(t, "What time would you like?", r.Prompt)
	assert.Zero(t, s.RetryCount(StepSlots))

	// Repeating the intent adds nothing and counts as a failed attempt.
	h.say(s, "i want to book")
	assert.Equal(t, 1, s.RetryCount(StepSlots))
	assert.Equal(t, monday, s.PendingDate)
}

func TestCalendarOutageEndsCall(t *testing.T) {
	h := newHarness(t)
	h.cal.availErr = errors.New("timeout")
	h.ext.on("book monday 11 z@x.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "z@x.com"})
	s := h.start("call-outage")
	h.say(s, "book monday 11 z@x.com")
	r := h.say(s, "yes")
	require.True(t, r.Terminal)
	assert.Equal(t, ReasonServiceUnavailable, r.Outcome.Reason)
	assert.Equal(t, FailureDependency, s.LastFailure)
}

func TestCommitFailureOnSchedule(t *testing.T) {
	h := newHarness(t)
	h.cal.createErr = errors.New("insert failed")
	h.ext.on("book monday 11 z@x.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "z@x.com"})
	s := h.start("call-commit")
	h.say(s, "book monday 11 z@x.com")
	r := h.say(s, "yes")
	require.True(t, r.Terminal)
	assert.Equal(t, ReasonCommitFailure, r.Outcome.Reason)
	assert.False(t, r.Outcome.NeedsManualRecovery())
	assert.Empty(t, h.notifier.sent)
}

func TestNotificationFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")
	h.ext.on("book monday 11 z@x.com", SlotCandidate{Intent: IntentSchedule, Date: monday, Time: "11:00", RawEmail: "z@x.com"})
	s := h.start("call-notify")
	h.say(s, "book monday 11 z@x.com")
	r := h.say(s, "yes")
	require.True(t, r.Terminal)
	assert.Equal(t, OutcomeBooked, r.Outcome.Kind)
	assert.Len(t, h.notifier.sent, 2)
}

func TestRetryBoundsPerStep(t *testing.T) {
	h := newHarness(t)
	h.ext.on("book it", SlotCandidate{Intent: IntentSchedule, Date: "2026-10-18", Time: "11:00"})
	h.ext.on("sunday", SlotCandidate{Date: "2026-10-25"})
	s := h.start("call-sundays")

	h.say(s, "book it")
	h.say(s, "sunday")
	require.Equal(t, 2, s.RetryCount(StepSlots))
	r := h.say(s, "sunday")
	// A third rejected date exhausts the bound.
	require.True(t, r.Terminal)
	assert.Equal(t, ReasonMaxRetries, r.Outcome.Reason)
	requireLegalHistory(t, s)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Collaborators{}, EngineOptions{}, nil)
	assert.Error(t, err)
}

func TestStepRejectsStatesWithoutCallerInput(t *testing.T) {
	h := newHarness(t)
	for _, st := range []State{StateStart, StateValidateSlot, StateCheckAvailability, StateCommitting, StateNotifying} {
		s := NewCallSession("call-"+string(st), "", h.now)
		s.State = st
		_, err := h.engine.Step(context.Background(), s, "tuesday at 11")
		assert.ErrorIs(t, err, ErrIllegalTransition, st)
		assert.Zero(t, s.TurnCount, st)
	}
	assert.Zero(t, h.ext.calls)
}
