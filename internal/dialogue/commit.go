package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

// commit performs the calendar mutation for a validated, available slot.
func (e *Engine) commit(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	if s.SlotStatus != SlotAvailable || s.Slot == nil {
		return Reply{}, fmt.Errorf("dialogue: commit: slot for %s not checked (status %q)", s.ID, s.SlotStatus)
	}
	if err := s.transition(StateCommitting, "slot_available", e.now()); err != nil {
		return Reply{}, err
	}
	s.resetRetries(StepSlots)

	ctx, span := dialogueTracer.Start(ctx, "dialogue.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicvoice.call_id", s.ID),
		attribute.String("clinicvoice.intent", string(s.Intent)),
		attribute.String("clinicvoice.slot", s.Slot.String()),
	)

	if s.Intent == IntentReschedule {
		return e.commitReschedule(ctx, s, lead)
	}

	slot := *s.Slot
	appt, err := e.create(ctx, slot, s.Email)
	if errors.Is(err, schedule.ErrSlotTaken) {
		e.log(s).Warn("slot taken at commit", "slot", slot.String())
		return e.conflict(ctx, s, slot, lead)
	}
	if err != nil {
		span.RecordError(err)
		e.log(s).Error("create appointment failed", "slot", slot.String(), "error", err)
		e.recordFailure(s, FailureCommit)
		return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonCommitFailure}, promptCommitFailure)
	}
	s.Booked = &appt
	e.log(s).Info("appointment booked", "appointment_id", appt.ID, "slot", slot.String())

	patient, staff := bookedMessages(e.clinicName, s.Email, appt)
	prompt := join(lead, fmt.Sprintf("You're all set. Your appointment is booked for %s. A confirmation has been sent to your email. Goodbye.", slot.Spoken()))
	return e.notify(ctx, s, Outcome{Kind: OutcomeBooked}, patient, staff, prompt)
}

// commitReschedule cancels the old appointment only after the new slot has
// passed validation and availability, then books the new one.
func (e *Engine) commitReschedule(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	prior := *s.PriorAppointment
	slot := *s.Slot

	if err := e.cancel(ctx, prior); err != nil {
		if errors.Is(err, schedule.ErrAppointmentNotFound) {
			e.recordFailure(s, FailureNotFound)
			return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonNotFound},
				"I couldn't find your existing appointment anymore. Please call the clinic directly. Goodbye.")
		}
		e.log(s).Error("cancel for reschedule failed", "appointment_id", prior.ID, "error", err)
		e.recordFailure(s, FailureCommit)
		return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonCommitFailure},
			fmt.Sprintf("I'm sorry, I couldn't change your appointment. It is still booked for %s. Goodbye.", prior.Slot().Spoken()))
	}

	appt, err := e.create(ctx, slot, s.Email)
	if err != nil {
		e.log(s).Error("rebook after cancel failed", "prior_id", prior.ID, "slot", slot.String(), "error", err)
		e.recordFailure(s, FailureCommit)
		e.alertClinic(ctx, s, recoveryMessage(s.Email, prior, slot))
		return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonBookingFailedAfterCancel},
			"I'm sorry, I cancelled your old appointment but couldn't book the new time. Our staff have been alerted and will call you to rebook. Goodbye.")
	}
	s.Booked = &appt
	e.log(s).Info("appointment rescheduled", "prior_id", prior.ID, "appointment_id", appt.ID)

	patient, staff := rescheduledMessages(e.clinicName, s.Email, prior, appt)
	prompt := join(lead, fmt.Sprintf("Done. Your appointment has been moved to %s. A confirmation has been sent to your email. Goodbye.", slot.Spoken()))
	return e.notify(ctx, s, Outcome{Kind: OutcomeRescheduled}, patient, staff, prompt)
}

func (e *Engine) commitCancel(ctx context.Context, s *CallSession, lead string) (Reply, error) {
	if err := s.transition(StateCommitting, "cancel_confirmed", e.now()); err != nil {
		return Reply{}, err
	}
	prior := *s.PriorAppointment
	if err := e.cancel(ctx, prior); err != nil {
		if errors.Is(err, schedule.ErrAppointmentNotFound) {
			e.recordFailure(s, FailureNotFound)
			return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonNotFound},
				"That appointment no longer exists, so there's nothing to cancel. Goodbye.")
		}
		e.log(s).Error("cancel appointment failed", "appointment_id", prior.ID, "error", err)
		e.recordFailure(s, FailureCommit)
		return e.finish(s, Outcome{Kind: OutcomeAbandoned, Reason: ReasonCommitFailure}, promptCommitFailure)
	}
	e.log(s).Info("appointment cancelled", "appointment_id", prior.ID)

	patient, staff := cancelledMessages(e.clinicName, s.Email, prior)
	prompt := join(lead, "Your appointment has been cancelled. A confirmation has been sent to your email. Goodbye.")
	return e.notify(ctx, s, Outcome{Kind: OutcomeCancelled}, patient, staff, prompt)
}

func (e *Engine) create(ctx context.Context, slot schedule.Slot, email string) (schedule.Appointment, error) {
	start := time.Now()
	appt, err := e.calendar.CreateAppointment(ctx, slot, e.subject, email)
	e.metrics.ObserveDependency("calendar.create", time.Since(start).Seconds(), err)
	return appt, err
}

func (e *Engine) cancel(ctx context.Context, appt schedule.Appointment) error {
	start := time.Now()
	err := e.calendar.CancelAppointment(ctx, appt)
	e.metrics.ObserveDependency("calendar.cancel", time.Since(start).Seconds(), err)
	return err
}

// notify sends the patient and clinic messages and then finishes the call.
// Delivery failures are logged and never change the outcome.
func (e *Engine) notify(ctx context.Context, s *CallSession, outcome Outcome, patient, staff message, prompt string) (Reply, error) {
	if err := s.transition(StateNotifying, "committed", e.now()); err != nil {
		return Reply{}, err
	}
	e.send(ctx, s, s.Email, patient)
	if e.clinicEmail != "" {
		e.send(ctx, s, e.clinicEmail, staff)
	}
	return e.finish(s, outcome, prompt)
}

func (e *Engine) alertClinic(ctx context.Context, s *CallSession, msg message) {
	if e.clinicEmail == "" {
		return
	}
	e.send(ctx, s, e.clinicEmail, msg)
}

// send runs on its own budget: the calendar write it reports on has already
// happened, so an expiring turn must not swallow the message.
func (e *Engine) send(ctx context.Context, s *CallSession, to string, msg message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	start := time.Now()
	err := e.notifier.Notify(ctx, to, msg.subject, msg.body)
	e.metrics.ObserveDependency("notify", time.Since(start).Seconds(), err)
	if err != nil {
		e.log(s).Warn("notification failed", "subject", msg.subject, "error", err)
	}
}
