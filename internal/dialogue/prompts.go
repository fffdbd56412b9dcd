package dialogue

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

const (
	promptIntent        = "Would you like to book a new appointment, reschedule one, or cancel one?"
	promptNotHeard      = "Sorry, I didn't catch that."
	promptSpellEmail    = "Please spell your email address, letter by letter."
	promptServiceDown   = "I'm sorry, our scheduling system isn't responding right now. Please call back a little later. Goodbye."
	promptTooManyTries  = "I'm sorry, I wasn't able to complete your request. Please call the clinic directly and our staff will help you. Goodbye."
	promptCommitFailure = "I'm sorry, I couldn't save that change to the calendar. Please call the clinic directly. Goodbye."
	promptHungUp        = "Call ended by the caller."
	promptTimedOut      = "We haven't heard from you, so we're ending the call. Goodbye."
)

func greeting(clinic string) string {
	if clinic == "" {
		return "Hello, thank you for calling. " + promptIntent
	}
	return fmt.Sprintf("Hello, thank you for calling %s. %s", clinic, promptIntent)
}

// askMissing names only the fields the caller still has to give.
func askMissing(missing []string) string {
	var date, clock bool
	for _, m := range missing {
		switch m {
		case "date":
			date = true
		case "time":
			clock = true
		}
	}
	switch {
	case date && clock:
		return "What day and time would you like?"
	case date:
		return "What day would you like?"
	case clock:
		return "What time would you like?"
	}
	return promptIntent
}

func explainValidation(reason schedule.Reason, rules schedule.Rules) string {
	switch reason {
	case schedule.ReasonClosedDay:
		return fmt.Sprintf("Sorry, the clinic is closed on %ss.", rules.ClosedDay)
	case schedule.ReasonRestPeriod:
		return fmt.Sprintf("Sorry, the clinic is closed from %s.", rules.RestSummary())
	case schedule.ReasonOutsideHours:
		return fmt.Sprintf("Sorry, that's outside our hours. We see patients from %s.", rules.HoursSummary())
	case schedule.ReasonInPast:
		return "Sorry, that time has already passed."
	default:
		return "Sorry, I couldn't understand that date and time."
	}
}

func confirmEmail(email string) string {
	return fmt.Sprintf("I have your email as %s. Is that correct?", spokenEmail(email))
}

// spokenEmail reads an address back the way a person would say it.
func spokenEmail(email string) string {
	r := strings.NewReplacer("@", " at ", ".", " dot ", "_", " underscore ", "-", " dash ", "+", " plus ")
	return r.Replace(email)
}

func listSuggestions(slots []schedule.Slot) string {
	var b strings.Builder
	b.WriteString("The closest openings are ")
	for i, s := range slots {
		switch {
		case i == 0:
		case i == len(slots)-1:
			b.WriteString(", or ")
		default:
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "option %d, %s", i+1, s.Spoken())
	}
	b.WriteString(". Which one would you like?")
	return b.String()
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

type message struct {
	subject string
	body    string
}

func bookedMessages(clinic, email string, appt schedule.Appointment) (patient, staff message) {
	when := appt.Slot().Spoken()
	patient = message{
		subject: "Your Appointment is Confirmed",
		body:    fmt.Sprintf("Your appointment at %s is confirmed for %s.", orClinic(clinic), when),
	}
	staff = message{
		subject: "New Appointment Booked",
		body:    fmt.Sprintf("New appointment booked by %s for %s.", email, when),
	}
	return patient, staff
}

func rescheduledMessages(clinic, email string, prior, appt schedule.Appointment) (patient, staff message) {
	from, to := prior.Slot().Spoken(), appt.Slot().Spoken()
	patient = message{
		subject: "Your Appointment has been Rescheduled",
		body:    fmt.Sprintf("Your appointment at %s has been moved from %s to %s.", orClinic(clinic), from, to),
	}
	staff = message{
		subject: "Appointment Rescheduled",
		body:    fmt.Sprintf("%s moved their appointment from %s to %s.", email, from, to),
	}
	return patient, staff
}

func cancelledMessages(clinic, email string, prior schedule.Appointment) (patient, staff message) {
	when := prior.Slot().Spoken()
	patient = message{
		subject: "Your Appointment has been Canceled",
		body:    fmt.Sprintf("Your appointment at %s on %s has been canceled.", orClinic(clinic), when),
	}
	staff = message{
		subject: "Appointment Canceled",
		body:    fmt.Sprintf("%s canceled their appointment on %s.", email, when),
	}
	return patient, staff
}

func recoveryMessage(email string, prior schedule.Appointment, slot schedule.Slot) message {
	return message{
		subject: "ACTION REQUIRED: Reschedule failed after cancellation",
		body: fmt.Sprintf("The appointment for %s on %s was canceled, but booking the new slot %s failed. Please contact the patient.",
			email, prior.Slot().Spoken(), slot.Spoken()),
	}
}

func orClinic(name string) string {
	if name == "" {
		return "the clinic"
	}
	return name
}
