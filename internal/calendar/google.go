package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

// NewGoogleService builds a Calendar API client from a service account
// credentials file. Extra options are appended after the credentials.
func NewGoogleService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*gcal.Service, error) {
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(credentialsFile)}, opts...)
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google calendar service: %w", err)
	}
	return svc, nil
}

// GoogleStore books appointments as events on a Google calendar. Google has
// no slot uniqueness, so CreateAppointment re-checks the range before insert.
type GoogleStore struct {
	events     *gcal.EventsService
	calendarID string
	location   *time.Location
	duration   time.Duration
	clinic     string
	now        func() time.Time
}

// GoogleOption configures a GoogleStore.
type GoogleOption func(*GoogleStore)

// WithClinicAttendee invites the clinic mailbox to every booked event next
// to the patient.
func WithClinicAttendee(email string) GoogleOption {
	return func(g *GoogleStore) {
		g.clinic = strings.ToLower(strings.TrimSpace(email))
	}
}

func NewGoogleStore(svc *gcal.Service, calendarID string, loc *time.Location, slotDuration time.Duration, opts ...GoogleOption) (*GoogleStore, error) {
	if svc == nil {
		return nil, errors.New("calendar: google calendar service is required")
	}
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	if slotDuration <= 0 {
		slotDuration = 20 * time.Minute
	}
	g := &GoogleStore{
		events:     svc.Events,
		calendarID: calendarID,
		location:   loc,
		duration:   slotDuration,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *GoogleStore) IsSlotAvailable(ctx context.Context, slot schedule.Slot) (bool, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.is_slot_available")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.slot", slot.String()))

	events, err := g.events.List(g.calendarID).
		TimeMin(slot.Start.Format(time.RFC3339)).
		TimeMax(slot.End(g.duration).Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).
		Do()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("calendar: list google events: %w", err)
	}
	for _, ev := range events.Items {
		if ev.Status != "cancelled" {
			return false, nil
		}
	}
	return true, nil
}

func (g *GoogleStore) CreateAppointment(ctx context.Context, slot schedule.Slot, subject, email string) (schedule.Appointment, error) {
	free, err := g.IsSlotAvailable(ctx, slot)
	if err != nil {
		return schedule.Appointment{}, err
	}
	if !free {
		return schedule.Appointment{}, schedule.ErrSlotTaken
	}

	ctx, span := calendarTracer.Start(ctx, "calendar.google.create_appointment")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))
	attendees := []*gcal.EventAttendee{{Email: email}}
	if g.clinic != "" && g.clinic != email {
		attendees = append(attendees, &gcal.EventAttendee{Email: g.clinic})
	}
	end := slot.End(g.duration)
	ev, err := g.events.Insert(g.calendarID, &gcal.Event{
		Summary:   subject,
		Start:     &gcal.EventDateTime{DateTime: slot.Start.In(g.location).Format(time.RFC3339), TimeZone: g.location.String()},
		End:       &gcal.EventDateTime{DateTime: end.In(g.location).Format(time.RFC3339), TimeZone: g.location.String()},
		Attendees: attendees,
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return schedule.Appointment{}, fmt.Errorf("calendar: insert google event: %w", err)
	}
	return schedule.Appointment{
		ID:      ev.Id,
		Start:   slot.Start,
		End:     end,
		Email:   email,
		Subject: subject,
		Link:    ev.HtmlLink,
	}, nil
}

func (g *GoogleStore) CancelAppointment(ctx context.Context, appt schedule.Appointment) error {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.cancel_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.appointment_id", appt.ID))

	err := g.events.Delete(g.calendarID, appt.ID).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return schedule.ErrAppointmentNotFound
		}
		return fmt.Errorf("calendar: delete google event: %w", err)
	}
	return nil
}

// FindUpcomingAppointment searches future events for one the caller attends.
func (g *GoogleStore) FindUpcomingAppointment(ctx context.Context, email string) (*schedule.Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.google.find_upcoming")
	defer span.End()

	email = strings.TrimSpace(email)
	events, err := g.events.List(g.calendarID).
		Q(email).
		TimeMin(g.now().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(25).
		Context(ctx).
		Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: search google events: %w", err)
	}
	for _, ev := range events.Items {
		if ev.Status == "cancelled" || !attends(ev, email) {
			continue
		}
		appt, err := appointmentFromEvent(ev, email)
		if err != nil {
			return nil, err
		}
		return &appt, nil
	}
	return nil, nil
}

func attends(ev *gcal.Event, email string) bool {
	for _, a := range ev.Attendees {
		if a != nil && strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

func appointmentFromEvent(ev *gcal.Event, email string) (schedule.Appointment, error) {
	if ev.Start == nil || ev.End == nil {
		return schedule.Appointment{}, fmt.Errorf("calendar: google event %s has no start or end", ev.Id)
	}
	start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
	if err != nil {
		return schedule.Appointment{}, fmt.Errorf("calendar: parse google event start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, ev.End.DateTime)
	if err != nil {
		return schedule.Appointment{}, fmt.Errorf("calendar: parse google event end: %w", err)
	}
	return schedule.Appointment{
		ID:      ev.Id,
		Start:   start,
		End:     end,
		Email:   strings.ToLower(email),
		Subject: ev.Summary,
		Link:    ev.HtmlLink,
	}, nil
}
