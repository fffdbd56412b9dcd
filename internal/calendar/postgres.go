// Package calendar implements the clinic calendar behind the dialogue
// engine: availability checks, booking, cancellation and lookup of a
// caller's next appointment.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

var calendarTracer = otel.Tracer("clinicvoice.internal.calendar")

// Either the per-start unique index or the overlap exclusion constraint can
// reject a racing insert.
const (
	uniqueViolation    = "23505"
	exclusionViolation = "23P01"
)

// PgxPool is the subset of pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps appointments in the appointments table. A partial
// unique index on starts_at and an exclusion constraint on the booked range
// make the insert the final word on a slot.
type PostgresStore struct {
	pool     PgxPool
	duration time.Duration
	now      func() time.Time
}

func NewPostgresStore(pool PgxPool, slotDuration time.Duration) *PostgresStore {
	if pool == nil {
		return nil
	}
	if slotDuration <= 0 {
		slotDuration = 20 * time.Minute
	}
	return &PostgresStore{pool: pool, duration: slotDuration, now: time.Now}
}

func (s *PostgresStore) IsSlotAvailable(ctx context.Context, slot schedule.Slot) (bool, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.postgres.is_slot_available")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.slot", slot.String()))

	var busy bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE status = 'booked' AND starts_at < $2 AND ends_at > $1
		)`, slot.Start.UTC(), slot.End(s.duration).UTC()).Scan(&busy)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("calendar: check availability: %w", err)
	}
	return !busy, nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, slot schedule.Slot, subject, email string) (schedule.Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.postgres.create_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.slot", slot.String()))

	appt := schedule.Appointment{
		ID:      uuid.NewString(),
		Start:   slot.Start,
		End:     slot.End(s.duration),
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Subject: subject,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (id, email, subject, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5, 'booked')`,
		appt.ID, appt.Email, appt.Subject, appt.Start.UTC(), appt.End.UTC())
	if err != nil {
		span.RecordError(err)
		if isSlotConflict(err) {
			return schedule.Appointment{}, schedule.ErrSlotTaken
		}
		return schedule.Appointment{}, fmt.Errorf("calendar: insert appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) CancelAppointment(ctx context.Context, appt schedule.Appointment) error {
	ctx, span := calendarTracer.Start(ctx, "calendar.postgres.cancel_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.appointment_id", appt.ID))

	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET status = 'canceled', canceled_at = now()
		WHERE id = $1 AND status = 'booked'`, appt.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrAppointmentNotFound
	}
	return nil
}

// FindUpcomingAppointment returns the caller's next live appointment or nil.
func (s *PostgresStore) FindUpcomingAppointment(ctx context.Context, email string) (*schedule.Appointment, error) {
	ctx, span := calendarTracer.Start(ctx, "calendar.postgres.find_upcoming")
	defer span.End()

	var appt schedule.Appointment
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, subject, starts_at, ends_at
		FROM appointments
		WHERE lower(email) = lower($1) AND status = 'booked' AND starts_at > $2
		ORDER BY starts_at
		LIMIT 1`, strings.TrimSpace(email), s.now().UTC()).
		Scan(&appt.ID, &appt.Email, &appt.Subject, &appt.Start, &appt.End)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: find upcoming appointment: %w", err)
	}
	return &appt, nil
}

func isSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation || pgErr.Code == exclusionViolation
}
