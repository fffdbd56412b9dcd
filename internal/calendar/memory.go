package calendar

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

// MemoryStore is an in-process calendar for local runs and demos.
type MemoryStore struct {
	mu       sync.Mutex
	appts    map[string]schedule.Appointment
	duration time.Duration
	now      func() time.Time
}

func NewMemoryStore(slotDuration time.Duration) *MemoryStore {
	if slotDuration <= 0 {
		slotDuration = 20 * time.Minute
	}
	return &MemoryStore{
		appts:    make(map[string]schedule.Appointment),
		duration: slotDuration,
		now:      time.Now,
	}
}

func (m *MemoryStore) IsSlotAvailable(_ context.Context, slot schedule.Slot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.busyLocked(slot.Start, slot.End(m.duration)), nil
}

func (m *MemoryStore) CreateAppointment(_ context.Context, slot schedule.Slot, subject, email string) (schedule.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := slot.End(m.duration)
	if m.busyLocked(slot.Start, end) {
		return schedule.Appointment{}, schedule.ErrSlotTaken
	}
	appt := schedule.Appointment{
		ID:      uuid.NewString(),
		Start:   slot.Start,
		End:     end,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Subject: subject,
	}
	m.appts[appt.ID] = appt
	return appt, nil
}

func (m *MemoryStore) CancelAppointment(_ context.Context, appt schedule.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[appt.ID]; !ok {
		return schedule.ErrAppointmentNotFound
	}
	delete(m.appts, appt.ID)
	return nil
}

func (m *MemoryStore) FindUpcomingAppointment(_ context.Context, email string) (*schedule.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var found []schedule.Appointment
	for _, a := range m.appts {
		if strings.EqualFold(a.Email, strings.TrimSpace(email)) && a.Start.After(now) {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Start.Before(found[j].Start) })
	return &found[0], nil
}

// Appointments lists booked appointments in start order.
func (m *MemoryStore) Appointments() []schedule.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schedule.Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *MemoryStore) busyLocked(start, end time.Time) bool {
	for _, a := range m.appts {
		if a.Start.Before(end) && a.End.After(start) {
			return true
		}
	}
	return false
}
