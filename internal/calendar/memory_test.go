package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20 * time.Minute)
	store.now = func() time.Time { return time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC) }
	slot := mondayEleven()

	free, err := store.IsSlotAvailable(ctx, slot)
	require.NoError(t, err)
	assert.True(t, free)

	appt, err := store.CreateAppointment(ctx, slot, "Appointment", "A@B.co")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", appt.Email)

	free, _ = store.IsSlotAvailable(ctx, slot)
	assert.False(t, free)
	overlapping := schedule.Slot{Start: slot.Start.Add(10 * time.Minute)}
	free, _ = store.IsSlotAvailable(ctx, overlapping)
	assert.False(t, free)
	next := schedule.Slot{Start: slot.Start.Add(20 * time.Minute)}
	free, _ = store.IsSlotAvailable(ctx, next)
	assert.True(t, free)

	_, err = store.CreateAppointment(ctx, slot, "Appointment", "c@d.co")
	assert.ErrorIs(t, err, schedule.ErrSlotTaken)

	found, err := store.FindUpcomingAppointment(ctx, "a@b.co")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, appt.ID, found.ID)

	require.NoError(t, store.CancelAppointment(ctx, appt))
	assert.ErrorIs(t, store.CancelAppointment(ctx, appt), schedule.ErrAppointmentNotFound)
	found, err = store.FindUpcomingAppointment(ctx, "a@b.co")
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Empty(t, store.Appointments())
}

func TestMemoryStoreFindsEarliestFutureAppointment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := mondayEleven().Start
	store.now = func() time.Time { return base.Add(-time.Hour) }

	_, err := store.CreateAppointment(ctx, schedule.Slot{Start: base.Add(-2 * time.Hour)}, "past", "a@b.co")
	require.NoError(t, err)
	later, err := store.CreateAppointment(ctx, schedule.Slot{Start: base.Add(24 * time.Hour)}, "later", "a@b.co")
	require.NoError(t, err)
	sooner, err := store.CreateAppointment(ctx, schedule.Slot{Start: base}, "sooner", "a@b.co")
	require.NoError(t, err)

	found, err := store.FindUpcomingAppointment(ctx, "A@B.CO")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sooner.ID, found.ID)
	assert.Len(t, store.Appointments(), 3)
	assert.Equal(t, later.ID, store.Appointments()[2].ID)
}
