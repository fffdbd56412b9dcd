package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

type fakeExtractor struct {
	byText map[string]SlotCandidate
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ Intent, text string) SlotCandidate {
	f.calls++
	return f.byText[strings.ToLower(text)]
}

func (f *fakeExtractor) on(text string, c SlotCandidate) {
	if f.byText == nil {
		f.byText = map[string]SlotCandidate{}
	}
	f.byText[strings.ToLower(text)] = c
}

// spokenEmails understands "j dot doe at x dot com" and plain addresses.
type spokenEmails struct{}

func (spokenEmails) ReconstructEmail(_ context.Context, raw string) string {
	r := strings.NewReplacer(" at ", "@", " dot ", ".", " ", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(raw)))
}

type keywordYesNo struct{}

func (keywordYesNo) ClassifyYesNo(_ context.Context, text string) YesNo {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "yeah", "correct":
		return Yes
	case "no", "nope":
		return No
	}
	return Unclear
}

type fakeCalendar struct {
	occupied  map[string]bool
	upcoming  map[string]*schedule.Appointment
	takenAt   map[string]bool
	createErr error
	cancelErr error
	availErr  error
	findErr   error

	checks    []schedule.Slot
	created   []schedule.Slot
	cancelled []string
	seq       int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		occupied: map[string]bool{},
		upcoming: map[string]*schedule.Appointment{},
		takenAt:  map[string]bool{},
	}
}

func (f *fakeCalendar) IsSlotAvailable(_ context.Context, slot schedule.Slot) (bool, error) {
	if f.availErr != nil {
		return false, f.availErr
	}
	f.checks = append(f.checks, slot)
	return !f.occupied[slot.String()], nil
}

func (f *fakeCalendar) CreateAppointment(_ context.Context, slot schedule.Slot, subject, email string) (schedule.Appointment, error) {
	if f.createErr != nil {
		return schedule.Appointment{}, f.createErr
	}
	if f.occupied[slot.String()] || f.takenAt[slot.String()] {
		return schedule.Appointment{}, schedule.ErrSlotTaken
	}
	f.seq++
	f.occupied[slot.String()] = true
	f.created = append(f.created, slot)
	return schedule.Appointment{
		ID:      fmt.Sprintf("appt-%d", f.seq),
		Start:   slot.Start,
		End:     slot.End(20 * time.Minute),
		Email:   email,
		Subject: subject,
	}, nil
}

func (f *fakeCalendar) CancelAppointment(_ context.Context, appt schedule.Appointment) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, appt.ID)
	delete(f.occupied, appt.Slot().String())
	return nil
}

func (f *fakeCalendar) FindUpcomingAppointment(_ context.Context, email string) (*schedule.Appointment, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.upcoming[email], nil
}

func (f *fakeCalendar) mutations() int {
	return len(f.created) + len(f.cancelled)
}

type sentMessage struct {
	to, subject, body string
}

type fakeNotifier struct {
	sent  []sentMessage
	err   error
	delay time.Duration
	cut   int
}

func (f *fakeNotifier) Notify(ctx context.Context, to, subject, body string) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.cut++
			return ctx.Err()
		}
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return f.err
}

type harness struct {
	t        *testing.T
	engine   *Engine
	ext      *fakeExtractor
	cal      *fakeCalendar
	notifier *fakeNotifier
	rules    schedule.Rules
	now      time.Time
}

const clinicEmail = "frontdesk@clinic.test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	rules := schedule.DefaultRules()
	h := &harness{
		t:        t,
		ext:      &fakeExtractor{},
		cal:      newFakeCalendar(),
		notifier: &fakeNotifier{},
		rules:    rules,
		// Saturday morning; Monday is 2026-10-19.
		now: time.Date(2026, 10, 17, 9, 0, 0, 0, rules.Location),
	}
	engine, err := NewEngine(Collaborators{
		Extractor: h.ext,
		Emails:    spokenEmails{},
		YesNo:     keywordYesNo{},
		Calendar:  h.cal,
		Notifier:  h.notifier,
	}, EngineOptions{
		Rules:       rules,
		ClinicName:  "Sunrise Clinic",
		ClinicEmail: clinicEmail,
		Now:         func() time.Time { return h.now },
	}, logging.Discard())
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) start(id string) *CallSession {
	h.t.Helper()
	s := NewCallSession(id, "+15550100", h.now)
	_, err := h.engine.Start(context.Background(), s)
	require.NoError(h.t, err)
	require.Equal(h.t, StateCaptureIntent, s.State)
	return s
}

func (h *harness) say(s *CallSession, text string) Reply {
	h.t.Helper()
	r, err := h.engine.Step(context.Background(), s, text)
	require.NoError(h.t, err)
	return r
}

func (h *harness) slot(date, clock string) schedule.Slot {
	h.t.Helper()
	slot, err := h.rules.ParseSlot(date, clock)
	require.NoError(h.t, err)
	return slot
}

// requireLegalHistory checks every recorded transition against the edge
// table and that availability is only ever checked straight after validation.
func requireLegalHistory(t *testing.T, s *CallSession) {
	t.Helper()
	for i, tr := range s.History {
		require.Truef(t, CanTransition(tr.From, tr.To), "transition %d %s -> %s not in table", i, tr.From, tr.To)
		if tr.To == StateCheckAvailability {
			require.Equal(t, StateValidateSlot, tr.From)
		}
	}
}

type memStore struct {
	mu         sync.Mutex
	sessions   map[string][]byte
	locked     map[string]bool
	transcript map[string][]TranscriptEntry
	saveErr    error
	// strict makes writes fail once their context is done, like a real
	// network store.
	strict bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   map[string][]byte{},
		locked:     map[string]bool{},
		transcript: map[string][]TranscriptEntry{},
	}
}

func (m *memStore) Save(ctx context.Context, s *CallSession) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.strict && ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = raw
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*CallSession, error) {
	m.mu.Lock()
	raw, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s CallSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memStore) Lock(_ context.Context, id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[id] {
		return nil, ErrTurnInProgress
	}
	m.locked[id] = true
	return func() {
		m.mu.Lock()
		delete(m.locked, id)
		m.mu.Unlock()
	}, nil
}

func (m *memStore) AppendTranscript(ctx context.Context, id string, entries ...TranscriptEntry) error {
	if m.strict && ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript[id] = append(m.transcript[id], entries...)
	return nil
}

func (m *memStore) Transcript(_ context.Context, id string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TranscriptEntry(nil), m.transcript[id]...), nil
}

type mapTranscriber map[string]string

func (m mapTranscriber) Transcribe(_ context.Context, ref string) (string, error) {
	text, ok := m[ref]
	if !ok {
		return "", errors.New("recording not found")
	}
	return text, nil
}

type sayThrough struct{}

func (sayThrough) Synthesize(_ context.Context, text string) (AudioHandle, error) {
	return AudioHandle{Text: text}, nil
}

type recordingSinks struct {
	outcomes []OutcomeRecord
	recovery []OutcomeRecord
	archived map[string][]TranscriptEntry
}

func (r *recordingSinks) RecordOutcome(_ context.Context, rec OutcomeRecord) error {
	r.outcomes = append(r.outcomes, rec)
	return nil
}

func (r *recordingSinks) EnqueueRecovery(_ context.Context, rec OutcomeRecord) error {
	r.recovery = append(r.recovery, rec)
	return nil
}

func (r *recordingSinks) ArchiveTranscript(_ context.Context, rec OutcomeRecord, entries []TranscriptEntry) error {
	if r.archived == nil {
		r.archived = map[string][]TranscriptEntry{}
	}
	r.archived[rec.CallID] = entries
	return nil
}
