package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithOutcomeRecorder stores every terminal outcome.
func WithOutcomeRecorder(r OutcomeRecorder) ServiceOption {
	return func(s *Service) { s.outcomes = r }
}

// WithRecoveryQueue receives outcomes that need manual recovery.
func WithRecoveryQueue(q RecoveryQueue) ServiceOption {
	return func(s *Service) { s.recovery = q }
}

// WithTranscriptArchiver archives transcripts of finished calls.
func WithTranscriptArchiver(a TranscriptArchiver) ServiceOption {
	return func(s *Service) { s.archive = a }
}

// WithSessionTimeout ends sessions idle longer than d.
func WithSessionTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPersistTimeout bounds the save and outcome publishing that follow an
// engine step.
func WithPersistTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service is the telephony-facing entry point: it owns session persistence,
// transcription and synthesis around engine steps.
type Service struct {
	engine      *Engine
	store       SessionStore
	transcriber Transcriber
	synth       Synthesizer
	outcomes    OutcomeRecorder
	recovery    RecoveryQueue
	archive     TranscriptArchiver
	timeout     time.Duration
	now         func() time.Time
	logger      *logging.Logger

	persistTimeout time.Duration
}

// NewService builds a call service.
func NewService(engine *Engine, store SessionStore, transcriber Transcriber, synth Synthesizer, logger *logging.Logger, opts ...ServiceOption) (*Service, error) {
	if engine == nil || store == nil || transcriber == nil || synth == nil {
		return nil, errors.New("dialogue: engine, session store, transcriber and synthesizer are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	svc := &Service{
		engine:      engine,
		store:       store,
		transcriber: transcriber,
		synth:       synth,
		timeout:     5 * time.Minute,
		now:         time.Now,
		logger:      logger,

		persistTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// StartCall opens a session and returns the greeting. A repeated start for a
// live call replays its last prompt.
func (svc *Service) StartCall(ctx context.Context, callID, callerPhone string) (Reply, error) {
	if strings.TrimSpace(callID) == "" {
		callID = uuid.NewString()
	}
	unlock, err := svc.store.Lock(ctx, callID)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue: start call: %w", err)
	}
	defer unlock()

	existing, err := svc.store.Load(ctx, callID)
	switch {
	case err == nil && !existing.Terminal():
		return svc.render(ctx, Reply{Prompt: existing.LastPrompt}), nil
	case err == nil:
		return Reply{}, ErrSessionClosed
	case !errors.Is(err, ErrSessionNotFound):
		return Reply{}, fmt.Errorf("dialogue: start call: load: %w", err)
	}

	s := NewCallSession(callID, callerPhone, svc.now())
	reply, err := svc.engine.Start(ctx, s)
	if err != nil {
		return Reply{}, err
	}
	reply = svc.render(ctx, reply)
	if err := svc.store.Save(ctx, s); err != nil {
		return Reply{}, fmt.Errorf("dialogue: start call: save: %w", err)
	}
	svc.appendTranscript(ctx, s.ID, TranscriptEntry{Role: RoleAgent, Text: reply.Prompt, State: s.State, Timestamp: svc.now()})
	svc.logger.WithCall(s.ID).Info("call started", "caller", callerPhone)
	return reply, nil
}

// HandleTurn runs one caller turn for a recorded audio segment.
func (svc *Service) HandleTurn(ctx context.Context, callID, audioRef string) (Reply, error) {
	unlock, err := svc.store.Lock(ctx, callID)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue: handle turn: %w", err)
	}
	defer unlock()

	s, err := svc.store.Load(ctx, callID)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue: handle turn: load: %w", err)
	}
	if s.Terminal() {
		return Reply{}, ErrSessionClosed
	}

	if svc.expired(s) {
		reply, err := svc.engine.Abandon(s, ReasonTimeout, promptTimedOut)
		if err != nil {
			return Reply{}, err
		}
		return svc.conclude(ctx, s, "", StateDone, reply)
	}

	text := ""
	if strings.TrimSpace(audioRef) != "" {
		text, err = svc.transcriber.Transcribe(ctx, audioRef)
		if err != nil {
			// An unheard turn counts against the current step like silence.
			svc.logger.WithCall(callID).Warn("transcription failed", "error", err)
			text = ""
		}
	}
	heardIn := s.State
	reply, err := svc.engine.Step(ctx, s, text)
	if err != nil {
		return Reply{}, err
	}
	return svc.conclude(ctx, s, text, heardIn, reply)
}

// EndCall closes a call the caller hung up on. Finished or unknown calls are
// left untouched.
func (svc *Service) EndCall(ctx context.Context, callID string) error {
	unlock, err := svc.store.Lock(ctx, callID)
	if err != nil {
		return fmt.Errorf("dialogue: end call: %w", err)
	}
	defer unlock()

	s, err := svc.store.Load(ctx, callID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dialogue: end call: load: %w", err)
	}
	if s.Terminal() {
		return nil
	}
	state := s.State
	reason := ReasonCallerHungUp
	prompt := promptHungUp
	if svc.expired(s) {
		reason, prompt = ReasonTimeout, promptTimedOut
	}
	reply, err := svc.engine.Abandon(s, reason, prompt)
	if err != nil {
		return err
	}
	ctx, cancel := svc.settle(ctx)
	defer cancel()
	if err := svc.store.Save(ctx, s); err != nil {
		return fmt.Errorf("dialogue: end call: save: %w", err)
	}
	svc.logger.WithCall(callID).Info("call ended by caller", "state", state, "outcome", reply.Outcome.String())
	svc.finalize(ctx, s)
	return nil
}

// Session returns a stored session with its transcript.
func (svc *Service) Session(ctx context.Context, callID string) (*CallSession, []TranscriptEntry, error) {
	s, err := svc.store.Load(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := svc.store.Transcript(ctx, callID)
	if err != nil {
		return nil, nil, fmt.Errorf("dialogue: transcript: %w", err)
	}
	return s, entries, nil
}

func (svc *Service) expired(s *CallSession) bool {
	return svc.timeout > 0 && svc.now().Sub(s.LastActivityAt) > svc.timeout
}

// settle derives the context for work that follows an engine step. The step
// has already mutated the session (and possibly the calendar), so the save
// must not share the caller's deadline.
func (svc *Service) settle(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), svc.persistTimeout)
}

func (svc *Service) conclude(ctx context.Context, s *CallSession, heard string, heardIn State, reply Reply) (Reply, error) {
	ctx, cancel := svc.settle(ctx)
	defer cancel()
	reply = svc.render(ctx, reply)
	if err := svc.store.Save(ctx, s); err != nil {
		return Reply{}, fmt.Errorf("dialogue: save session: %w", err)
	}
	now := svc.now()
	entries := make([]TranscriptEntry, 0, 2)
	if heard != "" {
		entries = append(entries, TranscriptEntry{Role: RoleCaller, Text: heard, State: heardIn, Timestamp: now})
	}
	entries = append(entries, TranscriptEntry{Role: RoleAgent, Text: reply.Prompt, State: s.State, Timestamp: now})
	svc.appendTranscript(ctx, s.ID, entries...)
	if reply.Terminal {
		svc.finalize(ctx, s)
	}
	return reply, nil
}

func (svc *Service) render(ctx context.Context, reply Reply) Reply {
	audio, err := svc.synth.Synthesize(ctx, reply.Prompt)
	if err != nil {
		svc.logger.Warn("speech synthesis failed", "error", err)
		audio = AudioHandle{Text: reply.Prompt}
	}
	reply.Audio = audio
	return reply
}

func (svc *Service) appendTranscript(ctx context.Context, callID string, entries ...TranscriptEntry) {
	if err := svc.store.AppendTranscript(ctx, callID, entries...); err != nil {
		svc.logger.WithCall(callID).Warn("append transcript failed", "error", err)
	}
}

// finalize publishes a terminal outcome. Failures here never affect the call.
func (svc *Service) finalize(ctx context.Context, s *CallSession) {
	rec := NewOutcomeRecord(s)
	log := svc.logger.WithCall(s.ID)
	if svc.outcomes != nil {
		if err := svc.outcomes.RecordOutcome(ctx, rec); err != nil {
			log.Error("record outcome failed", "error", err)
		}
	}
	if rec.ManualRecover {
		log.Error("manual recovery required", "email", s.Email, "outcome", rec.Outcome.String())
		if svc.recovery != nil {
			if err := svc.recovery.EnqueueRecovery(ctx, rec); err != nil {
				log.Error("enqueue recovery failed", "error", err)
			}
		}
	}
	if svc.archive != nil {
		entries, err := svc.store.Transcript(ctx, s.ID)
		if err != nil {
			log.Warn("load transcript for archive failed", "error", err)
			return
		}
		if err := svc.archive.ArchiveTranscript(ctx, rec, entries); err != nil {
			log.Error("archive transcript failed", "error", err)
		}
	}
}
