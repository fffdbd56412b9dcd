package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/internal/speech"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// CallService is the slice of dialogue.Service the webhooks drive.
type CallService interface {
	StartCall(ctx context.Context, callID, callerPhone string) (dialogue.Reply, error)
	HandleTurn(ctx context.Context, callID, audioRef string) (dialogue.Reply, error)
	EndCall(ctx context.Context, callID string) error
	Session(ctx context.Context, callID string) (*dialogue.CallSession, []dialogue.TranscriptEntry, error)
}

// VoiceConfig controls how replies are spoken and how the next turn is captured.
type VoiceConfig struct {
	PublicBaseURL     string
	Voice             string
	Language          string
	MaxRecordSeconds  int
	SilenceTimeoutSec int
	// TurnDeadline bounds one webhook's work so Twilio's 15s limit is not hit.
	TurnDeadline time.Duration
}

// VoiceHandler serves the Twilio voice webhooks and the call inspection API.
type VoiceHandler struct {
	calls  CallService
	cfg    VoiceConfig
	logger *logging.Logger
}

const (
	pathRecording = "/webhooks/voice/recording"
	promptHold    = "One moment please."
	promptTrouble = "Sorry, we are having trouble right now. Please call again later. Goodbye."
)

// NewVoiceHandler builds the voice webhook handler.
func NewVoiceHandler(calls CallService, cfg VoiceConfig, logger *logging.Logger) *VoiceHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxRecordSeconds <= 0 {
		cfg.MaxRecordSeconds = 30
	}
	if cfg.SilenceTimeoutSec <= 0 {
		cfg.SilenceTimeoutSec = 3
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = 12 * time.Second
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &VoiceHandler{calls: calls, cfg: cfg, logger: logger}
}

// Incoming answers POST /webhooks/voice/incoming with the greeting.
func (h *VoiceHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callID := r.PostForm.Get("CallSid")
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.TurnDeadline)
	defer cancel()

	reply, err := h.calls.StartCall(ctx, callID, r.PostForm.Get("From"))
	if err != nil {
		h.logger.Error("voice: start call failed", "call_sid", callID, "error", err)
		writeTwiML(w, h.goodbye(promptTrouble))
		return
	}
	writeTwiML(w, h.render(reply))
}

// Recording handles POST /webhooks/voice/recording, fired when a caller turn
// has been captured either as a recording or as a <Gather> speech result.
func (h *VoiceHandler) Recording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callID := r.PostForm.Get("CallSid")
	if callID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}
	ref := r.PostForm.Get("RecordingUrl")
	if speechResult := strings.TrimSpace(r.PostForm.Get("SpeechResult")); speechResult != "" {
		ref = speech.GatherRef(speechResult)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.TurnDeadline)
	defer cancel()
	reply, err := h.calls.HandleTurn(ctx, callID, ref)
	switch {
	case err == nil:
		writeTwiML(w, h.render(reply))
	case errors.Is(err, dialogue.ErrTurnInProgress):
		h.logger.Warn("voice: overlapping turn", "call_sid", callID)
		writeTwiML(w, twimlResponse{
			Say:    h.say(promptHold),
			Record: h.record(),
		})
	case errors.Is(err, dialogue.ErrSessionClosed):
		writeTwiML(w, twimlResponse{Hangup: &struct{}{}})
	case errors.Is(err, dialogue.ErrSessionNotFound):
		h.logger.Warn("voice: turn for unknown call", "call_sid", callID)
		writeTwiML(w, h.goodbye(promptTrouble))
	default:
		h.logger.Error("voice: handle turn failed", "call_sid", callID, "error", err)
		writeTwiML(w, h.goodbye(promptTrouble))
	}
}

// Status handles POST /webhooks/voice/status. Twilio reports the final call
// status here, which ends sessions the caller hung up on.
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	callID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.calls.EndCall(r.Context(), callID); err != nil {
		h.logger.Error("voice: end call failed", "call_sid", callID, "status", status, "error", err)
		http.Error(w, "failed to end call", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// callView is the admin representation of a call.
type callView struct {
	Session    *dialogue.CallSession      `json:"session"`
	Transcript []dialogue.TranscriptEntry `json:"transcript"`
}

// GetCall serves GET /admin/calls/{callID}.
func (h *VoiceHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	s, entries, err := h.calls.Session(r.Context(), callID)
	if errors.Is(err, dialogue.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	if err != nil {
		h.logger.Error("voice: load call failed", "call_sid", callID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load call"})
		return
	}
	if entries == nil {
		entries = []dialogue.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, callView{Session: s, Transcript: entries})
}

func (h *VoiceHandler) render(reply dialogue.Reply) twimlResponse {
	resp := twimlResponse{}
	if reply.Audio.URL != "" {
		resp.Play = reply.Audio.URL
	} else {
		text := reply.Audio.Text
		if text == "" {
			text = reply.Prompt
		}
		resp.Say = h.say(text)
	}
	if reply.Terminal {
		resp.Hangup = &struct{}{}
		return resp
	}
	resp.Record = h.record()
	return resp
}

func (h *VoiceHandler) goodbye(text string) twimlResponse {
	return twimlResponse{Say: h.say(text), Hangup: &struct{}{}}
}

func (h *VoiceHandler) say(text string) *twimlSay {
	return &twimlSay{Voice: h.cfg.Voice, Language: h.cfg.Language, Text: text}
}

func (h *VoiceHandler) record() *twimlRecord {
	return &twimlRecord{
		Action:    h.cfg.PublicBaseURL + pathRecording,
		Method:    http.MethodPost,
		MaxLength: h.cfg.MaxRecordSeconds,
		Timeout:   h.cfg.SilenceTimeoutSec,
		PlayBeep:  false,
		Trim:      "trim-silence",
	}
}
