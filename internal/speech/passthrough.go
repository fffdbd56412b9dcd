package speech

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
)

// gatherPrefix marks audio references that already carry the provider's own
// speech recognition result.
const gatherPrefix = "gather:"

// GatherRef wraps a provider speech result so it can travel as an audio reference.
func GatherRef(text string) string {
	return gatherPrefix + text
}

// Router returns gathered speech results verbatim and sends recordings to
// the configured transcriber.
type Router struct {
	recordings dialogue.Transcriber
}

func NewRouter(recordings dialogue.Transcriber) *Router {
	return &Router{recordings: recordings}
}

func (r *Router) Transcribe(ctx context.Context, audioRef string) (string, error) {
	if text, ok := strings.CutPrefix(audioRef, gatherPrefix); ok {
		return strings.TrimSpace(text), nil
	}
	if r.recordings == nil {
		return "", errors.New("speech: no recording transcriber configured")
	}
	return r.recordings.Transcribe(ctx, audioRef)
}

// SaySynthesizer hands prompts to the telephony provider's own text-to-speech.
type SaySynthesizer struct{}

func (SaySynthesizer) Synthesize(_ context.Context, text string) (dialogue.AudioHandle, error) {
	return dialogue.AudioHandle{Text: strings.Join(strings.Fields(text), " ")}, nil
}
