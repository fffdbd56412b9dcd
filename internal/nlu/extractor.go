package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

const extractorSystemPrompt = `You extract appointment details from one sentence a caller said to a clinic's phone assistant.
Reply with only a JSON object with these string keys:
  "intent": "schedule", "reschedule", "cancel", or "" if the caller did not say
  "date":   the appointment date as YYYY-MM-DD, or ""
  "time":   the appointment time as HH:MM on a 24 hour clock, or ""
  "email":  the email address exactly as spoken, or ""
Resolve relative dates such as "Monday", "tomorrow" or "next week Tuesday" against today's date.
For a reschedule, date and time are the NEW appointment. Never guess a value the caller did not say.`

// SlotExtractor maps utterances to slot candidates with an LLM.
type SlotExtractor struct {
	client   Completer
	location *time.Location
	now      func() time.Time
	logger   *logging.Logger
}

// NewSlotExtractor builds an extractor that resolves dates in loc.
func NewSlotExtractor(client Completer, loc *time.Location, logger *logging.Logger) *SlotExtractor {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SlotExtractor{client: client, location: loc, now: time.Now, logger: logger}
}

// Extract never fails: any provider or parse error yields an empty candidate.
func (x *SlotExtractor) Extract(ctx context.Context, prior dialogue.Intent, text string) dialogue.SlotCandidate {
	text = strings.TrimSpace(text)
	if text == "" || x.client == nil {
		return dialogue.SlotCandidate{}
	}
	today := x.now().In(x.location)
	user := fmt.Sprintf("Today is %s, %s.\n", today.Format("Monday"), today.Format("2006-01-02"))
	if prior != dialogue.IntentUnknown {
		user += fmt.Sprintf("The caller already said they want to %s.\n", prior)
	}
	user += "Caller: " + text

	out, err := complete(ctx, x.client, "extract_slots", Prompt{
		Instructions: extractorSystemPrompt,
		Input:        user,
		MaxTokens:    200,
		JSON:         true,
	})
	if err != nil {
		x.logger.Warn("slot extraction failed", "error", err)
		return dialogue.SlotCandidate{}
	}
	return parseCandidate(out)
}

type extractedFields struct {
	Intent string `json:"intent"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Email  string `json:"email"`
}

// parseCandidate reads the model's JSON, tolerating code fences and
// surrounding prose. Fields in the wrong format are dropped.
func parseCandidate(text string) dialogue.SlotCandidate {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return dialogue.SlotCandidate{}
	}
	var f extractedFields
	if err := json.Unmarshal([]byte(text[start:end+1]), &f); err != nil {
		return dialogue.SlotCandidate{}
	}
	return dialogue.SlotCandidate{
		Intent:   dialogue.ParseIntent(f.Intent),
		Date:     normalizeDate(f.Date),
		Time:     normalizeTime(f.Time),
		RawEmail: strings.TrimSpace(f.Email),
	}
}

func normalizeDate(v string) string {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(v))
	if err != nil {
		return ""
	}
	return d.Format("2006-01-02")
}

func normalizeTime(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04")
		}
	}
	return ""
}
