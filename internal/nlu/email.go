package nlu

import (
	"context"
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

const emailSystemPrompt = `A caller spelled or spoke their email address over the phone and speech recognition transcribed it.
Reconstruct the single most likely email address. Spoken words like "at", "at the rate", "dot", "underscore" and "dash" are symbols.
Reply with only the email address, or with NONE if no address can be recovered.`

var emailPrefixes = []string{
	"my email address is", "my email id is", "my email is", "email address is",
	"email id is", "email is", "it is", "it's", "its",
}

var numberWords = map[string]string{
	"zero": "0", "oh": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

var symbolWords = map[string]string{
	"dot": ".", "period": ".", "point": ".",
	"underscore": "_", "dash": "-", "hyphen": "-", "minus": "-", "plus": "+",
}

var emailToken = regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`)

// NormalizeSpokenEmail rebuilds an address from transcribed speech such as
// "j dot doe at gmail dot com" or "a b c one two at the rate x dot in".
func NormalizeSpokenEmail(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range emailPrefixes {
		if strings.HasPrefix(s, p+" ") {
			s = strings.TrimSpace(strings.TrimPrefix(s, p))
			break
		}
	}

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
	var b strings.Builder
	repeat := 1
	for i := 0; i < len(tokens); i++ {
		tok := strings.Trim(tokens[i], ";:!?\"'")
		switch {
		case tok == "":
			continue
		case tok == "at":
			if i+2 < len(tokens) && tokens[i+1] == "the" && tokens[i+2] == "rate" {
				i += 2
			}
			b.WriteString("@")
		case tok == "double":
			repeat = 2
			continue
		case tok == "triple":
			repeat = 3
			continue
		case symbolWords[tok] != "":
			b.WriteString(symbolWords[tok])
		case numberWords[tok] != "":
			b.WriteString(strings.Repeat(numberWords[tok], repeat))
		default:
			b.WriteString(strings.Repeat(tok, repeat))
		}
		repeat = 1
	}
	return strings.TrimRight(b.String(), ".")
}

// EmailReconstructor recovers addresses with the deterministic normaliser and
// asks the LLM only when that fails.
type EmailReconstructor struct {
	client Completer
	logger *logging.Logger
}

func NewEmailReconstructor(client Completer, logger *logging.Logger) *EmailReconstructor {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailReconstructor{client: client, logger: logger}
}

func (r *EmailReconstructor) ReconstructEmail(ctx context.Context, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	candidate := NormalizeSpokenEmail(raw)
	if dialogue.ValidEmail(candidate) {
		return candidate
	}
	if found := emailToken.FindString(candidate); found != "" && dialogue.ValidEmail(found) {
		return found
	}
	if r.client == nil {
		return ""
	}
	out, err := complete(ctx, r.client, "reconstruct_email", Prompt{Instructions: emailSystemPrompt, Input: raw, MaxTokens: 60})
	if err != nil {
		r.logger.Warn("email reconstruction failed", "error", err)
		return ""
	}
	found := emailToken.FindString(strings.ToLower(out))
	if !dialogue.ValidEmail(found) {
		return ""
	}
	return found
}
