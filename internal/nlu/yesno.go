package nlu

import (
	"context"
	"strings"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

const yesNoSystemPrompt = `A phone assistant asked the caller a yes or no question. Classify the caller's answer.
Reply with exactly one word: yes, no, or unclear.`

var (
	noPhrases  = []string{"not right", "not correct", "that's wrong", "that is wrong", "no it isn't", "no it's not"}
	yesWords   = map[string]bool{"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true, "correct": true, "right": true, "ok": true, "okay": true, "absolutely": true, "definitely": true, "affirmative": true, "haan": true}
	noWords    = map[string]bool{"no": true, "nope": true, "nah": true, "not": true, "wrong": true, "incorrect": true, "never": true, "nahi": true}
	trimSymbol = "\"'.,!?;:"
)

// KeywordYesNo classifies unambiguous answers without a model call.
func KeywordYesNo(text string) dialogue.YesNo {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, p := range noPhrases {
		if strings.Contains(s, p) {
			return dialogue.No
		}
	}
	var yes, no bool
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, trimSymbol)
		yes = yes || yesWords[w]
		no = no || noWords[w]
	}
	switch {
	case yes && !no:
		return dialogue.Yes
	case no && !yes:
		return dialogue.No
	}
	return dialogue.Unclear
}

// YesNoClassifier combines the keyword classifier with an LLM fallback.
type YesNoClassifier struct {
	client Completer
	logger *logging.Logger
}

func NewYesNoClassifier(client Completer, logger *logging.Logger) *YesNoClassifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &YesNoClassifier{client: client, logger: logger}
}

func (c *YesNoClassifier) ClassifyYesNo(ctx context.Context, text string) dialogue.YesNo {
	if v := KeywordYesNo(text); v != dialogue.Unclear || c.client == nil || strings.TrimSpace(text) == "" {
		return v
	}
	out, err := complete(ctx, c.client, "classify_yes_no", Prompt{Instructions: yesNoSystemPrompt, Input: text, MaxTokens: 5})
	if err != nil {
		c.logger.Warn("yes/no classification failed", "error", err)
		return dialogue.Unclear
	}
	switch strings.Trim(strings.ToLower(strings.TrimSpace(out)), trimSymbol) {
	case "yes":
		return dialogue.Yes
	case "no":
		return dialogue.No
	}
	return dialogue.Unclear
}
