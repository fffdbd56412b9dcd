// Package nlu turns caller utterances into structured booking fields using
// deterministic parsers first and an LLM where they fall short.
package nlu

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

var nluTracer = otel.Tracer("clinicvoice.internal.nlu")

// Prompt is one instruction plus one caller utterance. Every nlu call is
// single-turn and deterministic, so there is no history or sampling knob.
type Prompt struct {
	Instructions string
	Input        string
	MaxTokens    int32
	// JSON asks providers that support it for a bare JSON object.
	JSON bool
}

type Completion struct {
	Text         string
	Provider     string
	InputTokens  int32
	OutputTokens int32
}

// Completer is an LLM provider.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

var errEmptyCompletion = errors.New("nlu: provider returned no text")

// chain tries providers in order and returns the first success.
type chain struct {
	providers []Completer
	logger    *logging.Logger
}

// Chain combines providers into one Completer that falls through on error.
// It returns nil when no provider is given.
func Chain(logger *logging.Logger, providers ...Completer) Completer {
	var live []Completer
	for _, p := range providers {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &chain{providers: live, logger: logger}
}

func (c *chain) Complete(ctx context.Context, p Prompt) (Completion, error) {
	var errs []error
	for i, provider := range c.providers {
		out, err := provider.Complete(ctx, p)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(c.providers) {
			c.logger.Warn("llm provider failed, trying next", "error", err, "position", i)
		}
	}
	return Completion{}, errors.Join(errs...)
}

// complete runs p under a span and returns the trimmed text.
func complete(ctx context.Context, c Completer, purpose string, p Prompt) (string, error) {
	ctx, span := nluTracer.Start(ctx, "nlu."+purpose)
	defer span.End()
	out, err := c.Complete(ctx, p)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("nlu: %s: %w", purpose, err)
	}
	span.SetAttributes(
		attribute.String("nlu.provider", out.Provider),
		attribute.Int("nlu.input_tokens", int(out.InputTokens)),
		attribute.Int("nlu.output_tokens", int(out.OutputTokens)),
	)
	return out.Text, nil
}
