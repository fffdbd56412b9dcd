// Package speech converts caller audio to text and agent prompts to
// something the telephony provider can play.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

var speechTracer = otel.Tracer("clinicvoice.internal.speech")

// RecognizeAPI is the subset of the Cloud Speech client used here.
type RecognizeAPI interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// NewGoogleClient creates a Cloud Speech client from a service account file.
func NewGoogleClient(ctx context.Context, credentialsFile string) (*speechapi.Client, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speechapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech: create google client: %w", err)
	}
	return client, nil
}

// GoogleTranscriber transcribes telephony recordings with Cloud Speech.
type GoogleTranscriber struct {
	api      RecognizeAPI
	fetcher  *RecordingFetcher
	language string
	hints    []string
	logger   *logging.Logger
}

type GoogleTranscriberConfig struct {
	LanguageCode string
	// PhraseHints bias recognition toward words callers use when booking.
	PhraseHints []string
}

func NewGoogleTranscriber(api RecognizeAPI, fetcher *RecordingFetcher, cfg GoogleTranscriberConfig, logger *logging.Logger) (*GoogleTranscriber, error) {
	if api == nil {
		return nil, errors.New("speech: recognize client is required")
	}
	if fetcher == nil {
		return nil, errors.New("speech: recording fetcher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-IN"
	}
	return &GoogleTranscriber{
		api:      api,
		fetcher:  fetcher,
		language: cfg.LanguageCode,
		hints:    cfg.PhraseHints,
		logger:   logger,
	}, nil
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	ctx, span := speechTracer.Start(ctx, "speech.google.transcribe")
	defer span.End()

	audio, err := g.fetcher.Fetch(ctx, recordingURL)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	rate, channels, err := wavFormat(audio)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	cfg := &speechpb.RecognitionConfig{
		Encoding:          speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:   rate,
		AudioChannelCount: channels,
		LanguageCode:      g.language,
		Model:             "phone_call",
		UseEnhanced:       true,
	}
	if len(g.hints) > 0 {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: g.hints}}
	}
	resp, err := g.api.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("speech: recognize: %w", err)
	}

	var transcript strings.Builder
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		transcript.WriteString(alts[0].GetTranscript())
		transcript.WriteString(" ")
	}
	text := strings.TrimSpace(transcript.String())
	g.logger.Debug("recording transcribed", "chars", len(text), "sample_rate", rate)
	return text, nil
}
