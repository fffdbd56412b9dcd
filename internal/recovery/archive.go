package recovery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d(?:[\s\-]?\d){9,}`)
)

// S3API is the subset of the S3 client used by S3Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchivedCall is the JSON document written per finished call.
type ArchivedCall struct {
	Version    string                     `json:"version"`
	CallID     string                     `json:"call_id"`
	PhoneHash  string                     `json:"phone_hash,omitempty"`
	Intent     string                     `json:"intent,omitempty"`
	Outcome    string                     `json:"outcome"`
	Turns      int                        `json:"turns"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Entries    []dialogue.TranscriptEntry `json:"entries"`
}

// S3Archive stores scrubbed call transcripts. An empty bucket disables it.
type S3Archive struct {
	client S3API
	bucket string
	logger *logging.Logger
}

func NewS3Archive(client S3API, bucket string, logger *logging.Logger) *S3Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Archive{client: client, bucket: bucket, logger: logger}
}

func (a *S3Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

func (a *S3Archive) ArchiveTranscript(ctx context.Context, rec dialogue.OutcomeRecord, entries []dialogue.TranscriptEntry) error {
	if !a.Enabled() {
		return nil
	}
	doc := ArchivedCall{
		Version:    "1.0",
		CallID:     rec.CallID,
		Intent:     string(rec.Intent),
		Outcome:    rec.Outcome.String(),
		Turns:      rec.Turns,
		StartedAt:  rec.StartedAt.UTC(),
		FinishedAt: rec.FinishedAt.UTC(),
		Entries:    make([]dialogue.TranscriptEntry, len(entries)),
	}
	if rec.CallerPhone != "" {
		doc.PhoneHash = HashPhone(rec.CallerPhone)
	}
	for i, e := range entries {
		e.Text = ScrubPII(e.Text, rec.Email)
		doc.Entries[i] = e
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("recovery: marshal archived call: %w", err)
	}
	day := doc.FinishedAt
	key := fmt.Sprintf("calls/v1/by-date/%d/%02d/%02d/%s.json", day.Year(), day.Month(), day.Day(), rec.CallID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("recovery: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived call transcript", "call_id", rec.CallID, "s3_key", key, "entries", len(entries))
	return nil
}

// HashPhone returns the hex-encoded SHA-256 hash of a phone number.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// ScrubPII masks email addresses and phone numbers. A known address is also
// masked in its read-aloud form ("j dot doe at x dot com").
func ScrubPII(text, knownEmail string) string {
	if knownEmail != "" {
		spoken := strings.NewReplacer("@", " at ", ".", " dot ").Replace(strings.ToLower(knownEmail))
		text = replaceFold(text, spoken, "[EMAIL]")
	}
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	return phoneRe.ReplaceAllString(text, "[PHONE]")
}

func replaceFold(text, old, repl string) string {
	idx := strings.Index(strings.ToLower(text), old)
	if old == "" || idx < 0 {
		return text
	}
	return text[:idx] + repl + replaceFold(text[idx+len(old):], old, repl)
}
