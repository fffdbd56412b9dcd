package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

const maxRecordingBytes = 5 * 1024 * 1024

// RecordingFetcher downloads call recordings from the telephony provider.
type RecordingFetcher struct {
	client     *http.Client
	accountSID string
	authToken  string
	attempts   int
	backoff    time.Duration
}

func NewRecordingFetcher(accountSID, authToken string, client *http.Client) *RecordingFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RecordingFetcher{
		client:     client,
		accountSID: accountSID,
		authToken:  authToken,
		attempts:   3,
		backoff:    400 * time.Millisecond,
	}
}

// Fetch returns the WAV bytes behind a recording URL. Recordings can 404 for a
// moment after the webhook fires, so not-found responses are retried.
func (f *RecordingFetcher) Fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	url := strings.TrimSpace(recordingURL)
	if url == "" {
		return nil, errors.New("speech: recording url required")
	}
	if path.Ext(url) == "" {
		url += ".wav"
	}

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}
		body, status, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK {
			return body, nil
		}
		lastErr = fmt.Errorf("speech: fetch recording: status %d", status)
		if status != http.StatusNotFound {
			break
		}
	}
	return nil, lastErr
}

func (f *RecordingFetcher) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("speech: build recording request: %w", err)
	}
	if f.accountSID != "" {
		req.SetBasicAuth(f.accountSID, f.authToken)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("speech: fetch recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("speech: read recording: %w", err)
	}
	return body, resp.StatusCode, nil
}

// wavFormat reads the sample rate and channel count from a canonical WAV header.
func wavFormat(data []byte) (sampleRate int32, channels int32, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, errors.New("speech: recording is not a WAV file")
	}
	channels = int32(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate = int32(binary.LittleEndian.Uint32(data[24:28]))
	return sampleRate, channels, nil
}
