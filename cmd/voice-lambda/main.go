// Command voice-lambda fronts the Twilio voice webhooks on API Gateway and
// relays them to the booking API. If the API errors or times out the caller
// hears a short apology instead of Twilio's application-error message.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

const apologyTwiML = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
	`<Response><Say>I'm sorry, the booking line is unavailable right now. Please call back in a few minutes. Goodbye.</Say><Hangup></Hangup></Response>`

const maxUpstreamBody = 1 << 20

type webhookKind int

const (
	turnWebhook   webhookKind = iota // expects TwiML back
	statusWebhook                    // body is ignored by Twilio
)

var webhooks = map[string]webhookKind{
	"/webhooks/voice/incoming":  turnWebhook,
	"/webhooks/voice/recording": turnWebhook,
	"/webhooks/voice/status":    statusWebhook,
}

// relayedHeaders are copied to the upstream request when present.
var relayedHeaders = []string{"Content-Type", "X-Twilio-Signature", "I-Twilio-Idempotency-Token"}

type forwarder struct {
	upstream string
	timeout  time.Duration
	client   *http.Client
	logger   *logging.Logger
}

func newForwarder() (*forwarder, error) {
	upstream := strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")), "/")
	if upstream == "" {
		return nil, errors.New("voice-lambda: UPSTREAM_BASE_URL is required")
	}
	timeout := 12 * time.Second
	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("voice-lambda: invalid UPSTREAM_TIMEOUT %q", raw)
		}
		timeout = d
	}
	return &forwarder{
		upstream: upstream,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.New(os.Getenv("LOG_LEVEL")),
	}, nil
}

func main() {
	f, err := newForwarder()
	if err != nil {
		logging.Default().Error("voice-lambda misconfigured", "error", err)
		os.Exit(1)
	}
	lambda.Start(f.serve)
}

func (f *forwarder) serve(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	path := evt.RawPath
	if path == "" {
		path = evt.RequestContext.HTTP.Path
	}
	if path == "/health" {
		return reply(http.StatusOK, "ok", ""), nil
	}
	kind, ok := webhooks[path]
	if !ok {
		return reply(http.StatusNotFound, "", ""), nil
	}
	if !strings.EqualFold(evt.RequestContext.HTTP.Method, http.MethodPost) {
		return reply(http.StatusMethodNotAllowed, "", ""), nil
	}

	body := []byte(evt.Body)
	if evt.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(evt.Body)
		if err != nil {
			return reply(http.StatusBadRequest, "invalid body", ""), nil
		}
		body = decoded
	}

	status, respBody, contentType, err := f.relay(ctx, path, evt.RawQueryString, evt.Headers, body)
	if err == nil && status < http.StatusInternalServerError {
		return reply(status, respBody, contentType), nil
	}
	f.logger.Warn("upstream webhook failed", "path", path, "status", status, "error", err)
	if kind == statusWebhook {
		return reply(http.StatusBadGateway, "", ""), nil
	}
	return reply(http.StatusOK, apologyTwiML, "text/xml; charset=utf-8"), nil
}

// relay posts the webhook to the API. The API checks the Twilio signature
// against its own public URL, so the path and query are kept intact.
func (f *forwarder) relay(ctx context.Context, path, query string, headers map[string]string, body []byte) (int, string, string, error) {
	target := f.upstream + path
	if query = strings.TrimSpace(query); query != "" {
		target += "?" + query
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, "", "", err
	}
	for _, name := range relayedHeaders {
		if v := lookupHeader(headers, name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return resp.StatusCode, "", "", err
	}
	return resp.StatusCode, string(out), resp.Header.Get("Content-Type"), nil
}

func reply(status int, body, contentType string) events.APIGatewayV2HTTPResponse {
	resp := events.APIGatewayV2HTTPResponse{StatusCode: status, Body: body}
	if contentType != "" {
		resp.Headers = map[string]string{"content-type": contentType}
	}
	return resp
}

// lookupHeader matches API Gateway's lower-cased header keys.
func lookupHeader(headers map[string]string, name string) string {
	if v, ok := headers[strings.ToLower(name)]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
