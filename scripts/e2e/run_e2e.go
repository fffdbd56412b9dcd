// Package main drives scripted phone calls through a running API by posting
// signed Twilio webhooks with gathered speech, then checks the stored outcome
// through the admin call endpoint.
//
// Usage:
//
//	API_BASE_URL=... PUBLIC_BASE_URL=... TWILIO_AUTH_TOKEN=... ADMIN_JWT_SECRET=... go run scripts/e2e/run_e2e.go [scenario-name]
//
// PUBLIC_BASE_URL must match the server's own setting so signatures verify.
// Scenarios book real slots; point it at a memory or scratch calendar.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	httpmiddleware "github.com/wolfman30/clinic-voice-booking/internal/http/middleware"
)

var (
	apiBase    string
	publicBase string
	authToken  string
	adminToken string
	client     = &http.Client{Timeout: 20 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL: %s\n", name)
	t.failed++
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// call is one simulated phone call.
type call struct {
	sid   string
	phone string
}

func newCall() *call {
	return &call{sid: "CA" + strings.ReplaceAll(uuid.NewString(), "-", ""), phone: "+919800000000"}
}

func (c *call) post(path string, form url.Values) (string, error) {
	form.Set("CallSid", c.sid)
	form.Set("From", c.phone)
	req, err := http.NewRequest(http.MethodPost, apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", httpmiddleware.TwilioSignatureFor(authToken, publicBase+path, form))
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(body))
	}
	return string(body), nil
}

func (c *call) answer() (string, error) {
	return c.post("/webhooks/voice/incoming", url.Values{})
}

func (c *call) say(text string) (string, error) {
	fmt.Printf("    caller: %s\n", text)
	twiml, err := c.post("/webhooks/voice/recording", url.Values{"SpeechResult": {text}})
	if err == nil {
		fmt.Printf("    agent:  %s\n", spoken(twiml))
	}
	return twiml, err
}

func (c *call) hangUp() error {
	_, err := c.post("/webhooks/voice/status", url.Values{"CallStatus": {"completed"}})
	return err
}

type callView struct {
	Session struct {
		State   string `json:"state"`
		Outcome *struct {
			Kind   string `json:"kind"`
			Reason string `json:"reason"`
		} `json:"outcome"`
		Email string `json:"email"`
	} `json:"session"`
	Transcript []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"transcript"`
}

func (c *call) inspect() (*callView, error) {
	req, err := http.NewRequest(http.MethodGet, apiBase+"/admin/calls/"+c.sid, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin call lookup returned %d", resp.StatusCode)
	}
	var view callView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, err
	}
	return &view, nil
}

func spoken(twiml string) string {
	start := strings.Index(twiml, "<Say")
	if start < 0 {
		return "(no speech)"
	}
	open := strings.Index(twiml[start:], ">")
	end := strings.Index(twiml, "</Say>")
	if open < 0 || end < 0 {
		return "(no speech)"
	}
	return twiml[start+open+1 : end]
}

func outcomeOf(v *callView) string {
	if v == nil || v.Session.Outcome == nil {
		return ""
	}
	if v.Session.Outcome.Reason == "" {
		return v.Session.Outcome.Kind
	}
	return v.Session.Outcome.Kind + "(" + v.Session.Outcome.Reason + ")"
}

// nextWeekday returns the date of the next given weekday at least two days out.
func nextWeekday(day time.Weekday) time.Time {
	d := time.Now().AddDate(0, 0, 2)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func spokenDate(d time.Time) string {
	return d.Format("Monday January 2")
}

func scenarioBooking(t *T) {
	c := newCall()
	email := fmt.Sprintf("e2e.%d@example.com", time.Now().Unix())
	user, domain, _ := strings.Cut(email, "@")
	if _, err := c.answer(); err != nil {
		t.fatalf("%v", err)
		return
	}
	day := spokenDate(nextWeekday(time.Tuesday))
	steps := []string{
		"I'd like to book an appointment on " + day + " at 11 in the morning",
		strings.ReplaceAll(user, ".", " dot ") + " at " + strings.ReplaceAll(domain, ".", " dot "),
		"yes that's right",
	}
	var last string
	for _, s := range steps {
		twiml, err := c.say(s)
		if err != nil {
			t.fatalf("%v", err)
			return
		}
		last = twiml
	}
	t.check("call ends with hangup", strings.Contains(last, "<Hangup>"))
	view, err := c.inspect()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("outcome is booked", outcomeOf(view) == "booked")
	t.check("email captured", view.Session.Email == email)
}

func scenarioRestPeriod(t *T) {
	c := newCall()
	if _, err := c.answer(); err != nil {
		t.fatalf("%v", err)
		return
	}
	day := spokenDate(nextWeekday(time.Wednesday))
	twiml, err := c.say("book me for " + day + " at 3 pm")
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("call continues", strings.Contains(twiml, "<Record"))
	t.check("asks for another time", strings.Contains(strings.ToLower(spoken(twiml)), "time"))
	view, err := c.inspect()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("date kept while time is re-asked", view.Session.State == "capture_missing_slots")
	_ = c.hangUp()
}

func scenarioCancelNotFound(t *T) {
	c := newCall()
	if _, err := c.answer(); err != nil {
		t.fatalf("%v", err)
		return
	}
	steps := []string{
		"I want to cancel my appointment",
		fmt.Sprintf("nobody %d at example dot com", time.Now().UnixNano()%100000),
		"yes",
	}
	var last string
	for _, s := range steps {
		twiml, err := c.say(s)
		if err != nil {
			t.fatalf("%v", err)
			return
		}
		last = twiml
	}
	t.check("call ends with hangup", strings.Contains(last, "<Hangup>"))
	view, err := c.inspect()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("outcome is abandoned(not_found)", outcomeOf(view) == "abandoned(not_found)")
}

func scenarioHangUp(t *T) {
	c := newCall()
	if _, err := c.answer(); err != nil {
		t.fatalf("%v", err)
		return
	}
	if err := c.hangUp(); err != nil {
		t.fatalf("%v", err)
		return
	}
	view, err := c.inspect()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("outcome is abandoned(caller_hung_up)", outcomeOf(view) == "abandoned(caller_hung_up)")
	twiml, err := c.say("hello?")
	t.check("turn after hangup is refused", err == nil && strings.Contains(twiml, "<Hangup>"))
}

func scenarioSilence(t *T) {
	c := newCall()
	if _, err := c.answer(); err != nil {
		t.fatalf("%v", err)
		return
	}
	var last string
	for i := 0; i < 4; i++ {
		twiml, err := c.post("/webhooks/voice/recording", url.Values{})
		if err != nil {
			t.fatalf("%v", err)
			return
		}
		last = twiml
		if strings.Contains(twiml, "<Hangup>") {
			break
		}
	}
	t.check("silence eventually ends the call", strings.Contains(last, "<Hangup>"))
	view, err := c.inspect()
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("outcome is abandoned(max_retries)", outcomeOf(view) == "abandoned(max_retries)")
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	publicBase = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	authToken = os.Getenv("TWILIO_AUTH_TOKEN")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	if publicBase == "" {
		publicBase = apiBase
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "e2e",
		"scope": "calls:read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: sign admin token:", err)
		os.Exit(1)
	}
	adminToken = token

	scenarios := []scenario{
		{"booking", scenarioBooking},
		{"rest-period", scenarioRestPeriod},
		{"cancel-not-found", scenarioCancelNotFound},
		{"hang-up", scenarioHangUp},
		{"silence", scenarioSilence},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed, totalFailed := 0, 0
	var results []string
	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}
		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{}
		s.Fn(t)
		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		results = append(results, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range results {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)
	if totalFailed > 0 {
		os.Exit(1)
	}
}
