package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/harunnryd/dineline/pkg/callflow"
)

type stubEngine struct {
	mu     sync.Mutex
	calls  []string
	speech callflow.Utterance
	status struct {
		callID   string
		status   string
		duration int
	}
	reply callflow.Reply
}

func (s *stubEngine) record(op string) callflow.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.reply
}

func (s *stubEngine) Incoming(_ context.Context, callID, from string) callflow.Reply {
	return s.record("incoming:" + callID + ":" + from)
}

func (s *stubEngine) SelectLanguage(_ context.Context, callID, digits string) callflow.Reply {
	return s.record("language:" + callID + ":" + digits)
}

func (s *stubEngine) Speech(_ context.Context, u callflow.Utterance) callflow.Reply {
	s.speech = u
	return s.record("speech:" + u.CallID)
}

func (s *stubEngine) Continue(_ context.Context, callID string) callflow.Reply {
	return s.record("continue:" + callID)
}

func (s *stubEngine) NoInput(_ context.Context, callID string) callflow.Reply {
	return s.record("no_input:" + callID)
}

func (s *stubEngine) GatewayError(_ context.Context, callID, kind, _ string) callflow.Reply {
	return s.record("error:" + callID + ":" + kind)
}

func (s *stubEngine) CallStatus(_ context.Context, callID, status string, duration int) error {
	s.status.callID, s.status.status, s.status.duration = callID, status, duration
	s.record("status:" + callID)
	return nil
}

func post(t *testing.T, tr *Transport, path string, form url.Values, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://example.com"+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign {
		params := map[string]string{}
		for k := range form {
			params[k] = form.Get(k)
		}
		req.Header.Set("X-Twilio-Signature", computeSignature(tr.cfg.AuthToken, tr.requestURL(req), params))
	}
	w := httptest.NewRecorder()
	tr.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookSignatureValidation(t *testing.T) {
	engine := &stubEngine{reply: callflow.Reply{Text: "hi", Next: callflow.NextDigits}}
	tr := New(Config{AuthToken: "token", PublicURL: "https://example.com"}, engine, nil)
	form := url.Values{"CallSid": {"CA123"}, "From": {"+123"}}

	if w := post(t, tr, "/voice/incoming", form, true); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := post(t, tr, "/voice/incoming", form, false); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}
	if len(engine.calls) != 1 || engine.calls[0] != "incoming:CA123:+123" {
		t.Fatalf("unexpected engine calls %v", engine.calls)
	}
}

func TestWebhookRoutes(t *testing.T) {
	engine := &stubEngine{reply: callflow.Reply{Text: "ok", Next: callflow.NextListen}}
	tr := New(Config{}, engine, nil)

	post(t, tr, "/voice/language", url.Values{"CallSid": {"CA1"}, "Digits": {"2"}}, false)
	post(t, tr, "/voice/speech", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"a pizza"}, "Confidence": {"0.87"}}, false)
	post(t, tr, "/voice/process", url.Values{"CallSid": {"CA1"}}, false)
	post(t, tr, "/voice/no-input", url.Values{"CallSid": {"CA1"}}, false)
	post(t, tr, "/voice/fallback", url.Values{"CallSid": {"CA1"}, "ErrorCode": {"11200"}}, false)

	want := []string{"language:CA1:2", "speech:CA1", "continue:CA1", "no_input:CA1", "error:CA1:11200"}
	if strings.Join(engine.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected engine calls %v", engine.calls)
	}
	if engine.speech.Text != "a pizza" || engine.speech.Confidence != 0.87 {
		t.Fatalf("unexpected utterance %+v", engine.speech)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	tr := New(Config{}, &stubEngine{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/voice/speech", nil)
	w := httptest.NewRecorder()
	tr.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestStatusCallback(t *testing.T) {
	engine := &stubEngine{}
	tr := New(Config{}, engine, nil)

	w := post(t, tr, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}, false)
	if w.Code != http.StatusOK || len(engine.calls) != 0 {
		t.Fatalf("non-terminal status must be ignored")
	}
	post(t, tr, "/voice/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"42"}}, false)
	if engine.status.status != "completed" || engine.status.duration != 42 || engine.status.callID != "CA1" {
		t.Fatalf("unexpected status delivery %+v", engine.status)
	}
}

func TestRenderDirectives(t *testing.T) {
	tr := New(Config{StaffNumber: "+15550001111"}, &stubEngine{}, nil)
	cases := []struct {
		reply callflow.Reply
		want  []string
	}{
		{callflow.Reply{Text: "Menu & more", Language: "en-US", Next: callflow.NextListen}, []string{
			`<Say voice="Polly.Joanna" language="en-US">Menu &amp; more</Say>`,
			`<Gather input="speech" method="POST" action="/voice/speech"`,
			`language="en-US"`,
			`<Redirect method="POST">/voice/no-input</Redirect>`,
		}},
		{callflow.Reply{Text: "Press 1", Next: callflow.NextDigits}, []string{
			`<Gather input="dtmf" numDigits="1"`, `action="/voice/language"`,
		}},
		{callflow.Reply{Text: "Bye", Next: callflow.NextHangup}, []string{`<Say>Bye</Say><Hangup/>`}},
		{callflow.Reply{Text: "Hold on", Next: callflow.NextTransfer}, []string{`<Dial>+15550001111</Dial>`}},
		{callflow.Reply{Text: "One moment", Next: callflow.NextDefer}, []string{`<Redirect method="POST">/voice/process</Redirect>`}},
	}
	for _, tc := range cases {
		got := tr.render(tc.reply)
		for _, want := range tc.want {
			if !strings.Contains(got, want) {
				t.Fatalf("%s: expected %q in %s", tc.reply.Next, want, got)
			}
		}
	}
	urdu := tr.render(callflow.Reply{Text: "سلام", Language: "ur-PK", Next: callflow.NextListen})
	if strings.Contains(urdu, "voice=") {
		t.Fatalf("no voice configured for ur-PK, got %s", urdu)
	}
}

func TestTransferWithoutStaffHangsUp(t *testing.T) {
	tr := New(Config{}, &stubEngine{}, nil)
	got := tr.render(callflow.Reply{Text: "Sorry", Next: callflow.NextTransfer})
	if !strings.Contains(got, "<Hangup/>") || strings.Contains(got, "<Dial>") {
		t.Fatalf("unexpected transfer without staff number %s", got)
	}
}

func TestHealthReportsDrain(t *testing.T) {
	tr := New(Config{}, &stubEngine{}, nil)
	h := tr.Handler()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", w.Code)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected draining, got %d", w.Code)
	}
}

func TestNormalizeCallStatus(t *testing.T) {
	cases := map[string]string{
		"in-progress": "",
		"Completed":   "completed",
		"no-answer":   "no_answer",
		"canceled":    "failed",
		"weird":       "unknown",
	}
	for in, want := range cases {
		if got := normalizeCallStatus(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	base := url
	for _, k := range keys {
		base += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
