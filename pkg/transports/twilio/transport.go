package twilio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/harunnryd/dineline/pkg/callflow"
	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/transports"
	twilioclient "github.com/twilio/twilio-go/client"
)

type Config struct {
	ServerAddr    string            `mapstructure:"server_addr"`
	PublicURL     string            `mapstructure:"public_url"`
	AuthToken     string            `mapstructure:"auth_token"`
	AccountSID    string            `mapstructure:"account_sid"`
	FromNumber    string            `mapstructure:"from_number"`
	StaffNumber   string            `mapstructure:"staff_number"`
	BasePath      string            `mapstructure:"base_path"`
	GatherTimeout int               `mapstructure:"gather_timeout"`
	SpeechTimeout string            `mapstructure:"speech_timeout"`
	SpeechModel   string            `mapstructure:"speech_model"`
	Voices        map[string]string `mapstructure:"voices"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.BasePath == "" {
		c.BasePath = "/voice"
	}
	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 3
	}
	if c.SpeechTimeout == "" {
		c.SpeechTimeout = "auto"
	}
	if c.SpeechModel == "" {
		c.SpeechModel = "phone_call"
	}
	if c.Voices == nil {
		c.Voices = map[string]string{"en-US": "Polly.Joanna"}
	}
	// Config loaders lowercase map keys; voices match language tags case-insensitively.
	voices := make(map[string]string, len(c.Voices))
	for lang, voice := range c.Voices {
		voices[strings.ToLower(lang)] = voice
	}
	c.Voices = voices
	return c
}

func (c Config) path(name string) string { return c.BasePath + "/" + name }

// Engine is the call flow driven by the webhooks.
type Engine interface {
	Incoming(ctx context.Context, callID, from string) callflow.Reply
	SelectLanguage(ctx context.Context, callID, digits string) callflow.Reply
	Speech(ctx context.Context, u callflow.Utterance) callflow.Reply
	Continue(ctx context.Context, callID string) callflow.Reply
	NoInput(ctx context.Context, callID string) callflow.Reply
	GatewayError(ctx context.Context, callID, kind, message string) callflow.Reply
	CallStatus(ctx context.Context, callID, status string, durationSeconds int) error
}

// Transport serves the Twilio voice webhooks and renders engine replies
// as TwiML.
type Transport struct {
	cfg    Config
	engine Engine
	server *http.Server
	log    *slog.Logger

	draining atomic.Bool
	addr     atomic.Value
}

func New(cfg Config, engine Engine, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{cfg: cfg.withDefaults(), engine: engine, log: log}
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL(t.cfg.path("incoming")),
		"status_callback_url": t.publicURL(t.cfg.path("status")),
		"fallback_url":        t.publicURL(t.cfg.path("fallback")),
	}
}

// Handler returns the webhook routes.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.path("incoming"), t.webhook("incoming", func(r *http.Request) callflow.Reply {
		return t.engine.Incoming(r.Context(), r.FormValue("CallSid"), r.FormValue("From"))
	}))
	mux.HandleFunc(t.cfg.path("language"), t.webhook("language", func(r *http.Request) callflow.Reply {
		return t.engine.SelectLanguage(r.Context(), r.FormValue("CallSid"), r.FormValue("Digits"))
	}))
	mux.HandleFunc(t.cfg.path("speech"), t.webhook("speech", func(r *http.Request) callflow.Reply {
		confidence, _ := strconv.ParseFloat(r.FormValue("Confidence"), 64)
		return t.engine.Speech(r.Context(), callflow.Utterance{
			CallID:     r.FormValue("CallSid"),
			Text:       r.FormValue("SpeechResult"),
			Confidence: confidence,
		})
	}))
	mux.HandleFunc(t.cfg.path("process"), t.webhook("process", func(r *http.Request) callflow.Reply {
		return t.engine.Continue(r.Context(), r.FormValue("CallSid"))
	}))
	mux.HandleFunc(t.cfg.path("no-input"), t.webhook("no_input", func(r *http.Request) callflow.Reply {
		return t.engine.NoInput(r.Context(), r.FormValue("CallSid"))
	}))
	mux.HandleFunc(t.cfg.path("fallback"), t.webhook("fallback", func(r *http.Request) callflow.Reply {
		return t.engine.GatewayError(r.Context(), r.FormValue("CallSid"), r.FormValue("ErrorCode"), r.FormValue("ErrorUrl"))
	}))
	mux.HandleFunc(t.cfg.path("status"), t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start binds the listen address and serves webhooks until ctx ends or
// Stop is called. Bind errors are returned.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("twilio transport listen %s: %w", t.cfg.ServerAddr, err)
	}
	t.addr.Store(ln.Addr().String())
	t.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

// Addr is the bound listen address once started.
func (t *Transport) Addr() string {
	v, _ := t.addr.Load().(string)
	return v
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

// webhook validates and parses a gateway request, runs fn and writes the
// reply as TwiML.
func (t *Transport) webhook(name string, fn func(r *http.Request) callflow.Reply) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.accept(w, r, name) {
			return
		}
		reply := fn(r)
		t.log.Debug("twilio_webhook", "hook", name, "call_id", r.FormValue("CallSid"), "next", string(reply.Next))
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(t.render(reply)))
	}
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !t.accept(w, r, "status") {
		return
	}
	callSID := r.FormValue("CallSid")
	status := normalizeCallStatus(r.FormValue("CallStatus"))
	if callSID == "" || status == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	duration := -1
	if v, err := strconv.Atoi(r.FormValue("CallDuration")); err == nil {
		duration = v
	}
	if err := t.engine.CallStatus(r.Context(), callSID, status, duration); err != nil {
		t.log.Warn("twilio_status_failed", "call_id", callSID, "status", status, "error", err, "reason_code", string(errorsx.Reason(err)))
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) accept(w http.ResponseWriter, r *http.Request, name string) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return false
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.log.Warn("twilio_invalid_signature", "hook", name, "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

// Dial places an outbound call answered by the incoming webhook.
func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	return NewDialer(t.cfg).Dial(ctx, to, from, url)
}

func (t *Transport) DialWithOptions(ctx context.Context, to, from, url string, opts transports.DialOptions) (string, error) {
	return NewDialer(t.cfg).DialWithOptions(ctx, to, from, url, opts)
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) publicURL(path string) string {
	return webhookURL(t.cfg, path)
}

func webhookURL(cfg Config, path string) string {
	if cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(cfg.PublicURL) + path
	}
	addr := cfg.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

// normalizeCallStatus maps gateway call states onto the engine's terminal
// statuses. Non-terminal states map to "".
func normalizeCallStatus(raw string) string {
	r := strings.ToLower(strings.TrimSpace(raw))
	switch r {
	case "":
		return ""
	case "queued", "initiated", "ringing", "in-progress", "inprogress", "answered":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
