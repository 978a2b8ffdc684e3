// Package callflow drives one phone call across stateless gateway
// requests. Every entry point returns a speakable Reply; faults never
// reach the gateway.
package callflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/cache"
	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/escalation"
	"github.com/harunnryd/dineline/pkg/intent"
	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/locale"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/phone"
	"github.com/harunnryd/dineline/pkg/redact"
	"github.com/harunnryd/dineline/pkg/respond"
	"github.com/harunnryd/dineline/pkg/store"
	"github.com/harunnryd/dineline/pkg/textnorm"
)

// Next tells the gateway what to do after speaking a reply.
type Next string

const (
	NextListen   Next = "listen"
	NextHangup   Next = "hangup"
	NextTransfer Next = "transfer"
	NextDigits   Next = "digits"
	NextDefer    Next = "defer"
)

type Reply struct {
	Text     string
	Language string
	Next     Next
}

// Utterance is one recognized speech result.
type Utterance struct {
	CallID     string
	Text       string
	Confidence float64
}

// Store is the durable storage used directly by the engine.
type Store interface {
	CreateSession(ctx context.Context, callID, phone, language string) (*store.Session, bool, error)
	SetLanguage(ctx context.Context, callID, language string) error
	AppendTurns(ctx context.Context, sessionID string, turns ...store.Turn) ([]store.Turn, error)
	LatestActiveOrder(ctx context.Context, phone string) (*store.Order, error)
	LinkOrder(ctx context.Context, sessionID string, orderID uint) (bool, error)
	FinalizeSession(ctx context.Context, callID string, at time.Time) (bool, error)
	CompleteSession(ctx context.Context, callID string, c store.Completion) error
	RecordError(ctx context.Context, rec store.ErrorRecord) error
}

// Sessions is the read-through snapshot cache in front of Store.
type Sessions interface {
	Get(ctx context.Context, callID string) (*store.Session, error)
	GetOrder(ctx context.Context, orderID uint) (*store.Order, error)
	Invalidate(ctx context.Context, callID string)
}

type PendingQueue interface {
	Put(ctx context.Context, callID string, p cache.Pending) error
	Take(ctx context.Context, callID string) (cache.Pending, bool, error)
}

type Resolver interface {
	Resolve(ctx context.Context, utterance string) intent.Result
}

type Responder interface {
	Respond(ctx context.Context, req respond.Request) respond.Reply
}

type Escalator interface {
	Record(ctx context.Context, ev escalation.Event) (escalation.Decision, error)
}

type SentimentScorer interface {
	Sentiment(ctx context.Context, conversation []llm.Message) (float64, error)
}

type Config struct {
	DefaultLanguage    string            `mapstructure:"default_language"`
	Languages          map[string]string `mapstructure:"languages"`
	LongUtteranceWords int               `mapstructure:"long_utterance_words"`
	MinConfidence      float64           `mapstructure:"min_confidence"`
	ErrorRecordTimeout time.Duration     `mapstructure:"error_record_timeout"`
	PhoneRegion        string            `mapstructure:"phone_region"`
}

func (c Config) withDefaults() Config {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = locale.EnglishUS
	}
	if len(c.Languages) == 0 {
		c.Languages = map[string]string{"1": locale.EnglishUS, "2": locale.UrduPK}
	}
	if c.LongUtteranceWords <= 0 {
		c.LongUtteranceWords = 25
	}
	if c.MinConfidence < 0 {
		c.MinConfidence = 0
	}
	if c.ErrorRecordTimeout <= 0 {
		c.ErrorRecordTimeout = 2 * time.Second
	}
	if c.PhoneRegion == "" {
		c.PhoneRegion = phone.DefaultRegion
	}
	return c
}

type Deps struct {
	Store      Store
	Sessions   Sessions
	Pending    PendingQueue
	Resolver   Resolver
	Responder  Responder
	Escalation Escalator
	Sentiment  SentimentScorer
	Phrases    *locale.Book
	Logger     *slog.Logger
	Observer   metrics.Observer
}

type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  *slog.Logger
	obs  metrics.Observer
}

func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("callflow: store required")
	case deps.Sessions == nil:
		return nil, errors.New("callflow: session cache required")
	case deps.Resolver == nil:
		return nil, errors.New("callflow: intent resolver required")
	case deps.Responder == nil:
		return nil, errors.New("callflow: responder required")
	case deps.Escalation == nil:
		return nil, errors.New("callflow: escalation policy required")
	}
	cfg = cfg.withDefaults()
	if deps.Phrases == nil {
		deps.Phrases = locale.NewBook("", cfg.DefaultLanguage, nil)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	obs := deps.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Engine{deps: deps, cfg: cfg, now: time.Now, log: log, obs: obs}, nil
}

// Incoming registers the call on first contact and offers the language menu.
func (e *Engine) Incoming(ctx context.Context, callID, from string) Reply {
	return e.guard(ctx, callID, "incoming", func() (Reply, error) {
		_, created, err := e.deps.Store.CreateSession(ctx, callID, phone.NormalizeIn(from, e.cfg.PhoneRegion), e.cfg.DefaultLanguage)
		if err != nil {
			return Reply{}, err
		}
		e.log.Info("call_incoming", "call_id", callID, "created", created)
		lang := e.cfg.DefaultLanguage
		return Reply{Text: e.text(lang, locale.LanguageMenu), Language: lang, Next: NextDigits}, nil
	})
}

// SelectLanguage applies the menu choice and greets the caller, linking
// the caller's latest open order when there is one.
func (e *Engine) SelectLanguage(ctx context.Context, callID, digits string) Reply {
	return e.guard(ctx, callID, "language", func() (Reply, error) {
		lang, ok := e.cfg.Languages[strings.TrimSpace(digits)]
		if !ok {
			lang = e.cfg.DefaultLanguage
		}
		sess, err := e.deps.Sessions.Get(ctx, callID)
		if err != nil {
			return Reply{}, err
		}
		if err := e.deps.Store.SetLanguage(ctx, callID, lang); err != nil {
			return Reply{}, err
		}
		returning := sess.HasOrder()
		if !returning {
			returning = e.linkExistingOrder(ctx, sess)
		}
		e.deps.Sessions.Invalidate(ctx, callID)
		key := locale.Greeting
		if returning {
			key = locale.GreetingReturning
		}
		e.log.Info("language_selected", "call_id", callID, "language", lang, "returning", returning)
		return Reply{Text: e.text(lang, key), Language: lang, Next: NextListen}, nil
	})
}

func (e *Engine) linkExistingOrder(ctx context.Context, sess *store.Session) bool {
	o, err := e.deps.Store.LatestActiveOrder(ctx, sess.CustomerPhone)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.log.Warn("latest_order_failed", "call_id", sess.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		}
		return false
	}
	if _, err := e.deps.Store.LinkOrder(ctx, sess.ID, o.ID); err != nil {
		e.log.Warn("link_order_failed", "call_id", sess.CallID, "order_id", o.ID, "error", err)
		return false
	}
	return true
}

// Speech handles one recognized utterance. Long utterances are parked and
// acknowledged; the gateway follows up with Continue.
func (e *Engine) Speech(ctx context.Context, u Utterance) Reply {
	text := strings.TrimSpace(u.Text)
	if text == "" || (u.Confidence > 0 && u.Confidence < e.cfg.MinConfidence) {
		return e.SpeechFallback(ctx, u.CallID)
	}
	return e.guard(ctx, u.CallID, "speech", func() (Reply, error) {
		sess, err := e.deps.Sessions.Get(ctx, u.CallID)
		if err != nil {
			return Reply{}, err
		}
		lang := e.language(sess)
		if !sess.Active() {
			return Reply{Text: e.text(lang, locale.Goodbye), Language: lang, Next: NextHangup}, nil
		}
		if e.deps.Pending != nil && textnorm.WordCount(text) > e.cfg.LongUtteranceWords {
			err := e.deps.Pending.Put(ctx, u.CallID, cache.Pending{Utterance: text, Confidence: u.Confidence, ReceivedAt: e.now()})
			if err == nil {
				metrics.Emit(e.obs, metrics.EventTurnDeferred, 1, map[string]string{metrics.TagCallID: u.CallID, "language": lang})
				return Reply{Text: e.text(lang, locale.Acknowledge), Language: lang, Next: NextDefer}, nil
			}
			e.log.Warn("turn_defer_failed", "call_id", u.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		}
		return e.turn(ctx, sess, text)
	})
}

// Continue runs the full turn for an utterance parked by Speech. The
// parked entry is consumed exactly once.
func (e *Engine) Continue(ctx context.Context, callID string) Reply {
	return e.guard(ctx, callID, "continue", func() (Reply, error) {
		sess, err := e.deps.Sessions.Get(ctx, callID)
		if err != nil {
			return Reply{}, err
		}
		lang := e.language(sess)
		if !sess.Active() {
			return Reply{Text: e.text(lang, locale.Goodbye), Language: lang, Next: NextHangup}, nil
		}
		var p cache.Pending
		ok := false
		if e.deps.Pending != nil {
			p, ok, err = e.deps.Pending.Take(ctx, callID)
			if err != nil {
				e.log.Warn("pending_take_failed", "call_id", callID, "error", err, "reason_code", string(errorsx.Reason(err)))
			}
		}
		if !ok {
			return Reply{Text: e.text(lang, locale.Repeat), Language: lang, Next: NextListen}, nil
		}
		return e.turn(ctx, sess, p.Utterance)
	})
}

func (e *Engine) turn(ctx context.Context, sess *store.Session, text string) (Reply, error) {
	start := e.now()
	lang := e.language(sess)
	res := e.deps.Resolver.Resolve(ctx, text)

	if res.Intent == intent.EndCall {
		goodbye := e.text(lang, locale.Goodbye)
		e.appendPair(ctx, sess, text, res.Intent, goodbye, start)
		if _, err := e.deps.Store.FinalizeSession(ctx, sess.CallID, e.now()); err != nil {
			e.recordError(ctx, sess.CallID, err, map[string]any{"op": "finalize"})
		}
		e.deps.Sessions.Invalidate(ctx, sess.CallID)
		e.completed(sess.CallID, res, "goodbye", lang, start)
		return Reply{Text: goodbye, Language: lang, Next: NextHangup}, nil
	}

	var linked *store.Order
	if sess.HasOrder() {
		o, err := e.deps.Sessions.GetOrder(ctx, *sess.OrderID)
		if err != nil {
			e.log.Warn("order_load_failed", "call_id", sess.CallID, "order_id", *sess.OrderID, "error", err)
		} else {
			linked = o
		}
	}

	out := e.deps.Responder.Respond(ctx, respond.Request{
		CallID:    sess.CallID,
		Utterance: text,
		Intent:    res.Intent,
		Language:  lang,
		Session:   sess,
		Order:     linked,
	})
	if out.Err != nil {
		e.recordError(ctx, sess.CallID, out.Err, map[string]any{"op": "respond", "intent": res.Intent})
	}
	e.appendPair(ctx, sess, text, res.Intent, out.Text, start)
	e.deps.Sessions.Invalidate(ctx, sess.CallID)
	e.completed(sess.CallID, res, out.Source, lang, start)

	next := NextListen
	if out.Transfer {
		next = NextTransfer
	}
	return Reply{Text: out.Text, Language: lang, Next: next}, nil
}

// appendPair persists both sides of a turn in one write. A failed write
// loses history but not the reply.
func (e *Engine) appendPair(ctx context.Context, sess *store.Session, said, label, reply string, start time.Time) {
	latency := int(e.now().Sub(start).Milliseconds())
	_, err := e.deps.Store.AppendTurns(ctx, sess.ID,
		store.Turn{Speaker: store.SpeakerCustomer, Content: said, Intent: &label},
		store.Turn{Speaker: store.SpeakerAssistant, Content: reply, LatencyMS: &latency},
	)
	if err != nil {
		e.recordError(ctx, sess.CallID, err, map[string]any{"op": "append_turns"})
	}
}

func (e *Engine) completed(callID string, res intent.Result, source, lang string, start time.Time) {
	ms := e.now().Sub(start).Milliseconds()
	metrics.Emit(e.obs, metrics.EventTurnCompleted, float64(ms), map[string]string{
		metrics.TagCallID: callID,
		"intent":          res.Intent,
		"intent_source":   res.Source,
		"reply_source":    source,
		"language":        lang,
	})
	e.log.Info("turn_completed", "call_id", callID, "intent", res.Intent, "intent_source", res.Source,
		"reply_source", source, "latency_ms", ms)
}

// NoInput records a silent gather timeout.
func (e *Engine) NoInput(ctx context.Context, callID string) Reply {
	return e.escalate(ctx, callID, escalation.NoInput, locale.NoInputGentle)
}

// SpeechFallback records an empty or unusable recognition result.
func (e *Engine) SpeechFallback(ctx context.Context, callID string) Reply {
	return e.escalate(ctx, callID, escalation.SpeechFallback, locale.FallbackRepeat)
}

func (e *Engine) escalate(ctx context.Context, callID string, kind escalation.Kind, unknown locale.Key) Reply {
	return e.guard(ctx, callID, string(kind), func() (Reply, error) {
		sess, err := e.deps.Sessions.Get(ctx, callID)
		if errors.Is(err, store.ErrNotFound) {
			lang := e.cfg.DefaultLanguage
			return Reply{Text: e.text(lang, unknown), Language: lang, Next: NextListen}, nil
		}
		if err != nil {
			return Reply{}, err
		}
		lang := e.language(sess)
		d, err := e.deps.Escalation.Record(ctx, escalation.Event{Kind: kind, Session: sess, Language: lang})
		if err != nil {
			return Reply{Language: lang}, err
		}
		e.deps.Sessions.Invalidate(ctx, callID)
		next := NextListen
		switch d.Action {
		case escalation.ActionHangup:
			next = NextHangup
		case escalation.ActionTransfer:
			next = NextTransfer
		}
		return Reply{Text: d.Text, Language: lang, Next: next}, nil
	})
}

// GatewayError records a failure reported by the telephony gateway and
// hands the caller to staff.
func (e *Engine) GatewayError(ctx context.Context, callID, kind, message string) Reply {
	e.log.Warn("gateway_error", "call_id", callID, "kind", kind, "message", message)
	e.writeErrorRecord(ctx, store.ErrorRecord{CallID: callID, Kind: "gateway_" + kind, Message: message})
	lang := e.cfg.DefaultLanguage
	if sess, err := e.deps.Sessions.Get(ctx, callID); err == nil {
		lang = e.language(sess)
	}
	return Reply{Text: e.text(lang, locale.TechnicalIssue), Language: lang, Next: NextTransfer}
}

// CallStatus applies a gateway call-status notification. Only completed
// calls change state: the session is finalized with its duration and,
// when the caller said anything real, a sentiment score.
func (e *Engine) CallStatus(ctx context.Context, callID, status string, durationSeconds int) error {
	if status != "completed" {
		return nil
	}
	sess, err := e.deps.Sessions.Get(ctx, callID)
	if err != nil {
		return err
	}
	c := store.Completion{EndedAt: e.now()}
	if durationSeconds >= 0 {
		d := durationSeconds
		c.DurationSeconds = &d
	}
	if conv := sess.Conversation(); len(conv) > 1 && e.deps.Sentiment != nil {
		score, err := e.deps.Sentiment.Sentiment(ctx, toMessages(conv))
		if err != nil {
			e.log.Warn("sentiment_failed", "call_id", callID, "error", err, "reason_code", string(errorsx.Reason(err)))
		} else {
			c.SentimentScore = &score
		}
	}
	if err := e.deps.Store.CompleteSession(ctx, callID, c); err != nil {
		return err
	}
	e.deps.Sessions.Invalidate(ctx, callID)
	tags := map[string]string{metrics.TagCallID: callID, "turns": strconv.Itoa(len(sess.Conversation()))}
	if c.SentimentScore != nil {
		tags["sentiment"] = fmt.Sprintf("%.2f", *c.SentimentScore)
	}
	metrics.Emit(e.obs, metrics.EventCallCompleted, float64(durationSeconds), tags)
	e.log.Info("call_completed", "call_id", callID, "duration_s", durationSeconds, "has_sentiment", c.SentimentScore != nil)
	return nil
}

func toMessages(turns []store.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Speaker == store.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return out
}

// guard turns errors and panics into fixed replies. A missing session
// asks the caller to try again; anything else is recorded and transferred.
func (e *Engine) guard(ctx context.Context, callID, op string, fn func() (Reply, error)) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			err := errorsx.Wrap(fmt.Errorf("panic in %s: %v", op, r), errorsx.ReasonTurnPanic)
			e.log.Error("turn_panic", "call_id", callID, "op", op, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			e.recordError(ctx, callID, err, map[string]any{"op": op})
			reply = e.fault(callID, op, e.cfg.DefaultLanguage, err)
		}
	}()
	reply, err := fn()
	if err == nil {
		return reply
	}
	lang := reply.Language
	if lang == "" {
		lang = e.cfg.DefaultLanguage
	}
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warn("session_not_found", "call_id", callID, "op", op, "reason_code", string(errorsx.ReasonSessionNotFound))
		return Reply{Text: e.text(lang, locale.Trouble), Language: lang, Next: NextHangup}
	}
	e.recordError(ctx, callID, err, map[string]any{"op": op})
	return e.fault(callID, op, lang, err)
}

func (e *Engine) fault(callID, op, lang string, err error) Reply {
	metrics.Emit(e.obs, metrics.EventTurnFailed, 1, map[string]string{
		metrics.TagCallID: callID,
		"op":              op,
		"reason":          string(errorsx.Reason(err)),
	})
	e.log.Error("turn_failed", "call_id", callID, "op", op, "error", err, "reason_code", string(errorsx.Reason(err)))
	return Reply{Text: e.text(lang, locale.TechnicalIssue), Language: lang, Next: NextTransfer}
}

func (e *Engine) recordError(ctx context.Context, callID string, err error, details map[string]any) {
	rec := store.ErrorRecord{CallID: callID, Kind: string(errorsx.Reason(err)), Message: redact.Text(err.Error())}
	if len(details) > 0 {
		if b, mErr := json.Marshal(details); mErr == nil {
			rec.Context = b
		}
	}
	e.writeErrorRecord(ctx, rec)
}

// writeErrorRecord is best effort and survives a cancelled request.
func (e *Engine) writeErrorRecord(ctx context.Context, rec store.ErrorRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ErrorRecordTimeout)
	defer cancel()
	if err := e.deps.Store.RecordError(ctx, rec); err != nil {
		e.log.Warn("error_record_failed", "call_id", rec.CallID, "error", err)
	}
}

func (e *Engine) language(sess *store.Session) string {
	if sess == nil || sess.Language == "" {
		return e.cfg.DefaultLanguage
	}
	return sess.Language
}

func (e *Engine) text(lang string, key locale.Key) string {
	return e.deps.Phrases.Text(lang, key)
}
