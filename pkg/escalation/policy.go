// Package escalation counts non-speech events per call and decides when
// to prompt again, hang up or hand the caller to staff.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/locale"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/store"
)

type Kind string

const (
	NoInput        Kind = "no_input"
	SpeechFallback Kind = "speech_fallback"
)

type Action string

const (
	ActionPrompt   Action = "prompt"
	ActionHangup   Action = "hangup"
	ActionTransfer Action = "transfer"
)

// Store is the slice of durable storage the policy writes to.
type Store interface {
	AppendTurns(ctx context.Context, sessionID string, turns ...store.Turn) ([]store.Turn, error)
	CountTurns(ctx context.Context, sessionID, content string) (int, error)
	FinalizeSession(ctx context.Context, callID string, at time.Time) (bool, error)
}

type Config struct {
	NoInputThreshold        int `mapstructure:"no_input_threshold"`
	SpeechFallbackThreshold int `mapstructure:"speech_fallback_threshold"`
}

func (c Config) withDefaults() Config {
	if c.NoInputThreshold <= 0 {
		c.NoInputThreshold = 3
	}
	if c.SpeechFallbackThreshold <= 0 {
		c.SpeechFallbackThreshold = 2
	}
	return c
}

type Event struct {
	Kind     Kind
	Session  *store.Session
	Language string
}

type Decision struct {
	Action Action
	Text   string
	// Count is the number of events of this kind so far, this one included.
	Count int
	// Finalized is true only for the event that ended the session.
	Finalized bool
}

type Policy struct {
	store   Store
	phrases *locale.Book
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	obs     metrics.Observer
}

func NewPolicy(st Store, phrases *locale.Book, cfg Config, log *slog.Logger, obs metrics.Observer) *Policy {
	if phrases == nil {
		phrases = locale.NewBook("", locale.EnglishUS, nil)
	}
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Policy{store: st, phrases: phrases, cfg: cfg.withDefaults(), now: time.Now, log: log, obs: obs}
}

// Record appends the event marker, recounts from storage and decides.
// Counting from storage keeps concurrent webhook deliveries consistent.
func (p *Policy) Record(ctx context.Context, ev Event) (Decision, error) {
	sess := ev.Session
	if sess == nil {
		return Decision{}, errorsx.Wrap(errors.New("escalation without session"), errorsx.ReasonSessionNotFound)
	}
	if !sess.Active() {
		return Decision{Action: ActionHangup, Text: p.phrases.Text(ev.Language, locale.NoInputGoodbye)}, nil
	}
	sentinel, threshold, err := p.track(ev.Kind)
	if err != nil {
		return Decision{}, err
	}
	if _, err := p.store.AppendTurns(ctx, sess.ID, store.Turn{Speaker: store.SpeakerCustomer, Content: sentinel}); err != nil {
		return Decision{}, err
	}
	count, err := p.store.CountTurns(ctx, sess.ID, sentinel)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Count: count}
	switch {
	case ev.Kind == NoInput && count >= threshold:
		finalized, err := p.store.FinalizeSession(ctx, sess.CallID, p.now())
		if err != nil {
			return Decision{}, err
		}
		d.Action = ActionHangup
		d.Text = p.phrases.Text(ev.Language, locale.NoInputGoodbye)
		d.Finalized = finalized
	case ev.Kind == NoInput && count == 1:
		d.Action = ActionPrompt
		d.Text = p.phrases.Text(ev.Language, locale.NoInputGentle)
	case ev.Kind == NoInput:
		d.Action = ActionPrompt
		d.Text = p.phrases.Text(ev.Language, locale.NoInputDirect)
	case count >= threshold:
		d.Action = ActionTransfer
		d.Text = p.phrases.Text(ev.Language, locale.FallbackTransfer)
	default:
		d.Action = ActionPrompt
		d.Text = p.phrases.Text(ev.Language, locale.FallbackRepeat)
	}

	metrics.Emit(p.obs, metrics.EventEscalation, float64(count), map[string]string{
		metrics.TagCallID: sess.CallID,
		"kind":            string(ev.Kind),
		"action":          string(d.Action),
		"count":           strconv.Itoa(count),
	})
	p.log.Info("escalation_recorded", "call_id", sess.CallID, "kind", string(ev.Kind),
		"count", count, "action", string(d.Action), "finalized", d.Finalized)
	return d, nil
}

func (p *Policy) track(kind Kind) (string, int, error) {
	switch kind {
	case NoInput:
		return store.SentinelNoInput, p.cfg.NoInputThreshold, nil
	case SpeechFallback:
		return store.SentinelSpeechFallback, p.cfg.SpeechFallbackThreshold, nil
	default:
		return "", 0, fmt.Errorf("unknown escalation kind %q", kind)
	}
}
