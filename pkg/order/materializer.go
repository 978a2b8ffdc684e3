// Package order turns a conversation into at most one persisted order per
// call session.
package order

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/intent"
	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/store"
	"golang.org/x/sync/singleflight"
)

// Extractor is the structured extraction call of the language model.
type Extractor interface {
	Extract(ctx context.Context, schema string, conversation []llm.Message) (string, error)
}

// Store creates and links an order in one transaction, returning the
// already linked order when another request won.
type Store interface {
	CreateOrderForSession(ctx context.Context, sessionID string, order *store.Order) (uint, bool, error)
}

// Invalidator drops cached session state after a link.
type Invalidator interface {
	Invalidate(ctx context.Context, callID string)
}

type Config struct {
	DeliveryFee int
	Location    *time.Location
}

type Input struct {
	CallID    string
	Session   *store.Session
	Utterance string
	Intent    string
}

type Outcome struct {
	Details Details
	OrderID uint
	// Created is true only for the request that inserted the order.
	Created bool
	// Skipped is true when preconditions did not hold.
	Skipped bool
	Err     error
}

// Failed reports whether extraction degraded to a skeleton.
func (o Outcome) Failed() bool { return o.Details.Failed() }

// Materializer is safe for concurrent use. Concurrent requests for one
// call share a single extraction.
type Materializer struct {
	extractor Extractor
	store     Store
	cache     Invalidator
	prices    Pricer
	cfg       Config
	group     singleflight.Group
	log       *slog.Logger
	obs       metrics.Observer
}

func NewMaterializer(extractor Extractor, st Store, cache Invalidator, prices Pricer, cfg Config, log *slog.Logger, obs metrics.Observer) *Materializer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Materializer{extractor: extractor, store: st, cache: cache, prices: prices, cfg: cfg, log: log, obs: obs}
}

func (m *Materializer) Materialize(ctx context.Context, in Input) Outcome {
	if in.Intent != intent.NewOrder || in.Session == nil {
		return Outcome{Skipped: true}
	}
	if in.Session.HasOrder() {
		return Outcome{Skipped: true, OrderID: *in.Session.OrderID}
	}
	leader := false
	v, _, _ := m.group.Do(in.CallID, func() (any, error) {
		leader = true
		return m.materialize(ctx, in), nil
	})
	out := v.(Outcome)
	if !leader {
		out.Created = false
	}
	return out
}

func (m *Materializer) materialize(ctx context.Context, in Input) Outcome {
	details := m.extract(ctx, in)
	if details.Failed() {
		return Outcome{Details: details}
	}
	resv := ParseReservationTime(details.ReservationTime, m.cfg.Location)
	if len(details.Items) == 0 && resv == nil {
		return Outcome{Details: details}
	}
	rec, err := m.record(in.Session, details, resv)
	if err != nil {
		return Outcome{Details: details, Err: err}
	}
	id, created, err := m.store.CreateOrderForSession(ctx, in.Session.ID, rec)
	if err != nil {
		m.log.Error("order_create_failed", "call_id", in.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		return Outcome{Details: details, Err: err}
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, in.CallID)
	}
	if created {
		metrics.Emit(m.obs, metrics.EventOrderCreated, float64(rec.Total), map[string]string{
			metrics.TagCallID: in.CallID,
			"delivery":        boolTag(rec.IsDelivery),
			"reservation":     boolTag(resv != nil),
		})
		m.log.Info("order_created", "call_id", in.CallID, "order_id", id, "items", len(details.Items),
			"total", rec.Total, "party_size", PartySizeString(details.PartySize))
	}
	return Outcome{Details: details, OrderID: id, Created: created}
}

func (m *Materializer) extract(ctx context.Context, in Input) Details {
	conversation := history(in.Session, in.Utterance)
	raw, err := m.extractor.Extract(ctx, Schema, conversation)
	if err != nil {
		m.log.Warn("order_extract_failed", "call_id", in.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		return Details{Error: err.Error()}
	}
	d, err := ParseDetails(raw)
	if err != nil {
		m.log.Warn("order_extract_unparseable", "call_id", in.CallID, "error", err, "reason_code", string(errorsx.ReasonOrderParse))
		return Details{ParsingError: true}
	}
	kept := d.Items[:0]
	for _, it := range d.Items {
		if it.label() != "" {
			kept = append(kept, it)
		}
	}
	d.Items = kept
	return d
}

func (m *Materializer) record(sess *store.Session, d Details, resv *time.Time) (*store.Order, error) {
	name := strings.TrimSpace(d.CustomerName)
	if name == "" {
		name = "Unknown"
	}
	items := make([]store.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, store.OrderItem{Name: it.label(), Quantity: it.quantity(), Instructions: it.notes()})
	}
	fee := 0
	if d.IsDelivery {
		fee = m.cfg.DeliveryFee
	}
	rec := &store.Order{
		CustomerName:    name,
		CustomerPhone:   sess.CustomerPhone,
		IsDelivery:      d.IsDelivery,
		DeliveryAddress: strings.TrimSpace(d.Address),
		DeliveryFee:     fee,
		ReservationTime: resv,
		PartySize:       d.PartySize,
		Status:          store.OrderConfirmed,
		Total:           Total(d.Items, m.prices, d.IsDelivery, m.cfg.DeliveryFee),
	}
	if err := rec.SetItems(items); err != nil {
		return nil, err
	}
	return rec, nil
}

// history is every real turn plus the current utterance.
func history(sess *store.Session, utterance string) []llm.Message {
	turns := sess.Conversation()
	out := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, llm.Message{Role: roleFor(t.Speaker), Content: t.Content})
	}
	if strings.TrimSpace(utterance) != "" {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: utterance})
	}
	return out
}

func roleFor(speaker string) string {
	if speaker == store.SpeakerAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
