// Package respond chooses the spoken reply for one customer turn.
package respond

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/harunnryd/dineline/pkg/errorsx"
	"github.com/harunnryd/dineline/pkg/intent"
	"github.com/harunnryd/dineline/pkg/knowledge"
	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/locale"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/order"
	"github.com/harunnryd/dineline/pkg/redact"
	"github.com/harunnryd/dineline/pkg/store"
	"github.com/harunnryd/dineline/pkg/textnorm"
	"golang.org/x/sync/errgroup"
)

const (
	SourceCanned    = "canned"
	SourceStatus    = "status"
	SourceGuided    = "guided"
	SourceCache     = "cache"
	SourceLLM       = "llm"
	SourceAugmented = "augmented"
	SourceFallback  = "fallback"
)

// Model is the subset of the language model used for replies.
type Model interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
	Rewrite(ctx context.Context, draft string, facts []string) (string, error)
}

type Materializer interface {
	Materialize(ctx context.Context, in order.Input) order.Outcome
}

// ReplyCache shares replies across calls, keyed by language and
// normalized utterance.
type ReplyCache interface {
	Get(ctx context.Context, language, utterance string) (string, bool)
	Put(ctx context.Context, language, utterance, reply string)
}

type Request struct {
	CallID    string
	Utterance string
	Intent    string
	Language  string
	Session   *store.Session
	// Order is the linked order when the session has one and it loaded.
	Order *store.Order
}

type Reply struct {
	Text     string
	Source   string
	Transfer bool
	// OrderID is set when this turn linked an order to the session.
	OrderID      uint
	OrderCreated bool
	// Err carries a persistence failure the caller should record.
	Err error
}

type Deps struct {
	Model        Model
	Knowledge    knowledge.Source
	Materializer Materializer
	Cache        ReplyCache
	Phrases      *locale.Book
	// MenuItems are the item names that trigger knowledge lookups.
	MenuItems []string
	Logger    *slog.Logger
	Observer  metrics.Observer
}

type Pipeline struct {
	model     Model
	knowledge knowledge.Source
	orders    Materializer
	cache     ReplyCache
	phrases   *locale.Book
	items     []string
	canned    *cannedTable
	cfg       Config
	log       *slog.Logger
	obs       metrics.Observer
}

func NewPipeline(deps Deps, cfg Config) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	canned, err := newCannedTable(cfg.Canned, cfg.CannedMemoSize)
	if err != nil {
		return nil, err
	}
	if deps.Phrases == nil {
		deps.Phrases = locale.NewBook(cfg.Restaurant.Name, locale.EnglishUS, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	return &Pipeline{
		model:     deps.Model,
		knowledge: deps.Knowledge,
		orders:    deps.Materializer,
		cache:     deps.Cache,
		phrases:   deps.Phrases,
		items:     deps.MenuItems,
		canned:    canned,
		cfg:       cfg,
		log:       deps.Logger,
		obs:       deps.Observer,
	}, nil
}

// Respond never fails: every degraded path yields a fixed phrase.
func (p *Pipeline) Respond(ctx context.Context, req Request) Reply {
	reply := p.respond(ctx, req)
	metrics.Emit(p.obs, metrics.EventReplySource, 1, map[string]string{
		"source":   reply.Source,
		"intent":   req.Intent,
		"language": req.Language,
	})
	return reply
}

func (p *Pipeline) respond(ctx context.Context, req Request) Reply {
	norm := textnorm.Normalize(req.Utterance)

	if answer, ok := p.canned.match(norm); ok {
		return Reply{Text: answer, Source: SourceCanned}
	}
	if req.Intent == intent.CheckStatus {
		return Reply{Text: p.statusText(req), Source: SourceStatus}
	}
	if key, ok := p.guided(req); ok {
		return Reply{Text: p.phrases.Text(req.Language, key), Source: SourceGuided}
	}

	cacheable := p.cacheable(req, norm)
	if cacheable && p.cache != nil {
		if text, ok := p.cache.Get(ctx, req.Language, norm); ok {
			return Reply{Text: text, Source: SourceCache}
		}
	}

	draft, err := p.model.Generate(ctx, p.messages(req))
	if err != nil {
		p.log.Warn("reply_generate_failed", "call_id", req.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		return p.apology(req)
	}
	reply := Reply{Text: draft, Source: SourceLLM}

	if p.orders != nil && req.Intent == intent.NewOrder && !req.Session.HasOrder() {
		out := p.orders.Materialize(ctx, order.Input{
			CallID:    req.CallID,
			Session:   req.Session,
			Utterance: req.Utterance,
			Intent:    req.Intent,
		})
		switch {
		case out.Err != nil:
			fallback := p.apology(req)
			fallback.Err = out.Err
			return fallback
		case out.Failed():
			p.log.Warn("order_extraction_failed", "call_id", req.CallID,
				"parsing_error", out.Details.ParsingError, "error", out.Details.Error)
			return p.apology(req)
		case out.OrderID != 0:
			reply.OrderID = out.OrderID
			reply.OrderCreated = out.Created
		}
	}

	if text, ok := p.augment(ctx, req, draft); ok {
		reply.Text = text
		reply.Source = SourceAugmented
	}

	if cacheable && p.cache != nil && reply.OrderID == 0 && !redact.ContainsPII(reply.Text) {
		p.cache.Put(ctx, req.Language, norm, reply.Text)
	}
	return reply
}

func (p *Pipeline) apology(req Request) Reply {
	return Reply{Text: p.phrases.Text(req.Language, locale.Apology), Source: SourceFallback, Transfer: true}
}

func (p *Pipeline) statusText(req Request) string {
	o := req.Order
	if o == nil {
		if req.Session.HasOrder() {
			return p.phrases.Text(req.Language, locale.OrderNotFound)
		}
		return p.phrases.Text(req.Language, locale.NoActiveOrders)
	}
	total := knowledge.Money(o.Total)
	switch o.Status {
	case store.OrderConfirmed:
		eta := ""
		if items, _ := o.ItemList(); len(items) > 0 {
			key := locale.EtaPickup
			if o.IsDelivery {
				key = locale.EtaDelivery
			}
			eta = p.phrases.Text(req.Language, key)
		}
		return p.phrases.Render(req.Language, locale.StatusConfirmed, map[string]string{"eta": eta, "total": total})
	case store.OrderModified:
		return p.phrases.Render(req.Language, locale.StatusModified, map[string]string{"total": total})
	case store.OrderCancelled:
		return p.phrases.Text(req.Language, locale.StatusCancelled)
	case store.OrderCompleted:
		return p.phrases.Text(req.Language, locale.StatusCompleted)
	default:
		return p.phrases.Render(req.Language, locale.StatusOther, map[string]string{"status": o.Status})
	}
}

// guided asks for the piece of an order or reservation still missing.
// Earlier customer turns count toward what was already said.
func (p *Pipeline) guided(req Request) (locale.Key, bool) {
	if req.Intent != intent.NewOrder && req.Intent != intent.Reservation {
		return "", false
	}
	said := p.customerText(req)
	switch req.Intent {
	case intent.NewOrder:
		if !p.mentionsItem(said) {
			return locale.AskItems, true
		}
		if _, ok := textnorm.MatchAny(said, p.cfg.FulfillmentTerms); !ok {
			return locale.AskDeliveryPickup, true
		}
	case intent.Reservation:
		if !hasDigit(said) {
			if _, ok := textnorm.MatchAny(said, p.cfg.BookingTerms); !ok {
				return locale.AskReservation, true
			}
		}
	}
	return "", false
}

func (p *Pipeline) customerText(req Request) string {
	var b strings.Builder
	for _, t := range req.Session.Conversation() {
		if t.Speaker == store.SpeakerCustomer {
			b.WriteString(t.Content)
			b.WriteByte('\n')
		}
	}
	b.WriteString(req.Utterance)
	return b.String()
}

func (p *Pipeline) mentionsItem(text string) bool {
	if _, ok := textnorm.MatchAny(text, p.cfg.ItemTerms); ok {
		return true
	}
	_, ok := textnorm.MatchAny(text, p.items)
	return ok
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func (p *Pipeline) cacheable(req Request, norm string) bool {
	if req.Intent != intent.GeneralInquiry && req.Intent != intent.Unclear {
		return false
	}
	if req.Session.HasOrder() || req.Order != nil {
		return false
	}
	return textnorm.WordCount(norm) < p.cfg.CacheMaxWords && !redact.ContainsPII(req.Utterance)
}

func (p *Pipeline) messages(req Request) []llm.Message {
	system := p.cfg.SystemPrompt
	if hint := p.phrases.Text(req.Language, locale.ReplyLanguageHint); hint != "" {
		system += "\n" + hint
	}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	turns := req.Session.Conversation()
	if limit := 2 * p.cfg.HistoryExchanges; len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	for _, t := range turns {
		role := llm.RoleUser
		if t.Speaker == store.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	if summary := orderSummary(req.Order); summary != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: "Current order: " + summary})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Utterance})
}

func orderSummary(o *store.Order) string {
	if o == nil {
		return ""
	}
	items, _ := o.ItemList()
	summary := struct {
		Status          string            `json:"status"`
		Total           string            `json:"total"`
		Items           []store.OrderItem `json:"items"`
		IsDelivery      bool              `json:"is_delivery"`
		ReservationTime string            `json:"reservation_time,omitempty"`
		PartySize       *int              `json:"party_size,omitempty"`
	}{
		Status:     o.Status,
		Total:      knowledge.Money(o.Total),
		Items:      items,
		IsDelivery: o.IsDelivery,
		PartySize:  o.PartySize,
	}
	if o.ReservationTime != nil {
		summary.ReservationTime = o.ReservationTime.Format("2006-01-02 15:04")
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(b)
}

// augment folds knowledge facts into the draft with one rewrite. Any
// failure keeps the draft.
func (p *Pipeline) augment(ctx context.Context, req Request, draft string) (string, bool) {
	if p.knowledge == nil {
		return "", false
	}
	topics := p.topics(req.Utterance + "\n" + draft)
	if len(topics) == 0 {
		return "", false
	}
	facts := make([]string, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			fact, ok, err := p.knowledge.Lookup(gctx, topic)
			if err != nil {
				return errorsx.Wrap(err, errorsx.ReasonKnowledgeLookup)
			}
			if ok {
				facts[i] = fact
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.log.Warn("knowledge_lookup_failed", "call_id", req.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		return "", false
	}
	facts = dedupe(facts, p.cfg.MaxFacts)
	if len(facts) == 0 {
		return "", false
	}
	text, err := p.model.Rewrite(ctx, draft, facts)
	if err != nil {
		p.log.Warn("reply_rewrite_failed", "call_id", req.CallID, "error", err, "reason_code", string(errorsx.Reason(err)))
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// topics lists the lookups triggered by text: item names first, then
// policy words, then specials.
func (p *Pipeline) topics(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(topic string) {
		k := textnorm.Normalize(topic)
		if !seen[k] {
			seen[k] = true
			out = append(out, topic)
		}
	}
	for _, name := range p.items {
		if textnorm.ContainsTerm(text, name) {
			add(name)
		}
	}
	for _, term := range p.cfg.PolicyTerms {
		if textnorm.ContainsTerm(text, term) {
			add(term)
		}
	}
	if _, ok := textnorm.MatchAny(text, p.cfg.SpecialsTerms); ok {
		add("specials")
	}
	return out
}

func dedupe(facts []string, limit int) []string {
	seen := map[string]bool{}
	out := facts[:0]
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == limit {
			break
		}
	}
	return out
}
