// Package dineline assembles the call engine from configuration: storage,
// caches, the model client, the turn components and the Twilio surface.
package dineline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/dineline/pkg/cache"
	"github.com/harunnryd/dineline/pkg/callflow"
	"github.com/harunnryd/dineline/pkg/configutil"
	"github.com/harunnryd/dineline/pkg/escalation"
	"github.com/harunnryd/dineline/pkg/intent"
	"github.com/harunnryd/dineline/pkg/knowledge"
	"github.com/harunnryd/dineline/pkg/llm"
	"github.com/harunnryd/dineline/pkg/locale"
	"github.com/harunnryd/dineline/pkg/logging"
	"github.com/harunnryd/dineline/pkg/metrics"
	"github.com/harunnryd/dineline/pkg/observers"
	"github.com/harunnryd/dineline/pkg/order"
	"github.com/harunnryd/dineline/pkg/redact"
	"github.com/harunnryd/dineline/pkg/resilience"
	"github.com/harunnryd/dineline/pkg/respond"
	"github.com/harunnryd/dineline/pkg/runner"
	"github.com/harunnryd/dineline/pkg/store"
	"github.com/harunnryd/dineline/pkg/transports"
	twiliotransport "github.com/harunnryd/dineline/pkg/transports/twilio"
)

// Options overrides parts of the assembly. Zero values build everything
// from Config.
type Options struct {
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Observer receives engine events next to the configured sinks.
	Observer metrics.Observer
	// LLM replaces the provider-backed model client.
	LLM llm.Client
	// Store replaces the configured database. The app closes it on stop.
	Store *store.Store
}

type App struct {
	Config     Config
	Engine     *callflow.Engine
	Transport  *twiliotransport.Transport
	Dialer     *twiliotransport.Dialer
	Controller *twiliotransport.CallController
	Store      *store.Store
	Knowledge  *knowledge.Base

	log      *slog.Logger
	async    *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	usage    *observers.UsageObserver
	runner   *runner.LifecycleRunner
}

// Build wires every collaborator. On error nothing is left running.
func Build(cfg Config, opts Options) (_ *App, err error) {
	log := opts.Logger
	if log == nil {
		log = logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	log.Info("dineline_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"transport", cfg.Transports.Provider,
		"cache_backend", cfg.Cache.Backend,
	)

	app := &App{Config: cfg, log: log}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	obs := app.buildObservers(opts.Observer)

	st := opts.Store
	if st == nil {
		st, err = store.Open(cfg.Store)
		if err != nil {
			return nil, err
		}
	}
	app.Store = st

	backend, err := cache.NewBackend(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache backend: %w", err)
	}

	kb, err := loadKnowledge(cfg)
	if err != nil {
		return nil, err
	}
	app.Knowledge = kb
	restaurant := kb.Restaurant()

	client := opts.LLM
	if client == nil {
		client, err = buildLLMClient(cfg, opts.Providers, logging.NewComponentLogger(log, "llm"), obs)
		if err != nil {
			return nil, err
		}
	}

	book := locale.NewBook(restaurant.Name, cfg.Languages.Default, cfg.Languages.Phrases)
	sessions := cache.NewSessionCache(backend, st, cache.Options{
		TTL:      cfg.Cache.SessionTTL,
		Logger:   logging.NewComponentLogger(log, "session_cache"),
		Observer: obs,
	})
	resolver, err := intent.NewResolver(client, cfg.Intent, logging.NewComponentLogger(log, "intent"), obs)
	if err != nil {
		return nil, fmt.Errorf("intent resolver: %w", err)
	}
	materializer := order.NewMaterializer(client, st, sessions, kb, order.Config{
		DeliveryFee: restaurant.DeliveryFee,
		Location:    cfg.Location(),
	}, logging.NewComponentLogger(log, "order"), obs)

	pipeline, err := respond.NewPipeline(respond.Deps{
		Model:        client,
		Knowledge:    kb,
		Materializer: materializer,
		Cache: cache.NewReplyCache(backend, cache.Options{
			TTL:      cfg.Cache.ReplyTTL,
			Logger:   logging.NewComponentLogger(log, "reply_cache"),
			Observer: obs,
		}),
		Phrases:   book,
		MenuItems: kb.ItemNames(),
		Logger:    logging.NewComponentLogger(log, "respond"),
		Observer:  obs,
	}, pipelineConfig(cfg, restaurant))
	if err != nil {
		return nil, fmt.Errorf("response pipeline: %w", err)
	}

	policy := escalation.NewPolicy(st, book, cfg.Escalation, logging.NewComponentLogger(log, "escalation"), obs)

	engine, err := callflow.NewEngine(callflow.Deps{
		Store:    st,
		Sessions: sessions,
		Pending: cache.NewProcessingCache(backend, cache.Options{
			TTL:      cfg.Cache.ProcessingTTL,
			Logger:   logging.NewComponentLogger(log, "processing_cache"),
			Observer: obs,
		}),
		Resolver:   resolver,
		Responder:  pipeline,
		Escalation: policy,
		Sentiment:  client,
		Phrases:    book,
		Logger:     logging.NewComponentLogger(log, "callflow"),
		Observer:   obs,
	}, callflow.Config{
		DefaultLanguage:    cfg.Languages.Default,
		Languages:          cfg.Languages.Menu,
		LongUtteranceWords: cfg.Call.LongUtteranceWords,
		MinConfidence:      cfg.Call.MinConfidence,
		ErrorRecordTimeout: cfg.Call.ErrorRecordTimeout,
		PhoneRegion:        cfg.Call.PhoneRegion,
	})
	if err != nil {
		return nil, err
	}
	app.Engine = engine

	tcfg, err := transportConfig(cfg, restaurant)
	if err != nil {
		return nil, err
	}
	app.Transport = twiliotransport.New(tcfg, engine, logging.NewComponentLogger(log, "twilio"))
	app.Dialer = twiliotransport.NewDialer(tcfg)
	app.Controller = twiliotransport.NewCallController(tcfg)

	app.runner = runner.NewLifecycleRunner(runner.DrainerFunc(app.drain), runner.Hooks{
		OnStart: app.start,
		OnStop:  app.stop,
	}, cfg.Server.DrainTimeout)
	return app, nil
}

// Run serves webhooks until ctx ends, then drains.
func (a *App) Run(ctx context.Context) error {
	return a.runner.Run(ctx)
}

func (a *App) Stop() error {
	return a.runner.Stop()
}

func (a *App) start() error {
	if dir := strings.TrimSpace(a.Config.Observability.ArtifactsDir); dir != "" && a.Config.Observability.RetentionDays > 0 {
		maxAge := time.Duration(a.Config.Observability.RetentionDays) * 24 * time.Hour
		if n, err := observers.PurgeArtifacts(dir, maxAge); err != nil {
			a.log.Warn("artifact_purge_failed", "dir", dir, "error", err)
		} else if n > 0 {
			a.log.Info("artifacts_purged", "dir", dir, "removed", n)
		}
	}
	if err := a.Transport.Start(context.Background()); err != nil {
		return err
	}
	fields := []any{"addr", a.Transport.Addr()}
	var rr transports.ReadyReporter = a.Transport
	for k, v := range rr.ReadyFields() {
		fields = append(fields, k, v)
	}
	a.log.Info("engine_ready", fields...)
	return nil
}

func (a *App) drain(ctx context.Context) error {
	a.log.Info("draining")
	return a.Transport.Stop()
}

func (a *App) stop() {
	a.closeResources()
	a.log.Info("shutdown", "goroutines", runtime.NumGoroutine())
}

func (a *App) closeResources() {
	if a.async != nil && !a.async.Close(5*time.Second) {
		a.log.Warn("metrics_flush_timeout", "dropped", a.async.Dropped())
	}
	var errs error
	if a.timeline != nil {
		errs = errors.Join(errs, a.timeline.Close())
	}
	if a.usage != nil {
		errs = errors.Join(errs, a.usage.Close())
	}
	if a.Store != nil {
		errs = errors.Join(errs, a.Store.Close())
		a.Store = nil
	}
	if errs != nil {
		a.log.Warn("close_failed", "error", errs)
	}
}

func (a *App) buildObservers(extra metrics.Observer) metrics.Observer {
	oc := a.Config.Observability
	list := []metrics.Observer{
		observers.NewCallSummaryObserver(logging.NewComponentLogger(a.log, "calls")),
		observers.NewLoggerObserver(a.log, slog.LevelDebug),
		extra,
	}
	a.usage = observers.NewUsageObserver(oc.ArtifactsDir)
	list = append(list, a.usage)
	if dir := strings.TrimSpace(oc.ArtifactsDir); dir != "" {
		a.timeline = observers.NewTimelineObserver(dir)
		list = append(list, a.timeline)
	}
	if oc.MetricsLog {
		list = append(list, metrics.NewSamplingObserver(metrics.NewJSONLObserver(os.Stdout), oc.SampleRate, metrics.AlwaysKept...))
	}
	a.async = metrics.NewAsyncObserver(observers.NewMultiObserver(list...), oc.AsyncBuffer)
	return a.async
}

func loadKnowledge(cfg Config) (*knowledge.Base, error) {
	if path := strings.TrimSpace(cfg.Knowledge.Path); path != "" {
		return knowledge.Load(path, cfg.Restaurant.Restaurant)
	}
	return knowledge.Default(cfg.Restaurant.Restaurant)
}

func buildLLMClient(cfg Config, providers *ProviderRegistry, log *slog.Logger, obs metrics.Observer) (llm.Client, error) {
	if providers == nil {
		providers = DefaultProviders()
	}
	adapter, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		return nil, err
	}
	if cb, ok := adapter.(*llm.CircuitBreakerAdapter); ok {
		cb.SetObserver(obs)
	}
	return llm.NewService(adapter, llm.ServiceConfig{
		ReplyModel:          cfg.LLM.ReplyModel,
		ExtractionModel:     cfg.LLM.ExtractionModel,
		ClassifyMaxTokens:   cfg.LLM.ClassifyMaxTokens,
		ClassifyTemperature: cfg.LLM.ClassifyTemperature,
		ReplyMaxTokens:      cfg.LLM.ReplyMaxTokens,
		ReplyTemperature:    cfg.LLM.ReplyTemperature,
		RewriteMaxTokens:    cfg.LLM.RewriteMaxTokens,
		CallTimeout:         cfg.LLM.CallTimeout,
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		},
	}, log, obs), nil
}

func pipelineConfig(cfg Config, restaurant knowledge.Restaurant) respond.Config {
	p := cfg.Pipeline
	p.Restaurant = restaurant
	if p.CacheMaxWords <= 0 {
		p.CacheMaxWords = cfg.Cache.ReplyMaxWords
	}
	if len(cfg.Canned) > 0 {
		merged := make(map[string]string, len(p.Canned)+len(cfg.Canned))
		for k, v := range p.Canned {
			merged[k] = v
		}
		for k, v := range cfg.Canned {
			merged[k] = v
		}
		p.Canned = merged
	}
	return p
}

// TransportConfig resolves the telephony settings the way Build does, for
// tools that only need the REST side.
func TransportConfig(cfg Config) (twiliotransport.Config, error) {
	return transportConfig(cfg, cfg.Restaurant.Restaurant.WithDefaults())
}

func transportConfig(cfg Config, restaurant knowledge.Restaurant) (twiliotransport.Config, error) {
	if p := strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)); p != "twilio" {
		return twiliotransport.Config{}, fmt.Errorf("unsupported transport provider: %s", cfg.Transports.Provider)
	}
	var tcfg twiliotransport.Config
	if err := configutil.Decode("transports.settings", cfg.Transports.Settings, configutil.Schema{
		Optional: []string{
			"account_sid", "auth_token", "from_number", "staff_number", "public_url", "server_addr",
			"base_path", "gather_timeout", "speech_timeout", "speech_model", "voices",
		},
	}, &tcfg); err != nil {
		return twiliotransport.Config{}, err
	}
	if tcfg.ServerAddr == "" {
		tcfg.ServerAddr = cfg.Server.Addr
	}
	if tcfg.PublicURL == "" {
		tcfg.PublicURL = cfg.Server.PublicURL
	}
	if tcfg.StaffNumber == "" {
		tcfg.StaffNumber = restaurant.StaffNumber
	}
	if strings.EqualFold(cfg.Environment, "production") {
		if err := configutil.RequireString(tcfg.AuthToken, "transports.settings.auth_token"); err != nil {
			return twiliotransport.Config{}, err
		}
		if err := configutil.RequireString(tcfg.PublicURL, "server.public_url"); err != nil {
			return twiliotransport.Config{}, err
		}
	}
	return tcfg, nil
}
