// Package main is the entry point for the dispatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/oncall-dispatch/internal/classify"
	"github.com/capitalize-ai/oncall-dispatch/internal/config"
	"github.com/capitalize-ai/oncall-dispatch/internal/dispatch"
	"github.com/capitalize-ai/oncall-dispatch/internal/executor"
	"github.com/capitalize-ai/oncall-dispatch/internal/handler"
	"github.com/capitalize-ai/oncall-dispatch/internal/knowledge"
	"github.com/capitalize-ai/oncall-dispatch/internal/llm"
	"github.com/capitalize-ai/oncall-dispatch/internal/middleware"
	natsclient "github.com/capitalize-ai/oncall-dispatch/internal/nats"
	"github.com/capitalize-ai/oncall-dispatch/internal/notify"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
	"github.com/capitalize-ai/oncall-dispatch/internal/render"
	"github.com/capitalize-ai/oncall-dispatch/internal/session"
	"github.com/capitalize-ai/oncall-dispatch/internal/slack"
	"github.com/capitalize-ai/oncall-dispatch/internal/ticket"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
	"github.com/capitalize-ai/oncall-dispatch/pkg/tracing"
)

const serviceName = "oncall-dispatch"

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting dispatch server")

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Workflows
	reg := registry.New()
	engine := render.New(cfg.Placeholder)
	loader := registry.NewFileLoader(cfg.WorkflowFile, reg, engine)
	snap, err := loader.Load()
	if err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			for _, issue := range verr.Issues {
				log.Error("invalid workflow definition", zap.String("issue", issue))
			}
		}
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	log.Info("workflows loaded",
		zap.String("file", cfg.WorkflowFile),
		zap.Int("workflows", snap.Len()),
		zap.Int("enabled", len(snap.Active())),
	)

	// Knowledge base
	corpus, err := knowledge.LoadCorpus(cfg.KnowledgeDir)
	if err != nil {
		log.Warn("knowledge base unavailable, searches will return no results", zap.Error(err))
		corpus = knowledge.NewCorpus()
	}
	searcher, err := newSearcher(ctx, cfg, corpus)
	if err != nil {
		return err
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	// Sessions
	var store session.Store
	switch cfg.StoreKind {
	case "sqlite":
		sqlStore, err := session.OpenSQLStore(ctx, cfg.SQLitePath, cfg.SessionTTL)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		store = sqlStore
	default:
		store = session.NewMemoryStore(cfg.SessionTTL)
	}

	// Escalation and ticketing
	slackClient := slack.NewClient(cfg.SlackBotToken)
	sinks := []executor.Notifier{notify.NewLogNotifier(log)}
	if cfg.SlackBotToken != "" {
		sinks = append(sinks, notify.NewSlackNotifier(slackClient))
	}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, serviceName)
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		sinks = append(sinks, amqpNotifier)
	}

	var ticketer executor.Ticketer = ticket.NewMemoryTicketer()
	if cfg.GitHubToken != "" {
		gh, err := ticket.NewGitHubTicketer(ticket.NewGitHubClient(ctx, cfg.GitHubToken), cfg.GitHubRepo)
		if err != nil {
			return err
		}
		ticketer = gh
	}

	exec := executor.New(executor.Dependencies{
		Notifier:   notify.NewMultiNotifier(sinks...),
		Ticketer:   ticketer,
		Searcher:   searcher,
		DocFetcher: corpus,
		Renderer:   engine,
	}, executor.Config{
		DefaultTimeout:   cfg.CollaboratorTimeout,
		FallbackChannels: cfg.FallbackChannels,
	}, log)

	// Audit stream
	var (
		natsClient    *natsclient.Client
		streamManager *natsclient.StreamManager
	)
	opts := dispatch.Options{
		Registry:      reg,
		Store:         store,
		Executor:      exec,
		Classifier:    classifier,
		Logger:        log,
		HistoryWindow: cfg.HistoryWindow,
	}
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     serviceName,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streamManager = natsclient.NewStreamManager(natsClient, cfg.EventMaxAge)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return err
		}
		opts.Events = streamManager
	}
	orch := dispatch.New(opts)

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient, reg)
	messageHandler := handler.NewMessageHandler(orch)
	workflowHandler := handler.NewWorkflowHandler(reg, loader)
	var sessionHandler *handler.SessionHandler
	if streamManager != nil {
		sessionHandler = handler.NewSessionHandler(store, streamManager)
	} else {
		sessionHandler = handler.NewSessionHandler(store, nil)
	}
	slackHandler := handler.NewSlackHandler(slack.NewVerifier(cfg.SlackSigningSecret), orch, slackClient, log, cfg.ServerWriteTimeout)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.SlackSigningSecret != "" {
		r.With(middleware.RateLimit(cfg.RateLimitRequests*10, cfg.RateLimitWindow)).
			Post("/slack/events", slackHandler.Events)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/messages", messageHandler.Process)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Get("/archive", sessionHandler.Archive)
			r.Get("/events", sessionHandler.Events)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", workflowHandler.List)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeAdmin))
				r.Post("/reload", workflowHandler.Reload)
				r.Post("/{name}/disable", workflowHandler.Disable)
				r.Post("/{name}/enable", workflowHandler.Enable)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepSessions(gctx, orch, cfg.SweepInterval, log)
		return nil
	})

	if streamManager != nil {
		g.Go(func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := streamManager.RecordStreamInfo(gctx); err != nil {
						log.Warn("failed to read stream info", zap.Error(err))
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
		slackHandler.Wait()
		return nil
	})

	return g.Wait()
}

// sweeper expires idle sessions without racing in-flight dispatches.
type sweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// sweepSessions expires idle sessions every interval until ctx is done.
func sweepSessions(ctx context.Context, sw sweeper, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := sw.ExpireStale(ctx, now)
			if err != nil {
				log.Warn("session sweep failed", zap.Error(err))
				continue
			}
			metrics.RecordExpired(n)
			if n > 0 {
				log.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

func newSearcher(ctx context.Context, cfg *config.Config, corpus *knowledge.Corpus) (executor.Searcher, error) {
	if cfg.SearchBackend != "semantic" {
		return knowledge.NewKeywordIndex(corpus), nil
	}
	embedder, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	idx, err := knowledge.NewSemanticIndex(ctx, corpus, embedder.Embed, float32(cfg.MinSimilarity))
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func newClassifier(cfg *config.Config) (classify.Classifier, error) {
	if cfg.ClassifierBackend != "llm" {
		return classify.NewKeywordClassifier(), nil
	}
	key := cfg.AnthropicAPIKey
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), key)
	if err != nil {
		return nil, err
	}
	return classify.NewLLMClassifier(client, cfg.LLMModel, cfg.HistoryWindow), nil
}
