// Command reverie is the main entry point for the Reverie companion server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reverie-chat/reverie/internal/attribution"
	"github.com/reverie-chat/reverie/internal/boundary"
	"github.com/reverie-chat/reverie/internal/config"
	"github.com/reverie-chat/reverie/internal/convcache"
	discordbot "github.com/reverie-chat/reverie/internal/discord"
	"github.com/reverie-chat/reverie/internal/emotion"
	"github.com/reverie-chat/reverie/internal/flow"
	"github.com/reverie-chat/reverie/internal/health"
	"github.com/reverie-chat/reverie/internal/observe"
	"github.com/reverie-chat/reverie/internal/persona"
	"github.com/reverie-chat/reverie/internal/pipeline"
	"github.com/reverie-chat/reverie/internal/prompt"
	"github.com/reverie-chat/reverie/internal/resilience"
	"github.com/reverie-chat/reverie/pkg/memory/influx"
	"github.com/reverie-chat/reverie/pkg/memory/postgres"
	"github.com/reverie-chat/reverie/pkg/provider/embeddings"
	ollamaembed "github.com/reverie-chat/reverie/pkg/provider/embeddings/ollama"
	oaembed "github.com/reverie-chat/reverie/pkg/provider/embeddings/openai"
	"github.com/reverie-chat/reverie/pkg/provider/llm"
	"github.com/reverie-chat/reverie/pkg/provider/llm/anyllm"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reverie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("reverie starting",
		"config", *configPath,
		"persona", cfg.Persona.Default,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "reverie",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Stores ────────────────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Embeddings.Dimensions)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	metricStore := influx.NewStore(influx.Config{
		URL:    cfg.TimeSeries.URL,
		Token:  cfg.TimeSeries.Token,
		Org:    cfg.TimeSeries.Org,
		Bucket: cfg.TimeSeries.Bucket,
	}, logger)
	defer metricStore.Close()

	// ── Providers ─────────────────────────────────────────────────────────────
	embedder, err := buildEmbedder(cfg.Embeddings)
	if err != nil {
		slog.Error("failed to build embedding provider", "err", err)
		return 1
	}
	model, err := buildLLM(cfg.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	guarded := resilience.NewFailover(model,
		resilience.WithFailoverLogger(logger),
		resilience.WithFailoverMetrics(metrics),
	)

	// ── Persona ───────────────────────────────────────────────────────────────
	personas, err := persona.NewStore(cfg.Persona.Dir)
	if err != nil {
		slog.Error("failed to load personas", "dir", cfg.Persona.Dir, "err", err)
		return 1
	}
	def, err := personas.Get(cfg.Persona.Default)
	if err != nil {
		slog.Error("default persona not found", "slug", cfg.Persona.Default, "err", err)
		return 1
	}

	// ── Pipeline assembly ─────────────────────────────────────────────────────
	collection := store.Collection(def.Slug)
	relational := store.Relational()
	cache := convcache.New(ctx, cfg.Cache, logger)
	attrib := attribution.NewManager(cfg.Prompt.IdentityLevel)

	boundaryMgr := boundary.NewManager(
		boundary.WithInactivityWindow(cfg.Session.Inactivity()),
		boundary.WithSummarizationThreshold(cfg.Session.SummarizationThreshold),
		boundary.WithSummarizer(guarded),
		boundary.WithLogger(logger),
	)
	flowAnalyzer := flow.NewAnalyzer(def.Slug,
		flow.WithMetrics(metricStore),
		flow.WithCollection(collection),
		flow.WithLogger(logger),
	)
	composer := prompt.NewComposer(attrib, guarded,
		prompt.WithTokenBudget(cfg.Prompt.MaxContextTokens),
		prompt.WithImmersiveMode(cfg.Prompt.Immersive()),
		prompt.WithLogger(logger),
	)
	persistor := pipeline.NewPersistor(
		def.Slug, def.Identity.Name,
		embedder, collection, relational, metricStore,
		metrics, logger,
	)

	orch := pipeline.New(pipeline.Deps{
		Persona:             def,
		Emotion:             emotion.NewAnalyzer(),
		Flow:                flowAnalyzer,
		Boundary:            boundaryMgr,
		Cache:               cache,
		Attrib:              attrib,
		Composer:            composer,
		Persistor:           persistor,
		Embedder:            embedder,
		LLM:                 guarded,
		Collection:          collection,
		Relational:          relational,
		PreserveAttribution: cfg.Prompt.IdentityLevel == config.IdentityIdentified,
		Metrics:             metrics,
		Log:                 logger,
	})

	// ── Discord transport (optional) ──────────────────────────────────────────
	var bot *discordbot.Bot
	if cfg.Discord.Token != "" {
		bot, err = discordbot.New(ctx, cfg.Discord, orch, cache, logger)
		if err != nil {
			slog.Error("failed to connect to Discord", "err", err)
			return 1
		}
		orch.SetBotIdentity(bot.BotUserID())
		discordbot.NewManagementCommands(discordbot.ManagementConfig{
			Bot:      bot,
			Personas: personas,
			Cache:    cache,
			Attrib:   attrib,
			Boundary: boundaryMgr,
			Log:      logger,
		})
		slog.Info("discord bot connected", "bot_user_id", bot.BotUserID())

		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("discord bot error", "err", err)
			}
		}()
	}

	// ── Metrics / health endpoint (optional) ──────────────────────────────────
	var httpSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		probes := health.NewHandler()
		probes.AddCheck("database", store.Ping)
		probes.AddCheck("personas", func(context.Context) error {
			if len(personas.Slugs()) == 0 {
				return errors.New("no personas loaded")
			}
			return nil
		})

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		probes.Register(mux)

		httpSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, def)

	slog.Info("server ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	// Close the Discord bot first (unregister commands, disconnect).
	if bot != nil {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildLLM constructs the reply model from config. All remote backends share
// the APIKey + BaseURL pattern; ollama is a local server addressed via
// BaseURL only.
func buildLLM(cfg config.LLMConfig) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	p, err := anyllm.New(cfg.Provider, cfg.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Provider, err)
	}
	return p, nil
}

// buildEmbedder constructs the view embedding provider from config.
func buildEmbedder(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "openai":
		var opts []oaembed.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.BaseURL))
		}
		return oaembed.New(cfg.APIKey, cfg.Model, opts...)
	case "ollama":
		var opts []ollamaembed.Option
		if cfg.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(cfg.Dimensions))
		}
		return ollamaembed.New(cfg.BaseURL, cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, def *persona.Definition) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Reverie — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Persona", def.Identity.Name)
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	printRow("Embeddings", cfg.Embeddings.Provider+" / "+cfg.Embeddings.Model)
	printRow("Cache", string(cfg.Cache.Mode))
	if cfg.TimeSeries.URL != "" {
		printRow("Time series", "influxdb")
	} else {
		printRow("Time series", "(disabled)")
	}
	if cfg.Discord.Token != "" {
		printRow("Discord", "connected")
	} else {
		printRow("Discord", "(disabled)")
	}
	if cfg.Server.MetricsAddr != "" {
		printRow("Metrics addr", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
